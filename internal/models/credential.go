package models

import "time"

// CredentialType distinguishes how a Credential authenticates to a
// provider.
type CredentialType string

const (
	CredentialOAuth2  CredentialType = "oauth2"
	CredentialAPIKey  CredentialType = "api_key"
	CredentialBotToken CredentialType = "bot_token"
)

// Credential holds an encrypted access/refresh token pair for one
// (user, provider) pair. Plaintext is only ever materialized in-process;
// ciphertext fields are produced by internal/credential's authenticated
// encryption scheme.
type Credential struct {
	ID                    string         `json:"id"`
	UserID                string         `json:"user_id"`
	Provider              string         `json:"provider"`
	CredentialType        CredentialType `json:"credential_type"`
	EncryptedAccessToken  []byte         `json:"-"`
	EncryptedRefreshToken []byte         `json:"-"`
	TokenExpiresAt        time.Time      `json:"token_expires_at,omitempty"`
	Scopes                []string       `json:"scopes,omitempty"`
	IsValid               bool           `json:"is_valid"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// ExecutionLogEntry is one append-only row in the execution log store.
type ExecutionLogEntry struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	NodeID      string         `json:"node_id,omitempty"`
	Level       string         `json:"level"`
	EventType   string         `json:"event_type"`
	Message     string         `json:"message"`
	Data        map[string]any `json:"data,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	IsMilestone bool           `json:"is_milestone"`
	Priority    int            `json:"priority"`
}
