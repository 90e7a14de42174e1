package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/workflow-platform/common/db"
	"github.com/lyzr/workflow-platform/internal/models"
)

// CredentialRepository handles database operations for stored OAuth/API
// credentials. It implements credential.Store so the refresh broker can
// be wired directly against it.
type CredentialRepository struct {
	db *db.DB
}

// NewCredentialRepository constructs a CredentialRepository.
func NewCredentialRepository(database *db.DB) *CredentialRepository {
	return &CredentialRepository{db: database}
}

// GetCredential retrieves a user's credential for a provider.
func (r *CredentialRepository) GetCredential(ctx context.Context, userID, provider string) (*models.Credential, error) {
	query := `
		SELECT id, user_id, provider, credential_type, encrypted_access_token,
		       encrypted_refresh_token, token_expires_at, scopes, is_valid,
		       created_at, updated_at
		FROM credential
		WHERE user_id = $1 AND provider = $2
	`
	var c models.Credential
	var scopes []byte
	err := r.db.QueryRow(ctx, query, userID, provider).Scan(
		&c.ID, &c.UserID, &c.Provider, &c.CredentialType, &c.EncryptedAccessToken,
		&c.EncryptedRefreshToken, &c.TokenExpiresAt, &scopes, &c.IsValid,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get credential %s/%s: %w", userID, provider, err)
	}
	if len(scopes) > 0 {
		if err := json.Unmarshal(scopes, &c.Scopes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal credential scopes: %w", err)
		}
	}
	return &c, nil
}

// UpsertCredential inserts or replaces a user's credential for a provider.
func (r *CredentialRepository) UpsertCredential(ctx context.Context, c *models.Credential) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	scopes, err := json.Marshal(c.Scopes)
	if err != nil {
		return fmt.Errorf("failed to marshal credential scopes: %w", err)
	}

	query := `
		INSERT INTO credential (
			id, user_id, provider, credential_type, encrypted_access_token,
			encrypted_refresh_token, token_expires_at, scopes, is_valid,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			credential_type = EXCLUDED.credential_type,
			encrypted_access_token = EXCLUDED.encrypted_access_token,
			encrypted_refresh_token = EXCLUDED.encrypted_refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			scopes = EXCLUDED.scopes,
			is_valid = EXCLUDED.is_valid,
			updated_at = EXCLUDED.updated_at
	`
	_, err = r.db.Exec(ctx, query,
		c.ID, c.UserID, c.Provider, c.CredentialType, c.EncryptedAccessToken,
		c.EncryptedRefreshToken, c.TokenExpiresAt, scopes, c.IsValid,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert credential %s/%s: %w", c.UserID, c.Provider, err)
	}
	return nil
}

// UpdateCredential persists changes to an existing credential (used by
// the refresh broker after a successful or failed token refresh).
func (r *CredentialRepository) UpdateCredential(ctx context.Context, c *models.Credential) error {
	scopes, err := json.Marshal(c.Scopes)
	if err != nil {
		return fmt.Errorf("failed to marshal credential scopes: %w", err)
	}
	query := `
		UPDATE credential
		SET encrypted_access_token = $3, encrypted_refresh_token = $4,
		    token_expires_at = $5, scopes = $6, is_valid = $7, updated_at = $8
		WHERE user_id = $1 AND provider = $2
	`
	ct, err := r.db.Exec(ctx, query,
		c.UserID, c.Provider, c.EncryptedAccessToken, c.EncryptedRefreshToken,
		c.TokenExpiresAt, scopes, c.IsValid, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update credential %s/%s: %w", c.UserID, c.Provider, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("credential %s/%s not found", c.UserID, c.Provider)
	}
	return nil
}

// ListByUser lists all of a user's stored credentials.
func (r *CredentialRepository) ListByUser(ctx context.Context, userID string) ([]*models.Credential, error) {
	query := `
		SELECT id, user_id, provider, credential_type, encrypted_access_token,
		       encrypted_refresh_token, token_expires_at, scopes, is_valid,
		       created_at, updated_at
		FROM credential
		WHERE user_id = $1
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []*models.Credential
	for rows.Next() {
		var c models.Credential
		var scopes []byte
		if err := rows.Scan(
			&c.ID, &c.UserID, &c.Provider, &c.CredentialType, &c.EncryptedAccessToken,
			&c.EncryptedRefreshToken, &c.TokenExpiresAt, &scopes, &c.IsValid,
			&c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		if len(scopes) > 0 {
			if err := json.Unmarshal(scopes, &c.Scopes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal credential scopes: %w", err)
			}
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
