// Package cas implements content-addressed storage for workflow version
// snapshots. Each stored blob is keyed by the SHA-256 hash of its content,
// so storing the same workflow definition twice is a no-op.
//
// Adapted from the teacher's cas_blob table/repository, kept as an
// internal storage optimization only: the Tag/TagMove/patch-chain
// machinery built on top of it (named branches, patch-chain traversal,
// plan-hash snapshot caching) is dropped — workflows only need linear
// version history, not named refs or patch chains (see DESIGN.md).
package cas

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/lyzr/workflow-platform/common/db"
)

// MediaType values for the blob kinds the catalog stores.
const (
	MediaTypeWorkflowDefinition = "application/json;type=workflow_definition"
)

// Blob mirrors the teacher's CASBlob row, trimmed to the fields the
// catalog actually uses (no StorageURL indirection: every blob here is
// small JSON, always stored inline).
type Blob struct {
	CasID     string    `db:"cas_id"`
	MediaType string    `db:"media_type"`
	SizeBytes int64     `db:"size_bytes"`
	Content   []byte    `db:"content"`
	CreatedAt time.Time `db:"created_at"`
}

// Hash returns the content address for a payload: "sha256:<hex>".
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Store persists and retrieves content-addressed blobs in Postgres.
type Store struct {
	db *db.DB
}

// NewStore constructs a Store.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Put stores content under its hash, returning the cas_id. Storing
// identical content twice is idempotent (ON CONFLICT DO NOTHING).
func (s *Store) Put(ctx context.Context, mediaType string, content []byte) (string, error) {
	casID := Hash(content)
	query := `
		INSERT INTO cas_blob (cas_id, media_type, size_bytes, content, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (cas_id) DO NOTHING
	`
	if _, err := s.db.Exec(ctx, query, casID, mediaType, int64(len(content)), content); err != nil {
		return "", fmt.Errorf("cas put: %w", err)
	}
	return casID, nil
}

// Get retrieves a blob's content by cas_id.
func (s *Store) Get(ctx context.Context, casID string) ([]byte, error) {
	var content []byte
	err := s.db.QueryRow(ctx, `SELECT content FROM cas_blob WHERE cas_id = $1`, casID).Scan(&content)
	if err != nil {
		return nil, fmt.Errorf("cas get %s: %w", casID, err)
	}
	return content, nil
}

// Exists reports whether a cas_id is already stored.
func (s *Store) Exists(ctx context.Context, casID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM cas_blob WHERE cas_id = $1)`, casID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("cas exists %s: %w", casID, err)
	}
	return exists, nil
}
