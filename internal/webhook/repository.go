// Package webhook is the inbound HTTP surface for external event
// sources. It authenticates senders via hashed API keys, normalizes
// their payloads into source events, and hands them to ingestion.
package webhook

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrAPIKeyNotFound = errors.New("api key not found")

// APIKey is one issued sender credential. Only the SHA-256 hash of the
// plaintext key is stored; the prefix exists so operators can tell
// keys apart in listings.
type APIKey struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Source    string    `json:"source"`
	KeyHash   string    `json:"-"`
	KeyPrefix string    `json:"keyPrefix"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

// GenerateAPIKey returns a new plaintext key with its hash and display
// prefix. The plaintext is shown to the caller exactly once.
func GenerateAPIKey() (plaintext, hash, prefix string, err error) {
	raw := make([]byte, 32)
	if _, err = rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("generate api key: %w", err)
	}
	plaintext = "whk_" + hex.EncodeToString(raw)
	hash = HashKey(plaintext)
	prefix = plaintext[:12]
	return plaintext, hash, prefix, nil
}

// HashKey returns the hex SHA-256 digest of a plaintext key.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, name, source, hash, prefix string) (APIKey, error) {
	key := APIKey{
		ID:        uuid.New(),
		Name:      name,
		Source:    source,
		KeyHash:   hash,
		KeyPrefix: prefix,
		IsActive:  true,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO webhook_api_keys (id, name, source, key_hash, key_prefix, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, true, now())
		RETURNING created_at
	`, key.ID, key.Name, key.Source, key.KeyHash, key.KeyPrefix).Scan(&key.CreatedAt)
	if err != nil {
		return APIKey{}, fmt.Errorf("create api key: %w", err)
	}
	return key, nil
}

// GetByHash resolves an active key by its plaintext hash.
func (r *Repository) GetByHash(ctx context.Context, hash string) (APIKey, error) {
	var key APIKey
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, source, key_hash, key_prefix, is_active, created_at
		FROM webhook_api_keys
		WHERE key_hash = $1 AND is_active = true
	`, hash).Scan(&key.ID, &key.Name, &key.Source, &key.KeyHash, &key.KeyPrefix, &key.IsActive, &key.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return APIKey{}, ErrAPIKeyNotFound
	}
	if err != nil {
		return APIKey{}, err
	}
	return key, nil
}

func (r *Repository) List(ctx context.Context) ([]APIKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, source, key_hash, key_prefix, is_active, created_at
		FROM webhook_api_keys
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]APIKey, 0)
	for rows.Next() {
		var key APIKey
		if err := rows.Scan(&key.ID, &key.Name, &key.Source, &key.KeyHash, &key.KeyPrefix, &key.IsActive, &key.CreatedAt); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// Revoke deactivates a key. Revocation is permanent; issue a new key
// instead of reactivating.
func (r *Repository) Revoke(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE webhook_api_keys SET is_active = false WHERE id = $1 AND is_active = true
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}
