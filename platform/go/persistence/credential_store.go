package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const CredentialsTable = "api_credentials"

// ErrCredentialNotFound indicates no credential matches the lookup. Callers
// must not surface whether the key was unknown, revoked, or expired.
var ErrCredentialNotFound = errors.New("credential not found")

// Credential represents a row in the api_credentials table. The raw secret
// is never stored; key_hash holds its one-way digest.
type Credential struct {
	CredentialID       uuid.UUID  `db:"credential_id" json:"credentialId"`
	TenantID           uuid.UUID  `db:"tenant_id" json:"tenantId"`
	Name               string     `db:"name" json:"name"`
	KeyPrefix          string     `db:"key_prefix" json:"keyPrefix"`
	KeyHash            string     `db:"key_hash" json:"-"`
	Permissions        []string   `db:"permissions" json:"permissions"`
	RateLimitPerMinute int        `db:"rate_limit_per_minute" json:"rateLimitPerMinute"`
	IsActive           bool       `db:"is_active" json:"isActive"`
	ExpiresAt          *time.Time `db:"expires_at" json:"expiresAt,omitempty"`
	LastUsedAt         *time.Time `db:"last_used_at" json:"lastUsedAt,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"createdAt"`
}

// CredentialStore exposes persistence helpers for the api_credentials table.
type CredentialStore struct {
	pool *pgxpool.Pool
}

// NewCredentialStore ensures the credentials table exists and returns a
// store instance.
func NewCredentialStore(ctx context.Context, pool *pgxpool.Pool) (*CredentialStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}

	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	credential_id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	name TEXT NOT NULL,
	key_prefix TEXT NOT NULL,
	key_hash TEXT NOT NULL UNIQUE,
	permissions TEXT[] NOT NULL DEFAULT '{}',
	rate_limit_per_minute INT NOT NULL DEFAULT 60,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	expires_at TIMESTAMPTZ,
	last_used_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`, CredentialsTable)

	if _, err := pool.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("ensure credentials table: %w", err)
	}

	return &CredentialStore{pool: pool}, nil
}

// CreateCredentialParams captures the fields required to insert a credential.
// Credentials are provisioned out-of-band by tenant admins; the gateway only
// reads them and touches last_used_at.
type CreateCredentialParams struct {
	CredentialID       uuid.UUID
	TenantID           uuid.UUID
	Name               string
	KeyPrefix          string
	KeyHash            string
	Permissions        []string
	RateLimitPerMinute int
	ExpiresAt          *time.Time
}

// CreateCredential inserts a new credential and returns the persisted record.
func (s *CredentialStore) CreateCredential(ctx context.Context, params CreateCredentialParams) (Credential, error) {
	if params.CredentialID == uuid.Nil {
		return Credential{}, errors.New("credential id is required")
	}
	if params.TenantID == uuid.Nil {
		return Credential{}, errors.New("tenant id is required")
	}
	if strings.TrimSpace(params.KeyHash) == "" {
		return Credential{}, errors.New("key hash is required")
	}

	rateLimit := params.RateLimitPerMinute
	if rateLimit <= 0 {
		rateLimit = 60
	}

	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
        INSERT INTO %s (credential_id, tenant_id, name, key_prefix, key_hash, permissions, rate_limit_per_minute, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING credential_id, tenant_id, name, key_prefix, key_hash, permissions, rate_limit_per_minute, is_active, expires_at, last_used_at, created_at
    `, CredentialsTable),
		params.CredentialID,
		params.TenantID,
		strings.TrimSpace(params.Name),
		params.KeyPrefix,
		params.KeyHash,
		params.Permissions,
		rateLimit,
		params.ExpiresAt,
	)

	return scanCredential(row)
}

// GetCredentialByHash looks a credential up by the digest of its secret.
func (s *CredentialStore) GetCredentialByHash(ctx context.Context, keyHash string) (Credential, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
        SELECT credential_id, tenant_id, name, key_prefix, key_hash, permissions, rate_limit_per_minute, is_active, expires_at, last_used_at, created_at
        FROM %s WHERE key_hash = $1
    `, CredentialsTable), keyHash)

	credential, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credential{}, ErrCredentialNotFound
		}
		return Credential{}, err
	}

	return credential, nil
}

// TouchLastUsed stamps last_used_at with the current time.
func (s *CredentialStore) TouchLastUsed(ctx context.Context, credentialID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
        UPDATE %s SET last_used_at = NOW() WHERE credential_id = $1
    `, CredentialsTable), credentialID)
	if err != nil {
		return fmt.Errorf("touch credential: %w", err)
	}
	return nil
}

// RevokeCredential flips the active flag off. Credentials are never deleted
// so the audit trail stays intact.
func (s *CredentialStore) RevokeCredential(ctx context.Context, credentialID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
        UPDATE %s SET is_active = FALSE WHERE credential_id = $1
    `, CredentialsTable), credentialID)
	if err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

func scanCredential(row pgx.Row) (Credential, error) {
	var c Credential
	if err := row.Scan(
		&c.CredentialID,
		&c.TenantID,
		&c.Name,
		&c.KeyPrefix,
		&c.KeyHash,
		&c.Permissions,
		&c.RateLimitPerMinute,
		&c.IsActive,
		&c.ExpiresAt,
		&c.LastUsedAt,
		&c.CreatedAt,
	); err != nil {
		return Credential{}, err
	}
	return c, nil
}
