package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const UsageRecordsTable = "usage_records"

// UsageRecord is one append-only row per inbound request. Rows feed both the
// sliding-window quota count and out-of-band observability queries; the
// gateway never mutates or deletes them.
type UsageRecord struct {
	RecordID     uuid.UUID `db:"record_id" json:"recordId"`
	CredentialID uuid.UUID `db:"credential_id" json:"credentialId"`
	TenantID     uuid.UUID `db:"tenant_id" json:"tenantId"`
	Endpoint     string    `db:"endpoint" json:"endpoint"`
	Method       string    `db:"method" json:"method"`
	StatusCode   int       `db:"status_code" json:"statusCode"`
	LatencyMs    int64     `db:"latency_ms" json:"latencyMs"`
	CallerIP     string    `db:"caller_ip" json:"callerIp"`
	UserAgent    string    `db:"user_agent" json:"userAgent"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// UsageStore exposes persistence helpers for the usage_records table.
type UsageStore struct {
	pool *pgxpool.Pool
}

// NewUsageStore ensures the usage table and its window index exist.
func NewUsageStore(ctx context.Context, pool *pgxpool.Pool) (*UsageStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}

	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	record_id UUID PRIMARY KEY,
	credential_id UUID NOT NULL,
	tenant_id UUID NOT NULL,
	endpoint TEXT NOT NULL,
	method TEXT NOT NULL,
	status_code INT NOT NULL,
	latency_ms BIGINT NOT NULL,
	caller_ip TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`, UsageRecordsTable),
		fmt.Sprintf(`
CREATE INDEX IF NOT EXISTS %s_window_idx ON %s (credential_id, created_at DESC);
`, UsageRecordsTable, UsageRecordsTable),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("ensure usage table: %w", err)
		}
	}

	return &UsageStore{pool: pool}, nil
}

// InsertUsageParams captures one request's audit fields.
type InsertUsageParams struct {
	CredentialID uuid.UUID
	TenantID     uuid.UUID
	Endpoint     string
	Method       string
	StatusCode   int
	LatencyMs    int64
	CallerIP     string
	UserAgent    string
}

// InsertUsage appends one usage record.
func (s *UsageStore) InsertUsage(ctx context.Context, params InsertUsageParams) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
        INSERT INTO %s (record_id, credential_id, tenant_id, endpoint, method, status_code, latency_ms, caller_ip, user_agent)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `, UsageRecordsTable),
		uuid.New(),
		params.CredentialID,
		params.TenantID,
		params.Endpoint,
		params.Method,
		params.StatusCode,
		params.LatencyMs,
		params.CallerIP,
		params.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// CountSince returns the number of requests the credential issued at or
// after the given instant. This backs the trailing-window quota check.
func (s *UsageStore) CountSince(ctx context.Context, credentialID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
        SELECT COUNT(*) FROM %s WHERE credential_id = $1 AND created_at >= $2
    `, UsageRecordsTable), credentialID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count usage window: %w", err)
	}
	return count, nil
}
