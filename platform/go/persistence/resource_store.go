package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrResourceNotFound indicates the row is absent or owned by another
// tenant. The two cases are deliberately indistinguishable.
var ErrResourceNotFound = errors.New("resource not found")

var tableNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// ResourceRecord mirrors one row of a resource table. The business fields
// live in the JSONB payload; tenant scoping and timestamps are columns.
type ResourceRecord struct {
	ResourceID uuid.UUID       `db:"resource_id" json:"resourceId"`
	TenantID   uuid.UUID       `db:"tenant_id" json:"tenantId"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	CreatedAt  time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updatedAt"`
}

// ResourceStore persists one resource kind (leads, tasks, metric snapshots)
// in its own table. Every query is filtered by tenant id; there is no code
// path that reads or writes across tenants.
// tableIdent caches the pgx.Identifier-sanitized table name so it can be
// embedded safely in SQL strings.
type ResourceStore struct {
	pool       *pgxpool.Pool
	tableName  string
	tableIdent string
}

// NewResourceStore ensures the backing table exists and returns a store.
func NewResourceStore(ctx context.Context, pool *pgxpool.Pool, tableName string) (*ResourceStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if !tableNamePattern.MatchString(tableName) {
		return nil, fmt.Errorf("invalid resource table name %q", tableName)
	}

	store := &ResourceStore{
		pool:       pool,
		tableName:  tableName,
		tableIdent: pgx.Identifier{tableName}.Sanitize(),
	}

	if err := store.ensureTable(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// InsertResourceParams captures the fields for a new resource row.
type InsertResourceParams struct {
	ResourceID uuid.UUID
	TenantID   uuid.UUID
	Payload    json.RawMessage
}

// InsertResource persists a new row and returns it.
func (s *ResourceStore) InsertResource(ctx context.Context, params InsertResourceParams) (ResourceRecord, error) {
	if params.ResourceID == uuid.Nil {
		return ResourceRecord{}, errors.New("resource id is required")
	}
	if params.TenantID == uuid.Nil {
		return ResourceRecord{}, errors.New("tenant id is required")
	}
	if len(params.Payload) == 0 {
		return ResourceRecord{}, errors.New("payload is required")
	}

	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
        INSERT INTO %s (resource_id, tenant_id, payload)
        VALUES ($1, $2, $3)
        RETURNING resource_id, tenant_id, payload, created_at, updated_at
    `, s.tableIdent), params.ResourceID, params.TenantID, []byte(params.Payload))

	return scanResourceRecord(row)
}

// ListResourcesParams defines tenant scope, pagination, and the optional
// single-field payload filter.
type ListResourcesParams struct {
	TenantID    uuid.UUID
	FilterKey   string
	FilterValue *string
	Limit       int
	Offset      int
}

// ListResourcesResult includes the rows and the total count for pagination
// metadata.
type ListResourcesResult struct {
	Records    []ResourceRecord
	TotalItems int
}

// ListResources returns the tenant's rows newest first.
func (s *ResourceStore) ListResources(ctx context.Context, params ListResourcesParams) (ListResourcesResult, error) {
	if params.TenantID == uuid.Nil {
		return ListResourcesResult{}, errors.New("tenant id is required")
	}

	whereSQL := "tenant_id = $1"
	args := []any{params.TenantID}

	if params.FilterKey != "" && params.FilterValue != nil {
		args = append(args, params.FilterKey, *params.FilterValue)
		whereSQL += fmt.Sprintf(" AND payload->>$%d = $%d", len(args)-1, len(args))
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", s.tableIdent, whereSQL)
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return ListResourcesResult{}, fmt.Errorf("count %s: %w", s.tableName, err)
	}

	result := ListResourcesResult{Records: []ResourceRecord{}, TotalItems: total}
	if total == 0 {
		return result, nil
	}

	args = append(args, params.Limit, params.Offset)
	query := fmt.Sprintf(`
        SELECT resource_id, tenant_id, payload, created_at, updated_at
        FROM %s
        WHERE %s
        ORDER BY created_at DESC
        LIMIT $%d OFFSET $%d
    `, s.tableIdent, whereSQL, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return ListResourcesResult{}, fmt.Errorf("list %s: %w", s.tableName, err)
	}
	defer rows.Close()

	for rows.Next() {
		record, scanErr := scanResourceRecord(rows)
		if scanErr != nil {
			return ListResourcesResult{}, fmt.Errorf("scan %s: %w", s.tableName, scanErr)
		}
		result.Records = append(result.Records, record)
	}

	if err := rows.Err(); err != nil {
		return ListResourcesResult{}, fmt.Errorf("iterate %s: %w", s.tableName, err)
	}

	return result, nil
}

// GetResource returns a single row by id within the tenant's scope.
func (s *ResourceStore) GetResource(ctx context.Context, tenantID, resourceID uuid.UUID) (ResourceRecord, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
        SELECT resource_id, tenant_id, payload, created_at, updated_at
        FROM %s WHERE resource_id = $1 AND tenant_id = $2
    `, s.tableIdent), resourceID, tenantID)

	record, err := scanResourceRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ResourceRecord{}, ErrResourceNotFound
		}
		return ResourceRecord{}, err
	}

	return record, nil
}

// MergeResourcePayload applies a partial update by merging the provided
// JSON object over the stored payload inside the UPDATE itself.
func (s *ResourceStore) MergeResourcePayload(ctx context.Context, tenantID, resourceID uuid.UUID, partial json.RawMessage) (ResourceRecord, error) {
	if len(partial) == 0 {
		return ResourceRecord{}, errors.New("payload is required")
	}

	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
        UPDATE %s
        SET payload = payload || $3::jsonb, updated_at = NOW()
        WHERE resource_id = $1 AND tenant_id = $2
        RETURNING resource_id, tenant_id, payload, created_at, updated_at
    `, s.tableIdent), resourceID, tenantID, []byte(partial))

	record, err := scanResourceRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ResourceRecord{}, ErrResourceNotFound
		}
		return ResourceRecord{}, err
	}

	return record, nil
}

// DeleteResource removes a row within the tenant's scope.
func (s *ResourceStore) DeleteResource(ctx context.Context, tenantID, resourceID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
        DELETE FROM %s WHERE resource_id = $1 AND tenant_id = $2
    `, s.tableIdent), resourceID, tenantID)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", s.tableName, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrResourceNotFound
	}
	return nil
}

func (s *ResourceStore) ensureTable(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	resource_id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	payload JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`, s.tableIdent),
		fmt.Sprintf(`
CREATE INDEX IF NOT EXISTS %s_tenant_idx ON %s (tenant_id, created_at DESC);
`, s.tableName, s.tableIdent),
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure resource table %s: %w", s.tableName, err)
		}
	}

	return nil
}

func scanResourceRecord(row pgx.Row) (ResourceRecord, error) {
	var (
		record  ResourceRecord
		payload []byte
	)
	if err := row.Scan(&record.ResourceID, &record.TenantID, &payload, &record.CreatedAt, &record.UpdatedAt); err != nil {
		return ResourceRecord{}, err
	}
	record.Payload = json.RawMessage(payload)
	return record, nil
}
