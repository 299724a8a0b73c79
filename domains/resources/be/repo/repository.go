// Package repo adapts the shared persistence layer to the resources
// service, resolving a kind name to its backing table store.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearops/clearops-gateway/platform/go/persistence"
)

// ErrKindNotConfigured indicates a kind name with no backing store.
var ErrKindNotConfigured = errors.New("resource kind not configured")

// Repository exposes per-kind resource persistence. Every operation is
// scoped to a tenant id supplied by the caller's credential.
type Repository interface {
	Insert(ctx context.Context, kind string, params persistence.InsertResourceParams) (persistence.ResourceRecord, error)
	List(ctx context.Context, kind string, params persistence.ListResourcesParams) (persistence.ListResourcesResult, error)
	Get(ctx context.Context, kind string, tenantID, resourceID uuid.UUID) (persistence.ResourceRecord, error)
	Merge(ctx context.Context, kind string, tenantID, resourceID uuid.UUID, partial json.RawMessage) (persistence.ResourceRecord, error)
	Delete(ctx context.Context, kind string, tenantID, resourceID uuid.UUID) error
}

// KindTable binds a kind name to its Postgres table.
type KindTable struct {
	Kind      string
	TableName string
}

type repository struct {
	stores map[string]*persistence.ResourceStore
}

// New constructs a Repository, ensuring every kind's table exists.
func New(ctx context.Context, pool *pgxpool.Pool, tables []KindTable) (Repository, error) {
	if pool == nil {
		return nil, errors.New("postgres pool is required")
	}

	stores := make(map[string]*persistence.ResourceStore, len(tables))
	for _, table := range tables {
		store, err := persistence.NewResourceStore(ctx, pool, table.TableName)
		if err != nil {
			return nil, fmt.Errorf("prepare %s store: %w", table.Kind, err)
		}
		stores[table.Kind] = store
	}

	return &repository{stores: stores}, nil
}

func (r *repository) Insert(ctx context.Context, kind string, params persistence.InsertResourceParams) (persistence.ResourceRecord, error) {
	store, err := r.resolve(kind)
	if err != nil {
		return persistence.ResourceRecord{}, err
	}
	return store.InsertResource(ctx, params)
}

func (r *repository) List(ctx context.Context, kind string, params persistence.ListResourcesParams) (persistence.ListResourcesResult, error) {
	store, err := r.resolve(kind)
	if err != nil {
		return persistence.ListResourcesResult{}, err
	}
	return store.ListResources(ctx, params)
}

func (r *repository) Get(ctx context.Context, kind string, tenantID, resourceID uuid.UUID) (persistence.ResourceRecord, error) {
	store, err := r.resolve(kind)
	if err != nil {
		return persistence.ResourceRecord{}, err
	}
	return store.GetResource(ctx, tenantID, resourceID)
}

func (r *repository) Merge(ctx context.Context, kind string, tenantID, resourceID uuid.UUID, partial json.RawMessage) (persistence.ResourceRecord, error) {
	store, err := r.resolve(kind)
	if err != nil {
		return persistence.ResourceRecord{}, err
	}
	return store.MergeResourcePayload(ctx, tenantID, resourceID, partial)
}

func (r *repository) Delete(ctx context.Context, kind string, tenantID, resourceID uuid.UUID) error {
	store, err := r.resolve(kind)
	if err != nil {
		return err
	}
	return store.DeleteResource(ctx, tenantID, resourceID)
}

func (r *repository) resolve(kind string) (*persistence.ResourceStore, error) {
	store, ok := r.stores[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKindNotConfigured, kind)
	}
	return store, nil
}
