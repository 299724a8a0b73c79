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

const SubscriptionsTable = "webhook_subscriptions"

// ErrSubscriptionNotFound indicates a missing subscription record.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// Subscription is a tenant-registered webhook destination plus the shared
// secret used to sign payloads sent to it.
type Subscription struct {
	SubscriptionID       uuid.UUID  `db:"subscription_id" json:"subscriptionId"`
	TenantID             uuid.UUID  `db:"tenant_id" json:"tenantId"`
	URL                  string     `db:"url" json:"url"`
	Secret               string     `db:"secret" json:"-"`
	Events               []string   `db:"events" json:"events"`
	IsActive             bool       `db:"is_active" json:"isActive"`
	TotalDeliveries      int64      `db:"total_deliveries" json:"totalDeliveries"`
	SuccessfulDeliveries int64      `db:"successful_deliveries" json:"successfulDeliveries"`
	FailedDeliveries     int64      `db:"failed_deliveries" json:"failedDeliveries"`
	LastDeliveryAt       *time.Time `db:"last_delivery_at" json:"lastDeliveryAt,omitempty"`
	LastDeliveryStatus   *string    `db:"last_delivery_status" json:"lastDeliveryStatus,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"createdAt"`
}

// SubscriptionStore exposes persistence helpers for webhook subscriptions.
type SubscriptionStore struct {
	pool *pgxpool.Pool
}

// NewSubscriptionStore ensures the subscriptions table exists.
func NewSubscriptionStore(ctx context.Context, pool *pgxpool.Pool) (*SubscriptionStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}

	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	subscription_id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	url TEXT NOT NULL,
	secret TEXT NOT NULL,
	events TEXT[] NOT NULL DEFAULT '{}',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	total_deliveries BIGINT NOT NULL DEFAULT 0,
	successful_deliveries BIGINT NOT NULL DEFAULT 0,
	failed_deliveries BIGINT NOT NULL DEFAULT 0,
	last_delivery_at TIMESTAMPTZ,
	last_delivery_status TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`, SubscriptionsTable),
		fmt.Sprintf(`
CREATE INDEX IF NOT EXISTS %s_tenant_idx ON %s (tenant_id) WHERE is_active;
`, SubscriptionsTable, SubscriptionsTable),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("ensure subscriptions table: %w", err)
		}
	}

	return &SubscriptionStore{pool: pool}, nil
}

// CreateSubscriptionParams captures the fields required to register a
// destination. Registration happens through the tenant admin surface; the
// gateway reads subscriptions and updates their delivery bookkeeping.
type CreateSubscriptionParams struct {
	SubscriptionID uuid.UUID
	TenantID       uuid.UUID
	URL            string
	Secret         string
	Events         []string
}

// CreateSubscription inserts a new subscription and returns it.
func (s *SubscriptionStore) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (Subscription, error) {
	if params.SubscriptionID == uuid.Nil {
		return Subscription{}, errors.New("subscription id is required")
	}
	if params.TenantID == uuid.Nil {
		return Subscription{}, errors.New("tenant id is required")
	}
	if strings.TrimSpace(params.URL) == "" {
		return Subscription{}, errors.New("url is required")
	}
	if strings.TrimSpace(params.Secret) == "" {
		return Subscription{}, errors.New("secret is required")
	}

	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
        INSERT INTO %s (subscription_id, tenant_id, url, secret, events)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING subscription_id, tenant_id, url, secret, events, is_active, total_deliveries, successful_deliveries, failed_deliveries, last_delivery_at, last_delivery_status, created_at
    `, SubscriptionsTable),
		params.SubscriptionID,
		params.TenantID,
		strings.TrimSpace(params.URL),
		params.Secret,
		params.Events,
	)

	return scanSubscription(row)
}

// ListActiveForEvent returns every active subscription of the tenant whose
// subscribed-events set contains the event name.
func (s *SubscriptionStore) ListActiveForEvent(ctx context.Context, tenantID uuid.UUID, event string) ([]Subscription, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
        SELECT subscription_id, tenant_id, url, secret, events, is_active, total_deliveries, successful_deliveries, failed_deliveries, last_delivery_at, last_delivery_status, created_at
        FROM %s
        WHERE tenant_id = $1 AND is_active AND $2 = ANY(events)
        ORDER BY created_at
    `, SubscriptionsTable), tenantID, event)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subscriptions []Subscription
	for rows.Next() {
		subscription, scanErr := scanSubscription(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan subscription: %w", scanErr)
		}
		subscriptions = append(subscriptions, subscription)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}

	return subscriptions, nil
}

// GetSubscription returns a single subscription by id.
func (s *SubscriptionStore) GetSubscription(ctx context.Context, subscriptionID uuid.UUID) (Subscription, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
        SELECT subscription_id, tenant_id, url, secret, events, is_active, total_deliveries, successful_deliveries, failed_deliveries, last_delivery_at, last_delivery_status, created_at
        FROM %s WHERE subscription_id = $1
    `, SubscriptionsTable), subscriptionID)

	subscription, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subscription{}, ErrSubscriptionNotFound
		}
		return Subscription{}, err
	}

	return subscription, nil
}

// DeactivateSubscription flips the active flag off.
func (s *SubscriptionStore) DeactivateSubscription(ctx context.Context, subscriptionID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
        UPDATE %s SET is_active = FALSE WHERE subscription_id = $1
    `, SubscriptionsTable), subscriptionID)
	if err != nil {
		return fmt.Errorf("deactivate subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// RecordDeliveryOutcome bumps the lifetime counters after one attempt. The
// increments run inside the UPDATE so concurrent deliveries to the same
// subscription never lose counts to a read-then-write race.
func (s *SubscriptionStore) RecordDeliveryOutcome(ctx context.Context, subscriptionID uuid.UUID, delivered bool, status string) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
        UPDATE %s SET
            total_deliveries = total_deliveries + 1,
            successful_deliveries = successful_deliveries + CASE WHEN $2 THEN 1 ELSE 0 END,
            failed_deliveries = failed_deliveries + CASE WHEN $2 THEN 0 ELSE 1 END,
            last_delivery_at = NOW(),
            last_delivery_status = $3
        WHERE subscription_id = $1
    `, SubscriptionsTable), subscriptionID, delivered, status)
	if err != nil {
		return fmt.Errorf("record delivery outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func scanSubscription(row pgx.Row) (Subscription, error) {
	var sub Subscription
	if err := row.Scan(
		&sub.SubscriptionID,
		&sub.TenantID,
		&sub.URL,
		&sub.Secret,
		&sub.Events,
		&sub.IsActive,
		&sub.TotalDeliveries,
		&sub.SuccessfulDeliveries,
		&sub.FailedDeliveries,
		&sub.LastDeliveryAt,
		&sub.LastDeliveryStatus,
		&sub.CreatedAt,
	); err != nil {
		return Subscription{}, err
	}
	return sub, nil
}
