// Package repo adapts the shared persistence layer to the webhook
// dispatcher and retry worker.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearops/clearops-gateway/platform/go/persistence"
)

// Repository exposes the subscription and delivery persistence the
// dispatcher needs.
type Repository interface {
	ListActiveForEvent(ctx context.Context, tenantID uuid.UUID, event string) ([]persistence.Subscription, error)
	GetSubscription(ctx context.Context, subscriptionID uuid.UUID) (persistence.Subscription, error)
	CreatePendingDelivery(ctx context.Context, params persistence.CreateDeliveryParams) (persistence.Delivery, error)
	MarkDelivered(ctx context.Context, deliveryID uuid.UUID, outcome persistence.AttemptOutcome) error
	MarkFailed(ctx context.Context, deliveryID uuid.UUID, outcome persistence.AttemptOutcome) error
	RecordDeliveryOutcome(ctx context.Context, subscriptionID uuid.UUID, delivered bool, status string) error
	ClaimDueRetries(ctx context.Context, now time.Time, limit int) ([]persistence.Delivery, error)
}

type repository struct {
	subscriptions *persistence.SubscriptionStore
	deliveries    *persistence.DeliveryStore
}

// New constructs a Repository, ensuring both backing tables exist.
func New(ctx context.Context, pool *pgxpool.Pool) (Repository, error) {
	subscriptions, err := persistence.NewSubscriptionStore(ctx, pool)
	if err != nil {
		return nil, err
	}

	deliveries, err := persistence.NewDeliveryStore(ctx, pool)
	if err != nil {
		return nil, err
	}

	return &repository{subscriptions: subscriptions, deliveries: deliveries}, nil
}

func (r *repository) ListActiveForEvent(ctx context.Context, tenantID uuid.UUID, event string) ([]persistence.Subscription, error) {
	return r.subscriptions.ListActiveForEvent(ctx, tenantID, event)
}

func (r *repository) GetSubscription(ctx context.Context, subscriptionID uuid.UUID) (persistence.Subscription, error) {
	return r.subscriptions.GetSubscription(ctx, subscriptionID)
}

func (r *repository) CreatePendingDelivery(ctx context.Context, params persistence.CreateDeliveryParams) (persistence.Delivery, error) {
	return r.deliveries.CreatePendingDelivery(ctx, params)
}

func (r *repository) MarkDelivered(ctx context.Context, deliveryID uuid.UUID, outcome persistence.AttemptOutcome) error {
	return r.deliveries.MarkDelivered(ctx, deliveryID, outcome)
}

func (r *repository) MarkFailed(ctx context.Context, deliveryID uuid.UUID, outcome persistence.AttemptOutcome) error {
	return r.deliveries.MarkFailed(ctx, deliveryID, outcome)
}

func (r *repository) RecordDeliveryOutcome(ctx context.Context, subscriptionID uuid.UUID, delivered bool, status string) error {
	return r.subscriptions.RecordDeliveryOutcome(ctx, subscriptionID, delivered, status)
}

func (r *repository) ClaimDueRetries(ctx context.Context, now time.Time, limit int) ([]persistence.Delivery, error) {
	return r.deliveries.ClaimDueRetries(ctx, now, limit)
}
