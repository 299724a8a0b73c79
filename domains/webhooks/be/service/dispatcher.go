// Package service implements webhook fan-out: building signed event
// envelopes, delivering them to every matching subscription, recording
// each attempt, and rescheduling the ones worth retrying.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	domainrepo "github.com/clearops/clearops-gateway/domains/webhooks/be/repo"
	"github.com/clearops/clearops-gateway/platform/go/persistence"
)

// Delivery outcomes reported to the metrics hook.
const (
	OutcomeDelivered = "delivered"
	OutcomeRetry     = "retry"
	OutcomeFailed    = "failed"
	OutcomeBlocked   = "blocked"
)

// Envelope is the wire shape every receiver gets.
type Envelope struct {
	Event     string         `json:"event"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
	WebhookID string         `json:"webhook_id"`
}

// EgressChecker screens destination URLs before any network call.
type EgressChecker interface {
	Check(ctx context.Context, rawURL string) error
}

// DeliverySender performs the outbound HTTP call.
type DeliverySender interface {
	Send(ctx context.Context, url, secret, event string, body []byte) Result
}

// OutcomeHook receives one of the Outcome constants per attempt.
type OutcomeHook func(outcome string)

// Config assembles a Dispatcher.
type Config struct {
	Repo    domainrepo.Repository
	Guard   EgressChecker
	Sender  DeliverySender
	Retrier *Retrier
	Logger  *zap.Logger
	// PoolSize bounds the fan-out workers. Defaults to 32.
	PoolSize int
	// DispatchTimeout bounds one full fan-out job. Defaults to 30s.
	DispatchTimeout time.Duration
	// OnOutcome, when set, is called once per delivery attempt.
	OnOutcome OutcomeHook
}

// Dispatcher fans resource events out to webhook subscriptions. Enqueue
// is fire-and-forget relative to the API caller; all delivery work runs
// on a bounded worker pool.
type Dispatcher struct {
	repo            domainrepo.Repository
	guard           EgressChecker
	sender          DeliverySender
	retrier         *Retrier
	logger          *zap.Logger
	pool            *ants.Pool
	dispatchTimeout time.Duration
	onOutcome       OutcomeHook
	now             func() time.Time
}

// NewDispatcher constructs a Dispatcher and its worker pool.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.Repo == nil {
		return nil, fmt.Errorf("webhooks repository is required")
	}
	if cfg.Guard == nil {
		return nil, fmt.Errorf("egress guard is required")
	}
	if cfg.Sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if cfg.Retrier == nil {
		cfg.Retrier = NewRetrier(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 32
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 30 * time.Second
	}

	// Nonblocking so a saturated pool surfaces ErrPoolOverload instead of
	// parking the API goroutine that triggered the event.
	pool, err := ants.NewPool(cfg.PoolSize, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("create dispatch pool: %w", err)
	}

	return &Dispatcher{
		repo:            cfg.Repo,
		guard:           cfg.Guard,
		sender:          cfg.Sender,
		retrier:         cfg.Retrier,
		logger:          cfg.Logger,
		pool:            pool,
		dispatchTimeout: cfg.DispatchTimeout,
		onOutcome:       cfg.OnOutcome,
		now:             time.Now,
	}, nil
}

// Close drains the worker pool.
func (d *Dispatcher) Close() {
	d.pool.Release()
}

// Enqueue schedules a fan-out job and returns immediately. The job runs
// detached from the request that triggered it; a full pool is logged and
// the event dropped rather than blocking the API response.
func (d *Dispatcher) Enqueue(tenantID uuid.UUID, event string, data map[string]any) {
	err := d.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.dispatchTimeout)
		defer cancel()
		d.DispatchEvent(ctx, tenantID, event, data)
	})
	if err != nil {
		if errors.Is(err, ants.ErrPoolOverload) {
			d.logger.Error("webhook fan-out dropped, worker pool saturated",
				zap.String("event", event))
			return
		}
		d.logger.Error("webhook fan-out rejected",
			zap.String("event", event),
			zap.Error(err))
	}
}

// DispatchEvent delivers the event to every matching active subscription.
// Each subscription is an independent unit of work; one destination's
// failure never short-circuits the rest.
func (d *Dispatcher) DispatchEvent(ctx context.Context, tenantID uuid.UUID, event string, data map[string]any) {
	subscriptions, err := d.repo.ListActiveForEvent(ctx, tenantID, event)
	if err != nil {
		d.logger.Error("list subscriptions failed",
			zap.String("event", event),
			zap.Error(err))
		return
	}

	for _, subscription := range subscriptions {
		d.dispatchOne(ctx, subscription, event, data)
	}
}

// dispatchOne screens the destination, persists a pending delivery, and
// attempts it. A URL the egress guard rejects is skipped without even a
// delivery row: it is a configuration problem, not a delivery outcome.
func (d *Dispatcher) dispatchOne(ctx context.Context, subscription persistence.Subscription, event string, data map[string]any) {
	logger := d.logger.With(
		zap.String("subscription_id", subscription.SubscriptionID.String()),
		zap.String("event", event))

	if err := d.guard.Check(ctx, subscription.URL); err != nil {
		logger.Warn("destination blocked", zap.Error(err))
		d.report(OutcomeBlocked)
		return
	}

	payload, err := json.Marshal(Envelope{
		Event:     event,
		Data:      data,
		Timestamp: d.now().UTC().Format(time.RFC3339),
		WebhookID: subscription.SubscriptionID.String(),
	})
	if err != nil {
		logger.Error("encode envelope failed", zap.Error(err))
		return
	}

	delivery, err := d.repo.CreatePendingDelivery(ctx, persistence.CreateDeliveryParams{
		SubscriptionID: subscription.SubscriptionID,
		Event:          event,
		Payload:        payload,
	})
	if err != nil {
		logger.Error("create delivery failed", zap.Error(err))
		return
	}

	d.attempt(ctx, subscription, delivery)
}

// Redeliver re-attempts a claimed delivery. Used by the retry worker; a
// subscription deactivated since the original attempt resolves the
// delivery as permanently failed.
func (d *Dispatcher) Redeliver(ctx context.Context, delivery persistence.Delivery) {
	logger := d.logger.With(zap.String("delivery_id", delivery.DeliveryID.String()))

	subscription, err := d.repo.GetSubscription(ctx, delivery.SubscriptionID)
	if err != nil || !subscription.IsActive {
		if err != nil {
			logger.Error("load subscription failed", zap.Error(err))
		}
		if markErr := d.repo.MarkFailed(ctx, delivery.DeliveryID, persistence.AttemptOutcome{
			ErrorText: "subscription no longer active",
		}); markErr != nil {
			logger.Error("resolve orphaned delivery failed", zap.Error(markErr))
		}
		d.report(OutcomeFailed)
		return
	}

	if err := d.guard.Check(ctx, subscription.URL); err != nil {
		// The destination may have been re-pointed at internal
		// infrastructure since the last attempt.
		logger.Warn("destination blocked on retry", zap.Error(err))
		if markErr := d.repo.MarkFailed(ctx, delivery.DeliveryID, persistence.AttemptOutcome{
			ErrorText: "destination blocked: " + err.Error(),
		}); markErr != nil {
			logger.Error("resolve blocked delivery failed", zap.Error(markErr))
		}
		d.report(OutcomeBlocked)
		return
	}

	d.attempt(ctx, subscription, delivery)
}

func (d *Dispatcher) attempt(ctx context.Context, subscription persistence.Subscription, delivery persistence.Delivery) {
	logger := d.logger.With(
		zap.String("subscription_id", subscription.SubscriptionID.String()),
		zap.String("delivery_id", delivery.DeliveryID.String()),
		zap.String("event", delivery.Event))

	result := d.sender.Send(ctx, subscription.URL, subscription.Secret, delivery.Event, delivery.Payload)

	attemptsMade := delivery.AttemptCount + 1
	decision := d.retrier.Decide(result.StatusCode, attemptsMade, delivery.MaxAttempts)

	outcome := persistence.AttemptOutcome{
		ResponseBody: result.Response,
		ErrorText:    result.Error,
		LatencyMs:    result.LatencyMs,
	}
	if result.StatusCode != 0 {
		status := result.StatusCode
		outcome.ResponseStatus = &status
	}

	switch decision {
	case DecisionDelivered:
		if err := d.repo.MarkDelivered(ctx, delivery.DeliveryID, outcome); err != nil {
			logger.Error("mark delivered failed", zap.Error(err))
		}
		d.recordSubscriptionOutcome(ctx, logger, subscription.SubscriptionID, true)
		d.report(OutcomeDelivered)
		logger.Info("webhook delivered",
			zap.Int("status", result.StatusCode),
			zap.Int64("latency_ms", result.LatencyMs))

	case DecisionRetry:
		next := d.retrier.NextRetryAt(attemptsMade)
		outcome.NextRetryAt = &next
		if err := d.repo.MarkFailed(ctx, delivery.DeliveryID, outcome); err != nil {
			logger.Error("mark failed failed", zap.Error(err))
		}
		d.recordSubscriptionOutcome(ctx, logger, subscription.SubscriptionID, false)
		d.report(OutcomeRetry)
		logger.Warn("webhook delivery failed, retry scheduled",
			zap.Int("status", result.StatusCode),
			zap.String("error", result.Error),
			zap.Int("attempt", attemptsMade),
			zap.Time("next_retry_at", next))

	case DecisionFailed:
		if err := d.repo.MarkFailed(ctx, delivery.DeliveryID, outcome); err != nil {
			logger.Error("mark failed failed", zap.Error(err))
		}
		d.recordSubscriptionOutcome(ctx, logger, subscription.SubscriptionID, false)
		d.report(OutcomeFailed)
		logger.Warn("webhook delivery permanently failed",
			zap.Int("status", result.StatusCode),
			zap.String("error", result.Error),
			zap.Int("attempt", attemptsMade))
	}
}

func (d *Dispatcher) recordSubscriptionOutcome(ctx context.Context, logger *zap.Logger, subscriptionID uuid.UUID, delivered bool) {
	status := OutcomeFailed
	if delivered {
		status = OutcomeDelivered
	}
	if err := d.repo.RecordDeliveryOutcome(ctx, subscriptionID, delivered, status); err != nil {
		logger.Error("record subscription outcome failed", zap.Error(err))
	}
}

func (d *Dispatcher) report(outcome string) {
	if d.onOutcome != nil {
		d.onOutcome(outcome)
	}
}
