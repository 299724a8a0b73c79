package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const DeliveriesTable = "webhook_deliveries"

// ErrDeliveryNotFound indicates a missing delivery record.
var ErrDeliveryNotFound = errors.New("delivery not found")

// DeliveryStatus is the lifecycle state of a delivery attempt.
type DeliveryStatus string

const (
	// DeliveryPending means the outbound call has not completed yet.
	DeliveryPending DeliveryStatus = "pending"
	// DeliveryDelivered means the destination answered 2xx. Terminal.
	DeliveryDelivered DeliveryStatus = "delivered"
	// DeliveryFailed means the attempt failed. Terminal once next_retry_at
	// is NULL; retry-eligible while it is set.
	DeliveryFailed DeliveryStatus = "failed"
)

// Delivery records the outcome of delivering one event to one subscription,
// including retry scheduling.
type Delivery struct {
	DeliveryID     uuid.UUID       `db:"delivery_id" json:"deliveryId"`
	SubscriptionID uuid.UUID       `db:"subscription_id" json:"subscriptionId"`
	Event          string          `db:"event" json:"event"`
	Payload        json.RawMessage `db:"payload" json:"payload"`
	Status         DeliveryStatus  `db:"status" json:"status"`
	AttemptCount   int             `db:"attempt_count" json:"attemptCount"`
	MaxAttempts    int             `db:"max_attempts" json:"maxAttempts"`
	ResponseStatus *int            `db:"response_status" json:"responseStatus,omitempty"`
	ResponseBody   *string         `db:"response_body" json:"responseBody,omitempty"`
	ErrorText      *string         `db:"error_text" json:"errorText,omitempty"`
	LatencyMs      int64           `db:"latency_ms" json:"latencyMs"`
	NextRetryAt    *time.Time      `db:"next_retry_at" json:"nextRetryAt,omitempty"`
	CompletedAt    *time.Time      `db:"completed_at" json:"completedAt,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"createdAt"`
}

// DeliveryStore exposes persistence helpers for the webhook_deliveries table.
type DeliveryStore struct {
	pool *pgxpool.Pool
}

// NewDeliveryStore ensures the deliveries table and its retry index exist.
func NewDeliveryStore(ctx context.Context, pool *pgxpool.Pool) (*DeliveryStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}

	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	delivery_id UUID PRIMARY KEY,
	subscription_id UUID NOT NULL,
	event TEXT NOT NULL,
	payload JSONB NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'delivered', 'failed')),
	attempt_count INT NOT NULL DEFAULT 0,
	max_attempts INT NOT NULL DEFAULT 4,
	response_status INT,
	response_body TEXT,
	error_text TEXT,
	latency_ms BIGINT NOT NULL DEFAULT 0,
	next_retry_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`, DeliveriesTable),
		fmt.Sprintf(`
CREATE INDEX IF NOT EXISTS %s_retry_idx ON %s (next_retry_at)
WHERE status = 'failed' AND next_retry_at IS NOT NULL;
`, DeliveriesTable, DeliveriesTable),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("ensure deliveries table: %w", err)
		}
	}

	return &DeliveryStore{pool: pool}, nil
}

// CreateDeliveryParams captures the fields for a fresh pending delivery.
type CreateDeliveryParams struct {
	SubscriptionID uuid.UUID
	Event          string
	Payload        json.RawMessage
	MaxAttempts    int
}

// CreatePendingDelivery inserts a pending row ahead of the outbound call.
func (s *DeliveryStore) CreatePendingDelivery(ctx context.Context, params CreateDeliveryParams) (Delivery, error) {
	if params.SubscriptionID == uuid.Nil {
		return Delivery{}, errors.New("subscription id is required")
	}
	if params.Event == "" {
		return Delivery{}, errors.New("event is required")
	}

	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 4
	}

	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
        INSERT INTO %s (delivery_id, subscription_id, event, payload, max_attempts)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING delivery_id, subscription_id, event, payload, status, attempt_count, max_attempts, response_status, response_body, error_text, latency_ms, next_retry_at, completed_at, created_at
    `, DeliveriesTable),
		uuid.New(),
		params.SubscriptionID,
		params.Event,
		[]byte(params.Payload),
		maxAttempts,
	)

	return scanDelivery(row)
}

// AttemptOutcome captures what one outbound call produced.
type AttemptOutcome struct {
	ResponseStatus *int
	ResponseBody   string
	ErrorText      string
	LatencyMs      int64
	// NextRetryAt schedules a further attempt when set; a nil value on a
	// failed outcome resolves the delivery permanently.
	NextRetryAt *time.Time
}

// MarkDelivered resolves the delivery as successful.
func (s *DeliveryStore) MarkDelivered(ctx context.Context, deliveryID uuid.UUID, outcome AttemptOutcome) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
        UPDATE %s SET
            status = 'delivered',
            attempt_count = attempt_count + 1,
            response_status = $2,
            response_body = $3,
            error_text = NULL,
            latency_ms = $4,
            next_retry_at = NULL,
            completed_at = NOW()
        WHERE delivery_id = $1
    `, DeliveriesTable), deliveryID, outcome.ResponseStatus, outcome.ResponseBody, outcome.LatencyMs)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// MarkFailed records a failed attempt. With NextRetryAt set the row stays
// retry-eligible; without it the failure is final and completed_at is set.
func (s *DeliveryStore) MarkFailed(ctx context.Context, deliveryID uuid.UUID, outcome AttemptOutcome) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
        UPDATE %s SET
            status = 'failed',
            attempt_count = attempt_count + 1,
            response_status = $2,
            response_body = $3,
            error_text = NULLIF($4, ''),
            latency_ms = $5,
            next_retry_at = $6,
            completed_at = CASE WHEN $6::timestamptz IS NULL THEN NOW() ELSE NULL END
        WHERE delivery_id = $1
    `, DeliveriesTable), deliveryID, outcome.ResponseStatus, outcome.ResponseBody, outcome.ErrorText, outcome.LatencyMs, outcome.NextRetryAt)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// ClaimDueRetries atomically flips failed deliveries whose retry time has
// passed back to pending and returns them, so two worker ticks never pick
// up the same row.
func (s *DeliveryStore) ClaimDueRetries(ctx context.Context, now time.Time, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
        UPDATE %s SET status = 'pending', next_retry_at = NULL
        WHERE delivery_id IN (
            SELECT delivery_id FROM %s
            WHERE status = 'failed' AND next_retry_at IS NOT NULL AND next_retry_at <= $1
            ORDER BY next_retry_at
            LIMIT $2
            FOR UPDATE SKIP LOCKED
        )
        RETURNING delivery_id, subscription_id, event, payload, status, attempt_count, max_attempts, response_status, response_body, error_text, latency_ms, next_retry_at, completed_at, created_at
    `, DeliveriesTable, DeliveriesTable), now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due retries: %w", err)
	}
	defer rows.Close()

	var deliveries []Delivery
	for rows.Next() {
		delivery, scanErr := scanDelivery(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan delivery: %w", scanErr)
		}
		deliveries = append(deliveries, delivery)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}

	return deliveries, nil
}

func scanDelivery(row pgx.Row) (Delivery, error) {
	var (
		d       Delivery
		payload []byte
	)
	if err := row.Scan(
		&d.DeliveryID,
		&d.SubscriptionID,
		&d.Event,
		&payload,
		&d.Status,
		&d.AttemptCount,
		&d.MaxAttempts,
		&d.ResponseStatus,
		&d.ResponseBody,
		&d.ErrorText,
		&d.LatencyMs,
		&d.NextRetryAt,
		&d.CompletedAt,
		&d.CreatedAt,
	); err != nil {
		return Delivery{}, err
	}
	d.Payload = json.RawMessage(payload)
	return d, nil
}
