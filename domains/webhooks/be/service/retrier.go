package service

import "time"

// Decision is the outcome of evaluating one delivery attempt.
type Decision int

const (
	// DecisionDelivered means the destination answered 2xx.
	DecisionDelivered Decision = iota
	// DecisionRetry means the attempt failed but a further attempt is
	// scheduled.
	DecisionRetry
	// DecisionFailed means the delivery is resolved as permanently failed.
	DecisionFailed
)

// DefaultSchedule backs off sharply: misbehaving destinations tend to
// stay down for a while.
var DefaultSchedule = []time.Duration{5 * time.Minute, 15 * time.Minute, time.Hour}

// Retrier decides what happens to a delivery after an attempt.
//
// Decision matrix:
//   - 2xx → delivered
//   - 429 → retry while attempts remain (destination asked us to slow down)
//   - other 4xx → permanently failed (a client error will not self-correct)
//   - 5xx or transport error (status 0) → retry while attempts remain
type Retrier struct {
	schedule []time.Duration
	now      func() time.Time
}

// NewRetrier creates a retrier with the given backoff schedule.
func NewRetrier(schedule []time.Duration) *Retrier {
	if len(schedule) == 0 {
		schedule = DefaultSchedule
	}
	return &Retrier{schedule: schedule, now: time.Now}
}

// Decide evaluates one attempt. attemptsMade includes the attempt being
// evaluated; maxAttempts is the delivery's lifetime cap.
func (r *Retrier) Decide(statusCode int, attemptsMade, maxAttempts int) Decision {
	if statusCode >= 200 && statusCode < 300 {
		return DecisionDelivered
	}

	if statusCode >= 400 && statusCode < 500 && statusCode != 429 {
		return DecisionFailed
	}

	if attemptsMade < maxAttempts {
		return DecisionRetry
	}
	return DecisionFailed
}

// NextRetryAt returns when the next attempt is due after attemptsMade
// failures. Attempts beyond the schedule reuse its last entry.
func (r *Retrier) NextRetryAt(attemptsMade int) time.Time {
	idx := attemptsMade - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(r.schedule) {
		idx = len(r.schedule) - 1
	}
	return r.now().UTC().Add(r.schedule[idx])
}
