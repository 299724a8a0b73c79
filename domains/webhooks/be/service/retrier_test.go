package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetrierDecisionMatrix(t *testing.T) {
	t.Parallel()

	retrier := NewRetrier(nil)

	cases := []struct {
		name         string
		statusCode   int
		attemptsMade int
		maxAttempts  int
		want         Decision
	}{
		{"200 delivered", 200, 1, 4, DecisionDelivered},
		{"204 delivered", 204, 1, 4, DecisionDelivered},
		{"400 permanent", 400, 1, 4, DecisionFailed},
		{"404 permanent", 404, 1, 4, DecisionFailed},
		{"410 permanent", 410, 1, 4, DecisionFailed},
		{"429 retries", 429, 1, 4, DecisionRetry},
		{"429 exhausted", 429, 4, 4, DecisionFailed},
		{"500 retries", 500, 1, 4, DecisionRetry},
		{"503 retries", 503, 3, 4, DecisionRetry},
		{"500 exhausted", 500, 4, 4, DecisionFailed},
		{"transport error retries", 0, 1, 4, DecisionRetry},
		{"transport error exhausted", 0, 4, 4, DecisionFailed},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, retrier.Decide(tc.statusCode, tc.attemptsMade, tc.maxAttempts))
		})
	}
}

func TestRetrierBackoffSchedule(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC)
	retrier := NewRetrier(nil)
	retrier.now = func() time.Time { return fixed }

	require.Equal(t, fixed.Add(5*time.Minute), retrier.NextRetryAt(1))
	require.Equal(t, fixed.Add(15*time.Minute), retrier.NextRetryAt(2))
	require.Equal(t, fixed.Add(time.Hour), retrier.NextRetryAt(3))
	// attempts past the schedule reuse the last entry
	require.Equal(t, fixed.Add(time.Hour), retrier.NextRetryAt(7))
}
