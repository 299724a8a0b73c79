// Package quota enforces per-credential request budgets over a trailing
// sixty-second window. Counting is delegated to the usage ledger so the
// window survives process restarts and is shared across replicas.
package quota

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Window is the span the per-minute budget is measured over.
const Window = time.Minute

// UsageCounter reports how many requests a credential has made since a
// point in time.
type UsageCounter interface {
	CountSince(ctx context.Context, credentialID uuid.UUID, since time.Time) (int, error)
}

// Decision is the outcome of a single admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Used       int
	RetryAfter time.Duration
}

// Enforcer admits or rejects requests against a credential's budget.
type Enforcer struct {
	counter UsageCounter
	now     func() time.Time
}

func NewEnforcer(counter UsageCounter) *Enforcer {
	return &Enforcer{
		counter: counter,
		now:     time.Now,
	}
}

// Check counts the credential's requests in the trailing window and
// compares the count against its limit. The request being checked is not
// yet in the ledger, so a count equal to the limit means the budget is
// spent. A limit of zero or below disables enforcement for the
// credential.
func (e *Enforcer) Check(ctx context.Context, credentialID uuid.UUID, limit int) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true, Limit: limit}, nil
	}

	used, err := e.counter.CountSince(ctx, credentialID, e.now().Add(-Window))
	if err != nil {
		return Decision{}, err
	}

	decision := Decision{
		Allowed: used < limit,
		Limit:   limit,
		Used:    used,
	}
	if !decision.Allowed {
		decision.RetryAfter = Window
	}
	return decision, nil
}
