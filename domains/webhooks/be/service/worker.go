package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	domainrepo "github.com/clearops/clearops-gateway/domains/webhooks/be/repo"
)

// RetryWorker polls for failed deliveries whose retry time has passed
// and hands them back to the dispatcher. Claiming flips the rows to
// pending inside the datastore, so multiple gateway replicas can run a
// worker each without double-sending.
type RetryWorker struct {
	repo       domainrepo.Repository
	dispatcher *Dispatcher
	logger     *zap.Logger
	interval   time.Duration
	batchSize  int
	onSweep    func(claimed int)
	now        func() time.Time
}

// WorkerConfig assembles a RetryWorker.
type WorkerConfig struct {
	Repo       domainrepo.Repository
	Dispatcher *Dispatcher
	Logger     *zap.Logger
	// Interval between sweeps. Defaults to 30s.
	Interval time.Duration
	// BatchSize caps claims per sweep. Defaults to 50.
	BatchSize int
	// OnSweep, when set, is called with the claim count after each sweep.
	OnSweep func(claimed int)
}

// NewRetryWorker constructs a RetryWorker.
func NewRetryWorker(cfg WorkerConfig) *RetryWorker {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}

	return &RetryWorker{
		repo:       cfg.Repo,
		dispatcher: cfg.Dispatcher,
		logger:     cfg.Logger,
		interval:   cfg.Interval,
		batchSize:  cfg.BatchSize,
		onSweep:    cfg.OnSweep,
		now:        time.Now,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (w *RetryWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("retry worker started", zap.Duration("interval", w.interval))

	// Deliveries that came due while the process was down should not
	// also wait out the first tick.
	w.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("retry worker stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep claims one batch of due deliveries and re-attempts each.
func (w *RetryWorker) Sweep(ctx context.Context) {
	claimed, err := w.repo.ClaimDueRetries(ctx, w.now(), w.batchSize)
	if err != nil {
		w.logger.Error("claim due retries failed", zap.Error(err))
		return
	}

	if w.onSweep != nil {
		w.onSweep(len(claimed))
	}
	if len(claimed) == 0 {
		return
	}

	w.logger.Info("retrying webhook deliveries", zap.Int("count", len(claimed)))
	for _, delivery := range claimed {
		w.dispatcher.Redeliver(ctx, delivery)
	}
}
