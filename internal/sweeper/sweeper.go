package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var deletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tinylink_sweeper_deleted_total",
	Help: "Number of short urls removed by the background sweeper.",
}, []string{"reason"})

// Store is the slice of the short URL store the sweeper drives.
type Store interface {
	// DeleteExpiredByDate bulk-deletes records expired before now and returns how many were removed.
	DeleteExpiredByDate(ctx context.Context, now time.Time) (int64, error)

	// DeleteExhausted bulk-deletes records whose use counter reached zero and returns how many were removed.
	DeleteExhausted(ctx context.Context) (int64, error)
}

// Sweeper periodically removes expired and exhausted short urls. It
// complements the lazy cleanup on the redirect path: both deletion paths are
// idempotent, so overlapping with a concurrent redirect-side delete is safe.
type Sweeper struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger
}

func New(store Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps on a fixed interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one tick: both bulk deletes, independently. A failure of one
// pass does not stop the other; failures are logged and retried implicitly on
// the next tick.
func (s *Sweeper) Sweep(ctx context.Context) (expired, exhausted int64) {
	var err error

	expired, err = s.store.DeleteExpiredByDate(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("failed to delete expired short urls", slog.Any("err", err))
	} else {
		deletedTotal.WithLabelValues("expired").Add(float64(expired))
	}

	exhausted, err = s.store.DeleteExhausted(ctx)
	if err != nil {
		s.logger.Error("failed to delete exhausted short urls", slog.Any("err", err))
	} else {
		deletedTotal.WithLabelValues("exhausted").Add(float64(exhausted))
	}

	if expired > 0 || exhausted > 0 {
		s.logger.Info("sweep finished",
			slog.Int64("expired", expired),
			slog.Int64("exhausted", exhausted),
		)
	}

	return expired, exhausted
}
