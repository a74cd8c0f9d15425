package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// retentionInterval is how often expired usage entries are purged.
	retentionInterval = time.Hour
	// retentionSweepTimeout bounds a single purge.
	retentionSweepTimeout = 5 * time.Minute
)

// purgeFunc deletes entries recorded before cutoff and reports how many it
// removed.
type purgeFunc func(ctx context.Context, cutoff time.Time) (int64, error)

// retention purges usage entries older than a number of days in the
// background. A nil *retention is valid and does nothing.
type retention struct {
	days     int
	interval time.Duration
	purge    purgeFunc
	now      func() time.Time

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// startRetention sweeps once right away and then every interval. It returns
// nil when days is not positive.
func startRetention(days int, interval time.Duration, purge purgeFunc) *retention {
	if days <= 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &retention{
		days:     days,
		interval: interval,
		purge:    purge,
		now:      time.Now,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go r.run(ctx)
	return r
}

func (r *retention) run(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		r.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *retention) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, retentionSweepTimeout)
	defer cancel()

	cutoff := r.now().AddDate(0, 0, -r.days).UTC()
	n, err := r.purge(sweepCtx, cutoff)
	switch {
	case err != nil && ctx.Err() == nil:
		slog.Error("failed to purge expired usage entries", "error", err)
	case n > 0:
		slog.Info("purged expired usage entries", "deleted", n, "cutoff", cutoff)
	}
}

// stop ends the loop and waits for a sweep in progress. It is idempotent.
func (r *retention) stop() {
	if r == nil {
		return
	}
	r.stopOnce.Do(r.cancel)
	<-r.done
}
