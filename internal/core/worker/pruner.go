package worker

import (
	"context"
	"log/slog"
	"time"
)

// Store holds records that expire once settled.
type Store interface {
	// PruneSettled drops settled records last updated before the cutoff and
	// returns how many were removed.
	PruneSettled(before time.Time) int
}

// Pruner evicts settled records past a retention period.
type Pruner struct {
	store     Store
	retention time.Duration
	log       *slog.Logger
}

// NewPruner creates a new Pruner worker.
func NewPruner(store Store, retention time.Duration) *Pruner {
	return &Pruner{
		store:     store,
		retention: retention,
		log:       slog.Default(),
	}
}

// Start runs the pruner loop until ctx is done.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	// 10% of the retention period, clamped to [1s, 1h]
	interval := min(p.retention/10, time.Hour)
	interval = max(interval, time.Second)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(time.Now())
		}
	}
}

func (p *Pruner) prune(now time.Time) int {
	n := p.store.PruneSettled(now.Add(-p.retention))
	if n > 0 {
		p.log.Debug("Pruned settled records", "count", n, "retention", p.retention)
	}
	return n
}
