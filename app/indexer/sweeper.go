package indexer

import (
	"context"
	"log/slog"
	"time"

	"github.com/jervisd/jervis/app/database"
)

// Sweeper periodically returns items with expired leases to state new so a
// worker that died mid-index does not strand them.
type Sweeper struct {
	items    database.ItemRepository
	interval time.Duration
}

func NewSweeper(items database.ItemRepository, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{items: items, interval: interval}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.items.ResetExpiredLeases(ctx, time.Now())
			if err != nil {
				slog.Error("Lease sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Warn("Reclaimed expired leases", "count", n)
			}
		}
	}
}
