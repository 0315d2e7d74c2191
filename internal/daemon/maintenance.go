package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/civalops/farmcoord/internal/coordinator"
	"github.com/civalops/farmcoord/internal/httpapi"
	"github.com/civalops/farmcoord/internal/otel"
	"github.com/civalops/farmcoord/pkg/models"
)

// runMaintenance periodically refreshes the priority buckets of every farm and,
// when enabled, rebalances overloaded farms. Snapshot changes reach dashboards
// through the SSE events the coordinator publishes.
func runMaintenance(ctx context.Context, opts StartOptions, app *httpapi.App) {
	interval := time.Duration(opts.IntervalSec * float64(time.Second))
	if interval <= 0 {
		return
	}

	sem := make(chan struct{}, models.DefaultMaintenanceChanSize)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			farms, err := app.Store.ListFarms(ctx)
			if err != nil {
				slog.Error("maintenance list farms failed", "err", err)
				continue
			}

			var wg sync.WaitGroup
			for _, f := range farms {
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					wg.Wait()
					return
				}
				wg.Add(1)
				go func(farm string) {
					defer wg.Done()
					defer func() { <-sem }()
					maintainFarm(ctx, opts, app, farm)
				}(f.Name)
			}
			wg.Wait()
		}
	}
}

func maintainFarm(ctx context.Context, opts StartOptions, app *httpapi.App, farm string) {
	snap, err := app.Coordinator.UpdatePriorities(ctx, farm)
	if err != nil {
		slog.Error("maintenance reprioritize failed", "farm", farm, "err", err)
		return
	}
	otel.RecordPriorityBuckets(ctx, farm,
		len(snap.Priorities.Immediate), len(snap.Priorities.Planned), len(snap.Priorities.LongTerm))
	if !opts.AutoRebalance {
		return
	}
	start := time.Now()
	res, err := app.Coordinator.RebalanceWorkload(ctx, farm)
	if err != nil {
		// Conflicts just mean the farm was busy; the next tick retries.
		if coordinator.IsRecoverable(err) {
			slog.Info("maintenance rebalance skipped", "farm", farm, "reason", err)
		} else {
			slog.Error("maintenance rebalance failed", "farm", farm, "err", err)
		}
		otel.RecordRebalance(ctx, farm, "error", 0, time.Since(start))
		return
	}
	outcome := "applied"
	if len(res.Moves) == 0 {
		outcome = "noop"
	}
	otel.RecordRebalance(ctx, farm, outcome, len(res.Moves), time.Since(start))
	if len(res.Moves) > 0 {
		slog.Info("maintenance rebalanced farm", "farm", farm, "moves", len(res.Moves))
	}
}
