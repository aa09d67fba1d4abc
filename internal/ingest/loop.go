package ingest

import (
	"context"
	"log/slog"
	"time"
)

// Loop repeats Run every interval until ctx is cancelled. onRun, if set,
// observes each run's result.
func (d *Driver) Loop(ctx context.Context, interval time.Duration, onRun func(Summary, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		summary, err := d.Run(ctx)
		if onRun != nil {
			onRun(summary, err)
		}
		if err != nil {
			d.config.Logger.Error("ingestion run failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
