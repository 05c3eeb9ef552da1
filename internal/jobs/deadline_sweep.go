package jobs

import (
	"context"
	"log"
	"time"

	"starthub/submission/internal/config"
	"starthub/submission/internal/workflow"
)

// StartDeadlineSweepJob periodically force-submits saved projects past their
// deadline. The sweep itself is idempotent, so overlapping admin-triggered
// sweeps are harmless.
func StartDeadlineSweepJob(ctx context.Context, cfg config.Config, flow *workflow.Service) {
	if !cfg.SweepJobEnabled {
		return
	}
	interval := cfg.SweepJobInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	timeout := cfg.SweepJobTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, timeout)
				result, err := flow.SweepDeadlines(tickCtx)
				cancel()
				if err != nil {
					log.Printf("deadline sweep job error: %v", err)
					continue
				}
				if result.Transitioned > 0 {
					log.Printf("deadline sweep job submitted %d projects", result.Transitioned)
				}
				if len(result.Failures) > 0 {
					log.Printf("deadline sweep job skipped %d projects", len(result.Failures))
				}
			}
		}
	}()
}
