package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/barchshimelis/supportchat/pkg/config"
	"github.com/barchshimelis/supportchat/pkg/logger"
	"github.com/barchshimelis/supportchat/pkg/models"
	"github.com/barchshimelis/supportchat/pkg/store"
)

// StartRetention starts the idle-thread sweeper if enabled. Threads whose
// last activity is older than MaxIdle lose their messages and metadata.
// Returns a cancel func.
func StartRetention(ctx context.Context, cfg config.RetentionConfig) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	// map empty cron to default daily @02:00
	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Cron)
	}

	maxIdle := cfg.MaxIdleDuration()

	logger.Info("retention_enabled", "cron", cronExpr, "max_idle", maxIdle)
	ctx2, cancel := context.WithCancel(ctx)
	go runRetention(ctx2, cronExpr, maxIdle)
	return cancel, nil
}

// runRetention uses gronx to compute the next tick for the configured cron
// expression and sleeps until that time.
func runRetention(ctx context.Context, cronExpr string, maxIdle time.Duration) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			sweepIdleThreads(maxIdle)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(wait):
			sweepIdleThreads(maxIdle)
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

func sweepIdleThreads(maxIdle time.Duration) {
	raw, err := store.ListThreads()
	if err != nil {
		logger.Error("retention_list_failed", "error", err)
		return
	}
	cutoff := time.Now().UTC().Add(-maxIdle)
	swept := 0
	for _, entry := range raw {
		var t models.Thread
		if err := json.Unmarshal([]byte(entry), &t); err != nil {
			continue
		}
		if t.LastActivity.After(cutoff) {
			continue
		}
		if err := store.ClearMessages(t.ID); err != nil {
			logger.Error("retention_clear_failed", "thread", t.ID, "error", err)
			continue
		}
		if err := store.DeleteThread(t.ID); err != nil {
			logger.Error("retention_delete_failed", "thread", t.ID, "error", err)
			continue
		}
		swept++
	}
	logger.Info("retention_run_complete", "swept", swept, "cutoff", cutoff)
}
