package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/keo-sports/stage-engine/internal/config"
	"github.com/keo-sports/stage-engine/internal/publish"
)

// Drainer replays due finalizer calls.
type Drainer interface {
	RetryFinalize(ctx context.Context, limit int) (publish.RetrySummary, error)
}

// Checker drains the finalize queue and runs alert checks in the background.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	drainer   Drainer
	cfg       config.MonitoringConfig
}

// NewChecker creates a background checker. drainer may be nil, in which
// case the finalize queue is only measured.
func NewChecker(collector *Collector, alerter *Alerter, drainer Drainer, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		drainer:   drainer,
		cfg:       cfg,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting publish checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
		zap.Bool("drain_queue", c.drainer != nil),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("publish checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check performs one drain and alert pass and returns the alerts raised.
func (c *Checker) Check(ctx context.Context) []Alert {
	log := zap.L().With(zap.String("component", "monitoring.checker"))

	if c.drainer != nil {
		batch := c.cfg.RetryBatch
		if batch <= 0 {
			batch = 50
		}
		sum, err := c.drainer.RetryFinalize(ctx, batch)
		if err != nil {
			log.Warn("monitoring: finalize drain failed", zap.Error(err))
		} else if sum.Attempted > 0 {
			log.Info("monitoring: finalize queue drained",
				zap.Int("attempted", sum.Attempted),
				zap.Int("succeeded", sum.Succeeded),
				zap.Int("failed", sum.Failed),
				zap.Int("exhausted", sum.Exhausted),
			)
		}
	}

	lookback := time.Duration(c.cfg.LookbackWindowHours) * time.Hour
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	snap, err := c.collector.Collect(ctx, lookback)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return nil
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return nil
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return alerts
}
