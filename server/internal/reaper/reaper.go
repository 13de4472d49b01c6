// Package reaper periodically sweeps the Node registry for stale
// heartbeats, transitioning nodes to offline once their last heartbeat
// exceeds the configured timeout (spec §4.5 "heartbeat timeout").
//
// Grounded on server/internal/scheduler/scheduler.go's use of
// github.com/go-co-op/gocron/v2: that package drives N independent
// per-policy cron jobs, one per schedule string; this package instead runs
// a single periodic gocron job that sweeps every known node name, replacing
// what would otherwise be one timer per node with one ticking job (spec §9
// design note).
package reaper

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/fleetd-io/fleetd/server/internal/node"
)

// Reaper owns the gocron scheduler driving the heartbeat sweep.
type Reaper struct {
	cron     gocron.Scheduler
	registry *node.Registry
	timeout  time.Duration
	logger   *zap.Logger
}

// Config configures a new Reaper.
type Config struct {
	Registry *node.Registry
	// Timeout is the heartbeat staleness window; the spec requires it fall
	// within [2,3] heartbeat intervals, enforced by the caller wiring this
	// Config from the Heartbeat-interval configuration option.
	Timeout time.Duration
	// Interval is how often the sweep runs; it should be smaller than
	// Timeout so no node overstays its welcome by more than one tick.
	Interval time.Duration
	Logger   *zap.Logger
}

// New creates a Reaper. Call Start to begin sweeping.
func New(cfg Config) (*Reaper, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Reaper{
		cron:     s,
		registry: cfg.Registry,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger.Named("reaper"),
	}, nil
}

// Start schedules the sweep job and starts the underlying gocron scheduler.
func (r *Reaper) Start(interval time.Duration) error {
	_, err := r.cron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(r.sweep),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule heartbeat sweep: %w", err)
	}
	r.cron.Start()
	r.logger.Info("heartbeat reaper started", zap.Duration("interval", interval), zap.Duration("timeout", r.timeout))
	return nil
}

// Stop gracefully shuts down the reaper, waiting for any in-flight sweep to
// finish.
func (r *Reaper) Stop() error {
	if err := r.cron.Shutdown(); err != nil {
		return fmt.Errorf("reaper shutdown error: %w", err)
	}
	r.logger.Info("heartbeat reaper stopped")
	return nil
}

// sweep is the task body run on every tick.
func (r *Reaper) sweep() {
	r.Sweep(time.Now())
}

// Sweep checks every known node's last heartbeat against now and marks it
// offline if stale, returning the names it transitioned. Exposed
// separately from the gocron-driven tick so the sweep logic itself can be
// tested deterministically.
func (r *Reaper) Sweep(now time.Time) []string {
	var offlined []string
	for _, name := range r.registry.Names() {
		if r.registry.MarkOfflineIfStale(name, now, r.timeout) {
			r.logger.Info("node marked offline on heartbeat timeout", zap.String("node", name))
			offlined = append(offlined, name)
		}
	}
	return offlined
}
