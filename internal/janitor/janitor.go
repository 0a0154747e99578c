// Package janitor runs the buffer's periodic maintenance passes on a cron
// schedule (spec.md §4.4): reclaim_stuck, expire_due, cleanup, and
// snapshot_stats, each its own transaction so a failure in one pass never
// blocks the others. Scheduling is done with robfig/cron/v3, declared in
// the teacher's go.mod but never wired into a running component there.
package janitor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/armorclaw/iobridge/internal/logging"
)

// Buffer is the narrow subset of *buffer.Buffer the janitor depends on.
type Buffer interface {
	ExpireDue(ctx context.Context, now time.Time) (int, error)
	ReclaimStuck(ctx context.Context, now time.Time) (int, error)
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)
	SnapshotStats(ctx context.Context) error
}

// Config sets the janitor's run cadence and the retention window
// Cleanup enforces.
type Config struct {
	ReclaimStuckSchedule  string // cron expression, default "@every 30s"
	ExpireDueSchedule     string // default "@every 1m"
	CleanupSchedule       string // default "@every 1h"
	SnapshotStatsSchedule string // default "@every 1m"
	Retention             time.Duration
}

// Janitor owns a cron scheduler running the buffer's four maintenance
// passes independently.
type Janitor struct {
	buf    Buffer
	cfg    Config
	cron   *cron.Cron
	log    *logging.Logger
}

func New(buf Buffer, cfg Config, log *logging.Logger) *Janitor {
	if cfg.ReclaimStuckSchedule == "" {
		cfg.ReclaimStuckSchedule = "@every 30s"
	}
	if cfg.ExpireDueSchedule == "" {
		cfg.ExpireDueSchedule = "@every 1m"
	}
	if cfg.CleanupSchedule == "" {
		cfg.CleanupSchedule = "@every 1h"
	}
	if cfg.SnapshotStatsSchedule == "" {
		cfg.SnapshotStatsSchedule = "@every 1m"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	return &Janitor{
		buf:  buf,
		cfg:  cfg,
		cron: cron.New(),
		log:  log.WithComponent("janitor"),
	}
}

// Start registers the four maintenance passes and starts the scheduler.
// It returns an error only if a schedule expression fails to parse.
func (j *Janitor) Start(ctx context.Context) error {
	entries := []struct {
		name     string
		schedule string
		run      func(context.Context)
	}{
		{"reclaim_stuck", j.cfg.ReclaimStuckSchedule, j.runReclaimStuck},
		{"expire_due", j.cfg.ExpireDueSchedule, j.runExpireDue},
		{"cleanup", j.cfg.CleanupSchedule, j.runCleanup},
		{"snapshot_stats", j.cfg.SnapshotStatsSchedule, j.runSnapshotStats},
	}
	for _, e := range entries {
		run := e.run
		if _, err := j.cron.AddFunc(e.schedule, func() { run(ctx) }); err != nil {
			return err
		}
	}
	j.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for any in-flight pass to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

func (j *Janitor) runReclaimStuck(ctx context.Context) {
	n, err := j.buf.ReclaimStuck(ctx, time.Now().UTC())
	if err != nil {
		j.log.Error("reclaim_stuck failed", "error", err)
		return
	}
	if n > 0 {
		j.log.Info("reclaimed stuck leases", "count", n)
	}
}

func (j *Janitor) runExpireDue(ctx context.Context) {
	n, err := j.buf.ExpireDue(ctx, time.Now().UTC())
	if err != nil {
		j.log.Error("expire_due failed", "error", err)
		return
	}
	if n > 0 {
		j.log.Info("expired due messages", "count", n)
	}
}

func (j *Janitor) runCleanup(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-j.cfg.Retention)
	n, err := j.buf.Cleanup(ctx, cutoff)
	if err != nil {
		j.log.Error("cleanup failed", "error", err)
		return
	}
	if n > 0 {
		j.log.Info("cleaned up completed messages", "count", n)
	}
}

func (j *Janitor) runSnapshotStats(ctx context.Context) {
	if err := j.buf.SnapshotStats(ctx); err != nil {
		j.log.Error("snapshot_stats failed", "error", err)
	}
}
