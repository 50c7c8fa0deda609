package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	gocron "github.com/go-co-op/gocron/v2"

	"github.com/contentflow/wfm/internal/joblog"
	"github.com/contentflow/wfm/internal/model"
)

// Janitor removes job logs left behind by earlier service runs. Job state is
// kept in memory only, so after a restart nothing refers to them any more.
// Logs of jobs known to the controller are never touched.
type Janitor struct {
	dir       string
	jobs      JobSource
	retention time.Duration
	now       func() time.Time
	scheduler gocron.Scheduler
}

// NewJanitor schedules sweeps of dir according to cfg.
func NewJanitor(ctx context.Context, cfg model.Janitor, dir string, jobs JobSource) (*Janitor, error) {
	retention, err := ParseCueDuration(cfg.Retention)
	if err != nil {
		return nil, fmt.Errorf("parsing janitor.retention: %w", err)
	}
	j := &Janitor{
		dir:       dir,
		jobs:      jobs,
		retention: retention,
		now:       time.Now,
	}

	var def gocron.JobDefinition
	switch {
	case cfg.Cron != "":
		if err := ParseCron(cfg.Cron); err != nil {
			return nil, fmt.Errorf("parsing janitor.cron: %w", err)
		}
		def = gocron.CronJob(cfg.Cron, false)
		slog.DebugContext(ctx, "successfully parsed", "cron", cfg.Cron)
	case cfg.Every != "":
		d, err := ParseCueDuration(cfg.Every)
		if err != nil {
			return nil, fmt.Errorf("parsing janitor.every: %w", err)
		}
		if d <= 0 {
			return nil, errors.New("janitor.every must be positive")
		}
		def = gocron.DurationJob(d)
		slog.DebugContext(ctx, "successfully parsed", "every", d.String())
	default:
		return nil, errors.New("both janitor.cron and janitor.every are empty")
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(def, gocron.NewTask(func() {
		if _, _, err := j.Sweep(ctx); err != nil {
			slog.ErrorContext(ctx, "log sweep failed", "error", err)
		}
	}))
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	j.scheduler = s
	return j, nil
}

// Run starts the scheduler and blocks until ctx is done.
func (j *Janitor) Run(ctx context.Context) error {
	j.scheduler.Start()
	<-ctx.Done()
	if err := j.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("shutting down gocron: %w", err)
	}
	return nil
}

// Sweep removes orphaned logs older than the retention and reports how many
// files and bytes went away.
func (j *Janitor) Sweep(ctx context.Context) (int, int64, error) {
	entries, err := os.ReadDir(j.dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("reading log dir: %w", err)
	}

	cutoff := j.now().Add(-j.retention)
	var removed int
	var freed int64
	var errs []error
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		id, ok := joblog.JobID(e.Name())
		if !ok {
			continue
		}
		if _, err := j.jobs.Get(id); err == nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(j.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
		freed += info.Size()
	}

	if removed > 0 {
		slog.InfoContext(ctx, "removed orphaned job logs",
			"count", removed,
			"freed", humanize.Bytes(uint64(freed)))
	}
	return removed, freed, errors.Join(errs...)
}
