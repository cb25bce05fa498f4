// Package tasks runs the periodic reconciliation sweep.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"terminsync/internal/logging"
	"terminsync/internal/owners"
	"terminsync/internal/partnersync"
)

var ErrAlreadyRunning = errors.New("background sync already running")

var _ partnersync.SchedulerInfo = (*Scheduler)(nil)

// OwnerSource lists the owners to sweep and opens their workspaces.
type OwnerSource interface {
	SyncEnabled(ctx context.Context) ([]int64, error)
	Workspace(ctx context.Context, ownerID int64) (*owners.Workspace, error)
}

// Notifier is told about every finished owner sweep.
type Notifier interface {
	NotifySweep(r partnersync.Report)
}

type Options struct {
	// Enabled is the configured sync flag reported in status snapshots.
	Enabled  bool
	Interval time.Duration
	Notifier Notifier
	Logger   *logging.Logger
}

// Scheduler runs one pass over all sync-enabled owners every interval.
// Passes never overlap; Stop lets the current pass finish.
type Scheduler struct {
	owners   OwnerSource
	notifier Notifier
	log      *logging.Logger
	enabled  bool

	mu       sync.Mutex
	cron     *cron.Cron
	interval time.Duration

	pass   sync.Mutex
	inPass atomic.Bool
}

func New(src OwnerSource, opts Options) *Scheduler {
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 2 * time.Hour
	}
	return &Scheduler{
		owners:   src,
		notifier: opts.Notifier,
		log:      log,
		enabled:  opts.Enabled,
		interval: interval,
	}
}

// Start schedules a pass every interval; a non-positive interval keeps the
// current one. The first pass runs one interval after Start.
func (s *Scheduler) Start(interval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return ErrAlreadyRunning
	}
	if interval > 0 {
		s.interval = interval
	}

	cronLog := cron.PrintfLogger(s.log)
	c := cron.New(
		cron.WithLogger(cron.VerbosePrintfLogger(s.log.With("cron"))),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	c.Schedule(cron.Every(s.interval), cron.FuncJob(func() {
		s.RunOnce(context.Background())
	}))
	c.Start()
	s.cron = c
	s.log.Info("background sync started", "interval", s.interval)
	return nil
}

// Stop schedules no further passes and waits for the running one, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	done := c.Stop()
	select {
	case <-done.Done():
		s.log.Info("background sync stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running pass: %w", ctx.Err())
	}
}

// RunOnce reconciles every sync-enabled owner, one after another. A failing
// owner is logged and skipped. Cancelling ctx stops before the next owner.
func (s *Scheduler) RunOnce(ctx context.Context) []partnersync.Report {
	s.pass.Lock()
	defer s.pass.Unlock()
	s.inPass.Store(true)
	defer s.inPass.Store(false)

	started := time.Now()
	ids, err := s.owners.SyncEnabled(ctx)
	if err != nil {
		s.log.Error("listing owners for sweep failed", "err", err)
		return nil
	}

	reports := make([]partnersync.Report, 0, len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			s.log.Warn("sweep cancelled", "remaining", len(ids)-len(reports))
			break
		}
		r, err := s.sweep(ctx, id)
		if err != nil {
			s.log.Error("owner sweep failed", "owner", id, "err", err)
			continue
		}
		reports = append(reports, r)
		if s.notifier != nil {
			s.notifier.NotifySweep(r)
		}
	}
	s.log.Info("sweep pass finished", "owners", len(reports), "elapsed", time.Since(started).Round(time.Millisecond))
	return reports
}

func (s *Scheduler) sweep(ctx context.Context, ownerID int64) (r partnersync.Report, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	ws, err := s.owners.Workspace(ctx, ownerID)
	if err != nil {
		return r, err
	}
	return ws.Engine.ReconcileAll(ctx), nil
}

func (s *Scheduler) Enabled() bool { return s.enabled }

// Running reports whether passes are scheduled.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

// InPass reports whether a pass is executing right now.
func (s *Scheduler) InPass() bool { return s.inPass.Load() }

func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}
