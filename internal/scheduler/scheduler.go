package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"gmail-auto-reply-go/internal/watch"
)

// Renewer is the periodic job.
type Renewer interface {
	RenewAll(ctx context.Context) (*watch.RenewSummary, error)
}

// Scheduler runs watch renewal on a fixed interval
type Scheduler struct {
	cron      *cron.Cron
	entryID   cron.EntryID
	interval  time.Duration
	renewer   Renewer
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	lastRun   time.Time
	last      *watch.RenewSummary
	mu        sync.RWMutex
}

// NewScheduler creates a new scheduler
func NewScheduler(interval time.Duration, renewer Renewer) *Scheduler {
	return &Scheduler{
		interval: interval,
		renewer:  renewer,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}
	if s.interval <= 0 {
		return fmt.Errorf("invalid renew interval %s", s.interval)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(logrus.StandardLogger())),
		cron.SkipIfStillRunning(cron.PrintfLogger(logrus.StandardLogger())),
	))
	s.entryID = s.cron.Schedule(cron.Every(s.interval), cron.FuncJob(s.renewWatches))
	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scheduler started with renew interval: %s", s.interval)
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	cancel, c := s.cancel, s.cron
	s.mu.Unlock()

	// Cancel context to stop any running operations
	cancel()

	// Wait for all jobs to complete
	ctx := c.Stop()
	select {
	case <-ctx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *Scheduler) renewWatches() {
	s.mu.RLock()
	if !s.isRunning {
		s.mu.RUnlock()
		logrus.Info("Scheduler not running, skipping renewal cycle")
		return
	}
	ctx := s.ctx
	s.mu.RUnlock()

	if _, err := s.run(ctx); err != nil {
		logrus.Errorf("Watch renewal failed: %v", err)
	}
}

func (s *Scheduler) run(ctx context.Context) (*watch.RenewSummary, error) {
	s.wg.Add(1)
	defer s.wg.Done()

	logrus.Info("Starting watch renewal cycle")
	startTime := time.Now()

	summary, err := s.renewer.RenewAll(ctx)

	s.mu.Lock()
	s.lastRun = startTime
	if summary != nil {
		s.last = summary
	}
	s.mu.Unlock()

	if err != nil {
		return summary, err
	}
	logrus.Infof("Watch renewal cycle completed in %v", time.Since(startTime))
	return summary, nil
}

// RunOnce runs a renewal sweep now (for manual triggering)
func (s *Scheduler) RunOnce(ctx context.Context) (*watch.RenewSummary, error) {
	logrus.Info("Running watch renewal once")
	return s.run(ctx)
}

// GetNextRun returns the time of the next scheduled run
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// GetLastRun returns the time of the last run
func (s *Scheduler) GetLastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun
}

// LastSummary returns the result of the last sweep, if any
func (s *Scheduler) LastSummary() *watch.RenewSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Interval returns the renewal interval
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Wait waits for in-flight runs to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
