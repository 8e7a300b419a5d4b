package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by Spawn after Close.
var ErrClosed = errors.New("supervisor closed")

// ProcessFunc runs one notification.
type ProcessFunc func(ctx context.Context, userID string, historyID uint64) error

// Task is a handle on a detached run.
type Task struct {
	UserID    string
	HistoryID uint64
	done      chan struct{}
	err       error
}

// Done is closed when the task finishes.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err is the task's result; valid after Done is closed.
func (t *Task) Err() error { return t.err }

// Supervisor runs notifications in the background. A task's context is
// detached from the caller's: cancelling the request that spawned it does
// not cancel the work. Close waits for tasks still running.
type Supervisor struct {
	process ProcessFunc
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewSupervisor(process ProcessFunc, timeout time.Duration) *Supervisor {
	return &Supervisor{process: process, timeout: timeout}
}

// Dispatch implements Dispatcher.
func (s *Supervisor) Dispatch(ctx context.Context, userID string, historyID uint64) error {
	_, err := s.Spawn(ctx, userID, historyID)
	return err
}

// Spawn starts a detached run and returns its handle.
func (s *Supervisor) Spawn(ctx context.Context, userID string, historyID uint64) (*Task, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()

	task := &Task{UserID: userID, HistoryID: historyID, done: make(chan struct{})}
	taskCtx := context.WithoutCancel(ctx)

	go func() {
		defer s.wg.Done()
		defer close(task.done)
		task.err = s.run(taskCtx, userID, historyID)
	}()
	return task, nil
}

func (s *Supervisor) run(ctx context.Context, userID string, historyID uint64) (err error) {
	log := logrus.WithFields(logrus.Fields{"user_id": userID, "history_id": historyID})
	start := time.Now()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("background task panic: %v", r)
		}
		if err != nil {
			log.Errorf("Background notification task failed: %v", err)
			return
		}
		log.WithField("duration", time.Since(start).String()).Debug("Background notification task finished")
	}()

	return s.process(ctx, userID, historyID)
}

// Close stops accepting tasks and waits for running ones until ctx ends.
func (s *Supervisor) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("background tasks still running: %w", ctx.Err())
	}
}
