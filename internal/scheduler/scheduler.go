package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskFunc performs one dispatch pass and reports when the next unit of work
// comes due. The scheduler sleeps until that instant, bounded by maxInterval.
type TaskFunc func(context.Context) (time.Time, error)

// Scheduler drives the dispatch loop. Instead of a fixed ticker it wakes at
// the earliest pending deadline, so scheduled sends fire close to on time
// without busy polling.
type Scheduler struct {
	logger      *zap.Logger
	maxInterval time.Duration
	taskFunc    TaskFunc
	stopCh      chan struct{}
	doneCh      chan struct{}
	kickCh      chan struct{}
	isRunning   bool
	mu          sync.RWMutex
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(logger *zap.Logger, maxInterval time.Duration, taskFunc TaskFunc) *Scheduler {
	return &Scheduler{
		logger:      logger,
		maxInterval: maxInterval,
		taskFunc:    taskFunc,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		kickCh:      make(chan struct{}, 1),
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return ErrSchedulerAlreadyRunning
	}

	s.isRunning = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Scheduler started", zap.Duration("max_interval", s.maxInterval))
	return nil
}

// Stop halts the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh

	s.mu.Lock()
	s.isRunning = false
	s.mu.Unlock()

	s.logger.Info("Scheduler stopped")
	return nil
}

// IsRunning returns whether the scheduler is currently running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Kick wakes the loop before its current deadline, used when new work is
// enqueued. Safe to call from any goroutine; a pending kick coalesces.
func (s *Scheduler) Kick() {
	select {
	case s.kickCh <- struct{}{}:
	default:
	}
}

// run executes the scheduler loop
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)
	defer func() {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
	}()

	// Execute immediately on start
	next := s.executeTask(ctx)

	timer := time.NewTimer(s.sleepUntil(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context canceled")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received")
			return
		case <-s.kickCh:
		case <-timer.C:
		}

		next = s.executeTask(ctx)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.sleepUntil(next))
	}
}

// executeTask runs the task function with error handling
func (s *Scheduler) executeTask(ctx context.Context) time.Time {
	taskCtx, cancel := context.WithTimeout(ctx, s.maxInterval)
	defer cancel()

	next, err := s.taskFunc(taskCtx)
	if err != nil {
		s.logger.Error("Task execution failed", zap.Error(err))
	}
	return next
}

// sleepUntil bounds the wait in (0, maxInterval] so a stale deadline still
// re-checks promptly and an empty queue does not spin.
func (s *Scheduler) sleepUntil(next time.Time) time.Duration {
	d := time.Until(next)
	if d <= 0 {
		d = 10 * time.Millisecond
	}
	if d > s.maxInterval {
		d = s.maxInterval
	}
	return d
}
