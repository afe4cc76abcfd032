// Package scheduler runs delayed and recurring jobs addressed by a
// stable job ID, so a caller can cancel a specific pending timeout
// (e.g. a handshake response deadline) without tracking the timer
// itself. Built around time.AfterFunc, the same primitive the
// reconciliation queue's delayed-requeue uses, but keyed by job ID
// instead of pushed onto an unaddressable priority queue.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/handshake/coordinator/internal/metrics"
)

// Handler is invoked when a scheduled job fires. ctx is cancelled when
// the Scheduler is stopped.
type Handler func(ctx context.Context, jobID string)

// Scheduler owns a map of live timers keyed by job ID.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	tickers map[string]*time.Ticker
	ctx     context.Context
	cancel  context.CancelFunc
}

// New builds a Scheduler. The returned Scheduler runs until Stop is
// called.
func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		timers:  make(map[string]*time.Timer),
		tickers: make(map[string]*time.Ticker),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ScheduleTimeout arranges for handler to run once after delay, under
// jobID. Scheduling a job ID that already has a pending timer replaces
// it (the old timer is stopped first) — callers rely on this to "reset"
// a deadline, e.g. issuing a fresh retry timeout after a push attempt.
func (s *Scheduler) ScheduleTimeout(jobID string, delay time.Duration, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[jobID]; ok {
		existing.Stop()
	}

	s.timers[jobID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, jobID)
		s.mu.Unlock()

		start := time.Now()
		s.runHandler(jobID, handler)
		metrics.SchedulerJobLatency.Observe(time.Since(start).Seconds())
		metrics.SchedulerJobsFired.WithLabelValues("timeout").Inc()
	})
}

// CancelTimeout stops and removes jobID's pending one-shot timer, if
// any. Returns true if a pending timer was actually cancelled.
func (s *Scheduler) CancelTimeout(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[jobID]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.timers, jobID)
	return true
}

// ScheduleRecurring runs handler every interval under jobID until
// CancelRecurring is called or the Scheduler stops.
func (s *Scheduler) ScheduleRecurring(jobID string, interval time.Duration, handler Handler) {
	s.mu.Lock()
	if existing, ok := s.tickers[jobID]; ok {
		existing.Stop()
	}
	ticker := time.NewTicker(interval)
	s.tickers[jobID] = ticker
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				s.runHandler(jobID, handler)
				metrics.SchedulerJobLatency.Observe(time.Since(start).Seconds())
				metrics.SchedulerJobsFired.WithLabelValues("recurring").Inc()
			}
		}
	}()
}

// CancelRecurring stops jobID's recurring job, if any.
func (s *Scheduler) CancelRecurring(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickers[jobID]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.tickers, jobID)
	return true
}

// Pending reports whether jobID currently has a live one-shot timer.
func (s *Scheduler) Pending(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[jobID]
	return ok
}

func (s *Scheduler) runHandler(jobID string, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("scheduler: job %s panicked: %v", jobID, r)
		}
	}()
	handler(s.ctx, jobID)
}

// Stop cancels the scheduler context and stops every live timer and
// ticker. A recurring job scheduled after Stop exits without firing; a
// one-shot job scheduled after Stop still fires, with the cancelled
// context.
func (s *Scheduler) Stop() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	for id, t := range s.tickers {
		t.Stop()
		delete(s.tickers, id)
	}
}
