package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestScheduleTimeout_FiresAfterDelay(t *testing.T) {
	s := New()
	defer s.Stop()

	var mu sync.Mutex
	fired := false

	s.ScheduleTimeout("job-1", 20*time.Millisecond, func(ctx context.Context, jobID string) {
		mu.Lock()
		fired = true
		mu.Unlock()
	})

	if !s.Pending("job-1") {
		t.Fatal("expected job-1 to be pending immediately after scheduling")
	}

	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if !fired {
		t.Error("expected handler to have fired after delay")
	}
	if s.Pending("job-1") {
		t.Error("expected job-1 to be cleared from the pending map after firing")
	}
}

func TestCancelTimeout_PreventsFiring(t *testing.T) {
	s := New()
	defer s.Stop()

	var mu sync.Mutex
	fired := false

	s.ScheduleTimeout("job-2", 20*time.Millisecond, func(ctx context.Context, jobID string) {
		mu.Lock()
		fired = true
		mu.Unlock()
	})

	if ok := s.CancelTimeout("job-2"); !ok {
		t.Fatal("expected cancel to report a pending timer was removed")
	}

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if fired {
		t.Error("expected cancelled job to never fire")
	}
}

func TestCancelTimeout_UnknownJobReturnsFalse(t *testing.T) {
	s := New()
	defer s.Stop()

	if s.CancelTimeout("never-scheduled") {
		t.Error("expected cancel of an unknown job id to report false")
	}
}

func TestScheduleTimeout_ResetsExistingJob(t *testing.T) {
	s := New()
	defer s.Stop()

	var mu sync.Mutex
	count := 0

	handler := func(ctx context.Context, jobID string) {
		mu.Lock()
		count++
		mu.Unlock()
	}

	s.ScheduleTimeout("job-3", 15*time.Millisecond, handler)
	s.ScheduleTimeout("job-3", 40*time.Millisecond, handler)

	time.Sleep(25 * time.Millisecond)
	mu.Lock()
	gotEarly := count
	mu.Unlock()
	if gotEarly != 0 {
		t.Errorf("expected reset job to not fire at the original delay, got %d firings", gotEarly)
	}

	time.Sleep(40 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("expected job to fire exactly once after reset, got %d", count)
	}
}

func TestScheduleRecurring_FiresRepeatedly(t *testing.T) {
	s := New()
	defer s.Stop()

	var mu sync.Mutex
	count := 0

	s.ScheduleRecurring("heartbeat-sweep", 15*time.Millisecond, func(ctx context.Context, jobID string) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	time.Sleep(70 * time.Millisecond)
	s.CancelRecurring("heartbeat-sweep")

	mu.Lock()
	got := count
	mu.Unlock()
	if got < 2 {
		t.Errorf("expected at least 2 firings, got %d", got)
	}
}

func TestStop_PreventsFurtherFiring(t *testing.T) {
	s := New()

	var mu sync.Mutex
	fired := false
	s.ScheduleTimeout("job-4", 20*time.Millisecond, func(ctx context.Context, jobID string) {
		mu.Lock()
		fired = true
		mu.Unlock()
	})

	s.Stop()
	time.Sleep(40 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if fired {
		t.Error("expected stopped scheduler to not fire pending jobs")
	}
}
