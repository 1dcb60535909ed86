package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	for _, expr := range []string{"* * * * *", "@every 1m", "@daily"} {
		if err := s.AddJob(expr, func() {}); err != nil {
			t.Errorf("Expected no error adding job %q, got %v", expr, err)
		}
	}
	if err := s.AddJob("not a schedule", func() {}); err == nil {
		t.Error("Expected error for invalid expression")
	}
	if s.Len() != 3 {
		t.Errorf("Expected 3 jobs, got %d", s.Len())
	}
}

func TestSchedulerRunsJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var runs atomic.Int32
	if err := s.AddJob("@every 1s", func() { runs.Add(1) }); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if runs.Load() == 0 {
		t.Error("job did not run within 3s")
	}
}

type fakeHistory struct{ resets atomic.Int32 }

func (f *fakeHistory) ResetAll() { f.resets.Add(1) }

type fakeTickets struct{ sweeps atomic.Int32 }

func (f *fakeTickets) SweepExpired() int {
	f.sweeps.Add(1)
	return 0
}

func TestScheduleSweeps(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	h, tk := &fakeHistory{}, &fakeTickets{}
	if err := s.ScheduleSweeps(h, tk); err != nil {
		t.Fatalf("ScheduleSweeps failed: %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("Expected 2 sweep jobs, got %d", s.Len())
	}
	// neither sweep fires at registration time
	if h.resets.Load() != 0 || tk.sweeps.Load() != 0 {
		t.Error("sweeps must not run immediately")
	}
}
