package sweeper

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeEvictor struct {
	mu     sync.Mutex
	calls  int
	maxAge time.Duration
	result int
}

func (f *fakeEvictor) EvictOlderThan(_ context.Context, maxAge time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.maxAge = maxAge
	return f.result
}

func (f *fakeEvictor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestNewRejectsBadSchedule(t *testing.T) {
	if _, err := New(&fakeEvictor{}, "every day", time.Hour); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if _, err := New(&fakeEvictor{}, "0 3 * * * *", time.Hour); err == nil {
		t.Error("expected error for six-field schedule")
	}
}

func TestSweepUsesMaxAge(t *testing.T) {
	ev := &fakeEvictor{result: 4}
	s, err := New(ev, "0 3 * * *", 0)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if got := s.Sweep(context.Background()); got != 4 {
		t.Errorf("Sweep = %d, want 4", got)
	}
	if ev.maxAge != DefaultMaxAge {
		t.Errorf("maxAge = %v, want default %v", ev.maxAge, DefaultMaxAge)
	}
}

func TestNext(t *testing.T) {
	s, err := New(&fakeEvictor{}, "0 3 * * *", time.Hour)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	from := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	want := time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC)
	if got := s.Next(from); !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}
}

func TestRunSweepsAtStartupAndStops(t *testing.T) {
	ev := &fakeEvictor{}
	s, err := New(ev, "0 3 * * *", time.Hour)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for ev.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ev.count() != 1 {
		t.Fatalf("expected startup sweep, got %d calls", ev.count())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRunFiresOnSchedule(t *testing.T) {
	ev := &fakeEvictor{}
	s, err := New(ev, "* * * * *", time.Hour)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	// pretend every fire time is already due
	s.now = func() time.Time { return time.Now().Add(-time.Minute) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for ev.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ev.count() < 3 {
		t.Errorf("expected repeated sweeps, got %d", ev.count())
	}
}
