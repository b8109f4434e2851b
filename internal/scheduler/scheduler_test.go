package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LJTian/NewsLens/internal/logger"
)

func TestNewRejectsInvalidSpec(t *testing.T) {
	if _, err := New("not a spec", func(context.Context) error { return nil }, logger.Discard()); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}

func TestRunOnceReturnsJobError(t *testing.T) {
	boom := errors.New("boom")
	s, err := New("@yearly", func(context.Context) error { return boom }, logger.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.RunOnce(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("RunOnce = %v", err)
	}
}

func TestStartRunsAfterStartupDelay(t *testing.T) {
	var runs atomic.Int32
	s, err := New("@yearly", func(context.Context) error {
		runs.Add(1)
		return nil
	}, logger.Discard(), WithStartupDelay(10*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if runs.Load() != 1 {
		t.Fatalf("runs = %d, want 1", runs.Load())
	}
}

func TestStopCancelsPendingStartupRun(t *testing.T) {
	var runs atomic.Int32
	s, err := New("@yearly", func(context.Context) error {
		runs.Add(1)
		return nil
	}, logger.Discard(), WithStartupDelay(50*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if runs.Load() != 0 {
		t.Fatalf("startup run should have been cancelled, runs = %d", runs.Load())
	}
}

func TestStopWaitsForRunningJob(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	s, err := New("@yearly", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return ctx.Err()
	}, logger.Discard(), WithStartupDelay(time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !finished.Load() {
		t.Fatal("Stop returned before the running job finished")
	}
}
