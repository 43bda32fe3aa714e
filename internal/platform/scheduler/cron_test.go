package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestFireTimes_Next(t *testing.T) {
	base := time.Date(2050, time.May, 15, 8, 20, 0, 0, time.UTC)
	f := fireTimes{base, base.Add(24 * time.Hour), base.Add(48 * time.Hour)}

	tests := []struct {
		after time.Time
		want  time.Time
	}{
		{base.Add(-time.Hour), base},
		{base, base.Add(24 * time.Hour)},
		{base.Add(30 * time.Hour), base.Add(48 * time.Hour)},
		{base.Add(72 * time.Hour), time.Time{}},
	}
	for i, tt := range tests {
		if got := f.Next(tt.after); !got.Equal(tt.want) {
			t.Errorf("case %d: Next(%v) = %v, want %v", i, tt.after, got, tt.want)
		}
	}
}

func TestFireTimes_NextEmpty(t *testing.T) {
	var f fireTimes
	if got := f.Next(time.Now()); !got.IsZero() {
		t.Errorf("expected zero time from empty list, got %v", got)
	}
}

func TestScheduleRepeatingJob_Validation(t *testing.T) {
	s := NewCronScheduler(testLogger())
	ctx := context.Background()

	err := s.ScheduleRepeatingJob(ctx, RepeatingJob{Key: "", FireTimes: []time.Time{time.Now()}})
	if err == nil {
		t.Error("expected error for empty key")
	}

	err = s.ScheduleRepeatingJob(ctx, RepeatingJob{Key: "a.job"})
	if err == nil {
		t.Error("expected error for empty fire time list")
	}
}

func TestScheduleRepeatingJob_ReplacesSameKey(t *testing.T) {
	s := NewCronScheduler(testLogger())
	ctx := context.Background()
	later := time.Now().Add(time.Hour)

	if err := s.ScheduleRepeatingJob(ctx, RepeatingJob{Key: "a.job", FireTimes: []time.Time{later}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.ScheduleRepeatingJob(ctx, RepeatingJob{Key: "a.job", FireTimes: []time.Time{later.Add(time.Hour)}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	keys := s.JobKeys()
	if len(keys) != 1 || keys[0] != "a.job" {
		t.Fatalf("expected single entry for a.job, got %v", keys)
	}
}

func TestCancelJob(t *testing.T) {
	s := NewCronScheduler(testLogger())
	ctx := context.Background()

	if err := s.ScheduleRepeatingJob(ctx, RepeatingJob{
		Key:       "b.job",
		FireTimes: []time.Time{time.Now().Add(time.Hour)},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.CancelJob(ctx, "b.job"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if keys := s.JobKeys(); len(keys) != 0 {
		t.Errorf("expected no entries after cancel, got %v", keys)
	}

	// Cancelling an unknown key is a no-op.
	if err := s.CancelJob(ctx, "never-registered"); err != nil {
		t.Errorf("unexpected error for unknown key: %v", err)
	}
}

func TestCronScheduler_FiresJob(t *testing.T) {
	s := NewCronScheduler(testLogger())
	fired := make(chan string, 1)
	s.OnJobFired(func(key string, payload map[string]string) {
		fired <- key + ":" + payload["kind"]
	})

	s.Start()
	defer s.Stop(context.Background())

	err := s.ScheduleRepeatingJob(context.Background(), RepeatingJob{
		Key:       "fire.test",
		FireTimes: []time.Time{time.Now().Add(50 * time.Millisecond)},
		Payload:   map[string]string{"kind": "reminder"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case got := <-fired:
		if got != "fire.test:reminder" {
			t.Errorf("unexpected firing: %s", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for job to fire")
	}
}

func TestCronScheduler_StopDuringFireBurst(t *testing.T) {
	s := NewCronScheduler(testLogger())
	first := make(chan struct{})
	var once sync.Once
	s.OnJobFired(func(key string, payload map[string]string) {
		once.Do(func() { close(first) })
		time.Sleep(5 * time.Millisecond)
	})

	// Many jobs at the same instant, so some are still contending for the
	// scheduler's internals when Stop runs.
	at := time.Now().Add(50 * time.Millisecond)
	for i := 0; i < 100; i++ {
		err := s.ScheduleRepeatingJob(context.Background(), RepeatingJob{
			Key:       fmt.Sprintf("burst-%d", i),
			FireTimes: []time.Time{at},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	s.Start()
	select {
	case <-first:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the burst to start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop during burst: %v", err)
	}
}

func TestCronScheduler_StopWaitsForInFlightJob(t *testing.T) {
	s := NewCronScheduler(testLogger())
	entered := make(chan struct{})
	release := make(chan struct{})
	s.OnJobFired(func(key string, payload map[string]string) {
		close(entered)
		<-release
	})

	err := s.ScheduleRepeatingJob(context.Background(), RepeatingJob{
		Key:       "in.flight",
		FireTimes: []time.Time{time.Now().Add(50 * time.Millisecond)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.Start()
	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for job to fire")
	}

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- s.Stop(ctx)
	}()

	// Stop must block on the in-flight run, not abandon it.
	select {
	case err := <-done:
		t.Fatalf("stop returned before the in-flight run finished: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("stop did not return after the run finished")
	}
}
