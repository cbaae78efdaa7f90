package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestScheduler_RegisterAndRunOnce(t *testing.T) {
	s := NewScheduler(time.UTC, zerolog.Nop())
	calls := 0
	if err := s.Register("reminders", "0 18 * * *", func(ctx context.Context) error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := s.RunOnce(context.Background(), "reminders"); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestScheduler_RejectsBadSchedule(t *testing.T) {
	s := NewScheduler(time.UTC, zerolog.Nop())
	if err := s.Register("bad", "every tuesday", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}

func TestScheduler_RejectsDuplicate(t *testing.T) {
	s := NewScheduler(time.UTC, zerolog.Nop())
	noop := func(context.Context) error { return nil }
	if err := s.Register("cleanup", "@hourly", noop); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Register("cleanup", "@hourly", noop); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestScheduler_UnknownJob(t *testing.T) {
	if err := NewScheduler(time.UTC, zerolog.Nop()).RunOnce(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown job")
	}
}

func TestScheduler_PropagatesJobError(t *testing.T) {
	s := NewScheduler(time.UTC, zerolog.Nop())
	boom := errors.New("boom")
	s.Register("sync", "@daily", func(context.Context) error { return boom })
	if err := s.RunOnce(context.Background(), "sync"); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestScheduler_Names(t *testing.T) {
	s := NewScheduler(time.UTC, zerolog.Nop())
	noop := func(context.Context) error { return nil }
	s.Register("b", "@daily", noop)
	s.Register("a", "@daily", noop)
	names := s.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("expected [a b], got %v", names)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(time.UTC, zerolog.Nop())
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
