package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestAddValidatesSpec(t *testing.T) {
	s := NewService(zerolog.Nop(), 0)
	if err := s.Add("bad", "каждый час", func(context.Context) error { return nil }); !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("expected ErrInvalidSpec, got %v", err)
	}
	for _, spec := range []string{"@hourly", "0 * * * *", "*/30 * * * * *"} {
		if err := s.Validate(spec); err != nil {
			t.Fatalf("Validate(%q): %v", spec, err)
		}
	}
}

func TestAddRejectsDuplicate(t *testing.T) {
	s := NewService(zerolog.Nop(), 0)
	noop := func(context.Context) error { return nil }
	if err := s.Add("sweep", "@hourly", noop); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add("sweep", "@daily", noop); !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}
	if _, ok := s.Next("sweep"); !ok {
		t.Fatalf("registered job must be known")
	}
	if _, ok := s.Next("missing"); ok {
		t.Fatalf("unknown job must not be known")
	}
}

func TestRunExecutesJobs(t *testing.T) {
	s := NewService(zerolog.Nop(), time.Second)
	var calls atomic.Int32
	if err := s.Add("tick", "* * * * * *", func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Errorf("job context must carry a deadline")
		}
		calls.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if calls.Load() == 0 {
		t.Fatalf("job was never executed")
	}
}
