package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	core "github.com/coredb/execore/internal/jobs/core"
)

func TestFIFOSchedulerHoldsBackConflictingProcedureUntilDone(t *testing.T) {
	s := NewFIFOScheduler()

	p1 := core.NewProcedure(uuid.New(), false)
	p2 := core.NewProcedure(uuid.New(), false)

	s.EnqueueProcedure(p1)
	s.EnqueueProcedure(p2)

	ctx := context.Background()
	got1 := s.NextProcedure(ctx)
	if got1 != p1 {
		t.Fatalf("expected p1 first, got %v", got1)
	}

	resultCh := make(chan *core.Procedure, 1)
	go func() { resultCh <- s.NextProcedure(ctx) }()

	select {
	case <-resultCh:
		t.Fatal("expected NextProcedure to block while p1's lock is held")
	case <-time.After(50 * time.Millisecond):
	}

	s.Done(p1)

	select {
	case got2 := <-resultCh:
		if got2 != p2 {
			t.Fatalf("expected p2 after Done(p1), got %v", got2)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for p2 to become runnable")
	}
}

func TestFIFOSchedulerReturnsNilAfterShutdownDrains(t *testing.T) {
	s := NewFIFOScheduler()
	p := core.NewProcedure(uuid.New(), false)
	s.EnqueueProcedure(p)
	s.EnqueueProcedure(nil)

	ctx := context.Background()
	got := s.NextProcedure(ctx)
	if got != p {
		t.Fatalf("expected the pending procedure before shutdown, got %v", got)
	}
	s.Done(p)

	if got := s.NextProcedure(ctx); got != nil {
		t.Fatalf("expected nil after shutdown drained, got %v", got)
	}
}
