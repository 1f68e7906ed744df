package checkpoint

import (
	"context"
	"testing"

	"github.com/google/uuid"

	core "github.com/coredb/execore/internal/jobs/core"
)

func TestInMemoryStoreBracketsBeginFinishRemove(t *testing.T) {
	store := NewInMemoryStore("test.action")
	jobID := uuid.New()

	if err := store.Register(context.Background(), []core.CheckpointRegistration{{
		JobID:     jobID,
		ActionFQN: "test.action",
	}}, false); err != nil {
		t.Fatalf("Register: %v", err)
	}

	handle := store.Handle(jobID)
	if err := handle.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	begin, finish, ok := store.Row(jobID)
	if !ok || begin == nil || finish != nil {
		t.Fatalf("expected begin set, finish unset after Begin: ok=%v begin=%v finish=%v", ok, begin, finish)
	}

	if err := handle.Finish(context.Background()); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	_, finish, ok = store.Row(jobID)
	if !ok || finish == nil {
		t.Fatal("expected finish set after Finish")
	}

	if err := store.Remove(context.Background(), jobID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, _, ok := store.Row(jobID); ok {
		t.Fatal("expected row to be gone after Remove")
	}
}
