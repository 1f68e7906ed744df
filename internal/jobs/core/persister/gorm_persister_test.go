package persister

import (
	"context"
	"testing"

	"github.com/coredb/execore/internal/data/repos/testutil"
)

func TestGormPersisterBeginCommitRoundTrip(t *testing.T) {
	db := testutil.DB(t)
	p := NewGormPersister(db)
	ctx := context.Background()

	if err := p.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if p.DBCtx.Tx == nil {
		t.Fatal("expected DBCtx.Tx to be set after Begin")
	}
	if err := p.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if p.DBCtx.Tx != nil {
		t.Fatal("expected DBCtx.Tx to be cleared after Commit")
	}
}

func TestGormPersisterRollbackClearsTransaction(t *testing.T) {
	db := testutil.DB(t)
	p := NewGormPersister(db)
	ctx := context.Background()

	if err := p.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := p.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if p.DBCtx.Tx != nil {
		t.Fatal("expected DBCtx.Tx to be cleared after Rollback")
	}
	// Rollback on an already-closed transaction is tolerated.
	if err := p.Rollback(ctx); err != nil {
		t.Fatalf("second Rollback should be a no-op, got %v", err)
	}
}

func TestGormPersisterRejectsDoubleBegin(t *testing.T) {
	db := testutil.DB(t)
	p := NewGormPersister(db)
	ctx := context.Background()

	if err := p.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer p.Rollback(ctx)

	if err := p.Begin(ctx); err == nil {
		t.Fatal("expected second Begin to fail while a transaction is already open")
	}
}
