// Package persister provides the execution core's Persister implementations.
package persister

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/coredb/execore/internal/pkg/dbctx"
)

// GormPersister is the default core.Persister: one instance per worker
// goroutine, wrapping a single *gorm.DB transaction at a time. Grounded on
// the host repo's dbctx.Context pattern, which threads a *gorm.DB
// transaction through request-scoped work.
type GormPersister struct {
	db *gorm.DB
	tx *gorm.DB

	// DBCtx is refreshed on every Begin so action bodies that accept a
	// *dbctx.Context can read the current transaction off it.
	DBCtx *dbctx.Context
}

// NewGormPersister constructs a persister bound to db. db should be the
// base connection (not already inside a transaction); Begin opens a fresh
// transaction from it each time.
func NewGormPersister(db *gorm.DB) *GormPersister {
	return &GormPersister{db: db, DBCtx: &dbctx.Context{}}
}

func (p *GormPersister) Begin(ctx context.Context) error {
	if p.tx != nil {
		return fmt.Errorf("persister: Begin called with a transaction already open")
	}
	tx := p.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	p.tx = tx
	p.DBCtx.Ctx = ctx
	p.DBCtx.Tx = tx
	return nil
}

func (p *GormPersister) Commit(ctx context.Context) error {
	if p.tx == nil {
		return fmt.Errorf("persister: Commit called with no transaction open")
	}
	err := p.tx.Commit().Error
	p.tx = nil
	p.DBCtx.Tx = nil
	return err
}

func (p *GormPersister) Rollback(ctx context.Context) error {
	if p.tx == nil {
		return nil
	}
	err := p.tx.Rollback().Error
	p.tx = nil
	p.DBCtx.Tx = nil
	return err
}

// Close is a no-op: the underlying *gorm.DB's connection pool outlives any
// single worker and is closed by whoever constructed it.
func (p *GormPersister) Close() error { return nil }
