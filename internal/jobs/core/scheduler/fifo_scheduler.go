// Package scheduler provides the execution core's default Scheduler
// implementation: priority procedures ahead of the rest, FIFO among equals,
// held back by currently-executing procedures' lock sets (spec §4.5, §5).
package scheduler

import (
	"context"
	"sync"

	core "github.com/coredb/execore/internal/jobs/core"
)

// FIFOScheduler is a single-worker-aware lock scheduler: it holds a
// procedure back from NextProcedure until none of its LockObjects()
// overlap a currently "in flight" procedure's locks. Since
// core.GlobalLock is the only lock set in play today, this reduces to
// FIFO with priority procedures first — but the overlap check is written generally so a future
// per-procedure lock set (spec §9) needs no scheduler change.
type FIFOScheduler struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []*core.Procedure
	inFlight map[string]struct{}
	shutdown bool
}

func NewFIFOScheduler() *FIFOScheduler {
	s := &FIFOScheduler{inFlight: make(map[string]struct{})}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *FIFOScheduler) EnqueueProcedure(p *core.Procedure) {
	s.mu.Lock()
	if p == nil {
		s.shutdown = true
	} else {
		s.pending = append(s.pending, p)
	}
	s.mu.Unlock()
	s.cond.Broadcast()
}

// NextProcedure blocks until a pending procedure's locks don't conflict
// with anything in flight, or the shutdown sentinel has been reached with
// nothing left to drain, in which case it returns nil. The earliest
// runnable priority procedure is returned ahead of any other runnable one.
func (s *FIFOScheduler) NextProcedure(ctx context.Context) *core.Procedure {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		for _, wantPriority := range [...]bool{true, false} {
			for i, p := range s.pending {
				if p.Priority() == wantPriority && !s.conflicts(p) {
					s.pending = append(s.pending[:i], s.pending[i+1:]...)
					s.markInFlight(p)
					return p
				}
			}
		}
		if s.shutdown && len(s.pending) == 0 {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		s.cond.Wait()
	}
}

func (s *FIFOScheduler) Done(p *core.Procedure) {
	if p == nil {
		return
	}
	s.mu.Lock()
	for lock := range p.LockObjects() {
		delete(s.inFlight, lock)
	}
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *FIFOScheduler) conflicts(p *core.Procedure) bool {
	for lock := range p.LockObjects() {
		if _, busy := s.inFlight[lock]; busy {
			return true
		}
	}
	return false
}

func (s *FIFOScheduler) markInFlight(p *core.Procedure) {
	for lock := range p.LockObjects() {
		s.inFlight[lock] = struct{}{}
	}
}
