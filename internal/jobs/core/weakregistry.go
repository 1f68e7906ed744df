package core

import (
	"runtime"
	"sync"
	"weak"

	"github.com/google/uuid"
)

// weakProcedureRegistry is the procedure registry described in spec §3/§9:
// a map UUID -> Procedure held weakly, so a procedure with no remaining
// external strong reference becomes GC-eligible even though the registry
// still "knows about" its UUID until collection runs. Built on Go's weak
// package plus runtime.AddCleanup rather than a manual reaper goroutine or
// a time-based eviction policy, since that's the direct, allocation-free
// way to express "entries disappear when no strong reference remains"
// (spec §3) in current Go.
type weakProcedureRegistry struct {
	mu      sync.Mutex
	entries map[uuid.UUID]weak.Pointer[Procedure]
}

func newWeakProcedureRegistry() *weakProcedureRegistry {
	return &weakProcedureRegistry{entries: make(map[uuid.UUID]weak.Pointer[Procedure])}
}

// Put registers p under its own ID and arranges for the entry to be
// removed once p is collected.
func (r *weakProcedureRegistry) Put(p *Procedure) {
	id := p.ID()
	r.mu.Lock()
	r.entries[id] = weak.Make(p)
	r.mu.Unlock()

	runtime.AddCleanup(p, func(registry *weakProcedureRegistry) {
		registry.remove(id)
	}, r)
}

func (r *weakProcedureRegistry) remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Get resolves id to a strong *Procedure reference if one is still alive.
func (r *weakProcedureRegistry) Get(id uuid.UUID) (*Procedure, bool) {
	r.mu.Lock()
	wp, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	p := wp.Value()
	if p == nil {
		return nil, false
	}
	return p, true
}
