package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	core "github.com/coredb/execore/internal/jobs/core"
)

// InMemoryStore is a CheckpointStore with no durability, for unit tests and
// for running the worker loop without a database (spec's AMBIENT STACK
// notes that pure core logic is tested with in-memory fakes).
type InMemoryStore struct {
	mu          sync.Mutex
	rows        map[uuid.UUID]*memRow
	recoverable map[string]struct{}
}

type memRow struct {
	reg      core.CheckpointRegistration
	begin    *time.Time
	finish   *time.Time
	scheduled bool
}

func NewInMemoryStore(recoverableActions ...string) *InMemoryStore {
	s := &InMemoryStore{
		rows:        make(map[uuid.UUID]*memRow),
		recoverable: make(map[string]struct{}, len(recoverableActions)),
	}
	for _, a := range recoverableActions {
		s.recoverable[a] = struct{}{}
	}
	return s
}

func (s *InMemoryStore) MarkRecoverable(fqn string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recoverable[fqn] = struct{}{}
}

func (s *InMemoryStore) IsRecoverable(actionFQN string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.recoverable[actionFQN]
	return ok
}

func (s *InMemoryStore) Register(ctx context.Context, jobs []core.CheckpointRegistration, scheduled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range jobs {
		s.rows[j.JobID] = &memRow{reg: j, scheduled: scheduled}
	}
	return nil
}

func (s *InMemoryStore) Handle(jobID uuid.UUID) core.CheckpointHandle {
	return &memHandle{store: s, jobID: jobID}
}

func (s *InMemoryStore) Remove(ctx context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, jobID)
	return nil
}

// Row exposes the current checkpoint row for assertions in tests.
func (s *InMemoryStore) Row(jobID uuid.UUID) (begin, finish *time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[jobID]
	if !ok {
		return nil, nil, false
	}
	return r.begin, r.finish, true
}

type memHandle struct {
	store *InMemoryStore
	jobID uuid.UUID
}

func (h *memHandle) Begin(ctx context.Context) error {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if r, ok := h.store.rows[h.jobID]; ok {
		now := time.Now()
		r.begin = &now
	}
	return nil
}

func (h *memHandle) Finish(ctx context.Context) error {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if r, ok := h.store.rows[h.jobID]; ok {
		now := time.Now()
		r.finish = &now
	}
	return nil
}
