package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// fakeScheduler is an in-memory, FIFO, lock-free Scheduler: every
// procedure is immediately runnable. Good enough for exercising the core
// without the real lock-aware policy.
type fakeScheduler struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pending  []*Procedure
	shutdown bool

	doneCalls []*Procedure
}

func newFakeScheduler() *fakeScheduler {
	s := &fakeScheduler{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *fakeScheduler) EnqueueProcedure(p *Procedure) {
	s.mu.Lock()
	if p == nil {
		s.shutdown = true
	} else {
		s.pending = append(s.pending, p)
	}
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *fakeScheduler) NextProcedure(ctx context.Context) *Procedure {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.pending) == 0 {
		if s.shutdown {
			return nil
		}
		s.cond.Wait()
	}
	p := s.pending[0]
	s.pending = s.pending[1:]
	return p
}

func (s *fakeScheduler) Done(p *Procedure) {
	s.mu.Lock()
	s.doneCalls = append(s.doneCalls, p)
	s.mu.Unlock()
}

// fakePersister counts begin/commit/rollback calls without touching any
// real storage.
type fakePersister struct {
	mu                             sync.Mutex
	begins, commits, rollbacks, closes int
}

func (p *fakePersister) Begin(context.Context) error {
	p.mu.Lock()
	p.begins++
	p.mu.Unlock()
	return nil
}
func (p *fakePersister) Commit(context.Context) error {
	p.mu.Lock()
	p.commits++
	p.mu.Unlock()
	return nil
}
func (p *fakePersister) Rollback(context.Context) error {
	p.mu.Lock()
	p.rollbacks++
	p.mu.Unlock()
	return nil
}
func (p *fakePersister) Close() error {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	return nil
}

// fakeCheckpoints is an in-memory CheckpointStore.
type fakeCheckpoints struct {
	mu          sync.Mutex
	recoverable map[string]bool
	registered  []CheckpointRegistration
	removed     []uuid.UUID
	begins      map[uuid.UUID]int
	finishes    map[uuid.UUID]int
}

func newFakeCheckpoints(recoverable ...string) *fakeCheckpoints {
	c := &fakeCheckpoints{
		recoverable: make(map[string]bool),
		begins:      make(map[uuid.UUID]int),
		finishes:    make(map[uuid.UUID]int),
	}
	for _, r := range recoverable {
		c.recoverable[r] = true
	}
	return c
}

func (c *fakeCheckpoints) IsRecoverable(fqn string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recoverable[fqn]
}

func (c *fakeCheckpoints) Register(ctx context.Context, jobs []CheckpointRegistration, scheduled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registered = append(c.registered, jobs...)
	return nil
}

func (c *fakeCheckpoints) Handle(jobID uuid.UUID) CheckpointHandle {
	return &fakeCheckpointHandle{store: c, jobID: jobID}
}

func (c *fakeCheckpoints) Remove(ctx context.Context, jobID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = append(c.removed, jobID)
	return nil
}

type fakeCheckpointHandle struct {
	store *fakeCheckpoints
	jobID uuid.UUID
}

func (h *fakeCheckpointHandle) Begin(ctx context.Context) error {
	h.store.mu.Lock()
	h.store.begins[h.jobID]++
	h.store.mu.Unlock()
	return nil
}

func (h *fakeCheckpointHandle) Finish(ctx context.Context) error {
	h.store.mu.Lock()
	h.store.finishes[h.jobID]++
	h.store.mu.Unlock()
	return nil
}

func doubleAction() Action {
	return ActionFunc{
		Name: "test.double",
		Fn: func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
			n := args[0].(int)
			return n * 2, nil
		},
	}
}

func failingAction() Action {
	return ActionFunc{
		Name: "test.fail",
		Fn: func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
			return nil, errors.New("boom")
		},
	}
}

func newTestExecutor(t *testing.T, checkpoints CheckpointStore) (*Executor, *fakeScheduler) {
	t.Helper()
	sched := newFakeScheduler()
	if checkpoints == nil {
		checkpoints = newFakeCheckpoints()
	}
	exec := NewExecutor(sched, checkpoints, nil, nil, func() (Persister, error) {
		return &fakePersister{}, nil
	})
	if err := exec.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		_ = exec.Shutdown()
	})
	return exec, sched
}

func waitProcedure(t *testing.T, exec *Executor, p *Procedure) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		exec.WaitForProcedure(context.Background(), p)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for procedure to complete")
	}
}

// Scenario 1 (spec §8): single action.
func TestSingleActionProducesExpectedResultAndStatus(t *testing.T) {
	exec, _ := newTestExecutor(t, nil)

	p, err := exec.Enqueue(context.Background(), false, ActionSpec{
		Action:      doubleAction(),
		Description: "d",
		Args:        []any{21},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitProcedure(t, exec, p)

	if !p.Complete() {
		t.Fatal("procedure did not complete")
	}
	if got := p.Result(); got != 42 {
		t.Fatalf("result: want=42 got=%v", got)
	}
	status := p.Status()
	if len(status) != 3 {
		t.Fatalf("status length: want=3 got=%d", len(status))
	}
	wantStates := []State{StateEnqueued, StateProcessing, StateComplete}
	for i, s := range status {
		if s.State != wantStates[i] {
			t.Fatalf("status[%d].State: want=%s got=%s", i, wantStates[i], s.State)
		}
		if s.Outcome != OutcomeSuccess {
			t.Fatalf("status[%d].Outcome: want=SUCCESS got=%s", i, s.Outcome)
		}
	}
}

// Scenario 2 (spec §8): failing action.
func TestFailingActionSetsErrorResultAndDiagnosis(t *testing.T) {
	exec, _ := newTestExecutor(t, nil)

	p, err := exec.Enqueue(context.Background(), false, ActionSpec{
		Action:      failingAction(),
		Description: "f",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitProcedure(t, exec, p)

	if got := p.Result(); got != false {
		t.Fatalf("result: want=false got=%v", got)
	}
	status := p.Status()
	last := status[len(status)-1]
	if last.State != StateComplete || last.Outcome != OutcomeError {
		t.Fatalf("last status: want=(COMPLETE,ERROR) got=(%s,%s)", last.State, last.Outcome)
	}
	if last.Diagnosis == "" {
		t.Fatal("expected non-empty diagnosis on error status")
	}
}

// Scenario 3 (spec §8): in-procedure spawn.
func TestInProcedureSpawnRunsBeforeProcedureIsDrained(t *testing.T) {
	exec, _ := newTestExecutor(t, nil)

	childResult := "b-ran"
	parent := ActionFunc{
		Name: "test.parent",
		Fn: func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
			_, err := exec.EnqueueWithinCurrent(ctx, []ActionSpec{{
				Action: ActionFunc{
					Name: "test.child",
					Fn: func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
						return childResult, nil
					},
				},
				Description: "b",
			}})
			return nil, err
		},
	}

	p, err := exec.Enqueue(context.Background(), false, ActionSpec{Action: parent, Description: "a"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitProcedure(t, exec, p)

	executed := p.ExecutedJobs()
	if len(executed) != 2 {
		t.Fatalf("executed jobs: want=2 got=%d", len(executed))
	}
	if executed[0].ActionFQN() != "test.parent" || executed[1].ActionFQN() != "test.child" {
		t.Fatalf("unexpected execution order: %s then %s", executed[0].ActionFQN(), executed[1].ActionFQN())
	}
	if got := p.Result(); got != childResult {
		t.Fatalf("result: want=%q got=%v", childResult, got)
	}
}

// Scenario 4 (spec §8): cross-procedure spawn. The parent's own executed
// set contains only itself; the spawned sibling becomes a distinct
// procedure.
func TestCrossProcedureSpawnCreatesIndependentProcedure(t *testing.T) {
	exec, _ := newTestExecutor(t, nil)

	var siblingProcID uuid.UUID
	var mu sync.Mutex

	parent := ActionFunc{
		Name: "test.spawns_sibling",
		Fn: func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
			procs, err := exec.EnqueueBatch(ctx, false, []ActionSpec{{
				Action: ActionFunc{
					Name: "test.sibling",
					Fn: func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
						return nil, nil
					},
				},
				Description: "sibling",
			}})
			if err != nil {
				return nil, err
			}
			mu.Lock()
			siblingProcID = procs[0].ID()
			mu.Unlock()
			return nil, nil
		},
	}

	p, err := exec.Enqueue(context.Background(), false, ActionSpec{Action: parent, Description: "a"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitProcedure(t, exec, p)

	if len(p.ExecutedJobs()) != 1 {
		t.Fatalf("parent executed jobs: want=1 got=%d", len(p.ExecutedJobs()))
	}

	mu.Lock()
	id := siblingProcID
	mu.Unlock()
	if id == uuid.Nil {
		t.Fatal("sibling procedure id was never set")
	}
	sibling, ok := exec.GetProcedure(id)
	if !ok {
		t.Fatal("sibling procedure not found in registry")
	}
	waitProcedure(t, exec, sibling)
	if sibling.ID() == p.ID() {
		t.Fatal("sibling procedure must not be the same as the parent procedure")
	}
}

// Scenario 5 (spec §8): recovery. RescheduleProcedure must honour the
// caller-supplied procedure and job UUIDs.
func TestRescheduleProcedureHonoursCallerSuppliedUUIDs(t *testing.T) {
	exec, _ := newTestExecutor(t, nil)

	procID := uuid.New()
	jobID := uuid.New()

	p, err := exec.RescheduleProcedure(context.Background(), procID, []RecoverJobSpec{{
		JobID:       jobID,
		Action:      doubleAction(),
		Description: "recovered",
		Args:        []any{10},
	}})
	if err != nil {
		t.Fatalf("RescheduleProcedure: %v", err)
	}
	if p.ID() != procID {
		t.Fatalf("procedure id: want=%s got=%s", procID, p.ID())
	}
	waitProcedure(t, exec, p)

	executed := p.ExecutedJobs()
	if len(executed) != 1 || executed[0].ID() != jobID {
		t.Fatalf("expected recovered job id %s to execute", jobID)
	}
}

// Scenario 6 (spec §8): shutdown.
func TestShutdownDrainsQueuedProceduresAndRejectsFurtherSubmissions(t *testing.T) {
	sched := newFakeScheduler()
	checkpoints := newFakeCheckpoints()
	exec := NewExecutor(sched, checkpoints, nil, nil, func() (Persister, error) {
		return &fakePersister{}, nil
	})
	if err := exec.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	const n = 5
	procs := make([]*Procedure, 0, n)
	for i := 0; i < n; i++ {
		p, err := exec.Enqueue(context.Background(), false, ActionSpec{
			Action: doubleAction(),
			Args:   []any{i},
		})
		if err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
		procs = append(procs, p)
	}

	if err := exec.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	for i, p := range procs {
		if !p.Complete() {
			t.Fatalf("procedure %d did not complete before shutdown joined", i)
		}
	}

	_, err := exec.Enqueue(context.Background(), false, ActionSpec{Action: doubleAction(), Args: []any{1}})
	if !IsKind(err, KindExecutorNotRunning) {
		t.Fatalf("expected ExecutorNotRunning after shutdown, got %v", err)
	}
}

// within_procedure illegal combinations (spec §4.6).
func TestWithinProcedureTrueFromNonWorkerIsProgrammingError(t *testing.T) {
	exec, _ := newTestExecutor(t, nil)
	_, err := exec.EnqueueBatch(context.Background(), true, []ActionSpec{{Action: doubleAction(), Args: []any{1}}})
	if !IsKind(err, KindProgrammingError) {
		t.Fatalf("expected ProgrammingError, got %v", err)
	}
}

func TestRecoveryUUIDFromWorkerIsProgrammingError(t *testing.T) {
	exec, _ := newTestExecutor(t, nil)

	recoveryID := uuid.New()
	parent := ActionFunc{
		Name: "test.illegal_recovery",
		Fn: func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
			_, err := exec.EnqueueBatch(ctx, recoveryID, []ActionSpec{{Action: doubleAction(), Args: []any{1}}})
			if !IsKind(err, KindProgrammingError) {
				return nil, fmt.Errorf("expected ProgrammingError inside worker, got %v", err)
			}
			return nil, nil
		},
	}
	p, err := exec.Enqueue(context.Background(), false, ActionSpec{Action: parent})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitProcedure(t, exec, p)
	if p.Result() == false {
		t.Fatalf("parent action reported failure: status=%+v", p.Status())
	}
}

func TestCheckpointBracketingForRecoverableJob(t *testing.T) {
	checkpoints := newFakeCheckpoints("test.double")
	exec, _ := newTestExecutor(t, checkpoints)

	p, err := exec.Enqueue(context.Background(), false, ActionSpec{
		Action: doubleAction(),
		Args:   []any{5},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitProcedure(t, exec, p)

	job := p.ExecutedJobs()[0]
	checkpoints.mu.Lock()
	begins := checkpoints.begins[job.ID()]
	finishes := checkpoints.finishes[job.ID()]
	removed := len(checkpoints.removed) == 1 && checkpoints.removed[0] == job.ID()
	checkpoints.mu.Unlock()

	if begins != 1 {
		t.Fatalf("begin calls: want=1 got=%d", begins)
	}
	if finishes != 1 {
		t.Fatalf("finish calls: want=1 got=%d", finishes)
	}
	if !removed {
		t.Fatal("expected exactly one checkpoint removal for the completed job")
	}
}
