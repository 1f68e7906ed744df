package core

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/coredb/execore/internal/platform/logger"
)

// Executor is the process-wide facade described in spec §4.5: submission
// API, weak procedure registry, start/shutdown. Prefer constructing an
// explicit instance and passing it to submitters (spec §9 design note);
// Default below offers the module-level singleton for convenience.
type Executor struct {
	scheduler Scheduler

	checkpoints CheckpointStore
	observer    StatusObserver
	log         *logger.Logger
	newPersister func() (Persister, error)

	registryMu sync.Mutex
	registry   *weakProcedureRegistry

	workerMu sync.Mutex
	worker   *ExecutorWorker
	cancel   context.CancelFunc
}

// NewExecutor wires an Executor to its collaborators. newPersister is
// called once, by the worker, to construct the single persister the
// worker's jobs share serially (spec §5).
func NewExecutor(scheduler Scheduler, checkpoints CheckpointStore, observer StatusObserver, log *logger.Logger, newPersister func() (Persister, error)) *Executor {
	return &Executor{
		scheduler:    scheduler,
		checkpoints:  checkpoints,
		observer:     observer,
		log:          log,
		newPersister: newPersister,
		registry:     newWeakProcedureRegistry(),
	}
}

var (
	defaultMu sync.Mutex
	defaultExecutor *Executor
)

// SetDefault installs e as the module-level default handle.
func SetDefault(e *Executor) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultExecutor = e
}

// Default returns the module-level default handle, or nil if none was set.
func Default() *Executor {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultExecutor
}

// Start creates and starts the worker goroutine. Fails with
// ErrExecutorAlreadyRunning if already running.
func (e *Executor) Start(ctx context.Context) error {
	e.workerMu.Lock()
	defer e.workerMu.Unlock()

	if e.worker != nil {
		return ErrExecutorAlreadyRunning("executor is already running")
	}
	workerCtx, cancel := context.WithCancel(ctx)
	e.worker = newExecutorWorker(workerCtx, e.scheduler, e.checkpoints, e.observer, e.log, e.newPersister)
	e.cancel = cancel
	go e.worker.Run()
	return nil
}

// Shutdown submits the shutdown sentinel to the scheduler and waits for
// the worker to join (spec §4.5).
func (e *Executor) Shutdown() error {
	e.workerMu.Lock()
	w := e.worker
	e.workerMu.Unlock()

	if w == nil {
		return ErrExecutorNotRunning("executor is not running")
	}

	e.scheduler.EnqueueProcedure(nil)
	<-w.Stopped()

	e.workerMu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.worker = nil
	e.cancel = nil
	e.workerMu.Unlock()
	return nil
}

func (e *Executor) running() bool {
	e.workerMu.Lock()
	defer e.workerMu.Unlock()
	return e.worker != nil
}

// GetProcedure is a weak-registry lookup (spec §4.5).
func (e *Executor) GetProcedure(id uuid.UUID) (*Procedure, bool) {
	e.registryMu.Lock()
	defer e.registryMu.Unlock()
	return e.registry.Get(id)
}

// WaitForProcedure delegates to p.Wait(), but first enforces the
// precondition that the caller is not the worker goroutine (spec §4.5):
// the worker waiting on itself would deadlock.
func (e *Executor) WaitForProcedure(ctx context.Context, p *Procedure) error {
	if isWorkerContext(ctx) {
		return ErrProgrammingError("wait_for_procedure called from the worker goroutine")
	}
	p.Wait()
	return nil
}

// Enqueue is the single-action convenience form of EnqueueBatch.
func (e *Executor) Enqueue(ctx context.Context, withinProcedure any, spec ActionSpec) (*Procedure, error) {
	procs, err := e.EnqueueBatch(ctx, withinProcedure, []ActionSpec{spec})
	if err != nil {
		return nil, err
	}
	return procs[0], nil
}

// EnqueueBatch implements spec §4.5 enqueue_procedures / §4.6's
// within_procedure legality table for the non-true cases: false (new
// procedure per action, any caller), and a UUID (recovery, non-worker
// caller only). within_procedure=true is rejected with ErrProgrammingError
// from every caller; the worker-true case is handled by
// EnqueueWithinCurrent instead.
func (e *Executor) EnqueueBatch(ctx context.Context, withinProcedure any, specs []ActionSpec) ([]*Procedure, error) {
	if !e.running() {
		return nil, ErrExecutorNotRunning("cannot enqueue: executor is not running")
	}

	switch v := withinProcedure.(type) {
	case bool:
		if v {
			return nil, ErrProgrammingError("within_procedure=true requires calling EnqueueWithinCurrent from the worker")
		}
		if isWorkerContext(ctx) {
			// Cross-procedure spawn from inside a running action (spec
			// §8 scenario 4): the new procedure must not become visible
			// to the scheduler until the spawning job commits, so this
			// defers to the same spawned_jobs buffer EnqueueWithinCurrent
			// uses — the only difference is the spawned job gets a
			// brand-new Procedure instead of reusing the current one.
			return e.spawnNewProcedures(ctx, specs)
		}
		return e.enqueueNewProcedures(ctx, specs)
	case uuid.UUID:
		if isWorkerContext(ctx) {
			return nil, ErrProgrammingError("recovery enqueue (within_procedure=UUID) is illegal from the worker")
		}
		return e.enqueueRecovery(ctx, v, specs)
	default:
		return nil, ErrProgrammingError("within_procedure must be a bool or a procedure UUID")
	}
}

// enqueueNewProcedures builds one fresh Procedure per spec, registers its
// job with scheduled=false, then hands each procedure to the scheduler, in
// spec order.
func (e *Executor) enqueueNewProcedures(ctx context.Context, specs []ActionSpec) ([]*Procedure, error) {
	procs := make([]*Procedure, 0, len(specs))
	for _, spec := range specs {
		p := NewProcedure(uuid.Nil, false)
		job, err := NewJob(uuid.Nil, p, spec.Action, spec.Description, spec.Args, spec.Kwargs, e.checkpoints, e.log)
		if err != nil {
			return nil, err
		}
		if e.checkpoints != nil {
			if err := e.checkpoints.Register(ctx, []CheckpointRegistration{{
				ProcedureID: p.id,
				JobID:       job.id,
				ActionFQN:   job.action.FQN(),
				Args:        job.args,
				Kwargs:      job.kwargs,
			}}, false); err != nil && e.log != nil {
				e.log.Error("checkpoint register failed", "error", err)
			}
		}
		e.registryMu.Lock()
		e.registry.Put(p)
		e.registryMu.Unlock()

		e.scheduler.EnqueueProcedure(p)
		procs = append(procs, p)
	}
	return procs, nil
}

// spawnNewProcedures builds one fresh, unregistered-with-scheduler
// Procedure per spec and defers each to the currently executing job's
// spawned_jobs buffer. The procedure is registered in the weak registry
// right away (so GetProcedure can resolve its UUID as soon as the caller
// gets it back), but checkpoint registration and the scheduler handoff
// both wait for the spawning job's commit (spec §4.2 step 6).
func (e *Executor) spawnNewProcedures(ctx context.Context, specs []ActionSpec) ([]*Procedure, error) {
	job := currentJob(ctx)
	if job == nil {
		return nil, ErrProgrammingError("no currently executing job in this context")
	}

	procs := make([]*Procedure, 0, len(specs))
	spawned := make([]*Job, 0, len(specs))
	for _, spec := range specs {
		p := NewProcedure(uuid.Nil, false)
		child, err := NewJob(uuid.Nil, p, spec.Action, spec.Description, spec.Args, spec.Kwargs, e.checkpoints, e.log)
		if err != nil {
			return nil, err
		}
		e.registryMu.Lock()
		e.registry.Put(p)
		e.registryMu.Unlock()

		procs = append(procs, p)
		spawned = append(spawned, child)
	}
	job.AppendJobs(spawned...)
	return procs, nil
}

// enqueueRecovery implements the within_procedure=UUID case: it re-creates
// a procedure with the caller-supplied UUID, builds its jobs with freshly
// generated job UUIDs (ActionSpec carries no job id; RescheduleProcedure
// is the recovery entry that takes caller-supplied job UUIDs), and
// enqueues directly onto the scheduler without re-registering in the
// checkpoint store — the checkpoints already exist on disk, which is why
// we're recovering.
func (e *Executor) enqueueRecovery(ctx context.Context, procID uuid.UUID, specs []ActionSpec) ([]*Procedure, error) {
	p := NewProcedure(procID, false)
	for _, spec := range specs {
		if _, err := NewJob(uuid.Nil, p, spec.Action, spec.Description, spec.Args, spec.Kwargs, e.checkpoints, e.log); err != nil {
			return nil, err
		}
	}
	e.registryMu.Lock()
	e.registry.Put(p)
	e.registryMu.Unlock()

	e.scheduler.EnqueueProcedure(p)
	return []*Procedure{p}, nil
}

// RescheduleProcedure is the recovery entry point named in spec §4.5,
// taking caller-supplied job UUIDs (spec §8 scenario 5) rather than
// letting NewJob mint fresh ones.
func (e *Executor) RescheduleProcedure(ctx context.Context, procID uuid.UUID, jobs []RecoverJobSpec) (*Procedure, error) {
	if !e.running() {
		return nil, ErrExecutorNotRunning("cannot reschedule: executor is not running")
	}
	p := NewProcedure(procID, false)
	for _, js := range jobs {
		if _, err := NewJob(js.JobID, p, js.Action, js.Description, js.Args, js.Kwargs, e.checkpoints, e.log); err != nil {
			return nil, err
		}
	}
	e.registryMu.Lock()
	e.registry.Put(p)
	e.registryMu.Unlock()

	e.scheduler.EnqueueProcedure(p)
	return p, nil
}

// EnqueueWithinCurrent implements the within_procedure=true/worker-caller
// row of spec §4.6: it attaches jobs to the procedure of the job currently
// executing on the worker goroutine. Scheduling is deferred: the jobs are
// appended to the current job's spawned_jobs buffer via AppendJobs and are
// registered/scheduled only when that job commits successfully (spec
// §4.2 step 6), not here.
func (e *Executor) EnqueueWithinCurrent(ctx context.Context, specs []ActionSpec) ([]*Procedure, error) {
	if !isWorkerContext(ctx) {
		return nil, ErrProgrammingError("within_procedure=true is illegal outside the worker")
	}
	job := currentJob(ctx)
	if job == nil {
		return nil, ErrProgrammingError("no currently executing job in this context")
	}

	spawned := make([]*Job, 0, len(specs))
	for _, spec := range specs {
		child, err := NewJob(uuid.Nil, job.procedure, spec.Action, spec.Description, spec.Args, spec.Kwargs, e.checkpoints, e.log)
		if err != nil {
			return nil, err
		}
		spawned = append(spawned, child)
	}
	job.AppendJobs(spawned...)
	return []*Procedure{job.procedure}, nil
}
