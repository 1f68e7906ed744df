package core

import (
	"context"

	"github.com/google/uuid"
)

// LockSet is the set of resources a procedure's jobs require before the
// scheduler may hand it to the worker. The current implementation always
// returns the sentinel set below (effectively global mutual exclusion); the
// extension point exists so a future scheduler can honour per-procedure
// lock sets without a contract change.
type LockSet map[string]struct{}

// GlobalLock is the sentinel lock set returned by Procedure.LockObjects
// today. Every procedure contends for it, so the scheduler only ever lets
// one procedure run at a time.
var GlobalLock = LockSet{"lock": {}}

// Scheduler is the external, lock-and-priority-aware component that hands
// procedures to the worker. Out of core scope per the purpose statement;
// consumed here only through this interface. Implementations live under
// internal/jobs/core/scheduler.
type Scheduler interface {
	// EnqueueProcedure admits p to the scheduler. A nil p is the shutdown
	// sentinel: the scheduler must eventually yield nil from
	// NextProcedure after it, once already-queued procedures drain.
	EnqueueProcedure(p *Procedure)

	// NextProcedure blocks until a procedure is ready to run (its lock
	// set doesn't conflict with anything currently executing) or the
	// shutdown sentinel has been reached, in which case it returns nil.
	NextProcedure(ctx context.Context) *Procedure

	// Done notifies the scheduler that p has finished, releasing its
	// locks. A nil p is tolerated as a no-op.
	Done(p *Procedure)
}

// Persister is the transactional unit of work a worker opens once per job.
// One instance lives per worker goroutine; jobs run by that worker share it
// serially. Implementations live under internal/jobs/core/persister.
type Persister interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	// Close releases any resources held by the persister. Called once
	// when the worker's loop exits.
	Close() error
}

// CheckpointHandle is the per-job durable checkpoint record.
type CheckpointHandle interface {
	// Begin durably records the job's start timestamp.
	Begin(ctx context.Context) error
	// Finish durably records the job's completion timestamp.
	Finish(ctx context.Context) error
}

// CheckpointRegistration is one row handed to CheckpointStore.Register: the
// durable shape of a job at the moment it is admitted, before it has run.
type CheckpointRegistration struct {
	ProcedureID uuid.UUID
	JobID       uuid.UUID
	ActionFQN   string
	Args        []any
	Kwargs      map[string]any
}

// CheckpointStore is the durable record of (procedure_id, job_id,
// action_fqn, args, kwargs, begin_ts, finish_ts) described in spec §1 and
// §4.5. Implementations live under internal/jobs/core/checkpoint.
type CheckpointStore interface {
	// IsRecoverable is a static, process-wide predicate keyed on action
	// FQN (SUPPLEMENTED FEATURES §4.2): not a per-job flag.
	IsRecoverable(actionFQN string) bool

	// Register durably records a batch of jobs. scheduled indicates
	// whether the jobs have already been handed to the scheduler at the
	// time of registration (false when registered by a submitter ahead
	// of scheduling; true when registered atomically by a committing
	// job for its own spawned_jobs, which are scheduled in the same
	// step).
	Register(ctx context.Context, jobs []CheckpointRegistration, scheduled bool) error

	// Handle returns the checkpoint handle for an already-registered job.
	Handle(jobID uuid.UUID) CheckpointHandle

	// Remove deletes the checkpoint row for jobID. Tolerates a row that
	// is already gone.
	Remove(ctx context.Context, jobID uuid.UUID) error
}

// Action is a callable action body identified by a fully qualified name.
// Actions may call back into the Executor's Enqueue* APIs with
// within_procedure=true from inside Run.
type Action interface {
	// FQN is the action's fully qualified name (module.name), the stable
	// identity CheckpointStore.IsRecoverable and the status log key on.
	FQN() string
	// Run invokes the action body. args/kwargs are the bundles supplied
	// at submission time. The returned value becomes the job's result;
	// a nil result means "this job does not contribute to the
	// procedure's result" (see Procedure's "last non-null result" rule).
	Run(ctx context.Context, args []any, kwargs map[string]any) (any, error)
}

// ActionFunc adapts a plain function to the Action interface, the way the
// host repo's job handlers are usually just funcs wrapped once at
// registration time.
type ActionFunc struct {
	Name string
	Fn   func(ctx context.Context, args []any, kwargs map[string]any) (any, error)
}

func (f ActionFunc) FQN() string { return f.Name }

func (f ActionFunc) Run(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	return f.Fn(ctx, args, kwargs)
}

// ActionSpec is a single submission unit: an action plus its arguments and
// a human-readable description, as passed to Enqueue/EnqueueBatch.
type ActionSpec struct {
	Action      Action
	Description string
	Args        []any
	Kwargs      map[string]any
}

// RecoverJobSpec is one job to rebuild during recovery (spec §4.5
// reschedule_procedure, scenario 5 in §8): the caller supplies the job's
// original UUID so the rebuilt job lines up with its pre-existing
// checkpoint row.
type RecoverJobSpec struct {
	JobID  uuid.UUID
	Action Action
	Description string
	Args   []any
	Kwargs map[string]any
}

// StatusObserver receives status records as jobs complete. Not part of the
// core's contract surface in spec §6 ("the core hands status records to
// whatever observer reads a completed procedure") but wired here as an
// optional, ambient hook. Implementations live under
// internal/jobs/core/observer.
type StatusObserver interface {
	ObserveJobStatus(procedureID, jobID uuid.UUID, actionFQN string, record StatusRecord)
	ObserveProcedureComplete(procedureID uuid.UUID, result any)
}
