package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/coredb/execore/internal/platform/logger"
)

var tracer = otel.Tracer("github.com/coredb/execore/internal/jobs/core")

// Job is one action invocation (spec §3). It owns its status log,
// checkpoint handle, and the buffer of jobs spawned during its own
// execution.
type Job struct {
	mu sync.Mutex

	id        uuid.UUID
	procedure *Procedure

	action      Action
	description string
	args        []any
	kwargs      map[string]any

	isRecoverable bool
	checkpoint    CheckpointHandle

	status    []StatusRecord
	result    any
	hasResult bool
	complete  bool

	spawnedJobs []*Job
}

// NewJob constructs a job bound to procedure, immediately adding it to the
// procedure's scheduled set and emitting the initial ENQUEUED status (spec
// §3 Job lifecycle). If action is nil the job cannot be constructed at all
// (ErrNotCallable); id, if the zero UUID, is generated fresh, otherwise the
// caller-supplied id is used verbatim (recovery path). Non-recoverable
// actions are accepted, not rejected (spec §6) — log is optional and, if
// given, logs a warning for them the way the original implementation does.
func NewJob(id uuid.UUID, procedure *Procedure, action Action, description string, args []any, kwargs map[string]any, checkpoints CheckpointStore, log *logger.Logger) (*Job, error) {
	if action == nil || action.FQN() == "" {
		return nil, ErrNotCallable("action must be a non-nil, named callable")
	}
	if id == uuid.Nil {
		id = uuid.New()
	}
	j := &Job{
		id:          id,
		procedure:   procedure,
		action:      action,
		description: description,
		args:        args,
		kwargs:      kwargs,
	}
	if checkpoints != nil {
		j.isRecoverable = checkpoints.IsRecoverable(action.FQN())
		j.checkpoint = checkpoints.Handle(id)
		if !j.isRecoverable && log != nil {
			log.Warn("action is not recoverable, job cannot be replayed on crash", "action", action.FQN(), "job_id", id.String())
		}
	}
	j.status = append(j.status, newStatus(OutcomeSuccess, StateEnqueued, fmt.Sprintf("Enqueued action (%s).", action.FQN())))

	if err := procedure.AddScheduledJob(j); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Job) ID() uuid.UUID         { return j.id }
func (j *Job) Procedure() *Procedure { return j.procedure }
func (j *Job) ActionFQN() string     { return j.action.FQN() }
func (j *Job) Description() string   { return j.description }
func (j *Job) IsRecoverable() bool   { return j.isRecoverable }

// Equal implements equality-by-UUID (spec §3 Job invariants).
func (j *Job) Equal(other *Job) bool {
	if j == nil || other == nil {
		return j == other
	}
	return j.id == other.id
}

func (j *Job) Status() []StatusRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]StatusRecord, len(j.status))
	copy(out, j.status)
	return out
}

func (j *Job) Complete() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.complete
}

// Result is readable only while complete (spec §3 Job invariants).
func (j *Job) Result() any {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.complete {
		panic("core: Job.Result read before completion")
	}
	return j.result
}

func (j *Job) appendStatus(s StatusRecord) {
	j.mu.Lock()
	j.status = append(j.status, s)
	j.mu.Unlock()
}

// AppendJobs appends js to spawnedJobs. Called only during execution, from
// within the action body via the worker-context-marked Enqueue* calls
// (spec §4.2 append_jobs).
func (j *Job) AppendJobs(js ...*Job) {
	j.mu.Lock()
	j.spawnedJobs = append(j.spawnedJobs, js...)
	j.mu.Unlock()
}

// jobRuntime bundles the collaborators execute needs, so the worker loop
// doesn't have to pass six positional parameters at every call site.
type jobRuntime struct {
	persister   Persister
	scheduler   Scheduler
	queue       *ExecutorQueue
	checkpoints CheckpointStore
	observer    StatusObserver
	log         *logger.Logger
}

// execute runs the job lifecycle described in spec §4.2, steps 1-7. It
// never returns an error to the caller: every failure becomes a status
// record and/or a log line, per the propagation policy in spec §7.
func (j *Job) execute(ctx context.Context, rt jobRuntime) {
	ctx, span := tracer.Start(ctx, "Job.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", j.id.String()),
		attribute.String("job.action", j.action.FQN()),
		attribute.String("procedure.id", j.procedure.id.String()),
	)

	log := rt.log
	if log != nil {
		log = log.With("job_id", j.id.String(), "action", j.action.FQN(), "procedure_id", j.procedure.id.String())
	}

	ctx = markWorkerContext(ctx, j)

	// 1. PROCESSING
	processingRec := newStatus(OutcomeSuccess, StateProcessing, fmt.Sprintf("Executing action (%s).", j.action.FQN()))
	j.appendStatus(processingRec)
	j.notify(rt.observer, processingRec)

	// 2. checkpoint.begin if recoverable
	if j.isRecoverable && j.checkpoint != nil {
		if err := j.checkpoint.Begin(ctx); err != nil {
			pf := ErrPersistenceFailure("checkpoint begin failed", err)
			if log != nil {
				log.Warn("checkpoint begin failed", "error", pf)
			}
		}
	}

	// 3. persister.begin
	if err := rt.persister.Begin(ctx); err != nil {
		pf := ErrPersistenceFailure("persister begin failed", err)
		if log != nil {
			log.Error("persister begin failed", "error", pf)
		}
	}

	// 4. invoke action. A panicking action body is converted into an
	// ordinary action failure rather than crashing the worker goroutine,
	// the same way the action is required to convert a thrown exception
	// into an ERROR status (spec §9 "exceptions as control flow").
	result, runErr := j.runAction(ctx)

	if runErr != nil {
		// 5. on exception
		af := ErrActionFailure(fmt.Sprintf("action (%s) failed", j.action.FQN()), runErr)
		span.SetStatus(codes.Error, af.Error())
		if log != nil {
			log.Error("action failed", "error", af)
		}
		if rbErr := rt.persister.Rollback(ctx); rbErr != nil {
			pf := ErrPersistenceFailure("rollback after action failure also failed", rbErr)
			if log != nil {
				log.Error("rollback after action failure also failed", "error", pf)
			}
		}
		j.mu.Lock()
		j.result = false
		j.hasResult = true
		j.spawnedJobs = nil
		j.mu.Unlock()

		rec := newStatusWithDiagnosis(OutcomeError, StateComplete, fmt.Sprintf("Tried to execute action (%s).", j.action.FQN()), af)
		j.appendStatus(rec)
		j.notify(rt.observer, rec)
	} else {
		// 6. on success
		j.mu.Lock()
		j.result = result
		j.hasResult = result != nil
		spawned := j.spawnedJobs
		j.spawnedJobs = nil
		j.mu.Unlock()

		j.commitSuccess(ctx, rt, log, spawned)

		rec := newStatus(OutcomeSuccess, StateComplete, fmt.Sprintf("Executed action (%s).", j.action.FQN()))
		j.appendStatus(rec)
		j.notify(rt.observer, rec)
	}

	// 7. always
	j.mu.Lock()
	j.complete = true
	j.mu.Unlock()

	// If this job is the last one in the procedure's scheduled set it
	// drains the procedure. Its checkpoint record is removed now, not
	// earlier, so a crash mid-execution still leaves a recoverable row on
	// disk, and before AddExecutedJob wakes the procedure's waiters.
	p := j.procedure
	p.mu.Lock()
	_, scheduled := p.scheduledJobs[j.id]
	drains := scheduled && !p.complete && len(p.scheduledJobs) == 1
	p.mu.Unlock()
	if drains && rt.checkpoints != nil {
		if err := rt.checkpoints.Remove(ctx, j.id); err != nil && log != nil {
			log.Error("checkpoint remove failed", "error", ErrPersistenceFailure("checkpoint remove failed", err))
		}
	}

	if err := p.AddExecutedJob(j); err != nil {
		if log != nil {
			log.Error("add_executed_job failed", "error", err)
		}
	}
	if p.Complete() && rt.observer != nil {
		rt.observer.ObserveProcedureComplete(p.id, p.result)
	}
}

// commitSuccess performs step 6 of spec §4.2: Checkpoint.register(spawned,
// scheduled=true) -> checkpoint.finish -> persister.commit, in that exact
// order (a crash after finish but before commit is recovered as a
// successful-action-with-lost-spawn; a crash before finish replays the
// action), then partitions spawned into same-procedure (queued onto the
// worker's private queue, atomically, as a batch) vs cross-procedure
// (handed to the scheduler).
func (j *Job) commitSuccess(ctx context.Context, rt jobRuntime, log *logger.Logger, spawned []*Job) {
	if rt.checkpoints != nil && len(spawned) > 0 {
		regs := make([]CheckpointRegistration, 0, len(spawned))
		for _, s := range spawned {
			regs = append(regs, CheckpointRegistration{
				ProcedureID: s.procedure.id,
				JobID:       s.id,
				ActionFQN:   s.action.FQN(),
				Args:        s.args,
				Kwargs:      s.kwargs,
			})
		}
		if err := rt.checkpoints.Register(ctx, regs, true); err != nil && log != nil {
			log.Error("checkpoint register of spawned jobs failed", "error", ErrPersistenceFailure("checkpoint register of spawned jobs failed", err))
		}
	}

	if j.isRecoverable && j.checkpoint != nil {
		if err := j.checkpoint.Finish(ctx); err != nil && log != nil {
			log.Error("checkpoint finish failed", "error", ErrPersistenceFailure("checkpoint finish failed", err))
		}
	}

	if err := rt.persister.Commit(ctx); err != nil && log != nil {
		log.Error("persister commit failed", "error", ErrPersistenceFailure("persister commit failed", err))
	}

	if len(spawned) == 0 {
		return
	}

	var sameProcedure []*Job
	var crossProcedure []*Procedure
	seen := make(map[*Procedure]struct{})
	for _, s := range spawned {
		if s.procedure == j.procedure {
			sameProcedure = append(sameProcedure, s)
			continue
		}
		if _, ok := seen[s.procedure]; ok {
			continue
		}
		seen[s.procedure] = struct{}{}
		crossProcedure = append(crossProcedure, s.procedure)
	}

	for _, p := range crossProcedure {
		rt.scheduler.EnqueueProcedure(p)
	}
	if len(sameProcedure) > 0 {
		rt.queue.Schedule(sameProcedure)
	}
}

func (j *Job) notify(observer StatusObserver, rec StatusRecord) {
	if observer == nil {
		return
	}
	observer.ObserveJobStatus(j.procedure.id, j.id, j.action.FQN(), rec)
}

// runAction invokes the action body, recovering a panic into an ordinary
// error rather than letting it unwind into the worker goroutine.
func (j *Job) runAction(ctx context.Context) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{Val: r}
		}
	}()
	return j.action.Run(ctx, j.args, j.kwargs)
}

// panicError wraps a recovered panic value. Error() formats the value with
// %v; callers that need the value itself can type-assert Val.
type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("action panicked: %v", e.Val) }
