package core

import (
	"sync"

	"github.com/google/uuid"
)

// Procedure is the unit of synchronous waiting (spec §3). It aggregates a
// dynamic set of jobs and completes when the last scheduled job finishes.
type Procedure struct {
	mu sync.Mutex

	id       uuid.UUID
	priority bool

	scheduledJobs map[uuid.UUID]*Job
	executedJobs  []*Job

	status []StatusRecord
	// result starts true (spec §3, §4.1): a procedure whose jobs all
	// produce a nil result and no errors is itself a success.
	result   any
	complete bool

	waitCh chan struct{}
}

// NewProcedure constructs an empty, incomplete procedure. If id is the zero
// UUID a fresh one is generated; recovery callers supply their own.
func NewProcedure(id uuid.UUID, priority bool) *Procedure {
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &Procedure{
		id:            id,
		priority:      priority,
		scheduledJobs: make(map[uuid.UUID]*Job),
		result:        true,
		waitCh:        make(chan struct{}),
	}
}

func (p *Procedure) ID() uuid.UUID { return p.id }

// Priority reports the procedure's scheduling priority; ties are broken
// FIFO by the scheduler.
func (p *Procedure) Priority() bool { return p.priority }

// LockObjects returns the set of resources the scheduler must acquire
// before running any of this procedure's jobs. Fixed at creation; today
// always the global sentinel set (spec §3, §9 "global lock placeholder").
func (p *Procedure) LockObjects() LockSet { return GlobalLock }

// AddScheduledJob adds job to the scheduled set. Preconditions: the
// procedure is not complete, job belongs to no set yet, and job.procedure
// is this procedure.
func (p *Procedure) AddScheduledJob(job *Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.complete {
		return ErrProgrammingError("cannot add a scheduled job to a completed procedure")
	}
	if job.procedure != p {
		return ErrProgrammingError("job does not belong to this procedure")
	}
	if _, exists := p.scheduledJobs[job.id]; exists {
		return ErrProgrammingError("job already scheduled on this procedure")
	}
	for _, ex := range p.executedJobs {
		if ex.id == job.id {
			return ErrProgrammingError("job already executed on this procedure")
		}
	}
	p.scheduledJobs[job.id] = job
	return nil
}

// ScheduledJobs returns a snapshot slice of the currently scheduled jobs,
// in no particular order (used by the worker to prime its private queue
// when it picks up this procedure).
func (p *Procedure) ScheduledJobs() []*Job {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*Job, 0, len(p.scheduledJobs))
	for _, j := range p.scheduledJobs {
		out = append(out, j)
	}
	return out
}

// AddExecutedJob moves job from scheduled to executed, folds its result
// and status into the procedure, and — if this drains scheduledJobs —
// marks the procedure complete and wakes every waiter.
func (p *Procedure) AddExecutedJob(job *Job) error {
	p.mu.Lock()

	if p.complete {
		p.mu.Unlock()
		return ErrProgrammingError("cannot add an executed job to a completed procedure")
	}
	if _, ok := p.scheduledJobs[job.id]; !ok {
		p.mu.Unlock()
		return ErrProgrammingError("job is not in the scheduled set")
	}
	delete(p.scheduledJobs, job.id)
	p.executedJobs = append(p.executedJobs, job)

	if job.hasResult {
		p.result = job.result
	}
	p.status = append(p.status, job.Status()...)

	drained := len(p.scheduledJobs) == 0
	if drained {
		p.complete = true
	}
	waitCh := p.waitCh
	p.mu.Unlock()

	if drained {
		close(waitCh)
	}
	return nil
}

// Wait blocks until the procedure is complete. Must be called from outside
// the worker goroutine; the facade enforces this (ErrProgrammingError
// otherwise) since the worker waiting on itself would deadlock.
func (p *Procedure) Wait() {
	p.mu.Lock()
	ch := p.waitCh
	complete := p.complete
	p.mu.Unlock()

	if complete {
		return
	}
	<-ch
}

// Complete reports whether the procedure has drained.
func (p *Procedure) Complete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.complete
}

// Result is readable only once Complete() is true; reading earlier is a
// contract violation (spec §4.1 chooses contract-violation over blocking).
func (p *Procedure) Result() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.complete {
		panic("core: Procedure.Result read before completion")
	}
	return p.result
}

// Status is readable only once Complete() is true, for the same reason as
// Result.
func (p *Procedure) Status() []StatusRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.complete {
		panic("core: Procedure.Status read before completion")
	}
	out := make([]StatusRecord, len(p.status))
	copy(out, p.status)
	return out
}

// ExecutedJobs returns a snapshot of jobs executed so far, in completion
// order.
func (p *Procedure) ExecutedJobs() []*Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Job, len(p.executedJobs))
	copy(out, p.executedJobs)
	return out
}
