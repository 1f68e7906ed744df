package core

import (
	"context"

	"github.com/coredb/execore/internal/platform/logger"
)

// ExecutorWorker is the single consumer loop: it pulls a procedure from the
// scheduler, drains its jobs through its private queue, executes each, and
// advances to the next procedure (spec §4.4).
type ExecutorWorker struct {
	ctx         context.Context
	scheduler   Scheduler
	queue       *ExecutorQueue
	checkpoints CheckpointStore
	observer    StatusObserver
	log         *logger.Logger
	newPersister func() (Persister, error)

	currentProcedure *Procedure

	done chan struct{}
}

func newExecutorWorker(ctx context.Context, scheduler Scheduler, checkpoints CheckpointStore, observer StatusObserver, log *logger.Logger, newPersister func() (Persister, error)) *ExecutorWorker {
	return &ExecutorWorker{
		ctx:          ctx,
		scheduler:    scheduler,
		queue:        NewExecutorQueue(),
		checkpoints:  checkpoints,
		observer:     observer,
		log:          log,
		newPersister: newPersister,
		done:         make(chan struct{}),
	}
}

// Run is the worker goroutine's entry point (spec §4.4's state machine). It
// creates a persister, installs it for the duration of the loop, and
// closes it on exit — the open question in spec §9(a) resolved in favour
// of the clean implementation.
func (w *ExecutorWorker) Run() {
	defer close(w.done)

	persister, err := w.newPersister()
	if err != nil {
		if w.log != nil {
			w.log.Error("worker failed to create persister, exiting", "error", err)
		}
		return
	}
	defer func() {
		if cerr := persister.Close(); cerr != nil && w.log != nil {
			w.log.Error("persister close failed", "error", cerr)
		}
	}()

	rt := jobRuntime{
		persister:   persister,
		scheduler:   w.scheduler,
		queue:       w.queue,
		checkpoints: w.checkpoints,
		observer:    w.observer,
		log:         w.log,
	}

	for {
		if w.currentProcedure == nil || w.currentProcedure.Complete() {
			w.scheduler.Done(w.currentProcedure)
			next := w.scheduler.NextProcedure(w.ctx)
			if next == nil {
				w.queue.Schedule([]*Job{nil})
			} else {
				w.queue.Schedule(next.ScheduledJobs())
			}
			w.currentProcedure = next
		}

		job, stop := w.queue.Get()
		if stop {
			break
		}
		job.execute(w.ctx, rt)
		w.queue.Done()
	}
}

// Stopped is closed once Run has returned.
func (w *ExecutorWorker) Stopped() <-chan struct{} { return w.done }
