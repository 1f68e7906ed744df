package core

import "context"

// workerCtxKey marks a context as running synchronously on the worker
// goroutine, inside a currently-executing job. Enqueue* calls inspect this
// marker to decide whether the caller is "the worker" for the purposes of
// the within_procedure legality table (spec §4.6) — this stands in for the
// thread-identity check the source language does with a thread-local,
// without resorting to goroutine-ID introspection.
type workerCtxKey struct{}

// currentJobCtxKey carries the *Job currently executing on the worker, so
// that EnqueueWithinCurrent can find "the currently executing job's
// procedure" (spec §4.6, within_procedure=true/worker case) without a
// package-level variable.
type currentJobCtxKey struct{}

func markWorkerContext(ctx context.Context, job *Job) context.Context {
	ctx = context.WithValue(ctx, workerCtxKey{}, true)
	ctx = context.WithValue(ctx, currentJobCtxKey{}, job)
	return ctx
}

func isWorkerContext(ctx context.Context) bool {
	v, _ := ctx.Value(workerCtxKey{}).(bool)
	return v
}

func currentJob(ctx context.Context) *Job {
	j, _ := ctx.Value(currentJobCtxKey{}).(*Job)
	return j
}
