// Package actions holds demo actions for the submission semantics matrix
// (spec §4.6, §8) without pulling in a real administrative-action
// implementation. cmd/execd exposes Double and AlwaysFails; SpawnChild and
// SpawnSibling build actions bound to an Executor and are not wired into
// cmd/execd.
package actions

import (
	"context"
	"fmt"

	core "github.com/coredb/execore/internal/jobs/core"
)

// Double multiplies its sole positional argument by two. Grounds scenario
// 1 of the testable properties (spec §8): enqueue_procedure(false, double,
// "d", (21,), {}) should yield p.result == 42.
var Double = core.ActionFunc{
	Name: "execore.demo.double",
	Fn: func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("double: expected exactly one argument, got %d", len(args))
		}
		n, ok := args[0].(int)
		if !ok {
			return nil, fmt.Errorf("double: argument must be an int, got %T", args[0])
		}
		return n * 2, nil
	},
}

// AlwaysFails unconditionally returns an error, grounding scenario 2 of the
// testable properties.
var AlwaysFails = core.ActionFunc{
	Name: "execore.demo.always_fails",
	Fn: func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return nil, fmt.Errorf("demo action intentionally failed")
	},
}

// SpawnChild enqueues a second action within the currently executing
// procedure, grounding scenario 3 (in-procedure spawn): the resulting
// procedure gains two executed jobs and takes the child's result.
func SpawnChild(executor *core.Executor, child core.ActionSpec) core.ActionFunc {
	return core.ActionFunc{
		Name: "execore.demo.spawn_child",
		Fn: func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
			if _, err := executor.EnqueueWithinCurrent(ctx, []core.ActionSpec{child}); err != nil {
				return nil, err
			}
			return nil, nil
		},
	}
}

// SpawnSibling enqueues a brand-new procedure from inside a running action,
// grounding scenario 4 (cross-procedure spawn).
func SpawnSibling(executor *core.Executor, sibling core.ActionSpec) core.ActionFunc {
	return core.ActionFunc{
		Name: "execore.demo.spawn_sibling",
		Fn: func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
			if _, err := executor.EnqueueBatch(ctx, false, []core.ActionSpec{sibling}); err != nil {
				return nil, err
			}
			return nil, nil
		},
	}
}
