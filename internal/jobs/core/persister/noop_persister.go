package persister

import "context"

// Noop is a Persister that does nothing. Useful for actions that don't
// touch the database, or for exercising the worker loop in isolation.
type Noop struct{}

func (Noop) Begin(context.Context) error    { return nil }
func (Noop) Commit(context.Context) error   { return nil }
func (Noop) Rollback(context.Context) error { return nil }
func (Noop) Close() error                   { return nil }
