package dispatch

import (
	"context"

	"github.com/roach88/flux/internal/ir"
)

// Dispatcher forwards a task execution message to a remote endpoint.
//
// Forward blocks until the remote node answers or the dispatcher's bound
// expires; it never blocks indefinitely. A non-OK code always comes with a
// *DispatchError.
type Dispatcher interface {
	Forward(ctx context.Context, endpoint string, msg ir.TaskExecutionMessage) (ResultCode, error)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, endpoint string, msg ir.TaskExecutionMessage) (ResultCode, error)

// Forward calls f.
func (f DispatcherFunc) Forward(ctx context.Context, endpoint string, msg ir.TaskExecutionMessage) (ResultCode, error) {
	return f(ctx, endpoint, msg)
}
