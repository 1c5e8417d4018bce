package dispatch

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/flux/internal/ir"
)

// Result is the outcome of one pooled forward.
type Result struct {
	Endpoint string
	Message  ir.TaskExecutionMessage
	Code     ResultCode
	Err      error
}

// Pool runs forwards on dedicated goroutines, at most concurrency at a
// time, and hands every outcome to a callback. Timeouts arrive as results
// with ResultTimeout like any other failure.
type Pool struct {
	ctx      context.Context
	d        Dispatcher
	g        errgroup.Group
	onResult func(Result)
}

// NewPool creates a pool. onResult is called from the worker goroutines and
// must be safe for concurrent use.
func NewPool(ctx context.Context, d Dispatcher, concurrency int, onResult func(Result)) *Pool {
	p := &Pool{ctx: ctx, d: d, onResult: onResult}
	if concurrency > 0 {
		p.g.SetLimit(concurrency)
	}
	return p
}

// Submit schedules a forward. It blocks only while the pool is at its
// concurrency limit.
func (p *Pool) Submit(endpoint string, msg ir.TaskExecutionMessage) {
	p.g.Go(func() error {
		code, err := p.d.Forward(p.ctx, endpoint, msg)
		if p.onResult != nil {
			p.onResult(Result{Endpoint: endpoint, Message: msg, Code: code, Err: err})
		}
		return nil
	})
}

// Wait blocks until every submitted forward has finished.
func (p *Pool) Wait() {
	_ = p.g.Wait()
}
