package fixtures

import (
	"context"

	"github.com/dogmatiq/changefeed"
)

// ExecutorStub is a test implementation of the changefeed.Executor interface.
type ExecutorStub struct {
	changefeed.Executor

	ExecuteFunc func(context.Context, changefeed.Command) (changefeed.Reply, error)
}

// Execute runs cmd and returns the server's reply.
func (e *ExecutorStub) Execute(ctx context.Context, cmd changefeed.Command) (changefeed.Reply, error) {
	if e.ExecuteFunc != nil {
		return e.ExecuteFunc(ctx, cmd)
	}

	if e.Executor != nil {
		return e.Executor.Execute(ctx, cmd)
	}

	return changefeed.Reply{Document: OK}, nil
}
