package fixtures

import (
	"context"

	"github.com/dogmatiq/changefeed"
)

// HandlerStub is a test implementation of the changefeed.Handler interface.
type HandlerStub struct {
	changefeed.Handler

	HandleEventFunc func(context.Context, changefeed.ChangeEvent) error
}

// HandleEvent handles a change event.
func (h *HandlerStub) HandleEvent(ctx context.Context, ev changefeed.ChangeEvent) error {
	if h.HandleEventFunc != nil {
		return h.HandleEventFunc(ctx, ev)
	}

	if h.Handler != nil {
		return h.Handler.HandleEvent(ctx, ev)
	}

	return nil
}
