package changefeed

import (
	"context"
	"errors"

	"github.com/dogmatiq/changefeed/internal/mlog"
	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/linger/backoff"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/multierr"
)

// errServerClosedCursor indicates that the server closed a stream's cursor
// without first sending an invalidate event.
var errServerClosedCursor = errors.New("server closed the change stream cursor")

// Handler handles events consumed from a change stream.
type Handler interface {
	// HandleEvent handles a change event.
	//
	// If it returns an error the consumer opens a new stream that begins at
	// the same event.
	HandleEvent(ctx context.Context, ev ChangeEvent) error
}

// HandlerFunc is an adaptor that allows an ordinary function to be used as a
// Handler.
type HandlerFunc func(ctx context.Context, ev ChangeEvent) error

// HandleEvent returns fn(ctx, ev).
func (fn HandlerFunc) HandleEvent(ctx context.Context, ev ChangeEvent) error {
	return fn(ctx, ev)
}

// Consumer reads events from a change stream in order to handle them.
//
// Unlike a ChangeStream, which resumes at most once per failure, a consumer
// keeps opening new streams after any failure, waiting between attempts
// according to its backoff strategy.
type Consumer struct {
	// Executor runs the commands for each stream.
	Executor Executor

	// Namespace is the namespace to watch.
	Namespace Namespace

	// Pipeline is the sequence of aggregation stages applied to each event.
	Pipeline Pipeline

	// Options are the options used when opening each stream.
	Options []WatchOption

	// Handler is the target for the events from the stream.
	Handler Handler

	// BackoffStrategy is the strategy used to delay opening a new stream
	// after a failure. If it is nil, backoff.DefaultStrategy is used.
	BackoffStrategy backoff.Strategy

	// Logger is the target for log messages from the consumer and its
	// streams. If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger

	token         bson.Raw
	backoff       backoff.Counter
	handlerFailed bool
}

// Run handles events until ctx is canceled or an invalidate event has been
// handled.
func (c *Consumer) Run(ctx context.Context) error {
	c.backoff = backoff.Counter{
		Strategy: c.BackoffStrategy,
	}

	for {
		err := c.consume(ctx)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := c.backoff.Fail(err)

		mlog.LogRestart(
			c.Logger,
			c.Namespace.String(),
			err,
			delay,
		)

		if err := linger.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// ResumeToken returns the token that resumes consumption immediately after
// the last event that was handled successfully.
//
// It must not be called while Run() is in progress.
func (c *Consumer) ResumeToken() bson.Raw {
	return c.token
}

// consume opens a stream and handles its events.
//
// It consumes until ctx is canceled, an error occurs or an invalidate event
// is handled.
func (c *Consumer) consume(ctx context.Context) (err error) {
	opts := []WatchOption{WithLogger(c.Logger)}
	opts = append(opts, c.Options...)

	if c.token != nil {
		opts = append(opts, resumeFrom(c.token))
	}

	cs, err := Watch(c.Executor, c.Namespace, c.Pipeline, opts...)
	if err != nil {
		return err
	}

	defer func() {
		err = multierr.Append(
			err,
			cs.Close(context.WithoutCancel(ctx)),
		)
	}()

	for {
		if err := c.consumeNext(ctx, cs); err != nil {
			if errors.Is(err, errInvalidated) {
				return nil
			}

			return err
		}
	}
}

// errInvalidated is returned by consumeNext() once an invalidate event has
// been handled.
var errInvalidated = errors.New("change stream invalidated")

// consumeNext waits for the next event on the stream then handles it.
func (c *Consumer) consumeNext(ctx context.Context, cs *ChangeStream) error {
	ev, err := cs.Next(ctx)
	if err != nil {
		// Events are handled before the next one is requested, so the
		// stream's token never points past an unhandled event. A token that
		// is still the caller's startAfter token is not adopted, the restart
		// must use startAfter again rather than resumeAfter.
		if t := cs.ResumeToken(); t != nil && !cs.isStartAfter(t) {
			c.token = t
		}

		if errors.Is(err, ErrClosed) {
			return errServerClosedCursor
		}

		return err
	}

	// We've successfully obtained an event from the stream. If the last failure
	// was caused by the stream (and not the handler), reset the failure count
	// now, otherwise only reset it once we manage to actually handle the event.
	if !c.handlerFailed {
		c.backoff.Reset()
	}

	if err := c.Handler.HandleEvent(ctx, ev); err != nil {
		c.handlerFailed = true
		return err
	}

	c.handlerFailed = false
	c.backoff.Reset()
	c.token = cs.ResumeToken()

	if ev.IsInvalidate() {
		return errInvalidated
	}

	return nil
}
