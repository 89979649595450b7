package changefeed

import (
	"context"
	"errors"
	"iter"
)

// HasNext blocks until an event is available, returning true if one is.
//
// The event is not consumed, it is returned by the next call to Next(). It
// returns ErrClosed if the stream is closed before an event becomes
// available.
func (cs *ChangeStream) HasNext(ctx context.Context) (bool, error) {
	if err := cs.claim(pullMode); err != nil {
		return false, err
	}

	_, ok, err := cs.advance(ctx, peekNext)
	return ok, err
}

// Next blocks until the next event is available, then returns it.
//
// If the stream fails with a non-resumable error that error is returned and
// the stream is closed. Subsequent calls return ErrClosed.
//
// If ctx is canceled while waiting for the server the stream remains open.
// The next call resumes from the last event that was returned.
func (cs *ChangeStream) Next(ctx context.Context) (ChangeEvent, error) {
	if err := cs.claim(pullMode); err != nil {
		return ChangeEvent{}, err
	}

	ev, _, err := cs.advance(ctx, takeNext)
	return ev, err
}

// TryNext returns the next event if one is buffered, otherwise it asks the
// server for the next batch once.
//
// ok is false if the server has no events available yet. The resume token
// is still updated from the server's reply.
func (cs *ChangeStream) TryNext(ctx context.Context) (ev ChangeEvent, ok bool, err error) {
	if err := cs.claim(pullMode); err != nil {
		return ChangeEvent{}, false, err
	}

	return cs.advance(ctx, tryNext)
}

// NextAsync starts a call to Next() in a separate goroutine and returns a
// future that is resolved with its result.
func (cs *ChangeStream) NextAsync(ctx context.Context) *Future {
	f := &Future{}

	go func() {
		f.resolve(cs.Next(ctx))
	}()

	return f
}

// NextFunc starts a call to Next() in a separate goroutine and passes its
// result to fn.
func (cs *ChangeStream) NextFunc(ctx context.Context, fn func(ChangeEvent, error)) {
	go func() {
		fn(cs.Next(ctx))
	}()
}

// All returns a sequence of the stream's events.
//
// The sequence ends without an error when the stream is closed normally,
// such as after an invalidate event. Any other error is yielded once, then the
// sequence ends.
func (cs *ChangeStream) All(ctx context.Context) iter.Seq2[ChangeEvent, error] {
	return func(yield func(ChangeEvent, error) bool) {
		for {
			ev, err := cs.Next(ctx)
			if errors.Is(err, ErrClosed) {
				return
			}

			if !yield(ev, err) || err != nil {
				return
			}
		}
	}
}

// Transform returns a sequence of values produced by applying fn to each of
// the events in cs.
//
// If fn returns an error it is yielded and the sequence ends. The stream
// itself remains open.
func Transform[T any](
	ctx context.Context,
	cs *ChangeStream,
	fn func(ChangeEvent) (T, error),
) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for ev, err := range cs.All(ctx) {
			var v T
			if err == nil {
				v, err = fn(ev)
			}

			if !yield(v, err) || err != nil {
				return
			}
		}
	}
}

// Listen pushes the stream's events to l until the stream is closed or ctx
// is canceled.
//
// l is notified in addition to any listeners supplied via WithListener(). It
// is unregistered when Listen() returns.
//
// It returns nil if the stream is closed normally, either by Close() or after
// an invalidate event. If the stream fails, l.OnError() and l.OnClose() are
// called, then the error is returned.
func (cs *ChangeStream) Listen(ctx context.Context, l Listener) error {
	if err := cs.claim(pushMode); err != nil {
		return err
	}

	remove := cs.bus.add(l)
	defer remove()

	for {
		_, _, err := cs.advance(ctx, takeNext)
		if err == nil {
			continue
		}

		if cs.isClosed() {
			// Close() may still be notifying listeners on another goroutine.
			<-cs.done

			if errors.Is(err, ErrClosed) {
				return nil
			}
		}

		return err
	}
}
