package changefeed

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/dogmatiq/changefeed/internal/mlog"
	"github.com/dogmatiq/dodeca/logging"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/semaphore"
)

// State is the lifecycle state of a change stream.
type State int

const (
	// Uninitialized is the state of a stream that has not yet sent any
	// commands to the server.
	Uninitialized State = iota

	// Starting is the state of a stream while its initial aggregate command is
	// in flight.
	Starting

	// Iterating is the steady state of a stream with an open cursor.
	Iterating

	// Resuming is the state of a stream while its cursor is being rebuilt
	// after a resumable error.
	Resuming

	// Closed is the terminal state of a stream.
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Starting:
		return "starting"
	case Iterating:
		return "iterating"
	case Resuming:
		return "resuming"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// consumptionMode is the style of API used to consume a stream.
type consumptionMode int

const (
	unclaimed consumptionMode = iota
	pullMode
	pushMode
)

// advanceMode controls how far a call to advance() goes.
type advanceMode int

const (
	// startOnly opens the cursor without waiting for an event.
	startOnly advanceMode = iota

	// peekNext waits for an event without consuming it.
	peekNext

	// takeNext waits for an event and consumes it.
	takeNext

	// tryNext consumes a buffered event, or issues at most one getMore.
	tryNext
)

// ChangeStream is a resumable cursor over the changes made within a
// namespace.
//
// A stream may be consumed by pulling events with HasNext(), Next(),
// TryNext(), NextAsync(), NextFunc() and All(), or by having them pushed to a
// Listener by Listen(). A single stream can not be consumed both ways.
//
// It is safe to call methods on a stream concurrently. Concurrent calls that
// consume events are served one at a time, in the order they acquire the
// stream. Close() is never blocked by other calls.
type ChangeStream struct {
	id       uuid.UUID
	exec     Executor
	ns       Namespace
	pipeline Pipeline
	opts     *watchOptions
	logger   logging.Logger
	bus      bus

	// lifetime is canceled when the stream is closed, which aborts any
	// operation that is in flight.
	lifetime context.Context
	end      context.CancelCauseFunc
	done     chan struct{}

	// sem ensures only one call to advance() is in progress at a time.
	sem *semaphore.Weighted

	m     sync.Mutex
	state State
	mode  consumptionMode
	token bson.Raw
	cur   *cursor

	// The remaining fields are only accessed while holding sem.
	tracker     tokenTracker
	server      ServerDescription
	interrupted error
	unsaved     bool
}

// ID returns a unique identifier for the stream, used to correlate its log
// messages.
func (cs *ChangeStream) ID() uuid.UUID {
	return cs.id
}

// Namespace returns the namespace that the stream watches.
func (cs *ChangeStream) Namespace() Namespace {
	return cs.ns
}

// State returns the stream's current lifecycle state.
func (cs *ChangeStream) State() State {
	cs.m.Lock()
	defer cs.m.Unlock()

	return cs.state
}

// ResumeToken returns the token that resumes the stream at its current
// position, or nil if there is no such token yet.
func (cs *ChangeStream) ResumeToken() bson.Raw {
	cs.m.Lock()
	defer cs.m.Unlock()

	return cs.token
}

// isStartAfter returns true if t is the startAfter token passed to Watch().
func (cs *ChangeStream) isStartAfter(t bson.Raw) bool {
	return cs.opts.StartAfter != nil && bytes.Equal(cs.opts.StartAfter, t)
}

// Done returns a channel that is closed once the stream has been closed and
// every listener has been notified.
func (cs *ChangeStream) Done() <-chan struct{} {
	return cs.done
}

// Start opens the stream's cursor if it is not already open.
//
// Calling Start() is optional, the first call that consumes an event opens the
// cursor if necessary.
func (cs *ChangeStream) Start(ctx context.Context) error {
	_, _, err := cs.advance(ctx, startOnly)
	return err
}

// Close closes the stream.
//
// The server-side cursor is killed if it is still open. Any call that is
// waiting for an event returns ErrClosed, as does any subsequent call. It is
// not an error to close a stream that is already closed.
func (cs *ChangeStream) Close(ctx context.Context) error {
	return cs.shutdown(ctx, nil)
}

// advance moves the stream toward its next event according to mode.
//
// ok is true if an event is available, in which case ev is that event.
func (cs *ChangeStream) advance(ctx context.Context, mode advanceMode) (ev ChangeEvent, ok bool, err error) {
	if cs.isClosed() {
		return ChangeEvent{}, false, ErrClosed
	}

	ctx, release := cs.bind(ctx)
	defer release()

	if err := cs.sem.Acquire(ctx, 1); err != nil {
		if cs.isClosed() {
			return ChangeEvent{}, false, ErrClosed
		}

		return ChangeEvent{}, false, err
	}
	defer cs.sem.Release(1)
	defer cs.persist(ctx)

	ev, ok, err = cs.step(ctx, mode)

	if cs.isClosed() {
		return ChangeEvent{}, false, ErrClosed
	}

	if err != nil {
		if ctx.Err() != nil {
			return ChangeEvent{}, false, ctx.Err()
		}

		cs.shutdown(context.WithoutCancel(ctx), err)
		return ChangeEvent{}, false, err
	}

	if !ok || mode == peekNext {
		return ev, ok, nil
	}

	cs.consume(ev)

	id, _ := ev.DocumentKey()
	mlog.LogChange(cs.logger, cs.ns.String(), string(ev.OperationType()), id.String())
	cs.bus.change(ev)

	if ev.IsInvalidate() {
		cs.shutdown(context.WithoutCancel(ctx), nil)
	}

	return ev, true, nil
}

// step opens or rebuilds the cursor if necessary, then fetches batches until
// an event is buffered.
//
// It does not consume the event.
func (cs *ChangeStream) step(ctx context.Context, mode advanceMode) (ChangeEvent, bool, error) {
	if err := cs.ensureCursor(ctx); err != nil {
		return ChangeEvent{}, false, err
	}

	if mode == startOnly {
		return ChangeEvent{}, false, nil
	}

	fetched := false
	resumed := false

	for {
		if doc, ok := cs.cur.peek(); ok {
			ev := ChangeEvent{doc}

			if _, ok := ev.ResumeToken(); !ok {
				return ChangeEvent{}, false, ErrMissingResumeToken
			}

			return ev, true, nil
		}

		if cs.cur.exhausted() {
			cs.shutdown(context.WithoutCancel(ctx), nil)
			return ChangeEvent{}, false, ErrClosed
		}

		if mode == tryNext && fetched {
			return ChangeEvent{}, false, nil
		}
		fetched = true

		err := cs.cur.getMore(ctx)
		if err == nil {
			resumed = false
			continue
		}

		if ctx.Err() != nil {
			// The outcome of the getMore is unknown, so the cursor can not be
			// trusted to continue from the right place.
			cs.interrupted = err
			return ChangeEvent{}, false, err
		}

		// A resumable error that occurs immediately after a resume is treated
		// as fatal.
		if resumed || !IsResumable(err, cs.server) {
			return ChangeEvent{}, false, err
		}
		resumed = true

		if err := cs.resume(ctx, err); err != nil {
			return ChangeEvent{}, false, err
		}
	}
}

// ensureCursor opens the stream's cursor if it has never been opened, or
// rebuilds it if a previous call was interrupted.
func (cs *ChangeStream) ensureCursor(ctx context.Context) error {
	if cs.cur == nil {
		return cs.start(ctx)
	}

	if cs.interrupted != nil {
		return cs.resume(ctx, cs.interrupted)
	}

	return nil
}

// start issues the initial aggregate command.
//
// If it fails with a resumable error it is retried once.
func (cs *ChangeStream) start(ctx context.Context) error {
	if err := cs.loadToken(ctx); err != nil {
		return err
	}

	cs.setState(Starting)

	d := initialDescriptor(cs.opts)
	err := cs.open(ctx, d)

	if err != nil && ctx.Err() == nil && IsResumable(err, cs.server) {
		d = cs.tracker.resumeDescriptor(cs.server)
		mlog.LogResuming(cs.logger, cs.ns.String(), err, d.String())
		err = cs.open(ctx, d)
	}

	if err != nil {
		if ctx.Err() != nil {
			cs.setState(Uninitialized)
		}

		return err
	}

	cs.setState(Iterating)
	cs.bus.init()

	return nil
}

// resume discards the current cursor and opens a new one positioned
// immediately after the last event delivered to the consumer.
func (cs *ChangeStream) resume(ctx context.Context, cause error) error {
	cs.setState(Resuming)
	cs.interrupted = cause

	old := cs.cur
	old.detach()
	cs.tracker.resetBatch()

	if err := old.kill(ctx); err != nil {
		logging.Debug(cs.logger, "ignoring error from discarded cursor: %s", err)
	}

	d := cs.tracker.resumeDescriptor(cs.server)
	mlog.LogResuming(cs.logger, cs.ns.String(), cause, d.String())

	if err := cs.open(ctx, d); err != nil {
		return err
	}

	cs.interrupted = nil
	cs.setState(Iterating)

	return nil
}

// open runs the aggregate command and makes the resulting cursor the
// stream's current cursor.
func (cs *ChangeStream) open(ctx context.Context, d resumeDescriptor) error {
	cur, err := openCursor(
		ctx,
		cs.exec,
		cs.ns,
		cs.pipeline,
		cs.opts,
		d,
		cs.logger,
		cs.observeReply,
	)
	if err != nil {
		return err
	}

	cs.m.Lock()
	closed := cs.state == Closed
	if !closed {
		cs.cur = cur
	}
	cs.m.Unlock()

	if closed {
		// The stream was closed while the aggregate was in flight. Close()
		// could not have known about this cursor.
		cur.detach()
		if err := cur.kill(context.WithoutCancel(ctx)); err != nil {
			logging.Debug(cs.logger, "ignoring error from discarded cursor: %s", err)
		}

		return ErrClosed
	}

	mlog.LogStarted(cs.logger, cs.ns.String(), d.String())

	return nil
}

// observeReply updates the resume token from an aggregate or getMore reply.
func (cs *ChangeStream) observeReply(r cursorReply) {
	cs.server = r.Server

	if r.Initial {
		cs.tracker.observeOperationTime(r.OperationTime)
	}

	cs.tracker.observeBatch(len(r.Batch), r.PBRT)
}

// consume removes ev from the cursor's buffer and records it as delivered.
func (cs *ChangeStream) consume(ev ChangeEvent) {
	remaining := cs.cur.pop()
	id, _ := ev.ResumeToken()
	cs.tracker.observeEvent(id, remaining)
}

// tokenChanged is called by the tracker whenever the resume token changes.
func (cs *ChangeStream) tokenChanged(token bson.Raw) {
	cs.m.Lock()
	cs.token = token
	cs.m.Unlock()

	cs.unsaved = true
	cs.bus.resumeTokenChanged(token)
}

// loadToken seeds the stream with the token from its token store, unless the
// caller supplied a resume option explicitly.
func (cs *ChangeStream) loadToken(ctx context.Context) error {
	if cs.opts.TokenStore == nil || cs.opts.hasResumeOption() {
		return nil
	}

	token, ok, err := cs.opts.TokenStore.Load(ctx, cs.opts.TokenKey)
	if err != nil {
		return fmt.Errorf("unable to load resume token: %w", err)
	}

	if ok {
		cs.opts.ResumeAfter = token
		cs.tracker.seed(cs.opts)
		cs.unsaved = false
	}

	return nil
}

// persist saves the current resume token to the token store if it has
// changed since it was last saved.
func (cs *ChangeStream) persist(ctx context.Context) {
	if !cs.unsaved || cs.opts.TokenStore == nil {
		return
	}

	if err := cs.opts.TokenStore.Save(
		context.WithoutCancel(ctx),
		cs.opts.TokenKey,
		cs.tracker.Token(),
	); err != nil {
		logging.Log(cs.logger, "unable to save resume token: %s", err)
		return
	}

	cs.unsaved = false
}

// shutdown closes the stream.
//
// cause is the error that caused the stream to close, if any. It returns an
// error if the server-side cursor could not be killed.
func (cs *ChangeStream) shutdown(ctx context.Context, cause error) error {
	cs.m.Lock()
	if cs.state == Closed {
		cs.m.Unlock()
		return nil
	}
	cs.state = Closed
	cur := cs.cur
	cs.m.Unlock()

	cs.end(ErrClosed)

	var err error
	if cur != nil {
		err = cur.kill(ctx)
	}

	mlog.LogClosed(cs.logger, cs.ns.String(), cause)

	if cause != nil {
		cs.bus.error(cause)
	}
	cs.bus.close()

	close(cs.done)

	return err
}

// claim reserves the stream for the given consumption mode.
func (cs *ChangeStream) claim(mode consumptionMode) error {
	cs.m.Lock()
	defer cs.m.Unlock()

	if cs.state == Closed {
		return ErrClosed
	}

	if cs.mode == unclaimed {
		cs.mode = mode
	} else if cs.mode != mode {
		return ErrMixedConsumptionModes
	}

	return nil
}

func (cs *ChangeStream) isClosed() bool {
	return cs.State() == Closed
}

// setState transitions to s, unless the stream has already been closed.
func (cs *ChangeStream) setState(s State) {
	cs.m.Lock()
	defer cs.m.Unlock()

	if cs.state != Closed {
		cs.state = s
	}
}

// bind returns a context that is canceled when either ctx is canceled or the
// stream is closed.
func (cs *ChangeStream) bind(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(cs.lifetime, func() {
		cancel(ErrClosed)
	})

	return ctx, func() {
		stop()
		cancel(nil)
	}
}
