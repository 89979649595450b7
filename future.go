package changefeed

import (
	"context"
	"sync"
	"sync/atomic"
)

// Future is the eventual result of a call to ChangeStream.NextAsync().
type Future struct {
	done     atomic.Bool // fast path, protects ev and err
	m        sync.Mutex  // slow path, protects ev, err and resolved channel
	ev       ChangeEvent
	err      error
	resolved chan struct{}
}

// Await blocks until the future is resolved, then returns the result of the
// underlying call to Next().
//
// If ctx is canceled before the future is resolved, the underlying call keeps
// running and its result can still be obtained by calling Await() again.
func (f *Future) Await(ctx context.Context) (ChangeEvent, error) {
	if f.done.Load() {
		return f.ev, f.err
	}

	select {
	case <-ctx.Done():
		return ChangeEvent{}, ctx.Err()
	case <-f.Done():
		return f.ev, f.err
	}
}

// Done returns a channel that is closed when the future is resolved.
func (f *Future) Done() <-chan struct{} {
	f.m.Lock()
	defer f.m.Unlock()

	if f.resolved == nil {
		f.resolved = make(chan struct{})

		// The future was resolved before anyone asked for the channel.
		if f.done.Load() {
			close(f.resolved)
		}
	}

	return f.resolved
}

// resolve wakes any blocked calls to Await() and causes them to return ev and
// err.
func (f *Future) resolve(ev ChangeEvent, err error) {
	f.m.Lock()

	f.ev = ev
	f.err = err
	f.done.Store(true)

	if f.resolved != nil {
		close(f.resolved)
	}

	f.m.Unlock()
}
