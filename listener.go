package changefeed

import (
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

// Listener is notified of the events that occur during the lifetime of a
// change stream.
//
// Notifications are delivered synchronously on the goroutine that is
// advancing the stream. Listeners must not call the stream's consumption
// methods, although they may call Close().
type Listener interface {
	// OnInit is called when the stream's initial aggregate succeeds.
	OnInit()

	// OnChange is called for each event delivered to the consumer.
	OnChange(ev ChangeEvent)

	// OnError is called when the stream fails with a non-resumable error. It
	// is always followed by a call to OnClose().
	OnError(err error)

	// OnClose is called once, when the stream is closed for any reason.
	OnClose()

	// OnResumeTokenChanged is called each time the stream's resume token
	// changes value.
	OnResumeTokenChanged(token bson.Raw)
}

// ListenerFuncs is an implementation of Listener that dispatches to optional
// functions. A nil function field is ignored.
type ListenerFuncs struct {
	Init               func()
	Change             func(ChangeEvent)
	Error              func(error)
	Close              func()
	ResumeTokenChanged func(bson.Raw)
}

// OnInit calls l.Init if it is non-nil.
func (l ListenerFuncs) OnInit() {
	if l.Init != nil {
		l.Init()
	}
}

// OnChange calls l.Change if it is non-nil.
func (l ListenerFuncs) OnChange(ev ChangeEvent) {
	if l.Change != nil {
		l.Change(ev)
	}
}

// OnError calls l.Error if it is non-nil.
func (l ListenerFuncs) OnError(err error) {
	if l.Error != nil {
		l.Error(err)
	}
}

// OnClose calls l.Close if it is non-nil.
func (l ListenerFuncs) OnClose() {
	if l.Close != nil {
		l.Close()
	}
}

// OnResumeTokenChanged calls l.ResumeTokenChanged if it is non-nil.
func (l ListenerFuncs) OnResumeTokenChanged(token bson.Raw) {
	if l.ResumeTokenChanged != nil {
		l.ResumeTokenChanged(token)
	}
}

// bus fans notifications out to a set of listeners.
type bus struct {
	m         sync.Mutex
	listeners []*Listener
}

// add registers l and returns a function that unregisters it.
func (b *bus) add(l Listener) (remove func()) {
	p := &l

	b.m.Lock()
	b.listeners = append(b.listeners, p)
	b.m.Unlock()

	return func() {
		b.m.Lock()
		defer b.m.Unlock()

		for i, x := range b.listeners {
			if x == p {
				b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
				return
			}
		}
	}
}

// each calls fn for each registered listener.
func (b *bus) each(fn func(Listener)) {
	b.m.Lock()
	listeners := b.listeners
	b.m.Unlock()

	for _, l := range listeners {
		fn(*l)
	}
}

func (b *bus) init() {
	b.each(func(l Listener) { l.OnInit() })
}

func (b *bus) change(ev ChangeEvent) {
	b.each(func(l Listener) { l.OnChange(ev) })
}

func (b *bus) error(err error) {
	b.each(func(l Listener) { l.OnError(err) })
}

func (b *bus) close() {
	b.each(func(l Listener) { l.OnClose() })
}

func (b *bus) resumeTokenChanged(token bson.Raw) {
	b.each(func(l Listener) { l.OnResumeTokenChanged(token) })
}
