package syncx

import (
	"context"
	"sync"
)

// Mutex is a context-aware mutual exclusion lock.
//
// The zero value is an unlocked mutex.
type Mutex struct {
	once sync.Once
	sem  chan struct{}
}

// Lock acquires the mutex.
//
// It blocks until the mutex is acquired, or ctx is canceled.
func (m *Mutex) Lock(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	m.init()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case m.sem <- struct{}{}:
		return nil
	}
}

// Unlock releases the mutex.
//
// It panics if the mutex is not locked.
func (m *Mutex) Unlock() {
	m.init()

	select {
	case <-m.sem:
	default:
		panic("mutex is not locked")
	}
}

func (m *Mutex) init() {
	m.once.Do(func() {
		m.sem = make(chan struct{}, 1)
	})
}
