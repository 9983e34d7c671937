package session

import (
	"context"
	"sync"
)

// startSignal is released once the debuggee has reported its first
// event. Attached debuggees may already be running, so their signal starts
// released and waiting on it never blocks.
type startSignal struct {
	ch   chan struct{}
	once sync.Once
}

func newStartSignal(launched bool) *startSignal {
	s := &startSignal{ch: make(chan struct{})}
	if !launched {
		s.release()
	}
	return s
}

func (s *startSignal) release() {
	s.once.Do(func() { close(s.ch) })
}

func (s *startSignal) wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
