package session

import (
	"context"
	"sync"
)

// scope is a cancel-and-replace cancellation source. Reset cancels every
// operation started under the current context and installs a fresh one; a
// canceled context is never reused.
type scope struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func newScope() *scope {
	ctx, cancel := context.WithCancel(context.Background())
	return &scope{ctx: ctx, cancel: cancel}
}

func (s *scope) Context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *scope) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(context.Background())
}

func (s *scope) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel()
}
