package service

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
)

// taskScope runs keyed goroutines that outlive the request that started
// them. Each task can be cancelled alone; Close cancels the rest and waits.
type taskScope struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu     sync.Mutex
	tasks  map[string]context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

func newTaskScope(parent context.Context, logger *slog.Logger) *taskScope {
	ctx, cancel := context.WithCancel(parent)
	if logger == nil {
		logger = slog.Default()
	}
	return &taskScope{
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
		tasks:  make(map[string]context.CancelFunc),
	}
}

// Go starts fn under key. It returns false when key is already running or
// the scope is closed.
func (s *taskScope) Go(key string, fn func(ctx context.Context)) bool {
	s.mu.Lock()
	if s.closed || s.ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	if _, running := s.tasks[key]; running {
		s.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.tasks[key] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.tasks, key)
			s.mu.Unlock()
			cancel()
		}()
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("task panic", "key", key, "panic", rec, "stack", string(debug.Stack()))
			}
		}()
		fn(ctx)
	}()
	return true
}

func (s *taskScope) Cancel(key string) bool {
	s.mu.Lock()
	cancel, ok := s.tasks[key]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Wait blocks until every started task has returned.
func (s *taskScope) Wait() {
	s.wg.Wait()
}

func (s *taskScope) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}
