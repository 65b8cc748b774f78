package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ShutdownCoordinator runs cleanup handlers in LIFO order, so the engine is
// torn down before the transport it sends through and the metrics server last.
type ShutdownCoordinator struct {
	mu       sync.Mutex
	handlers []namedHandler
	done     bool
}

type namedHandler struct {
	name string
	fn   func(context.Context) error
}

// Register adds a shutdown handler. Handlers registered after Shutdown are ignored.
func (s *ShutdownCoordinator) Register(name string, fn func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.handlers = append(s.handlers, namedHandler{name: name, fn: fn})
}

// Shutdown runs all registered handlers in reverse order. It is safe to call
// more than once; later calls do nothing.
func (s *ShutdownCoordinator) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	handlers := s.handlers
	s.handlers = nil
	s.done = true
	s.mu.Unlock()

	var errs []error
	for i := len(handlers) - 1; i >= 0; i-- {
		h := handlers[i]
		slog.DebugContext(ctx, "shutting down", "component", h.name)
		if err := h.fn(ctx); err != nil {
			slog.ErrorContext(ctx, "shutdown error", "component", h.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	return errors.Join(errs...)
}
