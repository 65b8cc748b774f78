package engine

import (
	"fmt"

	"github.com/gezibash/courier/pkg/runtime"
	"github.com/gezibash/courier/pkg/transport"
)

const componentKey = "engine"

// Capability returns a runtime extension that creates an engine driving t.
// The runtime's logger, metrics and credentials are applied before opts.
// The engine is closed with the runtime.
func Capability(t transport.Transport, opts ...Option) runtime.Extension {
	return func(rt *runtime.Runtime) error {
		base := []Option{WithLogger(rt.Log())}
		if m := rt.Metrics(); m != nil {
			base = append(base, WithMetrics(m))
		}
		if auth, ok := rt.Credentials(); ok {
			base = append(base, WithCredentials(auth))
		}

		e, err := New(t, append(base, opts...)...)
		if err != nil {
			return fmt.Errorf("start engine: %w", err)
		}
		rt.Set(componentKey, e)
		rt.OnClose(e.Close)
		return nil
	}
}

// From retrieves the engine from the runtime.
// Returns nil if the engine capability was not configured.
func From(rt *runtime.Runtime) *Engine {
	e, _ := rt.Get(componentKey).(*Engine)
	return e
}
