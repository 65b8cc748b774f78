// Package runtime provides the process foundation for courier commands.
// Use the builder to compose logging, credentials, observability and
// capabilities such as the engine.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gezibash/courier/internal/observability"
	"github.com/gezibash/courier/pkg/logging"
	"github.com/gezibash/courier/pkg/transport"
)

// Extension is a function that extends the runtime with a capability.
// Extensions are called in order during Build().
type Extension func(*Runtime) error

// Option configures a runtime builder.
type Option func(*Builder) error

// Builder constructs a Runtime with composed capabilities.
type Builder struct {
	name      string
	logLevel  string
	logFormat string
	logWriter io.Writer
	signals   bool

	auth   *transport.Auth
	obs    *observability.Observability
	logger *logging.Logger

	extensions []Extension
}

// New starts building a runtime for the named command.
func New(name string) *Builder {
	return &Builder{
		name:      name,
		logLevel:  "info",
		logFormat: "text",
		signals:   true,
	}
}

// Compose builds a runtime using functional options.
func Compose(name string, opts ...Option) (*Runtime, error) {
	b := New(name)
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	return b.Build()
}

// WithLogger sets a preconfigured logger.
func WithLogger(l *logging.Logger) Option {
	return func(b *Builder) error {
		b.logger = l
		return nil
	}
}

// WithLogConfig sets the logger level and format.
func WithLogConfig(level, format string) Option {
	return func(b *Builder) error {
		b.Logging(level, format)
		return nil
	}
}

// WithCredentials sets the account the runtime connects as.
func WithCredentials(a transport.Auth) Option {
	return func(b *Builder) error {
		if a.UserID == "" {
			return errors.New("credentials: user id is required")
		}
		b.auth = &a
		return nil
	}
}

// WithObservability hands the runtime a metrics registry and tracer to
// share with its capabilities. The runtime closes it.
func WithObservability(o *observability.Observability) Option {
	return func(b *Builder) error {
		b.obs = o
		return nil
	}
}

// Use adds a capability extension to the runtime.
// Extensions are applied in order during Build().
func (b *Builder) Use(ext Extension) *Builder {
	b.extensions = append(b.extensions, ext)
	return b
}

// Logging configures log level and format.
// Levels: debug, info, warn, error. Formats: text, json.
func (b *Builder) Logging(level, format string) *Builder {
	if level != "" {
		b.logLevel = level
	}
	if format != "" {
		b.logFormat = format
	}
	return b
}

// LogWriter sets the output destination for logs.
// Defaults to os.Stderr if not set; stdout carries command output.
func (b *Builder) LogWriter(w io.Writer) *Builder {
	b.logWriter = w
	return b
}

// Logger sets a preconfigured logger. Level, format and writer are then
// ignored.
func (b *Builder) Logger(l *logging.Logger) *Builder {
	b.logger = l
	return b
}

// Credentials sets the account the runtime connects as.
func (b *Builder) Credentials(a transport.Auth) *Builder {
	b.auth = &a
	return b
}

// Observability sets the shared observability stack.
func (b *Builder) Observability(o *observability.Observability) *Builder {
	b.obs = o
	return b
}

// Signals controls whether SIGINT and SIGTERM cancel the runtime context.
// On by default.
func (b *Builder) Signals(on bool) *Builder {
	b.signals = on
	return b
}

// Build constructs the runtime with all configured capabilities.
func (b *Builder) Build() (*Runtime, error) {
	if b.name == "" {
		return nil, fmt.Errorf("name is required")
	}

	log := b.logger
	if log == nil {
		w := b.logWriter
		if w == nil {
			w = os.Stderr
		}
		log = logging.SetupWriter(b.logLevel, b.logFormat, w)
	}

	ctx, cancel := context.WithCancel(context.Background())
	rt := &Runtime{
		name:       b.name,
		log:        log,
		obs:        b.obs,
		ctx:        ctx,
		cancel:     cancel,
		components: make(map[string]any),
	}

	if b.signals {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		rt.OnClose(func() error {
			signal.Stop(sigCh)
			return nil
		})
		go func() {
			select {
			case <-sigCh:
			case <-ctx.Done():
				return
			}
			log.Info("shutting down...")
			cancel()
			if _, ok := <-sigCh; ok {
				log.Error("forced shutdown")
				os.Exit(1)
			}
		}()
	}

	if b.obs != nil {
		obs := b.obs
		rt.OnClose(func() error {
			return obs.Close(context.Background())
		})
	}

	if b.auth != nil {
		rt.auth, rt.hasAuth = *b.auth, true
		log.Info("loaded credentials", "user", b.auth.UserID)
	}

	for _, ext := range b.extensions {
		if err := ext(rt); err != nil {
			_ = rt.Close()
			return nil, err
		}
	}

	return rt, nil
}

// Runtime is the foundation for courier commands.
type Runtime struct {
	name       string
	auth       transport.Auth
	hasAuth    bool
	log        *logging.Logger
	obs        *observability.Observability
	ctx        context.Context
	cancel     context.CancelFunc
	components map[string]any
	closers    []func() error
}

// Name returns the command name.
func (r *Runtime) Name() string { return r.name }

// Credentials returns the configured account, if any.
func (r *Runtime) Credentials() (transport.Auth, bool) { return r.auth, r.hasAuth }

// Log returns the logger.
func (r *Runtime) Log() *logging.Logger { return r.log }

// Metrics returns the shared metrics, or nil without observability.
func (r *Runtime) Metrics() *observability.Metrics {
	if r.obs == nil {
		return nil
	}
	return r.obs.Metrics
}

// Observability returns the shared observability stack, or nil.
func (r *Runtime) Observability() *observability.Observability { return r.obs }

// Context returns the lifecycle context (cancelled on shutdown).
func (r *Runtime) Context() context.Context { return r.ctx }

// Shutdown triggers graceful shutdown.
func (r *Runtime) Shutdown() { r.cancel() }

// Wait blocks until shutdown.
func (r *Runtime) Wait() { <-r.ctx.Done() }

// Set stores a component for later retrieval.
// Used by capability extensions to register themselves.
func (r *Runtime) Set(key string, component any) {
	r.components[key] = component
}

// Get retrieves a component by key.
// Used by capability accessors (e.g., engine.From(rt)).
func (r *Runtime) Get(key string) any {
	return r.components[key]
}

// OnClose registers a cleanup function to be called on Close(), in reverse
// registration order.
func (r *Runtime) OnClose(fn func() error) {
	r.closers = append(r.closers, fn)
}

// Close cancels the context and runs the cleanup functions.
func (r *Runtime) Close() error {
	r.cancel()
	closers := r.closers
	r.closers = nil
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}
