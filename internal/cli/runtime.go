package cli

import (
	"fmt"

	"github.com/gezibash/courier/internal/config"
	"github.com/gezibash/courier/internal/observability"
	"github.com/gezibash/courier/pkg/engine"
	"github.com/gezibash/courier/pkg/logging"
	"github.com/gezibash/courier/pkg/runtime"
	"github.com/gezibash/courier/pkg/transport"
)

// NewBuilder creates a runtime builder from a loaded config. The runtime
// shares obs's logger and metrics and closes obs with itself.
func NewBuilder(name string, cfg config.Config, obs *observability.Observability) *runtime.Builder {
	builder := runtime.New(name).
		Logger(logging.New(obs.Logger)).
		Observability(obs)
	if cfg.HasCredentials() {
		builder.Credentials(transport.Auth{UserID: cfg.UserID, Password: cfg.Password})
	}
	return builder
}

// WithEngine builds the configured transport and attaches an engine
// driving it. Ack expression, timeouts and trust come from cfg; opts
// follow them.
func WithEngine(cfg config.Config, opts ...engine.Option) runtime.Extension {
	return func(rt *runtime.Runtime) error {
		t, err := NewTransport(cfg, rt.Log(), rt.Metrics())
		if err != nil {
			return err
		}
		trust, err := TrustPolicy(cfg.TLS)
		if err != nil {
			_ = t.Close()
			return err
		}

		base := []engine.Option{
			engine.WithAckExpression(cfg.Ack.Expression),
			engine.WithConnectTimeout(cfg.ConnectTimeout),
			engine.WithWatchdogDelay(cfg.WatchdogDelay),
			engine.WithTrustPolicy(trust),
		}
		if err := engine.Capability(t, append(base, opts...)...)(rt); err != nil {
			_ = t.Close()
			return err
		}
		return nil
	}
}

// TrustPolicy converts the tls config section.
func TrustPolicy(c config.TLSConfig) (engine.TrustPolicy, error) {
	pins := make([][32]byte, 0, len(c.PinnedSHA256))
	for _, p := range c.PinnedSHA256 {
		fp, err := config.ParseFingerprint(p)
		if err != nil {
			return nil, fmt.Errorf("trust: %w", err)
		}
		pins = append(pins, fp)
	}
	return engine.NewTrustPolicy(c.Insecure, pins), nil
}
