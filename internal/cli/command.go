package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/gezibash/courier/internal/config"
	"github.com/gezibash/courier/internal/observability"
	"github.com/gezibash/courier/pkg/engine"
	"github.com/gezibash/courier/pkg/runtime"
)

// CommandConfig configures a CLI command that uses the runtime pattern.
type CommandConfig struct {
	// Name identifies this command (for runtime/logging).
	Name string

	// Viper holds the command's flags, environment and config file.
	Viper *viper.Viper

	// Timeout for the command operation. Zero means no timeout.
	Timeout time.Duration

	// Engine attaches an engine driving the configured transport.
	Engine bool

	// EngineOptions are applied after the ones derived from config.
	EngineOptions []engine.Option

	// Extensions are applied to the runtime after the engine.
	Extensions []runtime.Extension

	// LogWriter receives logs. Defaults to stderr; full-screen commands
	// point it elsewhere.
	LogWriter io.Writer

	// Run is the command's business logic.
	Run func(ctx context.Context, rt *runtime.Runtime, cfg config.Config, out *Output) error
}

// RunCommand executes a CLI command with standard infrastructure setup.
// Handles: LoadConfig -> observability -> NewBuilder -> Use(engine, extensions)
// -> Build -> metrics server -> timeout -> Output -> Run -> Close.
func RunCommand(cc CommandConfig) error {
	if cc.Name == "" {
		return fmt.Errorf("command name required")
	}
	if cc.Viper == nil {
		return fmt.Errorf("viper required")
	}
	if cc.Run == nil {
		return fmt.Errorf("run function required")
	}

	cfg, err := config.LoadConfig(cc.Viper, cc.Viper.GetString("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cc.Engine && !cfg.HasCredentials() {
		return fmt.Errorf("user id required (--user or %s_USER_ID)", config.EnvPrefix)
	}

	logw := cc.LogWriter
	if logw == nil {
		logw = os.Stderr
	}
	obs, err := observability.New(context.Background(), cfg.Observability.Runtime(), logw)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	builder := NewBuilder(cc.Name, cfg, obs)
	if cc.Engine {
		builder.Use(WithEngine(cfg, cc.EngineOptions...))
	}
	for _, ext := range cc.Extensions {
		builder.Use(ext)
	}

	rt, err := builder.Build()
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer func() { _ = rt.Close() }()

	obs.ServeMetrics(cfg.Observability.MetricsAddr)

	ctx := rt.Context()
	if cc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cc.Timeout)
		defer cancel()
	}

	out := NewOutputFromViper(cc.Viper).ForServer(cfg.ResolvedServerAddr())
	return cc.Run(ctx, rt, cfg, out)
}
