package config

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. COURIER_USER_ID.
const EnvPrefix = "COURIER"

// SetCommonDefaults configures standard defaults on a Viper instance. Every
// key gets a default so AutomaticEnv can see it during Unmarshal.
func SetCommonDefaults(v *viper.Viper) {
	v.SetDefault("server_addr", Common.ServerAddr)
	v.SetDefault("transport", Common.Transport)
	v.SetDefault("user_id", "")
	v.SetDefault("password", "")
	v.SetDefault("connect_timeout", Common.ConnectTimeout)
	v.SetDefault("watchdog_delay", Common.WatchdogDelay)

	v.SetDefault("tls.insecure", false)
	v.SetDefault("tls.pinned_sha256", []string{})

	v.SetDefault("ack.expression", Common.AckExpression)

	v.SetDefault("observability.log_level", Common.LogLevel)
	v.SetDefault("observability.log_format", Common.LogFormat)
	v.SetDefault("observability.metrics_addr", "")
	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_protocol", Common.OTLPProtocol)
	v.SetDefault("observability.service_name", Common.ServiceName)
	v.SetDefault("observability.service_version", Common.ServiceVersion)
}

// BindCommonFlags binds the connection and logging flags shared by every
// command to Viper.
func BindCommonFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.Flags()

	f.String("config", "", "config file path")
	f.String("server", "", "server address (ws://, wss:// or host:port for grpc)")
	f.String("transport", "", "stream transport (websocket, grpc)")
	f.String("user", "", "user id to authenticate as")
	f.String("password", "", "password for --user")
	f.Duration("connect-timeout", 0, "transport connect timeout")
	f.Bool("insecure", false, "accept any server certificate")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-format", "", "log format (json, text)")

	_ = v.BindPFlag("config", f.Lookup("config"))
	_ = v.BindPFlag("server_addr", f.Lookup("server"))
	_ = v.BindPFlag("transport", f.Lookup("transport"))
	_ = v.BindPFlag("user_id", f.Lookup("user"))
	_ = v.BindPFlag("password", f.Lookup("password"))
	_ = v.BindPFlag("connect_timeout", f.Lookup("connect-timeout"))
	_ = v.BindPFlag("tls.insecure", f.Lookup("insecure"))
	_ = v.BindPFlag("observability.log_level", f.Lookup("log-level"))
	_ = v.BindPFlag("observability.log_format", f.Lookup("log-format"))
}

// BindServeFlags binds flags for long-running commands (metrics, tracing).
func BindServeFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.Flags()

	f.String("metrics-addr", "", "metrics HTTP listen address")
	f.String("otlp-endpoint", "", "OTLP trace collector endpoint")
	f.Duration("watchdog-delay", 0, "delay before re-issuing a stalled connect")

	_ = v.BindPFlag("observability.metrics_addr", f.Lookup("metrics-addr"))
	_ = v.BindPFlag("observability.otlp_endpoint", f.Lookup("otlp-endpoint"))
	_ = v.BindPFlag("watchdog_delay", f.Lookup("watchdog-delay"))
}

// Load reads config from flags, env, and file.
// The envPrefix is used for environment variable lookups (e.g., "COURIER_USER_ID").
// The configPaths are directories to search for config.yaml.
func Load(v *viper.Viper, envPrefix string, configFile string, configPaths ...string) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		for _, p := range configPaths {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) && configFile != "" {
			return err
		}
		// Config file not found is OK if not explicitly specified
	}

	return nil
}

// LoadInto applies common defaults, loads config from flags/env/file, and
// unmarshals into cfg.
func LoadInto(v *viper.Viper, envPrefix, configFile string, cfg any, paths ...string) error {
	SetCommonDefaults(v)
	if err := Load(v, envPrefix, configFile, paths...); err != nil {
		return err
	}
	return v.Unmarshal(cfg)
}

// LoadConfig is LoadInto for the courier Config, searching the standard
// paths and validating the result.
func LoadConfig(v *viper.Viper, configFile string) (Config, error) {
	var cfg Config
	if err := LoadInto(v, EnvPrefix, configFile, &cfg, DefaultConfigDir(), "/etc/courier"); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
