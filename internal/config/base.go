package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gezibash/courier/internal/observability"
)

// Config is the courier client configuration. Commands unmarshal into it
// with LoadInto.
type Config struct {
	ServerAddr     string              `mapstructure:"server_addr"`
	Transport      string              `mapstructure:"transport"`
	UserID         string              `mapstructure:"user_id"`
	Password       string              `mapstructure:"password"`
	ConnectTimeout time.Duration       `mapstructure:"connect_timeout"`
	WatchdogDelay  time.Duration       `mapstructure:"watchdog_delay"`
	TLS            TLSConfig           `mapstructure:"tls"`
	Ack            AckConfig           `mapstructure:"ack"`
	Observability  ObservabilityConfig `mapstructure:"observability"`
}

// TLSConfig controls how the server certificate is judged.
type TLSConfig struct {
	Insecure     bool     `mapstructure:"insecure"`
	PinnedSHA256 []string `mapstructure:"pinned_sha256"`
}

// AckConfig holds the CEL expression that selects ack-worthy stanzas.
type AckConfig struct {
	Expression string `mapstructure:"expression"`
}

// ObservabilityConfig holds logging, metrics and tracing settings.
type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	MetricsAddr    string `mapstructure:"metrics_addr"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPProtocol   string `mapstructure:"otlp_protocol"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
}

// Runtime converts to the observability package's config.
func (o ObservabilityConfig) Runtime() observability.Config {
	return observability.Config{
		LogLevel:       o.LogLevel,
		LogFormat:      o.LogFormat,
		MetricsAddr:    o.MetricsAddr,
		OTLPEndpoint:   o.OTLPEndpoint,
		OTLPProtocol:   o.OTLPProtocol,
		ServiceName:    o.ServiceName,
		ServiceVersion: o.ServiceVersion,
	}
}

// ResolvedServerAddr returns the server address, checking config > COURIER_SERVER env > default.
func (c Config) ResolvedServerAddr() string {
	if c.ServerAddr != "" {
		return c.ServerAddr
	}
	if addr := os.Getenv("COURIER_SERVER"); addr != "" {
		return addr
	}
	return Common.ServerAddr
}

// HasCredentials reports whether a user id is configured. The engine refuses
// to connect without one.
func (c Config) HasCredentials() bool {
	return c.UserID != ""
}

// Validate checks values that viper cannot type-check.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportWebsocket, TransportGRPC:
	default:
		return fmt.Errorf("transport %q: must be %q or %q", c.Transport, TransportWebsocket, TransportGRPC)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive, got %s", c.ConnectTimeout)
	}
	if c.WatchdogDelay <= 0 {
		return fmt.Errorf("watchdog_delay must be positive, got %s", c.WatchdogDelay)
	}
	for _, pin := range c.TLS.PinnedSHA256 {
		if _, err := ParseFingerprint(pin); err != nil {
			return err
		}
	}
	return nil
}

// ParseFingerprint decodes a SHA-256 certificate fingerprint written as hex,
// with or without colon separators.
func ParseFingerprint(s string) ([32]byte, error) {
	var fp [32]byte
	raw, err := hex.DecodeString(strings.ReplaceAll(strings.TrimSpace(s), ":", ""))
	if err != nil {
		return fp, fmt.Errorf("tls.pinned_sha256 %q: %w", s, err)
	}
	if len(raw) != len(fp) {
		return fp, fmt.Errorf("tls.pinned_sha256 %q: want 32 bytes, got %d", s, len(raw))
	}
	copy(fp[:], raw)
	return fp, nil
}
