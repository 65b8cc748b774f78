// Package config provides configuration loading and defaults for courier.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Transport names accepted by the transport key.
const (
	TransportWebsocket = "websocket"
	TransportGRPC      = "grpc"
)

// Common contains the courier defaults.
var Common = struct {
	ServerAddr     string
	Transport      string
	ConnectTimeout time.Duration
	WatchdogDelay  time.Duration
	AckExpression  string
	LogLevel       string
	LogFormat      string
	OTLPProtocol   string
	ServiceName    string
	ServiceVersion string
}{
	ServerAddr:     "ws://localhost:5280/ws",
	Transport:      TransportWebsocket,
	ConnectTimeout: 10 * time.Second,
	WatchdogDelay:  15 * time.Second, // longer than ConnectTimeout so a healthy attempt finishes first
	AckExpression:  `name == "message" && id != ""`,
	LogLevel:       "info",
	LogFormat:      "text",
	OTLPProtocol:   "http",
	ServiceName:    "courier",
	ServiceVersion: "dev",
}

// DefaultConfigDir returns the per-user config directory (~/.courier).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".courier"
	}
	return filepath.Join(home, ".courier")
}
