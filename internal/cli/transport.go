package cli

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gezibash/courier/internal/config"
	"github.com/gezibash/courier/internal/observability"
	"github.com/gezibash/courier/pkg/logging"
	"github.com/gezibash/courier/pkg/transport"
	"github.com/gezibash/courier/pkg/transport/grpcstream"
	"github.com/gezibash/courier/pkg/transport/websocket"
)

// NewTransport builds the transport named by cfg.Transport.
//
// Websocket addresses must be ws:// or wss:// URLs. gRPC addresses are
// host:port, dialed with TLS, or grpc://host:port, dialed in plaintext.
func NewTransport(cfg config.Config, log *logging.Logger, m *observability.Metrics) (transport.Transport, error) {
	addr := cfg.ResolvedServerAddr()
	switch cfg.Transport {
	case config.TransportWebsocket:
		u, err := url.Parse(addr)
		if err != nil {
			return nil, fmt.Errorf("server address %q: %w", addr, err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return nil, fmt.Errorf("server address %q: websocket needs a ws:// or wss:// url", addr)
		}
		return websocket.New(websocket.Config{URL: addr, Logger: log, Metrics: m}), nil

	case config.TransportGRPC:
		target, plaintext := grpcTarget(addr)
		if target == "" {
			return nil, fmt.Errorf("server address %q: grpc needs host:port", addr)
		}
		return grpcstream.New(grpcstream.Config{
			Addr:      target,
			Plaintext: plaintext,
			Logger:    log,
			Metrics:   m,
		}), nil

	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func grpcTarget(addr string) (target string, plaintext bool) {
	switch {
	case strings.HasPrefix(addr, "grpc://"):
		return strings.TrimPrefix(addr, "grpc://"), true
	case strings.HasPrefix(addr, "grpcs://"):
		return strings.TrimPrefix(addr, "grpcs://"), false
	case strings.Contains(addr, "://"):
		return "", false
	default:
		return addr, false
	}
}
