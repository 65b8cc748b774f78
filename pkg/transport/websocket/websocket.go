// Package websocket carries stanzas over a WebSocket, one stanza per text
// frame, using the "xmpp" subprotocol.
package websocket

import (
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gezibash/courier/internal/observability"
	cerrors "github.com/gezibash/courier/pkg/errors"
	"github.com/gezibash/courier/pkg/logging"
	"github.com/gezibash/courier/pkg/stanza"
	"github.com/gezibash/courier/pkg/transport"
)

// Subprotocol is negotiated on every connection.
const Subprotocol = "xmpp"

// FramingNS is the namespace of the stream open/close framing elements.
const FramingNS = "urn:ietf:params:xml:ns:xmpp-framing"

const writeWait = 5 * time.Second

// Config configures a websocket transport.
type Config struct {
	URL     string
	TLS     *tls.Config // base config; verification is delegated to the handler
	Logger  *logging.Logger
	Metrics *observability.Metrics
}

// Transport implements transport.Transport over gorilla/websocket.
type Transport struct {
	url     string
	tls     *tls.Config
	log     *logging.Logger
	metrics *observability.Metrics

	link    transport.Link[*websocket.Conn]
	writeMu sync.Mutex
}

var _ transport.Transport = (*Transport)(nil)

// New creates a websocket transport for cfg.URL (ws:// or wss://).
func New(cfg Config) *Transport {
	log := cfg.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Transport{
		url:     cfg.URL,
		tls:     cfg.TLS,
		log:     log.WithComponent("websocket"),
		metrics: cfg.Metrics,
	}
}

func (t *Transport) SetHandler(h transport.Handler) { t.link.SetHandler(h) }

// Connect dials in the background.
func (t *Transport) Connect(auth transport.Auth, timeout time.Duration) {
	ctx, gen, ok := t.link.Begin(timeout)
	if !ok {
		t.log.Debug("connect ignored, attempt already active")
		return
	}

	go func() {
		dialer := websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
			Subprotocols:     []string{Subprotocol},
			TLSClientConfig:  t.tlsConfig(),
		}

		header := http.Header{}
		if auth.UserID != "" {
			token := base64.StdEncoding.EncodeToString([]byte(auth.UserID + ":" + auth.Password))
			header.Set("Authorization", "Basic "+token)
		}

		t.log.Debug("dialing", "url", t.url)
		conn, resp, err := dialer.DialContext(ctx, t.url, header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				err = fmt.Errorf("%w: %s", transport.ErrAuthFailed, resp.Status)
			}
			t.link.Fail(gen, err)
			return
		}
		if conn.Subprotocol() != Subprotocol {
			_ = conn.Close()
			t.link.Fail(gen, fmt.Errorf("server did not accept subprotocol %q", Subprotocol))
			return
		}
		if !t.link.Up(gen, conn) {
			_ = conn.Close()
			return
		}
		t.readLoop(gen, conn)
	}()
}

// tlsConfig hands certificate judgment to the handler. Go's own chain
// verification is skipped; the handler's trust policy decides.
func (t *Transport) tlsConfig() *tls.Config {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if t.tls != nil {
		cfg = t.tls.Clone()
	}
	cfg.InsecureSkipVerify = true
	cfg.VerifyConnection = func(cs tls.ConnectionState) error {
		cred := transport.Credential{ServerName: cs.ServerName, Chain: cs.PeerCertificates}
		if !t.link.Handler().OnSecurityDecision(cred) {
			return transport.ErrUntrusted
		}
		return nil
	}
	return cfg
}

func (t *Transport) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			t.link.Fail(gen, err)
			return
		}
		if t.metrics != nil {
			t.metrics.BytesProcessed.WithLabelValues("in").Add(float64(len(data)))
		}

		s, err := stanza.Decode(data)
		if err != nil {
			t.log.Warn("dropping undecodable frame", "error", err, "bytes", len(data))
			if t.metrics != nil {
				t.metrics.Malformed.WithLabelValues("frame").Inc()
			}
			continue
		}
		if s.Namespace() == FramingNS {
			if s.Name() == "close" {
				t.log.Debug("server closed stream")
				t.closeConn(conn, false)
				t.link.Fail(gen, nil)
				return
			}
			continue
		}
		if !t.link.Deliver(gen, s) {
			return
		}
	}
}

// Disconnect closes the stream. A graceful disconnect sends the framing
// close element and a close frame first.
func (t *Transport) Disconnect(graceful bool) {
	t.link.Stop(func(conn *websocket.Conn, up bool) {
		if up {
			t.closeConn(conn, graceful)
		}
	})
}

func (t *Transport) closeConn(conn *websocket.Conn, graceful bool) {
	if graceful {
		if data, err := stanza.NewNS(FramingNS, "close").Encode(); err == nil {
			t.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.TextMessage, data)
			t.writeMu.Unlock()
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	}
	_ = conn.Close()
}

// Send writes s as one text frame.
func (t *Transport) Send(s *stanza.Stanza) error {
	conn, ok := t.link.Current()
	if !ok {
		return cerrors.ErrNotConnected
	}
	data, err := s.Encode()
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if t.metrics != nil {
		t.metrics.BytesProcessed.WithLabelValues("out").Add(float64(len(data)))
	}
	return nil
}

// Close drops any connection immediately.
func (t *Transport) Close() error {
	t.Disconnect(false)
	return nil
}
