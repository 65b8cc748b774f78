// Package transport defines the stream transport the engine drives and the
// callback surface it consumes.
package transport

import (
	"crypto/x509"
	"errors"
	"time"

	"github.com/gezibash/courier/pkg/stanza"
)

// ErrAuthFailed is reported through OnDisconnected when the server rejects
// the supplied credentials. The engine treats it as a logout.
var ErrAuthFailed = errors.New("authentication failed")

// ErrUntrusted is reported when the handler denies the server credential.
var ErrUntrusted = errors.New("server credential not trusted")

// Auth carries the identity presented when connecting.
type Auth struct {
	UserID   string
	Password string
}

// Credential is what the server presented during the TLS handshake.
type Credential struct {
	ServerName string
	Chain      []*x509.Certificate
}

// Handler receives transport events. Calls may arrive from transport
// goroutines; implementations must not block.
type Handler interface {
	OnWillConnect()
	OnConnected()
	// OnDisconnected is called once per connection attempt. err is nil for
	// a requested or clean disconnect.
	OnDisconnected(err error)
	OnStanza(s *stanza.Stanza)
	// OnSecurityDecision returns true to trust the server credential.
	OnSecurityDecision(c Credential) bool
}

// Transport is a stanza stream to one server.
type Transport interface {
	// SetHandler installs the event handler. Must be called before Connect.
	SetHandler(h Handler)

	// Connect starts a connection attempt and returns immediately. The
	// outcome arrives as OnConnected or OnDisconnected. A call while an
	// attempt or connection is active is ignored.
	Connect(auth Auth, timeout time.Duration)

	// Disconnect tears down the current attempt or connection. Graceful
	// disconnects close the stream politely; immediate ones drop it. If an
	// attempt was active, OnDisconnected is delivered before it returns.
	Disconnect(graceful bool)

	// Send writes one stanza. It fails when not connected.
	Send(s *stanza.Stanza) error

	// Close releases the transport. It implies an immediate disconnect.
	Close() error
}

// NopHandler ignores every event and trusts no credential.
type NopHandler struct{}

func (NopHandler) OnWillConnect() {}

func (NopHandler) OnConnected() {}

func (NopHandler) OnDisconnected(error) {}

func (NopHandler) OnStanza(*stanza.Stanza) {}

func (NopHandler) OnSecurityDecision(Credential) bool { return false }
