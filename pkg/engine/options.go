package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/gezibash/courier/internal/cel"
	"github.com/gezibash/courier/internal/observability"
	"github.com/gezibash/courier/pkg/logging"
	"github.com/gezibash/courier/pkg/stanza"
	"github.com/gezibash/courier/pkg/transport"
)

// Defaults used when the corresponding option is not given.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultWatchdogDelay  = 15 * time.Second
)

type options struct {
	log            *logging.Logger
	metrics        *observability.Metrics
	auth           *transport.Auth
	feed           Delegate
	chat           Delegate
	delegates      Executor
	ackExpr        string
	connectTimeout time.Duration
	watchdogDelay  time.Duration
	trust          TrustPolicy
	newID          func() string

	onLogout     func()
	onAck        func(stanza.Ack)
	onUnrouted   func(*stanza.Stanza)
	onTransition func(from, to State)
}

func defaultOptions() options {
	return options{
		log:            logging.New(nil),
		ackExpr:        cel.DefaultAckExpression,
		connectTimeout: DefaultConnectTimeout,
		watchdogDelay:  DefaultWatchdogDelay,
		trust:          SystemTrust{},
		newID:          uuid.NewString,
	}
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the logger. Components add their own component attribute.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMetrics records engine metrics in m.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithCredentials sets the initial credentials. Without them Connect does
// nothing until SetCredentials is called.
func WithCredentials(a transport.Auth) Option {
	return func(o *options) { o.auth = &a }
}

// WithFeedDelegate registers the delegate for feed traffic.
func WithFeedDelegate(d Delegate) Option {
	return func(o *options) { o.feed = d }
}

// WithChatDelegate registers the delegate for chat traffic.
func WithChatDelegate(d Delegate) Option {
	return func(o *options) { o.chat = d }
}

// WithDelegateExecutor sets where delegate methods and hooks run. The
// default is a serial executor owned by the engine.
func WithDelegateExecutor(ex Executor) Option {
	return func(o *options) { o.delegates = ex }
}

// WithAckExpression replaces the CEL expression deciding which inbound
// stanzas need an ack.
func WithAckExpression(expr string) Option {
	return func(o *options) { o.ackExpr = expr }
}

// WithConnectTimeout bounds each transport connect attempt.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) { o.connectTimeout = d }
}

// WithWatchdogDelay sets how long a connect may take before the engine
// tries again.
func WithWatchdogDelay(d time.Duration) Option {
	return func(o *options) { o.watchdogDelay = d }
}

// WithTrustPolicy sets how server credentials are judged.
func WithTrustPolicy(p TrustPolicy) Option {
	return func(o *options) {
		if p != nil {
			o.trust = p
		}
	}
}

// WithIDGenerator replaces the receipt correlation id source.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// OnLogout is called when the engine forgets its credentials, either on
// request or because the server rejected them.
func OnLogout(fn func()) Option {
	return func(o *options) { o.onLogout = fn }
}

// OnAck is called for inbound acks that confirm something other than a
// pending receipt, such as a message sent by the application.
func OnAck(fn func(stanza.Ack)) Option {
	return func(o *options) { o.onAck = fn }
}

// OnUnrouted is called for inbound stanzas no delegate handles.
func OnUnrouted(fn func(*stanza.Stanza)) Option {
	return func(o *options) { o.onUnrouted = fn }
}

// OnTransition is called after every accepted state transition.
func OnTransition(fn func(from, to State)) Option {
	return func(o *options) { o.onTransition = fn }
}
