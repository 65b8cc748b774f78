// Package grpcstream carries stanzas over a bidirectional gRPC stream. Each
// frame is a google.protobuf.BytesValue holding one encoded stanza, so no
// generated service code is needed on either side.
package grpcstream

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/gezibash/courier/internal/observability"
	cerrors "github.com/gezibash/courier/pkg/errors"
	"github.com/gezibash/courier/pkg/logging"
	"github.com/gezibash/courier/pkg/stanza"
	"github.com/gezibash/courier/pkg/transport"
)

// Method is the full gRPC method name of the stanza stream.
const Method = "/courier.stream.v1.Stream/Connect"

// MetaAuthorization carries Basic credentials, as the websocket transport does.
const MetaAuthorization = "authorization"

var streamDesc = &grpc.StreamDesc{
	StreamName:    "Connect",
	ServerStreams: true,
	ClientStreams: true,
}

// Config configures a gRPC stream transport.
type Config struct {
	Addr        string
	TLS         *tls.Config // base config; verification is delegated to the handler
	Plaintext   bool
	DialOptions []grpc.DialOption
	Logger      *logging.Logger
	Metrics     *observability.Metrics
}

type session struct {
	conn   *grpc.ClientConn
	stream grpc.ClientStream
}

// Transport implements transport.Transport over a gRPC bidi stream.
type Transport struct {
	cfg     Config
	log     *logging.Logger
	metrics *observability.Metrics

	link    transport.Link[session]
	writeMu sync.Mutex
}

var _ transport.Transport = (*Transport)(nil)

// New creates a gRPC stream transport.
func New(cfg Config) *Transport {
	log := cfg.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Transport{cfg: cfg, log: log.WithComponent("grpcstream"), metrics: cfg.Metrics}
}

func (t *Transport) SetHandler(h transport.Handler) { t.link.SetHandler(h) }

// Connect opens the stream in the background. The attempt counts as
// connected once the server has sent its response headers. A stream the
// server rejects outright never connects.
func (t *Transport) Connect(auth transport.Auth, timeout time.Duration) {
	ctx, gen, ok := t.link.Begin(timeout)
	if !ok {
		t.log.Debug("connect ignored, attempt already active")
		return
	}
	go t.run(ctx, gen, auth)
}

func (t *Transport) run(ctx context.Context, gen uint64, auth transport.Auth) {
	conn, err := grpc.NewClient(t.cfg.Addr, t.dialOptions()...)
	if err != nil {
		t.link.Fail(gen, fmt.Errorf("dial: %w", err))
		return
	}
	defer func() { _ = conn.Close() }()

	if auth.UserID != "" {
		token := base64.StdEncoding.EncodeToString([]byte(auth.UserID + ":" + auth.Password))
		ctx = metadata.AppendToOutgoingContext(ctx, MetaAuthorization, "Basic "+token)
	}

	t.log.Debug("opening stream", "addr", t.cfg.Addr)
	stream, err := conn.NewStream(ctx, streamDesc, Method)
	if err != nil {
		t.link.Fail(gen, mapError(err))
		return
	}
	if err := awaitHeader(stream); err != nil {
		t.link.Fail(gen, mapError(err))
		return
	}
	if !t.link.Up(gen, session{conn: conn, stream: stream}) {
		return
	}

	for {
		frame := &wrapperspb.BytesValue{}
		if err := stream.RecvMsg(frame); err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			t.link.Fail(gen, mapError(err))
			return
		}
		if t.metrics != nil {
			t.metrics.BytesProcessed.WithLabelValues("in").Add(float64(len(frame.GetValue())))
		}

		s, err := stanza.Decode(frame.GetValue())
		if err != nil {
			t.log.Warn("dropping undecodable frame", "error", err, "bytes", len(frame.GetValue()))
			if t.metrics != nil {
				t.metrics.Malformed.WithLabelValues("frame").Inc()
			}
			continue
		}
		if !t.link.Deliver(gen, s) {
			return
		}
	}
}

// awaitHeader waits for the server's response headers. A server that
// rejects the stream answers with trailers only: Header then returns no
// metadata and no error, and the status is read from the stream.
func awaitHeader(stream grpc.ClientStream) error {
	md, err := stream.Header()
	if err != nil {
		return err
	}
	if md != nil {
		return nil
	}
	err = stream.RecvMsg(&wrapperspb.BytesValue{})
	if err == nil || errors.Is(err, io.EOF) {
		return errStreamEnded
	}
	return err
}

// errStreamEnded reports a stream the server closed before accepting it.
var errStreamEnded = errors.New("stream ended before the server accepted it")

func (t *Transport) dialOptions() []grpc.DialOption {
	opts := []grpc.DialOption{
		grpc.WithStreamInterceptor(observability.StreamClientInterceptor(t.metrics)),
	}
	if t.cfg.Plaintext {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(t.tlsConfig())))
	}
	return append(opts, t.cfg.DialOptions...)
}

// tlsConfig hands certificate judgment to the handler.
func (t *Transport) tlsConfig() *tls.Config {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if t.cfg.TLS != nil {
		cfg = t.cfg.TLS.Clone()
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

// mapError turns rejected credentials into transport.ErrAuthFailed.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %s", transport.ErrAuthFailed, status.Convert(err).Message())
	}
	return err
}

// Disconnect ends the stream. A graceful disconnect half-closes first so the
// server sees a clean end of stream.
func (t *Transport) Disconnect(graceful bool) {
	t.link.Stop(func(s session, up bool) {
		if !up {
			return
		}
		if graceful {
			t.writeMu.Lock()
			_ = s.stream.CloseSend()
			t.writeMu.Unlock()
		}
	})
}

// Send writes s as one frame.
func (t *Transport) Send(s *stanza.Stanza) error {
	sess, ok := t.link.Current()
	if !ok {
		return cerrors.ErrNotConnected
	}
	data, err := s.Encode()
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := sess.stream.SendMsg(wrapperspb.Bytes(data)); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if t.metrics != nil {
		t.metrics.BytesProcessed.WithLabelValues("out").Add(float64(len(data)))
	}
	return nil
}

// Close drops any stream immediately.
func (t *Transport) Close() error {
	t.Disconnect(false)
	return nil
}
