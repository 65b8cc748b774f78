package engine

import (
	"crypto/sha256"
	"crypto/x509"

	"github.com/gezibash/courier/pkg/transport"
)

// TrustPolicy decides whether to accept the credential a server presents.
// It is consulted from transport goroutines during the handshake and must be
// safe for concurrent use.
type TrustPolicy interface {
	Trust(c transport.Credential) bool
}

// TrustFunc adapts a function to TrustPolicy.
type TrustFunc func(c transport.Credential) bool

func (f TrustFunc) Trust(c transport.Credential) bool { return f(c) }

// TrustAll accepts any credential. Only for development servers.
var TrustAll TrustPolicy = TrustFunc(func(transport.Credential) bool { return true })

// SystemTrust verifies the chain against Roots for the server name. A nil
// Roots uses the system pool.
type SystemTrust struct {
	Roots *x509.CertPool
}

func (p SystemTrust) Trust(c transport.Credential) bool {
	if len(c.Chain) == 0 {
		return false
	}
	opts := x509.VerifyOptions{
		DNSName:       c.ServerName,
		Roots:         p.Roots,
		Intermediates: x509.NewCertPool(),
	}
	for _, cert := range c.Chain[1:] {
		opts.Intermediates.AddCert(cert)
	}
	_, err := c.Chain[0].Verify(opts)
	return err == nil
}

// PinnedTrust accepts a chain whose leaf certificate has one of the pinned
// SHA-256 fingerprints. Names and expiry are not checked.
type PinnedTrust struct {
	Pins [][32]byte
}

func (p PinnedTrust) Trust(c transport.Credential) bool {
	if len(c.Chain) == 0 {
		return false
	}
	sum := sha256.Sum256(c.Chain[0].Raw)
	for _, pin := range p.Pins {
		if pin == sum {
			return true
		}
	}
	return false
}

// NewTrustPolicy picks the policy for a TLS configuration: everything when
// insecure, the pins when there are any, the system roots otherwise.
func NewTrustPolicy(insecure bool, pins [][32]byte) TrustPolicy {
	switch {
	case insecure:
		return TrustAll
	case len(pins) > 0:
		return PinnedTrust{Pins: pins}
	default:
		return SystemTrust{}
	}
}
