package request

import (
	"time"

	"github.com/gezibash/courier/pkg/stanza"
)

// NSPing is the XEP-0199 namespace.
const NSPing = "urn:xmpp:ping"

// Ping is an XEP-0199 ping. Its Result carries the round trip time.
type Ping struct {
	*IQ
}

// NewPing builds a ping to the server, or to another entity with To.
func NewPing(opts ...Option) *Ping {
	return &Ping{IQ: Get(stanza.NewNS(NSPing, "ping"), opts...)}
}

// RTT returns the measured round trip time once the ping has completed
// successfully.
func (p *Ping) RTT() (time.Duration, bool) {
	select {
	case <-p.Done():
	default:
		return 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.result.Err != nil {
		return 0, false
	}
	return p.result.RTT, true
}
