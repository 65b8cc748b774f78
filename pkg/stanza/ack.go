package stanza

import (
	"fmt"
	"strconv"
	"time"
)

// AckName is the element name of acknowledgment stanzas.
const AckName = "ack"

// Ack confirms receipt of another stanza. It is correlated by the id of the
// stanza being acknowledged.
type Ack struct {
	From      string
	To        string
	ID        string
	Timestamp time.Time
}

// DeriveAck builds the acknowledgment for an inbound stanza: the direction is
// reversed and the id reused. Stanzas without an id cannot be acknowledged.
func DeriveAck(s *Stanza) (Ack, error) {
	if s == nil {
		return Ack{}, fmt.Errorf("derive ack: %w: nil stanza", ErrMalformed)
	}
	id := s.ID()
	if id == "" {
		return Ack{}, fmt.Errorf("derive ack for <%s>: %w: missing id", s.Name(), ErrMalformed)
	}
	return Ack{From: s.To(), To: s.From(), ID: id}, nil
}

// Stanza encodes the ack as <ack from to id [timestamp]/>.
func (a Ack) Stanza() *Stanza {
	s := New(AckName).
		SetAttr("from", a.From).
		SetAttr("to", a.To).
		SetAttr("id", a.ID)
	if !a.Timestamp.IsZero() {
		s.SetAttr("timestamp", strconv.FormatInt(a.Timestamp.Unix(), 10))
	}
	return s
}

// ParseAck decodes an inbound <ack/> stanza.
func ParseAck(s *Stanza) (Ack, error) {
	if s == nil || s.Name() != AckName {
		return Ack{}, fmt.Errorf("parse ack: %w: not an ack", ErrMalformed)
	}
	a := Ack{From: s.From(), To: s.To(), ID: s.ID()}
	if a.ID == "" {
		return Ack{}, fmt.Errorf("parse ack: %w: missing id", ErrMalformed)
	}
	if raw, ok := s.LookupAttr("timestamp"); ok {
		ts, err := parseTimestamp(raw)
		if err != nil {
			return Ack{}, fmt.Errorf("parse ack %s: %w", a.ID, err)
		}
		a.Timestamp = ts
	}
	return a, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformed, raw)
	}
	return time.Unix(secs, 0).UTC(), nil
}
