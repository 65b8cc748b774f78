package stanza

import (
	"fmt"
	"strconv"
	"time"
)

// ReceiptKind distinguishes delivery from read receipts.
type ReceiptKind int

const (
	// Delivery is encoded as <received/>.
	Delivery ReceiptKind = iota
	// Read is encoded as <seen/>.
	Read
)

func (k ReceiptKind) String() string {
	switch k {
	case Delivery:
		return "delivery"
	case Read:
		return "read"
	default:
		return "unknown"
	}
}

// ElementName returns the wire element name for the kind.
func (k ReceiptKind) ElementName() string {
	if k == Read {
		return "seen"
	}
	return "received"
}

// ThreadKind identifies the conversation a receipt belongs to.
type ThreadKind int

const (
	ThreadNone ThreadKind = iota
	ThreadFeed
	ThreadGroup
)

// FeedThreadID is the thread_id value reserved for the feed.
const FeedThreadID = "feed"

// Thread is None, Feed, or Group(id).
type Thread struct {
	Kind    ThreadKind
	GroupID string
}

// NoThread is the zero thread.
var NoThread = Thread{}

// FeedThread is the feed thread.
var FeedThread = Thread{Kind: ThreadFeed}

// GroupThread returns the thread for a group.
func GroupThread(id string) Thread {
	return Thread{Kind: ThreadGroup, GroupID: id}
}

// ParseThread maps a thread_id attribute to a Thread. Absent is None, "feed"
// is Feed and anything else names a group.
func ParseThread(threadID string, present bool) Thread {
	switch {
	case !present:
		return NoThread
	case threadID == FeedThreadID:
		return FeedThread
	default:
		return GroupThread(threadID)
	}
}

// ID returns the thread_id attribute value and whether it is set.
func (t Thread) ID() (string, bool) {
	switch t.Kind {
	case ThreadFeed:
		return FeedThreadID, true
	case ThreadGroup:
		return t.GroupID, true
	default:
		return "", false
	}
}

func (t Thread) String() string {
	switch t.Kind {
	case ThreadFeed:
		return "feed"
	case ThreadGroup:
		return "group:" + t.GroupID
	default:
		return "none"
	}
}

// Receipt is a delivery/read confirmation for a content item. UserID is the
// other party: the recipient for outbound receipts, the sender for inbound.
type Receipt struct {
	ItemID    string
	UserID    string
	Kind      ReceiptKind
	Timestamp time.Time
	Thread    Thread
}

// Element encodes the receipt payload, e.g. <seen id="P1" thread_id="feed"/>.
func (r Receipt) Element() *Stanza {
	s := New(r.Kind.ElementName()).SetAttr("id", r.ItemID)
	if id, ok := r.Thread.ID(); ok {
		s.SetAttr("thread_id", id)
	}
	if !r.Timestamp.IsZero() {
		s.SetAttr("timestamp", strconv.FormatInt(r.Timestamp.Unix(), 10))
	}
	return s
}

// Message wraps the receipt in a message stanza carrying the correlation id.
func (r Receipt) Message(correlation, from string) *Stanza {
	return New("message").
		SetAttr("id", correlation).
		SetAttr("from", from).
		SetAttr("to", r.UserID).
		Append(r.Element())
}

// ReceiptElement returns the <received>/<seen> child of a message, if any.
func ReceiptElement(msg *Stanza) *Stanza {
	if msg == nil {
		return nil
	}
	if el := msg.Child(Delivery.ElementName()); el != nil {
		return el
	}
	return msg.Child(Read.ElementName())
}

// ParseReceipt decodes a message stanza carrying a receipt.
func ParseReceipt(msg *Stanza) (Receipt, error) {
	el := ReceiptElement(msg)
	if el == nil {
		return Receipt{}, fmt.Errorf("parse receipt: %w: no receipt element", ErrMalformed)
	}
	r := Receipt{
		ItemID: el.ID(),
		UserID: msg.From(),
		Kind:   Delivery,
	}
	if el.Name() == Read.ElementName() {
		r.Kind = Read
	}
	if r.ItemID == "" {
		return Receipt{}, fmt.Errorf("parse receipt: %w: missing item id", ErrMalformed)
	}
	threadID, present := el.LookupAttr("thread_id")
	r.Thread = ParseThread(threadID, present)
	if raw, ok := el.LookupAttr("timestamp"); ok {
		ts, err := parseTimestamp(raw)
		if err != nil {
			return Receipt{}, fmt.Errorf("parse receipt %s: %w", r.ItemID, err)
		}
		r.Timestamp = ts
	}
	return r, nil
}
