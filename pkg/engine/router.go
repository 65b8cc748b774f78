package engine

import "github.com/gezibash/courier/pkg/stanza"

// route is what the engine does with an inbound stanza.
type route int

const (
	routeUnrouted route = iota
	routeResponse
	routeServerIQ
	routeAck
	routeReceipt
	routeContent
	routeRetraction
)

func (r route) String() string {
	switch r {
	case routeResponse:
		return "response"
	case routeServerIQ:
		return "server_iq"
	case routeAck:
		return "ack"
	case routeReceipt:
		return "receipt"
	case routeContent:
		return "content"
	case routeRetraction:
		return "retraction"
	default:
		return "unrouted"
	}
}

// domain picks the delegate.
type domain int

const (
	domainNone domain = iota
	domainFeed
	domainChat
)

// Payload element names.
const (
	elemFeedItem        = "feed_item"
	elemRetractFeedItem = "retract_feed_item"
	elemChat            = "chat"
	elemGroupChat       = "group_chat"
	elemRetractChat     = "retract_chat"
)

// classify routes an inbound stanza.
func classify(s *stanza.Stanza) (route, domain) {
	switch s.Name() {
	case "iq":
		switch s.Type() {
		case "result", "error":
			return routeResponse, domainNone
		case "get", "set":
			return routeServerIQ, domainNone
		}
	case stanza.AckName:
		return routeAck, domainNone
	case "message":
		if el := stanza.ReceiptElement(s); el != nil {
			if id, ok := el.LookupAttr("thread_id"); ok && id == stanza.FeedThreadID {
				return routeReceipt, domainFeed
			}
			return routeReceipt, domainChat
		}
		switch {
		case s.Child(elemFeedItem) != nil:
			return routeContent, domainFeed
		case s.Child(elemRetractFeedItem) != nil:
			return routeRetraction, domainFeed
		case s.Child(elemChat) != nil, s.Child(elemGroupChat) != nil:
			return routeContent, domainChat
		case s.Child(elemRetractChat) != nil:
			return routeRetraction, domainChat
		}
	}
	return routeUnrouted, domainNone
}

// receiptDomain picks the delegate told about a confirmed receipt.
func receiptDomain(r stanza.Receipt) domain {
	if r.Thread.Kind == stanza.ThreadFeed {
		return domainFeed
	}
	return domainChat
}

// Server-initiated iq handling.
const (
	nsPing    = "urn:xmpp:ping"
	nsStanzas = "urn:ietf:params:xml:ns:xmpp-stanzas"
	iqResult  = "result"
	iqError   = "error"
)

// serverIQReply answers a get/set from the server: pings get a result,
// anything else service-unavailable.
func serverIQReply(iq *stanza.Stanza) *stanza.Stanza {
	reply := stanza.New("iq").
		SetAttr("id", iq.ID()).
		SetAttr("from", iq.To()).
		SetAttr("to", iq.From())
	if p := iq.FirstChild(); p != nil && p.Name() == "ping" && p.Namespace() == nsPing {
		return reply.SetAttr("type", iqResult)
	}
	reply.SetAttr("type", iqError)
	if p := iq.FirstChild(); p != nil {
		reply.Append(p.Clone())
	}
	return reply.Append(
		stanza.New("error").SetAttr("type", "cancel").Append(stanza.NewNS(nsStanzas, "service-unavailable")),
	)
}
