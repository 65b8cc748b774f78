package engine

import (
	"testing"

	"github.com/gezibash/courier/pkg/stanza"
)

func TestClassify(t *testing.T) {
	msg := func(child *stanza.Stanza) *stanza.Stanza {
		return stanza.New("message").SetAttr("id", "m").Append(child)
	}
	tests := []struct {
		name  string
		s     *stanza.Stanza
		route route
		dom   domain
	}{
		{"iq result", stanza.New("iq").SetAttr("type", "result"), routeResponse, domainNone},
		{"iq error", stanza.New("iq").SetAttr("type", "error"), routeResponse, domainNone},
		{"iq get", stanza.New("iq").SetAttr("type", "get"), routeServerIQ, domainNone},
		{"iq without type", stanza.New("iq"), routeUnrouted, domainNone},
		{"ack", stanza.New("ack"), routeAck, domainNone},
		{"feed receipt", msg(stanza.New("seen").SetAttr("thread_id", "feed")), routeReceipt, domainFeed},
		{"group receipt", msg(stanza.New("seen").SetAttr("thread_id", "g")), routeReceipt, domainChat},
		{"direct receipt", msg(stanza.New("received")), routeReceipt, domainChat},
		{"feed item", msg(stanza.New("feed_item")), routeContent, domainFeed},
		{"feed retraction", msg(stanza.New("retract_feed_item")), routeRetraction, domainFeed},
		{"chat", msg(stanza.New("chat")), routeContent, domainChat},
		{"group chat", msg(stanza.New("group_chat")), routeContent, domainChat},
		{"chat retraction", msg(stanza.New("retract_chat")), routeRetraction, domainChat},
		{"plain message", msg(stanza.New("body")), routeUnrouted, domainNone},
		{"presence", stanza.New("presence"), routeUnrouted, domainNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, d := classify(tt.s)
			if r != tt.route || d != tt.dom {
				t.Errorf("classify = %s/%d, want %s/%d", r, d, tt.route, tt.dom)
			}
		})
	}
}

func TestServerIQReply(t *testing.T) {
	ping := stanza.New("iq").SetAttr("id", "p").SetAttr("type", "get").
		SetAttr("from", "example.com").SetAttr("to", "me@example.com").
		Append(stanza.NewNS(nsPing, "ping"))
	reply := serverIQReply(ping)
	if reply.Type() != "result" || reply.ID() != "p" || reply.To() != "example.com" || reply.From() != "me@example.com" {
		t.Errorf("ping reply = %s", reply)
	}
	if reply.FirstChild() != nil {
		t.Errorf("ping reply has a payload: %s", reply)
	}

	query := stanza.New("iq").SetAttr("id", "q").SetAttr("type", "get").
		Append(stanza.NewNS("jabber:iq:version", "query"))
	reply = serverIQReply(query)
	if reply.Type() != "error" || reply.ID() != "q" {
		t.Fatalf("query reply = %s", reply)
	}
	errEl := reply.Child("error")
	if errEl == nil || errEl.Child("service-unavailable") == nil {
		t.Errorf("query reply = %s, want service-unavailable", reply)
	}
	if reply.Child("query") == nil {
		t.Errorf("query reply does not echo the payload")
	}
}
