package stanza

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDecodeEncode(t *testing.T) {
	raw := `<message id="m1" from="alice@s" to="bob@s" type="chat">
  <chat xmlns="urn:test:chat"><body>hi</body></chat>
</message>`

	s, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if s.Name() != "message" || s.ID() != "m1" || s.From() != "alice@s" || s.To() != "bob@s" {
		t.Fatalf("unexpected stanza header: %+v", s)
	}
	chat := s.Child("chat")
	if chat == nil {
		t.Fatal("missing chat child")
	}
	if chat.Namespace() != "urn:test:chat" {
		t.Errorf("Namespace = %q, want urn:test:chat", chat.Namespace())
	}
	if _, ok := chat.LookupAttr("xmlns"); ok {
		t.Error("xmlns declaration should not be kept as an attribute")
	}
	if body := chat.Child("body"); body == nil || body.Text != "hi" {
		t.Errorf("body = %+v", body)
	}
	if s.Text != "" {
		t.Errorf("whitespace between children should be dropped, got %q", s.Text)
	}

	out, err := s.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	again, err := Decode(out)
	if err != nil {
		t.Fatalf("Decode(encoded): %v", err)
	}
	if again.ID() != "m1" || again.Child("chat").Child("body").Text != "hi" {
		t.Errorf("re-decoded stanza lost content: %s", out)
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, raw := range []string{"", "   ", "<message", "not xml"} {
		if _, err := Decode([]byte(raw)); !errors.Is(err, ErrMalformed) {
			t.Errorf("Decode(%q) error = %v, want ErrMalformed", raw, err)
		}
	}
}

func TestSetAttr(t *testing.T) {
	s := New("iq").SetAttr("id", "1").SetAttr("type", "get")
	s.SetAttr("id", "2")
	if s.ID() != "2" {
		t.Errorf("ID = %q, want 2", s.ID())
	}
	s.SetAttr("type", "")
	if _, ok := s.LookupAttr("type"); ok {
		t.Error("empty value should remove the attribute")
	}
	if len(s.Attrs) != 1 {
		t.Errorf("Attrs = %v", s.Attrs)
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := New("message").SetAttr("id", "a").Append(New("body"))
	c := s.Clone()
	c.SetAttr("id", "b")
	c.Children[0].Text = "changed"
	if s.ID() != "a" || s.Children[0].Text != "" {
		t.Error("Clone shares state with the original")
	}
}

func TestDeriveAck(t *testing.T) {
	in := New("message").SetAttr("id", "m7").SetAttr("from", "alice@s").SetAttr("to", "bob@s")

	a1, err := DeriveAck(in)
	if err != nil {
		t.Fatalf("DeriveAck: %v", err)
	}
	if a1.From != "bob@s" || a1.To != "alice@s" || a1.ID != "m7" {
		t.Errorf("ack = %+v, want reversed direction with same id", a1)
	}

	a2, err := DeriveAck(in)
	if err != nil {
		t.Fatalf("DeriveAck: %v", err)
	}
	if a1 != a2 {
		t.Errorf("deriving twice gave %+v and %+v", a1, a2)
	}
}

func TestDeriveAckMissingID(t *testing.T) {
	in := New("message").SetAttr("from", "alice@s")
	if _, err := DeriveAck(in); !errors.Is(err, ErrMalformed) {
		t.Fatalf("error = %v, want ErrMalformed", err)
	}
	if _, err := DeriveAck(nil); !errors.Is(err, ErrMalformed) {
		t.Fatalf("nil stanza error = %v, want ErrMalformed", err)
	}
}

func TestAckWireShape(t *testing.T) {
	ts := time.Unix(1700000000, 0).UTC()
	a := Ack{From: "bob@s", To: "alice@s", ID: "m7", Timestamp: ts}

	raw, err := a.Stanza().Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for _, want := range []string{`<ack`, `from="bob@s"`, `to="alice@s"`, `id="m7"`, `timestamp="1700000000"`} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("encoded ack %s missing %s", raw, want)
		}
	}

	s, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, err := ParseAck(s)
	if err != nil {
		t.Fatalf("ParseAck: %v", err)
	}
	if got != a {
		t.Errorf("ParseAck = %+v, want %+v", got, a)
	}
}

func TestParseAckRejects(t *testing.T) {
	tests := []struct {
		name string
		s    *Stanza
	}{
		{"wrong element", New("message").SetAttr("id", "1")},
		{"missing id", New("ack").SetAttr("from", "s")},
		{"bad timestamp", New("ack").SetAttr("id", "1").SetAttr("timestamp", "yesterday")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseAck(tt.s); !errors.Is(err, ErrMalformed) {
				t.Errorf("error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestParseThread(t *testing.T) {
	tests := []struct {
		id      string
		present bool
		want    Thread
	}{
		{"", false, NoThread},
		{"feed", true, FeedThread},
		{"g42", true, GroupThread("g42")},
	}
	for _, tt := range tests {
		if got := ParseThread(tt.id, tt.present); got != tt.want {
			t.Errorf("ParseThread(%q, %v) = %v, want %v", tt.id, tt.present, got, tt.want)
		}
	}
}

func TestReceiptWireShape(t *testing.T) {
	tests := []struct {
		name     string
		receipt  Receipt
		element  string
		threadID string
	}{
		{"delivery no thread", Receipt{ItemID: "P1", UserID: "alice@s", Kind: Delivery}, "received", ""},
		{"read feed", Receipt{ItemID: "P1", UserID: "alice@s", Kind: Read, Thread: FeedThread}, "seen", "feed"},
		{"read group", Receipt{ItemID: "C9", UserID: "alice@s", Kind: Read, Thread: GroupThread("g1")}, "seen", "g1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.receipt.Message("M1", "bob@s")
			if msg.ID() != "M1" || msg.To() != "alice@s" {
				t.Fatalf("message header = %s", msg)
			}
			el := ReceiptElement(msg)
			if el == nil || el.Name() != tt.element {
				t.Fatalf("receipt element = %v, want <%s>", el, tt.element)
			}
			if got := el.Attr("thread_id"); got != tt.threadID {
				t.Errorf("thread_id = %q, want %q", got, tt.threadID)
			}

			// Inbound parsing attributes the receipt to the sender.
			inbound := msg.Clone().SetAttr("from", "alice@s")
			got, err := ParseReceipt(inbound)
			if err != nil {
				t.Fatalf("ParseReceipt: %v", err)
			}
			if got.ItemID != tt.receipt.ItemID || got.Kind != tt.receipt.Kind || got.Thread != tt.receipt.Thread {
				t.Errorf("ParseReceipt = %+v, want %+v", got, tt.receipt)
			}
		})
	}
}

func TestParseReceiptRejects(t *testing.T) {
	if _, err := ParseReceipt(New("message")); !errors.Is(err, ErrMalformed) {
		t.Errorf("no element: error = %v", err)
	}
	msg := New("message").Append(New("seen"))
	if _, err := ParseReceipt(msg); !errors.Is(err, ErrMalformed) {
		t.Errorf("missing item id: error = %v", err)
	}
}
