package receipt

import (
	"testing"

	"github.com/gezibash/courier/pkg/stanza"
)

func TestBuild(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		thread  string
		want    stanza.ReceiptKind
		wantThr stanza.Thread
		wantErr bool
	}{
		{"delivery direct", "delivery", "", stanza.Delivery, stanza.NoThread, false},
		{"read feed", "read", "feed", stanza.Read, stanza.FeedThread, false},
		{"seen alias group", "seen", "team-42", stanza.Read, stanza.GroupThread("team-42"), false},
		{"bad kind", "opened", "", 0, stanza.NoThread, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := build("bob@example.com", "m1", tt.kind, tt.thread)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if r.Kind != tt.want || r.Thread != tt.wantThr {
				t.Errorf("receipt = %+v", r)
			}
			if r.ItemID != "m1" || r.UserID != "bob@example.com" || r.Timestamp.IsZero() {
				t.Errorf("receipt = %+v", r)
			}
		})
	}

	if _, err := build("", "m1", "delivery", ""); err == nil {
		t.Error("empty user accepted")
	}
}
