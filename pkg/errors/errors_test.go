package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestServerErrorMessage(t *testing.T) {
	tests := []struct {
		err  *ServerError
		want string
	}{
		{&ServerError{}, "server error"},
		{&ServerError{Message: "quota"}, "server error: quota"},
		{&ServerError{Condition: "item-not-found"}, "server error: item-not-found"},
		{&ServerError{Condition: "forbidden", Message: "nope"}, "server error: forbidden: nope"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestWrappedSentinels(t *testing.T) {
	err := fmt.Errorf("%w: %w", ErrCanceled, ErrNotConnected)
	if !stderrors.Is(err, ErrCanceled) || !stderrors.Is(err, ErrNotConnected) {
		t.Fatalf("expected both sentinels in %v", err)
	}
	if IsServerError(err) {
		t.Fatal("not a server error")
	}
	if !IsServerError(fmt.Errorf("iq: %w", &ServerError{Message: "x"})) {
		t.Fatal("wrapped server error not detected")
	}
}
