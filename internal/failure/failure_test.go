package failure

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOf_UnwrapsChain(t *testing.T) {
	base := New(Decode, "read entry", errors.New("bad byte"))
	wrapped := fmt.Errorf("device sw1: %w", base)

	if got := KindOf(wrapped); got != Decode {
		t.Fatalf("expected decode, got %s", got)
	}
	if !Is(wrapped, Decode) {
		t.Fatalf("expected Is(decode) to be true")
	}
	if Is(nil, Decode) {
		t.Fatalf("expected Is(nil) to be false")
	}
	if got := KindOf(errors.New("plain")); got != Unknown {
		t.Fatalf("expected unknown, got %s", got)
	}
}

func TestTaskFailed_MessageCarriesHostnameAndProgress(t *testing.T) {
	err := TaskFailed("edge-1", "disk full")
	msg := err.Error()
	if !strings.Contains(msg, "edge-1") || !strings.Contains(msg, "disk full") {
		t.Fatalf("expected hostname and progress in %q", msg)
	}
}

func TestWithHostname_DoesNotOverwrite(t *testing.T) {
	err := WithHostname(TaskFailed("a", "x"), "b")
	var fe *Error
	if !errors.As(err, &fe) || fe.Hostname != "a" {
		t.Fatalf("expected hostname a to be kept, got %v", err)
	}

	err = WithHostname(New(Network, "download", errors.New("reset")), "c")
	if !errors.As(err, &fe) || fe.Hostname != "c" || fe.Kind != Network {
		t.Fatalf("expected network error tagged c, got %v", err)
	}

	err = WithHostname(errors.New("boom"), "d")
	if KindOf(err) != Unknown || !strings.Contains(err.Error(), "d") {
		t.Fatalf("expected unknown error tagged d, got %v", err)
	}
}
