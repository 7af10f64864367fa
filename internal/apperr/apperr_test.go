package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestExternalWrapsCause(t *testing.T) {
	cause := errors.New("HTTP 403 Forbidden")
	err := External("ban member", cause)
	if !errors.Is(err, ErrExternalCallFailed) {
		t.Fatalf("expected ErrExternalCallFailed, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be preserved")
	}
	if External("noop", nil) != nil {
		t.Fatalf("expected nil for nil cause")
	}
}

func TestUserMessageCoversTaxonomy(t *testing.T) {
	wrapped := fmt.Errorf("claim ticket t1: %w", ErrAlreadyClaimed)
	if got := UserMessage(wrapped); got != "This ticket has already been claimed." {
		t.Fatalf("unexpected message %q", got)
	}
	if got := UserMessage(errors.New("boom")); got == "" {
		t.Fatalf("expected generic message for unknown error")
	}
	if UserMessage(nil) != "" {
		t.Fatalf("expected empty message for nil")
	}
}

func TestExpected(t *testing.T) {
	if !Expected(fmt.Errorf("x: %w", ErrNotStaff)) {
		t.Fatalf("not staff should be expected")
	}
	if Expected(External("send", errors.New("timeout"))) {
		t.Fatalf("external failures are not expected outcomes")
	}
}
