package browser

import (
	"errors"
	"fmt"
	"testing"
)

func TestHostErrorUnwrap(t *testing.T) {
	inner := errors.New("websocket gone")
	err := NewHostError("evaluate", inner)

	if !errors.Is(err, inner) {
		t.Fatal("HostError should unwrap to the inner error")
	}

	var hostErr *HostError
	if !errors.As(err, &hostErr) {
		t.Fatal("errors.As should find the HostError")
	}
	if hostErr.Op != "evaluate" {
		t.Fatalf("op = %q, want evaluate", hostErr.Op)
	}
}

func TestNavigationErrorMessage(t *testing.T) {
	err := NewNavigationError("https://chat.openai.com", ErrNavigation)
	msg := err.Error()
	if msg != "browser navigate https://chat.openai.com: navigation failed" {
		t.Fatalf("unexpected message: %q", msg)
	}
}

func TestIsClosed(t *testing.T) {
	wrapped := fmt.Errorf("shutting down: %w", ErrHostClosed)
	if !IsClosed(wrapped) {
		t.Fatal("IsClosed should see through wrapping")
	}
	if IsClosed(ErrNavigation) {
		t.Fatal("IsClosed should not match navigation errors")
	}
	if IsClosed(nil) {
		t.Fatal("IsClosed(nil) should be false")
	}
}

func TestIsRetryableError(t *testing.T) {
	if !IsRetryableError(NewNavigationError("https://x", errors.New("net down"))) {
		t.Fatal("navigation failures should be retryable")
	}
	if !IsRetryableError(ErrStartTimeout) {
		t.Fatal("start timeouts should be retryable")
	}
	if IsRetryableError(NewHostError("evaluate", fmt.Errorf("eval: %w", ErrHostClosed))) {
		t.Fatal("a closed host is never retryable")
	}
	if IsRetryableError(nil) {
		t.Fatal("nil is not retryable")
	}
}
