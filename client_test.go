package credentiald

import (
	"testing"
	"time"

	"credentiald/internal/peerid"
)

// TestEncode_DialFailureReturnsSnafu covers the client's behavior when
// the daemon socket does not exist at all: Encode must return a typed
// error rather than panicking or hanging past ctx's own timeouts.
func TestEncode_DialFailureReturnsSnafu(t *testing.T) {
	ctx := NewContext().With(WithSocketPath("/nonexistent/credentiald.sock"))
	ctx.RetryAttempts = 2
	ctx.RetryBase = 5 * time.Millisecond
	ctx.IOTimeout = 200 * time.Millisecond

	if _, err := Encode(ctx, nil); err == nil {
		t.Fatal("expected an error dialing a nonexistent socket")
	}
}

// TestDecode_DialFailureReturnsSnafu mirrors the Encode case for Decode.
func TestDecode_DialFailureReturnsSnafu(t *testing.T) {
	ctx := NewContext().With(WithSocketPath("/nonexistent/credentiald.sock"))
	ctx.RetryAttempts = 2
	ctx.RetryBase = 5 * time.Millisecond
	ctx.IOTimeout = 200 * time.Millisecond

	if _, err := Decode(ctx, "CREDENTIALD:garbage"); err == nil {
		t.Fatal("expected an error dialing a nonexistent socket")
	}
}

// TestRoundTrip_SingleAttemptSucceeds drives a real daemon and
// confirms a normal single-attempt exchange succeeds without needing
// any retry, leaving the retry-counter machinery exercised by the
// zero-based default path (spec.md §5 frame retry field).
func TestRoundTrip_SingleAttemptSucceeds(t *testing.T) {
	sockPath := startDaemon(t, kernelStandin{id: peerid.Identity{UID: 1000, GID: 1000}})

	ctx := NewContext().With(WithSocketPath(sockPath))
	ctx.RetryAttempts = 1
	if _, err := Encode(ctx, nil); err != nil {
		t.Fatalf("expected success on first attempt, got %v", err)
	}
}
