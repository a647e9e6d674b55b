package credentiald

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"credentiald/internal/daemon"
	"credentiald/internal/peerid"
	"credentiald/internal/transport"
)

// kernelStandin reports a single, constant peer identity regardless of
// which connection asks, standing in for peerid.KernelVerifier in
// these tests where every dial from this same test process would
// otherwise report this process's own real uid/gid.
type kernelStandin struct{ id peerid.Identity }

func (k kernelStandin) Verify(*transport.Conn) (peerid.Identity, error) { return k.id, nil }

// swappableVerifier is a kernelStandin whose identity can be changed
// mid-test without a data race against the daemon's worker goroutines.
type swappableVerifier struct {
	id atomic.Pointer[peerid.Identity]
}

func (s *swappableVerifier) set(id peerid.Identity) { s.id.Store(&id) }

func (s *swappableVerifier) Verify(*transport.Conn) (peerid.Identity, error) {
	return *s.id.Load(), nil
}

func startDaemon(t *testing.T, verifier peerid.Verifier) string {
	t.Helper()
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "key")
	if err := os.WriteFile(keyPath, []byte("0123456789abcdef0123456789abcdef"), 0o600); err != nil {
		t.Fatal(err)
	}
	sockPath := filepath.Join(dir, "credentiald.sock")

	d, err := daemon.New(daemon.Options{
		SocketPath:   sockPath,
		LockfilePath: filepath.Join(dir, "credentiald.lock"),
		KeyfilePath:  keyPath,
		Workers:      2,
		IOTimeout:    2 * time.Second,
		Verifier:     verifier,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})
	return sockPath
}

// TestE2E_E1Scenario exercises the happy path (E1) through the public
// client API: mint with no restrictions, decode it straight back.
func TestE2E_E1Scenario(t *testing.T) {
	sockPath := startDaemon(t, kernelStandin{id: peerid.Identity{UID: 1000, GID: 1000}})

	encCtx := NewContext().With(WithSocketPath(sockPath))
	cred, encErr := Encode(encCtx, []byte("hello"))
	if encErr != nil {
		t.Fatalf("Encode failed: %v", encErr)
	}

	decCtx := NewContext().With(WithSocketPath(sockPath))
	payload, decErr := Decode(decCtx, cred)
	if decErr != nil {
		t.Fatalf("Decode failed: %v", decErr)
	}
	if string(payload) != "hello" {
		t.Fatalf("unexpected payload %q", payload)
	}
	if decCtx.AuthUID != AnyID || decCtx.AuthGID != AnyID {
		t.Fatalf("unexpected auth restriction: %+v", decCtx)
	}
}

// TestE2E_E4Scenario exercises tamper detection (E4) through the
// public client API.
func TestE2E_E4Scenario(t *testing.T) {
	sockPath := startDaemon(t, kernelStandin{id: peerid.Identity{UID: 1000, GID: 1000}})

	encCtx := NewContext().With(WithSocketPath(sockPath))
	cred, encErr := Encode(encCtx, []byte("secret"))
	if encErr != nil {
		t.Fatalf("Encode failed: %v", encErr)
	}

	tampered := cred[:len(cred)-2] + "AA"
	decCtx := NewContext().With(WithSocketPath(sockPath))
	if _, decErr := Decode(decCtx, tampered); decErr == nil || decErr.Code != BadCred {
		t.Fatalf("expected BAD_CRED, got %v", decErr)
	}
}

// TestE2E_E6Scenario exercises the auth_uid restriction (E6): a
// credential minted for auth_uid=0 rejects a non-root decoder and
// accepts a root one.
func TestE2E_E6Scenario(t *testing.T) {
	standin := &swappableVerifier{}
	standin.set(peerid.Identity{UID: 1000, GID: 1000})
	sockPath := startDaemon(t, standin)

	encCtx := NewContext().With(WithSocketPath(sockPath), WithAuthUID(0))
	cred, encErr := Encode(encCtx, nil)
	if encErr != nil {
		t.Fatalf("Encode failed: %v", encErr)
	}

	decCtx := NewContext().With(WithSocketPath(sockPath))
	if _, decErr := Decode(decCtx, cred); decErr == nil || decErr.Code != CredUnauthorized {
		t.Fatalf("expected CRED_UNAUTHORIZED, got %v", decErr)
	}

	standin.set(peerid.Identity{UID: 0, GID: 0})
	decCtx2 := NewContext().With(WithSocketPath(sockPath))
	if _, decErr := Decode(decCtx2, cred); decErr != nil {
		t.Fatalf("expected success for root decoder, got %v", decErr)
	}
}

// TestE2E_E5Scenario exercises replay rejection (E5): decoding the
// same credential twice fails the second time unless IgnoreReplay is
// set.
func TestE2E_E5Scenario(t *testing.T) {
	sockPath := startDaemon(t, kernelStandin{id: peerid.Identity{UID: 1000, GID: 1000}})

	encCtx := NewContext().With(WithSocketPath(sockPath))
	cred, encErr := Encode(encCtx, nil)
	if encErr != nil {
		t.Fatalf("Encode failed: %v", encErr)
	}

	if _, decErr := Decode(NewContext().With(WithSocketPath(sockPath)), cred); decErr != nil {
		t.Fatalf("first decode failed: %v", decErr)
	}
	if _, decErr := Decode(NewContext().With(WithSocketPath(sockPath)), cred); decErr == nil || decErr.Code != CredReplayed {
		t.Fatalf("expected CRED_REPLAYED, got %v", decErr)
	}

	ignoreCtx := NewContext().With(WithSocketPath(sockPath), WithIgnoreReplay(true))
	if _, decErr := Decode(ignoreCtx, cred); decErr != nil {
		t.Fatalf("expected success with IgnoreReplay, got %v", decErr)
	}
}

// TestE2E_FDHandshakeVerifier exercises the fd-passing peer-identity
// strategy (spec.md §4.F strategy 2) end to end: the client's Encode
// call must transparently answer the daemon's AUTH_FD_REQ before it
// receives its real ENC_RSP.
func TestE2E_FDHandshakeVerifier(t *testing.T) {
	dir := t.TempDir()
	pipeDir := filepath.Join(dir, "pipes")
	clientDir := filepath.Join(dir, "clients")
	if err := os.MkdirAll(pipeDir, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(clientDir, 0o700); err != nil {
		t.Fatal(err)
	}

	verifier := &peerid.FDHandshakeVerifier{PipeDir: pipeDir, ClientDir: clientDir, Timeout: 2 * time.Second}
	sockPath := startDaemon(t, verifier)

	ctx := NewContext().With(WithSocketPath(sockPath))
	cred, encErr := Encode(ctx, []byte("fd-handshake"))
	if encErr != nil {
		t.Fatalf("Encode over fd-handshake verifier failed: %v", encErr)
	}

	decCtx := NewContext().With(WithSocketPath(sockPath))
	payload, decErr := Decode(decCtx, cred)
	if decErr != nil {
		t.Fatalf("Decode over fd-handshake verifier failed: %v", decErr)
	}
	if string(payload) != "fd-handshake" {
		t.Fatalf("unexpected payload %q", payload)
	}
}
