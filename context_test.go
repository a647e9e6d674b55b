package credentiald

import (
	"testing"
	"time"

	"credentiald/internal/primitive"
)

func TestNewContext_Defaults(t *testing.T) {
	ctx := NewContext()
	if ctx.AuthUID != AnyID || ctx.AuthGID != AnyID {
		t.Fatalf("expected AnyID defaults, got %d/%d", ctx.AuthUID, ctx.AuthGID)
	}
	if ctx.SocketPath != DefaultSocketPath {
		t.Fatalf("expected default socket path, got %q", ctx.SocketPath)
	}
	if ctx.RetryAttempts <= 0 {
		t.Fatal("expected a positive default retry count")
	}
}

func TestContext_With(t *testing.T) {
	ctx := NewContext().With(
		WithSocketPath("/tmp/other.sock"),
		WithRealm("payroll"),
		WithTTL(90*time.Second),
		WithAuthUID(1000),
		WithAuthGID(2000),
		WithCipher(primitive.CipherAES128),
		WithMAC(primitive.MACSHA512),
		WithZip(primitive.ZipDeflate),
		WithIgnoreTTL(true),
		WithIgnoreReplay(true),
	)

	if ctx.SocketPath != "/tmp/other.sock" {
		t.Errorf("SocketPath not applied")
	}
	if ctx.Realm != "payroll" {
		t.Errorf("Realm not applied")
	}
	if ctx.TTL != 90*time.Second {
		t.Errorf("TTL not applied")
	}
	if ctx.AuthUID != 1000 || ctx.AuthGID != 2000 {
		t.Errorf("Auth ids not applied")
	}
	if ctx.Cipher != primitive.CipherAES128 || ctx.MAC != primitive.MACSHA512 || ctx.Zip != primitive.ZipDeflate {
		t.Errorf("algorithm ids not applied")
	}
	if !ctx.IgnoreTTL || !ctx.IgnoreReplay {
		t.Errorf("ignore flags not applied")
	}
}

func TestContext_ttlSeconds(t *testing.T) {
	ctx := NewContext()
	if got := ctx.ttlSeconds(); got != 0 {
		t.Fatalf("expected 0 for an unset TTL, got %d", got)
	}
	ctx.TTL = 45 * time.Second
	if got := ctx.ttlSeconds(); got != 45 {
		t.Fatalf("expected 45, got %d", got)
	}
}
