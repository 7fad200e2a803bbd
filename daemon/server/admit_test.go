package server

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/quantarax/mcastxfer/daemon/config"
	"github.com/quantarax/mcastxfer/internal/errs"
	"github.com/quantarax/mcastxfer/internal/wire"
)

// fakeChannel is a minimal ControlChannel double for exercising admit
// directly, without a real connection.
type fakeChannel struct {
	addr string
}

func (f *fakeChannel) Send(m wire.Message) error      { return nil }
func (f *fakeChannel) Receive() (wire.Message, error) { return nil, nil }
func (f *fakeChannel) Close() error                   { return nil }
func (f *fakeChannel) RemoteAddr() string             { return f.addr }

func testAdmitServer(t *testing.T, maxConnsPerSession int) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	payloadDir := filepath.Join(root, "payload")
	if err := os.Mkdir(payloadDir, 0o755); err != nil {
		t.Fatalf("mkdir payload dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(payloadDir, "a.bin"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write a.bin: %v", err)
	}

	cfg := config.DefaultServerConfig()
	cfg.RootFolder = root
	cfg.MaxConnectionsPerSession = maxConnsPerSession
	return NewServer(cfg, nil, nil), "payload"
}

// TestAdmitRejectsPastSessionCapacity covers spec.md §8 scenario 4
// (admission overflow): a session already at MaxConnectionsPerSession
// refuses a further receiver rather than growing past it.
func TestAdmitRejectsPastSessionCapacity(t *testing.T) {
	srv, path := testAdmitServer(t, 1)

	if _, _, err := srv.admit(path, &fakeChannel{addr: "r1"}); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	_, _, err := srv.admit(path, &fakeChannel{addr: "r2"})
	if err != errs.ErrRefused {
		t.Fatalf("expected ErrRefused once the session is at capacity, got %v", err)
	}
}

// TestAdmitDetectsPayloadMismatch covers spec.md §8 scenario 6: a receiver
// reconnecting to a path whose on-disk file list has changed since the
// session was created gets PayloadMismatch, not silently admitted into a
// session describing different files.
func TestAdmitDetectsPayloadMismatch(t *testing.T) {
	srv, path := testAdmitServer(t, 4)

	if _, _, err := srv.admit(path, &fakeChannel{addr: "r1"}); err != nil {
		t.Fatalf("first admit: %v", err)
	}

	payloadDir := filepath.Join(srv.cfg.RootFolder, path)
	if err := os.WriteFile(filepath.Join(payloadDir, "b.bin"), []byte("new file"), 0o644); err != nil {
		t.Fatalf("write b.bin: %v", err)
	}

	_, _, err := srv.admit(path, &fakeChannel{addr: "r2"})
	if !errors.Is(err, errs.ErrPayloadMismatch) {
		t.Fatalf("expected PayloadMismatch after the file list changed, got %v", err)
	}
}
