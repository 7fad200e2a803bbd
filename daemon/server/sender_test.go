package server

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/quantarax/mcastxfer/internal/fileset"
	"github.com/quantarax/mcastxfer/internal/secure"
	"github.com/quantarax/mcastxfer/internal/wire"
)

type fakeGroup struct {
	mu   sync.Mutex
	sent [][]byte
}

func (g *fakeGroup) Send(b []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := make([]byte, len(b))
	copy(cp, b)
	g.sent = append(g.sent, cp)
	return nil
}

func (g *fakeGroup) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

func writePayload(t *testing.T, root, name string, data []byte) {
	t.Helper()
	path := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestMulticastSenderEncryptsAndSendsEveryChunk(t *testing.T) {
	root := t.TempDir()
	writePayload(t, root, "a.bin", []byte("hello world, this is thirty bytes"))

	headers, err := fileset.ComputeFileHeaders(root)
	if err != nil {
		t.Fatalf("ComputeFileHeaders: %v", err)
	}
	chunks := fileset.BuildChunks(headers, 10)

	key := make([]byte, 32)
	var ivBase [12]byte
	group := &fakeGroup{}

	sender := NewMulticastSender(1, root, key, ivBase, group, 2)
	sender.Start()
	defer sender.Stop()

	plan := make([]int64, len(chunks))
	for i, c := range chunks {
		plan[i] = c.SegmentID
	}
	if err := sender.SendPlan(context.Background(), plan, headers, chunks, 4); err != nil {
		t.Fatalf("SendPlan: %v", err)
	}
	sender.Stop()

	if group.count() != len(chunks) {
		t.Fatalf("expected %d datagrams sent, got %d", len(chunks), group.count())
	}

	seg, err := wire.DecodeSegment(group.sent[0])
	if err != nil {
		t.Fatalf("DecodeSegment: %v", err)
	}
	if seg.SessionID != 1 {
		t.Fatalf("expected session id 1, got %d", seg.SessionID)
	}
}

func TestEncryptSegmentRoundTripsUnderSessionKey(t *testing.T) {
	root := t.TempDir()
	writePayload(t, root, "a.bin", []byte("0123456789"))
	headers, _ := fileset.ComputeFileHeaders(root)
	chunks := fileset.BuildChunks(headers, 10)

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	var ivBase [12]byte
	sender := NewMulticastSender(7, root, key, ivBase, &fakeGroup{}, 1)

	seg, err := sender.EncryptSegment(headers[0], chunks[0])
	if err != nil {
		t.Fatalf("EncryptSegment: %v", err)
	}

	nonce := secure.DeriveSegmentNonce(ivBase, uint32(chunks[0].SegmentID))
	plaintext, err := secure.Open(key, nonce[:], buildAAD(7, uint32(chunks[0].SegmentID)), seg.Data)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(plaintext) != "0123456789" {
		t.Fatalf("unexpected plaintext: %q", plaintext)
	}
}

func buildAAD(sessionID uint16, segmentID uint32) []byte {
	aad := make([]byte, 6)
	aad[0] = byte(sessionID >> 8)
	aad[1] = byte(sessionID)
	aad[2] = byte(segmentID >> 24)
	aad[3] = byte(segmentID >> 16)
	aad[4] = byte(segmentID >> 8)
	aad[5] = byte(segmentID)
	return aad
}
