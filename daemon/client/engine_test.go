package client

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/quantarax/mcastxfer/internal/bitvector"
	"github.com/quantarax/mcastxfer/internal/fileset"
	"github.com/quantarax/mcastxfer/internal/secure"
	"github.com/quantarax/mcastxfer/internal/wire"

	"github.com/quantarax/mcastxfer/daemon/config"
)

// fakeDatagramReceiver replays a fixed queue of datagrams, then blocks until
// the context is cancelled (mirroring a real multicast group with nothing
// left to deliver).
type fakeDatagramReceiver struct {
	mu    sync.Mutex
	queue [][]byte
	left  bool
}

func (g *fakeDatagramReceiver) Receive(ctx context.Context) ([]byte, error) {
	g.mu.Lock()
	if len(g.queue) > 0 {
		next := g.queue[0]
		g.queue = g.queue[1:]
		g.mu.Unlock()
		return next, nil
	}
	g.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (g *fakeDatagramReceiver) Leave() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.left = true
	return nil
}

// fakeControlChannel plays the server's side of the status round-trip: it
// only reports a wave complete once isDone reports true, so the test never
// races the intake/writer goroutines against a canned response schedule.
type fakeControlChannel struct {
	mu     sync.Mutex
	sent   []wire.Message
	closed bool
	isDone func() bool
	wave   int64
}

func (c *fakeControlChannel) Send(m wire.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, m)
	return nil
}

func (c *fakeControlChannel) Receive() (wire.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	last := c.sent[len(c.sent)-1]
	switch last.(type) {
	case *wire.PacketStatusUpdate:
		respType := wire.ResponseTypeOk
		if c.isDone() {
			respType = wire.ResponseTypeWaveComplete
		}
		return &wire.PacketStatusUpdateResponse{
			Response:     wire.Response{Status: wire.StatusOk},
			ResponseType: respType,
		}, nil
	case *wire.WaveStatusUpdate:
		c.wave++
		return &wire.WaveCompleteResponse{
			Response:   wire.Response{Status: wire.StatusOk},
			WaveNumber: c.wave,
		}, nil
	default:
		return nil, context.Canceled
	}
}

func (c *fakeControlChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func buildEncryptedSegment(t *testing.T, sessionID uint16, payloadKey []byte, ivBase [12]byte, segmentID int64, plaintext []byte) []byte {
	t.Helper()
	nonce := secure.DeriveSegmentNonce(ivBase, uint32(segmentID))
	aad := make([]byte, 6)
	aad[0] = byte(sessionID >> 8)
	aad[1] = byte(sessionID)
	aad[2] = byte(uint32(segmentID) >> 24)
	aad[3] = byte(uint32(segmentID) >> 16)
	aad[4] = byte(uint32(segmentID) >> 8)
	aad[5] = byte(uint32(segmentID))
	ciphertext, err := secure.Seal(payloadKey, nonce[:], aad, plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	return wire.EncodeSegment(wire.FileSegment{SessionID: sessionID, SegmentID: uint32(segmentID), Data: ciphertext})
}

func TestRunReceivesAllChunksAndCompletesOnWaveComplete(t *testing.T) {
	root := t.TempDir()
	headers := []fileset.FileHeader{{Name: "a.bin", Length: 25, Ordinal: 0}}
	chunks := fileset.BuildChunks(headers, 10)

	payloadKey := make([]byte, 32)
	var ivBase [12]byte

	plaintext := []byte("0123456789012345678901234")
	var datagrams [][]byte
	for _, c := range chunks {
		data := plaintext[c.ByteOffset : c.ByteOffset+int64(c.Length)]
		datagrams = append(datagrams, buildEncryptedSegment(t, 1, payloadKey, ivBase, c.SegmentID, data))
	}

	fs := fileset.NewFS(root, headers, chunks)
	if err := fs.InitWrite(); err != nil {
		t.Fatalf("InitWrite: %v", err)
	}

	bySegment := make(map[int64]fileset.Chunk, len(chunks))
	for _, c := range chunks {
		bySegment[c.SegmentID] = c
	}

	group := &fakeDatagramReceiver{queue: datagrams}
	bv := bitvector.New(int64(len(chunks)))
	channel := &fakeControlChannel{isDone: func() bool { return bv.IsComplete() }}

	s := &ReceiverSession{
		channel:    channel,
		group:      group,
		fs:         fs,
		headers:    headers,
		chunks:     chunks,
		bySegment:  bySegment,
		bv:         bv,
		payloadKey: payloadKey,
		ivBase:     ivBase,
		root:       root,
		cfg:        &config.ClientConfig{PacketUpdateInterval: 5 * time.Millisecond},
		writeQueue: make(chan decodedBlock, 64),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !s.bv.IsComplete() {
		t.Fatalf("expected bit vector complete after Run")
	}
	if !group.left {
		t.Fatalf("expected group.Leave to be called")
	}
	if !channel.closed {
		t.Fatalf("expected channel.Close to be called")
	}

	got, err := os.ReadFile(filepath.Join(root, "a.bin"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("expected written payload %q, got %q", plaintext, got)
	}
}

func TestIntakeLoopDiscardsUndecryptableSegments(t *testing.T) {
	root := t.TempDir()
	headers := []fileset.FileHeader{{Name: "a.bin", Length: 10, Ordinal: 0}}
	chunks := fileset.BuildChunks(headers, 10)

	payloadKey := make([]byte, 32)
	wrongKey := make([]byte, 32)
	wrongKey[0] = 1
	var ivBase [12]byte

	bad := buildEncryptedSegment(t, 1, wrongKey, ivBase, chunks[0].SegmentID, []byte("0123456789"))
	malformed := []byte{0, 1, 2}

	fs := fileset.NewFS(root, headers, chunks)
	if err := fs.InitWrite(); err != nil {
		t.Fatalf("InitWrite: %v", err)
	}

	bySegment := make(map[int64]fileset.Chunk, len(chunks))
	for _, c := range chunks {
		bySegment[c.SegmentID] = c
	}

	group := &fakeDatagramReceiver{queue: [][]byte{malformed, bad}}
	s := &ReceiverSession{
		group:      group,
		fs:         fs,
		bySegment:  bySegment,
		bv:         bitvector.New(int64(len(chunks))),
		payloadKey: payloadKey,
		ivBase:     ivBase,
		writeQueue: make(chan decodedBlock, 64),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := s.intakeLoop(ctx); err != nil {
		t.Fatalf("intakeLoop: %v", err)
	}

	if s.bv.PopCount() != 0 {
		t.Fatalf("expected no chunks accepted, got popcount %d", s.bv.PopCount())
	}
	if s.pending() != 0 {
		t.Fatalf("expected no pending writes, got %d", s.pending())
	}
}
