package client

import (
	"testing"
	"time"

	"github.com/quantarax/mcastxfer/internal/bitvector"
	"github.com/quantarax/mcastxfer/internal/fileset"
)

func testHeaders() []fileset.FileHeader {
	return []fileset.FileHeader{{Name: "a.bin", Length: 25, Ordinal: 0}}
}

func testChunks(headers []fileset.FileHeader) []fileset.Chunk {
	return fileset.BuildChunks(headers, 10)
}

func newTestSession(t *testing.T) *ReceiverSession {
	t.Helper()
	headers := testHeaders()
	chunks := testChunks(headers)
	bySegment := make(map[int64]fileset.Chunk, len(chunks))
	for _, c := range chunks {
		bySegment[c.SegmentID] = c
	}
	return &ReceiverSession{
		headers:   headers,
		chunks:    chunks,
		bySegment: bySegment,
		bv:        bitvector.New(int64(len(chunks))),
	}
}

func TestProgressReportsFullBytesLeftBeforeAnyChunkReceived(t *testing.T) {
	s := newTestSession(t)
	total, left, complete := s.Progress()
	if total != 25 {
		t.Fatalf("expected total 25, got %d", total)
	}
	if left != 25 {
		t.Fatalf("expected bytesLeft 25, got %d", left)
	}
	if complete {
		t.Fatalf("expected not complete")
	}
}

func TestProgressTracksChunksAsTheyAreSet(t *testing.T) {
	s := newTestSession(t)
	for _, c := range s.chunks {
		if err := s.bv.Set(c.SegmentID); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	total, left, complete := s.Progress()
	if total != 25 {
		t.Fatalf("expected total 25, got %d", total)
	}
	if left != 0 {
		t.Fatalf("expected bytesLeft 0, got %d", left)
	}
	if !complete {
		t.Fatalf("expected complete")
	}
}

func TestThroughputIsZeroBeforeTwoSamples(t *testing.T) {
	s := newTestSession(t)
	if tp := s.Throughput(); tp != 0 {
		t.Fatalf("expected 0 throughput with no samples, got %v", tp)
	}
	s.recordSample(25)
	if tp := s.Throughput(); tp != 0 {
		t.Fatalf("expected 0 throughput with one sample, got %v", tp)
	}
}

func TestThroughputReflectsBytesDrainedOverTime(t *testing.T) {
	s := newTestSession(t)
	s.samples = []throughputSample{
		{at: time.Unix(0, 0), bytesLeft: 25},
		{at: time.Unix(1, 0), bytesLeft: 15},
	}
	tp := s.Throughput()
	if tp != 10 {
		t.Fatalf("expected throughput 10 bytes/sec, got %v", tp)
	}
}

func TestThroughputWindowCapsAtTenSamples(t *testing.T) {
	s := newTestSession(t)
	for i := 0; i < 15; i++ {
		s.recordSample(int64(25 - i))
	}
	if len(s.samples) != 10 {
		t.Fatalf("expected window capped at 10 samples, got %d", len(s.samples))
	}
}

func TestPendingWritesTracksIncDec(t *testing.T) {
	s := newTestSession(t)
	s.incPending()
	s.incPending()
	s.decPending()
	if got := s.pending(); got != 1 {
		t.Fatalf("expected pending 1, got %d", got)
	}
}
