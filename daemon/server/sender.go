package server

import (
	"context"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"runtime"
	"sync"

	"github.com/quantarax/mcastxfer/internal/fileset"
	"github.com/quantarax/mcastxfer/internal/secure"
	"github.com/quantarax/mcastxfer/internal/wire"
)

// DatagramGroup is the sender's view of C4: the only thing MulticastSender
// needs is a single-writer send.
type DatagramGroup interface {
	Send(b []byte) error
}

// aeadPool hands out a per-session, reusable AES-256-GCM cipher.AEAD so
// block encryption doesn't re-derive the cipher from the key on every send
// (DESIGN NOTES §9's "free-list of reusable AEAD instances").
type aeadPool struct {
	pool sync.Pool
}

func newAEADPool(key []byte) *aeadPool {
	p := &aeadPool{}
	p.pool.New = func() interface{} {
		aead, err := secure.NewAEAD(key)
		if err != nil {
			return nil
		}
		return aead
	}
	return p
}

func (p *aeadPool) get() (cipher.AEAD, bool) {
	v := p.pool.Get()
	if v == nil {
		return nil, false
	}
	aead, ok := v.(cipher.AEAD)
	return aead, ok
}

func (p *aeadPool) put(aead cipher.AEAD) {
	p.pool.Put(aead)
}

// MulticastSender is C10: a fixed worker pool that reads a chunk's file
// span, encrypts it under the session's payload key, frames it as a
// FileSegment, and hands it to the DatagramGroup. Grounded on the teacher's
// daemon/transport/chunk_sender.go ChunkWorkerPool, generalized from
// per-chunk QUIC streams to multicast datagrams.
type MulticastSender struct {
	sessionID  uint16
	payloadKey []byte
	ivBase     [12]byte
	payloadRoot string
	group      DatagramGroup
	aeads      *aeadPool

	workerCount int
	jobs        chan sendJob
	wg          sync.WaitGroup
}

type sendJob struct {
	chunk  fileset.Chunk
	header fileset.FileHeader
}

// NewMulticastSender builds a sender bound to one session's multicast group
// and payload key, with workerCount parallel encode+send workers.
func NewMulticastSender(sessionID uint16, payloadRoot string, payloadKey []byte, ivBase [12]byte, group DatagramGroup, workerCount int) *MulticastSender {
	if workerCount < 1 {
		workerCount = 1
	}
	return &MulticastSender{
		sessionID:   sessionID,
		payloadKey:  payloadKey,
		ivBase:      ivBase,
		payloadRoot: payloadRoot,
		group:       group,
		aeads:       newAEADPool(payloadKey),
		workerCount: workerCount,
		jobs:        make(chan sendJob, workerCount*4),
	}
}

// Start launches the worker pool.
func (s *MulticastSender) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

// Stop drains and shuts the worker pool down.
func (s *MulticastSender) Stop() {
	close(s.jobs)
	s.wg.Wait()
}

// SendPlan enqueues every chunk named by segmentIDs (the wave's transmit
// plan) for serialise+encrypt+send, honoring ctx cancellation and pacing at
// most burstLength in-flight enqueues before yielding, per spec.md §4.3
// step 2. It returns once every segment in the plan has been enqueued; the
// workers may still be draining when it returns.
func (s *MulticastSender) SendPlan(ctx context.Context, segmentIDs []int64, headers []fileset.FileHeader, chunks []fileset.Chunk, burstLength int) error {
	byOrdinal := make(map[int]fileset.FileHeader, len(headers))
	for _, h := range headers {
		byOrdinal[h.Ordinal] = h
	}
	bySegment := make(map[int64]fileset.Chunk, len(chunks))
	for _, c := range chunks {
		bySegment[c.SegmentID] = c
	}

	if burstLength < 1 {
		burstLength = 1
	}
	inFlight := 0
	for _, segID := range segmentIDs {
		chunk, ok := bySegment[segID]
		if !ok {
			return fmt.Errorf("server: plan references unknown segment %d", segID)
		}
		header, ok := byOrdinal[chunk.Ordinal]
		if !ok {
			return fmt.Errorf("server: chunk %d references unknown file ordinal %d", segID, chunk.Ordinal)
		}
		select {
		case s.jobs <- sendJob{chunk: chunk, header: header}:
		case <-ctx.Done():
			return ctx.Err()
		}
		inFlight++
		if inFlight >= burstLength {
			inFlight = 0
			runtime.Gosched()
		}
	}
	return nil
}

func (s *MulticastSender) worker() {
	defer s.wg.Done()
	for job := range s.jobs {
		if err := s.sendOne(job); err != nil {
			continue
		}
	}
}

func (s *MulticastSender) sendOne(job sendJob) error {
	plaintext, err := fileset.ReadAt(s.payloadRoot, job.header, job.chunk.ByteOffset, job.chunk.Length)
	if err != nil {
		return fmt.Errorf("read chunk %d: %w", job.chunk.SegmentID, err)
	}

	ciphertext, err := s.encrypt(uint32(job.chunk.SegmentID), plaintext)
	if err != nil {
		return fmt.Errorf("encrypt chunk %d: %w", job.chunk.SegmentID, err)
	}

	datagram := wire.EncodeSegment(wire.FileSegment{
		SessionID: s.sessionID,
		SegmentID: uint32(job.chunk.SegmentID),
		Data:      ciphertext,
	})
	if err := s.group.Send(datagram); err != nil {
		return fmt.Errorf("send chunk %d: %w", job.chunk.SegmentID, err)
	}
	return nil
}

// EncryptSegment reads and encrypts one chunk's plaintext and returns it as
// a ready-to-send FileSegment, without enqueueing it to the worker pool.
// Used by the FEC controller to build the data shards it groups into
// parity, so parity is computed over the exact bytes that went out on the
// wire.
func (s *MulticastSender) EncryptSegment(header fileset.FileHeader, chunk fileset.Chunk) (wire.FileSegment, error) {
	plaintext, err := fileset.ReadAt(s.payloadRoot, header, chunk.ByteOffset, chunk.Length)
	if err != nil {
		return wire.FileSegment{}, fmt.Errorf("read chunk %d: %w", chunk.SegmentID, err)
	}
	ciphertext, err := s.encrypt(uint32(chunk.SegmentID), plaintext)
	if err != nil {
		return wire.FileSegment{}, fmt.Errorf("encrypt chunk %d: %w", chunk.SegmentID, err)
	}
	return wire.FileSegment{SessionID: s.sessionID, SegmentID: uint32(chunk.SegmentID), Data: ciphertext}, nil
}

// SendRaw sends a pre-built datagram (e.g. an encoded FEC parity
// FileSegment) directly through the group, bypassing the worker queue.
func (s *MulticastSender) SendRaw(segment wire.FileSegment) error {
	return s.group.Send(wire.EncodeSegment(segment))
}

func (s *MulticastSender) encrypt(segmentID uint32, plaintext []byte) ([]byte, error) {
	aead, ok := s.aeads.get()
	if !ok {
		return nil, fmt.Errorf("server: no AEAD available for session")
	}
	defer s.aeads.put(aead)

	nonce := secure.DeriveSegmentNonce(s.ivBase, segmentID)
	aad := make([]byte, 2+4)
	binary.BigEndian.PutUint16(aad[0:2], s.sessionID)
	binary.BigEndian.PutUint32(aad[2:6], segmentID)
	return aead.Seal(nil, nonce[:], plaintext, aad), nil
}
