// Package client implements the receiver-side engine (C7) of spec.md
// §4.2/§4.4: the handshake in handshake.go and the three concurrent
// activities (datagram intake, chunk writer, status reporter) in engine.go,
// grounded on the teacher's daemon/transport/chunk_receiver.go
// (ChunkReceiver: decrypt, verify, write, ack) generalized from per-chunk
// QUIC streams and hash-verify-per-chunk to multicast datagrams verified
// once, whole-payload, via the session Merkle root.
package client

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/quantarax/mcastxfer/internal/bitvector"
	"github.com/quantarax/mcastxfer/internal/fileset"
	"github.com/quantarax/mcastxfer/internal/mcast"
	"github.com/quantarax/mcastxfer/internal/observability"
	"github.com/quantarax/mcastxfer/internal/secure"
	"github.com/quantarax/mcastxfer/internal/wire"

	"github.com/quantarax/mcastxfer/daemon/config"
)

// DatagramReceiver is the receiver's view of C4: blocking receive plus
// group departure, mirroring server.DatagramGroup's send-only view.
type DatagramReceiver interface {
	Receive(ctx context.Context) ([]byte, error)
	Leave() error
}

// decodedBlock is one plaintext chunk payload handed from the intake loop
// to the writer loop.
type decodedBlock struct {
	chunk fileset.Chunk
	data  []byte
}

// throughputSample is one (time, bytes_left) observation for the 10-sample
// moving-window throughput estimate of spec.md §4.4.
type throughputSample struct {
	at        time.Time
	bytesLeft int64
}

// ReceiverSession is the receiver-side session state of spec.md §3/§4.4:
// the joined payload's file set, chunk layout, local BitVector, and the
// control/data-plane handles needed to run the three concurrent
// activities.
type ReceiverSession struct {
	channel ControlChannel
	group   DatagramReceiver

	fs        fileset.FileSet
	headers   []fileset.FileHeader
	chunks    []fileset.Chunk
	bySegment map[int64]fileset.Chunk
	byOrdinal map[int]fileset.FileHeader

	bv *bitvector.BitVector

	payloadKey []byte
	ivBase     [12]byte
	merkleRoot string
	root       string

	cfg    *config.ClientConfig
	logger *observability.Logger

	wave int64

	writeQueue    chan decodedBlock
	pendingWrites int64 // atomic

	samples []throughputSample
}

func newReceiverSession(channel ControlChannel, resp *wire.SessionJoinResponse, psk [32]byte, cfg *config.ClientConfig, logger *observability.Logger) (*ReceiverSession, error) {
	headers := toFilesetHeaders(resp.Files)
	chunks := fileset.BuildChunks(headers, int(resp.BlockSize))

	fileListHash := hashWireHeaders(resp.Files)
	sessionKeys, err := secure.DeriveSessionKeys(psk, fileListHash)
	if err != nil {
		channel.Close()
		return nil, fmt.Errorf("derive session keys: %w", err)
	}

	fs := fileset.NewFS(cfg.RootFolder, headers, chunks)
	if err := fs.InitWrite(); err != nil {
		channel.Close()
		return nil, fmt.Errorf("init write: %w", err)
	}

	group, err := mcast.JoinReceiver(resp.MulticastAddress, int(resp.MulticastPort), cfg.InterfaceName, cfg.MulticastBufferSize)
	if err != nil {
		_ = fs.Clean()
		channel.Close()
		return nil, fmt.Errorf("join multicast group: %w", err)
	}

	bySegment := make(map[int64]fileset.Chunk, len(chunks))
	for _, c := range chunks {
		bySegment[c.SegmentID] = c
	}
	byOrdinal := make(map[int]fileset.FileHeader, len(headers))
	for _, h := range headers {
		byOrdinal[h.Ordinal] = h
	}

	return &ReceiverSession{
		channel:    channel,
		group:      group,
		fs:         fs,
		headers:    headers,
		chunks:     chunks,
		bySegment:  bySegment,
		byOrdinal:  byOrdinal,
		bv:         bitvector.New(int64(len(chunks))),
		payloadKey: sessionKeys.PayloadKey[:],
		ivBase:     sessionKeys.IVBase,
		merkleRoot: string(resp.MerkleRoot),
		root:       cfg.RootFolder,
		cfg:        cfg,
		logger:     logger,
		wave:       resp.WaveNumber,
		writeQueue: make(chan decodedBlock, 64),
	}, nil
}

// Progress reports the receiver's current completion state: total payload
// bytes, bytes still missing, and whether every chunk has been written.
func (s *ReceiverSession) Progress() (totalBytes, bytesLeft int64, complete bool) {
	for _, h := range s.headers {
		totalBytes += h.Length
	}
	bytesLeft = s.bytesLeft()
	complete = s.bv.IsComplete()
	return
}

func (s *ReceiverSession) bytesLeft() int64 {
	var left int64
	for _, segID := range s.bv.Unset() {
		if c, ok := s.bySegment[segID]; ok {
			left += int64(c.Length)
		}
	}
	return left
}

// Throughput returns the 10-sample moving-window bytes-per-second estimate
// of spec.md §4.4, or 0 if fewer than two samples have been recorded yet.
func (s *ReceiverSession) Throughput() float64 {
	if len(s.samples) < 2 {
		return 0
	}
	first := s.samples[0]
	last := s.samples[len(s.samples)-1]
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	delta := first.bytesLeft - last.bytesLeft
	if delta < 0 {
		delta = 0
	}
	return float64(delta) / elapsed
}

func (s *ReceiverSession) recordSample(bytesLeft int64) {
	s.samples = append(s.samples, throughputSample{at: time.Now(), bytesLeft: bytesLeft})
	if len(s.samples) > 10 {
		s.samples = s.samples[len(s.samples)-10:]
	}
}

func (s *ReceiverSession) incPending() { atomic.AddInt64(&s.pendingWrites, 1) }
func (s *ReceiverSession) decPending() { atomic.AddInt64(&s.pendingWrites, -1) }
func (s *ReceiverSession) pending() int64 {
	return atomic.LoadInt64(&s.pendingWrites)
}
