// Package server implements the server-side session/scheduler/sender
// machinery (C8, C9, C10), grounded on the teacher's daemon/manager
// (per-entity state with sync.RWMutex-guarded fields, a SessionStore CRUD
// map) and daemon/transport (dispatcher-over-channels scheduler, worker-pool
// sender) packages, generalized from a single-transfer-per-session model to
// the multicast wave model of spec.md §3/§4.3.
package server

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quantarax/mcastxfer/internal/bitvector"
	"github.com/quantarax/mcastxfer/internal/fileset"
	"github.com/quantarax/mcastxfer/internal/wire"
)

var (
	// ErrSessionNotFound is returned by Store.Get for an unknown session ID.
	ErrSessionNotFound = errors.New("server: session not found")

	// ErrNoSessionSlot is returned when MaxSessions is already in use and the
	// path does not match an existing session.
	ErrNoSessionSlot = errors.New("server: no free session slot")

	// ErrSessionFull is returned when a session's admitted set is already at
	// MaxConnectionsPerSession.
	ErrSessionFull = errors.New("server: session at capacity")
)

// ControlChannel is the server's view of one receiver's unicast control
// transport: ordered, tagged-message send/receive, closable independent of
// the multicast plane.
type ControlChannel interface {
	Send(m wire.Message) error
	Receive() (wire.Message, error)
	Close() error
	RemoteAddr() string
}

// Receiver is the server-side receiver record of spec.md §3:
// {id, control_channel, latest_bit_vector, bytes_left_reported,
// joined_session, leaving, last_seen}. Owned exclusively by its Session.
type Receiver struct {
	ID                string
	Channel           ControlChannel
	LatestBitVector   *bitvector.BitVector
	BytesLeftReported int64
	JoinedSession     bool
	Leaving           bool
	LastSeen          time.Time

	// awaitingWaveStatus is set when the scheduler has solicited this
	// receiver's WaveStatusUpdate at a wave boundary and is still waiting.
	awaitingWaveStatus bool

	transmittedThisWave int64
}

// Session is the server-side transfer session of spec.md §3: {session_id,
// multicast_address, multicast_port, payload_root, admitted_receivers,
// files, chunks, wave}.
type Session struct {
	mu sync.RWMutex

	ID               int
	Path             string
	MulticastAddress string
	MulticastPort    int
	PayloadRoot      string

	Files     []fileset.FileHeader
	Chunks    []fileset.Chunk
	BlockSize int64
	MerkleRoot string

	Wave         int64
	Aggregate    *bitvector.BitVector
	WaveComplete bool

	receivers map[string]*Receiver

	createdAt    time.Time
	idleSince    time.Time
	maxReceivers int

	// waveDone is closed and replaced every AdvanceWave call, letting
	// per-connection handlers block until the wave they just reported into
	// has actually advanced before replying with the new wave number.
	waveDone chan struct{}
}

// NewSession constructs a Session for an admitted payload path, building
// the deterministic FileHeader/Chunk layout and the all-ones aggregate
// identity (folded down as receivers report in).
func NewSession(id int, path, multicastAddress string, multicastPort int, payloadRoot string, files []fileset.FileHeader, chunks []fileset.Chunk, maxReceivers int) *Session {
	return &Session{
		ID:               id,
		Path:             path,
		MulticastAddress: multicastAddress,
		MulticastPort:    multicastPort,
		PayloadRoot:      payloadRoot,
		Files:            files,
		Chunks:           chunks,
		Aggregate:        bitvector.AllOnes(int64(len(chunks))),
		receivers:        make(map[string]*Receiver),
		createdAt:        time.Now(),
		idleSince:        time.Now(),
		maxReceivers:     maxReceivers,
		waveDone:         make(chan struct{}),
	}
}

// WithBlockSizeAndMerkleRoot attaches the out-of-band SessionJoinResponse
// extension fields (spec.md §4.6) to a freshly built Session. Separated
// from NewSession because computing the Merkle root requires reading every
// file on disk once, which callers may want to skip for tests that don't
// exercise the wire handshake.
func (s *Session) WithBlockSizeAndMerkleRoot(blockSize int64, merkleRoot string) *Session {
	s.BlockSize = blockSize
	s.MerkleRoot = merkleRoot
	return s
}

// WaitWaveAdvance returns a channel that closes the next time AdvanceWave
// runs, so a caller that just delivered a WaveStatusUpdate can block until
// the scheduler has actually moved to the new wave before replying with its
// number.
func (s *Session) WaitWaveAdvance() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.waveDone
}

// AdmittedCount returns the number of currently admitted receivers.
func (s *Session) AdmittedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.receivers)
}

// Admit inserts a newly joined receiver into the session, rebuilding the
// aggregate to fold in its (empty) bit-vector. Returns ErrSessionFull if
// MaxConnectionsPerSession is already reached.
func (s *Session) Admit(r *Receiver) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.receivers) >= s.maxReceivers {
		return ErrSessionFull
	}
	if r.LatestBitVector == nil {
		r.LatestBitVector = bitvector.New(int64(len(s.Chunks)))
	}
	r.LastSeen = time.Now()
	s.receivers[r.ID] = r
	s.idleSince = time.Time{}
	s.rebuildAggregateLocked()
	return nil
}

// Remove drops a receiver record (leaving, eviction, or transport failure)
// and rebuilds the aggregate without it.
func (s *Session) Remove(receiverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.receivers, receiverID)
	s.rebuildAggregateLocked()
	if len(s.receivers) == 0 {
		s.idleSince = time.Now()
	}
}

// UpdateBitVector replaces receiverID's latest bit-vector (from a
// WaveStatusUpdate) and rebuilds the aggregate.
func (s *Session) UpdateBitVector(receiverID string, bv *bitvector.BitVector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receivers[receiverID]
	if !ok {
		return fmt.Errorf("server: update bit-vector: %w: %s", ErrSessionNotFound, receiverID)
	}
	r.LatestBitVector = bv
	r.LastSeen = time.Now()
	s.rebuildAggregateLocked()
	return nil
}

// rebuildAggregateLocked recomputes aggregate = AND across every admitted
// receiver's latest bit-vector. Callers must hold s.mu.
func (s *Session) rebuildAggregateLocked() {
	agg := bitvector.AllOnes(int64(len(s.Chunks)))
	for _, r := range s.receivers {
		if r.LatestBitVector == nil {
			continue
		}
		_ = agg.And(r.LatestBitVector)
	}
	s.Aggregate = agg
}

// Plan returns the ascending unset segment_id list of the current
// aggregate: the transmit plan for the next wave (spec.md §4.3 step 1).
func (s *Session) Plan() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Aggregate.Unset()
}

// Receivers returns a snapshot slice of the admitted receivers.
func (s *Session) Receivers() []*Receiver {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Receiver, 0, len(s.receivers))
	for _, r := range s.receivers {
		out = append(out, r)
	}
	return out
}

// MarkWaveComplete flips the session into the wave-complete phase
// (spec.md §4.3 step 3), where subsequent PacketStatusUpdates solicit a
// full WaveStatusUpdate from each receiver.
func (s *Session) MarkWaveComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.WaveComplete = true
	for _, r := range s.receivers {
		if !r.Leaving {
			r.awaitingWaveStatus = true
		}
	}
}

// AdvanceWave increments wave and clears the wave-complete phase
// (spec.md §4.3 step 4), called once every non-leaving receiver has
// reported a WaveStatusUpdate or the wave boundary timeout has elapsed.
func (s *Session) AdvanceWave() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Wave++
	s.WaveComplete = false
	for _, r := range s.receivers {
		r.awaitingWaveStatus = false
		r.transmittedThisWave = 0
	}
	close(s.waveDone)
	s.waveDone = make(chan struct{})
	return s.Wave
}

// PendingWaveStatus returns receivers still awaiting a WaveStatusUpdate at
// the current wave boundary, used by the scheduler to decide whether to
// keep waiting or to evict stragglers once WaveBoundaryTimeout elapses.
func (s *Session) PendingWaveStatus() []*Receiver {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Receiver
	for _, r := range s.receivers {
		if r.awaitingWaveStatus && !r.Leaving {
			out = append(out, r)
		}
	}
	return out
}

// AckWaveStatus clears the awaiting-wave-status flag for a receiver once
// its WaveStatusUpdate has been processed.
func (s *Session) AckWaveStatus(receiverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.receivers[receiverID]; ok {
		r.awaitingWaveStatus = false
	}
}

// MarkLeaving records that a receiver has announced leaving_session=true.
func (s *Session) MarkLeaving(receiverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.receivers[receiverID]; ok {
		r.Leaving = true
	}
}

// CheckTermination reports whether the session should be torn down per
// spec.md §4.3's three termination conditions: aggregate all-ones, every
// admitted receiver leaving, or an empty admitted set past idleGrace.
func (s *Session) CheckTermination(idleGrace time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.receivers) == 0 {
		return !s.idleSince.IsZero() && time.Since(s.idleSince) >= idleGrace
	}
	if s.Aggregate.IsComplete() {
		return true
	}
	for _, r := range s.receivers {
		if !r.Leaving {
			return false
		}
	}
	return true
}

// ReceptionRate computes the aggregate reception-rate signal of spec.md
// §4.3: transmitted_in_current_wave / (transmitted_in_current_wave +
// still_missing_for_this_receiver), clamped to [0,1].
func (s *Session) ReceptionRate(receiverID string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.receivers[receiverID]
	if !ok {
		return 0
	}
	transmitted := r.transmittedThisWave
	missing := int64(0)
	if r.LatestBitVector != nil {
		missing = r.LatestBitVector.Len() - r.LatestBitVector.PopCount()
	}
	denom := transmitted + missing
	if denom <= 0 {
		return 1
	}
	rate := float64(transmitted) / float64(denom)
	if rate < 0 {
		return 0
	}
	if rate > 1 {
		return 1
	}
	return rate
}

// RecordTransmitted increments every admitted receiver's per-wave
// transmitted counter, used by ReceptionRate.
func (s *Session) RecordTransmitted(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.receivers {
		r.transmittedThisWave += n
	}
}

// Store is the in-memory session registry, admitting at most MaxSessions
// concurrent sessions, grounded on the teacher's manager.SessionStore.
type Store struct {
	mu          sync.RWMutex
	byPath      map[string]*Session
	maxSessions int
}

// NewStore creates a Store bounded to maxSessions concurrent sessions.
func NewStore(maxSessions int) *Store {
	return &Store{byPath: make(map[string]*Session), maxSessions: maxSessions}
}

// GetOrCreate returns the existing session for path, or creates one via new
// if there's a free session-ID slot. Implements spec.md §4.2 step 6's
// admission rule for the "does a session exist or can one be created" leg.
func (s *Store) GetOrCreate(path string, build func(sessionID int) (*Session, error)) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.byPath[path]; ok {
		return sess, nil
	}
	if len(s.byPath) >= s.maxSessions {
		return nil, ErrNoSessionSlot
	}
	id := s.nextFreeIDLocked()
	sess, err := build(id)
	if err != nil {
		return nil, err
	}
	s.byPath[path] = sess
	return sess, nil
}

func (s *Store) nextFreeIDLocked() int {
	used := make(map[int]bool, len(s.byPath))
	for _, sess := range s.byPath {
		used[sess.ID] = true
	}
	for id := 0; id < s.maxSessions; id++ {
		if !used[id] {
			return id
		}
	}
	return len(s.byPath)
}

// Get returns the session for path, if any.
func (s *Store) Get(path string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byPath[path]
	return sess, ok
}

// Remove drops path's session from the store (called once CheckTermination
// reports true).
func (s *Store) Remove(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byPath, path)
}

// List returns a snapshot of every live session.
func (s *Store) List() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.byPath))
	for _, sess := range s.byPath {
		out = append(out, sess)
	}
	return out
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byPath)
}
