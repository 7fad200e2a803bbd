package server

import (
	"context"
	"strconv"
	"time"

	"github.com/quantarax/mcastxfer/internal/events"
	"github.com/quantarax/mcastxfer/internal/fileset"
	"github.com/quantarax/mcastxfer/internal/observability"
	"github.com/quantarax/mcastxfer/internal/wire"
)

// WaveScheduler runs one session's wave loop (spec.md §4.3), grounded on
// the teacher's daemon/transport/scheduler.go dispatcher-goroutine idiom
// (there a P0/P1/P2 priority fan-out; here a single-writer pacing loop over
// the session's MulticastSender) and its chunk_sender.go worker-pool
// pattern for the send path itself.
type WaveScheduler struct {
	session   *Session
	sender    *MulticastSender
	fec       *FECController
	burst     int
	waveTimeout time.Duration
	idleGrace time.Duration

	logger *observability.Logger
	events *events.Publisher
}

// NewWaveScheduler builds the wave loop for session, driving sender and
// (if non-nil) fec.
func NewWaveScheduler(session *Session, sender *MulticastSender, fec *FECController, burst int, waveTimeout, idleGrace time.Duration, logger *observability.Logger, pub *events.Publisher) *WaveScheduler {
	if burst < 1 {
		burst = 1
	}
	return &WaveScheduler{
		session:     session,
		sender:      sender,
		fec:         fec,
		burst:       burst,
		waveTimeout: waveTimeout,
		idleGrace:   idleGrace,
		logger:      logger,
		events:      pub,
	}
}

// Run drives waves until the session's termination condition is met or ctx
// is cancelled. Callers run this in its own goroutine per session.
func (w *WaveScheduler) Run(ctx context.Context) {
	sessionIDStr := intToSessionID(w.session.ID)
	for {
		if ctx.Err() != nil {
			return
		}
		if w.session.CheckTermination(w.idleGrace) {
			if w.events != nil {
				w.events.PublishSessionTerminated(sessionIDStr, "termination condition met")
			}
			return
		}

		plan := w.session.Plan()
		if len(plan) == 0 {
			// Nothing outstanding and not yet terminated (e.g. awaiting the
			// first receiver); briefly idle before re-checking.
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		if w.events != nil {
			w.events.PublishWaveStarted(sessionIDStr, w.session.Wave, len(plan))
		}
		if w.logger != nil {
			w.logger.WaveStarted(sessionIDStr, w.session.Wave, len(plan))
		}

		if err := w.runWave(ctx, plan); err != nil {
			return
		}
	}
}

// runWave performs one full iteration of spec.md §4.3 steps 1-5: send the
// plan, flip to wave-complete, await every receiver's WaveStatusUpdate (or
// the boundary timeout), evict stragglers, advance the wave.
func (w *WaveScheduler) runWave(ctx context.Context, plan []int64) error {
	if err := w.sender.SendPlan(ctx, plan, w.session.Files, w.session.Chunks, w.burst); err != nil {
		return err
	}
	w.session.RecordTransmitted(int64(len(plan)))

	if w.fec != nil {
		w.sendParity(plan)
	}

	w.session.MarkWaveComplete()

	deadline := time.NewTimer(w.waveTimeout)
	defer deadline.Stop()

	for {
		pending := w.session.PendingWaveStatus()
		if len(pending) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			for _, r := range pending {
				w.evict(r, "wave boundary timeout")
			}
			pending = nil
		case <-time.After(50 * time.Millisecond):
			// Poll; receivers ack WaveStatus asynchronously via the control
			// handler calling Session.AckWaveStatus.
		}
		if len(pending) == 0 {
			break
		}
	}

	unsetFraction := float64(len(w.session.Plan())) / float64(max64(int64(len(w.session.Chunks)), 1))
	if w.fec != nil {
		w.fec.ObserveWaveLoss(unsetFraction)
	}

	newWave := w.session.AdvanceWave()
	if w.logger != nil {
		w.logger.WaveCompleted(intToSessionID(w.session.ID), newWave, 0, len(plan))
	}
	if w.events != nil {
		w.events.PublishWaveComplete(intToSessionID(w.session.ID), newWave, len(plan))
	}
	return nil
}

func (w *WaveScheduler) sendParity(plan []int64) {
	bySegment := make(map[int64]fileset.Chunk, len(w.session.Chunks))
	for _, c := range w.session.Chunks {
		bySegment[c.SegmentID] = c
	}
	byOrdinal := make(map[int]fileset.FileHeader, len(w.session.Files))
	for _, h := range w.session.Files {
		byOrdinal[h.Ordinal] = h
	}

	segments := make([]wire.FileSegment, 0, len(plan))
	for _, segID := range plan {
		chunk, ok := bySegment[segID]
		if !ok {
			continue
		}
		header, ok := byOrdinal[chunk.Ordinal]
		if !ok {
			continue
		}
		seg, err := w.sender.EncryptSegment(header, chunk)
		if err != nil {
			continue
		}
		segments = append(segments, seg)
	}

	parity, err := w.fec.EncodeWaveParity(uint16(w.session.ID), segments)
	if err != nil {
		return
	}
	for _, p := range parity {
		_ = w.sender.SendRaw(p)
	}
}

func (w *WaveScheduler) evict(r *Receiver, reason string) {
	if w.logger != nil {
		w.logger.ReceiverEvicted(intToSessionID(w.session.ID), r.ID, reason)
	}
	if w.events != nil {
		w.events.PublishReceiverEvicted(intToSessionID(w.session.ID), r.ID, reason)
	}
	_ = r.Channel.Close()
	w.session.Remove(r.ID)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func intToSessionID(id int) string {
	return strconv.Itoa(id)
}
