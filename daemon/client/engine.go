package client

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/quantarax/mcastxfer/internal/errs"
	"github.com/quantarax/mcastxfer/internal/fileset"
	"github.com/quantarax/mcastxfer/internal/secure"
	"github.com/quantarax/mcastxfer/internal/wire"
)

// Run drives the three concurrent receiver activities of spec.md §4.4
// (datagram intake, chunk writer, status reporter) until the payload is
// fully received and acknowledged, the control channel fails, or ctx is
// cancelled. It always leaves the multicast group and closes the control
// channel before returning.
func (s *ReceiverSession) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.group.Leave()
	defer s.channel.Close()

	intakeErr := make(chan error, 1)
	go func() { intakeErr <- s.intakeLoop(runCtx) }()
	go s.writerLoop(runCtx)

	reportErr := make(chan error, 1)
	go func() { reportErr <- s.reportLoop(runCtx) }()

	select {
	case err := <-reportErr:
		cancel()
		<-intakeErr
		if err != nil {
			return err
		}
		return nil
	case err := <-intakeErr:
		cancel()
		<-reportErr
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// intakeLoop is datagram intake: receive a multicast datagram, decode and
// decrypt it, and hand it to the writer. Decrypt/decode failures are
// discarded with a warning rather than aborting the session, per spec.md
// §4.4 ("discard-with-warning on failure").
func (s *ReceiverSession) intakeLoop(ctx context.Context) error {
	for {
		raw, err := s.group.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: multicast receive: %v", errs.ErrTransportLost, err)
		}

		seg, err := wire.DecodeSegment(raw)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn(fmt.Sprintf("discarding malformed segment: %v", err))
			}
			continue
		}

		chunk, ok := s.bySegment[int64(seg.SegmentID)]
		if !ok {
			// Segment IDs at or beyond the chunk count are FEC parity
			// shards; this engine does not yet reconstruct from them (see
			// DESIGN.md), so they are silently skipped rather than logged
			// as malformed.
			continue
		}
		if s.bv.Test(chunk.SegmentID) {
			continue
		}

		plaintext, err := s.decrypt(seg)
		if err != nil {
			if s.logger != nil {
				s.logger.SegmentDecryptFailed("", int64(seg.SegmentID), err)
			}
			continue
		}

		s.incPending()
		select {
		case s.writeQueue <- decodedBlock{chunk: chunk, data: plaintext}:
		case <-ctx.Done():
			s.decPending()
			return nil
		}
	}
}

func (s *ReceiverSession) decrypt(seg wire.FileSegment) ([]byte, error) {
	nonce := secure.DeriveSegmentNonce(s.ivBase, seg.SegmentID)
	aad := make([]byte, 2+4)
	binary.BigEndian.PutUint16(aad[0:2], seg.SessionID)
	binary.BigEndian.PutUint32(aad[2:6], seg.SegmentID)
	return secure.Open(s.payloadKey, nonce[:], aad, seg.Data)
}

// writerLoop is the chunk writer: drain the write queue and place each
// block at its file offset, one write outstanding at a time (the single
// goroutine itself is the back-pressure).
func (s *ReceiverSession) writerLoop(ctx context.Context) {
	for {
		select {
		case block, ok := <-s.writeQueue:
			if !ok {
				return
			}
			if err := s.fs.Write(block.chunk, block.data); err != nil {
				if s.logger != nil {
					s.logger.Warn(fmt.Sprintf("write chunk %d failed: %v", block.chunk.SegmentID, err))
				}
				s.decPending()
				continue
			}
			_ = s.bv.Set(block.chunk.SegmentID)
			s.decPending()
		case <-ctx.Done():
			return
		}
	}
}

// reportLoop is the status reporter: every PacketUpdateInterval send a
// PacketStatusUpdate; on a WaveComplete response, drain the writer and
// reply with the full WaveStatusUpdate, per spec.md §4.4. Returns nil once
// this receiver has reported leaving_session=true and had it acknowledged.
func (s *ReceiverSession) reportLoop(ctx context.Context) error {
	interval := s.cfg.PacketUpdateInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		bytesLeft := s.bytesLeft()
		s.recordSample(bytesLeft)
		complete := s.bv.IsComplete()

		respMsg, err := s.roundTrip(&wire.PacketStatusUpdate{
			BytesLeft:      bytesLeft,
			LeavingSession: complete,
		})
		if err != nil {
			return err
		}
		resp, ok := respMsg.(*wire.PacketStatusUpdateResponse)
		if !ok {
			return fmt.Errorf("%w: expected PacketStatusUpdateResponse", errs.ErrMalformedFrame)
		}
		if resp.Status != wire.StatusOk {
			return fmt.Errorf("%w: %s", errs.ErrRefused, resp.ErrorMessage)
		}
		if resp.ResponseType != wire.ResponseTypeWaveComplete {
			continue
		}

		if err := s.awaitWriterDrain(ctx); err != nil {
			return err
		}
		complete = s.bv.IsComplete()

		waveRespMsg, err := s.roundTrip(&wire.WaveStatusUpdate{
			BytesLeft:      s.bytesLeft(),
			LeavingSession: complete,
			FileBitVector:  s.bv.RawBytes(),
		})
		if err != nil {
			return err
		}
		waveResp, ok := waveRespMsg.(*wire.WaveCompleteResponse)
		if !ok {
			return fmt.Errorf("%w: expected WaveCompleteResponse", errs.ErrMalformedFrame)
		}
		s.wave = waveResp.WaveNumber

		if complete {
			if err := s.fs.Flush(); err != nil {
				return fmt.Errorf("flush on completion: %w", err)
			}
			s.verifyMerkleRoot()
			return nil
		}
	}
}

func (s *ReceiverSession) roundTrip(m wire.Message) (wire.Message, error) {
	if err := s.channel.Send(m); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTransportLost, err)
	}
	resp, err := s.channel.Receive()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTransportLost, err)
	}
	return resp, nil
}

func (s *ReceiverSession) awaitWriterDrain(ctx context.Context) error {
	for s.pending() > 0 {
		select {
		case <-time.After(5 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// verifyMerkleRoot recomputes the on-disk Merkle root and logs a mismatch
// warning; spec.md's Non-goals exclude re-requesting data on a mismatch, so
// this only strengthens the completeness invariant with an executable
// check rather than altering the transfer outcome.
func (s *ReceiverSession) verifyMerkleRoot() {
	if s.merkleRoot == "" || s.logger == nil {
		return
	}
	result, err := fileset.VerifyMerkleRoot(s.root, s.headers, s.chunks, s.merkleRoot)
	if err != nil {
		s.logger.Warn(fmt.Sprintf("merkle verification failed to run: %v", err))
		return
	}
	if result.Status != fileset.VerificationSuccess {
		s.logger.Warn(fmt.Sprintf("merkle root mismatch: computed=%s expected=%s", result.Computed, result.Expected))
	}
}
