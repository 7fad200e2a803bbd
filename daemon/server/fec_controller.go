package server

import (
	"github.com/quantarax/mcastxfer/internal/fec"
	"github.com/quantarax/mcastxfer/internal/wire"
)

// FECController is the optional, disabled-by-default parity layer of
// SPEC_FULL.md §4.8 (D1): it groups a wave's already-encrypted segment
// payloads into K-shard groups and emits R Reed-Solomon parity shards per
// group, addressed starting at totalChunks so receivers that already hold
// every data shard simply ignore them. Grounded on the teacher's
// daemon/transport/fec_controller.go loss-estimator/update-callback shape,
// generalized from a single stream-wide K/R to per-wave group parity.
type FECController struct {
	coder       *fec.WaveCoder
	policy      *fec.AdaptivePolicy
	totalChunks int64
}

// NewFECController builds a controller over policy, which governs whether
// parity is produced at all and at what K/R.
func NewFECController(policy *fec.AdaptivePolicy, totalChunks int64) *FECController {
	return &FECController{
		coder:       fec.NewWaveCoder(policy),
		policy:      policy,
		totalChunks: totalChunks,
	}
}

// ObserveWaveLoss feeds the fraction of a just-completed wave's segments
// that were still unset into the adaptive policy, so the next wave's K/R
// (or enablement) can adjust.
func (c *FECController) ObserveWaveLoss(unsetFraction float64) {
	c.coder.ObserveWaveLoss(unsetFraction)
}

// EncodeWaveParity groups segments (already-encrypted FileSegment payloads,
// in ascending segment_id order) into K-sized shards and returns the parity
// FileSegments for each complete group, addressed contiguously starting at
// c.totalChunks. Returns nil if the policy currently has FEC disabled, or
// if there are fewer than K segments to shard (too small a wave to bother).
func (c *FECController) EncodeWaveParity(sessionID uint16, segments []wire.FileSegment) ([]wire.FileSegment, error) {
	enabled, k, _ := c.policy.GetParameters()
	if !enabled || len(segments) < k {
		return nil, nil
	}

	var out []wire.FileSegment
	nextParityID := uint32(c.totalChunks)

	for start := 0; start+k <= len(segments); start += k {
		group := segments[start : start+k]
		shards := make([][]byte, k)
		for i, seg := range group {
			shards[i] = seg.Data
		}
		parity, err := c.coder.EncodeWave(shards)
		if err != nil {
			return nil, err
		}
		for _, p := range parity {
			out = append(out, wire.FileSegment{
				SessionID: sessionID,
				SegmentID: nextParityID,
				Data:      p,
			})
			nextParityID++
		}
	}
	return out, nil
}
