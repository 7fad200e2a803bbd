package fec

import "fmt"

// WaveCoder ties Encoder/Decoder/AdaptivePolicy together into the optional,
// disabled-by-default per-wave parity enrichment (D1): the sender shards a
// wave's segment set into K data shards and R parity shards, multicasts the
// parity shards alongside the data, and AdaptivePolicy widens or narrows R
// from one wave to the next based on the receiver-side loss a wave actually
// measured (the fraction of a wave's segments a receiver's BitVector still
// has unset when the wave closes) — not a generic network-conditions signal,
// since this protocol has no other source of loss short of that count.
type WaveCoder struct {
	policy *AdaptivePolicy
}

// NewWaveCoder builds a WaveCoder around the given adaptive policy.
func NewWaveCoder(policy *AdaptivePolicy) *WaveCoder {
	return &WaveCoder{policy: policy}
}

// EncodeWave shards a wave's segment payloads into parity shards at the
// policy's current K/R, returning nil (no parity emitted) when the policy
// is currently disabled.
func (w *WaveCoder) EncodeWave(segments [][]byte) ([][]byte, error) {
	enabled, k, r := w.policy.GetParameters()
	if !enabled {
		return nil, nil
	}
	if len(segments) != k {
		return nil, fmt.Errorf("fec: wave has %d segments, policy expects k=%d", len(segments), k)
	}
	enc, err := NewEncoder(k, r)
	if err != nil {
		return nil, err
	}
	return enc.Encode(segments)
}

// ReconstructWave recovers missing data segments given the data shards
// (with gaps left as nil for segments the receiver never got) followed by
// the parity shards this wave carried.
func (w *WaveCoder) ReconstructWave(dataShards, parityShards [][]byte) error {
	_, k, r := w.policy.GetParameters()
	all := make([][]byte, 0, k+r)
	all = append(all, dataShards...)
	all = append(all, parityShards...)
	dec, err := NewDecoder(k, r)
	if err != nil {
		return err
	}
	if err := dec.Reconstruct(all); err != nil {
		return err
	}
	copy(dataShards, all[:k])
	return nil
}

// ObserveWaveLoss reports the fraction of a just-closed wave's segments a
// receiver population still had unset, driving AdaptivePolicy's hysteresis.
func (w *WaveCoder) ObserveWaveLoss(unsetFraction float64) {
	w.policy.Update(unsetFraction * 100)
}
