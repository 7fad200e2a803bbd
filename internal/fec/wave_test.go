package fec

import (
	"bytes"
	"testing"
	"time"
)

func TestWaveCoderDisabledByDefaultEmitsNoParity(t *testing.T) {
	policy := NewAdaptivePolicy(DefaultPolicyConfig())
	coder := NewWaveCoder(policy)

	segments := make([][]byte, policy.defaultK)
	for i := range segments {
		segments[i] = make([]byte, 32)
	}
	parity, err := coder.EncodeWave(segments)
	if err != nil {
		t.Fatalf("EncodeWave: %v", err)
	}
	if parity != nil {
		t.Fatalf("expected no parity shards while the policy is disabled, got %d", len(parity))
	}
}

func TestWaveCoderEncodeReconstructAfterLossTriggersEnable(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.MinObservation = 0
	policy := NewAdaptivePolicy(cfg)
	coder := NewWaveCoder(policy)

	// Repeated high loss observations push the policy past EnableThreshold.
	for i := 0; i < 5; i++ {
		coder.ObserveWaveLoss(0.05)
		time.Sleep(time.Millisecond)
	}
	enabled, k, r := policy.GetParameters()
	if !enabled {
		t.Fatal("expected policy to enable FEC after sustained loss")
	}

	segments := make([][]byte, k)
	for i := range segments {
		segments[i] = bytes.Repeat([]byte{byte(i + 1)}, 16)
	}
	parity, err := coder.EncodeWave(segments)
	if err != nil {
		t.Fatalf("EncodeWave: %v", err)
	}
	if len(parity) != r {
		t.Fatalf("expected %d parity shards, got %d", r, len(parity))
	}

	lost := make([][]byte, k)
	copy(lost, segments)
	lost[0] = nil
	if err := coder.ReconstructWave(lost, parity); err != nil {
		t.Fatalf("ReconstructWave: %v", err)
	}
	if !bytes.Equal(lost[0], segments[0]) {
		t.Fatal("reconstructed segment does not match original")
	}
}
