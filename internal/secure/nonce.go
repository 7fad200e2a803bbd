package secure

import "encoding/binary"

// DeriveNonce XORs the first 8 bytes of ivBase with a little-endian counter
// and leaves the remaining 4 bytes unchanged, giving a deterministic,
// per-counter-unique 12-byte GCM nonce.
func DeriveNonce(ivBase [12]byte, counter uint64) [12]byte {
	var nonce [12]byte
	var counterBytes [8]byte
	binary.LittleEndian.PutUint64(counterBytes[:], counter)
	for i := 0; i < 8; i++ {
		nonce[i] = ivBase[i] ^ counterBytes[i]
	}
	copy(nonce[8:12], ivBase[8:12])
	return nonce
}

// DeriveSegmentNonce uses the segment_id as the counter.
func DeriveSegmentNonce(ivBase [12]byte, segmentID uint32) [12]byte {
	return DeriveNonce(ivBase, uint64(segmentID))
}

// DeriveControlNonce offsets the counter by the high bit so control-channel
// nonces never collide with segment nonces under the same IVBase.
func DeriveControlNonce(ivBase [12]byte, messageCounter uint32) [12]byte {
	const controlOffset = uint64(1) << 63
	return DeriveNonce(ivBase, controlOffset|uint64(messageCounter))
}
