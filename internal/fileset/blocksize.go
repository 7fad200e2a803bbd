package fileset

import "github.com/quantarax/mcastxfer/internal/errs"

const (
	ipv4HeaderSize  = 20
	udpHeaderSize   = 8
	segmentOverhead = 11 // wire.SegmentHeaderSize: magic+version+session_id+segment_id
	aeadTagSize     = 16 // AES-256-GCM authentication tag
)

// DeriveBlockSize implements spec.md §4.5's block-size derivation: the
// largest chunk payload that still fits in one MTU-sized datagram once IP,
// UDP, segment framing and (when encryption is in play) the AEAD tag are
// subtracted. encrypted selects whether the AEAD tag allowance applies;
// callers always pass true in this protocol, since every payload session
// is sealed under a PSK-derived PayloadKey. The result is one subtraction
// of a fixed overhead that assumes a 20-byte IPv4 header; a caller sending
// over IPv6 reduces mtu by the extra header bytes before calling.
func DeriveBlockSize(mtu int, encrypted bool) (int, error) {
	overhead := ipv4HeaderSize + udpHeaderSize + segmentOverhead
	if encrypted {
		overhead += aeadTagSize
	}
	rawBlock := mtu - overhead
	if rawBlock <= 0 {
		return 0, errs.ErrConfigInvalid
	}
	return rawBlock, nil
}
