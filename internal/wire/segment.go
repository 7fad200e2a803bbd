package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/quantarax/mcastxfer/internal/errs"
)

// FileSegment is the multicast-only message: server -> group. It does not
// use the tagged control-channel codec above; its header is a small fixed
// binary layout so its size is tightly controlled against block_size
// (spec §4.5).
const (
	SegmentMagic      uint32 = 0x4D435354 // "MCST"
	SegmentVersion    uint8  = 1
	SegmentHeaderSize        = 4 + 1 + 2 + 4 // magic + version + sessionID + segmentID
)

type FileSegment struct {
	SessionID uint16
	SegmentID uint32
	Data      []byte
}

// EncodeSegment renders a FileSegment as magic(4) + version(1) +
// sessionID(2) + segmentID(4) + data, all big-endian.
func EncodeSegment(m FileSegment) []byte {
	buf := make([]byte, SegmentHeaderSize+len(m.Data))
	binary.BigEndian.PutUint32(buf[0:4], SegmentMagic)
	buf[4] = SegmentVersion
	binary.BigEndian.PutUint16(buf[5:7], m.SessionID)
	binary.BigEndian.PutUint32(buf[7:11], m.SegmentID)
	copy(buf[SegmentHeaderSize:], m.Data)
	return buf
}

// DecodeSegment parses a datagram produced by EncodeSegment.
func DecodeSegment(b []byte) (FileSegment, error) {
	if len(b) < SegmentHeaderSize {
		return FileSegment{}, fmt.Errorf("%w: segment shorter than header", errs.ErrMalformedFrame)
	}
	if magic := binary.BigEndian.Uint32(b[0:4]); magic != SegmentMagic {
		return FileSegment{}, fmt.Errorf("%w: bad segment magic %x", errs.ErrMalformedFrame, magic)
	}
	if version := b[4]; version != SegmentVersion {
		return FileSegment{}, fmt.Errorf("%w: unsupported segment version %d", errs.ErrMalformedFrame, version)
	}
	data := make([]byte, len(b)-SegmentHeaderSize)
	copy(data, b[SegmentHeaderSize:])
	return FileSegment{
		SessionID: binary.BigEndian.Uint16(b[5:7]),
		SegmentID: binary.BigEndian.Uint32(b[7:11]),
		Data:      data,
	}, nil
}
