// Package wire implements the control-channel binary framing: a one-byte
// tag per message, varint-encoded integers, and length-prefixed byte
// strings. It has no notion of a transport; callers frame it onto an
// ordered byte stream (see daemon/server and daemon/client).
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/quantarax/mcastxfer/internal/errs"
)

// Tag identifies a message variant on the control channel. Tag numbers are
// fixed once assigned; changing them breaks wire compatibility.
type Tag uint8

const (
	TagChallenge Tag = iota + 1
	TagChallengeResponse
	TagResponse
	TagSessionJoinRequest
	TagSessionJoinResponse
	TagPacketStatusUpdate
	TagPacketStatusUpdateResponse
	TagWaveStatusUpdate
	TagWaveCompleteResponse
)

// Message is any value this package knows how to encode/decode.
type Message interface {
	tag() Tag
	encode(w *writer)
	decode(r *reader) error
}

// Encode writes a length-independent tagged record for m to w: one tag byte
// followed by m's fields. The control channel itself supplies record
// boundaries (an ordered byte stream), so no outer length prefix is added.
func Encode(w io.Writer, m Message) error {
	bw := &writer{w: bufio.NewWriter(w)}
	bw.putUint8(uint8(m.tag()))
	m.encode(bw)
	return bw.flush()
}

// Decode reads one tagged record from r and returns the decoded Message.
// r must be the same io.ByteReader across every call for one connection
// (e.g. a *bufio.Reader the caller keeps alive for the connection's
// lifetime): Decode never reads more than one message's worth of bytes,
// but anything r buffered ahead of that on the wire has to survive to the
// next call, or pipelined frames get silently dropped.
func Decode(r io.ByteReader) (Message, error) {
	br := &reader{r: r}
	tagByte, err := br.getUint8()
	if err != nil {
		return nil, fmt.Errorf("%w: reading tag: %v", errs.ErrMalformedFrame, err)
	}
	m, err := newMessage(Tag(tagByte))
	if err != nil {
		return nil, err
	}
	if err := m.decode(br); err != nil {
		return nil, err
	}
	return m, nil
}

func newMessage(t Tag) (Message, error) {
	switch t {
	case TagChallenge:
		return &Challenge{}, nil
	case TagChallengeResponse:
		return &ChallengeResponse{}, nil
	case TagResponse:
		return &Response{}, nil
	case TagSessionJoinRequest:
		return &SessionJoinRequest{}, nil
	case TagSessionJoinResponse:
		return &SessionJoinResponse{}, nil
	case TagPacketStatusUpdate:
		return &PacketStatusUpdate{}, nil
	case TagPacketStatusUpdateResponse:
		return &PacketStatusUpdateResponse{}, nil
	case TagWaveStatusUpdate:
		return &WaveStatusUpdate{}, nil
	case TagWaveCompleteResponse:
		return &WaveCompleteResponse{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown tag %d", errs.ErrMalformedFrame, t)
	}
}

// writer accumulates the field encoding for one message.
type writer struct {
	w   *bufio.Writer
	err error
}

func (w *writer) putUint8(v uint8) {
	if w.err != nil {
		return
	}
	w.err = w.w.WriteByte(v)
}

func (w *writer) putVarint(v int64) {
	w.putUvarint(encodeZigzag(v))
}

func (w *writer) putUvarint(v uint64) {
	if w.err != nil {
		return
	}
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	_, w.err = w.w.Write(buf[:n])
}

func (w *writer) putFloat64(v float64) {
	w.putUvarint(math.Float64bits(v))
}

func (w *writer) putBool(v bool) {
	if v {
		w.putUint8(1)
	} else {
		w.putUint8(0)
	}
}

func (w *writer) putBytes(b []byte) {
	w.putUvarint(uint64(len(b)))
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(b)
}

func (w *writer) putString(s string) {
	w.putBytes([]byte(s))
}

func (w *writer) flush() error {
	if w.err != nil {
		return w.err
	}
	return w.w.Flush()
}

// reader consumes the field encoding for one message.
type reader struct {
	r   io.ByteReader
	err error
}

func (r *reader) getUint8() (uint8, error) {
	return r.r.ReadByte()
}

func (r *reader) getVarint() (int64, error) {
	v, err := r.getUvarint()
	if err != nil {
		return 0, err
	}
	return decodeZigzag(v), nil
}

func (r *reader) getUvarint() (uint64, error) {
	v, err := binary.ReadUvarint(r.r)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrMalformedFrame, err)
	}
	return v, nil
}

func (r *reader) getFloat64() (float64, error) {
	bits, err := r.getUvarint()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}

func (r *reader) getBool() (bool, error) {
	b, err := r.getUint8()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errs.ErrMalformedFrame, err)
	}
	return b != 0, nil
}

func (r *reader) getBytes() ([]byte, error) {
	n, err := r.getUvarint()
	if err != nil {
		return nil, err
	}
	if n > 1<<32 {
		return nil, fmt.Errorf("%w: absurd length %d", errs.ErrMalformedFrame, n)
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	for i := range buf {
		b, err := r.r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: truncated byte string: %v", errs.ErrMalformedFrame, err)
		}
		buf[i] = b
	}
	return buf, nil
}

func (r *reader) getString() (string, error) {
	b, err := r.getBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func encodeZigzag(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func decodeZigzag(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}
