package server

import (
	"bufio"
	"io"
	"net"

	"github.com/quantarax/mcastxfer/internal/wire"
)

// wireChannel adapts a byte stream (plaintext net.Conn or a TLS-wrapped
// secure.Channel) into the ControlChannel interface Session/Receiver use,
// framing every message through internal/wire. The bufio.Reader is created
// once and kept for the channel's lifetime: wire.Decode requires a stable
// io.ByteReader across calls, since a single Read can return more than one
// pipelined frame's worth of bytes (a coalesced TCP segment or TLS record),
// and a fresh *bufio.Reader per call would discard whatever it buffered
// past the frame it was asked to decode.
type wireChannel struct {
	rw         io.ReadWriteCloser
	br         *bufio.Reader
	remoteAddr string
}

func newWireChannel(rw io.ReadWriteCloser, remoteAddr string) *wireChannel {
	return &wireChannel{rw: rw, br: bufio.NewReader(rw), remoteAddr: remoteAddr}
}

func (c *wireChannel) Send(m wire.Message) error {
	return wire.Encode(c.rw, m)
}

func (c *wireChannel) Receive() (wire.Message, error) {
	return wire.Decode(c.br)
}

func (c *wireChannel) Close() error {
	return c.rw.Close()
}

func (c *wireChannel) RemoteAddr() string {
	return c.remoteAddr
}

func remoteAddrOf(conn net.Conn) string {
	if conn == nil || conn.RemoteAddr() == nil {
		return ""
	}
	return conn.RemoteAddr().String()
}
