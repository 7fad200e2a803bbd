package client

import (
	"bufio"
	"io"
	"net"

	"github.com/quantarax/mcastxfer/internal/wire"
)

// ControlChannel is the receiver's view of the per-connection control
// stream: the same framed request/response surface the server exposes,
// mirrored here so the handshake and engine code doesn't depend on
// daemon/server.
type ControlChannel interface {
	Send(m wire.Message) error
	Receive() (wire.Message, error)
	Close() error
}

// wireChannel adapts a byte stream (plaintext net.Conn or a TLS-wrapped
// secure.Channel) into ControlChannel by framing every message through
// internal/wire, mirrored from daemon/server's wireChannel. The
// bufio.Reader is created once and reused for every Receive so wire.Decode
// sees a stable io.ByteReader across calls; see daemon/server's wireChannel
// for why a reader can't be recreated per call.
type wireChannel struct {
	rw io.ReadWriteCloser
	br *bufio.Reader
}

func newWireChannel(rw io.ReadWriteCloser) *wireChannel {
	return &wireChannel{rw: rw, br: bufio.NewReader(rw)}
}

// newWireChannelFromReader builds a wireChannel around an rw whose leading
// bytes may already have been buffered by br (e.g. the pre-TLS Challenge
// read in Join), so that buffering carries forward instead of being
// silently dropped by a second, independent bufio.Reader over the same
// stream.
func newWireChannelFromReader(rw io.ReadWriteCloser, br *bufio.Reader) *wireChannel {
	return &wireChannel{rw: rw, br: br}
}

func (c *wireChannel) Send(m wire.Message) error      { return wire.Encode(c.rw, m) }
func (c *wireChannel) Receive() (wire.Message, error) { return wire.Decode(c.br) }
func (c *wireChannel) Close() error                   { return c.rw.Close() }

func remoteAddrOf(conn net.Conn) string {
	if conn == nil || conn.RemoteAddr() == nil {
		return ""
	}
	return conn.RemoteAddr().String()
}
