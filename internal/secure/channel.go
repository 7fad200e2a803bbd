package secure

import (
	"context"
	"crypto/tls"
	"io"
	"net"
)

// Channel is the SecureChannel abstraction of spec.md §6: an established
// byte stream, optionally TLS-wrapped. ControlChannel (daemon/server,
// daemon/client) is generic over it.
type Channel interface {
	io.ReadWriteCloser
}

// Plaintext wraps a net.Conn with no TLS. The daemons' no-pass-phrase path
// passes the net.Conn itself rather than this wrapper.
type Plaintext struct {
	net.Conn
}

// WrapServer upgrades conn to TLS using the server's deterministic identity,
// handshaking eagerly so a pass-phrase mismatch surfaces at Accept time
// rather than on first Read/Write.
func WrapServer(conn net.Conn, cfg *tls.Config) (Channel, error) {
	tlsConn := tls.Server(conn, cfg)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return nil, err
	}
	return tlsConn, nil
}

// WrapClient upgrades conn to TLS using the receiver's deterministic
// identity.
func WrapClient(conn net.Conn, cfg *tls.Config) (Channel, error) {
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return nil, err
	}
	return tlsConn, nil
}
