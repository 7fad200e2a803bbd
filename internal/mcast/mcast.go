// Package mcast implements the DatagramGroup abstraction of spec.md §6 over
// real IP multicast, grounded on the only multicast reference in the
// retrieval pack (a UDP multicast sender/receiver built on
// golang.org/x/net/ipv4; the chosen teacher has no multicast code at all).
// Unlike that reference, FileSegment datagrams here are always
// self-contained and sized by block-size derivation (spec.md §4.5), so
// there is no fragment-reassembly layer.
package mcast

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"sync"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"
)

// Group implements the DatagramGroup interface: join(address, port,
// interface?), send(bytes), receive() -> bytes, leave().
type Group struct {
	conn *net.UDPConn
	pc   *ipv4.PacketConn

	mu     sync.Mutex
	closed bool

	bufSize int
}

// JoinSender opens a send-side Group bound to addr:port, sending to the
// multicast group. ttl controls the multicast TTL (1 restricts delivery to
// the local subnet). ifaceName, if non-empty, pins the outbound interface.
func JoinSender(addr string, port int, ifaceName string, ttl int) (*Group, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		return nil, fmt.Errorf("resolve multicast address: %w", err)
	}
	conn, err := net.DialUDP("udp4", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("dial multicast: %w", err)
	}
	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(ttl); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set multicast ttl: %w", err)
	}
	_ = pc.SetMulticastLoopback(true)
	if ifaceName != "" {
		ifi, err := net.InterfaceByName(ifaceName)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("resolve interface %q: %w", ifaceName, err)
		}
		if err := pc.SetMulticastInterface(ifi); err != nil {
			conn.Close()
			return nil, fmt.Errorf("bind multicast interface %q: %w", ifaceName, err)
		}
	}
	return &Group{conn: conn, pc: pc}, nil
}

// JoinReceiver binds :port and joins the multicast group addr on ifaceName
// (or the first multicast-capable, non-loopback interface if ifaceName is
// empty), with SO_REUSEADDR/SO_REUSEPORT so multiple receivers can share a
// host.
func JoinReceiver(addr string, port int, ifaceName string, bufSize int) (*Group, error) {
	ifi, err := resolveInterface(ifaceName)
	if err != nil {
		return nil, err
	}

	lc := net.ListenConfig{Control: reuseAddrAndPort}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("unexpected packet conn type %T", pc)
	}
	if bufSize > 0 {
		_ = conn.SetReadBuffer(bufSize)
	}

	ipc := ipv4.NewPacketConn(conn)
	_ = ipc.SetMulticastLoopback(true)

	mip := net.ParseIP(addr)
	if mip == nil {
		conn.Close()
		return nil, fmt.Errorf("invalid multicast address %q", addr)
	}
	if ifi != nil {
		if err := ipc.JoinGroup(ifi, &net.UDPAddr{IP: mip}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("join multicast group %s on %s: %w", addr, ifi.Name, err)
		}
	} else {
		ifaces, err := net.Interfaces()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("enumerate interfaces: %w", err)
		}
		joined := false
		for _, candidate := range ifaces {
			if !multicastCapable(candidate) {
				continue
			}
			if err := ipc.JoinGroup(&candidate, &net.UDPAddr{IP: mip}); err == nil {
				joined = true
				break
			}
		}
		if !joined {
			conn.Close()
			return nil, fmt.Errorf("join multicast group %s: no usable interface", addr)
		}
	}

	if bufSize <= 0 {
		bufSize = 65536
	}
	return &Group{conn: conn, pc: ipc, bufSize: bufSize}, nil
}

func multicastCapable(ifi net.Interface) bool {
	return ifi.Flags&net.FlagUp != 0 && ifi.Flags&net.FlagMulticast != 0 && ifi.Flags&net.FlagLoopback == 0
}

func resolveInterface(name string) (*net.Interface, error) {
	if name == "" {
		return nil, nil
	}
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("resolve interface %q: %w", name, err)
	}
	return ifi, nil
}

func reuseAddrAndPort(_, _ string, c syscall.RawConn) error {
	var ctrlErr error
	err := c.Control(func(fd uintptr) {
		if e := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); e != nil {
			ctrlErr = e
			return
		}
		if runtime.GOOS != "windows" {
			if e := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEPORT, 1); e != nil {
				ctrlErr = e
			}
		}
	})
	if err != nil {
		return err
	}
	return ctrlErr
}

// Send writes one datagram to the multicast group. C10's worker pool is the
// single writer per spec.md §5; Send itself does not serialize callers.
func (g *Group) Send(b []byte) error {
	_, err := g.conn.Write(b)
	return err
}

// Receive blocks for the next datagram, honoring ctx cancellation via
// SetReadDeadline polling.
func (g *Group) Receive(ctx context.Context) ([]byte, error) {
	buf := make([]byte, g.readBufSize())
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_ = g.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, err := g.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return nil, err
		}
		out := make([]byte, n)
		copy(out, buf[:n])
		return out, nil
	}
}

func (g *Group) readBufSize() int {
	if g.bufSize > 0 {
		return g.bufSize
	}
	return 65536
}

// Leave closes the group's socket. Safe to call more than once.
func (g *Group) Leave() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	if g.pc != nil {
		_ = g.pc.Close()
	}
	return g.conn.Close()
}
