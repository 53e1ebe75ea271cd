package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
)

// SocketConfig describes one server-side media socket.
type SocketConfig struct {
	Kind MediaKind
	// Host is the local bind address; empty binds all interfaces.
	Host string
	Port int
	// MulticastTTL is applied when non-zero.
	MulticastTTL int
	// MulticastLoopback controls whether the host receives its own multicast.
	MulticastLoopback bool
}

// MediaSocket is a lazily opened UDP socket bound to a fixed server port.
// Writes on a socket that is closed or not yet open are silently dropped,
// so a send that races with teardown never faults.
type MediaSocket struct {
	mu     sync.RWMutex
	config SocketConfig
	conn   *net.UDPConn
}

// NewMediaSocket creates a socket description; Open binds it.
func NewMediaSocket(config SocketConfig) *MediaSocket {
	return &MediaSocket{config: config}
}

// Kind returns the media kind served by the socket.
func (m *MediaSocket) Kind() MediaKind { return m.config.Kind }

// Open binds the socket if it is not already bound.
//
// Returns:
//   - error: Bind or socket option failure
func (m *MediaSocket) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil {
		return nil
	}

	addr := net.JoinHostPort(m.config.Host, strconv.Itoa(m.config.Port))
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return fmt.Errorf("resolve %s socket %s: %w", m.config.Kind, addr, err)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "MediaSocket.Open",
			"kind":     m.config.Kind.String(),
			"addr":     addr,
			"error":    err.Error(),
		}).Error("Failed to bind media socket")
		return fmt.Errorf("bind %s socket %s: %w", m.config.Kind, addr, err)
	}

	if m.config.MulticastTTL > 0 {
		pc := ipv4.NewPacketConn(conn)
		if err := pc.SetMulticastTTL(m.config.MulticastTTL); err != nil {
			conn.Close()
			return fmt.Errorf("set multicast ttl on %s socket: %w", m.config.Kind, err)
		}
		if err := pc.SetMulticastLoopback(m.config.MulticastLoopback); err != nil {
			conn.Close()
			return fmt.Errorf("set multicast loopback on %s socket: %w", m.config.Kind, err)
		}
	}

	m.conn = conn

	logrus.WithFields(logrus.Fields{
		"function":   "MediaSocket.Open",
		"kind":       m.config.Kind.String(),
		"local_addr": conn.LocalAddr().String(),
		"ttl":        m.config.MulticastTTL,
	}).Info("Media socket opened")

	return nil
}

// IsOpen reports whether the socket is bound.
func (m *MediaSocket) IsOpen() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn != nil
}

// LocalAddr returns the bound address, or nil when closed.
func (m *MediaSocket) LocalAddr() net.Addr {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn == nil {
		return nil
	}
	return m.conn.LocalAddr()
}

// WriteTo sends a datagram. A closed socket drops the datagram and returns nil.
func (m *MediaSocket) WriteTo(packet []byte, addr net.Addr) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil {
		return nil
	}
	if _, err := conn.WriteTo(packet, addr); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		return fmt.Errorf("send %s to %s: %w", m.config.Kind, addr, err)
	}
	return nil
}

// ReadFrom waits up to timeout for one datagram.
//
// Returns:
//   - int: Bytes read into buf
//   - net.Addr: Sender address
//   - error: ErrClosed when the socket is not open, a timeout net.Error
//     when nothing arrived, or a read error
func (m *MediaSocket) ReadFrom(buf []byte, timeout time.Duration) (int, net.Addr, error) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil {
		return 0, nil, ErrClosed
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	n, addr, err := conn.ReadFrom(buf)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return 0, nil, ErrClosed
		}
		return 0, nil, err
	}
	return n, addr, nil
}

// Close unbinds the socket. Closing a closed socket is a no-op.
func (m *MediaSocket) Close() error {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn == nil {
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "MediaSocket.Close",
		"kind":     m.config.Kind.String(),
	}).Info("Media socket closed")

	return conn.Close()
}

// IsTimeout reports whether err is a read deadline expiry.
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// UDPDestination sends packets as datagrams from a shared media socket to
// one client port or one multicast group.
type UDPDestination struct {
	socket *MediaSocket
	addr   net.Addr
}

// NewUDPDestination creates a datagram destination.
func NewUDPDestination(socket *MediaSocket, addr net.Addr) *UDPDestination {
	return &UDPDestination{socket: socket, addr: addr}
}

// Deliver sends one datagram.
func (d *UDPDestination) Deliver(packet []byte) error {
	return d.socket.WriteTo(packet, d.addr)
}

// Addr returns the remote address.
func (d *UDPDestination) Addr() net.Addr { return d.addr }

// String describes the destination.
func (d *UDPDestination) String() string {
	return fmt.Sprintf("udp %s -> %s", d.socket.Kind(), d.addr)
}
