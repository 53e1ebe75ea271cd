package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/rtspcast/limits"
)

// DefaultWriteTimeout bounds every write on a control connection so a
// stalled peer cannot block the caller.
const DefaultWriteTimeout = 5 * time.Second

// interleavedMagic starts every interleaved frame.
const interleavedMagic = '$'

// ConnWriter serializes writes on a control connection. RTSP responses from
// the control loop and interleaved media from producers share the same
// connection, so every write takes the lock and carries a deadline.
type ConnWriter struct {
	mu      sync.Mutex
	conn    net.Conn
	timeout time.Duration
}

// NewConnWriter wraps conn. A zero timeout selects DefaultWriteTimeout.
func NewConnWriter(conn net.Conn, timeout time.Duration) *ConnWriter {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &ConnWriter{conn: conn, timeout: timeout}
}

// Conn returns the wrapped connection.
func (w *ConnWriter) Conn() net.Conn { return w.conn }

// Write writes b fully under the write deadline.
func (w *ConnWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeLocked(b)
}

func (w *ConnWriter) writeLocked(b []byte) (int, error) {
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
	n, err := w.conn.Write(b)
	_ = w.conn.SetWriteDeadline(time.Time{})
	if err != nil {
		return n, fmt.Errorf("write to %s: %w", w.conn.RemoteAddr(), err)
	}
	return n, nil
}

// WriteInterleaved frames packet with the "$ channel length" prefix and
// writes it as one unit.
func (w *ConnWriter) WriteInterleaved(channel uint8, packet []byte) error {
	frame, err := FrameInterleaved(channel, packet)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// Close closes the underlying connection.
func (w *ConnWriter) Close() error {
	return w.conn.Close()
}

// FrameInterleaved builds the interleaved wire form of an RTP packet.
// Packets longer than the 16-bit length field are rejected.
func FrameInterleaved(channel uint8, packet []byte) ([]byte, error) {
	if err := limits.ValidateInterleaved(packet); err != nil {
		return nil, err
	}
	frame := make([]byte, limits.InterleavedHeaderSize+len(packet))
	frame[0] = interleavedMagic
	frame[1] = channel
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(packet)))
	copy(frame[limits.InterleavedHeaderSize:], packet)
	return frame, nil
}

// ReadInterleavedFrame reads one interleaved frame from r. The caller must
// have peeked the '$' byte; any other leading byte yields ErrNotInterleaved.
func ReadInterleavedFrame(r *bufio.Reader) (uint8, []byte, error) {
	var header [limits.InterleavedHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	if header[0] != interleavedMagic {
		return 0, nil, fmt.Errorf("%w: leading byte %#x", ErrNotInterleaved, header[0])
	}
	length := binary.BigEndian.Uint16(header[2:4])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return header[1], payload, nil
}

// InterleavedDestination carries packets inside a client's control
// connection, or inside the GET half of an HTTP tunnel.
type InterleavedDestination struct {
	writer  *ConnWriter
	channel uint8
}

// NewInterleavedDestination creates an interleaved destination.
func NewInterleavedDestination(writer *ConnWriter, channel uint8) *InterleavedDestination {
	return &InterleavedDestination{writer: writer, channel: channel}
}

// Deliver writes one framed packet.
func (d *InterleavedDestination) Deliver(packet []byte) error {
	return d.writer.WriteInterleaved(d.channel, packet)
}

// Channel returns the interleaved channel number.
func (d *InterleavedDestination) Channel() uint8 { return d.channel }

// String describes the destination.
func (d *InterleavedDestination) String() string {
	return fmt.Sprintf("interleaved ch=%d -> %s", d.channel, d.writer.conn.RemoteAddr())
}
