package rtsp

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/opd-ai/rtspcast/limits"
	"github.com/opd-ai/rtspcast/transport"
)

// ErrRequestTooLarge is returned when a request exceeds limits.MaxRequestSize.
var ErrRequestTooLarge = errors.New("request too large")

// Message is one unit read from a control connection: either a textual
// request or an interleaved binary frame.
type Message struct {
	// Raw holds the request head and body for textual messages.
	Raw []byte

	Interleaved bool
	Channel     uint8
	Payload     []byte
}

// ReadMessage reads the next message from a control connection. It only
// frames bytes; nothing is interpreted beyond the header terminator and
// Content-Length.
//
// A tunnel POST head is returned without its body: the declared length is a
// placeholder for the Base64 stream that follows, which the caller reads
// through NewTunnelReader.
func ReadMessage(r *bufio.Reader) (Message, error) {
	first, err := r.Peek(1)
	if err != nil {
		return Message{}, err
	}
	if first[0] == '$' {
		channel, payload, err := transport.ReadInterleavedFrame(r)
		if err != nil {
			return Message{}, err
		}
		return Message{Interleaved: true, Channel: channel, Payload: payload}, nil
	}

	head, err := readHead(r)
	if err != nil {
		return Message{}, err
	}
	if IsTunnelPost(head) {
		return Message{Raw: head}, nil
	}

	length := contentLength(head)
	if length < 0 || len(head)+length > limits.MaxRequestSize {
		return Message{}, fmt.Errorf("%w: body of %d bytes", ErrRequestTooLarge, length)
	}
	if length == 0 {
		return Message{Raw: head}, nil
	}
	raw := make([]byte, len(head)+length)
	copy(raw, head)
	if _, err := io.ReadFull(r, raw[len(head):]); err != nil {
		return Message{}, err
	}
	return Message{Raw: raw}, nil
}

// readHead reads up to and including the blank line ending the headers.
// Leading blank lines between requests are skipped.
func readHead(r *bufio.Reader) ([]byte, error) {
	var head []byte
	for {
		line, err := r.ReadSlice('\n')
		if err != nil {
			if errors.Is(err, bufio.ErrBufferFull) {
				return nil, ErrRequestTooLarge
			}
			return nil, err
		}
		if len(head) == 0 && (len(line) == 1 || (len(line) == 2 && line[0] == '\r')) {
			continue
		}
		head = append(head, line...)
		if len(head) > limits.MaxRequestSize {
			return nil, ErrRequestTooLarge
		}
		if len(line) == 1 || (len(line) == 2 && line[0] == '\r') {
			return head, nil
		}
	}
}

func contentLength(head []byte) int {
	for _, line := range strings.Split(string(head), "\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return -1
		}
		return n
	}
	return 0
}

// IsTunnelPost reports whether a request head opens the client-to-server
// half of an HTTP tunnel.
func IsTunnelPost(head []byte) bool {
	return bytes.HasPrefix(head, []byte("POST "))
}

// tunnelReader decodes the Base64 stream of a tunnel POST connection. Each
// 4-character quantum is decoded on its own, so requests that were encoded
// separately and carry their own padding can be concatenated.
type tunnelReader struct {
	src     io.Reader
	pending []byte
	out     []byte
	buf     []byte
}

// NewTunnelReader returns a reader yielding the decoded bytes of a tunnel
// POST stream. Whitespace between quanta is ignored.
func NewTunnelReader(src io.Reader) io.Reader {
	return &tunnelReader{src: src, buf: make([]byte, 1024)}
}

func (t *tunnelReader) Read(p []byte) (int, error) {
	for len(t.out) == 0 {
		n, err := t.src.Read(t.buf)
		for _, c := range t.buf[:n] {
			if c == '\r' || c == '\n' || c == ' ' || c == '\t' {
				continue
			}
			t.pending = append(t.pending, c)
		}
		for len(t.pending) >= 4 {
			var quantum [3]byte
			m, derr := base64.StdEncoding.Decode(quantum[:], t.pending[:4])
			if derr != nil {
				return 0, fmt.Errorf("decode tunnel data: %w", derr)
			}
			t.out = append(t.out, quantum[:m]...)
			t.pending = t.pending[4:]
		}
		if err != nil {
			if len(t.out) > 0 {
				break
			}
			return 0, err
		}
	}
	n := copy(p, t.out)
	t.out = t.out[n:]
	return n, nil
}
