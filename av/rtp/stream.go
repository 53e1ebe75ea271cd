package rtp

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

// Static payload types and clock rates used by the media plane.
const (
	PayloadTypeJPEG      uint8 = 26
	PayloadTypePCMU      uint8 = 0
	PayloadTypePCMA      uint8 = 8
	PayloadTypeL16       uint8 = 97
	PayloadTypeT140      uint8 = 98
	PayloadTypeOpus      uint8 = 111
	VideoClockRate             = 90000
	SubtitleClockRate          = 1000
	DefaultAudioRate           = 8000
	subtitleTimestampStep      = 1000
)

// TimeProvider abstracts wall clock access so the video timestamp and the
// frame-rate meter can be driven deterministically in tests.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider reads the system clock.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the elapsed time since t.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// Stream is the per-media RTP state: a wrapping sequence number, a running
// timestamp and a fixed SSRC. All mutation happens under mu, so the packets
// of one frame always carry contiguous sequence numbers even when several
// producers share the stream.
//
// The sent flag implements one-in-flight backpressure for producers: it is
// cleared by BeginSend and set again by EndSend.
type Stream struct {
	mu          sync.Mutex
	name        string
	ssrc        uint32
	payloadType uint8
	sequence    uint16
	timestamp   uint32
	started     bool
	packets     uint64
	octets      uint64

	sent atomic.Bool
}

// NewStream creates stream state for one medium.
//
// Parameters:
//   - name: Stream label used in logs ("video", "audio", "subtitles")
//   - payloadType: RTP payload type stamped on every packet
//   - ssrc: Fixed synchronization source for the server lifetime
//
// Returns:
//   - *Stream: New stream with sequence and timestamp at zero
func NewStream(name string, payloadType uint8, ssrc uint32) *Stream {
	s := &Stream{
		name:        name,
		ssrc:        ssrc,
		payloadType: payloadType,
	}
	s.sent.Store(true)

	logrus.WithFields(logrus.Fields{
		"function":     "NewStream",
		"stream":       name,
		"payload_type": payloadType,
		"ssrc":         ssrc,
	}).Debug("RTP stream state created")

	return s
}

// Name returns the stream label.
func (s *Stream) Name() string { return s.name }

// SSRC returns the fixed synchronization source.
func (s *Stream) SSRC() uint32 { return s.ssrc }

// PayloadType returns the payload type stamped on packets.
func (s *Stream) PayloadType() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payloadType
}

// SetPayloadType changes the payload type for subsequent packets. Used when
// the audio output codec is reconfigured.
func (s *Stream) SetPayloadType(pt uint8) {
	s.mu.Lock()
	s.payloadType = pt
	s.mu.Unlock()
}

// Sequence returns the sequence number the next packet will carry.
func (s *Stream) Sequence() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequence
}

// Timestamp returns the current running timestamp.
func (s *Stream) Timestamp() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timestamp
}

// BeginSend clears the sent flag.
func (s *Stream) BeginSend() { s.sent.Store(false) }

// EndSend sets the sent flag.
func (s *Stream) EndSend() { s.sent.Store(true) }

// Sent reports whether the previous send has completed.
func (s *Stream) Sent() bool { return s.sent.Load() }

// Statistics is a snapshot of the stream counters.
type Statistics struct {
	PacketsSent uint64 `json:"packets_sent"`
	OctetsSent  uint64 `json:"octets_sent"`
	Sequence    uint16 `json:"sequence"`
	Timestamp   uint32 `json:"timestamp"`
}

// Statistics returns the stream counters.
func (s *Stream) Statistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Statistics{
		PacketsSent: s.packets,
		OctetsSent:  s.octets,
		Sequence:    s.sequence,
		Timestamp:   s.timestamp,
	}
}

// marshalLocked builds one packet with the current header state and
// advances the sequence number. Caller must hold mu.
func (s *Stream) marshalLocked(marker bool, payload []byte) ([]byte, error) {
	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    s.payloadType,
			SequenceNumber: s.sequence,
			Timestamp:      s.timestamp,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}

	data, err := packet.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal %s packet: %w", s.name, err)
	}

	s.sequence++
	s.packets++
	s.octets += uint64(len(payload))
	return data, nil
}
