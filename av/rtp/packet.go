package rtp

import (
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/rtspcast/limits"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

var (
	// ErrShortPacket is returned when a buffer is smaller than the fixed RTP header.
	ErrShortPacket = errors.New("rtp packet shorter than header")
	// ErrBadVersion is returned when the version field is not 2.
	ErrBadVersion = errors.New("rtp version is not 2")
	// ErrBadDimensions is returned for JPEG sizes that cannot be expressed in 8 pixel units.
	ErrBadDimensions = errors.New("invalid jpeg dimensions")
	// ErrBadQuality is returned for a JPEG quality outside 0-255.
	ErrBadQuality = errors.New("invalid jpeg quality")
	// ErrMisaligned is returned when an audio payload is not a whole number of samples.
	ErrMisaligned = errors.New("audio payload not sample aligned")
	// ErrBadJPEGType is returned for an RFC 2435 type other than 0 or 1.
	ErrBadJPEGType = errors.New("unsupported jpeg type")
)

// RFC 2435 JPEG types describing the chroma subsampling of the scan.
const (
	JPEGType422 uint8 = 0
	JPEGType420 uint8 = 1
)

// maxJPEGDimension is the largest width or height expressible in the
// RFC 2435 header (255 blocks of 8 pixels).
const maxJPEGDimension = 255 * 8

// VideoPacketizer fragments motion-JPEG frames into RFC 2435 packets.
//
// The timestamp advances once per frame by the wall clock time elapsed since
// the previous frame, scaled to the 90 kHz clock. Every fragment advances the
// sequence number and only the final fragment carries the marker bit.
type VideoPacketizer struct {
	stream   *Stream
	clock    TimeProvider
	jpegType uint8

	lastFrame   time.Time
	windowStart time.Time
	frames      int
	fps         float64
}

// NewVideoPacketizer creates a video packetizer over the given stream.
//
// Parameters:
//   - stream: Video stream state (payload type 26)
//   - clock: Time source; nil selects DefaultTimeProvider
//
// Returns:
//   - *VideoPacketizer: New packetizer
func NewVideoPacketizer(stream *Stream, clock TimeProvider) *VideoPacketizer {
	if clock == nil {
		clock = DefaultTimeProvider{}
	}
	return &VideoPacketizer{stream: stream, clock: clock}
}

// Stream returns the underlying stream state.
func (vp *VideoPacketizer) Stream() *Stream { return vp.stream }

// SetType selects the RFC 2435 type written into every packet. Cameras
// emitting 4:2:2 scans use JPEGType422, the default; encoders producing
// 4:2:0 scans use JPEGType420.
func (vp *VideoPacketizer) SetType(jpegType uint8) error {
	if jpegType != JPEGType422 && jpegType != JPEGType420 {
		return fmt.Errorf("%w: %d", ErrBadJPEGType, jpegType)
	}
	vp.stream.mu.Lock()
	vp.jpegType = jpegType
	vp.stream.mu.Unlock()
	return nil
}

// Packetize converts one JPEG frame into wire packets.
//
// Parameters:
//   - jpeg: Entropy coded JPEG scan data
//   - quality: RFC 2435 Q value
//   - width, height: Frame dimensions in pixels
//
// Returns:
//   - [][]byte: Marshaled RTP packets in send order
//   - error: Validation or marshal error. A frame that fails validation
//     leaves the stream state untouched.
func (vp *VideoPacketizer) Packetize(jpeg []byte, quality, width, height int) ([][]byte, error) {
	if err := limits.ValidateVideoFrame(jpeg); err != nil {
		return nil, err
	}
	if quality < 0 || quality > 255 {
		return nil, fmt.Errorf("%w: %d", ErrBadQuality, quality)
	}
	if width <= 0 || height <= 0 || width > maxJPEGDimension || height > maxJPEGDimension ||
		width%8 != 0 || height%8 != 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrBadDimensions, width, height)
	}

	vp.stream.mu.Lock()
	defer vp.stream.mu.Unlock()

	now := vp.clock.Now()
	vp.advanceLocked(now)

	count := (len(jpeg) + limits.MaxVideoFragment - 1) / limits.MaxVideoFragment
	packets := make([][]byte, 0, count)
	for offset := 0; offset < len(jpeg); offset += limits.MaxVideoFragment {
		end := offset + limits.MaxVideoFragment
		if end > len(jpeg) {
			end = len(jpeg)
		}

		payload := make([]byte, limits.JPEGHeaderSize+end-offset)
		payload[0] = 0 // type-specific
		payload[1] = byte(offset >> 16)
		payload[2] = byte(offset >> 8)
		payload[3] = byte(offset)
		payload[4] = vp.jpegType
		payload[5] = byte(quality)
		payload[6] = byte(width / 8)
		payload[7] = byte(height / 8)
		copy(payload[limits.JPEGHeaderSize:], jpeg[offset:end])

		data, err := vp.stream.marshalLocked(end == len(jpeg), payload)
		if err != nil {
			return nil, err
		}
		packets = append(packets, data)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "VideoPacketizer.Packetize",
		"frame_size": len(jpeg),
		"fragments":  len(packets),
		"timestamp":  vp.stream.timestamp,
		"next_seq":   vp.stream.sequence,
	}).Debug("Video frame packetized")

	return packets, nil
}

// advanceLocked moves the timestamp forward by the elapsed milliseconds
// since the previous frame and updates the frame-rate meter.
func (vp *VideoPacketizer) advanceLocked(now time.Time) {
	if !vp.lastFrame.IsZero() {
		elapsedMs := now.Sub(vp.lastFrame).Milliseconds()
		if elapsedMs > 0 {
			vp.stream.timestamp += uint32(elapsedMs * VideoClockRate / 1000)
		}
	}
	vp.lastFrame = now

	if vp.windowStart.IsZero() {
		vp.windowStart = now
	}
	vp.frames++
	if window := now.Sub(vp.windowStart); window >= time.Second {
		vp.fps = float64(vp.frames) / window.Seconds()
		vp.frames = 0
		vp.windowStart = now
	}
}

// FPS returns the frame rate measured over the last full one second window.
func (vp *VideoPacketizer) FPS() float64 {
	vp.stream.mu.Lock()
	defer vp.stream.mu.Unlock()
	return vp.fps
}

// AudioPacketizer fragments encoded audio into RTP packets. Fragment
// boundaries always fall on sample boundaries and the timestamp advances by
// the number of samples in each fragment.
type AudioPacketizer struct {
	stream      *Stream
	sampleWidth int
}

// NewAudioPacketizer creates an audio packetizer.
// sampleWidth is the encoded size of one sample: 1 for G.711, 2 for L16.
func NewAudioPacketizer(stream *Stream, sampleWidth int) (*AudioPacketizer, error) {
	if sampleWidth != 1 && sampleWidth != 2 {
		return nil, fmt.Errorf("unsupported sample width %d", sampleWidth)
	}
	return &AudioPacketizer{stream: stream, sampleWidth: sampleWidth}, nil
}

// Stream returns the underlying stream state.
func (ap *AudioPacketizer) Stream() *Stream { return ap.stream }

// SampleWidth returns the encoded bytes per sample.
func (ap *AudioPacketizer) SampleWidth() int { return ap.sampleWidth }

// Packetize splits an encoded audio payload into RTP packets. The marker
// bit is set only on the first packet the stream ever emits.
func (ap *AudioPacketizer) Packetize(payload []byte) ([][]byte, error) {
	if len(payload) == 0 {
		return nil, limits.ErrEmpty
	}
	if len(payload)%ap.sampleWidth != 0 {
		return nil, fmt.Errorf("%w: %d bytes with %d byte samples", ErrMisaligned, len(payload), ap.sampleWidth)
	}

	chunk := limits.MaxAudioFragment - limits.MaxAudioFragment%ap.sampleWidth

	ap.stream.mu.Lock()
	defer ap.stream.mu.Unlock()

	packets := make([][]byte, 0, (len(payload)+chunk-1)/chunk)
	for offset := 0; offset < len(payload); offset += chunk {
		end := offset + chunk
		if end > len(payload) {
			end = len(payload)
		}

		marker := !ap.stream.started
		data, err := ap.stream.marshalLocked(marker, payload[offset:end])
		if err != nil {
			return nil, err
		}
		ap.stream.started = true
		ap.stream.timestamp += uint32((end - offset) / ap.sampleWidth)
		packets = append(packets, data)
	}

	return packets, nil
}

// SubtitlePacketizer builds single T.140 packets. Subtitles are never
// fragmented, always carry the marker bit and advance the timestamp by a
// fixed step per call.
type SubtitlePacketizer struct {
	stream *Stream
}

// NewSubtitlePacketizer creates a subtitle packetizer.
func NewSubtitlePacketizer(stream *Stream) *SubtitlePacketizer {
	return &SubtitlePacketizer{stream: stream}
}

// Stream returns the underlying stream state.
func (sp *SubtitlePacketizer) Stream() *Stream { return sp.stream }

// Packetize wraps text in one RTP packet. Text longer than
// limits.MaxSubtitlePayload is rejected, never truncated.
func (sp *SubtitlePacketizer) Packetize(text []byte) ([]byte, error) {
	if err := limits.ValidateSubtitle(text); err != nil {
		return nil, err
	}

	sp.stream.mu.Lock()
	defer sp.stream.mu.Unlock()

	payload := make([]byte, len(text))
	copy(payload, text)
	data, err := sp.stream.marshalLocked(true, payload)
	if err != nil {
		return nil, err
	}
	sp.stream.timestamp += subtitleTimestampStep
	return data, nil
}

// Header holds the fields extracted from an inbound RTP packet.
type Header struct {
	Version        uint8
	Padding        bool
	Extension      bool
	CSRCCount      int
	Marker         bool
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
}

// ParseHeader validates and parses an inbound RTP packet.
//
// Buffers shorter than the fixed header or with a version other than 2 are
// rejected before any decoding. CSRC entries and a header extension block
// are skipped when locating the payload; padding is removed.
//
// Returns:
//   - Header: Parsed header fields
//   - []byte: Payload, aliasing buf
//   - error: ErrShortPacket, ErrBadVersion or a wrapped unmarshal error
func ParseHeader(buf []byte) (Header, []byte, error) {
	if len(buf) < limits.RTPHeaderSize {
		return Header{}, nil, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(buf))
	}
	if version := buf[0] >> 6; version != 2 {
		return Header{}, nil, fmt.Errorf("%w: got %d", ErrBadVersion, version)
	}

	var packet rtp.Packet
	if err := packet.Unmarshal(buf); err != nil {
		return Header{}, nil, fmt.Errorf("unmarshal rtp packet: %w", err)
	}

	return Header{
		Version:        packet.Version,
		Padding:        packet.Padding,
		Extension:      packet.Extension,
		CSRCCount:      len(packet.CSRC),
		Marker:         packet.Marker,
		PayloadType:    packet.PayloadType,
		SequenceNumber: packet.SequenceNumber,
		Timestamp:      packet.Timestamp,
		SSRC:           packet.SSRC,
	}, packet.Payload, nil
}
