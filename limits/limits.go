// Package limits provides centralized size limits for the RTSP control plane
// and the RTP media plane. This ensures consistent validation across the
// packetizers, the request framer and the ingest path.
package limits

import (
	"errors"
	"fmt"
)

const (
	// RTPHeaderSize is the fixed RTP header size without CSRCs or extensions.
	RTPHeaderSize = 12

	// JPEGHeaderSize is the RFC 2435 main JPEG header carried in every video packet.
	JPEGHeaderSize = 8

	// InterleavedHeaderSize is the "$ channel length" prefix used for TCP interleaving.
	InterleavedHeaderSize = 4

	// MaxVideoFragment is the largest JPEG slice carried by one video packet.
	// 1438 + 8 + 12 keeps every packet at 1458 bytes, below a 1500 byte MTU.
	MaxVideoFragment = 1438

	// MaxAudioFragment is the largest audio payload carried by one audio packet.
	MaxAudioFragment = 1446

	// MaxSubtitlePayload is the largest subtitle text accepted for a single packet.
	// Subtitles are never fragmented.
	MaxSubtitlePayload = 1446

	// MaxInterleavedPayload is bounded by the 16-bit length field of the interleaved prefix.
	MaxInterleavedPayload = 0xFFFF

	// MaxVideoFrame is the largest JPEG frame accepted by the video path (512KB).
	MaxVideoFrame = 512 * 1024

	// MaxRequestSize bounds a single RTSP request (headers plus body).
	MaxRequestSize = 8192

	// MaxDatagram is the receive buffer size used for inbound RTP.
	MaxDatagram = 2048

	// MaxCookieLength is the longest HTTP tunnel session cookie stored.
	MaxCookieLength = 128

	// MaxClientsHardCap is the absolute upper bound on concurrent control connections.
	MaxClientsHardCap = 10
)

var (
	// ErrEmpty indicates an empty payload was provided
	ErrEmpty = errors.New("empty payload")

	// ErrTooLarge indicates a payload exceeds its maximum size
	ErrTooLarge = errors.New("payload too large")
)

// ValidateSize validates data against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateSize(data []byte, maxSize int) error {
	if len(data) == 0 {
		return ErrEmpty
	}
	if len(data) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrTooLarge, len(data), maxSize)
	}
	return nil
}

// ValidateVideoFrame validates a complete JPEG frame against MaxVideoFrame.
func ValidateVideoFrame(frame []byte) error {
	if len(frame) == 0 {
		return ErrEmpty
	}
	if len(frame) > MaxVideoFrame {
		return fmt.Errorf("%w: video frame size %d exceeds limit %d", ErrTooLarge, len(frame), MaxVideoFrame)
	}
	return nil
}

// ValidateSubtitle validates subtitle text against MaxSubtitlePayload.
func ValidateSubtitle(text []byte) error {
	if len(text) == 0 {
		return ErrEmpty
	}
	if len(text) > MaxSubtitlePayload {
		return fmt.Errorf("%w: subtitle size %d exceeds limit %d", ErrTooLarge, len(text), MaxSubtitlePayload)
	}
	return nil
}

// ValidateInterleaved validates an RTP packet that is about to be framed for TCP.
func ValidateInterleaved(packet []byte) error {
	if len(packet) == 0 {
		return ErrEmpty
	}
	if len(packet) > MaxInterleavedPayload {
		return fmt.Errorf("%w: interleaved size %d exceeds limit %d", ErrTooLarge, len(packet), MaxInterleavedPayload)
	}
	return nil
}

// ClampClients bounds a requested client count to [0, MaxClientsHardCap].
// The second return value reports whether the request was clamped.
func ClampClients(n int) (int, bool) {
	if n < 0 {
		return 0, true
	}
	if n > MaxClientsHardCap {
		return MaxClientsHardCap, true
	}
	return n, false
}
