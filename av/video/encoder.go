package video

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image/jpeg"
	"sync"

	"github.com/opd-ai/rtspcast/av/rtp"
	"github.com/sirupsen/logrus"
)

var (
	// ErrBadQuality is returned for a quality outside 1-99.
	ErrBadQuality = errors.New("jpeg quality must be between 1 and 99")
	// ErrNoScan is returned when a JPEG stream has no start-of-scan segment.
	ErrNoScan = errors.New("jpeg stream has no scan")
)

// JPEG markers used when locating the scan.
const (
	markerSOI = 0xD8
	markerEOI = 0xD9
	markerSOS = 0xDA
)

// Encoded is one frame ready for SendVideoFrame.
type Encoded struct {
	Scan    []byte
	Quality int
	Width   int
	Height  int
	// Type is the RFC 2435 type the scan must be sent with.
	Type uint8
}

// Encoder turns frames into RFC 2435 scans. It is safe for concurrent use.
type Encoder struct {
	mu      sync.Mutex
	quality int
	effects *EffectChain
	scaler  *Scaler
	buf     bytes.Buffer
}

// NewEncoder creates an encoder at the given quality (1-99).
func NewEncoder(quality int) (*Encoder, error) {
	if quality < 1 || quality > 99 {
		return nil, fmt.Errorf("%w: %d", ErrBadQuality, quality)
	}
	return &Encoder{quality: quality, scaler: NewScaler()}, nil
}

// SetEffects installs a chain applied before scaling. Nil removes it.
func (e *Encoder) SetEffects(chain *EffectChain) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.effects = chain
}

// SetQuality changes the quality of subsequent frames.
func (e *Encoder) SetQuality(quality int) error {
	if quality < 1 || quality > 99 {
		return fmt.Errorf("%w: %d", ErrBadQuality, quality)
	}
	e.mu.Lock()
	e.quality = quality
	e.mu.Unlock()
	return nil
}

// Encode runs the effect chain, fits the frame to the RFC 2435 grid and
// returns its scan.
func (e *Encoder) Encode(frame *VideoFrame) (Encoded, error) {
	if err := frame.Validate(); err != nil {
		return Encoded{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	if e.effects != nil {
		if frame, err = e.effects.Apply(frame); err != nil {
			return Encoded{}, err
		}
	}
	if frame, err = e.scaler.Fit(frame); err != nil {
		return Encoded{}, err
	}

	e.buf.Reset()
	if err := jpeg.Encode(&e.buf, frame.Image(), &jpeg.Options{Quality: e.quality}); err != nil {
		return Encoded{}, fmt.Errorf("encode jpeg: %w", err)
	}
	scan, err := ExtractScan(e.buf.Bytes())
	if err != nil {
		return Encoded{}, err
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Encoder.Encode",
		"width":     frame.Width,
		"height":    frame.Height,
		"quality":   e.quality,
		"scan_size": len(scan),
	}).Debug("Frame encoded")

	return Encoded{
		Scan:    scan,
		Quality: e.quality,
		Width:   int(frame.Width),
		Height:  int(frame.Height),
		Type:    rtp.JPEGType420,
	}, nil
}

// ExtractScan returns a copy of the entropy coded data between the
// start-of-scan header and the end-of-image marker of a baseline JPEG.
// Receivers rebuild every header from the RTP payload header.
func ExtractScan(data []byte) ([]byte, error) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != markerSOI {
		return nil, fmt.Errorf("%w: missing start of image", ErrNoScan)
	}

	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xFF {
			return nil, fmt.Errorf("%w: expected marker at offset %d", ErrNoScan, pos)
		}
		marker := data[pos+1]
		if marker == 0xFF {
			pos++
			continue
		}
		length := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
		if length < 2 || pos+2+length > len(data) {
			return nil, fmt.Errorf("%w: segment %#x overruns stream", ErrNoScan, marker)
		}
		if marker != markerSOS {
			pos += 2 + length
			continue
		}

		start := pos + 2 + length
		end := len(data)
		if end-start >= 2 && data[end-2] == 0xFF && data[end-1] == markerEOI {
			end -= 2
		}
		if end <= start {
			return nil, fmt.Errorf("%w: empty scan", ErrNoScan)
		}
		return append([]byte(nil), data[start:end]...), nil
	}
	return nil, ErrNoScan
}
