package transport

import (
	"errors"
	"fmt"
)

// Destination delivers marshaled RTP packets to one client, hiding whether
// the bytes travel as UDP datagrams or interleaved on a TCP connection.
type Destination interface {
	// Deliver sends one packet.
	Deliver(packet []byte) error

	// String describes the destination for logs.
	String() string
}

// MediaKind identifies one of the server's media channels.
type MediaKind int

const (
	MediaVideo MediaKind = iota
	MediaAudio
	MediaSubtitles
	MediaAudioIn
	MediaKindCount
)

// MediaKinds lists every media channel in track order.
var MediaKinds = []MediaKind{MediaVideo, MediaAudio, MediaSubtitles, MediaAudioIn}

// String returns the media label.
func (k MediaKind) String() string {
	switch k {
	case MediaVideo:
		return "video"
	case MediaAudio:
		return "audio"
	case MediaSubtitles:
		return "subtitles"
	case MediaAudioIn:
		return "audio_in"
	}
	return fmt.Sprintf("media(%d)", int(k))
}

// TrackID returns the SDP track number of the media kind.
func (k MediaKind) TrackID() int { return int(k) }

// MediaKindForTrack maps an SDP track number back to its media kind.
func MediaKindForTrack(track int) (MediaKind, bool) {
	if track < 0 || track >= int(MediaKindCount) {
		return 0, false
	}
	return MediaKind(track), true
}

var (
	// ErrClosed is returned when reading from a socket that is not open.
	ErrClosed = errors.New("transport closed")
	// ErrNotInterleaved is returned when a frame does not start with '$'.
	ErrNotInterleaved = errors.New("not an interleaved frame")
)
