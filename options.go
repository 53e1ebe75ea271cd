package rtspcast

import (
	"fmt"
	"net"
	"time"

	"github.com/opd-ai/rtspcast/av/audio"
	"github.com/opd-ai/rtspcast/av/rtp"
	"github.com/opd-ai/rtspcast/limits"
	"github.com/opd-ai/rtspcast/transport"
)

// Default network settings.
const (
	DefaultPort             = 554
	DefaultVideoPort        = 5430
	DefaultAudioPort        = 5432
	DefaultSubtitlesPort    = 5434
	DefaultAudioInPort      = 5436
	DefaultMulticastAddress = "239.255.0.1"
	DefaultMulticastTTL     = 64
	DefaultMaxClients       = 3
)

// Options contains configuration options for creating a Server.
type Options struct {
	// Host is the address the control listener and media sockets bind to.
	// Empty binds all interfaces.
	Host string
	Port int

	// Capability flags. At least one outbound track must be enabled.
	Video     bool
	Audio     bool
	Subtitles bool
	AudioIn   bool

	VideoPort     int
	AudioPort     int
	SubtitlesPort int
	AudioInPort   int

	AudioCodec   audio.Codec
	AudioInCodec audio.Codec
	SampleRate   int
	// JPEGType is the RFC 2435 type of the scans passed to SendVideoFrame:
	// rtp.JPEGType422 (camera default) or rtp.JPEGType420.
	JPEGType uint8

	MulticastAddress   string
	MulticastTTL       int
	MulticastLoopback  bool
	MaxClients         int
	Username, Password string

	// Upsample doubles the rate of inbound audio before delivery.
	Upsample bool
	// ReceiveRate is the rate of the PCM passed to OnAudioReceived. Zero
	// selects SampleRate, doubled when Upsample is set.
	ReceiveRate int
	// Processor is an optional transform applied to inbound audio.
	Processor audio.Processor
	// Speaker receives a copy of delivered inbound audio when set.
	Speaker *audio.RingBuffer

	// Identity seeds SSRC derivation. Nil uses the first hardware address.
	Identity []byte
	// TimeProvider drives video timestamps. Nil uses the wall clock.
	TimeProvider rtp.TimeProvider
	// WriteTimeout bounds writes on control connections.
	WriteTimeout time.Duration
}

// NewOptions creates a new default Options with video and G.711 mu-law
// audio enabled.
func NewOptions() *Options {
	return &Options{
		Port:             DefaultPort,
		Video:            true,
		Audio:            true,
		VideoPort:        DefaultVideoPort,
		AudioPort:        DefaultAudioPort,
		SubtitlesPort:    DefaultSubtitlesPort,
		AudioInPort:      DefaultAudioInPort,
		AudioCodec:       audio.CodecPCMU,
		AudioInCodec:     audio.CodecPCMU,
		SampleRate:       rtp.DefaultAudioRate,
		MulticastAddress: DefaultMulticastAddress,
		MulticastTTL:     DefaultMulticastTTL,
		MaxClients:       DefaultMaxClients,
		WriteTimeout:     transport.DefaultWriteTimeout,
	}
}

// Validate checks the options for consistency.
func (o *Options) Validate() error {
	if !o.Video && !o.Audio && !o.Subtitles {
		return ErrNoTracks
	}
	if o.Audio && !o.AudioCodec.CanEncode() {
		return fmt.Errorf("%w: audio codec %s cannot be sent", ErrInvalidOptions, o.AudioCodec)
	}
	if o.AudioIn && o.AudioInCodec > audio.CodecOpus {
		return fmt.Errorf("%w: audio input codec %s", ErrInvalidOptions, o.AudioInCodec)
	}
	if o.JPEGType != rtp.JPEGType422 && o.JPEGType != rtp.JPEGType420 {
		return fmt.Errorf("%w: jpeg type %d", ErrInvalidOptions, o.JPEGType)
	}
	if o.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidOptions, o.SampleRate)
	}
	if o.ReceiveRate < 0 {
		return fmt.Errorf("%w: receive rate %d", ErrInvalidOptions, o.ReceiveRate)
	}

	ports := map[string]int{
		"port":           o.Port,
		"video_port":     o.VideoPort,
		"audio_port":     o.AudioPort,
		"subtitles_port": o.SubtitlesPort,
		"audio_in_port":  o.AudioInPort,
	}
	for name, port := range ports {
		if port < 0 || port > 65535 {
			return fmt.Errorf("%w: %s %d out of range", ErrInvalidOptions, name, port)
		}
	}

	ip := net.ParseIP(o.MulticastAddress)
	if ip == nil || ip.To4() == nil || !ip.IsMulticast() {
		return fmt.Errorf("%w: %q is not an IPv4 multicast address", ErrInvalidOptions, o.MulticastAddress)
	}
	if o.MulticastTTL < 1 || o.MulticastTTL > 255 {
		return fmt.Errorf("%w: multicast ttl %d", ErrInvalidOptions, o.MulticastTTL)
	}
	if o.MaxClients < 0 || o.MaxClients > limits.MaxClientsHardCap {
		return fmt.Errorf("%w: max clients %d outside [0, %d]", ErrInvalidOptions, o.MaxClients, limits.MaxClientsHardCap)
	}
	if o.Password != "" && o.Username == "" {
		return fmt.Errorf("%w: password set without username", ErrInvalidOptions)
	}
	return nil
}

// receiveRate returns the rate inbound audio is delivered at.
func (o *Options) receiveRate() uint32 {
	if o.ReceiveRate > 0 {
		return uint32(o.ReceiveRate)
	}
	if o.Upsample {
		return uint32(o.SampleRate) * 2
	}
	return uint32(o.SampleRate)
}

// mediaPort returns the configured server port for kind.
func (o *Options) mediaPort(kind transport.MediaKind) int {
	switch kind {
	case transport.MediaVideo:
		return o.VideoPort
	case transport.MediaAudio:
		return o.AudioPort
	case transport.MediaSubtitles:
		return o.SubtitlesPort
	case transport.MediaAudioIn:
		return o.AudioInPort
	}
	return 0
}

// ActivityType classifies client activity reports.
type ActivityType uint8

const (
	// ActivityConnected is reported when a client is admitted.
	ActivityConnected ActivityType = iota
	// ActivityDisconnected is reported when a client's session ends.
	ActivityDisconnected
	// ActivityRefusedMaxClients is reported when admission control turns a
	// client away.
	ActivityRefusedMaxClients
)

// String returns the activity name.
func (a ActivityType) String() string {
	switch a {
	case ActivityConnected:
		return "connected"
	case ActivityDisconnected:
		return "disconnected"
	case ActivityRefusedMaxClients:
		return "refused_max_clients"
	}
	return fmt.Sprintf("activity(%d)", uint8(a))
}

// ClientActivityCallback is called when a client connects, disconnects or
// is refused. active is the number of admitted clients after the change.
type ClientActivityCallback func(kind ActivityType, ip string, port uint16, active int)

// AudioReceiveCallback is called with decoded inbound audio as
// little-endian 16-bit PCM. length is the number of bytes in pcm.
type AudioReceiveCallback func(pcm []byte, length int)
