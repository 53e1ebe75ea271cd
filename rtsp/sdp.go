package rtsp

import (
	"fmt"
	"strconv"

	"github.com/opd-ai/rtspcast/av/audio"
	"github.com/opd-ai/rtspcast/av/rtp"
	"github.com/opd-ai/rtspcast/transport"
	psdp "github.com/pion/sdp/v3"
)

// MediaConfig describes the tracks the server offers and where they are
// delivered from.
type MediaConfig struct {
	Video     bool
	Audio     bool
	Subtitles bool
	AudioIn   bool

	AudioCodec   audio.Codec
	AudioInCodec audio.Codec
	SampleRate   int

	// ServerPorts holds the local media port per kind.
	ServerPorts      [transport.MediaKindCount]int
	MulticastAddress string
	MulticastTTL     int
}

// Enabled reports whether kind is offered.
func (m MediaConfig) Enabled(kind transport.MediaKind) bool {
	switch kind {
	case transport.MediaVideo:
		return m.Video
	case transport.MediaAudio:
		return m.Audio
	case transport.MediaSubtitles:
		return m.Subtitles
	case transport.MediaAudioIn:
		return m.AudioIn
	}
	return false
}

// audioRtpmap renders the rtpmap attribute value for an audio codec.
func audioRtpmap(codec audio.Codec, sampleRate int) string {
	if codec == audio.CodecOpus {
		return fmt.Sprintf("%d opus/48000/2", codec.PayloadType())
	}
	return fmt.Sprintf("%d %s/%d/1", codec.PayloadType(), codec.EncodingName(), sampleRate)
}

// mediaDescription describes one offered track.
func mediaDescription(media string, payloadType uint8, rtpmap string, kind transport.MediaKind) *psdp.MediaDescription {
	return &psdp.MediaDescription{
		MediaName: psdp.MediaName{
			Media:   media,
			Port:    psdp.RangedPort{Value: 0},
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{strconv.Itoa(int(payloadType))},
		},
		Attributes: []psdp.Attribute{
			{Key: "rtpmap", Value: rtpmap},
			{Key: "control", Value: "trackID=" + strconv.Itoa(kind.TrackID())},
		},
	}
}

// BuildSDP renders the session description returned by DESCRIBE.
//
// Parameters:
//   - media: Offered tracks
//   - sessionID: Value for the o= line
//   - serverIP: Address of the server as seen by the client
//   - multicast: Whether the latched delivery mode is multicast
//
// Returns:
//   - []byte: SDP body with CRLF line endings
//   - error: If the description cannot be encoded
func BuildSDP(media MediaConfig, sessionID uint32, serverIP string, multicast bool) ([]byte, error) {
	if serverIP == "" {
		serverIP = "0.0.0.0"
	}
	connection := &psdp.Address{Address: "0.0.0.0"}
	if multicast {
		ttl := media.MulticastTTL
		connection = &psdp.Address{Address: media.MulticastAddress, TTL: &ttl}
	}

	sd := &psdp.SessionDescription{
		Version: 0,
		Origin: psdp.Origin{
			Username:       "-",
			SessionID:      uint64(sessionID),
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: serverIP,
		},
		SessionName: psdp.SessionName("rtspcast"),
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     connection,
		},
		TimeDescriptions: []psdp.TimeDescription{
			{Timing: psdp.Timing{StartTime: 0, StopTime: 0}},
		},
		Attributes: []psdp.Attribute{{Key: "control", Value: "*"}},
	}

	if media.Video {
		sd.MediaDescriptions = append(sd.MediaDescriptions, mediaDescription("video", rtp.PayloadTypeJPEG,
			fmt.Sprintf("%d JPEG/%d", rtp.PayloadTypeJPEG, rtp.VideoClockRate), transport.MediaVideo))
	}
	if media.Audio {
		sd.MediaDescriptions = append(sd.MediaDescriptions, mediaDescription("audio", media.AudioCodec.PayloadType(),
			audioRtpmap(media.AudioCodec, media.SampleRate), transport.MediaAudio))
	}
	if media.Subtitles {
		sd.MediaDescriptions = append(sd.MediaDescriptions, mediaDescription("text", rtp.PayloadTypeT140,
			fmt.Sprintf("%d t140/%d", rtp.PayloadTypeT140, rtp.SubtitleClockRate), transport.MediaSubtitles))
	}
	if media.AudioIn {
		md := mediaDescription("audio", media.AudioInCodec.PayloadType(),
			audioRtpmap(media.AudioInCodec, media.SampleRate), transport.MediaAudioIn)
		md.Attributes = append(md.Attributes, psdp.NewPropertyAttribute("sendonly"))
		sd.MediaDescriptions = append(sd.MediaDescriptions, md)
	}

	out, err := sd.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encoding session description: %w", err)
	}
	return out, nil
}
