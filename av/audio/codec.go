package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"strings"

	"github.com/pion/opus"
	"github.com/sirupsen/logrus"
)

// Codec identifies an RTP audio encoding.
type Codec uint8

const (
	// CodecPCMU is G.711 mu-law, payload type 0.
	CodecPCMU Codec = iota
	// CodecPCMA is G.711 A-law, payload type 8.
	CodecPCMA
	// CodecL16 is 16-bit big-endian linear PCM, dynamic payload type 97.
	CodecL16
	// CodecOpus is Opus, dynamic payload type 111. Inbound only.
	CodecOpus
)

var (
	// ErrUnknownCodec is returned by ParseCodec for unrecognized names.
	ErrUnknownCodec = errors.New("unknown audio codec")
	// ErrEncodeUnsupported is returned when encoding to a decode-only codec.
	ErrEncodeUnsupported = errors.New("codec does not support encoding")
	// ErrOddPayload is returned when an L16 payload has a trailing half sample.
	ErrOddPayload = errors.New("l16 payload has odd length")
)

// ParseCodec maps a configuration name to a Codec.
// Accepted names are case insensitive: pcmu/ulaw, pcma/alaw, l16, opus.
func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "pcmu", "ulaw", "mulaw", "g711u":
		return CodecPCMU, nil
	case "pcma", "alaw", "g711a":
		return CodecPCMA, nil
	case "l16", "pcm", "linear":
		return CodecL16, nil
	case "opus":
		return CodecOpus, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

// String returns the configuration name of the codec.
func (c Codec) String() string {
	switch c {
	case CodecPCMU:
		return "pcmu"
	case CodecPCMA:
		return "pcma"
	case CodecL16:
		return "l16"
	case CodecOpus:
		return "opus"
	}
	return fmt.Sprintf("codec(%d)", uint8(c))
}

// EncodingName returns the SDP rtpmap encoding name.
func (c Codec) EncodingName() string {
	switch c {
	case CodecPCMU:
		return "PCMU"
	case CodecPCMA:
		return "PCMA"
	case CodecL16:
		return "L16"
	case CodecOpus:
		return "opus"
	}
	return ""
}

// PayloadType returns the RTP payload type for the codec.
func (c Codec) PayloadType() uint8 {
	switch c {
	case CodecPCMA:
		return 8
	case CodecL16:
		return 97
	case CodecOpus:
		return 111
	}
	return 0
}

// SampleWidth returns encoded bytes per sample, or 0 for variable rate codecs.
func (c Codec) SampleWidth() int {
	switch c {
	case CodecPCMU, CodecPCMA:
		return 1
	case CodecL16:
		return 2
	}
	return 0
}

// CanEncode reports whether the codec can be used for outbound audio.
func (c Codec) CanEncode() bool {
	return c == CodecPCMU || c == CodecPCMA || c == CodecL16
}

// Encode converts PCM samples to the codec's wire format.
func (c Codec) Encode(pcm []int16) ([]byte, error) {
	switch c {
	case CodecPCMU:
		return EncodeMuLaw(pcm), nil
	case CodecPCMA:
		return EncodeALaw(pcm), nil
	case CodecL16:
		return EncodeL16(pcm), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrEncodeUnsupported, c)
}

var (
	muLawTable [256]int16
	aLawTable  [256]int16
)

func init() {
	for i := 0; i < 256; i++ {
		muLawTable[i] = muLawToLinear(byte(i))
		aLawTable[i] = aLawToLinear(byte(i))
	}
}

func muLawToLinear(u byte) int16 {
	u = ^u
	t := (int32(u&0x0F) << 3) + muLawBias
	t <<= (u & 0x70) >> 4
	if u&0x80 != 0 {
		return int16(muLawBias - t)
	}
	return int16(t - muLawBias)
}

func aLawToLinear(a byte) int16 {
	a ^= 0x55
	t := int32(a&0x0F) << 4
	seg := (a & 0x70) >> 4
	switch seg {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= seg - 1
	}
	if a&0x80 != 0 {
		return int16(t)
	}
	return int16(-t)
}

const (
	muLawBias = 0x84
	muLawClip = 32635
)

// LinearToMuLaw compresses one sample to G.711 mu-law.
func LinearToMuLaw(sample int16) byte {
	pcm := int32(sample)
	var sign int32
	if pcm < 0 {
		sign = 0x80
		pcm = -pcm
	}
	if pcm > muLawClip {
		pcm = muLawClip
	}
	pcm += muLawBias

	exponent := int32(bits.Len32(uint32(pcm>>7)&0xFF)) - 1
	if exponent < 0 {
		exponent = 0
	}
	mantissa := (pcm >> (exponent + 3)) & 0x0F
	return ^byte(sign | exponent<<4 | mantissa)
}

var aLawSegmentEnd = [8]int32{0x1F, 0x3F, 0x7F, 0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF}

// LinearToALaw compresses one sample to G.711 A-law.
func LinearToALaw(sample int16) byte {
	pcm := int32(sample) >> 3
	var mask byte
	if pcm >= 0 {
		mask = 0xD5
	} else {
		mask = 0x55
		pcm = -pcm - 1
	}

	seg := int32(0)
	for seg < 8 && pcm > aLawSegmentEnd[seg] {
		seg++
	}
	if seg >= 8 {
		return 0x7F ^ mask
	}

	aval := byte(seg << 4)
	if seg < 2 {
		aval |= byte((pcm >> 1) & 0x0F)
	} else {
		aval |= byte((pcm >> seg) & 0x0F)
	}
	return aval ^ mask
}

// EncodeMuLaw compresses PCM to mu-law, one byte per sample.
func EncodeMuLaw(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = LinearToMuLaw(s)
	}
	return out
}

// EncodeALaw compresses PCM to A-law, one byte per sample.
func EncodeALaw(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = LinearToALaw(s)
	}
	return out
}

// DecodeMuLaw expands mu-law bytes through the lookup table.
func DecodeMuLaw(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = muLawTable[b]
	}
	return out
}

// DecodeALaw expands A-law bytes through the lookup table.
func DecodeALaw(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = aLawTable[b]
	}
	return out
}

// EncodeL16 serializes samples big-endian as carried on the wire.
func EncodeL16(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.BigEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodeL16 reads big-endian sample pairs.
func DecodeL16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddPayload, len(data))
	}
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.BigEndian.Uint16(data[i*2:]))
	}
	return out, nil
}

// PCMToBytes serializes samples little-endian for host callbacks.
func PCMToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// maxOpusFrameBytes holds 120 ms of stereo 48 kHz s16 output.
const maxOpusFrameBytes = 5760 * 2 * 2

// Decoder turns inbound RTP payloads into PCM for one input codec.
// Opus decoding keeps state across packets, so a Decoder must not be shared
// between independent streams.
type Decoder struct {
	codec  Codec
	opus   *opus.Decoder
	buffer []byte
}

// NewDecoder creates a decoder for the configured input codec.
//
// Parameters:
//   - codec: Input codec
//
// Returns:
//   - *Decoder: New decoder instance
func NewDecoder(codec Codec) *Decoder {
	d := &Decoder{codec: codec}
	if codec == CodecOpus {
		decoder := opus.NewDecoder()
		d.opus = &decoder
		d.buffer = make([]byte, maxOpusFrameBytes)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewDecoder",
		"codec":    codec.String(),
	}).Debug("Audio decoder created")

	return d
}

// Codec returns the decoder's input codec.
func (d *Decoder) Codec() Codec { return d.codec }

// Decode converts one RTP payload to mono PCM.
//
// Returns:
//   - []int16: Decoded samples
//   - uint32: Sample rate of the decoded audio; 0 means the stream's nominal rate
//   - error: Decode error
func (d *Decoder) Decode(payload []byte) ([]int16, uint32, error) {
	switch d.codec {
	case CodecPCMU:
		return DecodeMuLaw(payload), 0, nil
	case CodecPCMA:
		return DecodeALaw(payload), 0, nil
	case CodecL16:
		pcm, err := DecodeL16(payload)
		return pcm, 0, err
	case CodecOpus:
		return d.decodeOpus(payload)
	}
	return nil, 0, fmt.Errorf("%w: %s", ErrUnknownCodec, d.codec)
}

func (d *Decoder) decodeOpus(payload []byte) ([]int16, uint32, error) {
	bandwidth, isStereo, err := d.opus.Decode(payload, d.buffer)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "Decoder.decodeOpus",
			"packet_size": len(payload),
			"error":       err.Error(),
		}).Debug("Opus decode failed")
		return nil, 0, fmt.Errorf("opus decode: %w", err)
	}

	sampleRate := bandwidth.SampleRate()
	// pion/opus emits 20 ms frames.
	frames := sampleRate / 50
	channels := 1
	if isStereo {
		channels = 2
	}
	if frames*channels*2 > len(d.buffer) {
		frames = len(d.buffer) / (channels * 2)
	}

	pcm := make([]int16, frames)
	for i := range pcm {
		// Downmix to mono by taking the left channel.
		pcm[i] = int16(binary.LittleEndian.Uint16(d.buffer[i*channels*2:]))
	}
	return pcm, uint32(sampleRate), nil
}
