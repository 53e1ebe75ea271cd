// Package audio holds the sample-level audio helpers of the media plane.
//
// # Codecs
//
// Outbound audio is encoded as G.711 mu-law, G.711 A-law or 16-bit
// big-endian linear PCM. Inbound audio may additionally be Opus, decoded with
// github.com/pion/opus. G.711 decoding goes through 256-entry lookup tables
// built at init time.
//
//	codec, _ := audio.ParseCodec("pcmu")
//	payload, _ := codec.Encode(pcm)
//	back, _, _ := audio.NewDecoder(codec).Decode(payload)
//
// # Processing
//
// DSP is consumed through the Processor interface. EffectChain, GainEffect,
// NoiseGate and EchoCancelStage implement it; hosts can plug their own
// transform in with ProcessorFunc. Resampler and Upsample2x convert rates and
// RingBuffer stores the speaker signal for echo cancellation.
package audio
