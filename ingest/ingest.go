package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/rtspcast/av/audio"
	"github.com/opd-ai/rtspcast/av/rtp"
	"github.com/opd-ai/rtspcast/limits"
	"github.com/opd-ai/rtspcast/transport"
	"github.com/sirupsen/logrus"
)

// DefaultReadTimeout bounds each socket read so the loop can visit every
// source and notice cancellation.
const DefaultReadTimeout = 20 * time.Millisecond

// ErrEmptyPayload is returned for an RTP packet without audio.
var ErrEmptyPayload = errors.New("empty audio payload")

// Callback receives decoded PCM as little-endian 16-bit samples. length is
// the number of bytes in pcm.
type Callback func(pcm []byte, length int)

// Options configures an Ingestor.
type Options struct {
	// Codec is the codec clients send.
	Codec audio.Codec
	// SampleRate is the nominal rate of the inbound stream. Opus reports
	// its own rate per packet.
	SampleRate uint32
	// Upsample doubles the rate of decoded audio by midpoint interpolation,
	// turning 8 kHz G.711 into 16 kHz PCM.
	Upsample bool
	// OutputRate resamples decoded audio when non-zero. It is applied after
	// Upsample.
	OutputRate uint32
	// Processor is an optional PCM transform such as echo cancellation.
	Processor audio.Processor
	// Speaker receives a copy of the delivered PCM when set, for hosts that
	// play the backchannel and feed it to an echo canceller.
	Speaker *audio.RingBuffer
	// ReadTimeout overrides DefaultReadTimeout.
	ReadTimeout time.Duration
}

// Stats counts packets seen by an Ingestor.
type Stats struct {
	Received  uint64
	Delivered uint64
	Dropped   uint64
}

// Ingestor decodes inbound RTP audio. HandlePacket may be called from the
// ingest loop and from the control loop concurrently; decoding state is
// guarded by a mutex.
type Ingestor struct {
	opts Options

	mu        sync.Mutex
	decoder   *audio.Decoder
	resampler *audio.Resampler
	callback  Callback

	received  atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// New creates an Ingestor.
//
// Parameters:
//   - opts: Input codec and optional processing stages
//
// Returns:
//   - *Ingestor: New ingestor
//   - error: If the codec is unknown
func New(opts Options) (*Ingestor, error) {
	if opts.Codec > audio.CodecOpus {
		return nil, fmt.Errorf("%w: %s", audio.ErrUnknownCodec, opts.Codec)
	}
	if opts.SampleRate == 0 {
		opts.SampleRate = rtp.DefaultAudioRate
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}

	return &Ingestor{
		opts:    opts,
		decoder: audio.NewDecoder(opts.Codec),
	}, nil
}

// SetCallback installs the PCM consumer. A nil callback drops audio after
// decoding.
func (i *Ingestor) SetCallback(cb Callback) {
	i.mu.Lock()
	i.callback = cb
	i.mu.Unlock()
}

// Stats returns packet counters.
func (i *Ingestor) Stats() Stats {
	return Stats{
		Received:  i.received.Load(),
		Delivered: i.delivered.Load(),
		Dropped:   i.dropped.Load(),
	}
}

// HandlePacket runs one RTP packet through the pipeline.
//
// Returns:
//   - error: Parse or decode failure; the packet is dropped
func (i *Ingestor) HandlePacket(packet []byte) error {
	i.received.Add(1)

	header, payload, err := rtp.ParseHeader(packet)
	if err != nil {
		i.dropped.Add(1)
		return err
	}
	if len(payload) == 0 {
		i.dropped.Add(1)
		return ErrEmptyPayload
	}

	i.mu.Lock()
	pcm, err := i.decodeLocked(header.SequenceNumber, payload)
	callback := i.callback
	i.mu.Unlock()
	if err != nil {
		i.dropped.Add(1)
		return err
	}

	// The callback runs unlocked so it may call back into the Ingestor.
	if callback == nil {
		return nil
	}
	out := audio.PCMToBytes(pcm)
	callback(out, len(out))
	i.delivered.Add(1)
	return nil
}

// decodeLocked decodes payload and runs the rate conversion, processor and
// speaker stages. The caller holds i.mu.
func (i *Ingestor) decodeLocked(seq uint16, payload []byte) ([]int16, error) {
	pcm, rate, err := i.decoder.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("decode packet %d: %w", seq, err)
	}
	if rate == 0 {
		rate = i.opts.SampleRate
	}

	if i.opts.Upsample {
		pcm = audio.Upsample2x(pcm)
		rate *= 2
	}
	if i.opts.OutputRate != 0 && rate != i.opts.OutputRate {
		pcm, err = i.resampleLocked(pcm, rate)
		if err != nil {
			return nil, err
		}
	}

	if i.opts.Processor != nil {
		pcm, err = i.opts.Processor.Process(pcm)
		if err != nil {
			return nil, fmt.Errorf("process audio: %w", err)
		}
	}
	if i.opts.Speaker != nil {
		i.opts.Speaker.Write(pcm)
	}
	return pcm, nil
}

// resampleLocked converts pcm to the output rate, rebuilding the resampler
// when the input rate changes.
func (i *Ingestor) resampleLocked(pcm []int16, rate uint32) ([]int16, error) {
	if i.resampler == nil || i.resampler.InputRate() != rate {
		resampler, err := audio.NewResampler(audio.ResamplerConfig{
			InputRate:  rate,
			OutputRate: i.opts.OutputRate,
		})
		if err != nil {
			return nil, err
		}
		i.resampler = resampler
	}
	return i.resampler.Resample(pcm), nil
}

// Run reads datagrams from the sockets returned by sources until ctx is
// cancelled. sources is called on every pass, so sockets opened or closed
// by the control plane are picked up without restarting the loop.
func (i *Ingestor) Run(ctx context.Context, sources func() []*transport.MediaSocket) {
	buf := make([]byte, limits.MaxDatagram)

	logrus.WithFields(logrus.Fields{
		"function": "Ingestor.Run",
		"codec":    i.opts.Codec.String(),
	}).Info("Audio ingest started")

	for {
		select {
		case <-ctx.Done():
			logrus.WithFields(logrus.Fields{
				"function": "Ingestor.Run",
				"stats":    i.Stats(),
			}).Info("Audio ingest stopped")
			return
		default:
		}

		polled := 0
		for _, socket := range sources() {
			if socket == nil || !socket.IsOpen() {
				continue
			}
			polled++
			i.poll(socket, buf)
		}

		if polled == 0 {
			select {
			case <-ctx.Done():
			case <-time.After(i.opts.ReadTimeout):
			}
		}
	}
}

func (i *Ingestor) poll(socket *transport.MediaSocket, buf []byte) {
	n, addr, err := socket.ReadFrom(buf, i.opts.ReadTimeout)
	if err != nil {
		if !transport.IsTimeout(err) && !errors.Is(err, transport.ErrClosed) {
			logrus.WithFields(logrus.Fields{
				"function": "Ingestor.poll",
				"kind":     socket.Kind().String(),
				"error":    err.Error(),
			}).Warn("Audio socket read failed")
		}
		return
	}

	if err := i.HandlePacket(buf[:n]); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "Ingestor.poll",
			"kind":        socket.Kind().String(),
			"remote_addr": addr.String(),
			"size":        n,
			"error":       err.Error(),
		}).Debug("Dropped inbound audio packet")
	}
}
