package cmd

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/opd-ai/rtspcast"
	"github.com/opd-ai/rtspcast/av/audio"
	"github.com/opd-ai/rtspcast/av/video"
	"github.com/sirupsen/logrus"
)

const (
	patternWidth   = 320
	patternHeight  = 240
	patternFPS     = 15
	patternQuality = 70
	toneHz         = 440
	toneGain       = 0.3
	audioFrameTime = 20 * time.Millisecond
)

// patternFeeder streams a synthetic pattern and a sine tone into a server.
type patternFeeder struct {
	server  *rtspcast.Server
	pattern *video.TestPattern
	encoder *video.Encoder
	tone    *toneGenerator
	level   *audio.EffectChain
	video   bool
	audio   bool
}

func newPatternFeeder(server *rtspcast.Server, opts *rtspcast.Options) (*patternFeeder, error) {
	pattern, err := video.NewTestPattern(patternWidth, patternHeight)
	if err != nil {
		return nil, err
	}
	encoder, err := video.NewEncoder(patternQuality)
	if err != nil {
		return nil, err
	}
	effects := video.NewEffectChain()
	effects.Add(video.NewTimestampEffect(16))
	encoder.SetEffects(effects)

	gain, err := audio.NewGainEffect(toneGain)
	if err != nil {
		return nil, err
	}
	level := audio.NewEffectChain()
	level.AddEffect(gain)

	return &patternFeeder{
		server:  server,
		pattern: pattern,
		encoder: encoder,
		tone:    newToneGenerator(toneHz, opts.SampleRate),
		level:   level,
		video:   opts.Video,
		audio:   opts.Audio,
	}, nil
}

// run feeds media until ctx is cancelled. Frames are only produced while a
// client is playing.
func (f *patternFeeder) run(ctx context.Context) {
	videoTick := time.NewTicker(time.Second / patternFPS)
	defer videoTick.Stop()
	audioTick := time.NewTicker(audioFrameTime)
	defer audioTick.Stop()
	statsTick := time.NewTicker(10 * time.Second)
	defer statsTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-videoTick.C:
			if f.video && f.server.ReadyToSendFrame() {
				f.sendVideo()
			}
		case <-audioTick.C:
			if f.audio && f.server.ReadyToSendAudio() {
				f.sendAudio()
			}
		case <-statsTick.C:
			if f.server.IsPlaying() {
				logrus.WithFields(logrus.Fields{
					"function": "patternFeeder.run",
					"fps":      fmt.Sprintf("%.1f", f.server.VideoFPS()),
					"frames":   f.pattern.Frames(),
				}).Info("Test pattern streaming")
			}
		}
	}
}

func (f *patternFeeder) sendVideo() {
	out, err := f.encoder.Encode(f.pattern.Next())
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "patternFeeder.sendVideo",
			"error":    err.Error(),
		}).Warn("Failed to encode test pattern")
		return
	}
	if err := f.server.SendVideoFrame(out.Scan, out.Quality, out.Width, out.Height); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "patternFeeder.sendVideo",
			"error":    err.Error(),
		}).Debug("Failed to send video frame")
	}
}

func (f *patternFeeder) sendAudio() {
	pcm, err := f.level.Process(f.tone.Next(audioFrameTime))
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "patternFeeder.sendAudio",
			"error":    err.Error(),
		}).Warn("Failed to process tone")
		return
	}
	if err := f.server.SendAudioFrame(pcm); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "patternFeeder.sendAudio",
			"error":    err.Error(),
			"rms":      audio.ComputeRMS(pcm),
		}).Debug("Failed to send audio frame")
	}
}

// toneGenerator produces a continuous full-scale sine wave.
type toneGenerator struct {
	step  float64
	phase float64
	rate  int
}

func newToneGenerator(hz, rate int) *toneGenerator {
	return &toneGenerator{step: 2 * math.Pi * float64(hz) / float64(rate), rate: rate}
}

// Next returns the samples covering d.
func (g *toneGenerator) Next(d time.Duration) []int16 {
	n := int(int64(g.rate) * int64(d) / int64(time.Second))
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(math.Sin(g.phase) * math.MaxInt16)
		g.phase += g.step
		if g.phase >= 2*math.Pi {
			g.phase -= 2 * math.Pi
		}
	}
	return out
}
