package audio

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// Processor is an opaque PCM-in/PCM-out transform. The ingest path treats
// it as an optional strategy: a nil Processor is a valid configuration and
// PCM passes through unchanged.
type Processor interface {
	Process(samples []int16) ([]int16, error)
}

// ProcessorFunc adapts a plain function to the Processor interface.
type ProcessorFunc func(samples []int16) ([]int16, error)

// Process calls f(samples).
func (f ProcessorFunc) Process(samples []int16) ([]int16, error) { return f(samples) }

// EchoCanceller removes the speaker signal from a microphone capture.
// Implementations are supplied by the host; none is built in.
type EchoCanceller interface {
	Cancel(mic, speaker []int16) ([]int16, error)
}

// EchoCancelStage adapts an EchoCanceller into a Processor. Each processed
// frame is paired with the same number of samples read from the reference
// ring buffer, which the ingest path fills with played-back audio.
type EchoCancelStage struct {
	canceller EchoCanceller
	reference *RingBuffer
}

// NewEchoCancelStage creates an echo cancellation stage.
//
// Parameters:
//   - canceller: Host supplied echo canceller
//   - reference: Ring buffer holding the far-end (speaker) signal
//
// Returns:
//   - *EchoCancelStage: New stage
//   - error: If either argument is nil
func NewEchoCancelStage(canceller EchoCanceller, reference *RingBuffer) (*EchoCancelStage, error) {
	if canceller == nil {
		return nil, fmt.Errorf("echo canceller cannot be nil")
	}
	if reference == nil {
		return nil, fmt.Errorf("reference buffer cannot be nil")
	}
	return &EchoCancelStage{canceller: canceller, reference: reference}, nil
}

// Process runs the canceller over one capture frame. When the reference
// buffer runs short the missing tail is treated as silence.
func (e *EchoCancelStage) Process(samples []int16) ([]int16, error) {
	speaker := make([]int16, len(samples))
	n := e.reference.Read(speaker)
	if n < len(samples) {
		logrus.WithFields(logrus.Fields{
			"function":  "EchoCancelStage.Process",
			"requested": len(samples),
			"available": n,
		}).Debug("Echo reference underrun, padding with silence")
	}
	return e.canceller.Cancel(samples, speaker)
}

// ComputeRMS returns the root mean square level of the samples normalized
// to [0, 1]. An empty buffer has level 0.
func ComputeRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
