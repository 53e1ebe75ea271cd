package audio

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Resampler converts mono PCM between sample rates by linear interpolation.
// It keeps the last input sample and the fractional read position so that
// consecutive frames join without discontinuities.
type Resampler struct {
	inputRate  uint32
	outputRate uint32
	last       int16
	primed     bool
	position   float64
}

// ResamplerConfig holds configuration for creating a resampler.
type ResamplerConfig struct {
	InputRate  uint32 // Input sample rate in Hz
	OutputRate uint32 // Output sample rate in Hz
}

// NewResampler creates a resampler.
//
// Parameters:
//   - config: Input and output rates; both must be non-zero
//
// Returns:
//   - *Resampler: New resampler instance
//   - error: If a rate is zero
func NewResampler(config ResamplerConfig) (*Resampler, error) {
	if config.InputRate == 0 || config.OutputRate == 0 {
		return nil, fmt.Errorf("invalid sample rates: input=%d, output=%d", config.InputRate, config.OutputRate)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewResampler",
		"input_rate":  config.InputRate,
		"output_rate": config.OutputRate,
	}).Debug("Resampler created")

	return &Resampler{inputRate: config.InputRate, outputRate: config.OutputRate}, nil
}

// InputRate returns the configured input rate.
func (r *Resampler) InputRate() uint32 { return r.inputRate }

// OutputRate returns the configured output rate.
func (r *Resampler) OutputRate() uint32 { return r.outputRate }

// Resample converts one frame. Equal rates return the input unchanged.
func (r *Resampler) Resample(input []int16) []int16 {
	if r.inputRate == r.outputRate || len(input) == 0 {
		return input
	}

	// Sample at virtual index -1 is the previous frame's last sample.
	at := func(i int) float64 {
		if i < 0 {
			if r.primed {
				return float64(r.last)
			}
			return float64(input[0])
		}
		return float64(input[i])
	}

	step := float64(r.inputRate) / float64(r.outputRate)
	output := make([]int16, 0, int(float64(len(input))/step)+1)
	pos := r.position
	for pos < float64(len(input)-1) {
		base := int(pos)
		if pos < 0 {
			base = -1
		}
		frac := pos - float64(base)
		v := at(base) + (at(base+1)-at(base))*frac
		output = append(output, clampSample(v))
		pos += step
	}

	r.position = pos - float64(len(input))
	r.last = input[len(input)-1]
	r.primed = true
	return output
}

// Reset drops interpolation state.
func (r *Resampler) Reset() {
	r.last = 0
	r.primed = false
	r.position = 0
}

func clampSample(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// Upsample2x doubles the sample rate by inserting the midpoint between
// neighbours. The final sample is repeated.
func Upsample2x(input []int16) []int16 {
	out := make([]int16, 0, len(input)*2)
	for i, s := range input {
		out = append(out, s)
		if i < len(input)-1 {
			out = append(out, int16((int32(s)+int32(input[i+1]))/2))
		} else {
			out = append(out, s)
		}
	}
	return out
}
