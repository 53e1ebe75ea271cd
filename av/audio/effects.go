package audio

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// AudioEffect is one named stage in an EffectChain.
type AudioEffect interface {
	Processor

	// GetName returns a human-readable name for logs
	GetName() string
}

// GainEffect applies linear gain with clipping.
// 0.0 is silence, 1.0 leaves samples unchanged, 4.0 is the maximum.
type GainEffect struct {
	mu   sync.RWMutex
	gain float64
}

// NewGainEffect creates a gain stage.
//
// Parameters:
//   - gain: Linear multiplier in [0, 4]
//
// Returns:
//   - *GainEffect: New gain stage
//   - error: If gain is out of range
func NewGainEffect(gain float64) (*GainEffect, error) {
	if err := validateGain(gain); err != nil {
		return nil, err
	}
	return &GainEffect{gain: gain}, nil
}

func validateGain(gain float64) error {
	if gain < 0.0 {
		return fmt.Errorf("gain cannot be negative: %f", gain)
	}
	if gain > 4.0 {
		return fmt.Errorf("gain too high (max 4.0): %f", gain)
	}
	return nil
}

// Process scales the samples in place.
func (g *GainEffect) Process(samples []int16) ([]int16, error) {
	g.mu.RLock()
	gain := g.gain
	g.mu.RUnlock()

	clipped := 0
	for i, s := range samples {
		v := float64(s) * gain
		switch {
		case v > 32767.0:
			samples[i] = 32767
			clipped++
		case v < -32768.0:
			samples[i] = -32768
			clipped++
		default:
			samples[i] = int16(v)
		}
	}

	if clipped > 0 {
		logrus.WithFields(logrus.Fields{
			"function":      "GainEffect.Process",
			"clipped_count": clipped,
			"total_samples": len(samples),
			"gain":          gain,
		}).Debug("Audio clipping during gain processing")
	}
	return samples, nil
}

// GetName returns the effect name.
func (g *GainEffect) GetName() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fmt.Sprintf("Gain(%.2f)", g.gain)
}

// SetGain updates the multiplier at runtime.
func (g *GainEffect) SetGain(gain float64) error {
	if err := validateGain(gain); err != nil {
		return err
	}
	g.mu.Lock()
	g.gain = gain
	g.mu.Unlock()
	return nil
}

// GetGain returns the current multiplier.
func (g *GainEffect) GetGain() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.gain
}

// NoiseGate silences frames whose RMS level is below a threshold. It is a
// cheap stand-in for a full noise suppressor on the inbound path.
type NoiseGate struct {
	threshold float64
}

// NewNoiseGate creates a gate with a normalized RMS threshold in [0, 1).
func NewNoiseGate(threshold float64) (*NoiseGate, error) {
	if threshold < 0 || threshold >= 1 {
		return nil, fmt.Errorf("noise gate threshold out of range: %f", threshold)
	}
	return &NoiseGate{threshold: threshold}, nil
}

// Process zeroes the frame when it is below the threshold.
func (n *NoiseGate) Process(samples []int16) ([]int16, error) {
	if ComputeRMS(samples) >= n.threshold {
		return samples, nil
	}
	for i := range samples {
		samples[i] = 0
	}
	return samples, nil
}

// GetName returns the effect name.
func (n *NoiseGate) GetName() string {
	return fmt.Sprintf("NoiseGate(%.3f)", n.threshold)
}

// EffectChain runs effects in insertion order and is itself a Processor,
// so a chain can be injected wherever a single DSP stage is expected.
// Processing stops at the first failing effect.
type EffectChain struct {
	mu      sync.RWMutex
	effects []AudioEffect
}

// NewEffectChain creates an empty chain.
func NewEffectChain() *EffectChain {
	return &EffectChain{}
}

// AddEffect appends an effect to the chain.
func (e *EffectChain) AddEffect(effect AudioEffect) {
	e.mu.Lock()
	e.effects = append(e.effects, effect)
	count := len(e.effects)
	e.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":     "EffectChain.AddEffect",
		"effect_name":  effect.GetName(),
		"effect_count": count,
	}).Debug("Effect added to chain")
}

// Process applies every effect in order.
func (e *EffectChain) Process(samples []int16) ([]int16, error) {
	e.mu.RLock()
	effects := e.effects
	e.mu.RUnlock()

	current := samples
	for i, effect := range effects {
		out, err := effect.Process(current)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":     "EffectChain.Process",
				"effect_index": i,
				"effect_name":  effect.GetName(),
				"error":        err.Error(),
			}).Error("Effect processing failed")
			return nil, fmt.Errorf("effect %d (%s) failed: %w", i, effect.GetName(), err)
		}
		current = out
	}
	return current, nil
}

// GetEffectNames returns the names of all effects in order.
func (e *EffectChain) GetEffectNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, len(e.effects))
	for i, effect := range e.effects {
		names[i] = effect.GetName()
	}
	return names
}

// Len returns the number of effects.
func (e *EffectChain) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.effects)
}

// Clear removes all effects.
func (e *EffectChain) Clear() {
	e.mu.Lock()
	e.effects = nil
	e.mu.Unlock()
}
