package video

import (
	"fmt"
)

// Effect transforms a frame before encoding.
type Effect interface {
	// Apply processes a video frame and returns the modified frame
	Apply(frame *VideoFrame) (*VideoFrame, error)
	// Name identifies the effect in logs and errors
	Name() string
}

// EffectChain applies effects in the order they were added. The input
// frame is never modified.
type EffectChain struct {
	effects []Effect
}

// NewEffectChain creates an empty chain.
func NewEffectChain() *EffectChain {
	return &EffectChain{effects: make([]Effect, 0)}
}

// Add appends an effect to the chain.
func (ec *EffectChain) Add(effect Effect) {
	ec.effects = append(ec.effects, effect)
}

// Len returns the number of effects in the chain.
func (ec *EffectChain) Len() int {
	return len(ec.effects)
}

// Apply processes a frame through every effect in the chain.
func (ec *EffectChain) Apply(frame *VideoFrame) (*VideoFrame, error) {
	if frame == nil {
		return nil, ErrNilFrame
	}

	current := copyFrame(frame)
	for i, effect := range ec.effects {
		result, err := effect.Apply(current)
		if err != nil {
			return nil, fmt.Errorf("effect %d (%s): %w", i, effect.Name(), err)
		}
		current = result
	}
	return current, nil
}

// BrightnessEffect shifts every luma sample by a fixed amount.
type BrightnessEffect struct {
	adjustment int
}

// NewBrightnessEffect creates a brightness effect. adjustment is clamped
// to [-255, 255].
func NewBrightnessEffect(adjustment int) *BrightnessEffect {
	return &BrightnessEffect{adjustment: clampInt(adjustment, -255, 255)}
}

// Apply adjusts the Y plane in place.
func (be *BrightnessEffect) Apply(frame *VideoFrame) (*VideoFrame, error) {
	if frame == nil {
		return nil, ErrNilFrame
	}
	for i, pixel := range frame.Y {
		frame.Y[i] = byte(clampInt(int(pixel)+be.adjustment, 0, 255))
	}
	return frame, nil
}

// Name returns the effect name.
func (be *BrightnessEffect) Name() string {
	return fmt.Sprintf("Brightness(%+d)", be.adjustment)
}

// ContrastEffect scales luma around mid grey.
type ContrastEffect struct {
	factor float64
}

// NewContrastEffect creates a contrast effect. factor is clamped to
// [0, 3]; 1 leaves the frame unchanged and 0 flattens it to grey.
func NewContrastEffect(factor float64) *ContrastEffect {
	if factor < 0 {
		factor = 0
	}
	if factor > 3 {
		factor = 3
	}
	return &ContrastEffect{factor: factor}
}

// Apply adjusts the Y plane in place.
func (ce *ContrastEffect) Apply(frame *VideoFrame) (*VideoFrame, error) {
	if frame == nil {
		return nil, ErrNilFrame
	}
	const midpoint = 128.0
	for i, pixel := range frame.Y {
		value := midpoint + (float64(pixel)-midpoint)*ce.factor
		frame.Y[i] = byte(clampInt(int(value+0.5), 0, 255))
	}
	return frame, nil
}

// Name returns the effect name.
func (ce *ContrastEffect) Name() string {
	return fmt.Sprintf("Contrast(%.2f)", ce.factor)
}

// GrayscaleEffect neutralises both chroma planes.
type GrayscaleEffect struct{}

// NewGrayscaleEffect creates a grayscale effect.
func NewGrayscaleEffect() *GrayscaleEffect {
	return &GrayscaleEffect{}
}

// Apply sets U and V to 128.
func (ge *GrayscaleEffect) Apply(frame *VideoFrame) (*VideoFrame, error) {
	if frame == nil {
		return nil, ErrNilFrame
	}
	for i := range frame.U {
		frame.U[i] = 128
	}
	for i := range frame.V {
		frame.V[i] = 128
	}
	return frame, nil
}

// Name returns the effect name.
func (ge *GrayscaleEffect) Name() string {
	return "Grayscale"
}

// TimestampEffect burns a frame counter into the top left corner as a row
// of binary blocks, one 8x8 block per bit, most significant bit first.
// Receivers can read the counter back to measure loss.
type TimestampEffect struct {
	bits  int
	count uint32
}

// NewTimestampEffect creates a counter overlay of the given bit width,
// clamped to [1, 32].
func NewTimestampEffect(bits int) *TimestampEffect {
	return &TimestampEffect{bits: clampInt(bits, 1, 32)}
}

// Apply draws the current counter value and advances it.
func (te *TimestampEffect) Apply(frame *VideoFrame) (*VideoFrame, error) {
	if frame == nil {
		return nil, ErrNilFrame
	}
	const block = 8
	if int(frame.Width) < te.bits*block || frame.Height < block {
		return nil, fmt.Errorf("%w: %dx%d too small for %d bit counter", ErrBadFrame, frame.Width, frame.Height, te.bits)
	}
	for bit := 0; bit < te.bits; bit++ {
		value := byte(16)
		if te.count&(1<<uint(te.bits-1-bit)) != 0 {
			value = 235
		}
		for y := 0; y < block; y++ {
			row := frame.Y[y*frame.YStride+bit*block:]
			for x := 0; x < block; x++ {
				row[x] = value
			}
		}
	}
	te.count++
	return frame, nil
}

// Name returns the effect name.
func (te *TimestampEffect) Name() string {
	return fmt.Sprintf("Timestamp(%d)", te.bits)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
