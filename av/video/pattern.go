package video

// TestPattern renders a moving diagonal gradient with a vertical bar that
// sweeps across the picture, one step per frame. Consecutive frames differ,
// which makes dropped or reordered frames visible at the receiver.
type TestPattern struct {
	width  uint16
	height uint16
	frame  int
}

// NewTestPattern creates a pattern generator for the given size.
func NewTestPattern(width, height uint16) (*TestPattern, error) {
	if _, err := NewVideoFrame(width, height); err != nil {
		return nil, err
	}
	return &TestPattern{width: width, height: height}, nil
}

// Frames returns how many frames have been rendered.
func (p *TestPattern) Frames() int { return p.frame }

// Next renders the next frame.
func (p *TestPattern) Next() *VideoFrame {
	frame, _ := NewVideoFrame(p.width, p.height)
	w, h := int(p.width), int(p.height)
	shift := p.frame * 4

	barWidth := w / 16
	if barWidth < 2 {
		barWidth = 2
	}
	barX := (p.frame * 8) % w

	for y := 0; y < h; y++ {
		row := frame.Y[y*frame.YStride:]
		for x := 0; x < w; x++ {
			value := byte((x + y + shift) % 220)
			if x >= barX && x < barX+barWidth {
				value = 219
			}
			row[x] = value + 16
		}
	}

	cw, ch := w/2, h/2
	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			frame.U[y*frame.UStride+x] = byte(64 + (x*128)/cw)
			frame.V[y*frame.VStride+x] = byte(64 + (y*128)/ch)
		}
	}

	p.frame++
	return frame
}
