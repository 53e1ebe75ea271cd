package video

import (
	"errors"
	"fmt"
	"image"
)

// ErrNilFrame is returned when a nil frame is passed to a pipeline stage.
var ErrNilFrame = errors.New("input frame cannot be nil")

// ErrBadFrame is returned for frames whose planes do not match their size.
var ErrBadFrame = errors.New("malformed video frame")

// VideoFrame is a planar YUV 4:2:0 picture.
type VideoFrame struct {
	Width   uint16
	Height  uint16
	Y       []byte // Luminance plane
	U       []byte // Cb plane, half width and half height
	V       []byte // Cr plane, half width and half height
	YStride int
	UStride int
	VStride int
}

// NewVideoFrame allocates a tightly packed frame. Width and height must be
// even so that the chroma planes cover the picture exactly.
func NewVideoFrame(width, height uint16) (*VideoFrame, error) {
	if width == 0 || height == 0 || width%2 != 0 || height%2 != 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%d must be even and non-zero", ErrBadFrame, width, height)
	}
	cw, ch := int(width)/2, int(height)/2
	return &VideoFrame{
		Width:   width,
		Height:  height,
		Y:       make([]byte, int(width)*int(height)),
		U:       make([]byte, cw*ch),
		V:       make([]byte, cw*ch),
		YStride: int(width),
		UStride: cw,
		VStride: cw,
	}, nil
}

// Validate checks that every plane is large enough for the frame size.
func (f *VideoFrame) Validate() error {
	if f == nil {
		return ErrNilFrame
	}
	if f.Width == 0 || f.Height == 0 {
		return fmt.Errorf("%w: zero dimension", ErrBadFrame)
	}
	cw, ch := (int(f.Width)+1)/2, (int(f.Height)+1)/2
	planes := []struct {
		name         string
		data         []byte
		stride, w, h int
	}{
		{"Y", f.Y, f.YStride, int(f.Width), int(f.Height)},
		{"U", f.U, f.UStride, cw, ch},
		{"V", f.V, f.VStride, cw, ch},
	}
	for _, p := range planes {
		if p.stride < p.w {
			return fmt.Errorf("%w: %s stride %d below width %d", ErrBadFrame, p.name, p.stride, p.w)
		}
		if need := (p.h-1)*p.stride + p.w; len(p.data) < need {
			return fmt.Errorf("%w: %s plane has %d bytes, need %d", ErrBadFrame, p.name, len(p.data), need)
		}
	}
	return nil
}

// Image wraps the frame planes in an image.YCbCr without copying.
func (f *VideoFrame) Image() *image.YCbCr {
	return &image.YCbCr{
		Y:              f.Y,
		Cb:             f.U,
		Cr:             f.V,
		YStride:        f.YStride,
		CStride:        f.UStride,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, int(f.Width), int(f.Height)),
	}
}

// copyFrame returns a deep copy of frame.
func copyFrame(frame *VideoFrame) *VideoFrame {
	return &VideoFrame{
		Width:   frame.Width,
		Height:  frame.Height,
		Y:       append([]byte(nil), frame.Y...),
		U:       append([]byte(nil), frame.U...),
		V:       append([]byte(nil), frame.V...),
		YStride: frame.YStride,
		UStride: frame.UStride,
		VStride: frame.VStride,
	}
}
