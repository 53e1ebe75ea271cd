package video

import (
	"fmt"
)

// MaxDimension is the largest width or height an RFC 2435 header can carry.
const MaxDimension = 2040

// jpegBlock is the MCU edge for 4:2:0 scans. Fitted frames are multiples of
// it, so the encoder never pads and the header's 8 pixel units are exact.
const jpegBlock = 16

// Scaler resizes YUV 4:2:0 frames with bilinear interpolation.
type Scaler struct{}

// NewScaler creates a scaler.
func NewScaler() *Scaler {
	return &Scaler{}
}

// FitSize returns the largest size not exceeding MaxDimension and a whole
// number of 16 pixel blocks, keeping the aspect ratio of width x height.
func FitSize(width, height uint16) (uint16, uint16, error) {
	if width < jpegBlock || height < jpegBlock {
		return 0, 0, fmt.Errorf("%w: %dx%d smaller than %d pixels", ErrBadFrame, width, height, jpegBlock)
	}
	w, h := float64(width), float64(height)
	if w > MaxDimension || h > MaxDimension {
		scale := MaxDimension / w
		if hs := MaxDimension / h; hs < scale {
			scale = hs
		}
		w, h = w*scale, h*scale
	}
	fw := uint16(w) / jpegBlock * jpegBlock
	fh := uint16(h) / jpegBlock * jpegBlock
	if fw < jpegBlock {
		fw = jpegBlock
	}
	if fh < jpegBlock {
		fh = jpegBlock
	}
	return fw, fh, nil
}

// Fit scales frame to FitSize. A frame that already fits is returned as is.
func (s *Scaler) Fit(frame *VideoFrame) (*VideoFrame, error) {
	if frame == nil {
		return nil, ErrNilFrame
	}
	w, h, err := FitSize(frame.Width, frame.Height)
	if err != nil {
		return nil, err
	}
	if w == frame.Width && h == frame.Height {
		return frame, nil
	}
	return s.Scale(frame, w, h)
}

// Scale resizes a frame to the target size.
//
// Parameters:
//   - frame: Source frame
//   - targetWidth, targetHeight: Even target dimensions, at least 16
//
// Returns:
//   - *VideoFrame: Newly allocated scaled frame
//   - error: Invalid dimensions or malformed source planes
func (s *Scaler) Scale(frame *VideoFrame, targetWidth, targetHeight uint16) (*VideoFrame, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	if targetWidth < jpegBlock || targetHeight < jpegBlock {
		return nil, fmt.Errorf("%w: target %dx%d below %dx%d", ErrBadFrame, targetWidth, targetHeight, jpegBlock, jpegBlock)
	}

	result, err := NewVideoFrame(targetWidth, targetHeight)
	if err != nil {
		return nil, err
	}
	if frame.Width == targetWidth && frame.Height == targetHeight {
		return copyFrame(frame), nil
	}

	scalePlane(frame.Y, int(frame.Width), int(frame.Height), frame.YStride,
		result.Y, int(targetWidth), int(targetHeight), result.YStride)

	sw, sh := (int(frame.Width)+1)/2, (int(frame.Height)+1)/2
	dw, dh := int(targetWidth)/2, int(targetHeight)/2
	scalePlane(frame.U, sw, sh, frame.UStride, result.U, dw, dh, result.UStride)
	scalePlane(frame.V, sw, sh, frame.VStride, result.V, dw, dh, result.VStride)

	return result, nil
}

// scalePlane resamples one plane. Both buffers must already be validated.
func scalePlane(src []byte, srcWidth, srcHeight, srcStride int, dst []byte, dstWidth, dstHeight, dstStride int) {
	xRatio := float64(srcWidth) / float64(dstWidth)
	yRatio := float64(srcHeight) / float64(dstHeight)

	for y := 0; y < dstHeight; y++ {
		srcY := float64(y) * yRatio
		y1 := int(srcY)
		y2 := y1 + 1
		if y2 >= srcHeight {
			y2 = srcHeight - 1
		}
		fy := srcY - float64(y1)

		for x := 0; x < dstWidth; x++ {
			srcX := float64(x) * xRatio
			x1 := int(srcX)
			x2 := x1 + 1
			if x2 >= srcWidth {
				x2 = srcWidth - 1
			}
			fx := srcX - float64(x1)

			p11 := float64(src[y1*srcStride+x1])
			p12 := float64(src[y1*srcStride+x2])
			p21 := float64(src[y2*srcStride+x1])
			p22 := float64(src[y2*srcStride+x2])

			top := p11*(1-fx) + p12*fx
			bottom := p21*(1-fx) + p22*fx
			dst[y*dstStride+x] = byte(top*(1-fy) + bottom*fy + 0.5)
		}
	}
}
