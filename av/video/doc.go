// Package video produces motion-JPEG scans for the RTP video stream.
//
// A camera normally hands the server finished JPEG scans. This package
// covers hosts without one: it renders YUV 4:2:0 frames, runs them through
// an optional effect chain, fits them to the RFC 2435 size grid and encodes
// them into the entropy coded scan that SendVideoFrame expects.
//
// The pipeline:
//
//	TestPattern → EffectChain → Scaler.Fit → Encoder → (scan, quality, width, height)
//
// # Frames
//
// VideoFrame holds planar YUV 4:2:0: a full resolution Y plane and quarter
// resolution U and V planes. Strides may exceed the visible width.
//
// # Encoding
//
// Encoder uses the standard library JPEG encoder and strips everything but
// the scan. The encoder always emits 4:2:0 chroma, so a server fed by it
// must be configured with rtp.JPEGType420:
//
//	options := rtspcast.NewOptions()
//	options.JPEGType = rtp.JPEGType420
//
//	enc, _ := video.NewEncoder(80)
//	frame := pattern.Next()
//	out, err := enc.Encode(frame)
//	if err == nil {
//	    server.SendVideoFrame(out.Scan, out.Quality, out.Width, out.Height)
//	}
//
// Quality follows the IJG scaling used by both the encoder and RFC 2435
// receivers for Q values 1 to 99, so receivers rebuild the same tables
// from the Q byte alone.
package video
