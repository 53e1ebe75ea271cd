// Package rtp builds and parses the RTP packets carried by the media plane.
//
// Three outbound streams are supported, each with its own Stream state:
//
//   - video: RFC 2435 motion-JPEG, payload type 26, 90 kHz clock. Frames are
//     split into fragments of at most 1438 bytes behind an 8 byte JPEG header.
//   - audio: G.711 mu-law (0), A-law (8) or big-endian L16 (97). Fragments
//     never split a sample.
//   - subtitles: T.140 text, payload type 98, one packet per call.
//
// Packetizers only produce bytes; delivery to clients is the caller's
// concern. Header marshaling uses github.com/pion/rtp.
//
// Example:
//
//	ssrcs, _ := rtp.DeriveSSRCSet(rtp.HardwareID())
//	video := rtp.NewVideoPacketizer(rtp.NewStream(rtp.LabelVideo, rtp.PayloadTypeJPEG, ssrcs.Video), nil)
//	packets, err := video.Packetize(jpeg, 80, 640, 480)
package rtp
