// Package limits provides centralized size constants and validation functions
// for rtspcast. Every packet assembly path checks its input against these
// limits and rejects over-length data instead of truncating it.
//
// # Packet Size Hierarchy
//
//   - MaxVideoFragment (1438 bytes): JPEG bytes per video packet. With the
//     8 byte JPEG header and the 12 byte RTP header a video packet fits a
//     1500 byte Ethernet MTU.
//   - MaxAudioFragment (1446 bytes): audio bytes per audio packet. For L16
//     the packetizer rounds this down to a whole number of samples.
//   - MaxSubtitlePayload (1446 bytes): subtitles are sent as one packet and
//     are never fragmented.
//   - MaxInterleavedPayload (65535 bytes): bound imposed by the 16-bit length
//     of the "$" interleaved prefix.
//
// # Control Plane
//
//   - MaxRequestSize bounds one RTSP request read from a control connection.
//   - MaxCookieLength bounds the HTTP tunnel cookie.
//   - MaxClientsHardCap bounds the configurable admission limit:
//
//	n, clamped := limits.ClampClients(requested)
//
// # Error Types
//
//   - ErrEmpty: returned when an empty or nil payload is provided
//   - ErrTooLarge: returned when a payload exceeds the specified limit
package limits
