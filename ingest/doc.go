// Package ingest receives the audio clients send back to the server and
// turns it into PCM for the host.
//
// Packets arrive on the dedicated inbound audio socket, on the shared
// outbound audio socket, or as interleaved frames on a TCP control
// connection. Each packet is parsed with rtp.ParseHeader, decoded with the
// configured input codec, optionally upsampled or resampled, passed through
// an optional audio.Processor and finally delivered to the callback as
// little-endian 16-bit PCM. Malformed packets are counted and dropped.
package ingest
