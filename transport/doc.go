// Package transport moves RTP packets from the server to its clients.
//
// # Architecture
//
// Every client destination satisfies the Destination interface:
//
//	type Destination interface {
//	    Deliver(packet []byte) error
//	    String() string
//	}
//
// Two implementations cover the four RTSP delivery modes:
//
//   - UDPDestination: UDP unicast to a client port, or one multicast group.
//     Datagrams leave from a shared MediaSocket bound to the server's media
//     port. Multicast TTL and loopback are set through golang.org/x/net/ipv4.
//   - InterleavedDestination: "$ channel length" framed packets written on
//     the client's TCP control connection. HTTP tunnel clients use the same
//     framing on the GET connection of the tunnel.
//
// # Resource lifecycle
//
// MediaSockets are opened lazily by SocketSet.Ensure and closed together by
// SocketSet.CloseAll. A write on a closed socket is dropped silently, so a
// producer racing with teardown never observes an error. Control connection
// writes go through ConnWriter, which serializes RTSP responses with
// interleaved media and bounds each write with a deadline.
package transport
