package rtsp

import (
	"errors"
	"fmt"
	"net"

	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/headers"
)

// ErrBadTransport is returned for a Transport header that cannot be served.
var ErrBadTransport = errors.New("unsupported transport")

const (
	maxPort    = 65535
	maxChannel = 255
)

// TransportSpec is the client's requested delivery for one track.
type TransportSpec struct {
	Multicast   bool
	Interleaved bool
	ClientRTP   int
	ClientRTCP  int
	Channel     uint8
	ChannelRTCP uint8
}

// ParseTransport picks the first servable entry of a Transport header.
//
// Supported forms:
//
//	RTP/AVP;unicast;client_port=6000-6001
//	RTP/AVP;multicast
//	RTP/AVP/TCP;unicast;interleaved=0-1
func ParseTransport(v base.HeaderValue) (TransportSpec, error) {
	if len(v) == 0 {
		return TransportSpec{}, fmt.Errorf("%w: missing header", ErrBadTransport)
	}

	var ths headers.Transports
	if err := ths.Unmarshal(v); err != nil {
		return TransportSpec{}, fmt.Errorf("%w: %v", ErrBadTransport, err)
	}

	var lastErr error
	for _, th := range ths {
		spec, err := specFromHeader(th)
		if err == nil {
			return spec, nil
		}
		lastErr = err
	}
	return TransportSpec{}, lastErr
}

func specFromHeader(th headers.Transport) (TransportSpec, error) {
	spec := TransportSpec{
		Interleaved: th.Protocol == headers.TransportProtocolTCP,
		Multicast:   th.Delivery != nil && *th.Delivery == headers.TransportDeliveryMulticast,
	}

	switch {
	case spec.Interleaved && spec.Multicast:
		return spec, fmt.Errorf("%w: multicast over TCP", ErrBadTransport)

	case spec.Interleaved:
		if th.InterleavedIDs == nil {
			return spec, fmt.Errorf("%w: interleaved channels missing", ErrBadTransport)
		}
		ids := *th.InterleavedIDs
		if !inRange(ids, maxChannel) {
			return spec, fmt.Errorf("%w: interleaved %d-%d", ErrBadTransport, ids[0], ids[1])
		}
		spec.Channel, spec.ChannelRTCP = uint8(ids[0]), uint8(ids[1])

	case !spec.Multicast:
		if th.ClientPorts == nil {
			return spec, fmt.Errorf("%w: client_port missing", ErrBadTransport)
		}
		ports := *th.ClientPorts
		if !inRange(ports, maxPort) {
			return spec, fmt.Errorf("%w: client_port %d-%d", ErrBadTransport, ports[0], ports[1])
		}
		spec.ClientRTP, spec.ClientRTCP = ports[0], ports[1]
	}
	return spec, nil
}

func inRange(pair [2]int, max int) bool {
	return pair[0] >= 0 && pair[0] <= max && pair[1] >= 0 && pair[1] <= max
}

// transportReply builds the Transport header answering spec.
func transportReply(spec TransportSpec, media MediaConfig, serverPort int) base.HeaderValue {
	th := headers.Transport{}
	delivery := headers.TransportDeliveryUnicast

	switch {
	case spec.Interleaved:
		th.Protocol = headers.TransportProtocolTCP
		th.InterleavedIDs = &[2]int{int(spec.Channel), int(spec.ChannelRTCP)}

	case spec.Multicast:
		th.Protocol = headers.TransportProtocolUDP
		delivery = headers.TransportDeliveryMulticast
		destination := net.ParseIP(media.MulticastAddress)
		ttl := uint(media.MulticastTTL)
		th.Destination = &destination
		th.Ports = &[2]int{serverPort, serverPort + 1}
		th.TTL = &ttl

	default:
		th.Protocol = headers.TransportProtocolUDP
		th.ClientPorts = &[2]int{spec.ClientRTP, spec.ClientRTCP}
		th.ServerPorts = &[2]int{serverPort, serverPort + 1}
	}

	th.Delivery = &delivery
	return th.Marshal()
}
