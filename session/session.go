package session

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/opd-ai/rtspcast/transport"
)

// State is the RTSP protocol state of a session.
type State int

const (
	StateInit State = iota
	StateDescribed
	StateSetUp
	StatePlaying
	StatePaused
	StateTornDown
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateDescribed:
		return "DESCRIBED"
	case StateSetUp:
		return "SET_UP"
	case StatePlaying:
		return "PLAYING"
	case StatePaused:
		return "PAUSED"
	case StateTornDown:
		return "TORN_DOWN"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Role distinguishes plain control connections from the two halves of an
// HTTP tunnel.
type Role int

const (
	// RoleControl is a plain RTSP control connection.
	RoleControl Role = iota
	// RoleTunnelGet is the server-to-client half of a tunnel. It owns the
	// protocol state and receives responses and interleaved media.
	RoleTunnelGet
	// RoleTunnelPost carries Base64 encoded requests for a RoleTunnelGet
	// session, found by cookie.
	RoleTunnelPost
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleControl:
		return "control"
	case RoleTunnelGet:
		return "tunnel-get"
	case RoleTunnelPost:
		return "tunnel-post"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// Track holds the negotiated transport of one media kind.
type Track struct {
	Configured bool
	// ClientRTP and ClientRTCP are the client's UDP ports.
	ClientRTP  int
	ClientRTCP int
	// Channel and ChannelRTCP are the interleaved channel numbers.
	Channel     uint8
	ChannelRTCP uint8
}

// Session is the server side record of one control connection.
//
// Values are copied out of the Registry and committed back, so a Session
// held by a caller is a snapshot. Conn and Writer are shared by all copies.
type Session struct {
	ID         uint32
	Conn       net.Conn
	Writer     *transport.ConnWriter
	RemoteIP   string
	RemotePort uint16
	Connected  time.Time

	CSeq    int
	State   State
	Playing bool
	// Issued is set once SETUP has handed the session identifier to the
	// client; responses carry the Session header from then on.
	Issued bool

	Tracks      [transport.MediaKindCount]Track
	Multicast   bool
	Interleaved bool

	Role   Role
	Tunnel bool
	Cookie string
}

// Track returns the negotiated transport for kind.
func (s *Session) Track(kind transport.MediaKind) Track {
	return s.Tracks[kind]
}

// SetTrack records the negotiated transport for kind.
func (s *Session) SetTrack(kind transport.MediaKind, t Track) {
	t.Configured = true
	s.Tracks[kind] = t
}

// HasTracks reports whether any track has been set up.
func (s *Session) HasTracks() bool {
	for _, t := range s.Tracks {
		if t.Configured {
			return true
		}
	}
	return false
}

// IDString formats the session identifier as carried in the Session header.
func (s *Session) IDString() string {
	return fmt.Sprintf("%08X", s.ID)
}

// splitRemote extracts the peer IP and port from a connection.
func splitRemote(conn net.Conn) (string, uint16) {
	if conn == nil || conn.RemoteAddr() == nil {
		return "", 0
	}
	switch addr := conn.RemoteAddr().(type) {
	case *net.TCPAddr:
		return addr.IP.String(), uint16(addr.Port)
	default:
		host, port, err := net.SplitHostPort(addr.String())
		if err != nil {
			return addr.String(), 0
		}
		p, _ := strconv.Atoi(port)
		return host, uint16(p)
	}
}

// KindForChannel maps an interleaved channel received from the client to
// the track it was negotiated for. Only RTP channels match.
func (s *Session) KindForChannel(channel uint8) (transport.MediaKind, bool) {
	if !s.Interleaved {
		return 0, false
	}
	for _, kind := range transport.MediaKinds {
		t := s.Tracks[kind]
		if t.Configured && t.Channel == channel {
			return kind, true
		}
	}
	return 0, false
}
