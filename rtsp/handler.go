package rtsp

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/headers"
	"github.com/google/uuid"
	"github.com/opd-ai/rtspcast/limits"
	"github.com/opd-ai/rtspcast/session"
	"github.com/opd-ai/rtspcast/transport"
	"github.com/sirupsen/logrus"
)

// sessionTimeout is advertised in the Session header. Idle sessions are not
// expired; the value only tells clients how often to send keep-alives.
const sessionTimeout = 60

// Options configures a Handler.
type Options struct {
	Media    MediaConfig
	Auth     *Authenticator
	Registry *session.Registry
	Sockets  *transport.SocketSet
	Latch    *TransportLatch
	// OnPlaybackChange is called after any session's playing flag changed.
	OnPlaybackChange func()
	// Now overrides the clock used for Date headers.
	Now func() time.Time
}

// Handler runs the control-plane state machine. It is driven by the
// server's single dispatch goroutine and is not safe for concurrent use.
type Handler struct {
	media            MediaConfig
	auth             *Authenticator
	registry         *session.Registry
	sockets          *transport.SocketSet
	latch            *TransportLatch
	onPlaybackChange func()
	now              func() time.Time
}

// Result tells the dispatch loop what to do with connections after a
// request was handled.
type Result struct {
	// Close asks the loop to close the connection that carried the request.
	Close bool
	// CloseSession names another session to close as well, used when a
	// request arriving on a tunnel POST tears down its GET half.
	CloseSession uint32
}

// NewHandler creates a control-plane handler.
//
// Parameters:
//   - opts: Collaborators; Registry, Sockets and Latch are required
//
// Returns:
//   - *Handler: New handler
//   - error: If a required collaborator is missing
func NewHandler(opts Options) (*Handler, error) {
	if opts.Registry == nil || opts.Sockets == nil || opts.Latch == nil {
		return nil, fmt.Errorf("registry, sockets and latch are required")
	}
	if opts.Auth == nil {
		opts.Auth = &Authenticator{}
	}
	if opts.OnPlaybackChange == nil {
		opts.OnPlaybackChange = func() {}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{
		media:            opts.Media,
		auth:             opts.Auth,
		registry:         opts.Registry,
		sockets:          opts.Sockets,
		latch:            opts.Latch,
		onPlaybackChange: opts.OnPlaybackChange,
		now:              opts.Now,
	}, nil
}

// Handle processes one framed request that arrived on the connection of
// session id.
func (h *Handler) Handle(id uint32, raw []byte) Result {
	origin, ok := h.registry.Get(id)
	if !ok {
		return Result{Close: true}
	}

	req, err := ParseRequest(raw)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Handler.Handle",
			"session_id": origin.IDString(),
			"error":      err.Error(),
		}).Warn("Malformed request")
		res := withHeader(newResponse(base.StatusBadRequest), "Date", FormatDate(h.now()))
		if cseq := CaptureCSeq(raw); cseq >= 0 {
			res.Header[headerCSeq] = base.HeaderValue{strconv.Itoa(cseq)}
		}
		return h.write(origin, res)
	}

	switch req.Method {
	case MethodGet:
		return h.handleTunnelGet(origin, req)
	case MethodPost:
		return h.handleTunnelPost(origin, req)
	}

	target := origin
	if origin.Role == session.RoleTunnelPost {
		target, ok = h.registry.FindByCookie(origin.Cookie)
		if !ok {
			logrus.WithFields(logrus.Fields{
				"function":   "Handler.Handle",
				"session_id": origin.IDString(),
			}).Warn("Tunnel GET half is gone, closing POST connection")
			return Result{Close: true}
		}
	}

	result := h.handleRTSP(&target, req)
	if target.ID != origin.ID && result.Close {
		result.CloseSession = target.ID
	}
	return result
}

func isRTSPMethod(method string) bool {
	switch method {
	case MethodOptions, MethodDescribe, MethodSetup, MethodPlay, MethodPause, MethodTeardown:
		return true
	}
	return false
}

// handleRTSP validates sequencing and state, then dispatches the verb.
func (h *Handler) handleRTSP(s *session.Session, req *Request) Result {
	cseq := req.CSeq()

	logrus.WithFields(logrus.Fields{
		"function":   "Handler.handleRTSP",
		"session_id": s.IDString(),
		"method":     req.Method,
		"cseq":       cseq,
		"state":      s.State.String(),
	}).Debug("Handling request")

	// Requests without a sequence number are answered without one.
	s.CSeq = cseq
	if cseq < 0 {
		return h.respond(s, newResponse(base.StatusBadRequest))
	}

	if !isRTSPMethod(req.Method) {
		return h.respond(s, withHeader(newResponse(base.StatusMethodNotAllowed), "Allow", publicMethods))
	}
	if id := req.SessionID(); id != "" && s.Issued && id != s.IDString() {
		return h.respond(s, newResponse(base.StatusSessionNotFound))
	}

	next, valid := nextState(req.Method, s.State)
	if !valid {
		logrus.WithFields(logrus.Fields{
			"function":   "Handler.handleRTSP",
			"session_id": s.IDString(),
			"method":     req.Method,
			"state":      s.State.String(),
		}).Info("Request not valid in current state")
		return h.respond(s, newResponse(base.StatusMethodNotValidInThisState))
	}

	switch req.Method {
	case MethodOptions:
		return h.respond(s, withHeader(newResponse(base.StatusOK), "Public", publicMethods))
	case MethodDescribe:
		return h.handleDescribe(s, req, next)
	case MethodSetup:
		return h.handleSetup(s, req)
	case MethodPlay:
		return h.setPlaying(s, next, true, withHeader(newResponse(base.StatusOK), "Range", "npt=0.000-"))
	case MethodPause:
		return h.setPlaying(s, next, false, newResponse(base.StatusOK))
	default:
		return h.handleTeardown(s)
	}
}

func (h *Handler) handleDescribe(s *session.Session, req *Request, next session.State) Result {
	if !h.auth.Check(req.Header[headerAuthorization]) {
		logrus.WithFields(logrus.Fields{
			"function":    "Handler.handleDescribe",
			"session_id":  s.IDString(),
			"remote_addr": s.RemoteIP,
		}).Warn("Authentication failed")
		res := newResponse(base.StatusUnauthorized)
		res.Header["WWW-Authenticate"] = h.auth.Challenge()
		return h.respond(s, res)
	}

	multicast, _, _ := h.latch.Mode()
	body, err := BuildSDP(h.media, s.ID, localIP(s.Conn), multicast)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Handler.handleDescribe",
			"session_id": s.IDString(),
			"error":      err.Error(),
		}).Error("Failed to build session description")
		return h.respond(s, newResponse(base.StatusInternalServerError))
	}

	contentBase := req.URI
	if !strings.HasSuffix(contentBase, "/") {
		contentBase += "/"
	}

	s.State = next
	res := newResponse(base.StatusOK)
	res.Header["Content-Base"] = base.HeaderValue{contentBase}
	res.Header["Content-Type"] = base.HeaderValue{"application/sdp"}
	res.Body = body
	return h.respond(s, res)
}

func (h *Handler) handleSetup(s *session.Session, req *Request) Result {
	track, ok := req.TrackID()
	if !ok {
		track = transport.MediaVideo.TrackID()
	}
	kind, ok := transport.MediaKindForTrack(track)
	if !ok || !h.media.Enabled(kind) {
		return h.respond(s, newResponse(base.StatusNotFound))
	}

	spec, err := ParseTransport(req.Header[headerTransport])
	if err != nil || (s.Tunnel && !spec.Interleaved) || (spec.Multicast && kind == transport.MediaAudioIn) {
		logrus.WithFields(logrus.Fields{
			"function":   "Handler.handleSetup",
			"session_id": s.IDString(),
			"transport":  req.get(headerTransport),
		}).Info("Unsupported transport requested")
		return h.respond(s, newResponse(base.StatusUnsupportedTransport))
	}
	if !h.latch.Compatible(spec.Multicast, spec.Interleaved) {
		logrus.WithFields(logrus.Fields{
			"function":    "Handler.handleSetup",
			"session_id":  s.IDString(),
			"multicast":   spec.Multicast,
			"interleaved": spec.Interleaved,
		}).Info("Transport conflicts with the mode fixed by the first client")
		return h.respond(s, newResponse(base.StatusUnsupportedTransport))
	}

	if !spec.Interleaved {
		if _, err := h.sockets.Ensure(kind); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "Handler.handleSetup",
				"session_id": s.IDString(),
				"kind":       kind.String(),
				"error":      err.Error(),
			}).Error("Failed to open media socket")
			return h.respond(s, newResponse(base.StatusInternalServerError))
		}
	}
	h.latch.Acquire(spec.Multicast, spec.Interleaved)

	s.SetTrack(kind, session.Track{
		ClientRTP:   spec.ClientRTP,
		ClientRTCP:  spec.ClientRTCP,
		Channel:     spec.Channel,
		ChannelRTCP: spec.ChannelRTCP,
	})
	s.Multicast = spec.Multicast
	s.Interleaved = spec.Interleaved
	s.State = session.StateSetUp
	s.Issued = true

	logrus.WithFields(logrus.Fields{
		"function":    "Handler.handleSetup",
		"session_id":  s.IDString(),
		"kind":        kind.String(),
		"multicast":   spec.Multicast,
		"interleaved": spec.Interleaved,
		"client_port": spec.ClientRTP,
	}).Info("Track set up")

	res := newResponse(base.StatusOK)
	res.Header[headerTransport] = transportReply(spec, h.media, h.media.ServerPorts[kind])
	return h.respond(s, res)
}

func (h *Handler) setPlaying(s *session.Session, next session.State, playing bool, res *base.Response) Result {
	s.State = next
	s.Playing = playing
	result := h.respond(s, res)
	h.onPlaybackChange()
	return result
}

func (h *Handler) handleTeardown(s *session.Session) Result {
	s.State = session.StateTornDown
	s.Playing = false
	h.respond(s, newResponse(base.StatusOK))
	h.onPlaybackChange()
	return Result{Close: true}
}

// respond stamps the common headers, commits the session and writes the
// response on the session's connection.
func (h *Handler) respond(s *session.Session, res *base.Response) Result {
	if s.CSeq >= 0 {
		res.Header[headerCSeq] = base.HeaderValue{strconv.Itoa(s.CSeq)}
	}
	res.Header["Date"] = base.HeaderValue{FormatDate(h.now())}
	if s.Issued {
		timeout := uint(sessionTimeout)
		sh := headers.Session{Session: s.IDString(), Timeout: &timeout}
		res.Header[headerSession] = sh.Marshal()
	}

	if err := h.registry.Commit(*s); err != nil {
		return Result{Close: true}
	}
	return h.write(*s, res)
}

func (h *Handler) write(s session.Session, res *base.Response) Result {
	raw, err := res.Marshal()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Handler.write",
			"session_id": s.IDString(),
			"status":     int(res.StatusCode),
			"error":      err.Error(),
		}).Error("Failed to encode response")
		return Result{Close: true}
	}
	return h.send(s, raw, int(res.StatusCode))
}

func (h *Handler) send(s session.Session, raw []byte, status int) Result {
	if s.Writer == nil {
		return Result{Close: true}
	}
	if _, err := s.Writer.Write(raw); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Handler.send",
			"session_id": s.IDString(),
			"status":     status,
			"error":      err.Error(),
		}).Warn("Failed to write response")
		return Result{Close: true}
	}
	return Result{}
}

// handleTunnelGet turns a fresh connection into the read half of an HTTP
// tunnel, identified by the client's cookie or a generated one.
func (h *Handler) handleTunnelGet(s session.Session, req *Request) Result {
	if s.Role != session.RoleControl || s.State != session.StateInit {
		return h.writeHTTP(s, http.StatusBadRequest, "", true)
	}

	cookie := req.Cookie(limits.MaxCookieLength)
	if cookie == "" {
		cookie = uuid.NewString()
	}
	if _, taken := h.registry.FindByCookie(cookie); taken {
		logrus.WithFields(logrus.Fields{
			"function":   "Handler.handleTunnelGet",
			"session_id": s.IDString(),
		}).Warn("Tunnel cookie already in use")
		return h.writeHTTP(s, http.StatusConflict, "", true)
	}

	s.Role = session.RoleTunnelGet
	s.Tunnel = true
	s.Cookie = cookie
	if err := h.registry.Commit(s); err != nil {
		return Result{Close: true}
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Handler.handleTunnelGet",
		"session_id":  s.IDString(),
		"remote_addr": s.RemoteIP,
	}).Info("HTTP tunnel opened")

	return h.writeHTTP(s, http.StatusOK, cookie, false)
}

// handleTunnelPost links a POST connection to its GET half by cookie.
// There is no response; the Base64 request stream follows.
func (h *Handler) handleTunnelPost(s session.Session, req *Request) Result {
	if s.Role != session.RoleControl {
		return Result{Close: true}
	}
	cookie := req.Cookie(limits.MaxCookieLength)
	get, ok := h.registry.FindByCookie(cookie)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function":   "Handler.handleTunnelPost",
			"session_id": s.IDString(),
		}).Warn("No tunnel matches POST cookie")
		return Result{Close: true}
	}

	s.Role = session.RoleTunnelPost
	s.Tunnel = true
	s.Cookie = cookie
	if err := h.registry.Commit(s); err != nil {
		return Result{Close: true}
	}

	logrus.WithFields(logrus.Fields{
		"function":       "Handler.handleTunnelPost",
		"session_id":     s.IDString(),
		"get_session_id": get.IDString(),
	}).Info("HTTP tunnel POST linked")

	return Result{}
}

// writeHTTP answers a tunnel GET. A successful reply has no length: the
// RTSP responses that follow form its body.
func (h *Handler) writeHTTP(s session.Session, status int, cookie string, closeAfter bool) Result {
	res := &http.Response{
		StatusCode:    status,
		ProtoMajor:    1,
		ProtoMinor:    0,
		Header:        http.Header{},
		ContentLength: 0,
		Close:         true,
	}
	res.Header.Set("Date", FormatDate(h.now()))
	if status == http.StatusOK {
		res.ContentLength = -1
		res.Header.Set("Server", "rtspcast")
		res.Header.Set("Cache-Control", "no-store")
		res.Header.Set("Pragma", "no-cache")
		res.Header.Set("Content-Type", "application/x-rtsp-tunnelled")
		res.Header.Set(headerCookie, cookie)
	}

	var buf strings.Builder
	if err := res.Write(&buf); err != nil {
		return Result{Close: true}
	}
	result := h.send(s, []byte(buf.String()), status)
	if closeAfter {
		result.Close = true
	}
	return result
}

func localIP(conn net.Conn) string {
	if conn == nil || conn.LocalAddr() == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(conn.LocalAddr().String())
	if err != nil {
		return ""
	}
	return host
}
