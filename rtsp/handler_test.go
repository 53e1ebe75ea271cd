package rtsp

import (
	"bufio"
	"bytes"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/headers"
	"github.com/opd-ai/rtspcast/av/audio"
	"github.com/opd-ai/rtspcast/session"
	"github.com/opd-ai/rtspcast/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordConn is a net.Conn that records everything written to it.
type recordConn struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (c *recordConn) Read([]byte) (int, error) { return 0, net.ErrClosed }
func (c *recordConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}
	return c.buf.Write(b)
}
func (c *recordConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}
func (c *recordConn) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(192, 168, 1, 10), Port: 554}
}
func (c *recordConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(192, 168, 1, 20), Port: 50000}
}
func (c *recordConn) SetDeadline(time.Time) error      { return nil }
func (c *recordConn) SetReadDeadline(time.Time) error  { return nil }
func (c *recordConn) SetWriteDeadline(time.Time) error { return nil }

// take returns and clears the recorded output.
func (c *recordConn) take() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.buf.String()
	c.buf.Reset()
	return out
}

type handlerFixture struct {
	handler   *Handler
	registry  *session.Registry
	latch     *TransportLatch
	sockets   *transport.SocketSet
	playbacks int
}

func newHandlerFixture(t *testing.T, auth *Authenticator) *handlerFixture {
	t.Helper()
	f := &handlerFixture{
		registry: session.NewRegistry(),
		latch:    &TransportLatch{},
	}
	var configs []transport.SocketConfig
	for _, kind := range transport.MediaKinds {
		configs = append(configs, transport.SocketConfig{Kind: kind, Host: "127.0.0.1"})
	}
	f.sockets = transport.NewSocketSet(configs)
	t.Cleanup(func() { f.sockets.CloseAll() })

	media := MediaConfig{
		Video:            true,
		Audio:            true,
		AudioCodec:       audio.CodecPCMU,
		SampleRate:       8000,
		ServerPorts:      [transport.MediaKindCount]int{5430, 5432, 5434, 5436},
		MulticastAddress: "239.255.0.1",
		MulticastTTL:     64,
	}
	handler, err := NewHandler(Options{
		Media:            media,
		Auth:             auth,
		Registry:         f.registry,
		Sockets:          f.sockets,
		Latch:            f.latch,
		OnPlaybackChange: func() { f.playbacks++ },
		Now:              func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) },
	})
	require.NoError(t, err)
	f.handler = handler
	return f
}

func (f *handlerFixture) connect(t *testing.T) (session.Session, *recordConn) {
	t.Helper()
	conn := &recordConn{}
	s, err := f.registry.Insert(conn, transport.NewConnWriter(conn, time.Second))
	require.NoError(t, err)
	return s, conn
}

func request(method, uri string, cseq int, headers ...string) []byte {
	var b strings.Builder
	b.WriteString(method + " " + uri + " RTSP/1.0\r\n")
	if cseq >= 0 {
		b.WriteString("CSeq: " + strconv.Itoa(cseq) + "\r\n")
	}
	for _, h := range headers {
		b.WriteString(h + "\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// response parses one recorded RTSP response.
func response(t *testing.T, out string) *base.Response {
	t.Helper()
	var res base.Response
	require.NoError(t, res.Unmarshal(bufio.NewReader(strings.NewReader(out))), "response %q", out)
	return &res
}

// headerValue returns the first value of a response header, ignoring case.
func headerValue(res *base.Response, name string) (string, bool) {
	for key, values := range res.Header {
		if strings.EqualFold(key, name) && len(values) > 0 {
			return values[0], true
		}
	}
	return "", false
}

// expect asserts the status and CSeq of a recorded response.
func expect(t *testing.T, out string, status base.StatusCode, cseq int) *base.Response {
	t.Helper()
	res := response(t, out)
	assert.Equal(t, status, res.StatusCode)
	got, ok := headerValue(res, "CSeq")
	if cseq < 0 {
		assert.False(t, ok, "unexpected CSeq %q", got)
	} else {
		assert.Equal(t, strconv.Itoa(cseq), got)
	}
	return res
}

func tunnelResponse(t *testing.T, out string) *http.Response {
	t.Helper()
	res, err := http.ReadResponse(bufio.NewReader(strings.NewReader(out)), nil)
	require.NoError(t, err, "response %q", out)
	return res
}

func TestNewHandlerRequiresCollaborators(t *testing.T) {
	_, err := NewHandler(Options{})
	assert.Error(t, err)
}

func TestHandlerOptions(t *testing.T) {
	f := newHandlerFixture(t, nil)
	s, conn := f.connect(t)

	result := f.handler.Handle(s.ID, request(MethodOptions, "rtsp://cam/", 1))
	assert.Equal(t, Result{}, result)

	res := expect(t, conn.take(), base.StatusOK, 1)
	public, _ := headerValue(res, "Public")
	assert.Equal(t, "OPTIONS, DESCRIBE, SETUP, PLAY, PAUSE, TEARDOWN", public)
	date, _ := headerValue(res, "Date")
	assert.Equal(t, "Tue, 02 Jan 2024 03:04:05 GMT", date)
	_, ok := headerValue(res, "Session")
	assert.False(t, ok)
}

func TestHandlerFullUnicastFlow(t *testing.T) {
	f := newHandlerFixture(t, NewAuthenticator("admin", "secret"))
	s, conn := f.connect(t)

	f.handler.Handle(s.ID, request(MethodDescribe, "rtsp://cam/", 2))
	res := expect(t, conn.take(), base.StatusUnauthorized, 2)
	challenge, _ := headerValue(res, "WWW-Authenticate")
	assert.Equal(t, `Basic realm="rtspcast"`, challenge)
	got, _ := f.registry.Get(s.ID)
	assert.Equal(t, session.StateInit, got.State)

	f.handler.Handle(s.ID, request(MethodDescribe, "rtsp://cam/", 3, "Authorization: Basic YWRtaW46c2VjcmV0"))
	res = expect(t, conn.take(), base.StatusOK, 3)
	contentType, _ := headerValue(res, "Content-Type")
	assert.Equal(t, "application/sdp", contentType)
	contentBase, _ := headerValue(res, "Content-Base")
	assert.Equal(t, "rtsp://cam/", contentBase)
	assert.Contains(t, string(res.Body), "o=- ")
	assert.Contains(t, string(res.Body), "IN IP4 192.168.1.10")
	assert.Contains(t, string(res.Body), "m=video 0 RTP/AVP 26")

	f.handler.Handle(s.ID, request(MethodSetup, "rtsp://cam/trackID=0", 4,
		"Transport: RTP/AVP;unicast;client_port=6000-6001"))
	res = expect(t, conn.take(), base.StatusOK, 4)
	var th headers.Transport
	require.NoError(t, th.Unmarshal(res.Header["Transport"]))
	assert.Equal(t, &[2]int{6000, 6001}, th.ClientPorts)
	assert.Equal(t, &[2]int{5430, 5431}, th.ServerPorts)
	sessionHeader, _ := headerValue(res, "Session")
	assert.Equal(t, s.IDString()+";timeout=60", sessionHeader)

	got, _ = f.registry.Get(s.ID)
	assert.Equal(t, session.StateSetUp, got.State)
	assert.True(t, got.Issued)
	assert.Equal(t, 6000, got.Track(transport.MediaVideo).ClientRTP)
	socket, _ := f.sockets.Socket(transport.MediaVideo)
	assert.True(t, socket.IsOpen())

	f.handler.Handle(s.ID, request(MethodPlay, "rtsp://cam/", 5, "Session: "+s.IDString()))
	res = expect(t, conn.take(), base.StatusOK, 5)
	rangeHeader, _ := headerValue(res, "Range")
	assert.Equal(t, "npt=0.000-", rangeHeader)
	assert.True(t, f.registry.AnyPlaying())
	assert.Equal(t, 1, f.playbacks)

	f.handler.Handle(s.ID, request(MethodPause, "rtsp://cam/", 6, "Session: "+s.IDString()))
	expect(t, conn.take(), base.StatusOK, 6)
	assert.False(t, f.registry.AnyPlaying())
	assert.Equal(t, 2, f.playbacks)

	result := f.handler.Handle(s.ID, request(MethodTeardown, "rtsp://cam/", 7, "Session: "+s.IDString()))
	assert.True(t, result.Close)
	expect(t, conn.take(), base.StatusOK, 7)
	got, _ = f.registry.Get(s.ID)
	assert.Equal(t, session.StateTornDown, got.State)
}

func TestHandlerErrors(t *testing.T) {
	tests := []struct {
		name   string
		prep   [][]byte
		raw    []byte
		status base.StatusCode
		cseq   int
	}{
		{
			name:   "missing cseq",
			raw:    request(MethodOptions, "rtsp://cam/", -1),
			status: base.StatusBadRequest,
			cseq:   -1,
		},
		{
			name:   "missing cseq after numbered request",
			prep:   [][]byte{request(MethodDescribe, "rtsp://cam/", 7)},
			raw:    request(MethodOptions, "rtsp://cam/", -1),
			status: base.StatusBadRequest,
			cseq:   -1,
		},
		{
			name:   "malformed request line",
			raw:    []byte("BROKEN\r\nCSeq: 4\r\n\r\n"),
			status: base.StatusBadRequest,
			cseq:   4,
		},
		{
			name:   "unknown verb",
			raw:    request("GET_PARAMETER", "rtsp://cam/", 2),
			status: base.StatusMethodNotAllowed,
			cseq:   2,
		},
		{
			name:   "play before setup",
			raw:    request(MethodPlay, "rtsp://cam/", 2),
			status: base.StatusMethodNotValidInThisState,
			cseq:   2,
		},
		{
			name:   "setup before describe",
			raw:    request(MethodSetup, "rtsp://cam/trackID=0", 2, "Transport: RTP/AVP;unicast;client_port=6000-6001"),
			status: base.StatusMethodNotValidInThisState,
			cseq:   2,
		},
		{
			name:   "disabled track",
			prep:   [][]byte{request(MethodDescribe, "rtsp://cam/", 1)},
			raw:    request(MethodSetup, "rtsp://cam/trackID=2", 2, "Transport: RTP/AVP;unicast;client_port=6000-6001"),
			status: base.StatusNotFound,
			cseq:   2,
		},
		{
			name:   "unknown track",
			prep:   [][]byte{request(MethodDescribe, "rtsp://cam/", 1)},
			raw:    request(MethodSetup, "rtsp://cam/trackID=9", 2, "Transport: RTP/AVP;unicast;client_port=6000-6001"),
			status: base.StatusNotFound,
			cseq:   2,
		},
		{
			name:   "bad transport",
			prep:   [][]byte{request(MethodDescribe, "rtsp://cam/", 1)},
			raw:    request(MethodSetup, "rtsp://cam/trackID=0", 2, "Transport: RTP/AVP;unicast"),
			status: base.StatusUnsupportedTransport,
			cseq:   2,
		},
		{
			name: "wrong session",
			prep: [][]byte{
				request(MethodDescribe, "rtsp://cam/", 1),
				request(MethodSetup, "rtsp://cam/trackID=0", 2, "Transport: RTP/AVP/TCP;interleaved=0-1"),
			},
			raw:    request(MethodPlay, "rtsp://cam/", 3, "Session: DEADBEEF"),
			status: base.StatusSessionNotFound,
			cseq:   3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t, nil)
			s, conn := f.connect(t)
			for _, raw := range tt.prep {
				require.Equal(t, Result{}, f.handler.Handle(s.ID, raw))
			}
			conn.take()

			result := f.handler.Handle(s.ID, tt.raw)
			assert.False(t, result.Close)
			res := expect(t, conn.take(), tt.status, tt.cseq)
			if tt.status == base.StatusMethodNotAllowed {
				allow, _ := headerValue(res, "Allow")
				assert.Contains(t, allow, MethodTeardown)
			}
		})
	}
}

func TestHandlerLatchRejectsOtherMode(t *testing.T) {
	f := newHandlerFixture(t, nil)
	first, _ := f.connect(t)
	second, conn := f.connect(t)

	f.handler.Handle(first.ID, request(MethodDescribe, "rtsp://cam/", 1))
	f.handler.Handle(first.ID, request(MethodSetup, "rtsp://cam/trackID=0", 2, "Transport: RTP/AVP/TCP;interleaved=0-1"))

	f.handler.Handle(second.ID, request(MethodDescribe, "rtsp://cam/", 1))
	conn.take()
	f.handler.Handle(second.ID, request(MethodSetup, "rtsp://cam/trackID=0", 2, "Transport: RTP/AVP;unicast;client_port=6000-6001"))
	expect(t, conn.take(), base.StatusUnsupportedTransport, 2)

	f.handler.Handle(second.ID, request(MethodSetup, "rtsp://cam/trackID=0", 3, "Transport: RTP/AVP/TCP;interleaved=0-1"))
	res := expect(t, conn.take(), base.StatusOK, 3)
	var th headers.Transport
	require.NoError(t, th.Unmarshal(res.Header["Transport"]))
	assert.Equal(t, headers.TransportProtocolTCP, th.Protocol)
	assert.Equal(t, &[2]int{0, 1}, th.InterleavedIDs)
}

func TestHandlerFailedSetupDoesNotLatch(t *testing.T) {
	f := newHandlerFixture(t, nil)
	s, conn := f.connect(t)

	f.handler.Handle(s.ID, request(MethodDescribe, "rtsp://cam/", 1))
	f.handler.Handle(s.ID, request(MethodSetup, "rtsp://cam/trackID=7", 2, "Transport: RTP/AVP;multicast"))
	_, _, set := f.latch.Mode()
	assert.False(t, set)

	conn.take()
	f.handler.Handle(s.ID, request(MethodSetup, "rtsp://cam/trackID=0", 3, "Transport: RTP/AVP;multicast"))
	res := expect(t, conn.take(), base.StatusOK, 3)
	var th headers.Transport
	require.NoError(t, th.Unmarshal(res.Header["Transport"]))
	require.NotNil(t, th.Delivery)
	assert.Equal(t, headers.TransportDeliveryMulticast, *th.Delivery)
	require.NotNil(t, th.Destination)
	assert.Equal(t, "239.255.0.1", th.Destination.String())
	assert.Equal(t, &[2]int{5430, 5431}, th.Ports)
	require.NotNil(t, th.TTL)
	assert.Equal(t, uint(64), *th.TTL)

	multicast, _, set := f.latch.Mode()
	assert.True(t, set)
	assert.True(t, multicast)
}

func TestHandlerSetupDefaultsToVideoTrack(t *testing.T) {
	f := newHandlerFixture(t, nil)
	s, conn := f.connect(t)
	f.handler.Handle(s.ID, request(MethodDescribe, "rtsp://cam/", 1))
	conn.take()

	f.handler.Handle(s.ID, request(MethodSetup, "rtsp://cam/", 2, "Transport: RTP/AVP/TCP;interleaved=4-5"))
	expect(t, conn.take(), base.StatusOK, 2)

	got, _ := f.registry.Get(s.ID)
	kind, ok := got.KindForChannel(4)
	assert.True(t, ok)
	assert.Equal(t, transport.MediaVideo, kind)
	_, ok = got.KindForChannel(5)
	assert.False(t, ok)
}

func TestHandlerTornDownRejectsEverything(t *testing.T) {
	f := newHandlerFixture(t, nil)
	s, conn := f.connect(t)
	f.handler.Handle(s.ID, request(MethodTeardown, "rtsp://cam/", 1))
	conn.take()

	f.handler.Handle(s.ID, request(MethodOptions, "rtsp://cam/", 2))
	expect(t, conn.take(), base.StatusMethodNotValidInThisState, 2)
}

func TestHandlerUnknownSession(t *testing.T) {
	f := newHandlerFixture(t, nil)
	assert.True(t, f.handler.Handle(12345, request(MethodOptions, "rtsp://cam/", 1)).Close)
}

func TestHandlerTunnel(t *testing.T) {
	f := newHandlerFixture(t, nil)
	get, getConn := f.connect(t)
	post, postConn := f.connect(t)

	result := f.handler.Handle(get.ID, []byte("GET /cam HTTP/1.0\r\nx-sessioncookie: c00kie\r\nAccept: application/x-rtsp-tunnelled\r\n\r\n"))
	assert.Equal(t, Result{}, result)
	out := getConn.take()
	assert.True(t, strings.HasPrefix(out, "HTTP/1.0 200 OK\r\n"))
	assert.NotContains(t, out, "Content-Length")
	res := tunnelResponse(t, out)
	assert.Equal(t, "application/x-rtsp-tunnelled", res.Header.Get("Content-Type"))
	assert.Equal(t, "c00kie", res.Header.Get("x-sessioncookie"))
	assert.Equal(t, "no-store", res.Header.Get("Cache-Control"))

	result = f.handler.Handle(post.ID, []byte("POST /cam HTTP/1.0\r\nx-sessioncookie: c00kie\r\nContent-Length: 32767\r\n\r\n"))
	assert.Equal(t, Result{}, result)
	assert.Empty(t, postConn.take())

	// Requests decoded from the POST side are answered on the GET side.
	f.handler.Handle(post.ID, request(MethodDescribe, "rtsp://cam/", 1))
	assert.Empty(t, postConn.take())
	expect(t, getConn.take(), base.StatusOK, 1)

	f.handler.Handle(post.ID, request(MethodSetup, "rtsp://cam/trackID=0", 2, "Transport: RTP/AVP;unicast;client_port=6000-6001"))
	expect(t, getConn.take(), base.StatusUnsupportedTransport, 2)

	f.handler.Handle(post.ID, request(MethodSetup, "rtsp://cam/trackID=0", 3, "Transport: RTP/AVP/TCP;interleaved=0-1"))
	expect(t, getConn.take(), base.StatusOK, 3)

	gotGet, _ := f.registry.Get(get.ID)
	assert.Equal(t, session.StateSetUp, gotGet.State)
	assert.True(t, gotGet.Tunnel)
	gotPost, _ := f.registry.Get(post.ID)
	assert.Equal(t, session.StateInit, gotPost.State)
	assert.Equal(t, session.RoleTunnelPost, gotPost.Role)

	result = f.handler.Handle(post.ID, request(MethodTeardown, "rtsp://cam/", 4))
	assert.True(t, result.Close)
	assert.Equal(t, get.ID, result.CloseSession)
}

func TestHandlerTunnelCookies(t *testing.T) {
	f := newHandlerFixture(t, nil)
	first, _ := f.connect(t)
	dup, dupConn := f.connect(t)
	anon, anonConn := f.connect(t)
	stray, _ := f.connect(t)

	f.handler.Handle(first.ID, []byte("GET /cam HTTP/1.0\r\nx-sessioncookie: shared\r\n\r\n"))

	result := f.handler.Handle(dup.ID, []byte("GET /cam HTTP/1.0\r\nx-sessioncookie: shared\r\n\r\n"))
	assert.True(t, result.Close)
	assert.Equal(t, http.StatusConflict, tunnelResponse(t, dupConn.take()).StatusCode)

	f.handler.Handle(anon.ID, []byte("GET /cam HTTP/1.0\r\n\r\n"))
	res := tunnelResponse(t, anonConn.take())
	assert.Equal(t, http.StatusOK, res.StatusCode)
	got, _ := f.registry.Get(anon.ID)
	assert.Len(t, got.Cookie, 36)
	assert.Equal(t, got.Cookie, res.Header.Get("x-sessioncookie"))

	result = f.handler.Handle(stray.ID, []byte("POST /cam HTTP/1.0\r\nx-sessioncookie: nobody\r\n\r\n"))
	assert.True(t, result.Close)
}

func TestHandlerTunnelPostOrphaned(t *testing.T) {
	f := newHandlerFixture(t, nil)
	get, _ := f.connect(t)
	post, _ := f.connect(t)

	f.handler.Handle(get.ID, []byte("GET /cam HTTP/1.0\r\nx-sessioncookie: gone\r\n\r\n"))
	f.handler.Handle(post.ID, []byte("POST /cam HTTP/1.0\r\nx-sessioncookie: gone\r\n\r\n"))
	f.registry.Remove(get.ID)

	assert.True(t, f.handler.Handle(post.ID, request(MethodOptions, "rtsp://cam/", 1)).Close)
}

func TestHandlerWriteFailureCloses(t *testing.T) {
	f := newHandlerFixture(t, nil)
	s, conn := f.connect(t)
	conn.Close()
	assert.True(t, f.handler.Handle(s.ID, request(MethodOptions, "rtsp://cam/", 1)).Close)
}
