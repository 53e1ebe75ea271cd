package rtsp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/headers"
)

// Supported verbs. GET and POST only appear on HTTP tunnel connections.
const (
	MethodOptions  = string(base.Options)
	MethodDescribe = string(base.Describe)
	MethodSetup    = string(base.Setup)
	MethodPlay     = string(base.Play)
	MethodPause    = string(base.Pause)
	MethodTeardown = string(base.Teardown)
	MethodGet      = http.MethodGet
	MethodPost     = http.MethodPost
)

// publicMethods is advertised in OPTIONS responses.
var publicMethods = strings.Join([]string{
	MethodOptions, MethodDescribe, MethodSetup, MethodPlay, MethodPause, MethodTeardown,
}, ", ")

// Header names used by the control plane, in the canonical form both
// gortsplib and net/http store them under.
const (
	headerCSeq          = "CSeq"
	headerSession       = "Session"
	headerTransport     = "Transport"
	headerAuthorization = "Authorization"
	headerCookie        = "X-Sessioncookie"
)

// ErrMalformedRequest is returned for a request that cannot be parsed.
var ErrMalformedRequest = errors.New("malformed request")

// Request is a parsed RTSP request or tunnel HTTP request head.
type Request struct {
	Method string
	URI    string
	Header base.Header
	Body   []byte
	raw    []byte
}

// ParseRequest parses one framed request. RTSP requests are decoded by
// gortsplib; the GET and POST heads that open an HTTP tunnel by net/http.
func ParseRequest(raw []byte) (*Request, error) {
	if isHTTPHead(raw) {
		return parseTunnelHead(raw)
	}

	var req base.Request
	if err := req.Unmarshal(bufio.NewReader(bytes.NewReader(raw))); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}

	uri := "*"
	if req.URL != nil {
		uri = req.URL.String()
	}
	return &Request{
		Method: strings.ToUpper(string(req.Method)),
		URI:    uri,
		Header: req.Header,
		Body:   req.Body,
		raw:    raw,
	}, nil
}

// isHTTPHead reports whether the request line carries an HTTP version.
func isHTTPHead(raw []byte) bool {
	line, _, _ := bytes.Cut(raw, []byte("\n"))
	fields := bytes.Fields(line)
	return len(fields) == 3 && bytes.HasPrefix(fields[2], []byte("HTTP/"))
}

func parseTunnelHead(raw []byte) (*Request, error) {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	header := make(base.Header, len(req.Header))
	for name, values := range req.Header {
		header[name] = base.HeaderValue(values)
	}
	return &Request{
		Method: req.Method,
		URI:    req.RequestURI,
		Header: header,
		raw:    raw,
	}, nil
}

// get returns the first value of a header.
func (r *Request) get(name string) string {
	if values := r.Header[name]; len(values) > 0 {
		return values[0]
	}
	return ""
}

// CSeq returns the request sequence number, or -1 when the header is
// absent or not an integer.
func (r *Request) CSeq() int {
	values, ok := r.Header[headerCSeq]
	if !ok || len(values) == 0 {
		return CaptureCSeq(r.raw)
	}
	n, err := strconv.Atoi(strings.TrimSpace(values[0]))
	if err != nil {
		return -1
	}
	return n
}

// CaptureCSeq scans raw request text for a "CSeq:" token and returns its
// integer value, or -1 when none is present. It is used to answer requests
// too broken to parse.
func CaptureCSeq(raw []byte) int {
	idx := bytes.Index(bytes.ToLower(raw), []byte("cseq:"))
	if idx < 0 {
		return -1
	}
	rest := bytes.TrimLeft(raw[idx+len("cseq:"):], " \t")
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return -1
	}
	n, err := strconv.Atoi(string(rest[:end]))
	if err != nil {
		return -1
	}
	return n
}

// SessionID returns the identifier in the Session header, without any
// ";timeout=" parameter.
func (r *Request) SessionID() string {
	values, ok := r.Header[headerSession]
	if !ok {
		return ""
	}
	var sh headers.Session
	if err := sh.Unmarshal(values); err != nil {
		return ""
	}
	return sh.Session
}

// Cookie returns the tunnel cookie capped at maxLen bytes.
func (r *Request) Cookie(maxLen int) string {
	cookie := strings.TrimSpace(r.get(headerCookie))
	if len(cookie) > maxLen {
		cookie = cookie[:maxLen]
	}
	return cookie
}

// TrackID extracts the "trackID=N" suffix of the request URI.
func (r *Request) TrackID() (int, bool) {
	idx := strings.LastIndex(r.URI, "trackID=")
	if idx < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimRight(r.URI[idx+len("trackID="):], "/"))
	if err != nil {
		return 0, false
	}
	return n, true
}
