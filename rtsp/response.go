package rtsp

import (
	"time"

	"github.com/bluenviron/gortsplib/v4/pkg/base"
)

// reasons overrides gortsplib's reason phrases where RFC 2326 spells them
// differently.
var reasons = map[base.StatusCode]string{
	base.StatusMethodNotValidInThisState: "Method Not Valid in This State",
}

// RejectResponse is written to connections refused by admission control.
const RejectResponse = "RTSP/1.0 503 Service Unavailable\r\n\r\n"

// dateFormat is RFC 1123 with a literal GMT zone.
const dateFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// FormatDate renders t for the Date header.
func FormatDate(t time.Time) string {
	return t.UTC().Format(dateFormat)
}

// newResponse creates a response with an empty header map.
func newResponse(code base.StatusCode) *base.Response {
	return &base.Response{
		StatusCode:    code,
		StatusMessage: reasons[code],
		Header:        base.Header{},
	}
}

// withHeader sets a single-valued header and returns res.
func withHeader(res *base.Response, name, value string) *base.Response {
	res.Header[name] = base.HeaderValue{value}
	return res
}
