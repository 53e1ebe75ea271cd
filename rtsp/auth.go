package rtsp

import (
	"crypto/subtle"

	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/headers"
)

// Realm is sent in WWW-Authenticate challenges.
const Realm = "rtspcast"

// Authenticator checks Basic credentials against one configured pair.
// A zero Authenticator has authentication disabled.
type Authenticator struct {
	user string
	pass string
}

// NewAuthenticator stores the expected credentials. An empty user disables
// authentication.
func NewAuthenticator(user, pass string) *Authenticator {
	if user == "" {
		return &Authenticator{}
	}
	return &Authenticator{user: user, pass: pass}
}

// Enabled reports whether credentials are required.
func (a *Authenticator) Enabled() bool {
	return a != nil && a.user != ""
}

// Check validates an Authorization header. With authentication disabled
// every request passes.
func (a *Authenticator) Check(v base.HeaderValue) bool {
	if !a.Enabled() {
		return true
	}
	if len(v) == 0 {
		return false
	}
	var auth headers.Authorization
	if err := auth.Unmarshal(v); err != nil || auth.Method != headers.AuthBasic {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(auth.BasicUser), []byte(a.user)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(auth.BasicPass), []byte(a.pass)) == 1
	return userOK && passOK
}

// Challenge returns the WWW-Authenticate header value.
func (a *Authenticator) Challenge() base.HeaderValue {
	realm := Realm
	challenge := headers.Authenticate{
		Method: headers.AuthBasic,
		Realm:  realm,
	}
	return challenge.Marshal()
}
