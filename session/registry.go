package session

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/rtspcast/transport"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotFound is returned when a session identifier is not registered.
	ErrNotFound = errors.New("session not found")
	// ErrDuplicateConn is returned when a connection is registered twice.
	ErrDuplicateConn = errors.New("connection already registered")
)

// Registry maps session identifiers to sessions. Every operation holds the
// registry mutex; nothing is held across I/O.
//
// Lookups by connection and by cookie are linear scans. Client counts are
// bounded by a hard cap of ten, so a second index would only add a way for
// the two maps to disagree.
type Registry struct {
	mu       sync.Mutex
	sessions map[uint32]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uint32]*Session)}
}

// Insert creates and registers a session for conn with a fresh random
// identifier that is unique among live sessions.
//
// Parameters:
//   - conn: Accepted control connection
//   - writer: Serialized writer for conn
//
// Returns:
//   - Session: Copy of the registered session
//   - error: ErrDuplicateConn or an entropy failure
func (r *Registry) Insert(conn net.Conn, writer *transport.ConnWriter) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if s.Conn == conn {
			return Session{}, ErrDuplicateConn
		}
	}

	id, err := r.freshIDLocked()
	if err != nil {
		return Session{}, err
	}

	ip, port := splitRemote(conn)
	s := &Session{
		ID:         id,
		Conn:       conn,
		Writer:     writer,
		RemoteIP:   ip,
		RemotePort: port,
		Connected:  time.Now(),
		CSeq:       -1,
		State:      StateInit,
	}
	r.sessions[id] = s

	logrus.WithFields(logrus.Fields{
		"function":    "Registry.Insert",
		"session_id":  s.IDString(),
		"remote_addr": ip,
		"count":       len(r.sessions),
	}).Debug("Session registered")

	return *s, nil
}

func (r *Registry) freshIDLocked() (uint32, error) {
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("generate session id: %w", err)
		}
		id := binary.BigEndian.Uint32(buf[:])
		if id == 0 {
			continue
		}
		if _, taken := r.sessions[id]; !taken {
			return id, nil
		}
	}
}

// Get returns a copy of the session with the given identifier.
func (r *Registry) Get(id uint32) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// FindByConn scans for the session owning conn. O(n).
func (r *Registry) FindByConn(conn net.Conn) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.Conn == conn {
			return *s, true
		}
	}
	return Session{}, false
}

// FindByCookie scans for the tunnel GET session that issued cookie. POST
// halves share the cookie but are never returned. O(n).
func (r *Registry) FindByCookie(cookie string) (Session, bool) {
	if cookie == "" {
		return Session{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.Role == RoleTunnelGet && s.Cookie == cookie {
			return *s, true
		}
	}
	return Session{}, false
}

// Commit stores s over the registered session with the same identifier.
// Only the control loop commits, so there are no lost updates.
func (r *Registry) Commit(s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.sessions[s.ID]
	if !ok {
		return fmt.Errorf("%w: %08X", ErrNotFound, s.ID)
	}
	*stored = s
	return nil
}

// Remove erases a session and returns its last state.
func (r *Registry) Remove(id uint32) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	delete(r.sessions, id)
	return *s, true
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshot returns copies of all sessions. The media path iterates the
// snapshot so teardown can proceed concurrently.
func (r *Registry) Snapshot() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	return out
}

// AnyPlaying reports whether at least one session is playing.
func (r *Registry) AnyPlaying() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.Playing {
			return true
		}
	}
	return false
}
