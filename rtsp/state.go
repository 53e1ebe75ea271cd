package rtsp

import (
	"sync"

	"github.com/opd-ai/rtspcast/session"
)

// nextState returns the state a verb moves a session to, and whether the
// verb is valid in the current state. OPTIONS never changes state.
func nextState(method string, current session.State) (session.State, bool) {
	if current == session.StateTornDown {
		return current, false
	}
	switch method {
	case MethodOptions:
		return current, true
	case MethodDescribe:
		if current == session.StateInit {
			return session.StateDescribed, true
		}
		return current, true
	case MethodSetup:
		switch current {
		case session.StateDescribed, session.StateSetUp:
			return session.StateSetUp, true
		}
	case MethodPlay:
		switch current {
		case session.StateSetUp, session.StatePaused:
			return session.StatePlaying, true
		}
	case MethodPause:
		if current == session.StatePlaying {
			return session.StatePaused, true
		}
	case MethodTeardown:
		return session.StateTornDown, true
	}
	return current, false
}

// TransportLatch records the delivery mode chosen by the first client to
// SETUP after the server went idle. Later clients must match it until the
// last client disconnects and the server calls Reset.
type TransportLatch struct {
	mu          sync.Mutex
	set         bool
	multicast   bool
	interleaved bool
}

// Compatible reports whether a SETUP with the given mode may proceed.
func (l *TransportLatch) Compatible(multicast, interleaved bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.set || (l.multicast == multicast && l.interleaved == interleaved)
}

// Acquire latches the mode if none is set yet. It is called once a SETUP
// has succeeded, so a failed SETUP never fixes the mode.
func (l *TransportLatch) Acquire(multicast, interleaved bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.set {
		l.set = true
		l.multicast = multicast
		l.interleaved = interleaved
	}
}

// Mode returns the latched mode and whether one is set.
func (l *TransportLatch) Mode() (multicast, interleaved, set bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.multicast, l.interleaved, l.set
}

// Reset clears the latch.
func (l *TransportLatch) Reset() {
	l.mu.Lock()
	l.set = false
	l.multicast = false
	l.interleaved = false
	l.mu.Unlock()
}
