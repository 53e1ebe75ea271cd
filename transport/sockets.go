package transport

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// SocketSet owns one lazily opened MediaSocket per media kind. Sockets are
// opened on the first SETUP that needs them and closed together when the
// last client leaves.
type SocketSet struct {
	mu      sync.Mutex
	sockets map[MediaKind]*MediaSocket
}

// NewSocketSet creates the set from per-kind configurations. Kinds without
// a configuration cannot be opened.
func NewSocketSet(configs []SocketConfig) *SocketSet {
	s := &SocketSet{sockets: make(map[MediaKind]*MediaSocket, len(configs))}
	for _, cfg := range configs {
		s.sockets[cfg.Kind] = NewMediaSocket(cfg)
	}
	return s
}

// Socket returns the socket for kind without opening it.
func (s *SocketSet) Socket(kind MediaKind) (*MediaSocket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	socket, ok := s.sockets[kind]
	return socket, ok
}

// Ensure opens the socket for kind if needed and returns it.
func (s *SocketSet) Ensure(kind MediaKind) (*MediaSocket, error) {
	socket, ok := s.Socket(kind)
	if !ok {
		return nil, fmt.Errorf("no %s socket configured", kind)
	}
	if err := socket.Open(); err != nil {
		return nil, err
	}
	return socket, nil
}

// CloseAll closes every open socket. Errors are logged and the first one
// is returned; the remaining sockets are still closed.
func (s *SocketSet) CloseAll() error {
	s.mu.Lock()
	sockets := make([]*MediaSocket, 0, len(s.sockets))
	for _, socket := range s.sockets {
		sockets = append(sockets, socket)
	}
	s.mu.Unlock()

	var first error
	for _, socket := range sockets {
		if err := socket.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "SocketSet.CloseAll",
				"kind":     socket.Kind().String(),
				"error":    err.Error(),
			}).Warn("Failed to close media socket")
			if first == nil {
				first = err
			}
		}
	}
	return first
}
