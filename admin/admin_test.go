package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/rtspcast"
	"github.com/opd-ai/rtspcast/av/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu         sync.Mutex
	maxClients int
	requested  []int
}

func (f *fakeBackend) Status() rtspcast.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return rtspcast.Status{
		Running:       true,
		Address:       "0.0.0.0:554",
		ActiveClients: 1,
		MaxClients:    f.maxClients,
		Playing:       true,
		VideoFPS:      25,
		Streams: []rtspcast.StreamStats{
			{Name: "video", SSRC: 0x1234, PayloadType: 26, Statistics: rtp.Statistics{PacketsSent: 42}},
		},
	}
}

func (f *fakeBackend) Sessions() []rtspcast.SessionInfo {
	return []rtspcast.SessionInfo{{
		ID:         "00000001",
		RemoteAddr: "192.168.1.20:50000",
		State:      "PLAYING",
		Playing:    true,
		Transport:  "udp-unicast",
		Role:       "control",
		Connected:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}}
}

func (f *fakeBackend) SetMaxClients(n int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, n)
	if n > 10 {
		n = 10
	}
	if n < 0 {
		n = 0
	}
	f.maxClients = n
	return n
}

func TestStatus(t *testing.T) {
	backend := &fakeBackend{maxClients: 3}
	router := NewServer(backend).Router()

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, true, body["running"])
	assert.Equal(t, float64(3), body["max_clients"])
	streams, ok := body["streams"].([]any)
	require.True(t, ok)
	require.Len(t, streams, 1)
	stream := streams[0].(map[string]any)
	assert.Equal(t, "video", stream["name"])
	assert.Equal(t, float64(42), stream["packets_sent"])
}

func TestSessions(t *testing.T) {
	router := NewServer(&fakeBackend{}).Router()

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var sessions []rtspcast.SessionInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "udp-unicast", sessions[0].Transport)
	assert.True(t, sessions[0].Playing)
}

func TestSetMaxClients(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantMax    int
	}{
		{"within cap", `{"max_clients": 5}`, http.StatusOK, 5},
		{"clamped", `{"max_clients": 50}`, http.StatusOK, 10},
		{"zero", `{"max_clients": 0}`, http.StatusOK, 0},
		{"missing field", `{}`, http.StatusBadRequest, 0},
		{"unknown field", `{"max": 4}`, http.StatusBadRequest, 0},
		{"not json", `five`, http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{maxClients: 3}
			router := NewServer(backend).Router()

			req := httptest.NewRequest(http.MethodPut, "/clients/max", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				assert.Empty(t, backend.requested)
				return
			}
			var resp MaxClientsResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.wantMax, resp.MaxClients)
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	router := NewServer(&fakeBackend{}).Router()

	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestListenAndShutdown(t *testing.T) {
	s := NewServer(&fakeBackend{maxClients: 2})
	assert.Nil(t, s.Addr())
	require.NoError(t, s.Listen("127.0.0.1:0"))

	resp, err := http.Get("http://" + s.Addr().String() + "/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Shutdown(context.Background()))
	assert.NoError(t, NewServer(&fakeBackend{}).Shutdown(context.Background()))
}

func TestAgainstRealServer(t *testing.T) {
	opts := rtspcast.NewOptions()
	opts.Host = "127.0.0.1"
	opts.Port = 0
	opts.Identity = []byte{0x02, 0, 0, 0, 0, 1}
	server, err := rtspcast.New(opts)
	require.NoError(t, err)

	router := NewServer(server).Router()
	req := httptest.NewRequest(http.MethodPut, "/clients/max", strings.NewReader(`{"max_clients": 12}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, server.MaxClients())
}
