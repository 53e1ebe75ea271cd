package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listenClient(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestMediaSocketLifecycle(t *testing.T) {
	socket := NewMediaSocket(SocketConfig{Kind: MediaVideo, Host: "127.0.0.1"})
	assert.False(t, socket.IsOpen())
	assert.Nil(t, socket.LocalAddr())

	require.NoError(t, socket.Open())
	require.NoError(t, socket.Open(), "open is idempotent")
	assert.True(t, socket.IsOpen())
	assert.NotNil(t, socket.LocalAddr())

	require.NoError(t, socket.Close())
	require.NoError(t, socket.Close(), "close is idempotent")
	assert.False(t, socket.IsOpen())
}

func TestMediaSocketWriteClosedIsDropped(t *testing.T) {
	client := listenClient(t)
	socket := NewMediaSocket(SocketConfig{Kind: MediaAudio, Host: "127.0.0.1"})

	assert.NoError(t, socket.WriteTo([]byte("never opened"), client.LocalAddr()))

	_, _, err := socket.ReadFrom(make([]byte, 16), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestUDPDestinationDeliver(t *testing.T) {
	client := listenClient(t)
	socket := NewMediaSocket(SocketConfig{Kind: MediaVideo, Host: "127.0.0.1"})
	require.NoError(t, socket.Open())
	defer socket.Close()

	dest := NewUDPDestination(socket, client.LocalAddr())
	assert.Contains(t, dest.String(), "video")
	require.NoError(t, dest.Deliver([]byte{0x80, 26, 0, 1}))

	buf := make([]byte, 64)
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, from, err := client.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x80, 26, 0, 1}, buf[:n])
	assert.Equal(t, socket.LocalAddr().String(), from.String())
}

func TestMediaSocketReadFrom(t *testing.T) {
	socket := NewMediaSocket(SocketConfig{Kind: MediaAudioIn, Host: "127.0.0.1"})
	require.NoError(t, socket.Open())
	defer socket.Close()

	buf := make([]byte, 64)
	_, _, err := socket.ReadFrom(buf, 20*time.Millisecond)
	assert.True(t, IsTimeout(err), "empty socket times out")

	client := listenClient(t)
	_, err = client.WriteTo([]byte("hello"), socket.LocalAddr())
	require.NoError(t, err)

	n, from, err := socket.ReadFrom(buf, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	assert.Equal(t, client.LocalAddr().String(), from.String())
}

func TestMediaSocketMulticastOptions(t *testing.T) {
	socket := NewMediaSocket(SocketConfig{
		Kind:              MediaSubtitles,
		Host:              "127.0.0.1",
		MulticastTTL:      64,
		MulticastLoopback: true,
	})
	require.NoError(t, socket.Open())
	defer socket.Close()
	assert.True(t, socket.IsOpen())
}

func TestMediaSocketBindConflict(t *testing.T) {
	first := NewMediaSocket(SocketConfig{Kind: MediaVideo, Host: "127.0.0.1"})
	require.NoError(t, first.Open())
	defer first.Close()

	port := first.LocalAddr().(*net.UDPAddr).Port
	second := NewMediaSocket(SocketConfig{Kind: MediaVideo, Host: "127.0.0.1", Port: port})
	assert.Error(t, second.Open())
	assert.False(t, second.IsOpen())
}

func TestSocketSet(t *testing.T) {
	set := NewSocketSet([]SocketConfig{
		{Kind: MediaVideo, Host: "127.0.0.1"},
		{Kind: MediaAudio, Host: "127.0.0.1"},
	})

	_, err := set.Ensure(MediaSubtitles)
	assert.Error(t, err, "unconfigured kind")

	video, err := set.Ensure(MediaVideo)
	require.NoError(t, err)
	assert.True(t, video.IsOpen())

	audio, ok := set.Socket(MediaAudio)
	require.True(t, ok)
	assert.False(t, audio.IsOpen(), "sockets open lazily")

	require.NoError(t, set.CloseAll())
	assert.False(t, video.IsOpen())
}

func TestMediaKind(t *testing.T) {
	tests := []struct {
		kind  MediaKind
		name  string
		track int
	}{
		{MediaVideo, "video", 0},
		{MediaAudio, "audio", 1},
		{MediaSubtitles, "subtitles", 2},
		{MediaAudioIn, "audio_in", 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.name, tt.kind.String())
		assert.Equal(t, tt.track, tt.kind.TrackID())
		back, ok := MediaKindForTrack(tt.track)
		assert.True(t, ok)
		assert.Equal(t, tt.kind, back)
	}
	_, ok := MediaKindForTrack(4)
	assert.False(t, ok)
}
