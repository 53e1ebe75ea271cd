package rtsp

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"io"
	"strings"
	"testing"

	"github.com/opd-ai/rtspcast/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadMessageTextual(t *testing.T) {
	input := "\r\nOPTIONS rtsp://cam/ RTSP/1.0\r\nCSeq: 1\r\n\r\n" +
		"DESCRIBE rtsp://cam/ RTSP/1.0\r\nCSeq: 2\r\nContent-Length: 4\r\n\r\nbody"
	r := bufio.NewReader(strings.NewReader(input))

	msg, err := ReadMessage(r)
	require.NoError(t, err)
	assert.False(t, msg.Interleaved)
	assert.Equal(t, "OPTIONS rtsp://cam/ RTSP/1.0\r\nCSeq: 1\r\n\r\n", string(msg.Raw))

	msg, err = ReadMessage(r)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(msg.Raw), "\r\n\r\nbody"))

	_, err = ReadMessage(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadMessageInterleaved(t *testing.T) {
	input := append([]byte{'$', 6, 0, 3, 1, 2, 3}, []byte("OPTIONS * RTSP/1.0\r\nCSeq: 9\r\n\r\n")...)
	r := bufio.NewReader(bytes.NewReader(input))

	msg, err := ReadMessage(r)
	require.NoError(t, err)
	assert.True(t, msg.Interleaved)
	assert.Equal(t, uint8(6), msg.Channel)
	assert.Equal(t, []byte{1, 2, 3}, msg.Payload)

	msg, err = ReadMessage(r)
	require.NoError(t, err)
	assert.False(t, msg.Interleaved)
	assert.Equal(t, 9, CaptureCSeq(msg.Raw))
}

func TestReadMessageTooLarge(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{
			name:  "oversized body",
			input: "DESCRIBE x RTSP/1.0\r\nContent-Length: 9000\r\n\r\n",
		},
		{
			name:  "oversized head",
			input: "DESCRIBE x RTSP/1.0\r\n" + strings.Repeat("X-Pad: aaaaaaaaaaaaaaaa\r\n", limits.MaxRequestSize/20) + "\r\n",
		},
		{
			name:  "invalid length",
			input: "DESCRIBE x RTSP/1.0\r\nContent-Length: nope\r\n\r\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := bufio.NewReaderSize(strings.NewReader(tt.input), limits.MaxRequestSize*2)
			_, err := ReadMessage(r)
			assert.ErrorIs(t, err, ErrRequestTooLarge)
		})
	}
}

func TestReadMessageTunnelPost(t *testing.T) {
	head := "POST /cam RTSP/1.0\r\nx-sessioncookie: abc\r\nContent-Length: 32767\r\n\r\n"
	encoded := base64.StdEncoding.EncodeToString([]byte("OPTIONS * RTSP/1.0\r\nCSeq: 1\r\n\r\n"))
	r := bufio.NewReader(strings.NewReader(head + encoded))

	msg, err := ReadMessage(r)
	require.NoError(t, err)
	assert.Equal(t, head, string(msg.Raw))
	assert.True(t, IsTunnelPost(msg.Raw))

	decoded := bufio.NewReader(NewTunnelReader(r))
	msg, err = ReadMessage(decoded)
	require.NoError(t, err)
	assert.Equal(t, "OPTIONS * RTSP/1.0\r\nCSeq: 1\r\n\r\n", string(msg.Raw))
}

func TestTunnelReaderConcatenatedChunks(t *testing.T) {
	first := "OPTIONS * RTSP/1.0\r\nCSeq: 1\r\n\r\n"
	second := "PLAY * RTSP/1.0\r\nCSeq: 2\r\n\r\n"
	stream := base64.StdEncoding.EncodeToString([]byte(first)) + "\r\n" +
		base64.StdEncoding.EncodeToString([]byte(second))

	out, err := io.ReadAll(NewTunnelReader(strings.NewReader(stream)))
	require.NoError(t, err)
	assert.Equal(t, first+second, string(out))
}

func TestTunnelReaderRejectsGarbage(t *testing.T) {
	_, err := io.ReadAll(NewTunnelReader(strings.NewReader("!!!!")))
	assert.Error(t, err)
}
