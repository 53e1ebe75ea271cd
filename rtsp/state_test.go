package rtsp

import (
	"strings"
	"testing"

	"github.com/opd-ai/rtspcast/av/audio"
	"github.com/opd-ai/rtspcast/session"
	"github.com/opd-ai/rtspcast/transport"
	"github.com/stretchr/testify/assert"
)

func TestNextState(t *testing.T) {
	tests := []struct {
		method  string
		current session.State
		want    session.State
		valid   bool
	}{
		{MethodOptions, session.StateInit, session.StateInit, true},
		{MethodOptions, session.StatePlaying, session.StatePlaying, true},
		{MethodDescribe, session.StateInit, session.StateDescribed, true},
		{MethodDescribe, session.StatePlaying, session.StatePlaying, true},
		{MethodSetup, session.StateInit, session.StateInit, false},
		{MethodSetup, session.StateDescribed, session.StateSetUp, true},
		{MethodSetup, session.StateSetUp, session.StateSetUp, true},
		{MethodSetup, session.StatePlaying, session.StatePlaying, false},
		{MethodPlay, session.StateDescribed, session.StateDescribed, false},
		{MethodPlay, session.StateSetUp, session.StatePlaying, true},
		{MethodPlay, session.StatePaused, session.StatePlaying, true},
		{MethodPlay, session.StatePlaying, session.StatePlaying, false},
		{MethodPause, session.StatePlaying, session.StatePaused, true},
		{MethodPause, session.StateSetUp, session.StateSetUp, false},
		{MethodTeardown, session.StateInit, session.StateTornDown, true},
		{MethodTeardown, session.StatePlaying, session.StateTornDown, true},
		{MethodOptions, session.StateTornDown, session.StateTornDown, false},
		{MethodTeardown, session.StateTornDown, session.StateTornDown, false},
	}
	for _, tt := range tests {
		t.Run(tt.method+"_from_"+tt.current.String(), func(t *testing.T) {
			got, valid := nextState(tt.method, tt.current)
			assert.Equal(t, tt.valid, valid)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransportLatch(t *testing.T) {
	var latch TransportLatch

	_, _, set := latch.Mode()
	assert.False(t, set)
	assert.True(t, latch.Compatible(true, false))
	assert.True(t, latch.Compatible(false, true))

	latch.Acquire(false, false)
	assert.True(t, latch.Compatible(false, false))
	assert.False(t, latch.Compatible(true, false))
	assert.False(t, latch.Compatible(false, true))

	// A later acquire does not move the mode.
	latch.Acquire(true, false)
	multicast, interleaved, set := latch.Mode()
	assert.True(t, set)
	assert.False(t, multicast)
	assert.False(t, interleaved)

	latch.Reset()
	assert.True(t, latch.Compatible(true, false))
}

// buildSDPString adapts BuildSDP's ([]byte, error) result for string assertions.
func buildSDPString(t *testing.T, media MediaConfig, sessionID uint32, serverIP string, multicast bool) string {
	t.Helper()
	body, err := BuildSDP(media, sessionID, serverIP, multicast)
	if err != nil {
		t.Fatalf("BuildSDP: %v", err)
	}
	return string(body)
}

func TestBuildSDP(t *testing.T) {
	media := MediaConfig{
		Video:            true,
		Audio:            true,
		Subtitles:        true,
		AudioIn:          true,
		AudioCodec:       audio.CodecPCMU,
		AudioInCodec:     audio.CodecL16,
		SampleRate:       8000,
		MulticastAddress: "239.255.0.1",
		MulticastTTL:     64,
	}

	sdp := buildSDPString(t, media, 1234, "192.168.1.10", false)
	for _, line := range []string{
		"v=0\r\n",
		"o=- 1234 1 IN IP4 192.168.1.10\r\n",
		"c=IN IP4 0.0.0.0\r\n",
		"a=control:*\r\n",
		"m=video 0 RTP/AVP 26\r\n",
		"a=rtpmap:26 JPEG/90000\r\n",
		"a=control:trackID=0\r\n",
		"m=audio 0 RTP/AVP 0\r\n",
		"a=rtpmap:0 PCMU/8000/1\r\n",
		"a=control:trackID=1\r\n",
		"m=text 0 RTP/AVP 98\r\n",
		"a=rtpmap:98 t140/1000\r\n",
		"a=control:trackID=2\r\n",
		"m=audio 0 RTP/AVP 97\r\n",
		"a=rtpmap:97 L16/8000/1\r\n",
		"a=control:trackID=3\r\na=sendonly\r\n",
	} {
		assert.Contains(t, sdp, line)
	}
	assert.True(t, strings.HasSuffix(sdp, "\r\n"))

	multicast := buildSDPString(t, media, 1, "", true)
	assert.Contains(t, multicast, "c=IN IP4 239.255.0.1/64\r\n")
	assert.Contains(t, multicast, "o=- 1 1 IN IP4 0.0.0.0\r\n")
}

func TestBuildSDPOmitsDisabledTracks(t *testing.T) {
	media := MediaConfig{Video: true, AudioCodec: audio.CodecOpus, SampleRate: 48000}
	sdp := buildSDPString(t, media, 1, "10.0.0.1", false)
	assert.Contains(t, sdp, "m=video")
	assert.NotContains(t, sdp, "m=audio")
	assert.NotContains(t, sdp, "m=text")

	media.Audio = true
	assert.Contains(t, buildSDPString(t, media, 1, "10.0.0.1", false), "a=rtpmap:111 opus/48000/2\r\n")
}

func TestMediaConfigEnabled(t *testing.T) {
	media := MediaConfig{Video: true, Subtitles: true}
	assert.True(t, media.Enabled(transport.MediaVideo))
	assert.False(t, media.Enabled(transport.MediaAudio))
	assert.True(t, media.Enabled(transport.MediaSubtitles))
	assert.False(t, media.Enabled(transport.MediaAudioIn))
	assert.False(t, media.Enabled(transport.MediaKindCount))
}
