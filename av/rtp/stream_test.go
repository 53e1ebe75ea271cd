package rtp

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStream(t *testing.T) {
	s := NewStream(LabelAudio, PayloadTypePCMA, 0xDEADBEEF)

	assert.Equal(t, LabelAudio, s.Name())
	assert.Equal(t, uint32(0xDEADBEEF), s.SSRC())
	assert.Equal(t, PayloadTypePCMA, s.PayloadType())
	assert.Equal(t, uint16(0), s.Sequence())
	assert.Equal(t, uint32(0), s.Timestamp())
	assert.True(t, s.Sent(), "a fresh stream is ready to send")
}

func TestStreamSentFlag(t *testing.T) {
	s := NewStream(LabelVideo, PayloadTypeJPEG, 1)

	s.BeginSend()
	assert.False(t, s.Sent())
	s.EndSend()
	assert.True(t, s.Sent())
}

func TestStreamSetPayloadType(t *testing.T) {
	s := NewStream(LabelAudio, PayloadTypePCMU, 1)
	s.SetPayloadType(PayloadTypeL16)

	sp := NewSubtitlePacketizer(s)
	data, err := sp.Packetize([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, PayloadTypeL16, unmarshal(t, data).PayloadType)
}

func TestStreamStatistics(t *testing.T) {
	s := NewStream(LabelSubtitles, PayloadTypeT140, 1)
	sp := NewSubtitlePacketizer(s)

	_, err := sp.Packetize([]byte("hello"))
	require.NoError(t, err)
	_, err = sp.Packetize([]byte("world!"))
	require.NoError(t, err)

	stats := s.Statistics()
	assert.Equal(t, uint64(2), stats.PacketsSent)
	assert.Equal(t, uint64(11), stats.OctetsSent)
	assert.Equal(t, uint16(2), stats.Sequence)
	assert.Equal(t, uint32(2000), stats.Timestamp)
}

func TestConcurrentProducersKeepFramesContiguous(t *testing.T) {
	clock := newMockTimeProvider()
	vp := NewVideoPacketizer(NewStream(LabelVideo, PayloadTypeJPEG, 1), clock)
	frame := make([]byte, 5000)

	const producers = 8
	results := make([][][]byte, producers)
	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			packets, err := vp.Packetize(frame, 50, 320, 240)
			assert.NoError(t, err)
			results[i] = packets
		}(i)
	}
	wg.Wait()

	for _, packets := range results {
		require.NotEmpty(t, packets)
		base := unmarshal(t, packets[0]).SequenceNumber
		for j, data := range packets {
			assert.Equal(t, base+uint16(j), unmarshal(t, data).SequenceNumber)
		}
	}
	assert.Equal(t, uint16(producers*4), vp.Stream().Sequence())
}
