package rtspcast

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/opd-ai/rtspcast/av/rtp"
	"github.com/opd-ai/rtspcast/session"
	"github.com/opd-ai/rtspcast/transport"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// SendVideoFrame packetizes one JPEG frame and sends it to every playing
// client that set up the video track. Without a playing client the frame
// is discarded and the stream state does not advance.
//
// Parameters:
//   - jpeg: Entropy coded JPEG scan data
//   - quality: RFC 2435 Q value (1-99, or 128-255 with in-band tables)
//   - width, height: Frame size in pixels, multiples of 8 up to 2040
//
// Returns:
//   - error: Validation error, or the first delivery error
func (s *Server) SendVideoFrame(jpeg []byte, quality, width, height int) error {
	if !s.opts.Video {
		return fmt.Errorf("%w: video", ErrTrackDisabled)
	}
	if !s.IsPlaying() {
		return nil
	}

	s.sendMu[transport.MediaVideo].Lock()
	defer s.sendMu[transport.MediaVideo].Unlock()

	stream := s.video.Stream()
	stream.BeginSend()
	defer stream.EndSend()

	packets, err := s.video.Packetize(jpeg, quality, width, height)
	if err != nil {
		return err
	}
	return s.deliver(transport.MediaVideo, packets)
}

// SendAudioFrame encodes PCM with the configured output codec and sends it.
func (s *Server) SendAudioFrame(pcm []int16) error {
	if !s.opts.Audio {
		return fmt.Errorf("%w: audio", ErrTrackDisabled)
	}
	if !s.IsPlaying() {
		return nil
	}

	s.sendMu[transport.MediaAudio].Lock()
	defer s.sendMu[transport.MediaAudio].Unlock()

	stream := s.audio.Stream()
	stream.BeginSend()
	defer stream.EndSend()

	payload, err := s.opts.AudioCodec.Encode(pcm)
	if err != nil {
		return err
	}
	packets, err := s.audio.Packetize(payload)
	if err != nil {
		return err
	}
	return s.deliver(transport.MediaAudio, packets)
}

// SendSubtitle sends one line of T.140 text.
func (s *Server) SendSubtitle(text string) error {
	if !s.opts.Subtitles {
		return fmt.Errorf("%w: subtitles", ErrTrackDisabled)
	}
	if !s.IsPlaying() {
		return nil
	}

	s.sendMu[transport.MediaSubtitles].Lock()
	defer s.sendMu[transport.MediaSubtitles].Unlock()

	stream := s.subtitles.Stream()
	stream.BeginSend()
	defer stream.EndSend()

	packet, err := s.subtitles.Packetize([]byte(text))
	if err != nil {
		return err
	}
	return s.deliver(transport.MediaSubtitles, [][]byte{packet})
}

// deliver sends the same packet set to every destination of kind: once to
// the multicast group when any playing session is multicast, and once per
// playing unicast session. Sessions are snapshotted so no lock is held
// while sending. A failing destination does not stop delivery to others.
func (s *Server) deliver(kind transport.MediaKind, packets [][]byte) error {
	var firstErr error
	multicastSent := false

	for _, sess := range s.registry.Snapshot() {
		if !sess.Playing || !sess.Track(kind).Configured {
			continue
		}
		if sess.Multicast {
			if multicastSent {
				continue
			}
			multicastSent = true
		}

		dest, ok := s.destinationFor(kind, sess)
		if !ok {
			continue
		}
		for _, packet := range packets {
			if err := dest.Deliver(packet); err != nil {
				logrus.WithFields(logrus.Fields{
					"function":    "Server.deliver",
					"session_id":  sess.IDString(),
					"destination": dest.String(),
					"error":       err.Error(),
				}).Warn("Media delivery failed")
				if firstErr == nil {
					firstErr = err
				}
				break
			}
		}
	}
	return firstErr
}

func (s *Server) destinationFor(kind transport.MediaKind, sess session.Session) (transport.Destination, bool) {
	track := sess.Track(kind)
	if sess.Interleaved {
		if sess.Writer == nil {
			return nil, false
		}
		return transport.NewInterleavedDestination(sess.Writer, track.Channel), true
	}

	socket, ok := s.sockets.Socket(kind)
	if !ok {
		return nil, false
	}
	var addr *net.UDPAddr
	if sess.Multicast {
		addr = &net.UDPAddr{IP: s.group, Port: s.opts.mediaPort(kind)}
	} else {
		addr = &net.UDPAddr{IP: net.ParseIP(sess.RemoteIP), Port: track.ClientRTP}
	}
	if addr.IP == nil {
		return nil, false
	}
	return transport.NewUDPDestination(socket, addr), true
}

// ReadyToSendFrame reports whether a video frame would be sent now: some
// client is playing and the previous frame has been handed off.
func (s *Server) ReadyToSendFrame() bool {
	return s.opts.Video && s.IsPlaying() && s.video.Stream().Sent()
}

// ReadyToSendAudio reports whether an audio frame would be sent now.
func (s *Server) ReadyToSendAudio() bool {
	return s.opts.Audio && s.IsPlaying() && s.audio.Stream().Sent()
}

// ReadyToSendSubtitles reports whether a subtitle would be sent now.
func (s *Server) ReadyToSendSubtitles() bool {
	return s.opts.Subtitles && s.IsPlaying() && s.subtitles.Stream().Sent()
}

// VideoFPS returns the video frame rate measured over the last second.
func (s *Server) VideoFPS() float64 {
	return s.video.FPS()
}

// StartSubtitlesTimer calls next on a fixed interval and sends the text it
// returns while clients are playing. An empty string skips the tick.
// Starting a timer replaces any running one. Intervals below one second
// are rounded up by the scheduler.
func (s *Server) StartSubtitlesTimer(interval time.Duration, next func() string) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	if next == nil {
		return errors.New("subtitle source cannot be nil")
	}
	if !s.opts.Subtitles {
		return fmt.Errorf("%w: subtitles", ErrTrackDisabled)
	}

	s.cronMutex.Lock()
	defer s.cronMutex.Unlock()

	if s.cron != nil {
		<-s.cron.Stop().Done()
	}

	c := cron.New()
	c.Schedule(cron.Every(interval), cron.FuncJob(func() {
		if !s.ReadyToSendSubtitles() {
			return
		}
		text := next()
		if text == "" {
			return
		}
		if err := s.SendSubtitle(text); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Server.StartSubtitlesTimer",
				"error":    err.Error(),
			}).Warn("Failed to send timed subtitle")
		}
	}))
	c.Start()
	s.cron = c

	logrus.WithFields(logrus.Fields{
		"function": "Server.StartSubtitlesTimer",
		"interval": interval.String(),
	}).Info("Subtitle timer started")

	return nil
}

// StopSubtitlesTimer stops the subtitle timer and waits for a running tick.
func (s *Server) StopSubtitlesTimer() {
	s.cronMutex.Lock()
	defer s.cronMutex.Unlock()

	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
}

// StreamStats describes one outbound stream.
type StreamStats struct {
	Name        string `json:"name"`
	SSRC        uint32 `json:"ssrc"`
	PayloadType uint8  `json:"payload_type"`
	rtp.Statistics
}

// Status is a point-in-time view of the server.
type Status struct {
	Running       bool          `json:"running"`
	Address       string        `json:"address,omitempty"`
	ActiveClients int           `json:"active_clients"`
	MaxClients    int           `json:"max_clients"`
	Playing       bool          `json:"playing"`
	VideoFPS      float64       `json:"video_fps"`
	Streams       []StreamStats `json:"streams"`
	AudioIn       *IngestStats  `json:"audio_in,omitempty"`
}

// IngestStats counts inbound audio packets.
type IngestStats struct {
	Received  uint64 `json:"received"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// SessionInfo describes one connected client.
type SessionInfo struct {
	ID         string    `json:"id"`
	RemoteAddr string    `json:"remote_addr"`
	State      string    `json:"state"`
	Playing    bool      `json:"playing"`
	Transport  string    `json:"transport"`
	Role       string    `json:"role"`
	Connected  time.Time `json:"connected"`
}

// Status returns a snapshot of the server state.
func (s *Server) Status() Status {
	status := Status{
		Running:       s.IsRunning(),
		ActiveClients: s.ActiveClients(),
		MaxClients:    s.MaxClients(),
		Playing:       s.IsPlaying(),
		VideoFPS:      s.VideoFPS(),
	}
	if addr := s.Addr(); addr != nil {
		status.Address = addr.String()
	}

	addStream := func(stream *rtp.Stream) {
		status.Streams = append(status.Streams, StreamStats{
			Name:        stream.Name(),
			SSRC:        stream.SSRC(),
			PayloadType: stream.PayloadType(),
			Statistics:  stream.Statistics(),
		})
	}
	if s.opts.Video {
		addStream(s.video.Stream())
	}
	if s.opts.Audio && s.audio != nil {
		addStream(s.audio.Stream())
	}
	if s.opts.Subtitles {
		addStream(s.subtitles.Stream())
	}

	if s.ingestor != nil {
		stats := s.ingestor.Stats()
		status.AudioIn = &IngestStats{
			Received:  stats.Received,
			Delivered: stats.Delivered,
			Dropped:   stats.Dropped,
		}
	}
	return status
}

// Sessions lists the connected clients.
func (s *Server) Sessions() []SessionInfo {
	snapshot := s.registry.Snapshot()
	out := make([]SessionInfo, 0, len(snapshot))
	for _, sess := range snapshot {
		out = append(out, SessionInfo{
			ID:         sess.IDString(),
			RemoteAddr: net.JoinHostPort(sess.RemoteIP, strconv.Itoa(int(sess.RemotePort))),
			State:      sess.State.String(),
			Playing:    sess.Playing,
			Transport:  transportName(sess),
			Role:       sess.Role.String(),
			Connected:  sess.Connected,
		})
	}
	return out
}

func transportName(sess session.Session) string {
	switch {
	case !sess.HasTracks():
		return "none"
	case sess.Tunnel:
		return "http-tunnel"
	case sess.Interleaved:
		return "tcp-interleaved"
	case sess.Multicast:
		return "udp-multicast"
	}
	return "udp-unicast"
}
