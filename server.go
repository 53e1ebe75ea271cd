package rtspcast

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/opd-ai/rtspcast/av/rtp"
	"github.com/opd-ai/rtspcast/ingest"
	"github.com/opd-ai/rtspcast/limits"
	"github.com/opd-ai/rtspcast/rtsp"
	"github.com/opd-ai/rtspcast/session"
	"github.com/opd-ai/rtspcast/transport"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// eventQueueSize bounds the events waiting for the control loop.
const eventQueueSize = 64

type eventKind uint8

const (
	eventAccept eventKind = iota
	eventMessage
	eventHangup
)

// event is what the pumps hand to the control loop. Pumps only frame
// bytes; every decision is taken on the loop goroutine.
type event struct {
	kind eventKind
	conn net.Conn
	msg  rtsp.Message
	err  error
}

// Server is an RTSP server streaming MJPEG video, G.711 or L16 audio and
// T.140 subtitles to a bounded number of clients, and receiving audio back.
//
// Control connections are multiplexed on a single loop goroutine. Media is
// pushed by the host through SendVideoFrame, SendAudioFrame and SendSubtitle
// from any goroutine.
type Server struct {
	opts *Options

	registry *session.Registry
	sockets  *transport.SocketSet
	latch    *rtsp.TransportLatch
	handler  *rtsp.Handler
	ingestor *ingest.Ingestor

	video     *rtp.VideoPacketizer
	audio     *rtp.AudioPacketizer
	subtitles *rtp.SubtitlePacketizer
	// group is the multicast destination, resolved once from the options.
	group net.IP
	// sendMu serializes packetize and deliver per media kind, so the
	// fragments of concurrent frames never interleave on the wire.
	sendMu [transport.MediaKindCount]sync.Mutex

	maxMutex   sync.Mutex
	maxClients int

	activeMutex sync.Mutex
	active      int

	playingMutex sync.RWMutex
	playing      bool

	callbackMutex sync.RWMutex
	activityCb    ClientActivityCallback
	audioCb       AudioReceiveCallback

	// Lifecycle, guarded by lifecycleMutex.
	lifecycleMutex sync.Mutex
	running        bool
	listener       net.Listener
	events         chan event
	ctx            context.Context
	cancel         context.CancelFunc
	loopDone       sync.WaitGroup
	pumps          sync.WaitGroup

	// slots is owned by the control loop.
	slots [limits.MaxClientsHardCap]uint32

	cronMutex sync.Mutex
	cron      *cron.Cron
}

// New creates a server. The control listener is not opened until Start.
//
// Parameters:
//   - options: Server configuration; nil selects NewOptions
//
// Returns:
//   - *Server: New server
//   - error: Validation or SSRC derivation failure
func New(options *Options) (*Server, error) {
	if options == nil {
		options = NewOptions()
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}

	identity := options.Identity
	if len(identity) == 0 {
		identity = rtp.HardwareID()
	}
	ssrcs, err := rtp.DeriveSSRCSet(identity)
	if err != nil {
		return nil, fmt.Errorf("derive stream ssrcs: %w", err)
	}

	audioPacketizer, err := rtp.NewAudioPacketizer(
		rtp.NewStream(rtp.LabelAudio, options.AudioCodec.PayloadType(), ssrcs.Audio),
		options.AudioCodec.SampleWidth(),
	)
	if err != nil && options.Audio {
		return nil, fmt.Errorf("create audio packetizer: %w", err)
	}

	video := rtp.NewVideoPacketizer(rtp.NewStream(rtp.LabelVideo, rtp.PayloadTypeJPEG, ssrcs.Video), options.TimeProvider)
	if err := video.SetType(options.JPEGType); err != nil {
		return nil, err
	}

	s := &Server{
		opts:       options,
		group:      net.ParseIP(options.MulticastAddress),
		registry:   session.NewRegistry(),
		latch:      &rtsp.TransportLatch{},
		video:      video,
		audio:      audioPacketizer,
		subtitles:  rtp.NewSubtitlePacketizer(rtp.NewStream(rtp.LabelSubtitles, rtp.PayloadTypeT140, ssrcs.Subtitles)),
		maxClients: options.MaxClients,
	}

	configs := make([]transport.SocketConfig, 0, len(transport.MediaKinds))
	for _, kind := range transport.MediaKinds {
		configs = append(configs, transport.SocketConfig{
			Kind:              kind,
			Host:              options.Host,
			Port:              options.mediaPort(kind),
			MulticastTTL:      options.MulticastTTL,
			MulticastLoopback: options.MulticastLoopback,
		})
	}
	s.sockets = transport.NewSocketSet(configs)

	media := rtsp.MediaConfig{
		Video:            options.Video,
		Audio:            options.Audio,
		Subtitles:        options.Subtitles,
		AudioIn:          options.AudioIn,
		AudioCodec:       options.AudioCodec,
		AudioInCodec:     options.AudioInCodec,
		SampleRate:       options.SampleRate,
		MulticastAddress: options.MulticastAddress,
		MulticastTTL:     options.MulticastTTL,
	}
	for _, kind := range transport.MediaKinds {
		media.ServerPorts[kind] = options.mediaPort(kind)
	}

	s.handler, err = rtsp.NewHandler(rtsp.Options{
		Media:            media,
		Auth:             rtsp.NewAuthenticator(options.Username, options.Password),
		Registry:         s.registry,
		Sockets:          s.sockets,
		Latch:            s.latch,
		OnPlaybackChange: s.recomputePlaying,
	})
	if err != nil {
		return nil, err
	}

	if options.AudioIn {
		s.ingestor, err = ingest.New(ingest.Options{
			Codec:      options.AudioInCodec,
			SampleRate: uint32(options.SampleRate),
			Upsample:   options.Upsample,
			OutputRate: options.receiveRate(),
			Processor:  options.Processor,
			Speaker:    options.Speaker,
		})
		if err != nil {
			return nil, err
		}
		s.ingestor.SetCallback(s.deliverAudio)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "New",
		"video":       options.Video,
		"audio":       options.Audio,
		"subtitles":   options.Subtitles,
		"audio_in":    options.AudioIn,
		"max_clients": options.MaxClients,
		"auth":        options.Username != "",
	}).Info("Server created")

	return s, nil
}

// Start opens the control listener and starts the control loop and, when
// inbound audio is enabled, the ingest loop. A listener failure is the only
// error that aborts Start.
func (s *Server) Start() error {
	s.lifecycleMutex.Lock()
	defer s.lifecycleMutex.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Server.Start",
			"addr":     addr,
			"error":    err.Error(),
		}).Error("Failed to open control listener")
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.listener = listener
	s.events = make(chan event, eventQueueSize)
	s.slots = [limits.MaxClientsHardCap]uint32{}
	s.running = true

	s.loopDone.Add(2)
	go s.run(s.ctx)
	go s.acceptPump(s.ctx, listener)

	if s.ingestor != nil {
		ctx, sockets := s.ctx, s.sockets
		s.pumps.Add(1)
		go func() {
			defer s.pumps.Done()
			s.ingestor.Run(ctx, func() []*transport.MediaSocket {
				var out []*transport.MediaSocket
				for _, kind := range []transport.MediaKind{transport.MediaAudioIn, transport.MediaAudio} {
					if socket, ok := sockets.Socket(kind); ok {
						out = append(out, socket)
					}
				}
				return out
			})
		}()
	}

	logrus.WithFields(logrus.Fields{
		"function": "Server.Start",
		"addr":     listener.Addr().String(),
	}).Info("RTSP server listening")

	return nil
}

// Stop closes the listener and every client session, then releases the
// media sockets. Stopping a stopped server is a no-op.
func (s *Server) Stop() error {
	s.lifecycleMutex.Lock()
	defer s.lifecycleMutex.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	s.cancel()
	err := s.listener.Close()
	s.loopDone.Wait()
	s.drainEvents()

	// The control loop has exited, so closing sessions here cannot race
	// with dispatch.
	for _, sess := range s.registry.Snapshot() {
		s.closeSession(sess.ID, "server stopping")
	}
	s.pumps.Wait()

	s.StopSubtitlesTimer()
	s.sockets.CloseAll()
	s.latch.Reset()
	s.setPlaying(false)

	logrus.WithFields(logrus.Fields{
		"function": "Server.Stop",
	}).Info("RTSP server stopped")

	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// drainEvents closes connections that were accepted but never admitted.
func (s *Server) drainEvents() {
	for {
		select {
		case ev := <-s.events:
			if ev.kind == eventAccept {
				ev.conn.Close()
			}
		default:
			return
		}
	}
}

// Reinit stops the server and starts it again with the same options.
// Clients are disconnected and a running subtitle timer is stopped; stream
// sequence numbers and SSRCs carry over.
func (s *Server) Reinit() error {
	logrus.WithFields(logrus.Fields{
		"function": "Server.Reinit",
	}).Info("Reinitializing server")

	if err := s.Stop(); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	return s.Start()
}

// IsRunning reports whether the server is accepting connections.
func (s *Server) IsRunning() bool {
	s.lifecycleMutex.Lock()
	defer s.lifecycleMutex.Unlock()
	return s.running
}

// Addr returns the control listener address, or nil when stopped.
func (s *Server) Addr() net.Addr {
	s.lifecycleMutex.Lock()
	defer s.lifecycleMutex.Unlock()
	if !s.running {
		return nil
	}
	return s.listener.Addr()
}

// post hands an event to the control loop. It returns false once the
// server is stopping.
func (s *Server) post(ctx context.Context, ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// acceptPump feeds accepted connections to the control loop.
func (s *Server) acceptPump(ctx context.Context, listener net.Listener) {
	defer s.loopDone.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logrus.WithFields(logrus.Fields{
				"function": "Server.acceptPump",
				"error":    err.Error(),
			}).Warn("Accept failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}
		if !s.post(ctx, event{kind: eventAccept, conn: conn}) {
			conn.Close()
			return
		}
	}
}

// readPump frames messages from one control connection. After a tunnel
// POST head the rest of the connection is Base64, so the reader is swapped
// for a decoding one.
func (s *Server) readPump(ctx context.Context, conn net.Conn) {
	defer s.pumps.Done()

	reader := bufio.NewReaderSize(conn, limits.MaxRequestSize)
	for {
		msg, err := rtsp.ReadMessage(reader)
		if err != nil {
			s.post(ctx, event{kind: eventHangup, conn: conn, err: err})
			return
		}
		if !s.post(ctx, event{kind: eventMessage, conn: conn, msg: msg}) {
			return
		}
		if !msg.Interleaved && rtsp.IsTunnelPost(msg.Raw) {
			reader = bufio.NewReaderSize(rtsp.NewTunnelReader(reader), limits.MaxRequestSize)
		}
	}
}

// run is the control loop. It is the only goroutine that admits, dispatches
// to and closes sessions while the server is running.
func (s *Server) run(ctx context.Context) {
	defer s.loopDone.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			switch ev.kind {
			case eventAccept:
				s.acceptIfRoom(ctx, ev.conn)
			case eventMessage:
				s.dispatchReady(ev.conn, ev.msg)
			case eventHangup:
				if sess, ok := s.registry.FindByConn(ev.conn); ok {
					s.closeSession(sess.ID, ev.err.Error())
				}
			}
		}
	}
}

// acceptIfRoom admits conn or refuses it with 503. The session is
// registered before its read pump starts, so dispatch never sees an
// unregistered connection.
func (s *Server) acceptIfRoom(ctx context.Context, conn net.Conn) {
	ip, port := remoteOf(conn)

	slot := -1
	for i, id := range s.slots {
		if id == 0 {
			slot = i
			break
		}
	}

	if s.ActiveClients() >= s.MaxClients() || slot < 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout()))
		_, _ = conn.Write([]byte(rtsp.RejectResponse))
		conn.Close()

		logrus.WithFields(logrus.Fields{
			"function":    "Server.acceptIfRoom",
			"remote_addr": ip,
			"active":      s.ActiveClients(),
			"max_clients": s.MaxClients(),
		}).Warn("Client refused, server full")

		s.reportActivity(ActivityRefusedMaxClients, ip, port, s.ActiveClients())
		return
	}

	writer := transport.NewConnWriter(conn, s.writeTimeout())
	sess, err := s.registry.Insert(conn, writer)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "Server.acceptIfRoom",
			"remote_addr": ip,
			"error":       err.Error(),
		}).Error("Failed to register session")
		conn.Close()
		return
	}

	s.slots[slot] = sess.ID
	active := s.incrementActive()

	logrus.WithFields(logrus.Fields{
		"function":    "Server.acceptIfRoom",
		"session_id":  sess.IDString(),
		"remote_addr": ip,
		"slot":        slot,
		"active":      active,
	}).Info("Client connected")

	s.reportActivity(ActivityConnected, ip, port, active)

	s.pumps.Add(1)
	go s.readPump(ctx, conn)
}

// dispatchReady routes one framed message to its session. The session is
// found by a linear scan of the registry.
func (s *Server) dispatchReady(conn net.Conn, msg rtsp.Message) {
	sess, ok := s.registry.FindByConn(conn)
	if !ok {
		return
	}

	if msg.Interleaved {
		s.handleInterleaved(sess, msg)
		return
	}

	result := s.handler.Handle(sess.ID, msg.Raw)
	if result.CloseSession != 0 {
		s.closeSession(result.CloseSession, "tunnel torn down")
	}
	if result.Close {
		s.closeSession(sess.ID, "closed by control plane")
	}
}

// handleInterleaved passes client media on the inbound audio channel to the
// ingest path. Everything else, such as RTCP receiver reports, is ignored.
func (s *Server) handleInterleaved(sess session.Session, msg rtsp.Message) {
	if s.ingestor == nil {
		return
	}
	if sess.Role == session.RoleTunnelPost {
		get, ok := s.registry.FindByCookie(sess.Cookie)
		if !ok {
			return
		}
		sess = get
	}
	kind, ok := sess.KindForChannel(msg.Channel)
	if !ok || kind != transport.MediaAudioIn {
		return
	}
	if err := s.ingestor.HandlePacket(msg.Payload); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Server.handleInterleaved",
			"session_id": sess.IDString(),
			"channel":    msg.Channel,
			"error":      err.Error(),
		}).Debug("Dropped interleaved audio packet")
	}
}

// closeSession tears a session down. When it is the last client the
// aggregate playing flag is cleared, media sockets are closed and the
// transport latch is reset.
func (s *Server) closeSession(id uint32, reason string) {
	sess, ok := s.registry.Get(id)
	if !ok {
		return
	}

	last := s.ActiveClients() <= 1
	if last {
		s.setPlaying(false)
		s.sockets.CloseAll()
		s.latch.Reset()
	}

	if sess.Writer != nil {
		sess.Writer.Close()
	} else if sess.Conn != nil {
		sess.Conn.Close()
	}
	for i, slotID := range s.slots {
		if slotID == id {
			s.slots[i] = 0
		}
	}
	s.registry.Remove(id)
	active := s.decrementActive()

	if !last && sess.Playing {
		s.recomputePlaying()
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Server.closeSession",
		"session_id":  sess.IDString(),
		"remote_addr": sess.RemoteIP,
		"reason":      reason,
		"active":      active,
	}).Info("Client disconnected")

	s.reportActivity(ActivityDisconnected, sess.RemoteIP, sess.RemotePort, active)

	if sess.Role == session.RoleTunnelGet {
		for _, other := range s.registry.Snapshot() {
			if other.Role == session.RoleTunnelPost && other.Cookie == sess.Cookie {
				s.closeSession(other.ID, "tunnel GET closed")
			}
		}
	}
}

// MaxClients returns the admission limit.
func (s *Server) MaxClients() int {
	s.maxMutex.Lock()
	defer s.maxMutex.Unlock()
	return s.maxClients
}

// SetMaxClients changes the admission limit, clamped to
// limits.MaxClientsHardCap. Clients already admitted stay connected.
//
// Returns:
//   - int: The limit actually applied
func (s *Server) SetMaxClients(n int) int {
	clamped, changed := limits.ClampClients(n)
	if changed {
		logrus.WithFields(logrus.Fields{
			"function":  "Server.SetMaxClients",
			"requested": n,
			"applied":   clamped,
		}).Warn("Max clients clamped")
	}

	s.maxMutex.Lock()
	s.maxClients = clamped
	s.maxMutex.Unlock()
	return clamped
}

// ActiveClients returns the number of admitted clients.
func (s *Server) ActiveClients() int {
	s.activeMutex.Lock()
	defer s.activeMutex.Unlock()
	return s.active
}

func (s *Server) incrementActive() int {
	s.activeMutex.Lock()
	defer s.activeMutex.Unlock()
	s.active++
	return s.active
}

func (s *Server) decrementActive() int {
	s.activeMutex.Lock()
	defer s.activeMutex.Unlock()
	if s.active == 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Server.decrementActive",
		}).Warn("Active client count already zero")
		return 0
	}
	s.active--
	return s.active
}

// IsPlaying reports whether at least one session is playing.
func (s *Server) IsPlaying() bool {
	s.playingMutex.RLock()
	defer s.playingMutex.RUnlock()
	return s.playing
}

func (s *Server) setPlaying(playing bool) {
	s.playingMutex.Lock()
	changed := s.playing != playing
	s.playing = playing
	s.playingMutex.Unlock()

	if changed {
		logrus.WithFields(logrus.Fields{
			"function": "Server.setPlaying",
			"playing":  playing,
		}).Info("Playback state changed")
	}
}

func (s *Server) recomputePlaying() {
	s.setPlaying(s.registry.AnyPlaying())
}

// OnClientActivity sets the callback for client admission events.
func (s *Server) OnClientActivity(callback ClientActivityCallback) {
	s.callbackMutex.Lock()
	defer s.callbackMutex.Unlock()
	s.activityCb = callback
}

// OnAudioReceived sets the callback for decoded inbound audio.
func (s *Server) OnAudioReceived(callback AudioReceiveCallback) {
	s.callbackMutex.Lock()
	defer s.callbackMutex.Unlock()
	s.audioCb = callback
}

func (s *Server) reportActivity(kind ActivityType, ip string, port uint16, active int) {
	s.callbackMutex.RLock()
	cb := s.activityCb
	s.callbackMutex.RUnlock()
	if cb != nil {
		cb(kind, ip, port, active)
	}
}

func (s *Server) deliverAudio(pcm []byte, length int) {
	s.callbackMutex.RLock()
	cb := s.audioCb
	s.callbackMutex.RUnlock()
	if cb != nil {
		cb(pcm, length)
	}
}

func (s *Server) writeTimeout() time.Duration {
	if s.opts.WriteTimeout > 0 {
		return s.opts.WriteTimeout
	}
	return transport.DefaultWriteTimeout
}

func remoteOf(conn net.Conn) (string, uint16) {
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return addr.IP.String(), uint16(addr.Port)
	}
	host, port, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String(), 0
	}
	p, _ := strconv.Atoi(port)
	return host, uint16(p)
}
