// Package rtspcast implements an RTSP server that streams motion JPEG
// video, G.711 or L16 audio and T.140 subtitles to a small number of
// clients, and receives audio back from them for two-way communication.
//
// The host application owns capture. It pushes frames into the server,
// which packetizes each frame once and delivers the same packets to every
// playing client over UDP unicast, UDP multicast, TCP interleaved or an
// HTTP tunnel.
//
// # Getting Started
//
//	options := rtspcast.NewOptions()
//	options.Subtitles = true
//	options.AudioIn = true
//	options.Username, options.Password = "admin", "secret"
//
//	server, err := rtspcast.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := server.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer server.Stop()
//
//	server.OnClientActivity(func(kind rtspcast.ActivityType, ip string, port uint16, active int) {
//	    log.Printf("%s %s:%d (%d active)", kind, ip, port, active)
//	})
//	server.OnAudioReceived(func(pcm []byte, length int) {
//	    speaker.Write(pcm[:length])
//	})
//
//	for frame := range camera.Frames() {
//	    if server.ReadyToSendFrame() {
//	        server.SendVideoFrame(frame.Scan, frame.Quality, frame.Width, frame.Height)
//	    }
//	}
//
// # Core Types
//
//   - [Server]: Control loop, admission control and the media production API
//   - [Options]: Tracks, ports, codecs, credentials and limits
//   - [ActivityType]: Kinds of client activity reported to the host
//
// # Concurrency
//
// One goroutine runs the control loop. An accept pump and one read pump per
// connection frame bytes and hand them to the loop over a channel; all
// protocol processing, admission and teardown happen on the loop. Media
// production methods may be called from any goroutine. They snapshot the
// session registry and never hold a lock across network I/O. Inbound audio
// is read by a separate ingest goroutine with a 20 ms read deadline.
//
// # Admission
//
// At most MaxClients connections are admitted (default 3, never more than
// 10). Further connections receive "RTSP/1.0 503 Service Unavailable" and
// are closed. When the last client leaves the media sockets are closed and
// the delivery mode chosen by the first client is forgotten.
package rtspcast
