// Package rtsp implements the control plane of the streaming server: request
// framing, parsing and the per-session state machine.
//
// A control connection carries textual RTSP requests and, once media is
// negotiated over TCP, interleaved binary frames. ReadMessage tells the two
// apart and bounds every request by limits.MaxRequestSize.
//
// # State machine
//
// Each session moves through INIT, DESCRIBED, SET_UP, PLAYING, PAUSED and
// TORN_DOWN. A verb that is not valid in the current state is answered
// with 455 and leaves the session untouched:
//
//	INIT      --DESCRIBE--> DESCRIBED
//	DESCRIBED --SETUP-----> SET_UP
//	SET_UP    --PLAY------> PLAYING
//	PLAYING   --PAUSE-----> PAUSED
//	PAUSED    --PLAY------> PLAYING
//	any       --TEARDOWN--> TORN_DOWN
//
// The first successful SETUP after the server went idle latches the
// delivery mode (unicast UDP, multicast or interleaved). Later clients
// requesting another mode get 461 until the last client disconnects.
//
// # HTTP tunnelling
//
// Clients behind HTTP proxies open two connections. The GET connection
// receives an application/x-rtsp-tunnelled response and from then on all
// RTSP responses and interleaved media. The POST connection carries Base64
// encoded requests. Both send the same x-sessioncookie header, which is
// how the Handler correlates them; the GET session owns the protocol state.
//
// Example:
//
//	handler, err := rtsp.NewHandler(rtsp.Options{
//		Media:    media,
//		Auth:     rtsp.NewAuthenticator("admin", "secret"),
//		Registry: registry,
//		Sockets:  sockets,
//		Latch:    &rtsp.TransportLatch{},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	result := handler.Handle(sessionID, raw)
package rtsp
