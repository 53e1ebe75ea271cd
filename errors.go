package rtspcast

import "errors"

var (
	// ErrNoTracks is returned when no outbound track is enabled.
	ErrNoTracks = errors.New("at least one of video, audio or subtitles must be enabled")
	// ErrInvalidOptions wraps option validation failures.
	ErrInvalidOptions = errors.New("invalid options")
	// ErrAlreadyRunning is returned by Start on a running server.
	ErrAlreadyRunning = errors.New("server already running")
	// ErrTrackDisabled is returned when sending media on a track that is
	// not enabled.
	ErrTrackDisabled = errors.New("track disabled")
	// ErrInvalidInterval is returned for a non-positive subtitle interval.
	ErrInvalidInterval = errors.New("interval must be positive")
)
