// Package session holds per-client RTSP session state and the registry
// that owns it.
//
// One Session exists per accepted control connection. Sessions are created
// by Registry.Insert before the connection's reader starts, so the dispatch
// loop never sees an unregistered connection. Callers work on copies and
// publish changes with Registry.Commit.
package session
