package connect

import "errors"

// ErrAttemptInFlight is returned when the user already has an active
// connection attempt for the app slug. Other users, and other slugs,
// proceed independently.
var ErrAttemptInFlight = errors.New("connection attempt already in flight for this app")

// ErrLaunchBlocked is returned by a Launcher when the environment refuses
// to open the authorization window.
var ErrLaunchBlocked = errors.New("authorization window blocked")

// LaunchBlockedError reports a refused window launch. URL carries the
// authorization link so callers can offer it as a direct fallback.
type LaunchBlockedError struct {
	URL string
}

func (e *LaunchBlockedError) Error() string {
	return "authorization window was blocked; open the link directly"
}

// RequestError reports a rejected or failed connect, disconnect, or
// exchange call. Detail carries the server-provided message when one
// exists.
type RequestError struct {
	Detail string
	Cause  error
}

func (e *RequestError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return "connection request failed"
}

func (e *RequestError) Unwrap() error {
	return e.Cause
}

// MalformedCallbackError reports a callback invocation with missing or
// unusable parameters.
type MalformedCallbackError struct {
	Reason string
}

func (e *MalformedCallbackError) Error() string {
	return "malformed authorization callback: " + e.Reason
}
