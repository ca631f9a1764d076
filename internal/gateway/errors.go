package gateway

import (
	"errors"
	"fmt"
)

// ErrSessionExpired is returned for any 401 response. The gateway has
// already forced session teardown by the time callers observe it.
var ErrSessionExpired = errors.New("session expired")

// ErrNetwork is returned when a call could not complete at the transport
// level (connection refused, timeout, DNS failure).
var ErrNetwork = errors.New("network unavailable, retry later")

// RemoteError is a non-401 failure surfaced by the control plane, carrying
// the server-provided message when one was decodable.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// UserMessage resolves any gateway error to the string shown to the user.
// All remote-call failures reduce to this uniform shape; no component above
// the gateway needs a different failure representation.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Message
	}
	return err.Error()
}

// outcome maps an error to a metrics label.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrSessionExpired):
		return "auth_expired"
	case errors.Is(err, ErrNetwork):
		return "network_error"
	default:
		return "remote_error"
	}
}

// statusMessage derives a user-facing message from an HTTP status when the
// response body carried no decodable error payload.
func statusMessage(status int, text string) string {
	if text == "" {
		return fmt.Sprintf("server error (HTTP %d)", status)
	}
	return fmt.Sprintf("server error: %s", text)
}
