package core

import (
	"errors"
	"fmt"

	"github.com/dkeye/callcoord/internal/domain"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrTransportFatal   = errors.New("call disconnected")
	ErrNotOpen          = errors.New("signaling connection not open")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionEnded     = errors.New("session ended")
	ErrBackpressure     = errors.New("backpressure")
)

// RemoteError is an error frame received from the signaling server.
type RemoteError struct {
	Room    domain.RoomID
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error in room %s: %s", e.Room, e.Message)
}

// APIError is a non-2xx answer of the session API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("session api: status %d: %s", e.Status, e.Body)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrPermissionDenied:
		return e.Status == 403
	case ErrSessionNotFound:
		return e.Status == 404
	}
	return false
}
