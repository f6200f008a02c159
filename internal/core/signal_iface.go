package core

import (
	"context"

	"github.com/dkeye/callcoord/internal/domain"
)

type SignalHandlers struct {
	OnMessage func(domain.Message)
	// OnReady fires once join has been sent on a fresh connection.
	OnReady func()
	// OnError receives *RemoteError values and, once, ErrTransportFatal.
	OnError func(error)
}

// SignalTransport multiplexes rooms over websocket connections.
type SignalTransport interface {
	Connect(ctx context.Context, room domain.RoomID, self domain.ParticipantID, h SignalHandlers) error
	Send(room domain.RoomID, msg domain.Message) error
	Disconnect(room domain.RoomID)
}
