// Package signal is the client side of the signaling channel: one
// websocket per call room, with join on open and bounded reconnects.
package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/callcoord/internal/core"
	"github.com/dkeye/callcoord/internal/domain"
	"github.com/gorilla/websocket"
)

type ConnState int

const (
	StateConnecting ConnState = iota
	// StateReady means the socket is dialed but not yet proven writable.
	StateReady
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateReady:
		return "READY"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// WSConn is the subset of *websocket.Conn the transport uses.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (WSConn, error)
}

// GorillaDialer dials with gorilla/websocket.
type GorillaDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func (d GorillaDialer) Dial(ctx context.Context, url string) (WSConn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// socket is one dialed websocket. A conn goes through several of them
// when it reconnects.
type socket struct {
	ws   WSConn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newSocket(ws WSConn, buffer int) *socket {
	return &socket{ws: ws, send: make(chan []byte, buffer), done: make(chan struct{})}
}

func (s *socket) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.ws.Close()
	})
}

// conn is the per-room connection record. Its fields are guarded by
// Transport.mu.
type conn struct {
	room     domain.RoomID
	self     domain.ParticipantID
	handlers core.SignalHandlers

	state   ConnState
	attempt int
	gen     uint64
	sock    *socket
	timer   *clock.Timer
	closing bool
}
