// Package relay is the reference signaling server: it multiplexes call
// rooms over websocket connections and forwards negotiation messages
// between the participants of an active session.
package relay

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/callcoord/internal/core"
	"github.com/dkeye/callcoord/internal/domain"
	"github.com/dkeye/callcoord/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var errConnClosed = errors.New("connection closed")

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	RateLimit  float64
	RateBurst  int
	SendBuffer int
}

type Controller struct {
	Sessions *server.SessionStore
	Rooms    *server.RoomManager

	opts    Options
	limiter *Limiter
}

func NewController(sessions *server.SessionStore, rooms *server.RoomManager, opts Options) *Controller {
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	return &Controller{
		Sessions: sessions,
		Rooms:    rooms,
		opts:     opts,
		limiter:  NewLimiter(opts.RateLimit, opts.RateBurst),
	}
}

type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool

	// id is the authenticated participant, fixed at upgrade.
	id domain.ParticipantID
	// owned by the read pump
	rooms map[domain.RoomID]*server.Room
}

func (c *wsConn) ID() domain.ParticipantID { return c.id }

func (c *wsConn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- data:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and serves it as participant id, as
// resolved by the caller's authentication. An empty id gets a connection
// that can join nothing.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context, id domain.ParticipantID) {
	log.Info().Str("module", "relay").Str("remote", c.Request.RemoteAddr).Str("participant", string(id)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("ws upgrade")
		return
	}
	if ctl.opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.opts.ReadLimit)
	}

	conn := &wsConn{
		conn:  ws,
		send:  make(chan []byte, ctl.opts.SendBuffer),
		id:    id,
		rooms: make(map[domain.RoomID]*server.Room),
	}
	ctx, cancel := context.WithCancel(ctx)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, conn)
}

// BroadcastEnd tells everyone in the session's room that it is over.
func (ctl *Controller) BroadcastEnd(sess domain.CallSession) {
	room, ok := ctl.Rooms.Get(sess.Room())
	if !ok {
		return
	}
	data, err := encode(domain.Message{Room: sess.Room(), Type: domain.SignalEnd})
	if err != nil {
		return
	}
	res := room.Broadcast("", data)
	log.Info().Str("module", "relay").Str("room", string(sess.Room())).Int("sent_to", res.SendTo).Msg("end broadcast")
}
