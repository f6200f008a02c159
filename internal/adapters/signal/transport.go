package signal

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/callcoord/internal/core"
	"github.com/dkeye/callcoord/internal/domain"
	"github.com/dkeye/callcoord/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait   = 5 * time.Second
	dialTimeout = 10 * time.Second
)

type Options struct {
	URL           string
	ProbeInterval time.Duration
	ProbeAttempts int
	MaxReconnects int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	SendBuffer    int
}

func (o Options) withDefaults() Options {
	if o.ProbeInterval <= 0 {
		o.ProbeInterval = 50 * time.Millisecond
	}
	if o.ProbeAttempts <= 0 {
		o.ProbeAttempts = 10
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = 5
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	return o
}

// Backoff is the delay before reconnect attempt n (counting from 0).
func Backoff(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}

// Transport implements core.SignalTransport over gorilla/websocket.
type Transport struct {
	opts   Options
	dialer Dialer
	clock  clock.Clock

	mu    sync.Mutex
	conns map[domain.RoomID]*conn

	// onSchedule observes reconnect scheduling.
	onSchedule func(room domain.RoomID, attempt int, delay time.Duration)
}

func NewTransport(opts Options, dialer Dialer, clk clock.Clock) *Transport {
	if dialer == nil {
		dialer = GorillaDialer{}
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Transport{
		opts:   opts.withDefaults(),
		dialer: dialer,
		clock:  clk,
		conns:  make(map[domain.RoomID]*conn),
	}
}

// State reports the connection state of room.
func (t *Transport) State(room domain.RoomID) ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[room]; ok {
		return c.state
	}
	return StateClosed
}

func (t *Transport) Connect(ctx context.Context, room domain.RoomID, self domain.ParticipantID, h core.SignalHandlers) error {
	t.mu.Lock()
	if c, ok := t.conns[room]; ok && c.state != StateClosed {
		c.handlers = h
		t.mu.Unlock()
		log.Debug().Str("module", "signal").Str("room", string(room)).Msg("reusing connection")
		return nil
	}
	c := &conn{room: room, self: self, handlers: h, state: StateConnecting}
	t.conns[room] = c
	t.mu.Unlock()

	ws, err := t.dialer.Dial(ctx, t.opts.URL)
	if err != nil {
		t.mu.Lock()
		if t.conns[room] == c {
			delete(t.conns, room)
		}
		c.state = StateClosed
		t.mu.Unlock()
		log.Error().Err(err).Str("module", "signal").Str("room", string(room)).Msg("dial")
		return err
	}
	t.start(c, ws)
	return nil
}

// start moves a freshly dialed socket through READY into OPEN.
func (t *Transport) start(c *conn, ws WSConn) {
	t.mu.Lock()
	if t.conns[c.room] != c || c.closing {
		t.mu.Unlock()
		_ = ws.Close()
		return
	}
	c.state = StateReady
	t.mu.Unlock()

	t.probe(ws)

	join, err := json.Marshal(domain.Message{Room: c.room, Type: domain.SignalJoin, From: c.self})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode join")
		return
	}

	// The join goes out before the pumps start, so OnReady means it was
	// written.
	if err := writeText(ws, join); err != nil {
		_ = ws.Close()
		t.mu.Lock()
		if t.conns[c.room] != c || c.closing {
			t.mu.Unlock()
			return
		}
		log.Warn().Err(err).Str("module", "signal").Str("room", string(c.room)).Msg("join write failed")
		t.failLocked(c)
		return
	}
	sock := newSocket(ws, t.opts.SendBuffer)

	t.mu.Lock()
	if t.conns[c.room] != c || c.closing {
		t.mu.Unlock()
		sock.close()
		return
	}
	c.sock = sock
	c.gen++
	gen := c.gen
	c.state = StateOpen
	c.attempt = 0
	handlers := c.handlers
	t.mu.Unlock()

	go t.writePump(c, sock)
	go t.readPump(c, sock, gen)

	log.Info().Str("module", "signal").Str("room", string(c.room)).Str("participant", string(c.self)).Msg("open")
	if handlers.OnReady != nil {
		handlers.OnReady()
	}
}

// probe waits until the socket accepts a write, for a bounded time.
func (t *Transport) probe(ws WSConn) {
	for i := 0; i < t.opts.ProbeAttempts; i++ {
		err := ws.WriteControl(websocket.PingMessage, nil, t.clock.Now().Add(writeWait))
		if err == nil {
			return
		}
		log.Debug().Err(err).Str("module", "signal").Int("attempt", i).Msg("probe")
		t.clock.Sleep(t.opts.ProbeInterval)
	}
	log.Warn().Str("module", "signal").Msg("probe exhausted, sending join anyway")
}

func (t *Transport) Send(room domain.RoomID, msg domain.Message) error {
	t.mu.Lock()
	c, ok := t.conns[room]
	var sock *socket
	if ok && c.state == StateOpen {
		sock = c.sock
	}
	t.mu.Unlock()
	if sock == nil {
		log.Warn().Str("module", "signal").Str("room", string(room)).Str("type", string(msg.Type)).Msg("send while not open, dropped")
		metrics.RecordDroppedSignal("not_open")
		return core.ErrNotOpen
	}
	if msg.Room == "" {
		msg.Room = room
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case sock.send <- data:
		return nil
	case <-sock.done:
		metrics.RecordDroppedSignal("not_open")
		return core.ErrNotOpen
	default:
		log.Warn().Str("module", "signal").Str("room", string(room)).Msg("send queue full")
		metrics.RecordDroppedSignal("backpressure")
		return core.ErrBackpressure
	}
}

// Disconnect closes the room's connection for good. Safe to call twice.
func (t *Transport) Disconnect(room domain.RoomID) {
	t.mu.Lock()
	c, ok := t.conns[room]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.conns, room)
	c.closing = true
	c.state = StateClosed
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	sock := c.sock
	c.sock = nil
	t.mu.Unlock()

	if sock != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = sock.ws.WriteControl(websocket.CloseMessage, msg, t.clock.Now().Add(time.Second))
		sock.close()
	}
	log.Info().Str("module", "signal").Str("room", string(room)).Msg("disconnected")
}

func (t *Transport) writePump(c *conn, s *socket) {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			if err := writeText(s.ws, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("room", string(c.room)).Msg("writePump write error")
				return
			}
		}
	}
}

func writeText(ws WSConn, data []byte) error {
	if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, data)
}

func (t *Transport) readPump(c *conn, s *socket, gen uint64) {
	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			t.socketClosed(c, s, gen, err)
			return
		}
		t.dispatch(c, data)
	}
}

func (t *Transport) dispatch(c *conn, data []byte) {
	msg, err := domain.DecodeMessage(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("room", string(c.room)).Msg("dropping inbound")
		metrics.RecordDroppedSignal("malformed")
		return
	}
	t.mu.Lock()
	h := c.handlers
	t.mu.Unlock()

	if msg.Type == domain.SignalError {
		log.Warn().Str("module", "signal").Str("room", string(c.room)).Str("message", msg.Message).Msg("remote error")
		if h.OnError != nil {
			h.OnError(&core.RemoteError{Room: c.room, Message: msg.Message})
		}
		return
	}
	if h.OnMessage != nil {
		h.OnMessage(msg)
	}
}

func (t *Transport) socketClosed(c *conn, s *socket, gen uint64, cause error) {
	s.close()

	t.mu.Lock()
	if t.conns[c.room] != c || c.closing || c.gen != gen {
		t.mu.Unlock()
		return
	}
	c.sock = nil
	if websocket.IsCloseError(cause, websocket.CloseNormalClosure) {
		c.state = StateClosed
		delete(t.conns, c.room)
		t.mu.Unlock()
		log.Info().Str("module", "signal").Str("room", string(c.room)).Msg("closed normally")
		return
	}
	log.Warn().Err(cause).Str("module", "signal").Str("room", string(c.room)).Msg("connection lost")
	t.failLocked(c)
}

// failLocked handles one connection failure: schedule the next attempt or
// give up. It releases t.mu.
func (t *Transport) failLocked(c *conn) {
	if c.attempt >= t.opts.MaxReconnects {
		c.state = StateClosed
		delete(t.conns, c.room)
		h := c.handlers
		attempts := c.attempt
		t.mu.Unlock()

		metrics.RecordReconnectFatal()
		log.Error().Str("module", "signal").Str("room", string(c.room)).Int("attempts", attempts).Msg("giving up reconnecting")
		if h.OnError != nil {
			h.OnError(core.ErrTransportFatal)
		}
		return
	}

	attempt := c.attempt
	delay := Backoff(t.opts.BaseBackoff, t.opts.MaxBackoff, attempt)
	c.attempt++
	c.gen++
	gen := c.gen
	c.state = StateConnecting
	c.timer = t.clock.AfterFunc(delay, func() { t.reconnect(c, gen) })
	hook := t.onSchedule
	t.mu.Unlock()

	metrics.RecordReconnectScheduled()
	log.Info().Str("module", "signal").Str("room", string(c.room)).Int("attempt", attempt).Dur("delay", delay).Msg("reconnect scheduled")
	if hook != nil {
		hook(c.room, attempt, delay)
	}
}

func (t *Transport) reconnect(c *conn, gen uint64) {
	t.mu.Lock()
	if t.conns[c.room] != c || c.closing || c.gen != gen {
		t.mu.Unlock()
		return
	}
	c.timer = nil
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	ws, err := t.dialer.Dial(ctx, t.opts.URL)
	cancel()
	if err != nil {
		t.mu.Lock()
		if t.conns[c.room] != c || c.closing || c.gen != gen {
			t.mu.Unlock()
			return
		}
		log.Warn().Err(err).Str("module", "signal").Str("room", string(c.room)).Msg("reconnect dial")
		t.failLocked(c)
		return
	}
	t.start(c, ws)
}
