package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/callcoord/internal/domain"
	"github.com/dkeye/callcoord/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	ping := time.NewTicker(ctl.opts.PingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "relay").Msg("writePump ctx done")
			return
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "relay").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "relay").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, c *wsConn) {
	defer func() {
		log.Info().Str("module", "relay").Str("participant", string(c.id)).Msg("readPump closing")
		ctl.leaveAll(c)
		cancel()
		c.Close()
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "relay").Str("participant", string(c.id)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		ctl.handleSignal(c, data)
	}
}

func (ctl *Controller) handleSignal(c *wsConn, data []byte) {
	msg, err := domain.DecodeMessage(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "relay").Msg("bad signal")
		metrics.RecordRelayRejected("bad_payload")
		ctl.sendError(c, "", "bad_payload")
		return
	}
	if c.id != "" && !ctl.limiter.Allow(c.id) {
		metrics.RecordRelayRejected("rate_limited")
		ctl.sendError(c, msg.Room, "rate_limited")
		return
	}
	metrics.RecordRelayed(string(msg.Type))

	switch msg.Type {
	case domain.SignalJoin:
		ctl.handleJoin(c, msg)
	case domain.SignalLeave:
		ctl.handleLeave(c, msg.Room)
	case domain.SignalOffer, domain.SignalAnswer, domain.SignalCandidate:
		ctl.handleForward(c, msg)
	case domain.SignalEnd:
		ctl.handleEnd(c, msg)
	default:
		log.Warn().Str("module", "relay").Str("type", string(msg.Type)).Msg("unexpected signal")
		ctl.sendError(c, msg.Room, "unsupported type")
	}
}

func encode(msg domain.Message) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("encode")
		return nil, err
	}
	return b, nil
}

func (ctl *Controller) sendJSON(c *wsConn, msg domain.Message) {
	b, err := encode(msg)
	if err != nil {
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("participant", string(c.id)).Msg("sendJSON")
	}
}

func (ctl *Controller) sendError(c *wsConn, room domain.RoomID, text string) {
	ctl.sendJSON(c, domain.Message{Room: room, Type: domain.SignalError, Message: text})
}
