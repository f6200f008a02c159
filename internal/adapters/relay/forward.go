package relay

import (
	"github.com/dkeye/callcoord/internal/domain"
	"github.com/rs/zerolog/log"
)

// handleForward relays offer/answer/candidate. The sender id is stamped by
// the server; a set To narrows delivery to one peer.
func (ctl *Controller) handleForward(c *wsConn, msg domain.Message) {
	room, ok := c.rooms[msg.Room]
	if !ok {
		log.Warn().Str("module", "relay").Str("room", string(msg.Room)).Str("type", string(msg.Type)).Msg("forward: not in room")
		ctl.sendError(c, msg.Room, "not in room")
		return
	}
	msg.From = c.id
	data, err := encode(msg)
	if err != nil {
		return
	}
	if msg.To == "" {
		room.Broadcast(c.id, data)
		return
	}
	found, err := room.SendTo(msg.To, data)
	switch {
	case !found:
		log.Debug().Str("module", "relay").Str("room", string(msg.Room)).Str("to", string(msg.To)).Msg("forward: target gone")
	case err != nil:
		log.Warn().Err(err).Str("module", "relay").Str("to", string(msg.To)).Msg("forward: send failed")
	}
}
