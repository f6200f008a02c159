package relay

import (
	"github.com/dkeye/callcoord/internal/domain"
	"github.com/dkeye/callcoord/internal/server"
	"github.com/rs/zerolog/log"
)

func (ctl *Controller) handleJoin(c *wsConn, msg domain.Message) {
	if c.id == "" {
		log.Warn().Str("module", "relay").Str("room", string(msg.Room)).Str("claimed", string(msg.From)).Msg("join: unauthenticated")
		ctl.sendError(c, msg.Room, "unauthenticated")
		return
	}
	if msg.From != "" && msg.From != c.id {
		log.Warn().Str("module", "relay").Str("room", string(msg.Room)).Str("participant", string(c.id)).Str("claimed", string(msg.From)).Msg("join: participant mismatch")
		ctl.sendError(c, msg.Room, "participant mismatch")
		return
	}
	sess, ok := ctl.Sessions.Get(msg.Room.Session())
	if !ok || !sess.Active {
		log.Warn().Str("module", "relay").Str("room", string(msg.Room)).Str("participant", string(c.id)).Msg("join: no active session")
		ctl.sendError(c, msg.Room, "no active session")
		return
	}
	if !ctl.Sessions.MayJoin(sess, c.id) {
		log.Warn().Str("module", "relay").Str("room", string(msg.Room)).Str("participant", string(c.id)).Msg("join: not allowed")
		ctl.sendError(c, msg.Room, "forbidden")
		return
	}

	room := ctl.Rooms.GetOrCreate(msg.Room)
	existing := room.Add(c)
	c.rooms[msg.Room] = room
	log.Info().Str("module", "relay").Str("room", string(msg.Room)).Str("participant", string(c.id)).Int("existing", len(existing)).Msg("join")

	announce, err := encode(domain.Message{Room: msg.Room, Type: domain.SignalJoin, From: c.id})
	if err != nil {
		return
	}
	room.Broadcast(c.id, announce)

	// The newcomer learns about everyone already present.
	for _, id := range existing {
		ctl.sendJSON(c, domain.Message{Room: msg.Room, Type: domain.SignalJoin, From: id})
	}
}

// handleLeave exits one room; the connection itself stays up.
func (ctl *Controller) handleLeave(c *wsConn, roomID domain.RoomID) {
	room, ok := c.rooms[roomID]
	if !ok {
		return
	}
	delete(c.rooms, roomID)
	ctl.leave(c, room)
}

func (ctl *Controller) leaveAll(c *wsConn) {
	for id, room := range c.rooms {
		delete(c.rooms, id)
		ctl.leave(c, room)
	}
	if c.id != "" {
		ctl.limiter.Forget(c.id)
	}
}

func (ctl *Controller) leave(c *wsConn, room *server.Room) {
	if !room.Remove(c) {
		return
	}
	log.Info().Str("module", "relay").Str("room", string(room.ID())).Str("participant", string(c.id)).Msg("leave")
	if data, err := encode(domain.Message{Room: room.ID(), Type: domain.SignalLeave, From: c.id}); err == nil {
		room.Broadcast(c.id, data)
	}
	if ctl.Rooms.RemoveIfEmpty(room.ID()) {
		log.Info().Str("module", "relay").Str("room", string(room.ID())).Msg("room removed")
	}
}

// handleEnd lets a party push an end notice without going through the API.
func (ctl *Controller) handleEnd(c *wsConn, msg domain.Message) {
	room, ok := c.rooms[msg.Room]
	if !ok {
		ctl.sendError(c, msg.Room, "not in room")
		return
	}
	sess, ok := ctl.Sessions.Get(msg.Room.Session())
	if !ok || !sess.IsParty(c.id) {
		ctl.sendError(c, msg.Room, "forbidden")
		return
	}
	if data, err := encode(domain.Message{Room: msg.Room, Type: domain.SignalEnd, From: c.id}); err == nil {
		room.Broadcast(c.id, data)
	}
}
