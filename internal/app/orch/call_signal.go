package orch

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/callcoord/internal/app"
	"github.com/dkeye/callcoord/internal/core"
	"github.com/dkeye/callcoord/internal/domain"
	"github.com/rs/zerolog/log"
)

const lookupTimeout = 5 * time.Second

func (c *Call) onReady() {
	log.Info().Str("module", "orch").Str("room", string(c.room)).Msg("signaling ready")
	c.emit()
}

func (c *Call) onTransportError(err error) {
	if errors.Is(err, core.ErrTransportFatal) {
		c.apply(app.Event{Kind: app.EventTransportFatal, Err: err})
		return
	}
	// Remote errors are surfaced but do not end the call.
	var remote *core.RemoteError
	if errors.As(err, &remote) {
		log.Warn().Str("module", "orch").Str("room", string(c.room)).Str("message", remote.Message).Msg("remote error")
	}
	c.lastErr = err
	c.emit()
}

func (c *Call) onSignal(msg domain.Message) {
	if msg.Room != c.room {
		log.Debug().Str("module", "orch").Str("room", string(c.room)).Str("msg_room", string(msg.Room)).Msg("foreign room, dropped")
		return
	}
	if msg.From == c.o.Self {
		return
	}

	switch msg.Type {
	case domain.SignalJoin:
		if msg.From == "" {
			return
		}
		c.observe(msg.From)
		if c.media != nil {
			initiator := app.ShouldInitiate(c.session.Mode, c.isCreator, c.o.Self, msg.From)
			if err := c.media.AddPeer(msg.From, initiator); err != nil {
				log.Error().Err(err).Str("module", "orch").Str("peer", string(msg.From)).Msg("add peer")
			}
		}
	case domain.SignalLeave:
		if msg.From == "" {
			return
		}
		c.presence.Leave(msg.From)
		if c.media != nil {
			c.media.RemovePeer(msg.From)
		}
		c.emit()
	case domain.SignalOffer, domain.SignalAnswer, domain.SignalCandidate:
		if !msg.AddressedTo(c.o.Self) || msg.From == "" {
			return
		}
		if msg.Type == domain.SignalOffer {
			c.observe(msg.From)
		}
		if c.media != nil {
			if err := c.media.HandleSignal(msg); err != nil {
				log.Error().Err(err).Str("module", "orch").Str("peer", string(msg.From)).Str("type", string(msg.Type)).Msg("media signal")
			}
		}
	case domain.SignalEnd:
		c.apply(app.Event{Kind: app.EventRemoteEnded})
	}
}

// observe records announced presence of id.
func (c *Call) observe(id domain.ParticipantID) {
	if c.presence.Announce(id) {
		c.lookup(id)
	}
	c.apply(app.Event{Kind: app.EventPresenceObserved})
}

// lookup resolves a display name off the loop; the placeholder stays
// until (and if) an answer arrives.
func (c *Call) lookup(id domain.ParticipantID) {
	if c.o.Directory == nil {
		return
	}
	parent := c.ctx
	if parent == nil {
		parent = context.Background()
	}
	go func() {
		ctx, cancel := context.WithTimeout(parent, lookupTimeout)
		defer cancel()
		prof := c.o.Directory.Lookup(ctx, id)
		c.post(func() {
			c.presence.SetProfile(id, prof)
			c.emit()
		})
	}()
}

func (c *Call) mediaEvents() core.MediaEvents {
	return core.MediaEvents{
		PeerConnected: func(id domain.ParticipantID) {
			c.post(func() {
				isNew := !c.presence.Has(id)
				c.presence.PeerConnected(id)
				if isNew {
					c.lookup(id)
				}
				c.apply(app.Event{Kind: app.EventPeerConnected})
			})
		},
		PeerDisconnected: func(id domain.ParticipantID) {
			c.post(func() {
				c.presence.PeerDisconnected(id)
				c.emit()
			})
		},
		StreamObserved: func(id domain.ParticipantID, kind core.TrackKind) {
			c.post(func() {
				isNew := !c.presence.Has(id)
				c.presence.StreamObserved(id, kind)
				if isNew {
					c.lookup(id)
				}
				c.apply(app.Event{Kind: app.EventStreamObserved})
			})
		},
	}
}
