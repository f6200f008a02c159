package server

import (
	"sync"

	"github.com/dkeye/callcoord/internal/domain"
	"github.com/rs/zerolog/log"
)

// Peer is one signaling connection as the relay sees it.
type Peer interface {
	ID() domain.ParticipantID
	TrySend(data []byte) error
}

// PublishResult reports delivery stats/backpressure to the relay.
type PublishResult struct {
	SendTo  int
	Dropped []Peer
}

// Room is a threadsafe in-memory signaling room.
// It never closes connection-owned resources.
type Room struct {
	id    domain.RoomID
	mu    sync.RWMutex
	peers map[domain.ParticipantID]Peer
}

func NewRoom(id domain.RoomID) *Room {
	return &Room{id: id, peers: make(map[domain.ParticipantID]Peer)}
}

func (r *Room) ID() domain.RoomID { return r.id }

func (r *Room) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Add registers p and returns the ids that were already present.
// A second connection for the same participant replaces the first.
func (r *Room) Add(p Peer) []domain.ParticipantID {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing := make([]domain.ParticipantID, 0, len(r.peers))
	for id := range r.peers {
		if id != p.ID() {
			existing = append(existing, id)
		}
	}
	r.peers[p.ID()] = p
	log.Info().Str("module", "server.room").Str("room", string(r.id)).Str("participant", string(p.ID())).Msg("peer added")
	return existing
}

// Remove drops p only if it is still the registered connection for its id.
func (r *Room) Remove(p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.peers[p.ID()]
	if !ok || cur != p {
		return false
	}
	delete(r.peers, p.ID())
	log.Info().Str("module", "server.room").Str("room", string(r.id)).Str("participant", string(p.ID())).Msg("peer removed")
	return true
}

func (r *Room) Has(id domain.ParticipantID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.peers[id]
	return ok
}

func (r *Room) Broadcast(from domain.ParticipantID, data []byte) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for id, p := range r.peers {
		if id == from {
			continue
		}
		if err := p.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, p)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "server.room").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// SendTo delivers to a single peer. It reports false when to is not here.
func (r *Room) SendTo(to domain.ParticipantID, data []byte) (bool, error) {
	r.mu.RLock()
	p, ok := r.peers[to]
	r.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, p.TrySend(data)
}
