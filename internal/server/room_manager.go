package server

import (
	"sync"

	"github.com/dkeye/callcoord/internal/domain"
)

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"member_count"`
}

type RoomManager struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*Room
}

func NewRoomManager() *RoomManager {
	return &RoomManager{rooms: make(map[domain.RoomID]*Room)}
}

func (m *RoomManager) GetOrCreate(id domain.RoomID) *Room {
	m.mu.RLock()
	room, ok := m.rooms[id]
	m.mu.RUnlock()
	if ok {
		return room
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok = m.rooms[id]; ok {
		return room
	}
	room = NewRoom(id)
	m.rooms[id] = room
	return room
}

func (m *RoomManager) Get(id domain.RoomID) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[id]
	return room, ok
}

// RemoveIfEmpty forgets the room once its last peer is gone.
func (m *RoomManager) RemoveIfEmpty(id domain.RoomID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[id]
	if !ok || room.Count() > 0 {
		return false
	}
	delete(m.rooms, id)
	return true
}

func (m *RoomManager) List() []RoomInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RoomInfo, 0, len(m.rooms))
	for id, r := range m.rooms {
		out = append(out, RoomInfo{ID: id, MemberCount: r.Count()})
	}
	return out
}
