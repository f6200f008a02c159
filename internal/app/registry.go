package app

import (
	"context"
	"sync"

	"github.com/dkeye/callcoord/internal/domain"
	"github.com/rs/zerolog/log"
)

// CallHandle is whatever the orchestrator keeps per open call.
type CallHandle interface {
	Room() domain.RoomID
}

type callEntry struct {
	Call   CallHandle
	Cancel context.CancelFunc
}

// Registry is the single table of open calls, keyed by room.
type Registry struct {
	mu    sync.RWMutex
	calls map[domain.RoomID]*callEntry
}

func NewRegistry() *Registry {
	return &Registry{calls: make(map[domain.RoomID]*callEntry)}
}

// Open binds call to its room. It fails if the room already has a call.
func (r *Registry) Open(call CallHandle, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := call.Room()
	if _, ok := r.calls[room]; ok {
		return false
	}
	r.calls[room] = &callEntry{Call: call, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("room", string(room)).Msg("opened call")
	return true
}

func (r *Registry) Get(room domain.RoomID) (CallHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.calls[room]; ok {
		return e.Call, true
	}
	return nil, false
}

// Close forgets call if it is still the one bound to its room, and cancels
// its context.
func (r *Registry) Close(call CallHandle) bool {
	r.mu.Lock()
	room := call.Room()
	e, ok := r.calls[room]
	if !ok || e.Call != call {
		r.mu.Unlock()
		return false
	}
	delete(r.calls, room)
	r.mu.Unlock()

	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("room", string(room)).Msg("closed call")
	return true
}

func (r *Registry) Rooms() []domain.RoomID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.RoomID, 0, len(r.calls))
	for room := range r.calls {
		out = append(out, room)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}
