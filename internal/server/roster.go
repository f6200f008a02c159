package server

import (
	"slices"

	"github.com/dkeye/callcoord/internal/domain"
)

// Authorizer decides who may open a call in a context and who may accept
// one that is already running.
type Authorizer interface {
	MayCreate(ct domain.ContextType, contextID string, by domain.ParticipantID) bool
	MayJoin(sess domain.CallSession, by domain.ParticipantID) bool
}

type Group struct {
	Owner   domain.ParticipantID
	Members []domain.ParticipantID
}

type Event struct {
	Organizer domain.ParticipantID
	Attendees []domain.ParticipantID
	// Public events admit anyone to a running call.
	Public bool
}

// Roster is a static Authorizer. Populate it before handing it to a
// SessionStore; it is read-only afterwards.
type Roster struct {
	staff   map[domain.ParticipantID]struct{}
	friends map[pair]struct{}
	groups  map[string]Group
	events  map[string]Event
}

func NewRoster() *Roster {
	return &Roster{
		staff:   make(map[domain.ParticipantID]struct{}),
		friends: make(map[pair]struct{}),
		groups:  make(map[string]Group),
		events:  make(map[string]Event),
	}
}

func (r *Roster) AddStaff(ids ...domain.ParticipantID) {
	for _, id := range ids {
		r.staff[id] = struct{}{}
	}
}

func (r *Roster) AddFriends(a, b domain.ParticipantID) {
	if a == b {
		return
	}
	r.friends[pairOf(a, b)] = struct{}{}
}

func (r *Roster) AddGroup(id string, g Group) { r.groups[id] = g }

func (r *Roster) AddEvent(id string, e Event) { r.events[id] = e }

func (r *Roster) isStaff(id domain.ParticipantID) bool {
	_, ok := r.staff[id]
	return ok
}

// MayCreate: friends open private calls, the group owner (or staff who are
// members) opens group calls, the organizer or staff open event calls.
func (r *Roster) MayCreate(ct domain.ContextType, contextID string, by domain.ParticipantID) bool {
	switch ct {
	case domain.ContextPrivate:
		_, ok := r.friends[pairOf(by, domain.ParticipantID(contextID))]
		return ok
	case domain.ContextGroup:
		g, ok := r.groups[contextID]
		if !ok {
			return false
		}
		return g.Owner == by || (r.isStaff(by) && slices.Contains(g.Members, by))
	case domain.ContextEvent:
		e, ok := r.events[contextID]
		return ok && (e.Organizer == by || r.isStaff(by))
	}
	return false
}

func (r *Roster) MayJoin(sess domain.CallSession, by domain.ParticipantID) bool {
	switch sess.ContextType {
	case domain.ContextPrivate:
		return sess.IsParty(by)
	case domain.ContextGroup:
		g, ok := r.groups[sess.ContextID]
		return ok && (g.Owner == by || r.isStaff(by) || slices.Contains(g.Members, by))
	case domain.ContextEvent:
		e, ok := r.events[sess.ContextID]
		return ok && (e.Public || e.Organizer == by || r.isStaff(by) || slices.Contains(e.Attendees, by))
	}
	return false
}

// pair is an unordered pair of participants.
type pair struct{ lo, hi domain.ParticipantID }

func pairOf(a, b domain.ParticipantID) pair {
	if b < a {
		a, b = b, a
	}
	return pair{lo: a, hi: b}
}
