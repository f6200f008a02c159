package server

import (
	"testing"

	"github.com/dkeye/callcoord/internal/domain"
	"github.com/stretchr/testify/assert"
)

func testRoster() *Roster {
	r := NewRoster()
	r.AddStaff("9")
	r.AddFriends("1", "2")
	r.AddGroup("g1", Group{Owner: "1", Members: []domain.ParticipantID{"2", "9"}})
	r.AddGroup("g2", Group{Owner: "3"})
	r.AddEvent("e1", Event{Organizer: "1", Attendees: []domain.ParticipantID{"4"}})
	r.AddEvent("e2", Event{Organizer: "3", Public: true})
	return r
}

func TestRosterMayCreate(t *testing.T) {
	r := testRoster()
	cases := []struct {
		name string
		ct   domain.ContextType
		cid  string
		by   domain.ParticipantID
		want bool
	}{
		{"friend calls friend", domain.ContextPrivate, "2", "1", true},
		{"friendship is symmetric", domain.ContextPrivate, "1", "2", true},
		{"stranger", domain.ContextPrivate, "2", "3", false},
		{"self", domain.ContextPrivate, "1", "1", false},
		{"group owner", domain.ContextGroup, "g1", "1", true},
		{"group member", domain.ContextGroup, "g1", "2", false},
		{"staff member of group", domain.ContextGroup, "g1", "9", true},
		{"staff outside group", domain.ContextGroup, "g2", "9", false},
		{"unknown group", domain.ContextGroup, "g9", "1", false},
		{"organizer", domain.ContextEvent, "e1", "1", true},
		{"staff on event", domain.ContextEvent, "e1", "9", true},
		{"attendee", domain.ContextEvent, "e1", "4", false},
		{"unknown event", domain.ContextEvent, "e9", "9", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, r.MayCreate(tc.ct, tc.cid, tc.by))
		})
	}
}

func TestRosterMayJoin(t *testing.T) {
	r := testRoster()
	private := domain.CallSession{ContextType: domain.ContextPrivate, ContextID: "2", CreatedBy: "1"}
	group := domain.CallSession{ContextType: domain.ContextGroup, ContextID: "g1", CreatedBy: "1"}
	event := domain.CallSession{ContextType: domain.ContextEvent, ContextID: "e1", CreatedBy: "1"}
	public := domain.CallSession{ContextType: domain.ContextEvent, ContextID: "e2", CreatedBy: "3"}

	assert.True(t, r.MayJoin(private, "1"))
	assert.True(t, r.MayJoin(private, "2"))
	assert.False(t, r.MayJoin(private, "9"))

	assert.True(t, r.MayJoin(group, "2"))
	assert.True(t, r.MayJoin(group, "9"))
	assert.False(t, r.MayJoin(group, "4"))

	assert.True(t, r.MayJoin(event, "4"))
	assert.True(t, r.MayJoin(event, "9"))
	assert.False(t, r.MayJoin(event, "2"))
	assert.True(t, r.MayJoin(public, "2"))
}
