package app

import (
	"sort"
	"sync"

	"github.com/dkeye/callcoord/internal/core"
	"github.com/dkeye/callcoord/internal/domain"
)

type trackFlags struct {
	audio bool
	video bool
}

// Presence tracks remote participants from three independent kinds of
// evidence. Every method is idempotent and the order of evidence for
// different ids does not matter.
type Presence struct {
	mu            sync.RWMutex
	announced     map[domain.ParticipantID]struct{}
	peerConnected map[domain.ParticipantID]struct{}
	streaming     map[domain.ParticipantID]trackFlags
	profiles      map[domain.ParticipantID]domain.Profile
}

func NewPresence() *Presence {
	return &Presence{
		announced:     make(map[domain.ParticipantID]struct{}),
		peerConnected: make(map[domain.ParticipantID]struct{}),
		streaming:     make(map[domain.ParticipantID]trackFlags),
		profiles:      make(map[domain.ParticipantID]domain.Profile),
	}
}

// Announce records a join. It reports whether id was new.
func (p *Presence) Announce(id domain.ParticipantID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, had := p.announced[id]
	p.announced[id] = struct{}{}
	return !had
}

func (p *Presence) PeerConnected(id domain.ParticipantID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.announced[id] = struct{}{}
	p.peerConnected[id] = struct{}{}
}

// PeerDisconnected drops link and stream evidence but keeps the
// announcement; only leave removes a participant.
func (p *Presence) PeerDisconnected(id domain.ParticipantID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.peerConnected, id)
	delete(p.streaming, id)
}

func (p *Presence) StreamObserved(id domain.ParticipantID, kind core.TrackKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.announced[id] = struct{}{}
	p.peerConnected[id] = struct{}{}
	f := p.streaming[id]
	if kind == core.TrackVideo {
		f.video = true
	} else {
		f.audio = true
	}
	p.streaming[id] = f
}

// Leave removes id from every set at once.
func (p *Presence) Leave(id domain.ParticipantID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.announced, id)
	delete(p.peerConnected, id)
	delete(p.streaming, id)
}

func (p *Presence) SetProfile(id domain.ParticipantID, prof domain.Profile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profiles[id] = prof
}

func (p *Presence) Has(id domain.ParticipantID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.announced[id]
	return ok
}

// Empty reports whether no remote evidence at all is present.
func (p *Presence) Empty() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.announced) == 0
}

// Count is the number of distinct remote participants plus the local one
// when it transmits.
func (p *Presence) Count(localTransmitting bool) int {
	p.mu.RLock()
	n := len(p.announced)
	p.mu.RUnlock()
	if localTransmitting {
		n++
	}
	return n
}

// Snapshot renders every known participant, ordered by id.
func (p *Presence) Snapshot() []domain.ParticipantView {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.ParticipantView, 0, len(p.announced))
	for id := range p.announced {
		v := domain.ParticipantView{ParticipantID: id, State: domain.PresenceConnecting}
		if _, ok := p.peerConnected[id]; ok {
			v.State = domain.PresencePeerConnected
		}
		if f, ok := p.streaming[id]; ok {
			v.State = domain.PresenceStreaming
			v.HasAudio = f.audio
			v.HasVideo = f.video
		}
		prof, ok := p.profiles[id]
		if !ok {
			prof = domain.PlaceholderProfile(id)
		}
		v.DisplayName = prof.Name
		v.AvatarRef = prof.AvatarRef
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}
