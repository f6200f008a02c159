package app

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/callcoord/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRingTimeout = 15 * time.Second
	TickInterval       = time.Second
)

type State int

const (
	StateCreated State = iota
	StateRinging
	StateActive
	StateEnded
	StateMissed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateRinging:
		return "RINGING"
	case StateActive:
		return "ACTIVE"
	case StateEnded:
		return "ENDED"
	case StateMissed:
		return "MISSED"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s State) Terminal() bool { return s == StateEnded || s == StateMissed }

type EventKind int

const (
	EventBegin EventKind = iota
	EventPresenceObserved
	EventPeerConnected
	EventStreamObserved
	EventRingTimeout
	EventTick
	EventHangUp
	EventRemoteEnded
	EventTransportFatal
)

func (k EventKind) String() string {
	return [...]string{
		"begin", "presence_observed", "peer_connected", "stream_observed",
		"ring_timeout", "tick", "hang_up", "remote_ended", "transport_fatal",
	}[k]
}

type Event struct {
	Kind EventKind
	At   time.Time
	Err  error
	gen  uint64
}

type EffectKind int

const (
	EffectStartRing EffectKind = iota
	EffectCancelRing
	EffectStartTicker
	EffectStopTicker
	// EffectEndRemote asks the session API to end the session.
	EffectEndRemote
	// EffectSendLeave tells the room we left without ending the session.
	EffectSendLeave
	EffectTeardown
)

type Effect struct {
	Kind   EffectKind
	Missed bool
}

type Snapshot struct {
	State       State
	ContextType domain.ContextType
	IsCreator   bool
	AcceptedAt  time.Time
	Duration    time.Duration
	DurationSet bool
	Err         error
}

// Reduce is the session state machine. It is pure: timers and network
// calls are returned as effects.
func Reduce(s Snapshot, ev Event) (Snapshot, []Effect) {
	if s.State.Terminal() {
		return s, nil
	}
	switch ev.Kind {
	case EventBegin:
		if s.State == StateCreated && s.ContextType == domain.ContextPrivate && s.IsCreator {
			s.State = StateRinging
			return s, []Effect{{Kind: EffectStartRing}}
		}
	case EventPresenceObserved, EventPeerConnected, EventStreamObserved:
		if s.State == StateCreated || s.State == StateRinging {
			effects := make([]Effect, 0, 2)
			if s.State == StateRinging {
				effects = append(effects, Effect{Kind: EffectCancelRing})
			}
			s.State = StateActive
			s.AcceptedAt = ev.At
			s.Duration = 0
			s.DurationSet = true
			return s, append(effects, Effect{Kind: EffectStartTicker})
		}
	case EventRingTimeout:
		if s.State == StateRinging {
			s = terminate(s, StateMissed)
			return s, []Effect{{Kind: EffectEndRemote, Missed: true}, {Kind: EffectTeardown}}
		}
	case EventTick:
		if s.State == StateActive {
			s.Duration = ev.At.Sub(s.AcceptedAt).Truncate(time.Second)
		}
	case EventHangUp:
		leave := Effect{Kind: EffectSendLeave}
		if s.IsCreator || s.ContextType == domain.ContextPrivate {
			leave = Effect{Kind: EffectEndRemote}
		}
		s = terminate(s, StateEnded)
		return s, []Effect{{Kind: EffectCancelRing}, {Kind: EffectStopTicker}, leave, {Kind: EffectTeardown}}
	case EventRemoteEnded:
		s = terminate(s, StateEnded)
		return s, []Effect{{Kind: EffectCancelRing}, {Kind: EffectStopTicker}, {Kind: EffectTeardown}}
	case EventTransportFatal:
		s = terminate(s, StateEnded)
		s.Err = ev.Err
		return s, []Effect{{Kind: EffectCancelRing}, {Kind: EffectStopTicker}, {Kind: EffectTeardown}}
	}
	return s, nil
}

func terminate(s Snapshot, to State) Snapshot {
	s.State = to
	s.Duration = 0
	s.DurationSet = false
	return s
}

// Lifecycle runs Reduce and owns the ring timer and the duration tick.
// It is not safe for concurrent use; the owner serializes Apply calls and
// routes timer events back through post.
type Lifecycle struct {
	clock       clock.Clock
	ringTimeout time.Duration
	post        func(Event)
	room        domain.RoomID

	snap Snapshot
	gen  uint64
	ring *clock.Timer
	tick *clock.Timer
}

func NewLifecycle(clk clock.Clock, ringTimeout time.Duration, room domain.RoomID, ct domain.ContextType, isCreator bool, post func(Event)) *Lifecycle {
	if clk == nil {
		clk = clock.New()
	}
	if ringTimeout <= 0 {
		ringTimeout = DefaultRingTimeout
	}
	return &Lifecycle{
		clock:       clk,
		ringTimeout: ringTimeout,
		post:        post,
		room:        room,
		snap:        Snapshot{State: StateCreated, ContextType: ct, IsCreator: isCreator},
	}
}

func (l *Lifecycle) Snapshot() Snapshot { return l.snap }

// Apply feeds one event and returns the effects the owner must perform
// (end remote, send leave, teardown). Timer effects are handled here.
func (l *Lifecycle) Apply(ev Event) []Effect {
	if (ev.Kind == EventRingTimeout || ev.Kind == EventTick) && ev.gen != l.gen {
		return nil
	}
	if ev.At.IsZero() {
		ev.At = l.clock.Now()
	}
	prev := l.snap.State
	next, effects := Reduce(l.snap, ev)
	l.snap = next
	if next.State != prev {
		log.Info().Str("module", "app.lifecycle").Str("room", string(l.room)).
			Str("from", prev.String()).Str("to", next.State.String()).Str("event", ev.Kind.String()).Msg("transition")
	}

	out := effects[:0:0]
	for _, e := range effects {
		switch e.Kind {
		case EffectStartRing:
			l.startRing()
		case EffectCancelRing:
			l.cancelRing()
		case EffectStartTicker:
			l.scheduleTick()
		case EffectStopTicker:
			l.stopTick()
		default:
			out = append(out, e)
		}
	}
	if next.State.Terminal() {
		l.cancelRing()
		l.stopTick()
		l.gen++
	}
	if ev.Kind == EventTick && next.State == StateActive {
		l.scheduleTick()
	}
	return out
}

func (l *Lifecycle) startRing() {
	gen := l.gen
	l.ring = l.clock.AfterFunc(l.ringTimeout, func() {
		l.post(Event{Kind: EventRingTimeout, gen: gen})
	})
}

func (l *Lifecycle) cancelRing() {
	if l.ring != nil {
		l.ring.Stop()
		l.ring = nil
	}
}

func (l *Lifecycle) scheduleTick() {
	gen := l.gen
	l.tick = l.clock.AfterFunc(TickInterval, func() {
		l.post(Event{Kind: EventTick, gen: gen})
	})
}

func (l *Lifecycle) stopTick() {
	if l.tick != nil {
		l.tick.Stop()
		l.tick = nil
	}
}
