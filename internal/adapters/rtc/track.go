package rtc

import (
	"context"
	"errors"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/dkeye/callcoord/internal/core"
	"github.com/dkeye/callcoord/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrNoScreenSource = errors.New("no screen source")

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
)

// RTPSource is a capture pipeline producing encoded packets.
type RTPSource interface {
	ReadRTP() (*rtp.Packet, error)
}

type rtpWriter interface {
	WriteRTP(*rtp.Packet) error
}

// LocalTrack fans one captured source out to every connected peer.
// A muted track keeps reading its source but forwards nothing.
type LocalTrack struct {
	id    string
	kind  core.TrackKind
	codec webrtc.RTPCodecCapability
	src   RTPSource
	state atomic.Int32

	mu   sync.RWMutex
	outs map[domain.ParticipantID]rtpWriter
}

func NewLocalTrack(id string, kind core.TrackKind, src RTPSource) *LocalTrack {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if kind == core.TrackVideo {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	return &LocalTrack{
		id:    id,
		kind:  kind,
		codec: codec,
		src:   src,
		outs:  make(map[domain.ParticipantID]rtpWriter),
	}
}

func (t *LocalTrack) Kind() core.TrackKind { return t.kind }

func (t *LocalTrack) Enabled() bool { return TrackState(t.state.Load()) == TrackStateOk }

func (t *LocalTrack) SetEnabled(on bool) {
	if on {
		t.state.Store(int32(TrackStateOk))
	} else {
		t.state.Store(int32(TrackStateMuted))
	}
}

// Run reads the source until ctx ends or the source fails.
func (t *LocalTrack) Run(ctx context.Context) {
	logger := log.With().Str("module", "rtc.track").Str("track", t.id).Logger()
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("track ctx done")
			return
		default:
		}
		pkt, err := t.src.ReadRTP()
		if err != nil {
			logger.Warn().Err(err).Msg("source read error, stopping")
			return
		}
		t.forward(pkt)
	}
}

func (t *LocalTrack) forward(pkt *rtp.Packet) {
	if !t.Enabled() {
		return
	}
	t.mu.RLock()
	snapshot := maps.Clone(t.outs)
	t.mu.RUnlock()

	for id, w := range snapshot {
		if err := w.WriteRTP(pkt); err != nil {
			log.Warn().Err(err).Str("module", "rtc.track").Str("track", t.id).Str("peer", string(id)).Msg("write RTP error, detaching")
			t.detach(id)
		}
	}
}

func (t *LocalTrack) attach(peer domain.ParticipantID, pc *webrtc.PeerConnection) error {
	out, err := webrtc.NewTrackLocalStaticRTP(t.codec, t.id, "callcoord")
	if err != nil {
		return err
	}
	if _, err := pc.AddTrack(out); err != nil {
		return err
	}
	t.mu.Lock()
	t.outs[peer] = out
	t.mu.Unlock()
	return nil
}

func (t *LocalTrack) detach(peer domain.ParticipantID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.outs, peer)
}

// Tracks is the local capture handle: optional mic, camera and screen.
type Tracks struct {
	Audio  *LocalTrack
	Video  *LocalTrack
	Screen *LocalTrack

	sharing atomic.Bool
}

var _ core.LocalMedia = (*Tracks)(nil)

func (m *Tracks) HasAudio() bool { return m.Audio != nil }
func (m *Tracks) HasVideo() bool { return m.Video != nil }

func (m *Tracks) AudioEnabled() bool { return m.Audio != nil && m.Audio.Enabled() }
func (m *Tracks) VideoEnabled() bool { return m.Video != nil && m.Video.Enabled() }

func (m *Tracks) SetAudioEnabled(on bool) {
	if m.Audio != nil {
		m.Audio.SetEnabled(on)
	}
}

func (m *Tracks) SetVideoEnabled(on bool) {
	if m.Video != nil {
		m.Video.SetEnabled(on)
	}
}

func (m *Tracks) ScreenSharing() bool { return m.sharing.Load() }

func (m *Tracks) SetScreenSharing(on bool) error {
	if m.Screen == nil {
		if on {
			return ErrNoScreenSource
		}
		return nil
	}
	m.Screen.SetEnabled(on)
	m.sharing.Store(on)
	return nil
}

func (m *Tracks) all() []*LocalTrack {
	out := make([]*LocalTrack, 0, 3)
	for _, t := range []*LocalTrack{m.Audio, m.Video, m.Screen} {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

// Run pumps every present source until ctx ends.
func (m *Tracks) Run(ctx context.Context) {
	if m.Screen != nil && !m.sharing.Load() {
		m.Screen.SetEnabled(false)
	}
	for _, t := range m.all() {
		go t.Run(ctx)
	}
}

func (m *Tracks) Attach(peer domain.ParticipantID, pc *webrtc.PeerConnection) error {
	for _, t := range m.all() {
		if err := t.attach(peer, pc); err != nil {
			return err
		}
	}
	return nil
}

func (m *Tracks) Detach(peer domain.ParticipantID) {
	for _, t := range m.all() {
		t.detach(peer)
	}
}
