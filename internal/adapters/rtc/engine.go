// Package rtc is the pion-backed media engine: a mesh of peer connections,
// one per remote participant, negotiated over the signaling channel.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/callcoord/internal/core"
	"github.com/dkeye/callcoord/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var errSessionClosed = errors.New("media session closed")

// attacher is implemented by local media that can feed peer connections.
type attacher interface {
	Attach(peer domain.ParticipantID, pc *webrtc.PeerConnection) error
	Detach(peer domain.ParticipantID)
}

type Engine struct {
	Config webrtc.Configuration
}

func NewEngine(iceServers []string) *Engine {
	return &Engine{Config: DefaultWebRTCConfig(iceServers)}
}

func (e *Engine) Open(room domain.RoomID, self domain.ParticipantID, local core.LocalMedia, ev core.MediaEvents, send func(domain.Message)) (core.MediaSession, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		cfg:    e.Config,
		room:   room,
		self:   self,
		local:  local,
		ev:     ev,
		send:   send,
		ctx:    ctx,
		cancel: cancel,
		peers:  make(map[domain.ParticipantID]*peerConn),
	}
	if a, ok := local.(attacher); ok {
		s.attach = a
	}
	return s, nil
}

type session struct {
	cfg    webrtc.Configuration
	room   domain.RoomID
	self   domain.ParticipantID
	local  core.LocalMedia
	attach attacher
	ev     core.MediaEvents
	send   func(domain.Message)
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	peers  map[domain.ParticipantID]*peerConn
	closed bool
}

func (s *session) peer(remote domain.ParticipantID, initiator bool) (*peerConn, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, errSessionClosed
	}
	if pc, ok := s.peers[remote]; ok {
		return pc, false, nil
	}
	pc, err := newPeerConn(s.cfg, s.room, remote)
	if err != nil {
		return nil, false, err
	}
	if s.attach != nil {
		if err := s.attach.Attach(remote, pc.pc); err != nil {
			pc.Close()
			return nil, false, fmt.Errorf("attach local tracks: %w", err)
		}
	}
	if initiator {
		var kinds []webrtc.RTPCodecType
		if s.local == nil || !s.local.HasAudio() {
			kinds = append(kinds, webrtc.RTPCodecTypeAudio)
		}
		if s.local == nil || !s.local.HasVideo() {
			kinds = append(kinds, webrtc.RTPCodecTypeVideo)
		}
		if err := pc.addRecvOnly(kinds...); err != nil {
			pc.Close()
			return nil, false, err
		}
	}
	pc.start(s.ctx, s.ev, s.send)
	s.peers[remote] = pc
	return pc, true, nil
}

func (s *session) AddPeer(remote domain.ParticipantID, initiator bool) error {
	pc, created, err := s.peer(remote, initiator)
	if err != nil || !created || !initiator {
		return err
	}
	offer, err := pc.createOffer()
	if err != nil {
		return fmt.Errorf("offer to %s: %w", remote, err)
	}
	log.Debug().Str("module", "webrtc").Str("room", string(s.room)).Str("peer", string(remote)).Msg("sending offer")
	s.send(domain.Message{Room: s.room, Type: domain.SignalOffer, To: remote, Offer: offer})
	return nil
}

func (s *session) HandleSignal(msg domain.Message) error {
	switch msg.Type {
	case domain.SignalOffer:
		pc, _, err := s.peer(msg.From, false)
		if err != nil {
			return err
		}
		answer, err := pc.applyOfferAndCreateAnswer(msg.Offer)
		if err != nil {
			return fmt.Errorf("answer %s: %w", msg.From, err)
		}
		s.send(domain.Message{Room: s.room, Type: domain.SignalAnswer, To: msg.From, Answer: answer})
	case domain.SignalAnswer:
		pc, ok := s.existing(msg.From)
		if !ok {
			return fmt.Errorf("answer from unknown peer %s", msg.From)
		}
		return pc.applyAnswer(msg.Answer)
	case domain.SignalCandidate:
		pc, _, err := s.peer(msg.From, false)
		if err != nil {
			return err
		}
		return pc.addCandidate(msg.Candidate)
	}
	return nil
}

func (s *session) existing(remote domain.ParticipantID) (*peerConn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pc, ok := s.peers[remote]
	return pc, ok
}

func (s *session) RemovePeer(remote domain.ParticipantID) {
	s.mu.Lock()
	pc, ok := s.peers[remote]
	delete(s.peers, remote)
	s.mu.Unlock()
	if !ok {
		return
	}
	if s.attach != nil {
		s.attach.Detach(remote)
	}
	pc.Close()
}

func (s *session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	peers := s.peers
	s.peers = make(map[domain.ParticipantID]*peerConn)
	s.mu.Unlock()

	s.cancel()
	for id, pc := range peers {
		if s.attach != nil {
			s.attach.Detach(id)
		}
		pc.Close()
	}
}
