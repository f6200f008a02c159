package rtc

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dkeye/callcoord/internal/core"
	"github.com/dkeye/callcoord/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func DefaultWebRTCConfig(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}
}

// peerConn is the link to one remote participant.
type peerConn struct {
	pc     *webrtc.PeerConnection
	remote domain.ParticipantID
	room   domain.RoomID
	cancel context.CancelFunc

	mu      sync.Mutex
	pending []webrtc.ICECandidateInit
}

func newPeerConn(cfg webrtc.Configuration, room domain.RoomID, remote domain.ParticipantID) (*peerConn, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &peerConn{pc: pc, remote: remote, room: room}, nil
}

// start wires pion callbacks to the session's events and outbound signals.
func (c *peerConn) start(ctx context.Context, ev core.MediaEvents, send func(domain.Message)) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("room", string(c.room)).Str("peer", string(c.remote)).Str("peer_connection_state", s.String()).Msg("Peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			if ev.PeerConnected != nil {
				ev.PeerConnected(c.remote)
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			if ev.PeerDisconnected != nil {
				ev.PeerDisconnected(c.remote)
			}
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		raw, err := json.Marshal(cand.ToJSON())
		if err != nil {
			log.Error().Err(err).Str("module", "webrtc").Msg("encode candidate")
			return
		}
		send(domain.Message{Room: c.room, Type: domain.SignalCandidate, To: c.remote, Candidate: raw})
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("peer", string(c.remote)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("OnTrack received")
		kind := core.TrackAudio
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			kind = core.TrackVideo
		}
		if ev.StreamObserved != nil {
			ev.StreamObserved(c.remote, kind)
		}
		go drain(ctx, track)
	})
}

// drain consumes a remote track; rendering happens outside this module.
func drain(ctx context.Context, track *webrtc.TrackRemote) {
	for {
		if ctx.Err() != nil {
			return
		}
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
	}
}

func (c *peerConn) addRecvOnly(kinds ...webrtc.RTPCodecType) error {
	for _, k := range kinds {
		if _, err := c.pc.AddTransceiverFromKind(k, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
			return err
		}
	}
	return nil
}

func (c *peerConn) createOffer() (json.RawMessage, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return json.Marshal(offer)
}

func (c *peerConn) applyOfferAndCreateAnswer(raw json.RawMessage) (json.RawMessage, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &offer); err != nil {
		return nil, err
	}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	c.flushPending()
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return json.Marshal(answer)
}

func (c *peerConn) applyAnswer(raw json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &answer); err != nil {
		return err
	}
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return err
	}
	c.flushPending()
	return nil
}

// addCandidate queues candidates that arrive before the remote description.
func (c *peerConn) addCandidate(raw json.RawMessage) error {
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &ci); err != nil {
		return err
	}
	if c.pc.RemoteDescription() == nil {
		c.mu.Lock()
		c.pending = append(c.pending, ci)
		c.mu.Unlock()
		return nil
	}
	return c.pc.AddICECandidate(ci)
}

func (c *peerConn) flushPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, ci := range pending {
		if err := c.pc.AddICECandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "webrtc").Str("peer", string(c.remote)).Msg("add queued candidate")
		}
	}
}

func (c *peerConn) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("peer", string(c.remote)).Msg("close error")
	} else {
		log.Info().Str("module", "webrtc").Str("peer", string(c.remote)).Msg("closed")
	}
}
