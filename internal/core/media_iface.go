package core

import "github.com/dkeye/callcoord/internal/domain"

type TrackKind int

const (
	TrackAudio TrackKind = iota
	TrackVideo
)

func (k TrackKind) String() string {
	if k == TrackVideo {
		return "video"
	}
	return "audio"
}

// MediaEvents is how a media session reports link and stream evidence.
type MediaEvents struct {
	PeerConnected    func(domain.ParticipantID)
	PeerDisconnected func(domain.ParticipantID)
	StreamObserved   func(domain.ParticipantID, TrackKind)
}

// MediaEngine opens the peer-to-peer side of a call.
// send is used for outbound offer/answer/candidate messages.
type MediaEngine interface {
	Open(room domain.RoomID, self domain.ParticipantID, local LocalMedia, ev MediaEvents, send func(domain.Message)) (MediaSession, error)
}

type MediaSession interface {
	AddPeer(remote domain.ParticipantID, initiator bool) error
	RemovePeer(remote domain.ParticipantID)
	HandleSignal(msg domain.Message) error
	Close()
}

// LocalMedia is the capture handle. Only enabled flags are touched here.
type LocalMedia interface {
	HasAudio() bool
	HasVideo() bool
	AudioEnabled() bool
	VideoEnabled() bool
	SetAudioEnabled(bool)
	SetVideoEnabled(bool)
	ScreenSharing() bool
	SetScreenSharing(bool) error
}
