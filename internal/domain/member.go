package domain

// PresenceState is how far a remote participant got into the call.
type PresenceState int

const (
	// PresenceConnecting means the participant is announced only.
	PresenceConnecting PresenceState = iota
	PresencePeerConnected
	PresenceStreaming
)

func (s PresenceState) String() string {
	switch s {
	case PresenceConnecting:
		return "CONNECTING"
	case PresencePeerConnected:
		return "PEER_CONNECTED"
	case PresenceStreaming:
		return "STREAMING"
	default:
		return "UNKNOWN"
	}
}

func (s PresenceState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ParticipantView is the renderable state of one remote participant.
type ParticipantView struct {
	ParticipantID ParticipantID `json:"participantId"`
	State         PresenceState `json:"state"`
	HasAudio      bool          `json:"hasAudio"`
	HasVideo      bool          `json:"hasVideo"`
	DisplayName   string        `json:"displayName"`
	AvatarRef     string        `json:"avatarRef,omitempty"`
}
