package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownContextType = errors.New("unknown context type")
	ErrUnknownMode        = errors.New("unknown mode")
)

type SessionID string

type ContextType string

const (
	ContextPrivate ContextType = "PRIVATE"
	ContextGroup   ContextType = "GROUP"
	ContextEvent   ContextType = "EVENT"
)

func ParseContextType(raw string) (ContextType, error) {
	switch ContextType(strings.ToUpper(raw)) {
	case ContextPrivate:
		return ContextPrivate, nil
	case ContextGroup:
		return ContextGroup, nil
	case ContextEvent:
		return ContextEvent, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownContextType, raw)
}

func (c *ContextType) UnmarshalText(b []byte) error {
	v, err := ParseContextType(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Mode controls who may publish media in a session.
type Mode string

const (
	ModeOpen       Mode = "OPEN"
	ModeRestricted Mode = "RESTRICTED"
)

// ParseMode accepts the legacy NORMAL/CONFERENCE names as aliases.
// An empty string means OPEN.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToUpper(raw) {
	case "", "OPEN", "NORMAL":
		return ModeOpen, nil
	case "RESTRICTED", "CONFERENCE":
		return ModeRestricted, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, raw)
}

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// CallSession is the server-side record of one call.
// At most one session per (ContextType, ContextID) is active.
type CallSession struct {
	ID              SessionID     `json:"id"`
	ContextType     ContextType   `json:"contextType"`
	ContextID       string        `json:"contextId"`
	Mode            Mode          `json:"mode"`
	Active          bool          `json:"active"`
	CreatedBy       ParticipantID `json:"createdBy"`
	CreatedAt       time.Time     `json:"createdAt"`
	AcceptedAt      *time.Time    `json:"acceptedAt,omitempty"`
	EndedAt         *time.Time    `json:"endedAt,omitempty"`
	Missed          bool          `json:"missed"`
	DurationSeconds int           `json:"durationSeconds"`
}

func (s *CallSession) Room() RoomID { return RoomOf(s.ID) }

func (s *CallSession) IsCreator(id ParticipantID) bool { return s.CreatedBy == id }

// IsParty reports whether id may end the session: the creator, or the
// callee of a private call (whose id is the context id).
func (s *CallSession) IsParty(id ParticipantID) bool {
	if s.IsCreator(id) {
		return true
	}
	return s.ContextType == ContextPrivate && s.ContextID == string(id)
}
