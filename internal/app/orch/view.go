package orch

import (
	"time"

	"github.com/dkeye/callcoord/internal/app"
	"github.com/dkeye/callcoord/internal/domain"
)

// View is everything a UI needs to render one call.
type View struct {
	SessionID     domain.SessionID         `json:"sessionId"`
	Room          domain.RoomID            `json:"room"`
	ContextType   domain.ContextType       `json:"contextType"`
	ContextID     string                   `json:"contextId"`
	Mode          domain.Mode              `json:"mode"`
	State         app.State                `json:"state"`
	IsCreator     bool                     `json:"isCreator"`
	Duration      time.Duration            `json:"duration"`
	DurationSet   bool                     `json:"durationSet"`
	Participants  []domain.ParticipantView `json:"participants"`
	Count         int                      `json:"count"`
	Permissions   app.Permissions          `json:"permissions"`
	LocalAudio    bool                     `json:"localAudio"`
	LocalVideo    bool                     `json:"localVideo"`
	ScreenSharing bool                     `json:"screenSharing"`
	Err           error                    `json:"-"`
}

// noLocal stands in when no capture handle was given.
type noLocal struct{}

func (noLocal) HasAudio() bool { return false }
func (noLocal) HasVideo() bool { return false }
func (noLocal) AudioEnabled() bool { return false }
func (noLocal) VideoEnabled() bool { return false }
func (noLocal) SetAudioEnabled(bool) {}
func (noLocal) SetVideoEnabled(bool) {}
func (noLocal) ScreenSharing() bool { return false }
func (noLocal) SetScreenSharing(bool) error { return nil }
