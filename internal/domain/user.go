// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"fmt"
)

const MaxParticipantIDLen = 64

var (
	ErrParticipantIDEmpty   = errors.New("participant id empty")
	ErrParticipantIDTooLong = errors.New("participant id too long")
)

// ParticipantID is an opaque, stable identifier of a user taking part in a call.
type ParticipantID string

func NewParticipantID(raw string) (ParticipantID, error) {
	if len(raw) == 0 {
		return "", ErrParticipantIDEmpty
	}
	if len(raw) > MaxParticipantIDLen {
		return "", ErrParticipantIDTooLong
	}
	return ParticipantID(raw), nil
}

// Profile is the display data resolved from the directory.
type Profile struct {
	Name      string `json:"name"`
	AvatarRef string `json:"avatarRef,omitempty"`
}

// PlaceholderProfile is used until (or instead of) a directory answer.
func PlaceholderProfile(id ParticipantID) Profile {
	return Profile{Name: fmt.Sprintf("Participant #%s", id)}
}
