package app

import (
	"strconv"

	"github.com/dkeye/callcoord/internal/domain"
)

type PolicyInput struct {
	Mode      domain.Mode
	IsCreator bool
	HasAudio  bool
	HasVideo  bool
}

// Permissions says which local controls may be toggled.
// ForceDisabled means every local track must be disabled on join.
type Permissions struct {
	Mic           bool `json:"mic"`
	Cam           bool `json:"cam"`
	ScreenShare   bool `json:"screenShare"`
	ForceDisabled bool `json:"forceDisabled"`
}

// Decide is a pure function of its input.
func Decide(in PolicyInput) Permissions {
	if in.Mode == domain.ModeRestricted && !in.IsCreator {
		return Permissions{ForceDisabled: true}
	}
	return Permissions{
		Mic:         in.HasAudio,
		Cam:         in.HasVideo,
		ScreenShare: true,
	}
}

// MayPublish is the RESTRICTED broadcast rule: only the creator sends media.
func MayPublish(mode domain.Mode, isCreator bool) bool {
	return mode != domain.ModeRestricted || isCreator
}

// ShouldInitiate picks which side of a pair sends the offer, so both ends
// agree without talking. In RESTRICTED mode the creator always offers;
// otherwise the greater participant id does.
func ShouldInitiate(mode domain.Mode, localIsCreator bool, local, remote domain.ParticipantID) bool {
	if mode == domain.ModeRestricted {
		return localIsCreator
	}
	return compareIDs(local, remote) > 0
}

func compareIDs(a, b domain.ParticipantID) int {
	na, errA := strconv.ParseInt(string(a), 10, 64)
	nb, errB := strconv.ParseInt(string(b), 10, 64)
	if errA == nil && errB == nil {
		switch {
		case na > nb:
			return 1
		case na < nb:
			return -1
		}
		return 0
	}
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	}
	return 0
}

// StaticEntitlements allows OPEN creation everywhere and RESTRICTED creation
// only in the listed contexts.
type StaticEntitlements struct {
	Restricted map[domain.ContextType][]string
}

func (e StaticEntitlements) MayCreate(ct domain.ContextType, contextID string, mode domain.Mode) bool {
	if mode != domain.ModeRestricted {
		return true
	}
	for _, id := range e.Restricted[ct] {
		if id == contextID || id == "*" {
			return true
		}
	}
	return false
}
