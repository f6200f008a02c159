package core

import (
	"context"

	"github.com/dkeye/callcoord/internal/domain"
)

// Directory resolves display data. Implementations never block a call on
// failure; they fall back to placeholders.
type Directory interface {
	Lookup(ctx context.Context, id domain.ParticipantID) domain.Profile
}

// Entitlements tells whether the local participant may create a session in
// a context.
type Entitlements interface {
	MayCreate(ct domain.ContextType, contextID string, mode domain.Mode) bool
}
