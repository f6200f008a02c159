package core

import (
	"context"

	"github.com/dkeye/callcoord/internal/domain"
)

// SessionAPI is the server of record for call sessions.
type SessionAPI interface {
	Create(ctx context.Context, ct domain.ContextType, contextID string, mode domain.Mode) (*domain.CallSession, error)
	// Active returns (nil, nil) when the context has no active session.
	Active(ctx context.Context, ct domain.ContextType, contextID string) (*domain.CallSession, error)
	Accept(ctx context.Context, id domain.SessionID) (*domain.CallSession, error)
	End(ctx context.Context, id domain.SessionID, missed bool) error
}
