package orch

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/callcoord/internal/app"
	"github.com/dkeye/callcoord/internal/core"
	"github.com/dkeye/callcoord/internal/domain"
	"github.com/rs/zerolog/log"
)

// Orchestrator starts, joins and ends calls for one local participant.
// Every open call lives in Registry under its room.
type Orchestrator struct {
	Registry     *app.Registry
	Sessions     core.SessionAPI
	Directory    core.Directory
	Transport    core.SignalTransport
	Media        core.MediaEngine
	Local        core.LocalMedia
	Entitlements core.Entitlements
	Clock        clock.Clock
	Self         domain.ParticipantID
	RingTimeout  time.Duration

	// OnClosed runs once per call after teardown, with the final view.
	OnClosed func(View)
}

func (o *Orchestrator) clock() clock.Clock {
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	return o.Clock
}

func (o *Orchestrator) local() core.LocalMedia {
	if o.Local == nil {
		return noLocal{}
	}
	return o.Local
}

// StartOrJoin joins the active session of a context, creating it when
// there is none. mode only describes the session to create: an existing
// session is joined in whatever mode it runs. Creating a RESTRICTED
// session without the entitlement fails with core.ErrPermissionDenied
// and no create request is made.
func (o *Orchestrator) StartOrJoin(ctx context.Context, ct domain.ContextType, contextID string, mode domain.Mode) (*Call, error) {
	if mode == "" {
		mode = domain.ModeOpen
	}

	sess, err := o.Sessions.Active(ctx, ct, contextID)
	if err != nil {
		return nil, fmt.Errorf("lookup active session: %w", err)
	}
	if sess != nil {
		if h, ok := o.Registry.Get(sess.Room()); ok {
			return h.(*Call), nil
		}
	} else {
		if !o.mayCreate(ct, contextID, mode) {
			log.Warn().Str("module", "orch").Str("context_type", string(ct)).Str("context_id", contextID).Str("mode", string(mode)).Msg("create refused")
			return nil, core.ErrPermissionDenied
		}
		sess, err = o.Sessions.Create(ctx, ct, contextID, mode)
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		log.Info().Str("module", "orch").Str("session", string(sess.ID)).Str("mode", string(sess.Mode)).Msg("session created")
	}

	isCreator := sess.IsCreator(o.Self)
	if !isCreator {
		if accepted, err := o.Sessions.Accept(ctx, sess.ID); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("session", string(sess.ID)).Msg("accept failed, joining anyway")
		} else if accepted != nil {
			sess = accepted
		}
	}

	call := newCall(o, *sess, isCreator)
	callCtx, cancel := context.WithCancel(context.Background())
	call.ctx = callCtx
	if !o.Registry.Open(call, cancel) {
		cancel()
		if h, ok := o.Registry.Get(sess.Room()); ok {
			return h.(*Call), nil
		}
		return nil, fmt.Errorf("open call %s: registry conflict", sess.ID)
	}
	if err := call.start(ctx); err != nil {
		call.teardown()
		return nil, err
	}
	return call, nil
}

func (o *Orchestrator) mayCreate(ct domain.ContextType, contextID string, mode domain.Mode) bool {
	if o.Entitlements == nil {
		return mode != domain.ModeRestricted
	}
	return o.Entitlements.MayCreate(ct, contextID, mode)
}

// Call returns the open call for room.
func (o *Orchestrator) Call(room domain.RoomID) (*Call, bool) {
	h, ok := o.Registry.Get(room)
	if !ok {
		return nil, false
	}
	return h.(*Call), true
}

func (o *Orchestrator) HangUp(ctx context.Context, room domain.RoomID) error {
	c, ok := o.Call(room)
	if !ok {
		return nil
	}
	return c.HangUp(ctx)
}

// Shutdown hangs up every open call.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	for _, room := range o.Registry.Rooms() {
		if err := o.HangUp(ctx, room); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("room", string(room)).Msg("hang up on shutdown")
		}
	}
}
