package orch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/callcoord/internal/app"
	"github.com/dkeye/callcoord/internal/core"
	"github.com/dkeye/callcoord/internal/domain"
	"github.com/dkeye/callcoord/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	eventBuffer    = 256
	viewBuffer     = 16
	networkTimeout = 10 * time.Second
)

// Call is one joined session. All of its state changes run on a single
// goroutine fed by post and exec.
type Call struct {
	o         *Orchestrator
	session   domain.CallSession
	room      domain.RoomID
	isCreator bool

	lc       *app.Lifecycle
	presence *app.Presence
	media    core.MediaSession
	perms    app.Permissions
	lastErr  error
	leftRoom bool

	ctx    context.Context
	events chan func()
	done   chan struct{}

	mu         sync.Mutex
	view       View
	subs       map[int]chan View
	nextSub    int
	subsClosed bool

	teardownOnce sync.Once
}

func newCall(o *Orchestrator, sess domain.CallSession, isCreator bool) *Call {
	c := &Call{
		o:         o,
		session:   sess,
		room:      sess.Room(),
		isCreator: isCreator,
		presence:  app.NewPresence(),
		events:    make(chan func(), eventBuffer),
		done:      make(chan struct{}),
		subs:      make(map[int]chan View),
	}
	c.lc = app.NewLifecycle(o.clock(), o.RingTimeout, c.room, sess.ContextType, isCreator, func(ev app.Event) {
		c.post(func() { c.apply(ev) })
	})
	return c
}

func (c *Call) Room() domain.RoomID { return c.room }

func (c *Call) Session() domain.CallSession { return c.session }

func (c *Call) start(ctx context.Context) error {
	local := c.o.local()
	c.perms = app.Decide(app.PolicyInput{
		Mode:      c.session.Mode,
		IsCreator: c.isCreator,
		HasAudio:  local.HasAudio(),
		HasVideo:  local.HasVideo(),
	})
	if c.perms.ForceDisabled {
		local.SetAudioEnabled(false)
		local.SetVideoEnabled(false)
		_ = local.SetScreenSharing(false)
	}

	if c.o.Media != nil {
		ms, err := c.o.Media.Open(c.room, c.o.Self, local, c.mediaEvents(), c.sendSignal)
		if err != nil {
			return fmt.Errorf("open media: %w", err)
		}
		c.media = ms
	}

	go c.run()
	c.exec(func() { c.apply(app.Event{Kind: app.EventBegin}) })

	err := c.o.Transport.Connect(ctx, c.room, c.o.Self, core.SignalHandlers{
		OnMessage: func(msg domain.Message) { c.post(func() { c.onSignal(msg) }) },
		OnReady:   func() { c.post(c.onReady) },
		OnError:   func(err error) { c.post(func() { c.onTransportError(err) }) },
	})
	if err != nil {
		return fmt.Errorf("connect signaling: %w", err)
	}
	log.Info().Str("module", "orch").Str("room", string(c.room)).Bool("creator", c.isCreator).Str("mode", string(c.session.Mode)).Msg("call started")
	return nil
}

func (c *Call) run() {
	for {
		select {
		case <-c.done:
			return
		case fn := <-c.events:
			select {
			case <-c.done:
				return
			default:
			}
			fn()
		}
	}
}

// post queues fn on the call's goroutine. It reports false once the call
// is torn down; late work is dropped.
func (c *Call) post(fn func()) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case <-c.done:
		return false
	case c.events <- fn:
		return true
	}
}

// exec runs fn on the call's goroutine and waits for it.
func (c *Call) exec(fn func()) bool {
	finished := make(chan struct{})
	if !c.post(func() { fn(); close(finished) }) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-c.done:
		return false
	}
}

// apply feeds the lifecycle; network effects run off the loop.
func (c *Call) apply(ev app.Event) {
	effects := c.lc.Apply(ev)
	c.emit()
	if len(effects) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
		defer cancel()
		if err := c.perform(ctx, effects); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("room", string(c.room)).Msg("effects")
		}
	}()
}

func (c *Call) perform(ctx context.Context, effects []app.Effect) (err error) {
	for _, e := range effects {
		if e.Kind == app.EffectTeardown {
			defer c.teardown()
			break
		}
	}
	for _, e := range effects {
		switch e.Kind {
		case app.EffectEndRemote:
			if endErr := c.o.Sessions.End(ctx, c.session.ID, e.Missed); endErr != nil {
				log.Error().Err(endErr).Str("module", "orch").Str("session", string(c.session.ID)).Bool("missed", e.Missed).Msg("end session")
				err = endErr
			}
		case app.EffectSendLeave:
			c.sendLeave()
		}
	}
	return err
}

func (c *Call) sendLeave() {
	c.mu.Lock()
	if c.leftRoom {
		c.mu.Unlock()
		return
	}
	c.leftRoom = true
	c.mu.Unlock()
	if err := c.o.Transport.Send(c.room, domain.Message{Room: c.room, Type: domain.SignalLeave, From: c.o.Self}); err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("room", string(c.room)).Msg("leave not sent")
	}
}

func (c *Call) sendSignal(msg domain.Message) {
	if err := c.o.Transport.Send(c.room, msg); err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("room", string(c.room)).Str("type", string(msg.Type)).Msg("signal not sent")
	}
}

// teardown releases everything the call holds. It runs once, whichever
// path gets here first. OnClosed runs after the once has completed, so it
// may call back into the call or the orchestrator.
func (c *Call) teardown() {
	var final View
	first := false
	c.teardownOnce.Do(func() {
		first = true
		c.sendLeave()
		close(c.done)
		c.o.Transport.Disconnect(c.room)
		if c.media != nil {
			c.media.Close()
		}
		c.o.Registry.Close(c)

		c.mu.Lock()
		final = c.view
		if !final.State.Terminal() {
			final.State = app.StateEnded
		}
		final.Duration, final.DurationSet = 0, false
		c.view = final
		for id, ch := range c.subs {
			offer(ch, final)
			close(ch)
			delete(c.subs, id)
		}
		c.subsClosed = true
		c.mu.Unlock()

		metrics.RecordCallOutcome(final.State.String())
		log.Info().Str("module", "orch").Str("room", string(c.room)).Str("state", final.State.String()).Msg("call torn down")
	})
	if first && c.o.OnClosed != nil {
		c.o.OnClosed(final)
	}
}

// HangUp ends the call locally at once; the remote end request is best
// effort and its error is returned after teardown.
func (c *Call) HangUp(ctx context.Context) error {
	defer c.teardown()
	var effects []app.Effect
	if !c.exec(func() {
		effects = c.lc.Apply(app.Event{Kind: app.EventHangUp})
		c.emit()
	}) {
		return nil
	}
	return c.perform(ctx, effects)
}

func (c *Call) ToggleMic() (bool, error) {
	return c.toggle(func(p app.Permissions) bool { return p.Mic }, func(l core.LocalMedia) error {
		l.SetAudioEnabled(!l.AudioEnabled())
		return nil
	})
}

func (c *Call) ToggleCam() (bool, error) {
	return c.toggle(func(p app.Permissions) bool { return p.Cam }, func(l core.LocalMedia) error {
		l.SetVideoEnabled(!l.VideoEnabled())
		return nil
	})
}

func (c *Call) ToggleScreenShare() (bool, error) {
	return c.toggle(func(p app.Permissions) bool { return p.ScreenShare }, func(l core.LocalMedia) error {
		return l.SetScreenSharing(!l.ScreenSharing())
	})
}

// toggle reports whether the policy allowed the change. A refused toggle
// changes nothing.
func (c *Call) toggle(allowed func(app.Permissions) bool, change func(core.LocalMedia) error) (bool, error) {
	var ok bool
	var err error
	if !c.exec(func() {
		if !allowed(c.perms) {
			return
		}
		ok = true
		err = change(c.o.local())
		c.emit()
	}) {
		return false, core.ErrSessionEnded
	}
	return ok, err
}

// View returns the latest consolidated view.
func (c *Call) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Subscribe streams every view change. The channel is closed after the
// final view of a torn-down call; stale views are skipped for slow readers.
func (c *Call) Subscribe() (<-chan View, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan View, viewBuffer)
	if c.subsClosed {
		ch <- c.view
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.view
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			close(sub)
			delete(c.subs, id)
		}
	}
}

func (c *Call) emit() {
	snap := c.lc.Snapshot()
	local := c.o.local()
	transmitting := app.MayPublish(c.session.Mode, c.isCreator) &&
		(local.AudioEnabled() || local.VideoEnabled() || local.ScreenSharing())
	v := View{
		SessionID:     c.session.ID,
		Room:          c.room,
		ContextType:   c.session.ContextType,
		ContextID:     c.session.ContextID,
		Mode:          c.session.Mode,
		State:         snap.State,
		IsCreator:     c.isCreator,
		Duration:      snap.Duration,
		DurationSet:   snap.DurationSet,
		Participants:  c.presence.Snapshot(),
		Count:         c.presence.Count(transmitting),
		Permissions:   c.perms,
		LocalAudio:    local.AudioEnabled(),
		LocalVideo:    local.VideoEnabled(),
		ScreenSharing: local.ScreenSharing(),
		Err:           c.lastErr,
	}
	if snap.Err != nil {
		v.Err = snap.Err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subsClosed {
		return
	}
	c.view = v
	for _, ch := range c.subs {
		offer(ch, v)
	}
}

// offer sends v, replacing the oldest queued view when ch is full.
func offer(ch chan View, v View) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
