package orch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/callcoord/internal/app"
	"github.com/dkeye/callcoord/internal/core"
	"github.com/dkeye/callcoord/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSessions struct{ mock.Mock }

func (m *mockSessions) Create(ctx context.Context, ct domain.ContextType, contextID string, mode domain.Mode) (*domain.CallSession, error) {
	args := m.Called(ctx, ct, contextID, mode)
	s, _ := args.Get(0).(*domain.CallSession)
	return s, args.Error(1)
}

func (m *mockSessions) Active(ctx context.Context, ct domain.ContextType, contextID string) (*domain.CallSession, error) {
	args := m.Called(ctx, ct, contextID)
	s, _ := args.Get(0).(*domain.CallSession)
	return s, args.Error(1)
}

func (m *mockSessions) Accept(ctx context.Context, id domain.SessionID) (*domain.CallSession, error) {
	args := m.Called(ctx, id)
	s, _ := args.Get(0).(*domain.CallSession)
	return s, args.Error(1)
}

func (m *mockSessions) End(ctx context.Context, id domain.SessionID, missed bool) error {
	return m.Called(ctx, id, missed).Error(0)
}

type fakeTransport struct {
	mu           sync.Mutex
	handlers     map[domain.RoomID]core.SignalHandlers
	sent         []domain.Message
	disconnected map[domain.RoomID]int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handlers:     make(map[domain.RoomID]core.SignalHandlers),
		disconnected: make(map[domain.RoomID]int),
	}
}

func (f *fakeTransport) Connect(_ context.Context, room domain.RoomID, _ domain.ParticipantID, h core.SignalHandlers) error {
	f.mu.Lock()
	f.handlers[room] = h
	f.mu.Unlock()
	if h.OnReady != nil {
		h.OnReady()
	}
	return nil
}

func (f *fakeTransport) Send(_ domain.RoomID, msg domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) Disconnect(room domain.RoomID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected[room]++
}

func (f *fakeTransport) deliver(room domain.RoomID, msg domain.Message) {
	f.mu.Lock()
	h := f.handlers[room]
	f.mu.Unlock()
	if msg.Room == "" {
		msg.Room = room
	}
	h.OnMessage(msg)
}

func (f *fakeTransport) fail(room domain.RoomID, err error) {
	f.mu.Lock()
	h := f.handlers[room]
	f.mu.Unlock()
	h.OnError(err)
}

func (f *fakeTransport) sentOf(kind domain.SignalType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.sent {
		if m.Type == kind {
			n++
		}
	}
	return n
}

func (f *fakeTransport) disconnects(room domain.RoomID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected[room]
}

type peerAdd struct {
	id        domain.ParticipantID
	initiator bool
}

type fakeMedia struct {
	mu      sync.Mutex
	events  core.MediaEvents
	added   []peerAdd
	removed []domain.ParticipantID
	signals []domain.Message
	closed  int
}

func (f *fakeMedia) Open(_ domain.RoomID, _ domain.ParticipantID, _ core.LocalMedia, ev core.MediaEvents, _ func(domain.Message)) (core.MediaSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = ev
	return f, nil
}

func (f *fakeMedia) AddPeer(remote domain.ParticipantID, initiator bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, peerAdd{remote, initiator})
	return nil
}

func (f *fakeMedia) RemovePeer(remote domain.ParticipantID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, remote)
}

func (f *fakeMedia) HandleSignal(msg domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, msg)
	return nil
}

func (f *fakeMedia) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
}

func (f *fakeMedia) snapshot() ([]peerAdd, []domain.ParticipantID, []domain.Message, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]peerAdd(nil), f.added...), append([]domain.ParticipantID(nil), f.removed...),
		append([]domain.Message(nil), f.signals...), f.closed
}

type fakeLocal struct {
	mu           sync.Mutex
	audio, video bool
	screen       bool
}

func (l *fakeLocal) HasAudio() bool { return true }
func (l *fakeLocal) HasVideo() bool { return true }

func (l *fakeLocal) AudioEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.audio
}

func (l *fakeLocal) VideoEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.video
}

func (l *fakeLocal) SetAudioEnabled(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.audio = v
}

func (l *fakeLocal) SetVideoEnabled(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.video = v
}

func (l *fakeLocal) ScreenSharing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.screen
}

func (l *fakeLocal) SetScreenSharing(v bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.screen = v
	return nil
}

type fakeDirectory map[domain.ParticipantID]domain.Profile

func (d fakeDirectory) Lookup(_ context.Context, id domain.ParticipantID) domain.Profile {
	if p, ok := d[id]; ok {
		return p
	}
	return domain.PlaceholderProfile(id)
}

type fixture struct {
	o         *Orchestrator
	sessions  *mockSessions
	transport *fakeTransport
	media     *fakeMedia
	local     *fakeLocal
	clk       *clock.Mock
	closed    chan View
}

func newFixture(self domain.ParticipantID) *fixture {
	f := &fixture{
		sessions:  &mockSessions{},
		transport: newFakeTransport(),
		media:     &fakeMedia{},
		local:     &fakeLocal{audio: true, video: true},
		clk:       clock.NewMock(),
		closed:    make(chan View, 4),
	}
	f.o = &Orchestrator{
		Registry:  app.NewRegistry(),
		Sessions:  f.sessions,
		Directory: fakeDirectory{"2": {Name: "Bob"}, "9": {Name: "Host"}},
		Transport: f.transport,
		Media:     f.media,
		Local:     f.local,
		Clock:     f.clk,
		Self:      self,
		OnClosed:  func(v View) { f.closed <- v },
	}
	return f
}

func (f *fixture) waitClosed(t *testing.T) View {
	t.Helper()
	select {
	case v := <-f.closed:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("call was not torn down")
		return View{}
	}
}

func session(id string, ct domain.ContextType, contextID string, mode domain.Mode, creator domain.ParticipantID) *domain.CallSession {
	return &domain.CallSession{
		ID:          domain.SessionID(id),
		ContextType: ct,
		ContextID:   contextID,
		Mode:        mode,
		Active:      true,
		CreatedBy:   creator,
	}
}

func TestRestrictedWithoutEntitlementCreatesNothing(t *testing.T) {
	f := newFixture("1")
	f.sessions.On("Active", mock.Anything, domain.ContextEvent, "e1").Return(nil, nil).Once()

	call, err := f.o.StartOrJoin(context.Background(), domain.ContextEvent, "e1", domain.ModeRestricted)
	require.ErrorIs(t, err, core.ErrPermissionDenied)
	assert.Nil(t, call)
	f.sessions.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Zero(t, f.o.Registry.Len())
	assert.Zero(t, f.transport.sentOf(domain.SignalJoin))
}

func TestRestrictedModeJoinsExistingSessionWithoutEntitlement(t *testing.T) {
	f := newFixture("1")
	sess := session("s1", domain.ContextEvent, "e1", domain.ModeRestricted, "9")
	f.sessions.On("Active", mock.Anything, domain.ContextEvent, "e1").Return(sess, nil).Once()
	f.sessions.On("Accept", mock.Anything, domain.SessionID("s1")).Return(sess, nil).Once()

	call, err := f.o.StartOrJoin(context.Background(), domain.ContextEvent, "e1", domain.ModeRestricted)
	require.NoError(t, err)
	v := call.View()
	assert.False(t, v.IsCreator)
	assert.True(t, v.Permissions.ForceDisabled)
	f.sessions.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.sessions.AssertExpectations(t)
}

func TestRestrictedWithEntitlementCreates(t *testing.T) {
	f := newFixture("1")
	f.o.Entitlements = app.StaticEntitlements{Restricted: map[domain.ContextType][]string{domain.ContextEvent: {"*"}}}
	sess := session("s1", domain.ContextEvent, "e1", domain.ModeRestricted, "1")
	f.sessions.On("Active", mock.Anything, domain.ContextEvent, "e1").Return(nil, nil).Once()
	f.sessions.On("Create", mock.Anything, domain.ContextEvent, "e1", domain.ModeRestricted).Return(sess, nil).Once()

	call, err := f.o.StartOrJoin(context.Background(), domain.ContextEvent, "e1", domain.ModeRestricted)
	require.NoError(t, err)
	v := call.View()
	assert.True(t, v.IsCreator)
	assert.Equal(t, app.Permissions{Mic: true, Cam: true, ScreenShare: true}, v.Permissions)
	assert.True(t, f.local.AudioEnabled())
	f.sessions.AssertExpectations(t)
}

func TestRestrictedListenerCannotToggle(t *testing.T) {
	f := newFixture("1")
	sess := session("s1", domain.ContextEvent, "e1", domain.ModeRestricted, "9")
	f.sessions.On("Active", mock.Anything, domain.ContextEvent, "e1").Return(sess, nil).Once()
	f.sessions.On("Accept", mock.Anything, domain.SessionID("s1")).Return(sess, nil).Once()

	call, err := f.o.StartOrJoin(context.Background(), domain.ContextEvent, "e1", domain.ModeOpen)
	require.NoError(t, err)

	assert.False(t, f.local.AudioEnabled())
	assert.False(t, f.local.VideoEnabled())

	ok, err := call.ToggleMic()
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = call.ToggleScreenShare()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, f.local.AudioEnabled())
	assert.False(t, f.local.ScreenSharing())

	v := call.View()
	assert.True(t, v.Permissions.ForceDisabled)
	assert.False(t, v.LocalAudio)
	f.sessions.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestToggleMicAllowed(t *testing.T) {
	f := newFixture("1")
	sess := session("s1", domain.ContextGroup, "g1", domain.ModeOpen, "1")
	f.sessions.On("Active", mock.Anything, domain.ContextGroup, "g1").Return(nil, nil)
	f.sessions.On("Create", mock.Anything, domain.ContextGroup, "g1", domain.ModeOpen).Return(sess, nil)

	call, err := f.o.StartOrJoin(context.Background(), domain.ContextGroup, "g1", domain.ModeOpen)
	require.NoError(t, err)

	ok, err := call.ToggleMic()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, f.local.AudioEnabled())
	assert.False(t, call.View().LocalAudio)
}

func TestStartOrJoinReusesOpenCall(t *testing.T) {
	f := newFixture("1")
	sess := session("s1", domain.ContextGroup, "g1", domain.ModeOpen, "1")
	f.sessions.On("Active", mock.Anything, domain.ContextGroup, "g1").Return(nil, nil).Once()
	f.sessions.On("Create", mock.Anything, domain.ContextGroup, "g1", domain.ModeOpen).Return(sess, nil).Once()
	f.sessions.On("Active", mock.Anything, domain.ContextGroup, "g1").Return(sess, nil).Once()

	first, err := f.o.StartOrJoin(context.Background(), domain.ContextGroup, "g1", domain.ModeOpen)
	require.NoError(t, err)
	second, err := f.o.StartOrJoin(context.Background(), domain.ContextGroup, "g1", domain.ModeOpen)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, f.o.Registry.Len())
	f.sessions.AssertNumberOfCalls(t, "Create", 1)
}

func TestPrivateRingTimeoutEndsAsMissed(t *testing.T) {
	f := newFixture("1")
	sess := session("s1", domain.ContextPrivate, "2", domain.ModeOpen, "1")
	f.sessions.On("Active", mock.Anything, domain.ContextPrivate, "2").Return(nil, nil)
	f.sessions.On("Create", mock.Anything, domain.ContextPrivate, "2", domain.ModeOpen).Return(sess, nil)
	f.sessions.On("End", mock.Anything, domain.SessionID("s1"), true).Return(nil)

	call, err := f.o.StartOrJoin(context.Background(), domain.ContextPrivate, "2", domain.ModeOpen)
	require.NoError(t, err)
	assert.Equal(t, app.StateRinging, call.View().State)

	f.clk.Add(14 * time.Second)
	assert.Equal(t, app.StateRinging, call.View().State)
	f.clk.Add(time.Second)

	v := f.waitClosed(t)
	assert.Equal(t, app.StateMissed, v.State)
	assert.Eventually(t, func() bool { return f.o.Registry.Len() == 0 }, time.Second, 5*time.Millisecond)

	f.clk.Add(time.Minute)
	time.Sleep(20 * time.Millisecond)
	f.sessions.AssertNumberOfCalls(t, "End", 1)
	assert.Equal(t, 1, f.transport.disconnects(call.Room()))
}

func TestJoinActivatesAndCancelsRing(t *testing.T) {
	f := newFixture("1")
	sess := session("s1", domain.ContextPrivate, "2", domain.ModeOpen, "1")
	f.sessions.On("Active", mock.Anything, domain.ContextPrivate, "2").Return(nil, nil)
	f.sessions.On("Create", mock.Anything, domain.ContextPrivate, "2", domain.ModeOpen).Return(sess, nil)

	call, err := f.o.StartOrJoin(context.Background(), domain.ContextPrivate, "2", domain.ModeOpen)
	require.NoError(t, err)

	f.transport.deliver(call.Room(), domain.Message{Type: domain.SignalJoin, From: "2"})
	assert.Eventually(t, func() bool {
		v := call.View()
		return v.State == app.StateActive && len(v.Participants) == 1 && v.Participants[0].DisplayName == "Bob"
	}, time.Second, 5*time.Millisecond)

	v := call.View()
	assert.Equal(t, domain.ParticipantID("2"), v.Participants[0].ParticipantID)
	assert.Equal(t, domain.PresenceConnecting, v.Participants[0].State)
	assert.True(t, v.DurationSet)
	assert.Equal(t, 2, v.Count)

	added, _, _, _ := f.media.snapshot()
	require.Len(t, added, 1)
	assert.Equal(t, peerAdd{id: "2", initiator: false}, added[0])

	f.clk.Add(time.Second)
	assert.Eventually(t, func() bool { return call.View().Duration == time.Second }, time.Second, 5*time.Millisecond)

	f.clk.Add(20 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, app.StateActive, call.View().State)
	f.sessions.AssertNotCalled(t, "End", mock.Anything, mock.Anything, mock.Anything)
}

func TestMediaEvidenceUpdatesPresence(t *testing.T) {
	f := newFixture("1")
	sess := session("s1", domain.ContextGroup, "g1", domain.ModeOpen, "1")
	f.sessions.On("Active", mock.Anything, domain.ContextGroup, "g1").Return(nil, nil)
	f.sessions.On("Create", mock.Anything, domain.ContextGroup, "g1", domain.ModeOpen).Return(sess, nil)

	call, err := f.o.StartOrJoin(context.Background(), domain.ContextGroup, "g1", domain.ModeOpen)
	require.NoError(t, err)

	f.media.events.StreamObserved("3", core.TrackVideo)
	assert.Eventually(t, func() bool {
		v := call.View()
		return v.State == app.StateActive && len(v.Participants) == 1 && v.Participants[0].State == domain.PresenceStreaming
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Participant #3", call.View().Participants[0].DisplayName)

	f.transport.deliver(call.Room(), domain.Message{Type: domain.SignalLeave, From: "3"})
	assert.Eventually(t, func() bool { return len(call.View().Participants) == 0 }, time.Second, 5*time.Millisecond)
	_, removed, _, _ := f.media.snapshot()
	assert.Equal(t, []domain.ParticipantID{"3"}, removed)
	assert.Equal(t, app.StateActive, call.View().State)
}

func TestSignalsRoutedToMedia(t *testing.T) {
	f := newFixture("1")
	sess := session("s1", domain.ContextGroup, "g1", domain.ModeOpen, "1")
	f.sessions.On("Active", mock.Anything, domain.ContextGroup, "g1").Return(nil, nil)
	f.sessions.On("Create", mock.Anything, domain.ContextGroup, "g1", domain.ModeOpen).Return(sess, nil)

	call, err := f.o.StartOrJoin(context.Background(), domain.ContextGroup, "g1", domain.ModeOpen)
	require.NoError(t, err)

	f.transport.deliver(call.Room(), domain.Message{Type: domain.SignalOffer, From: "4", To: "5"})
	f.transport.deliver(call.Room(), domain.Message{Type: domain.SignalCandidate, From: "1"})
	f.transport.deliver(call.Room(), domain.Message{Room: "other-room", Type: domain.SignalOffer, From: "4"})
	f.transport.deliver(call.Room(), domain.Message{Type: domain.SignalOffer, From: "4", To: "1"})

	assert.Eventually(t, func() bool {
		_, _, signals, _ := f.media.snapshot()
		return len(signals) == 1
	}, time.Second, 5*time.Millisecond)
	_, _, signals, _ := f.media.snapshot()
	assert.Equal(t, domain.ParticipantID("4"), signals[0].From)
	assert.Eventually(t, func() bool { return call.View().State == app.StateActive }, time.Second, 5*time.Millisecond)
}

func TestHangUpTearsDownWhenEndFails(t *testing.T) {
	f := newFixture("1")
	sess := session("s1", domain.ContextGroup, "g1", domain.ModeOpen, "1")
	f.sessions.On("Active", mock.Anything, domain.ContextGroup, "g1").Return(nil, nil)
	f.sessions.On("Create", mock.Anything, domain.ContextGroup, "g1", domain.ModeOpen).Return(sess, nil)
	f.sessions.On("End", mock.Anything, domain.SessionID("s1"), false).Return(errors.New("503 unavailable"))

	call, err := f.o.StartOrJoin(context.Background(), domain.ContextGroup, "g1", domain.ModeOpen)
	require.NoError(t, err)
	views, _ := call.Subscribe()

	err = call.HangUp(context.Background())
	assert.Error(t, err)

	v := f.waitClosed(t)
	assert.Equal(t, app.StateEnded, v.State)
	assert.False(t, v.DurationSet)
	assert.Zero(t, f.o.Registry.Len())
	assert.Equal(t, 1, f.transport.disconnects(call.Room()))
	_, _, _, closed := f.media.snapshot()
	assert.Equal(t, 1, closed)

	var last View
	for view := range views {
		last = view
	}
	assert.Equal(t, app.StateEnded, last.State)

	assert.NoError(t, f.o.HangUp(context.Background(), call.Room()))
	f.sessions.AssertNumberOfCalls(t, "End", 1)
}

func TestGroupMemberHangUpLeavesWithoutEnding(t *testing.T) {
	f := newFixture("1")
	sess := session("s1", domain.ContextGroup, "g1", domain.ModeOpen, "9")
	f.sessions.On("Active", mock.Anything, domain.ContextGroup, "g1").Return(sess, nil)
	f.sessions.On("Accept", mock.Anything, domain.SessionID("s1")).Return(nil, errors.New("already accepted"))

	call, err := f.o.StartOrJoin(context.Background(), domain.ContextGroup, "g1", domain.ModeOpen)
	require.NoError(t, err)
	assert.False(t, call.View().IsCreator)

	require.NoError(t, call.HangUp(context.Background()))
	f.waitClosed(t)

	f.sessions.AssertNotCalled(t, "End", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 1, f.transport.sentOf(domain.SignalLeave))
}

func TestLateMessagesAfterTeardownAreIgnored(t *testing.T) {
	f := newFixture("1")
	sess := session("s1", domain.ContextGroup, "g1", domain.ModeOpen, "1")
	f.sessions.On("Active", mock.Anything, domain.ContextGroup, "g1").Return(nil, nil)
	f.sessions.On("Create", mock.Anything, domain.ContextGroup, "g1", domain.ModeOpen).Return(sess, nil)
	f.sessions.On("End", mock.Anything, domain.SessionID("s1"), false).Return(nil)

	call, err := f.o.StartOrJoin(context.Background(), domain.ContextGroup, "g1", domain.ModeOpen)
	require.NoError(t, err)
	require.NoError(t, call.HangUp(context.Background()))
	f.waitClosed(t)

	f.transport.deliver(call.Room(), domain.Message{Type: domain.SignalJoin, From: "2"})
	f.media.events.PeerConnected("2")
	time.Sleep(20 * time.Millisecond)

	v := call.View()
	assert.Equal(t, app.StateEnded, v.State)
	assert.Empty(t, v.Participants)
	added, _, _, _ := f.media.snapshot()
	assert.Empty(t, added)

	ok, err := call.ToggleMic()
	assert.False(t, ok)
	assert.ErrorIs(t, err, core.ErrSessionEnded)
}

func TestTransportFatalEndsCall(t *testing.T) {
	f := newFixture("1")
	sess := session("s1", domain.ContextGroup, "g1", domain.ModeOpen, "1")
	f.sessions.On("Active", mock.Anything, domain.ContextGroup, "g1").Return(nil, nil)
	f.sessions.On("Create", mock.Anything, domain.ContextGroup, "g1", domain.ModeOpen).Return(sess, nil)

	call, err := f.o.StartOrJoin(context.Background(), domain.ContextGroup, "g1", domain.ModeOpen)
	require.NoError(t, err)

	f.transport.fail(call.Room(), core.ErrTransportFatal)
	v := f.waitClosed(t)
	assert.Equal(t, app.StateEnded, v.State)
	assert.ErrorIs(t, v.Err, core.ErrTransportFatal)
	f.sessions.AssertNotCalled(t, "End", mock.Anything, mock.Anything, mock.Anything)
}

func TestRemoteErrorKeepsCallOpen(t *testing.T) {
	f := newFixture("1")
	sess := session("s1", domain.ContextGroup, "g1", domain.ModeOpen, "1")
	f.sessions.On("Active", mock.Anything, domain.ContextGroup, "g1").Return(nil, nil)
	f.sessions.On("Create", mock.Anything, domain.ContextGroup, "g1", domain.ModeOpen).Return(sess, nil)

	call, err := f.o.StartOrJoin(context.Background(), domain.ContextGroup, "g1", domain.ModeOpen)
	require.NoError(t, err)

	f.transport.fail(call.Room(), &core.RemoteError{Room: call.Room(), Message: "Not a participant"})
	assert.Eventually(t, func() bool { return call.View().Err != nil }, time.Second, 5*time.Millisecond)

	var remote *core.RemoteError
	assert.ErrorAs(t, call.View().Err, &remote)
	assert.False(t, call.View().State.Terminal())
	assert.Equal(t, 1, f.o.Registry.Len())
}

func TestRemoteEndClosesCall(t *testing.T) {
	f := newFixture("1")
	sess := session("s1", domain.ContextGroup, "g1", domain.ModeOpen, "9")
	f.sessions.On("Active", mock.Anything, domain.ContextGroup, "g1").Return(sess, nil)
	f.sessions.On("Accept", mock.Anything, domain.SessionID("s1")).Return(sess, nil)

	call, err := f.o.StartOrJoin(context.Background(), domain.ContextGroup, "g1", domain.ModeOpen)
	require.NoError(t, err)

	f.transport.deliver(call.Room(), domain.Message{Type: domain.SignalEnd, From: "9"})
	v := f.waitClosed(t)
	assert.Equal(t, app.StateEnded, v.State)
	assert.NoError(t, v.Err)
	f.sessions.AssertNotCalled(t, "End", mock.Anything, mock.Anything, mock.Anything)
}

func TestShutdownHangsUpEveryCall(t *testing.T) {
	f := newFixture("1")
	for _, id := range []string{"g1", "g2"} {
		sess := session("s-"+id, domain.ContextGroup, id, domain.ModeOpen, "1")
		f.sessions.On("Active", mock.Anything, domain.ContextGroup, id).Return(nil, nil)
		f.sessions.On("Create", mock.Anything, domain.ContextGroup, id, domain.ModeOpen).Return(sess, nil)
		f.sessions.On("End", mock.Anything, sess.ID, false).Return(nil)
		_, err := f.o.StartOrJoin(context.Background(), domain.ContextGroup, id, domain.ModeOpen)
		require.NoError(t, err)
	}
	require.Equal(t, 2, f.o.Registry.Len())

	f.o.Shutdown(context.Background())
	assert.Zero(t, f.o.Registry.Len())
	f.sessions.AssertNumberOfCalls(t, "End", 2)
}

func TestOnClosedMayCallBackIntoCall(t *testing.T) {
	f := newFixture("1")
	sess := session("s1", domain.ContextGroup, "g1", domain.ModeOpen, "1")
	f.sessions.On("Active", mock.Anything, domain.ContextGroup, "g1").Return(nil, nil)
	f.sessions.On("Create", mock.Anything, domain.ContextGroup, "g1", domain.ModeOpen).Return(sess, nil)
	f.sessions.On("End", mock.Anything, domain.SessionID("s1"), false).Return(nil)

	var call *Call
	returned := make(chan View, 2)
	f.o.OnClosed = func(v View) {
		_ = call.HangUp(context.Background())
		f.o.Shutdown(context.Background())
		returned <- v
	}
	call, err := f.o.StartOrJoin(context.Background(), domain.ContextGroup, "g1", domain.ModeOpen)
	require.NoError(t, err)

	go func() { _ = call.HangUp(context.Background()) }()
	select {
	case v := <-returned:
		assert.Equal(t, app.StateEnded, v.State)
	case <-time.After(2 * time.Second):
		t.Fatal("OnClosed did not return")
	}
	assert.Never(t, func() bool { return len(returned) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	f.sessions.AssertNumberOfCalls(t, "End", 1)
}
