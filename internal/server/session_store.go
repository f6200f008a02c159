package server

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/callcoord/internal/core"
	"github.com/dkeye/callcoord/internal/domain"
	"github.com/dkeye/callcoord/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// contextKey identifies the slot a session occupies. Private calls are
// keyed on the unordered pair of participants, so either side finds the
// same call and a second caller does not displace the first.
type contextKey struct {
	ct    domain.ContextType
	cid   string
	peers pair
}

func keyOf(ct domain.ContextType, contextID string, creator domain.ParticipantID) contextKey {
	if ct == domain.ContextPrivate {
		return contextKey{ct: ct, peers: pairOf(creator, domain.ParticipantID(contextID))}
	}
	return contextKey{ct: ct, cid: contextID}
}

// SessionStore keeps call sessions in memory and enforces one active
// session per context.
type SessionStore struct {
	mu          sync.RWMutex
	byID        map[domain.SessionID]*domain.CallSession
	active      map[contextKey]domain.SessionID
	ringTimers  map[domain.SessionID]*clock.Timer
	clock       clock.Clock
	ringTimeout time.Duration

	// Auth gates Create, Accept and relay joins. When nil every create is
	// admitted and only private calls are closed to their parties.
	Auth Authorizer
	// OnEnded is called outside the lock after a session is finalized.
	OnEnded func(domain.CallSession)
}

func NewSessionStore(clk clock.Clock, ringTimeout time.Duration) *SessionStore {
	if clk == nil {
		clk = clock.New()
	}
	return &SessionStore{
		byID:        make(map[domain.SessionID]*domain.CallSession),
		active:      make(map[contextKey]domain.SessionID),
		ringTimers:  make(map[domain.SessionID]*clock.Timer),
		clock:       clk,
		ringTimeout: ringTimeout,
	}
}

// Create starts a new session. A previous active session in the same
// context is finalized first.
func (s *SessionStore) Create(ct domain.ContextType, contextID string, mode domain.Mode, by domain.ParticipantID) (domain.CallSession, error) {
	if s.Auth != nil && !s.Auth.MayCreate(ct, contextID, by) {
		log.Warn().Str("module", "server.sessions").Str("participant", string(by)).Str("context_type", string(ct)).Str("context_id", contextID).Msg("create refused")
		return domain.CallSession{}, core.ErrPermissionDenied
	}
	now := s.clock.Now()
	sess := &domain.CallSession{
		ID:          domain.SessionID(uuid.NewString()),
		ContextType: ct,
		ContextID:   contextID,
		Mode:        mode,
		Active:      true,
		CreatedBy:   by,
		CreatedAt:   now,
	}
	key := keyOf(ct, contextID, by)

	s.mu.Lock()
	var prev *domain.CallSession
	if id, ok := s.active[key]; ok {
		prev = s.byID[id]
		s.finalizeLocked(prev, false)
	}
	s.byID[sess.ID] = sess
	s.active[key] = sess.ID
	metrics.IncActiveSessions()
	if ct == domain.ContextPrivate && s.ringTimeout > 0 {
		id := sess.ID
		s.ringTimers[id] = s.clock.AfterFunc(s.ringTimeout, func() { s.expire(id) })
	}
	out := *sess
	var ended domain.CallSession
	if prev != nil {
		ended = *prev
	}
	s.mu.Unlock()

	log.Info().Str("module", "server.sessions").Str("session", string(sess.ID)).Str("context_type", string(ct)).Str("context_id", contextID).Str("mode", string(mode)).Msg("session created")
	if prev != nil {
		s.notifyEnded(ended)
	}
	return out, nil
}

// Active returns the running session of a context. For private calls the
// context id is the other participant and either side of the pair matches.
func (s *SessionStore) Active(ct domain.ContextType, contextID string, requester domain.ParticipantID) (domain.CallSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.active[keyOf(ct, contextID, requester)]
	if !ok {
		return domain.CallSession{}, false
	}
	return *s.byID[id], true
}

func (s *SessionStore) Get(id domain.SessionID) (domain.CallSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byID[id]
	if !ok {
		return domain.CallSession{}, false
	}
	return *sess, true
}

func (s *SessionStore) IsActive(room domain.RoomID) bool {
	sess, ok := s.Get(room.Session())
	return ok && sess.Active
}

// MayJoin reports whether by may take part in sess. Without an Authorizer
// only private calls are closed, to their two parties.
func (s *SessionStore) MayJoin(sess domain.CallSession, by domain.ParticipantID) bool {
	if s.Auth != nil {
		return s.Auth.MayJoin(sess, by)
	}
	return sess.ContextType != domain.ContextPrivate || sess.IsParty(by)
}

// Accept records the first acceptance; later calls are no-ops.
func (s *SessionStore) Accept(id domain.SessionID, by domain.ParticipantID) (domain.CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		return domain.CallSession{}, core.ErrSessionNotFound
	}
	if !s.MayJoin(*sess, by) {
		return domain.CallSession{}, core.ErrPermissionDenied
	}
	if !sess.Active {
		return *sess, core.ErrSessionEnded
	}
	if sess.AcceptedAt == nil {
		now := s.clock.Now()
		sess.AcceptedAt = &now
		s.stopRingLocked(id)
		log.Info().Str("module", "server.sessions").Str("session", string(id)).Str("participant", string(by)).Msg("session accepted")
	}
	return *sess, nil
}

// End finalizes the session. Only a party (see CallSession.IsParty) may
// end it. Ending an already ended session returns it unchanged.
func (s *SessionStore) End(id domain.SessionID, by domain.ParticipantID, missed bool) (domain.CallSession, error) {
	s.mu.Lock()
	sess, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return domain.CallSession{}, core.ErrSessionNotFound
	}
	if !sess.IsParty(by) {
		s.mu.Unlock()
		return *sess, core.ErrPermissionDenied
	}
	if !sess.Active {
		out := *sess
		s.mu.Unlock()
		return out, nil
	}
	s.finalizeLocked(sess, missed)
	out := *sess
	s.mu.Unlock()

	s.notifyEnded(out)
	return out, nil
}

func (s *SessionStore) expire(id domain.SessionID) {
	s.mu.Lock()
	delete(s.ringTimers, id)
	sess, ok := s.byID[id]
	if !ok || !sess.Active || sess.AcceptedAt != nil {
		s.mu.Unlock()
		return
	}
	s.finalizeLocked(sess, true)
	out := *sess
	s.mu.Unlock()

	log.Info().Str("module", "server.sessions").Str("session", string(id)).Msg("ring timeout, session missed")
	s.notifyEnded(out)
}

func (s *SessionStore) finalizeLocked(sess *domain.CallSession, missed bool) {
	now := s.clock.Now()
	sess.Active = false
	sess.EndedAt = &now
	if sess.AcceptedAt == nil {
		sess.Missed = missed || sess.ContextType == domain.ContextPrivate
	} else {
		sess.DurationSeconds = int(now.Sub(*sess.AcceptedAt).Seconds())
	}
	key := keyOf(sess.ContextType, sess.ContextID, sess.CreatedBy)
	if s.active[key] == sess.ID {
		delete(s.active, key)
	}
	s.stopRingLocked(sess.ID)
	metrics.DecActiveSessions()
	log.Info().Str("module", "server.sessions").Str("session", string(sess.ID)).Bool("missed", sess.Missed).Int("duration_s", sess.DurationSeconds).Msg("session finalized")
}

func (s *SessionStore) stopRingLocked(id domain.SessionID) {
	if t, ok := s.ringTimers[id]; ok {
		t.Stop()
		delete(s.ringTimers, id)
	}
}

func (s *SessionStore) notifyEnded(sess domain.CallSession) {
	if s.OnEnded != nil {
		s.OnEnded(sess)
	}
}
