package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"drivethru/lane/internal/types"
)

var ErrSessionExists = errors.New("session already exists")

const (
	maxEvents      = 200
	defaultRetains = 100
)

// Store keeps the lane's session records, their audit events and the most
// recent outcomes in memory. Finished sessions beyond the retention limit are
// evicted oldest first.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session
	events   map[string][]types.Event
	finished []string
	board    []types.OrderOutcome
	retain   int
}

func New(retain int) *Store {
	if retain <= 0 {
		retain = defaultRetains
	}
	return &Store{
		sessions: make(map[string]*types.Session),
		events:   make(map[string][]types.Event),
		retain:   retain,
	}
}

func (s *Store) CreateSession(sess *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return ErrSessionExists
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	s.events[sess.ID] = []types.Event{}
	return nil
}

// GetSession returns a copy of the record.
func (s *Store) GetSession(id string) (types.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return types.Session{}, false
	}
	return *sess, true
}

// UpdateSession applies fn to the record under the write lock and stamps
// LastEventAt.
func (s *Store) UpdateSession(id string, fn func(*types.Session)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	fn(sess)
	sess.LastEventAt = time.Now().UTC()
	return true
}

// FinishSession marks the record terminal and applies retention.
func (s *Store) FinishSession(id string, outcome types.Outcome, reason string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.CompletedAt != nil {
		return
	}
	at = at.UTC()
	sess.State = string(outcome)
	sess.Outcome = outcome
	sess.Reason = reason
	sess.CompletedAt = &at
	sess.LastEventAt = at
	s.finished = append(s.finished, id)
	for len(s.finished) > s.retain {
		old := s.finished[0]
		s.finished = s.finished[1:]
		delete(s.sessions, old)
		delete(s.events, old)
	}
}

func (s *Store) AppendEvent(sessionID, typ string, payload map[string]any) types.Event {
	evt := types.Event{Type: typ, Ts: time.Now().UTC(), Payload: payload}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return evt
	}
	s.events[sessionID] = append(s.events[sessionID], evt)
	if l := len(s.events[sessionID]); l > maxEvents {
		// Keep room for one truncation marker so the total stays at maxEvents.
		keep := maxEvents - 1
		dropped := l - keep
		s.events[sessionID] = append([]types.Event(nil), s.events[sessionID][l-keep:]...)
		warn := types.Event{Type: "events_truncated", Ts: time.Now().UTC(), Payload: map[string]any{"session_id": sessionID, "dropped": dropped, "kept": keep}}
		s.events[sessionID] = append(s.events[sessionID], warn)
	}
	return evt
}

func (s *Store) ListEvents(sessionID string) []types.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.events[sessionID]
	out := make([]types.Event, len(src))
	copy(out, src)
	return out
}

// ListSessions returns copies of every retained record, newest first.
func (s *Store) ListSessions() []types.Session {
	s.mu.RLock()
	out := make([]types.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].VehicleSeq > out[j].VehicleSeq })
	return out
}

// Deliver records o on the outcome board. It satisfies handoff.Sink.
func (s *Store) Deliver(_ context.Context, o types.OrderOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.board = append(s.board, o)
	if over := len(s.board) - s.retain; over > 0 {
		s.board = append([]types.OrderOutcome(nil), s.board[over:]...)
	}
	return nil
}

// Recent returns up to n delivered outcomes, newest first.
func (s *Store) Recent(n int) []types.OrderOutcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.board) {
		n = len(s.board)
	}
	out := make([]types.OrderOutcome, 0, n)
	for i := len(s.board) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.board[i])
	}
	return out
}
