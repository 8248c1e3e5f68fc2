// Package chat owns in-memory chat sessions and runs counselling turns against them.
package chat

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/careerflow/internal/counsel"
	"github.com/ashureev/careerflow/internal/domain"
	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound is returned for unknown, deleted, or foreign sessions.
	ErrSessionNotFound = errors.New("chat: session not found")
	// ErrTurnInFlight is returned when a session already has a pending turn.
	ErrTurnInFlight = errors.New("chat: a turn is already in flight")
)

// Session is one chat conversation. Messages are kept by id and in insertion
// order; they are appended and updated in place, never removed.
type Session struct {
	id        string
	owner     string
	createdAt time.Time

	mu         sync.Mutex
	messages   map[string]*domain.Message
	order      []string
	turn       uint64
	active     *counsel.Call
	lastActive time.Time
	closed     bool
}

func newSession(owner string, now time.Time) *Session {
	return &Session{
		id:         uuid.NewString(),
		owner:      owner,
		createdAt:  now,
		messages:   make(map[string]*domain.Message),
		lastActive: now,
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Owner returns the anonymous user id that created the session.
func (s *Session) Owner() string { return s.owner }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Messages returns copies of all messages in insertion order.
func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.messages[id].Clone())
	}
	return out
}

// Message returns a copy of one message.
func (s *Session) Message(id string) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return domain.Message{}, false
	}
	return msg.Clone(), true
}

// Busy reports whether a turn is pending.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// beginTurn appends the turn's messages and makes call the active request.
func (s *Session) beginTurn(call *counsel.Call, now time.Time, msgs ...*domain.Message) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrSessionNotFound
	}
	if s.active != nil {
		return 0, ErrTurnInFlight
	}

	for _, m := range msgs {
		s.messages[m.ID] = m
		s.order = append(s.order, m.ID)
	}
	s.turn++
	s.active = call
	s.lastActive = now
	return s.turn, nil
}

// endTurn releases the session if turn is still the active one.
func (s *Session) endTurn(turn uint64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.turn == turn {
		s.active = nil
	}
	s.lastActive = now
}

// update applies fn to message id on behalf of turn. Writes from a turn that is
// no longer active, or was cancelled, are rejected.
func (s *Session) update(turn uint64, id string, fn func(*domain.Message)) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.turn != turn || s.active == nil || s.active.State() == counsel.StateCancelled {
		return domain.Message{}, false
	}
	msg, ok := s.messages[id]
	if !ok {
		return domain.Message{}, false
	}
	fn(msg)
	return msg.Clone(), true
}

// close cancels any pending turn and rejects all later writes.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.active != nil {
		s.active.Cancel()
		s.active = nil
	}
	s.turn++
}

func (s *Session) idle(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active == nil && now.Sub(s.lastActive) > ttl
}

// MessageHandle lets one turn write to exactly one message.
type MessageHandle struct {
	session *Session
	turn    uint64
	id      string
}

// ID returns the message id the handle writes to.
func (h *MessageHandle) ID() string { return h.id }

// Update applies fn if the handle's turn is still active.
func (h *MessageHandle) Update(fn func(*domain.Message)) (domain.Message, bool) {
	return h.session.update(h.turn, h.id, fn)
}

// Snapshot returns the message's current state.
func (h *MessageHandle) Snapshot() (domain.Message, bool) {
	return h.session.Message(h.id)
}

// Registry holds the live sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger,
		now:      time.Now,
	}
}

// Create starts a session owned by owner.
func (r *Registry) Create(owner string) *Session {
	s := newSession(owner, r.now())

	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()

	r.logger.Info("Chat session created", "session_id", s.id, "user_id", owner)
	return s
}

// Get returns the session if it exists and belongs to owner.
func (r *Registry) Get(id, owner string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok || s.owner != owner {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Delete discards a session, cancelling its pending turn.
func (r *Registry) Delete(id, owner string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok || s.owner != owner {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	s.close()
	r.logger.Info("Chat session deleted", "session_id", id, "user_id", owner)
	return nil
}

// EvictIdle discards sessions without a pending turn that have been idle longer than ttl.
func (r *Registry) EvictIdle(ttl time.Duration) int {
	now := r.now()

	r.mu.Lock()
	var evicted []*Session
	for id, s := range r.sessions {
		if s.idle(now, ttl) {
			delete(r.sessions, id)
			evicted = append(evicted, s)
		}
	}
	r.mu.Unlock()

	for _, s := range evicted {
		s.close()
	}
	return len(evicted)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
