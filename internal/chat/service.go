package chat

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/careerflow/internal/counsel"
	"github.com/ashureev/careerflow/internal/domain"
	"github.com/ashureev/careerflow/internal/observability"
	"github.com/ashureev/careerflow/internal/store"
	"github.com/google/uuid"
)

// ErrEmptyQuery is returned when a turn is sent without text.
var ErrEmptyQuery = errors.New("chat: query is empty")

const recordTimeout = 5 * time.Second

// EventType names a TurnEvent.
type EventType string

const (
	// EventUser carries the user's message as appended to the session.
	EventUser EventType = "user"
	// EventMessage carries the bot message after each applied update.
	EventMessage EventType = "message"
	// EventError carries the bot message after it was replaced by the fallback text.
	EventError EventType = "error"
	// EventEnd closes the turn with its terminal state.
	EventEnd EventType = "end"
)

// TurnEvent is one update produced while a turn runs.
type TurnEvent struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id"`
	Message   *domain.Message `json:"message,omitempty"`
	State     string          `json:"state,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Counselor opens counselling calls. *counsel.Client implements it.
type Counselor interface {
	Open(req counsel.Request, opts ...counsel.CallOption) *counsel.Call
}

// Service runs counselling turns against in-memory sessions.
type Service struct {
	sessions  *Registry
	counselor Counselor
	repo      store.Repository
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewService wires a service. repo and metrics may be nil.
func NewService(sessions *Registry, counselor Counselor, repo store.Repository, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sessions:  sessions,
		counselor: counselor,
		repo:      repo,
		metrics:   metrics,
		logger:    logger,
	}
}

// Sessions returns the session registry.
func (s *Service) Sessions() *Registry {
	return s.sessions
}

// Send starts a turn: it appends the user's message and a placeholder bot message,
// then returns the sequence of updates. The turn only runs while the sequence is
// ranged over, and the session stays busy until that range ends, so callers must
// always consume it. Stopping early cancels the turn.
func (s *Service) Send(ctx context.Context, sessionID, owner, query string) (iter.Seq[TurnEvent], error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	sess, err := s.sessions.Get(sessionID, owner)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	userMsg := &domain.Message{ID: uuid.NewString(), Sender: domain.SenderUser, Text: query, Kind: domain.KindPlain, CreatedAt: now}
	botMsg := &domain.Message{ID: uuid.NewString(), Sender: domain.SenderBot, Kind: domain.KindPlain, CreatedAt: now}
	userSnap, botSnap := userMsg.Clone(), botMsg.Clone()

	call := s.counselor.Open(counsel.Request{Query: query, SessionID: sessionID})
	turn, err := sess.beginTurn(call, now, userMsg, botMsg)
	if err != nil {
		return nil, err
	}

	t := &turnRun{
		svc:     s,
		session: sess,
		turn:    turn,
		call:    call,
		handle:  &MessageHandle{session: sess, turn: turn, id: botMsg.ID},
		query:   query,
		started: now,
	}
	return func(yield func(TurnEvent) bool) {
		t.run(ctx, userSnap, botSnap, yield)
	}, nil
}

type turnRun struct {
	svc     *Service
	session *Session
	turn    uint64
	call    *counsel.Call
	handle  *MessageHandle
	query   string
	started time.Time

	chunks  int
	bytes   int
	stopped bool
}

func (t *turnRun) run(ctx context.Context, userMsg, botMsg domain.Message, yield func(TurnEvent) bool) {
	defer func() { t.session.endTurn(t.turn, time.Now()) }()

	sessionID := t.session.ID()
	emit := func(ev TurnEvent) {
		if t.stopped {
			return
		}
		ev.SessionID = sessionID
		if !yield(ev) {
			t.stopped = true
			t.call.Cancel()
		}
	}

	emit(TurnEvent{Type: EventUser, Message: &userMsg})
	emit(TurnEvent{Type: EventMessage, Message: &botMsg})

	var (
		acc       counsel.Accumulator
		streamErr error
	)
	dispatcher := NewDispatcher(t.handle)
	metrics := t.svc.metrics

	metrics.StreamStarted()
	state := t.call.Run(ctx, counsel.Callbacks{
		OnChunk: func(chunk string) {
			if t.chunks == 0 {
				metrics.FirstChunk(time.Since(t.started))
			}
			t.chunks++
			t.bytes += len(chunk)

			ev, ok := acc.Feed(chunk)
			if !ok {
				return
			}
			if msg, ok := dispatcher.Apply(ev); ok {
				emit(TurnEvent{Type: EventMessage, Message: &msg})
			}
		},
		OnError: func(err error) {
			streamErr = err
			if msg, ok := dispatcher.Fail(err); ok {
				emit(TurnEvent{Type: EventError, Message: &msg, Error: counsel.ErrorKindOf(err)})
			}
		},
	})

	final, _ := t.handle.Snapshot()
	elapsed := time.Since(t.started)
	kind := ""
	if state == counsel.StateCompleted {
		kind = string(final.Kind)
	}
	metrics.StreamFinished(state.String(), kind, elapsed)
	t.record(ctx, state, final, streamErr, elapsed)

	attrs := []any{
		"session_id", sessionID,
		"message_id", t.handle.ID(),
		"state", state.String(),
		"kind", string(final.Kind),
		"chunks", t.chunks,
		"duration", elapsed,
	}
	switch state {
	case counsel.StateCompleted, counsel.StateCancelled:
		t.svc.logger.Info("Counsel turn finished", attrs...)
	default:
		t.svc.logger.Warn("Counsel turn failed", append(attrs, "error", streamErr)...)
	}

	emit(TurnEvent{Type: EventEnd, Message: &final, State: state.String(), Error: errorLabel(state, streamErr)})
}

func (t *turnRun) record(ctx context.Context, state counsel.State, final domain.Message, streamErr error, elapsed time.Duration) {
	if t.svc.repo == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	rec := &domain.TurnRecord{
		SessionID:  t.session.ID(),
		UserID:     t.session.Owner(),
		MessageID:  t.handle.ID(),
		State:      state.String(),
		Kind:       final.Kind,
		Chunks:     t.chunks,
		Bytes:      t.bytes,
		ErrorKind:  counsel.ErrorKindOf(streamErr),
		QueryChars: len([]rune(t.query)),
		StartedAt:  t.started,
		DurationMS: elapsed.Milliseconds(),
	}
	if err := t.svc.repo.RecordTurn(ctx, rec); err != nil {
		t.svc.logger.Warn("Failed to record counsel turn", "session_id", rec.SessionID, "error", err)
	}
}

// errorLabel hides cancellation from the client; every other failure is labelled.
func errorLabel(state counsel.State, err error) string {
	if state == counsel.StateCancelled {
		return ""
	}
	return counsel.ErrorKindOf(err)
}
