package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/careerflow/internal/counsel"
	"github.com/ashureev/careerflow/internal/domain"
)

type fakeRepo struct {
	mu    sync.Mutex
	turns []*domain.TurnRecord
}

func (f *fakeRepo) RecordTurn(_ context.Context, turn *domain.TurnRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy := *turn
	f.turns = append(f.turns, &copy)
	return nil
}

func (f *fakeRepo) ListTurns(_ context.Context, sessionID string, _ int) ([]*domain.TurnRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.TurnRecord
	for _, t := range f.turns {
		if t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeRepo) CleanupExpiredTurns(_ context.Context, retention time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-retention)
	kept := f.turns[:0]
	var deleted int64
	for _, t := range f.turns {
		if t.StartedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, t)
	}
	f.turns = kept
	return deleted, nil
}

func (f *fakeRepo) Ping(context.Context) error { return nil }
func (f *fakeRepo) Close() error               { return nil }

func (f *fakeRepo) all() []*domain.TurnRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.TurnRecord(nil), f.turns...)
}

// pacedServer writes chunks[0] at once and each later chunk after a signal on next.
func pacedServer(t *testing.T, chunks []string, next <-chan struct{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		for i, c := range chunks {
			if i > 0 {
				select {
				case <-next:
				case <-r.Context().Done():
					return
				}
			}
			_, _ = w.Write([]byte(c))
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestService(t *testing.T, endpoint string, timeout time.Duration) (*Service, *fakeRepo) {
	t.Helper()
	cfg := counsel.DefaultClientConfig(endpoint)
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	repo := &fakeRepo{}
	svc := NewService(NewRegistry(nil), counsel.NewClient(cfg, nil, nil), repo, nil, nil)
	return svc, repo
}

// collect ranges over a turn, calling onEvent for each event.
func collect(t *testing.T, seq func(func(TurnEvent) bool), onEvent func(TurnEvent)) []TurnEvent {
	t.Helper()
	var events []TurnEvent
	for ev := range seq {
		events = append(events, ev)
		if onEvent != nil {
			onEvent(ev)
		}
	}
	return events
}

func lastOf(events []TurnEvent, typ EventType) (TurnEvent, bool) {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == typ {
			return events[i], true
		}
	}
	return TurnEvent{}, false
}

func countOf(events []TurnEvent, typ EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}
