package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/careerflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signalOnText(next chan<- struct{}) func(TurnEvent) {
	return func(ev TurnEvent) {
		if ev.Type == EventMessage && ev.Message != nil && ev.Message.Text != "" {
			next <- struct{}{}
		}
	}
}

func TestSendPlainTextTurn(t *testing.T) {
	t.Parallel()

	next := make(chan struct{}, 4)
	srv := pacedServer(t, []string{"Hello", " world"}, next)
	svc, repo := newTestService(t, srv.URL, 0)
	sess := svc.Sessions().Create("u1")

	seq, err := svc.Send(context.Background(), sess.ID(), "u1", "  Which career suits me?  ")
	require.NoError(t, err)
	events := collect(t, seq, signalOnText(next))

	require.GreaterOrEqual(t, len(events), 4)
	assert.Equal(t, EventUser, events[0].Type)
	assert.Equal(t, "Which career suits me?", events[0].Message.Text)
	assert.Equal(t, EventMessage, events[1].Type)
	assert.Empty(t, events[1].Message.Text)
	assert.Equal(t, "Hello", events[2].Message.Text)
	assert.Equal(t, "Hello world", events[3].Message.Text)

	end := events[len(events)-1]
	assert.Equal(t, EventEnd, end.Type)
	assert.Equal(t, "completed", end.State)
	assert.Empty(t, end.Error)
	assert.Equal(t, domain.KindPlain, end.Message.Kind)

	msgs := sess.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.SenderUser, msgs[0].Sender)
	assert.Equal(t, domain.SenderBot, msgs[1].Sender)
	assert.Equal(t, "Hello world", msgs[1].Text)
	assert.False(t, sess.Busy())

	turns := repo.all()
	require.Len(t, turns, 1)
	assert.Equal(t, "completed", turns[0].State)
	assert.Equal(t, 2, turns[0].Chunks)
	assert.Equal(t, msgs[1].ID, turns[0].MessageID)
	assert.Equal(t, "u1", turns[0].UserID)
}

func TestSendStructuredTurn(t *testing.T) {
	t.Parallel()

	first := `{"recommendation_title":"Data Analyst"`
	second := `,"role_overview":"...","fit_analysis":"...","required_skills":[],"education_path":"","career_ladder":"","market_insights":"","action_plan":[],"alternative_careers":[]}`
	next := make(chan struct{}, 4)
	srv := pacedServer(t, []string{first, second}, next)
	svc, _ := newTestService(t, srv.URL, 0)
	sess := svc.Sessions().Create("u1")

	seq, err := svc.Send(context.Background(), sess.ID(), "u1", "Recommend a career")
	require.NoError(t, err)
	events := collect(t, seq, signalOnText(next))

	partial := events[2]
	assert.Equal(t, domain.KindPlain, partial.Message.Kind)
	assert.Equal(t, first, partial.Message.Text)

	end, ok := lastOf(events, EventEnd)
	require.True(t, ok)
	assert.Equal(t, "completed", end.State)
	require.Equal(t, domain.KindStructured, end.Message.Kind)
	require.NotNil(t, end.Message.Recommendation)
	assert.Equal(t, "Data Analyst", end.Message.Recommendation.RecommendationTitle)
	assert.JSONEq(t, first+second, string(end.Message.StructuredPayload))
}

func TestSendStructuredMissingListsDegrade(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"recommendation_title":"Teacher","role_overview":"Educates."}`))
	}))
	defer srv.Close()
	svc, _ := newTestService(t, srv.URL, 0)
	sess := svc.Sessions().Create("u1")

	seq, err := svc.Send(context.Background(), sess.ID(), "u1", "q")
	require.NoError(t, err)
	events := collect(t, seq, nil)

	end, _ := lastOf(events, EventEnd)
	rec := end.Message.Recommendation
	require.NotNil(t, rec)
	assert.Equal(t, "Teacher", rec.RecommendationTitle)
	assert.Equal(t, []string{}, rec.AlternativeCareers)
	assert.Equal(t, []domain.ActionStep{}, rec.ActionPlan)
	assert.Equal(t, []string{}, rec.RequiredSkills)
}

func TestSendRemoteErrorShowsFallback(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()
	svc, repo := newTestService(t, srv.URL, 0)
	sess := svc.Sessions().Create("u1")

	seq, err := svc.Send(context.Background(), sess.ID(), "u1", "q")
	require.NoError(t, err)
	events := collect(t, seq, nil)

	errEv, ok := lastOf(events, EventError)
	require.True(t, ok)
	assert.Equal(t, domain.FallbackText, errEv.Message.Text)
	assert.Equal(t, "http", errEv.Error)

	end, _ := lastOf(events, EventEnd)
	assert.Equal(t, "errored", end.State)
	assert.Equal(t, "http", end.Error)
	assert.Equal(t, domain.KindPlain, end.Message.Kind)
	assert.Equal(t, domain.FallbackText, end.Message.Text)
	assert.Equal(t, 1, countOf(events, EventEnd))

	require.Len(t, repo.all(), 1)
	assert.Equal(t, "http", repo.all()[0].ErrorKind)
}

func TestSendTimeoutShowsFallback(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()
	svc, _ := newTestService(t, srv.URL, 50*time.Millisecond)
	sess := svc.Sessions().Create("u1")

	seq, err := svc.Send(context.Background(), sess.ID(), "u1", "q")
	require.NoError(t, err)
	events := collect(t, seq, nil)

	end, _ := lastOf(events, EventEnd)
	assert.Equal(t, "timed_out", end.State)
	assert.Equal(t, "timeout", end.Error)
	assert.Equal(t, domain.FallbackText, end.Message.Text)
}

func TestDeleteSessionCancelsTurnSilently(t *testing.T) {
	t.Parallel()

	next := make(chan struct{}, 4)
	srv := pacedServer(t, []string{"one ", "two ", "three"}, next)
	svc, repo := newTestService(t, srv.URL, 0)
	sess := svc.Sessions().Create("u1")

	seq, err := svc.Send(context.Background(), sess.ID(), "u1", "q")
	require.NoError(t, err)

	textEvents := 0
	events := collect(t, seq, func(ev TurnEvent) {
		if ev.Type != EventMessage || ev.Message.Text == "" {
			return
		}
		textEvents++
		if textEvents == 2 {
			require.NoError(t, svc.Sessions().Delete(sess.ID(), "u1"))
		}
		next <- struct{}{}
	})

	assert.Equal(t, 0, countOf(events, EventError))
	end, ok := lastOf(events, EventEnd)
	require.True(t, ok)
	assert.Equal(t, "cancelled", end.State)
	assert.Empty(t, end.Error)

	bot := sess.Messages()[1]
	assert.Equal(t, "one two ", bot.Text)
	assert.Equal(t, domain.KindPlain, bot.Kind)

	_, err = svc.Sessions().Get(sess.ID(), "u1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, "cancelled", repo.all()[0].State)
}

func TestContextCancelStopsTurn(t *testing.T) {
	t.Parallel()

	next := make(chan struct{}, 4)
	srv := pacedServer(t, []string{"one ", "two "}, next)
	svc, _ := newTestService(t, srv.URL, 0)
	sess := svc.Sessions().Create("u1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	seq, err := svc.Send(ctx, sess.ID(), "u1", "q")
	require.NoError(t, err)

	events := collect(t, seq, func(ev TurnEvent) {
		if ev.Type == EventMessage && ev.Message.Text != "" {
			cancel()
		}
	})

	end, _ := lastOf(events, EventEnd)
	assert.Equal(t, "cancelled", end.State)
	assert.Equal(t, 0, countOf(events, EventError))
	assert.Equal(t, "one ", sess.Messages()[1].Text)
	assert.False(t, sess.Busy())
}

func TestConsumerBreakCancelsTurn(t *testing.T) {
	t.Parallel()

	next := make(chan struct{})
	srv := pacedServer(t, []string{"one ", "two "}, next)
	svc, repo := newTestService(t, srv.URL, 0)
	sess := svc.Sessions().Create("u1")

	seq, err := svc.Send(context.Background(), sess.ID(), "u1", "q")
	require.NoError(t, err)
	for ev := range seq {
		if ev.Type == EventMessage && ev.Message.Text != "" {
			break
		}
	}

	assert.False(t, sess.Busy())
	require.Len(t, repo.all(), 1)
	assert.Equal(t, "cancelled", repo.all()[0].State)
}

func TestSendRejectsBusySession(t *testing.T) {
	t.Parallel()

	next := make(chan struct{})
	srv := pacedServer(t, []string{"thinking", "done"}, next)
	svc, _ := newTestService(t, srv.URL, 0)
	sess := svc.Sessions().Create("u1")

	seq, err := svc.Send(context.Background(), sess.ID(), "u1", "first")
	require.NoError(t, err)
	assert.True(t, sess.Busy())

	_, err = svc.Send(context.Background(), sess.ID(), "u1", "second")
	assert.ErrorIs(t, err, ErrTurnInFlight)

	collect(t, seq, func(ev TurnEvent) {
		if ev.Type == EventMessage && ev.Message.Text == "thinking" {
			close(next)
		}
	})
	assert.False(t, sess.Busy())
	assert.Len(t, sess.Messages(), 2)
}

func TestSendValidation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, "http://127.0.0.1:1", 0)
	sess := svc.Sessions().Create("owner")

	_, err := svc.Send(context.Background(), sess.ID(), "owner", "   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = svc.Send(context.Background(), sess.ID(), "intruder", "hi")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = svc.Send(context.Background(), "missing", "owner", "hi")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Empty(t, sess.Messages())
}

func TestDeleteBeforeRangeEndsSilently(t *testing.T) {
	t.Parallel()

	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		_, _ = w.Write([]byte("never sent"))
	}))
	defer srv.Close()

	svc, _ := newTestService(t, srv.URL, 0)
	sess := svc.Sessions().Create("u1")

	seq, err := svc.Send(context.Background(), sess.ID(), "u1", "hello")
	require.NoError(t, err)
	require.NoError(t, svc.Sessions().Delete(sess.ID(), "u1"))

	events := collect(t, seq, nil)
	assert.Equal(t, 0, countOf(events, EventError))
	end, ok := lastOf(events, EventEnd)
	require.True(t, ok)
	assert.Equal(t, "cancelled", end.State)
	assert.Empty(t, end.Error)
	assert.NotEqual(t, domain.FallbackText, end.Message.Text)
	assert.Zero(t, hits, "a cancelled turn never reaches the network")
}
