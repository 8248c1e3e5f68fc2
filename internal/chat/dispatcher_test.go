package chat

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ashureev/careerflow/internal/counsel"
	"github.com/ashureev/careerflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDispatcherFixture(t *testing.T) (*Dispatcher, *Session) {
	t.Helper()
	s := newSession("u", time.Now())
	turn, err := s.beginTurn(idleCall(), time.Now(), botMessage("bot"))
	require.NoError(t, err)
	return NewDispatcher(&MessageHandle{session: s, turn: turn, id: "bot"}), s
}

func TestDispatcherReplacesPlainText(t *testing.T) {
	d, s := newDispatcherFixture(t)

	_, ok := d.Apply(counsel.Event{Kind: counsel.EventPlain, Text: "Hello"})
	require.True(t, ok)
	msg, ok := d.Apply(counsel.Event{Kind: counsel.EventPlain, Text: "Hello world"})
	require.True(t, ok)
	assert.Equal(t, "Hello world", msg.Text)

	// Replaying the same event leaves the same state.
	again, ok := d.Apply(counsel.Event{Kind: counsel.EventPlain, Text: "Hello world"})
	require.True(t, ok)
	assert.Equal(t, msg, again)

	stored, _ := s.Message("bot")
	assert.Equal(t, "Hello world", stored.Text)
	assert.Equal(t, domain.KindPlain, stored.Kind)
}

func TestDispatcherStructuredIsFinal(t *testing.T) {
	d, s := newDispatcherFixture(t)

	payload := json.RawMessage(`{"recommendation_title":"Pilot"}`)
	msg, ok := d.Apply(counsel.Event{Kind: counsel.EventStructured, Payload: payload})
	require.True(t, ok)
	assert.Equal(t, domain.KindStructured, msg.Kind)
	assert.Equal(t, "Pilot", msg.Recommendation.RecommendationTitle)
	assert.True(t, d.Classified())

	_, ok = d.Apply(counsel.Event{Kind: counsel.EventPlain, Text: "stray"})
	assert.False(t, ok)
	_, ok = d.Fail(errors.New("late failure"))
	assert.False(t, ok)

	stored, _ := s.Message("bot")
	assert.Equal(t, domain.KindStructured, stored.Kind)
	assert.JSONEq(t, string(payload), string(stored.StructuredPayload))
}

func TestDispatcherStoresNonRecommendationPayload(t *testing.T) {
	d, _ := newDispatcherFixture(t)

	msg, ok := d.Apply(counsel.Event{Kind: counsel.EventStructured, Payload: json.RawMessage(`[1,2,3]`)})
	require.True(t, ok)
	assert.Equal(t, `[1,2,3]`, string(msg.StructuredPayload))
	require.NotNil(t, msg.Recommendation)
	assert.Empty(t, msg.Recommendation.RecommendationTitle)
	assert.NotNil(t, msg.Recommendation.AlternativeCareers)
}

func TestDispatcherFail(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantText string
		wantOK   bool
	}{
		{name: "remote error", err: &counsel.RemoteError{Kind: counsel.KindHTTP, Status: 500}, wantText: domain.FallbackText, wantOK: true},
		{name: "timeout", err: &counsel.RemoteError{Kind: counsel.KindTimeout, Err: counsel.ErrTimeout}, wantText: domain.FallbackText, wantOK: true},
		{name: "decode", err: &counsel.DecodeError{Offset: 3}, wantText: domain.FallbackText, wantOK: true},
		{name: "cancelled", err: counsel.ErrCancelled, wantText: "partial", wantOK: false},
		{name: "nil", err: nil, wantText: "partial", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, s := newDispatcherFixture(t)
			_, ok := d.Apply(counsel.Event{Kind: counsel.EventPlain, Text: "partial"})
			require.True(t, ok)

			_, ok = d.Fail(tt.err)
			assert.Equal(t, tt.wantOK, ok)

			stored, _ := s.Message("bot")
			assert.Equal(t, tt.wantText, stored.Text)
			assert.Equal(t, domain.KindPlain, stored.Kind)
		})
	}
}

func TestDispatcherSameChunksSameState(t *testing.T) {
	chunks := []string{"Try ", "", "nursing", " or ", "teaching."}

	run := func() domain.Message {
		d, s := newDispatcherFixture(t)
		var acc counsel.Accumulator
		for _, c := range chunks {
			if ev, ok := acc.Feed(c); ok {
				d.Apply(ev)
			}
		}
		msg, _ := s.Message("bot")
		return msg
	}

	a, b := run(), run()
	assert.Equal(t, a.Text, b.Text)
	assert.Equal(t, a.Kind, b.Kind)
	assert.Equal(t, "Try nursing or teaching.", a.Text)
}
