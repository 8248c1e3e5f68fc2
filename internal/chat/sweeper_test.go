package chat

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ashureev/careerflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepEvictsAndPrunes(t *testing.T) {
	r := NewRegistry(nil)
	now := time.Now()
	r.now = func() time.Time { return now }
	s := r.Create("u")

	repo := &fakeRepo{}
	require.NoError(t, repo.RecordTurn(context.Background(), &domain.TurnRecord{SessionID: s.ID(), StartedAt: now.Add(-10 * 24 * time.Hour)}))
	require.NoError(t, repo.RecordTurn(context.Background(), &domain.TurnRecord{SessionID: s.ID(), StartedAt: now}))

	now = now.Add(2 * time.Hour)
	sweep(context.Background(), r, repo, SweepConfig{IdleTTL: time.Hour, TurnRetention: 7 * 24 * time.Hour}, slog.Default())

	assert.Equal(t, 0, r.Len())
	assert.Len(t, repo.all(), 1)
}

func TestStartSweeperStopsWithContext(t *testing.T) {
	r := NewRegistry(nil)
	r.Create("u")
	r.now = func() time.Time { return time.Now().Add(time.Hour) }

	ctx, cancel := context.WithCancel(context.Background())
	StartSweeper(ctx, r, nil, SweepConfig{Interval: 10 * time.Millisecond, IdleTTL: time.Minute}, nil)

	require.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 10*time.Millisecond)
	cancel()
}
