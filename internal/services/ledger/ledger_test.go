package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/furgapp/furgo/internal/models"
)

func TestMemoryLedger_SumToday(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	now := time.Now().UTC()
	yesterday := now.Add(-25 * time.Hour)

	require.NoError(t, l.AppendEvent(ctx, &models.UsageEvent{
		ID: "e1", UserID: "u1", Model: models.ModelRoaster,
		InputTokens: 100, OutputTokens: 50, CostUSD: 0.01, Timestamp: now,
	}))
	require.NoError(t, l.AppendEvent(ctx, &models.UsageEvent{
		ID: "e2", UserID: "u1", Model: models.ModelAdvisor,
		InputTokens: 200, OutputTokens: 100, CostUSD: 0.02, Timestamp: now,
	}))
	// Different user and a stale event: both excluded.
	require.NoError(t, l.AppendEvent(ctx, &models.UsageEvent{
		ID: "e3", UserID: "u2", InputTokens: 999, Timestamp: now,
	}))
	require.NoError(t, l.AppendEvent(ctx, &models.UsageEvent{
		ID: "e4", UserID: "u1", InputTokens: 999, Timestamp: yesterday,
	}))

	sum, err := l.SumToday(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Requests)
	assert.Equal(t, 300, sum.InputTokens)
	assert.Equal(t, 150, sum.OutputTokens)
	assert.InDelta(t, 0.03, sum.CostUSD, 1e-9)
	assert.Equal(t, 450, sum.TotalTokens())
}

func TestMemoryLedger_EventsAreAppendOnly(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	ev := &models.UsageEvent{ID: "e1", UserID: "u1", InputTokens: 10, Timestamp: time.Now()}
	require.NoError(t, l.AppendEvent(ctx, ev))

	// Mutating the caller's copy must not change the stored event.
	ev.InputTokens = 9999

	got := l.Events()
	require.Len(t, got, 1)
	assert.Equal(t, 10, got[0].InputTokens)
}
