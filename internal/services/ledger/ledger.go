package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/furgapp/furgo/internal/models"
)

// UsageLedger is the append-only usage store. Retention is the ledger's
// concern; the core only appends and reads today's totals.
type UsageLedger interface {
	AppendEvent(ctx context.Context, event *models.UsageEvent) error
	SumToday(ctx context.Context, userID string) (models.DailyUsage, error)
}

// MemoryLedger keeps events in memory. It backs tests and single-process
// deployments without a database.
type MemoryLedger struct {
	mu     sync.RWMutex
	events []models.UsageEvent
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

func (l *MemoryLedger) AppendEvent(ctx context.Context, event *models.UsageEvent) error {
	l.mu.Lock()
	l.events = append(l.events, *event)
	l.mu.Unlock()
	return nil
}

func (l *MemoryLedger) SumToday(ctx context.Context, userID string) (models.DailyUsage, error) {
	dayStart := time.Now().UTC().Truncate(24 * time.Hour)

	var sum models.DailyUsage
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.events {
		if e.UserID != userID || e.Timestamp.UTC().Before(dayStart) {
			continue
		}
		sum.Requests++
		sum.InputTokens += e.InputTokens
		sum.OutputTokens += e.OutputTokens
		sum.CostUSD += e.CostUSD
	}
	return sum, nil
}

// Events returns a copy of everything appended so far. Test helper.
func (l *MemoryLedger) Events() []models.UsageEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.UsageEvent, len(l.events))
	copy(out, l.events)
	return out
}
