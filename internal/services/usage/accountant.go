package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/furgapp/furgo/internal/models"
	"github.com/furgapp/furgo/internal/monitoring"
	"github.com/furgapp/furgo/internal/services/ledger"
)

// Accountant prices invocations and writes usage events through to the
// ledger. A slow ledger never stalls the request path for longer than the
// soft deadline: past it the event moves to a bounded background buffer, and
// when that is full the event is dropped with a counter increment.
type Accountant struct {
	prices       PriceTable
	ledger       ledger.UsageLedger
	log          *zap.Logger
	softDeadline time.Duration
	buffer       chan *models.UsageEvent
	done         chan struct{}
}

type AccountantConfig struct {
	Prices       PriceTable
	Ledger       ledger.UsageLedger
	Logger       *zap.Logger
	SoftDeadline time.Duration
	BufferSize   int
}

func NewAccountant(cfg AccountantConfig) *Accountant {
	if cfg.SoftDeadline == 0 {
		cfg.SoftDeadline = 500 * time.Millisecond
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 1024
	}

	a := &Accountant{
		prices:       cfg.Prices,
		ledger:       cfg.Ledger,
		log:          cfg.Logger,
		softDeadline: cfg.SoftDeadline,
		buffer:       make(chan *models.UsageEvent, cfg.BufferSize),
		done:         make(chan struct{}),
	}
	go a.drain()
	return a
}

// CostOf exposes the price table bound at construction.
func (a *Accountant) CostOf(model models.ModelID, inputTokens, cachedInputTokens, outputTokens int) float64 {
	return a.prices.CostOf(model, inputTokens, cachedInputTokens, outputTokens)
}

// Record writes one event through to the ledger. Failure to write never fails
// the request; the caller has already got its response.
func (a *Accountant) Record(ctx context.Context, event *models.UsageEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.softDeadline)
	defer cancel()

	err := a.ledger.AppendEvent(writeCtx, event)
	if err == nil {
		return
	}

	monitoring.LedgerWritesDeferred.Inc()
	select {
	case a.buffer <- event:
		a.log.Warn("ledger write deferred to background buffer",
			zap.String("event_id", event.ID),
			zap.String("user_id", event.UserID),
			zap.Error(err))
	default:
		monitoring.LedgerWritesDropped.Inc()
		a.log.Error("ledger write dropped, buffer full",
			zap.String("event_id", event.ID),
			zap.String("user_id", event.UserID))
	}
}

// drain retries buffered events until Close. Background writes get a generous
// deadline; the request path is no longer waiting on them.
func (a *Accountant) drain() {
	for {
		select {
		case event := <-a.buffer:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := a.ledger.AppendEvent(ctx, event); err != nil {
				a.log.Error("background ledger write failed",
					zap.String("event_id", event.ID),
					zap.Error(err))
			}
			cancel()
		case <-a.done:
			return
		}
	}
}

// Close stops the background drain. Buffered events still unwritten are lost;
// the ledger tolerates the gap.
func (a *Accountant) Close() {
	close(a.done)
}
