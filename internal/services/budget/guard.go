package budget

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/furgapp/furgo/internal/models"
	"github.com/furgapp/furgo/internal/monitoring"
	"github.com/furgapp/furgo/internal/services/ledger"
	"github.com/furgapp/furgo/internal/services/ratelimit"
)

const admitWindow = 60 * time.Second

// outputEstimateFactor models the typical output:input ratio for chat, used
// for the forward-looking token check.
const outputEstimateFactor = 3

// Guard enforces the admission ceilings: per-user and per-IP request rates
// over a trailing 60s window, a process-wide rate, and per-user daily token
// and cost ceilings read from the ledger. Checks run rate, token, cost; the
// first refusal wins.
type Guard struct {
	limiter       ratelimit.RateLimiter
	ledger        ledger.UsageLedger
	log           *zap.Logger
	rMax          int
	tMaxDay       int
	cMaxDay       float64
	processFactor int
}

type GuardConfig struct {
	Limiter       ratelimit.RateLimiter
	Ledger        ledger.UsageLedger
	Logger        *zap.Logger
	RMax          int
	TMaxDay       int
	CMaxDay       float64
	ProcessFactor int
}

func NewGuard(cfg GuardConfig) *Guard {
	if cfg.RMax == 0 {
		cfg.RMax = 10
	}
	if cfg.TMaxDay == 0 {
		cfg.TMaxDay = 100_000
	}
	if cfg.CMaxDay == 0 {
		cfg.CMaxDay = 5.0
	}
	if cfg.ProcessFactor == 0 {
		cfg.ProcessFactor = 50
	}
	return &Guard{
		limiter:       cfg.Limiter,
		ledger:        cfg.Ledger,
		log:           cfg.Logger,
		rMax:          cfg.RMax,
		tMaxDay:       cfg.TMaxDay,
		cMaxDay:       cfg.CMaxDay,
		processFactor: cfg.ProcessFactor,
	}
}

// AdmitIP is the unauthenticated pre-check: a per-IP window capped at twice
// the per-user rate. Called upstream of Admit by the endpoint layer.
func (g *Guard) AdmitIP(ctx context.Context, ip string) error {
	if ip == "" {
		return nil
	}
	allowed, err := g.limiter.Allow(ctx, "ip:"+ip, 2*g.rMax, admitWindow)
	if err != nil {
		// Limiter backend failure fails open; the per-user window still holds.
		g.log.Warn("ip rate check failed, admitting", zap.String("ip", ip), zap.Error(err))
		return nil
	}
	if !allowed {
		monitoring.BudgetRefusals.WithLabelValues(string(models.KindRateExceeded)).Inc()
		return models.NewKindError(models.KindRateExceeded, "too many requests from your address")
	}
	return nil
}

// Admit decides whether one request may proceed. estimatedInputTokens feeds
// the forward-looking token check only; the authoritative totals come from
// the ledger.
func (g *Guard) Admit(ctx context.Context, userID string, estimatedInputTokens int) error {
	// Process-wide ceiling first: it protects everything downstream.
	allowed, err := g.limiter.Allow(ctx, "process", g.processFactor*g.rMax, admitWindow)
	if err == nil && !allowed {
		monitoring.BudgetRefusals.WithLabelValues(string(models.KindRateExceeded)).Inc()
		return models.NewKindError(models.KindRateExceeded, "service is saturated, try again shortly")
	}

	allowed, err = g.limiter.Allow(ctx, "user:"+userID, g.rMax, admitWindow)
	if err != nil {
		g.log.Warn("user rate check failed, admitting", zap.String("user_id", userID), zap.Error(err))
	} else if !allowed {
		monitoring.BudgetRefusals.WithLabelValues(string(models.KindRateExceeded)).Inc()
		return models.NewKindError(models.KindRateExceeded, "slow down, limit is %d requests per minute", g.rMax)
	}

	sum, err := g.ledger.SumToday(ctx, userID)
	if err != nil {
		// The ledger is the budget source of truth; without it the daily
		// ceilings cannot be enforced, so fail open on rate alone.
		g.log.Warn("daily usage lookup failed, admitting on rate alone",
			zap.String("user_id", userID), zap.Error(err))
		return nil
	}

	tokensUsed := sum.TotalTokens()
	if tokensUsed >= g.tMaxDay {
		monitoring.BudgetRefusals.WithLabelValues(string(models.KindTokenBudgetExceeded)).Inc()
		return models.NewKindError(models.KindTokenBudgetExceeded, "daily quota of %d tokens reached", g.tMaxDay)
	}
	if tokensUsed+outputEstimateFactor*estimatedInputTokens > g.tMaxDay {
		monitoring.BudgetRefusals.WithLabelValues(string(models.KindTokenBudgetExceeded)).Inc()
		return models.NewKindError(models.KindTokenBudgetExceeded, "request would exceed the daily quota of %d tokens", g.tMaxDay)
	}

	if sum.CostUSD >= g.cMaxDay {
		monitoring.BudgetRefusals.WithLabelValues(string(models.KindCostBudgetExceeded)).Inc()
		return models.NewKindError(models.KindCostBudgetExceeded, "daily cost limit of $%.2f reached", g.cMaxDay)
	}

	return nil
}

// Remaining reports today's consumption against the ceilings.
type Remaining struct {
	RequestsToday   int     `json:"requests_today"`
	TokensUsed      int     `json:"tokens_used"`
	TokensRemaining int     `json:"tokens_remaining"`
	CostToday       float64 `json:"cost_today"`
	CostRemaining   float64 `json:"cost_remaining"`
	PercentUsed     float64 `json:"percent_used"`
}

func (g *Guard) Remaining(ctx context.Context, userID string) (Remaining, error) {
	sum, err := g.ledger.SumToday(ctx, userID)
	if err != nil {
		return Remaining{}, err
	}

	tokensUsed := sum.TotalTokens()
	tokensRemaining := g.tMaxDay - tokensUsed
	if tokensRemaining < 0 {
		tokensRemaining = 0
	}
	costRemaining := g.cMaxDay - sum.CostUSD
	if costRemaining < 0 {
		costRemaining = 0
	}
	percent := float64(tokensUsed) / float64(g.tMaxDay) * 100
	if percent > 100 {
		percent = 100
	}

	return Remaining{
		RequestsToday:   sum.Requests,
		TokensUsed:      tokensUsed,
		TokensRemaining: tokensRemaining,
		CostToday:       sum.CostUSD,
		CostRemaining:   costRemaining,
		PercentUsed:     percent,
	}, nil
}

// EstimateTokens is the rough 4-chars-per-token estimate plus the constant
// prompt overhead the assembled prefix adds.
func EstimateTokens(message string) int {
	const promptOverhead = 200
	return len(message)/4 + promptOverhead
}
