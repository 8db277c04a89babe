package usercontext

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/furgapp/furgo/internal/models"
	"github.com/furgapp/furgo/internal/monitoring"
	"github.com/furgapp/furgo/internal/services/cache"
)

const (
	staticTTL = 24 * time.Hour
	slowTTL   = 1 * time.Hour
	promptTTL = 5 * time.Minute

	dynamicTxLimit = 5
)

// Assembler composes the per-request UserContext from three lifetime tiers.
// Static and slow tiers live in the cache; the dynamic tier is rebuilt every
// request and never stored. The composite itself is never persisted.
type Assembler struct {
	cache cache.Cache
	log   *zap.Logger
}

func NewAssembler(c cache.Cache, log *zap.Logger) *Assembler {
	return &Assembler{cache: c, log: log}
}

func staticKey(userID string) string { return "ctx:" + userID + ":static" }
func slowKey(userID string) string   { return "ctx:" + userID + ":slow" }

// Build assembles the composite view. profile is the store's current row,
// used only when the static tier misses; life may be nil, in which case the
// slow tier falls back to neutral defaults.
func (a *Assembler) Build(ctx context.Context, userID string, profile *models.Profile, dyn models.DynamicInputs, life *models.LifeContext) *models.UserContext {
	static := a.loadStatic(ctx, userID, profile)
	slow := a.loadSlow(ctx, userID, dyn, life)

	txs := dyn.RecentTransactions
	if len(txs) > dynamicTxLimit {
		txs = txs[:dynamicTxLimit]
	}

	return &models.UserContext{
		UserID:             userID,
		ProfileSnapshot:    static,
		SlowContext:        slow,
		Balance:            dyn.Balance,
		HiddenBalance:      dyn.HiddenBalance,
		UpcomingBillsTotal: dyn.UpcomingBillsTotal,
		TodaysSpending:     dyn.TodaysSpending,
		LastTransactions:   txs,
	}
}

func (a *Assembler) loadStatic(ctx context.Context, userID string, profile *models.Profile) models.ProfileSnapshot {
	var snap models.ProfileSnapshot
	if a.cacheGet(ctx, staticKey(userID), "static", &snap) {
		return snap
	}

	if profile != nil {
		snap = models.ProfileSnapshot{
			Name:            profile.Name,
			IntensityMode:   profile.IntensityMode,
			Salary:          profile.Salary,
			SavingsGoal:     profile.SavingsGoal,
			LearnedInsights: profile.LearnedInsights,
		}
	}
	if snap.IntensityMode == "" {
		snap.IntensityMode = "moderate"
	}

	a.cacheSet(ctx, staticKey(userID), snap, staticTTL)
	return snap
}

func (a *Assembler) loadSlow(ctx context.Context, userID string, dyn models.DynamicInputs, life *models.LifeContext) models.SlowContext {
	var slow models.SlowContext
	if a.cacheGet(ctx, slowKey(userID), "slow", &slow) {
		return slow
	}

	slow = projectSlow(dyn, life)
	a.cacheSet(ctx, slowKey(userID), slow, slowTTL)
	return slow
}

func projectSlow(dyn models.DynamicInputs, life *models.LifeContext) models.SlowContext {
	slow := models.SlowContext{
		Health: models.HealthContext{
			StressLevel: "low",
			SleepHours:  7.0,
		},
		Location: models.LocationContext{
			Mode: "home",
		},
		WeeklySpendingAvg: dyn.WeeklyAvg,
		WeekendMultiplier: dyn.WeekendMultiplier,
	}

	if life != nil {
		if life.Health.StressLevel != "" {
			slow.Health.StressLevel = life.Health.StressLevel
		}
		if life.Health.LastNightSleep > 0 {
			slow.Health.SleepHours = life.Health.LastNightSleep
		}
		if life.Location.CurrentMode != "" {
			slow.Location.Mode = life.Location.CurrentMode
		}
		slow.Location.City = life.Location.City
		slow.Location.IsTraveling = !life.Location.IsInHomeCity && life.Location.City != ""
		slow.Calendar = models.CalendarContext{
			UpcomingEvents:     life.Calendar.UpcomingEvents,
			TotalUpcomingCosts: life.Calendar.TotalUpcomingCosts,
			NextMajorEvent:     life.Calendar.NextMajorEvent,
		}
	}

	slow.Health.SpendingRiskMultiplier = RiskMultiplier(slow.Health.StressLevel, slow.Health.SleepHours)
	return slow
}

// RiskMultiplier derives the spending-risk factor from stress and sleep. The
// product is clamped to [1.0, 2.0] and rounded to two decimals so the value
// is stable across rebuilds of the same inputs.
func RiskMultiplier(stressLevel string, sleepHours float64) float64 {
	stress := 1.0
	switch strings.ToLower(stressLevel) {
	case "moderate":
		stress = 1.15
	case "elevated":
		stress = 1.35
	case "high":
		stress = 1.6
	}

	sleep := 1.0
	switch {
	case sleepHours < 5:
		sleep = 1.2
	case sleepHours < 6:
		sleep = 1.1
	}

	m := stress * sleep
	if m < 1.0 {
		m = 1.0
	}
	if m > 2.0 {
		m = 2.0
	}
	return float64(int(m*100+0.5)) / 100
}

// PromptPrefix memoizes a compiled per-model prompt block for five minutes.
// The key embeds a short hash of the static and slow tiers, so a tier refresh
// rolls the key over instead of requiring explicit invalidation.
func (a *Assembler) PromptPrefix(ctx context.Context, uctx *models.UserContext, model models.ModelID, compile func() string) string {
	key := promptKey(uctx, model)

	value, hit, err := a.cache.Get(ctx, key)
	if err != nil {
		monitoring.CacheErrors.Inc()
		a.log.Warn("prompt cache read failed, recompiling", zap.Error(err))
	} else if hit {
		monitoring.CacheHits.WithLabelValues("prompt").Inc()
		return string(value)
	} else {
		monitoring.CacheMisses.WithLabelValues("prompt").Inc()
	}

	compiled := compile()
	a.cacheSetRaw(ctx, key, []byte(compiled), promptTTL)
	return compiled
}

func promptKey(uctx *models.UserContext, model models.ModelID) string {
	h := md5.New()
	_ = json.NewEncoder(h).Encode(uctx.ProfileSnapshot)
	_ = json.NewEncoder(h).Encode(uctx.SlowContext)
	digest := fmt.Sprintf("%x", h.Sum(nil))[:8]
	return fmt.Sprintf("prompt:%s:%s:%s", uctx.UserID, model, digest)
}

// InvalidateProfile drops the static tier after a profile mutation.
func (a *Assembler) InvalidateProfile(ctx context.Context, userID string) {
	if err := a.cache.Delete(ctx, staticKey(userID)); err != nil {
		monitoring.CacheErrors.Inc()
		a.log.Warn("static tier invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// InvalidateLifeContext drops the slow tier after a life-context update.
func (a *Assembler) InvalidateLifeContext(ctx context.Context, userID string) {
	if err := a.cache.Delete(ctx, slowKey(userID)); err != nil {
		monitoring.CacheErrors.Inc()
		a.log.Warn("slow tier invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// cacheGet reads and unmarshals one tier. Any backend or decode error counts
// as a miss; the tier is rebuilt from source.
func (a *Assembler) cacheGet(ctx context.Context, key, tier string, out any) bool {
	value, hit, err := a.cache.Get(ctx, key)
	if err != nil {
		monitoring.CacheErrors.Inc()
		a.log.Warn("cache read failed, treating as miss",
			zap.String("key", key), zap.Error(err))
		return false
	}
	if !hit {
		monitoring.CacheMisses.WithLabelValues(tier).Inc()
		return false
	}
	if err := json.Unmarshal(value, out); err != nil {
		monitoring.CacheErrors.Inc()
		a.log.Warn("cache entry undecodable, treating as miss",
			zap.String("key", key), zap.Error(err))
		return false
	}
	monitoring.CacheHits.WithLabelValues(tier).Inc()
	return true
}

func (a *Assembler) cacheSet(ctx context.Context, key string, value any, ttl time.Duration) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return
	}
	a.cacheSetRaw(ctx, key, encoded, ttl)
}

func (a *Assembler) cacheSetRaw(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := a.cache.Set(ctx, key, value, ttl); err != nil {
		monitoring.CacheErrors.Inc()
		a.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}
