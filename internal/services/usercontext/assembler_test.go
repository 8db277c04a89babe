package usercontext

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/furgapp/furgo/internal/models"
	"github.com/furgapp/furgo/internal/services/cache"
)

type failingCache struct{}

func (failingCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, errors.New("backend down")
}
func (failingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.New("backend down")
}
func (failingCache) Delete(ctx context.Context, key string) error {
	return errors.New("backend down")
}

func testProfile() *models.Profile {
	return &models.Profile{
		UserID:        "u1",
		Name:          "Alex",
		IntensityMode: "insanity",
		Salary:        85000,
		SavingsGoal:   &models.SavingsGoal{Amount: 5000, Purpose: "Japan trip"},
	}
}

func testLife() *models.LifeContext {
	life := &models.LifeContext{}
	life.Health.StressLevel = "elevated"
	life.Health.LastNightSleep = 5.5
	life.Location.CurrentMode = "traveling"
	life.Location.City = "Lisbon"
	life.Location.IsInHomeCity = false
	life.Calendar.NextMajorEvent = "flight home"
	return life
}

func TestAssembler_Build(t *testing.T) {
	ctx := context.Background()
	a := NewAssembler(cache.NewMemoryCache(), zap.NewNop())

	dyn := models.DynamicInputs{
		Balance:        1200,
		TodaysSpending: 40,
		RecentTransactions: []models.Transaction{
			{Merchant: "A"}, {Merchant: "B"}, {Merchant: "C"},
			{Merchant: "D"}, {Merchant: "E"}, {Merchant: "F"}, {Merchant: "G"},
		},
	}

	uctx := a.Build(ctx, "u1", testProfile(), dyn, testLife())

	assert.Equal(t, "Alex", uctx.Name)
	assert.Equal(t, "insanity", uctx.IntensityMode)
	assert.Equal(t, "elevated", uctx.Health.StressLevel)
	assert.Equal(t, "traveling", uctx.Location.Mode)
	assert.True(t, uctx.Location.IsTraveling)
	assert.InDelta(t, 1.49, uctx.Health.SpendingRiskMultiplier, 1e-9)
	assert.InDelta(t, 1200.0, uctx.Balance, 1e-9)
	assert.Len(t, uctx.LastTransactions, 5, "dynamic tier keeps at most five transactions")
}

func TestAssembler_StaticTierIsCached(t *testing.T) {
	ctx := context.Background()
	a := NewAssembler(cache.NewMemoryCache(), zap.NewNop())

	first := a.Build(ctx, "u1", testProfile(), models.DynamicInputs{}, nil)
	require.Equal(t, "Alex", first.Name)

	// A changed store row is invisible until the static tier is invalidated.
	renamed := testProfile()
	renamed.Name = "Alexandra"
	second := a.Build(ctx, "u1", renamed, models.DynamicInputs{}, nil)
	assert.Equal(t, "Alex", second.Name)

	a.InvalidateProfile(ctx, "u1")
	third := a.Build(ctx, "u1", renamed, models.DynamicInputs{}, nil)
	assert.Equal(t, "Alexandra", third.Name)
}

func TestAssembler_SlowTierIsCached(t *testing.T) {
	ctx := context.Background()
	a := NewAssembler(cache.NewMemoryCache(), zap.NewNop())

	first := a.Build(ctx, "u1", testProfile(), models.DynamicInputs{}, testLife())
	require.Equal(t, "elevated", first.Health.StressLevel)

	calmer := testLife()
	calmer.Health.StressLevel = "low"
	second := a.Build(ctx, "u1", testProfile(), models.DynamicInputs{}, calmer)
	assert.Equal(t, "elevated", second.Health.StressLevel)

	a.InvalidateLifeContext(ctx, "u1")
	third := a.Build(ctx, "u1", testProfile(), models.DynamicInputs{}, calmer)
	assert.Equal(t, "low", third.Health.StressLevel)
}

func TestAssembler_DynamicTierNeverCached(t *testing.T) {
	ctx := context.Background()
	a := NewAssembler(cache.NewMemoryCache(), zap.NewNop())

	first := a.Build(ctx, "u1", testProfile(), models.DynamicInputs{Balance: 100}, nil)
	second := a.Build(ctx, "u1", testProfile(), models.DynamicInputs{Balance: 42}, nil)

	assert.InDelta(t, 100.0, first.Balance, 1e-9)
	assert.InDelta(t, 42.0, second.Balance, 1e-9)
}

func TestAssembler_MissingInputs(t *testing.T) {
	ctx := context.Background()
	a := NewAssembler(cache.NewMemoryCache(), zap.NewNop())

	uctx := a.Build(ctx, "u1", nil, models.DynamicInputs{}, nil)

	assert.Equal(t, "moderate", uctx.IntensityMode)
	assert.Equal(t, "low", uctx.Health.StressLevel)
	assert.InDelta(t, 7.0, uctx.Health.SleepHours, 1e-9)
	assert.InDelta(t, 1.0, uctx.Health.SpendingRiskMultiplier, 1e-9)
	assert.Equal(t, "home", uctx.Location.Mode)
}

func TestAssembler_CacheFailureDegrades(t *testing.T) {
	ctx := context.Background()
	a := NewAssembler(failingCache{}, zap.NewNop())

	uctx := a.Build(ctx, "u1", testProfile(), models.DynamicInputs{Balance: 55}, testLife())

	// Every read and write failed; the context is still fully assembled.
	assert.Equal(t, "Alex", uctx.Name)
	assert.Equal(t, "elevated", uctx.Health.StressLevel)
	assert.InDelta(t, 55.0, uctx.Balance, 1e-9)

	a.InvalidateProfile(ctx, "u1")
	a.InvalidateLifeContext(ctx, "u1")
}

func TestRiskMultiplier(t *testing.T) {
	cases := []struct {
		stress string
		sleep  float64
		want   float64
	}{
		{"low", 8, 1.0},
		{"moderate", 8, 1.15},
		{"elevated", 8, 1.35},
		{"high", 8, 1.6},
		{"low", 4.5, 1.2},
		{"moderate", 5.5, 1.27},  // 1.15 * 1.1 rounded
		{"elevated", 5.5, 1.49},  // 1.35 * 1.1 rounded
		{"high", 4, 1.92},        // 1.6 * 1.2
		{"unknown", 8, 1.0},      // unrecognized stress is neutral
		{"HIGH", 8, 1.6},         // case-insensitive
	}

	for _, tc := range cases {
		assert.InDelta(t, tc.want, RiskMultiplier(tc.stress, tc.sleep), 1e-9,
			"stress=%s sleep=%.1f", tc.stress, tc.sleep)
	}
}

func TestAssembler_PromptPrefix(t *testing.T) {
	ctx := context.Background()
	a := NewAssembler(cache.NewMemoryCache(), zap.NewNop())

	uctx := a.Build(ctx, "u1", testProfile(), models.DynamicInputs{}, testLife())

	compiles := 0
	compile := func() string {
		compiles++
		return "compiled prefix"
	}

	assert.Equal(t, "compiled prefix", a.PromptPrefix(ctx, uctx, models.ModelRoaster, compile))
	assert.Equal(t, "compiled prefix", a.PromptPrefix(ctx, uctx, models.ModelRoaster, compile))
	assert.Equal(t, 1, compiles, "second call must come from the cache")

	// A different model compiles its own prefix.
	_ = a.PromptPrefix(ctx, uctx, models.ModelAdvisor, compile)
	assert.Equal(t, 2, compiles)

	// A tier change rolls the key, so the stale prefix is never served.
	changed := *uctx
	changed.ProfileSnapshot.Name = "Alexandra"
	_ = a.PromptPrefix(ctx, &changed, models.ModelRoaster, compile)
	assert.Equal(t, 3, compiles)
}
