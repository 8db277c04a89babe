package router

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/furgapp/furgo/internal/models"
	"github.com/furgapp/furgo/internal/services/providers"
)

type fakeGuard struct {
	admitErr   error
	ipErr      error
	admitCalls int
	ipCalls    int
	lastEst    int
}

func (f *fakeGuard) AdmitIP(ctx context.Context, ip string) error {
	f.ipCalls++
	return f.ipErr
}

func (f *fakeGuard) Admit(ctx context.Context, userID string, est int) error {
	f.admitCalls++
	f.lastEst = est
	return f.admitErr
}

type fakeClassifier struct {
	decision models.IntentDecision
	calls    int
}

func (f *fakeClassifier) Classify(ctx context.Context, userID, message string) models.IntentDecision {
	f.calls++
	return f.decision
}

type fakeBuilder struct {
	uctx *models.UserContext
}

func (f *fakeBuilder) Build(ctx context.Context, userID string, profile *models.Profile, dyn models.DynamicInputs, life *models.LifeContext) *models.UserContext {
	if f.uctx != nil {
		return f.uctx
	}
	return &models.UserContext{UserID: userID}
}

func (f *fakeBuilder) PromptPrefix(ctx context.Context, uctx *models.UserContext, model models.ModelID, compile func() string) string {
	return compile()
}

type fakeAccountant struct {
	events []*models.UsageEvent
}

func (f *fakeAccountant) CostOf(model models.ModelID, inputTokens, cachedInputTokens, outputTokens int) float64 {
	return float64(inputTokens+outputTokens) / 1_000_000
}

func (f *fakeAccountant) Record(ctx context.Context, event *models.UsageEvent) {
	f.events = append(f.events, event)
}

type fakeClient struct {
	id      models.ModelID
	window  int
	result  *providers.Result
	err     error
	calls   int
	lastInv *providers.Invocation
}

func (f *fakeClient) ID() models.ModelID                            { return f.id }
func (f *fakeClient) HistoryWindow() int                            { return f.window }
func (f *fakeClient) ProfilePrefix(uctx *models.UserContext) string { return "profile block" }
func (f *fakeClient) Invoke(ctx context.Context, inv *providers.Invocation) (*providers.Result, error) {
	f.calls++
	f.lastInv = inv
	return f.result, f.err
}

type fixture struct {
	router     *Router
	guard      *fakeGuard
	classifier *fakeClassifier
	accountant *fakeAccountant
	roaster    *fakeClient
	advisor    *fakeClient
}

func newFixture(decision models.IntentDecision) *fixture {
	f := &fixture{
		guard:      &fakeGuard{},
		classifier: &fakeClassifier{decision: decision},
		accountant: &fakeAccountant{},
		roaster: &fakeClient{
			id: models.ModelRoaster, window: 6,
			result: &providers.Result{Text: "roasted", InputTokens: 800, OutputTokens: 60, CachedInputTokens: 500, LatencyMS: 120},
		},
		advisor: &fakeClient{
			id: models.ModelAdvisor, window: 10,
			result: &providers.Result{Text: "advised", InputTokens: 1200, OutputTokens: 200},
		},
	}
	f.router = NewRouter(Config{
		Guard:      f.guard,
		Classifier: f.classifier,
		Builder:    &fakeBuilder{},
		Accountant: f.accountant,
		Clients: map[models.ModelID]providers.ModelClient{
			models.ModelRoaster: f.roaster,
			models.ModelAdvisor: f.advisor,
		},
		Logger: zap.NewNop(),
	})
	return f
}

func roastDecision() models.IntentDecision {
	return models.IntentDecision{Intent: models.IntentRoast, Confidence: 0.85, Source: models.SourceLocal}
}

func TestRouter_Dispatch(t *testing.T) {
	f := newFixture(roastDecision())

	resp, err := f.router.Dispatch(context.Background(), &Request{
		UserID:  "u3",
		Message: "roast my coffee spending",
		History: []models.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "roasted", resp.Text)
	assert.Equal(t, models.ModelRoaster, resp.Model)
	assert.Equal(t, models.IntentRoast, resp.Intent.Intent)
	assert.False(t, resp.Fallback)
	assert.Equal(t, 800, resp.InputTokens)
	assert.InDelta(t, 860.0/1_000_000, resp.CostUSD, 1e-12)

	assert.Equal(t, 1, f.guard.admitCalls)
	assert.Equal(t, 0, f.guard.ipCalls, "no client IP, no IP check")
	assert.Equal(t, 1, f.roaster.calls)
	assert.Equal(t, 0, f.advisor.calls)
	assert.Equal(t, "profile block", f.roaster.lastInv.ProfileBlock)
	assert.Equal(t, "roast my coffee spending", f.roaster.lastInv.UserMessage)

	require.Len(t, f.accountant.events, 1)
	ev := f.accountant.events[0]
	assert.Equal(t, models.ModelRoaster, ev.Model)
	assert.Equal(t, "chat", ev.EndpointTag)
	assert.Equal(t, 800, ev.InputTokens)
	assert.Equal(t, 500, ev.CachedInputTokens)
}

func TestRouter_AdviceRoutesToAdvisor(t *testing.T) {
	f := newFixture(models.IntentDecision{Intent: models.IntentAdvice, Confidence: 0.85, Source: models.SourceLocal})

	resp, err := f.router.Dispatch(context.Background(), &Request{
		UserID:  "u4",
		Message: "is it worth buying this $800 chair?",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ModelAdvisor, resp.Model)
	assert.Equal(t, 1, f.advisor.calls)
	assert.Equal(t, 0, f.roaster.calls)
}

func TestRouter_GuardRefusalIsTerminal(t *testing.T) {
	f := newFixture(roastDecision())
	f.guard.admitErr = models.NewKindError(models.KindRateExceeded, "slow down")

	_, err := f.router.Dispatch(context.Background(), &Request{UserID: "u1", Message: "hi"})
	require.Error(t, err)
	assert.Equal(t, models.KindRateExceeded, models.KindOf(err))

	assert.Zero(t, f.classifier.calls, "refused requests are never classified")
	assert.Zero(t, f.roaster.calls)
	assert.Empty(t, f.accountant.events)
}

func TestRouter_IPRefusal(t *testing.T) {
	f := newFixture(roastDecision())
	f.guard.ipErr = models.NewKindError(models.KindRateExceeded, "too many requests from your address")

	_, err := f.router.Dispatch(context.Background(), &Request{UserID: "u1", ClientIP: "10.0.0.9", Message: "hi"})
	require.Error(t, err)
	assert.Equal(t, 1, f.guard.ipCalls)
	assert.Zero(t, f.guard.admitCalls)
}

func TestRouter_SyntheticFallback(t *testing.T) {
	f := newFixture(roastDecision())
	f.roaster.err = models.NewKindError(models.KindModelTimeout, "backend call timed out")
	f.roaster.result = nil

	resp, err := f.router.Dispatch(context.Background(), &Request{UserID: "u6", Message: "roast me"})
	require.NoError(t, err)

	assert.True(t, resp.Fallback)
	assert.Equal(t, models.ModelSyntheticFallback, resp.Model)
	assert.NotEmpty(t, resp.Text)
	assert.Zero(t, resp.InputTokens)
	assert.Zero(t, resp.CostUSD)

	// No cross-model failover: the advisor is never consulted.
	assert.Zero(t, f.advisor.calls)

	require.Len(t, f.accountant.events, 1)
	ev := f.accountant.events[0]
	assert.Equal(t, models.ModelSyntheticFallback, ev.Model)
	assert.Zero(t, ev.InputTokens)
	assert.Zero(t, ev.OutputTokens)
	assert.Zero(t, ev.CostUSD)
}

func TestRouter_FallbackTextIsDeterministic(t *testing.T) {
	assert.Equal(t, fallbackText("roast me"), fallbackText("roast me"))
	for _, msg := range []string{"", "a", "ab", "abc", "abcd"} {
		assert.NotEmpty(t, fallbackText(msg))
	}
}

func TestRouter_CanceledCallerGetsError(t *testing.T) {
	f := newFixture(roastDecision())
	ctx, cancel := context.WithCancel(context.Background())

	f.roaster.err = models.NewKindError(models.KindModelTransient, "request canceled")
	f.roaster.result = nil
	cancel()

	_, err := f.router.Dispatch(ctx, &Request{UserID: "u1", Message: "roast me"})
	require.Error(t, err)

	// The failure is still recorded, with zero tokens.
	require.Len(t, f.accountant.events, 1)
	assert.Equal(t, models.ModelSyntheticFallback, f.accountant.events[0].Model)
}

func TestTrimHistory(t *testing.T) {
	msg := func(content string) models.Message {
		return models.Message{Role: "user", Content: content}
	}

	t.Run("window bounds message count", func(t *testing.T) {
		history := []models.Message{msg("1"), msg("2"), msg("3"), msg("4")}
		trimmed := trimHistory(history, 2)
		require.Len(t, trimmed, 2)
		assert.Equal(t, "3", trimmed[0].Content)
		assert.Equal(t, "4", trimmed[1].Content)
	})

	t.Run("zero window drops everything", func(t *testing.T) {
		assert.Nil(t, trimHistory([]models.Message{msg("1")}, 0))
	})

	t.Run("token budget drops oldest first", func(t *testing.T) {
		big := strings.Repeat("x", 20_000) // ~5000 tokens each
		history := []models.Message{msg(big), msg(big), msg("latest")}
		trimmed := trimHistory(history, 10)
		require.Len(t, trimmed, 2)
		assert.Equal(t, "latest", trimmed[1].Content)
	})

	t.Run("short history passes through", func(t *testing.T) {
		history := []models.Message{msg("a"), msg("b")}
		assert.Equal(t, history, trimHistory(history, 6))
	})
}
