package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/furgapp/furgo/internal/config"
	"github.com/furgapp/furgo/internal/models"
	"github.com/furgapp/furgo/internal/services/ledger"
)

type memStore struct {
	profile *models.Profile
	dyn     models.DynamicInputs
}

func (s *memStore) Profile(ctx context.Context, userID string) (*models.Profile, error) {
	return s.profile, nil
}

func (s *memStore) DynamicInputs(ctx context.Context, userID string) (models.DynamicInputs, error) {
	return s.dyn, nil
}

type memConvo struct {
	messages []models.Message
}

func (c *memConvo) Recent(ctx context.Context, userID string, limit int) ([]models.Message, error) {
	if len(c.messages) > limit {
		return c.messages[len(c.messages)-limit:], nil
	}
	return c.messages, nil
}

func (c *memConvo) Append(ctx context.Context, userID string, messages ...models.Message) error {
	c.messages = append(c.messages, messages...)
	return nil
}

func roasterStub(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"content": "That latte habit is a subscription you never signed up for."}}],
			"usage": {"prompt_tokens": 1000, "completion_tokens": 50}
		}`))
	}))
}

func testConfig(roasterURL string) *config.Config {
	return &config.Config{
		Budget: config.BudgetConfig{RMax: 10, TMaxDay: 100_000, CMaxDay: 5.0, ProcessFactor: 50},
		Models: config.ModelsConfig{
			Roaster: config.ModelConfig{APIKey: "k", BaseURL: roasterURL, Model: "grok-4-fast"},
			Advisor: config.ModelConfig{APIKey: "k", BaseURL: "http://127.0.0.1:1", Model: "claude"},
			Utility: config.ModelConfig{APIKey: "k", BaseURL: "http://127.0.0.1:1", Model: "gemini", Timeout: 100 * time.Millisecond},
		},
		Ledger: config.LedgerConfig{SoftDeadline: 500 * time.Millisecond, BufferSize: 16},
	}
}

func newTestCore(t *testing.T, cfg *config.Config, led ledger.UsageLedger, convo ConversationLog) *Core {
	t.Helper()
	c, err := New(cfg, Dependencies{
		Profiles: &memStore{
			profile: &models.Profile{UserID: "u1", Name: "Alex", IntensityMode: "moderate", Salary: 85000},
			dyn:     models.DynamicInputs{Balance: 1200, TodaysSpending: 40},
		},
		Convo:  convo,
		Ledger: led,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCore_Chat(t *testing.T) {
	srv := roasterStub(t)
	defer srv.Close()

	led := ledger.NewMemoryLedger()
	convo := &memConvo{}
	c := newTestCore(t, testConfig(srv.URL), led, convo)

	resp, err := c.Chat(context.Background(), &ChatRequest{UserID: "u1", Message: "roast my coffee spending"})
	require.NoError(t, err)

	assert.Equal(t, models.ModelRoaster, resp.Model)
	assert.Equal(t, models.IntentRoast, resp.Intent.Intent)
	assert.Equal(t, models.SourceLocal, resp.Intent.Source)
	assert.Contains(t, resp.Text, "latte")
	assert.Equal(t, 1000, resp.InputTokens)
	assert.Greater(t, resp.CostUSD, 0.0)

	// The exchange lands in the conversation log, user turn first.
	require.Len(t, convo.messages, 2)
	assert.Equal(t, "user", convo.messages[0].Role)
	assert.Equal(t, "assistant", convo.messages[1].Role)

	// And in the ledger.
	sum, err := led.SumToday(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Requests)
	assert.Equal(t, 1000, sum.InputTokens)
}

func TestCore_ChatRateLimited(t *testing.T) {
	srv := roasterStub(t)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Budget.RMax = 3
	c := newTestCore(t, cfg, ledger.NewMemoryLedger(), &memConvo{})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := c.Chat(ctx, &ChatRequest{UserID: "u1", Message: "hey"})
		require.NoError(t, err, "request %d", i+1)
	}

	_, err := c.Chat(ctx, &ChatRequest{UserID: "u1", Message: "hey"})
	require.Error(t, err)
	assert.Equal(t, models.KindRateExceeded, models.KindOf(err))
	assert.True(t, models.IsRefusal(err))
}

func TestCore_ChatFallbackOnDeadBackend(t *testing.T) {
	// Roaster points at a dead port; the chat still resolves.
	c := newTestCore(t, testConfig("http://127.0.0.1:1"), ledger.NewMemoryLedger(), &memConvo{})

	resp, err := c.Chat(context.Background(), &ChatRequest{UserID: "u1", Message: "roast me"})
	require.NoError(t, err)
	assert.True(t, resp.Fallback)
	assert.Equal(t, models.ModelSyntheticFallback, resp.Model)
	assert.NotEmpty(t, resp.Text)
}

func TestCore_Remaining(t *testing.T) {
	srv := roasterStub(t)
	defer srv.Close()

	c := newTestCore(t, testConfig(srv.URL), ledger.NewMemoryLedger(), &memConvo{})

	_, err := c.Chat(context.Background(), &ChatRequest{UserID: "u1", Message: "roast me"})
	require.NoError(t, err)

	rem, err := c.Remaining(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, rem.RequestsToday)
	assert.Equal(t, 1050, rem.TokensUsed)
	assert.Equal(t, 100_000-1050, rem.TokensRemaining)
}

func TestCore_Classify(t *testing.T) {
	c := newTestCore(t, testConfig("http://127.0.0.1:1"), ledger.NewMemoryLedger(), &memConvo{})

	dec := c.Classify(context.Background(), "u1", "can I afford a new laptop?")
	assert.Equal(t, models.IntentAdvice, dec.Intent)
	assert.Equal(t, models.SourceLocal, dec.Source)

	// No local rule and a dead utility backend degrades to the cheapest route.
	dec = c.Classify(context.Background(), "u1", "please enumerate my merchant patterns")
	assert.Equal(t, models.IntentRoast, dec.Intent)
	assert.InDelta(t, 0.5, dec.Confidence, 1e-9)
}

func TestCore_CategorizeTransaction(t *testing.T) {
	utilSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"parts": [{"text": "{\"category\": \"Groceries\"}"}]}}],
			"usageMetadata": {"promptTokenCount": 80, "candidatesTokenCount": 10}
		}`))
	}))
	defer utilSrv.Close()

	cfg := testConfig("http://127.0.0.1:1")
	cfg.Models.Utility.BaseURL = utilSrv.URL

	led := ledger.NewMemoryLedger()
	c := newTestCore(t, cfg, led, &memConvo{})

	category, err := c.CategorizeTransaction(context.Background(), "u1", models.Transaction{Merchant: "REWE", Amount: -54.20})
	require.NoError(t, err)
	assert.Equal(t, "Groceries", category)

	sum, err := led.SumToday(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Requests)
	assert.Equal(t, 80, sum.InputTokens)
}

func TestCore_InvalidateProfile(t *testing.T) {
	srv := roasterStub(t)
	defer srv.Close()

	c := newTestCore(t, testConfig(srv.URL), ledger.NewMemoryLedger(), &memConvo{})
	ctx := context.Background()

	_, err := c.Chat(ctx, &ChatRequest{UserID: "u1", Message: "hey"})
	require.NoError(t, err)

	// Invalidation is safe at any time and does not disturb the next request.
	c.InvalidateProfile(ctx, "u1")
	c.InvalidateLifeContext(ctx, "u1")

	_, err = c.Chat(ctx, &ChatRequest{UserID: "u1", Message: "hey again"})
	require.NoError(t, err)
}
