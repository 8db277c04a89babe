package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/furgapp/furgo/internal/models"
)

// roastSystemPrefix is byte-stable across requests so the backend's prompt
// cache recognizes it. Only the context block after it varies.
const roastSystemPrefix = `You are the roasting engine of a personal finance assistant - a brutally honest financial AI that uses dark humor to help users save money.

## Your Personality
- Sarcastic but caring
- Specific with numbers (always cite actual amounts)
- Quick-witted, punchy responses (2-3 sentences max)
- Reference the user's actual data to make roasts hit harder
- Always include actionable advice after the roast

## Roasting Intensity Levels
- MILD: Gentle nudges, mostly encouragement with light teasing
- MODERATE: Balanced roasting, call out mistakes but stay friendly
- INSANITY: Maximum roast mode, no mercy, brutal honesty

## Rules
1. Never let users feel bad about themselves - roast the BEHAVIOR, not the person
2. Always tie roasts back to their goals
3. Use specific numbers from their data
4. Keep it fun, not mean
5. If they're doing well, celebrate briefly then challenge them to do better

`

const (
	roasterHistoryWindow  = 6
	roasterMaxOutput      = 500
	roasterTemperature    = 0.8
	roasterContextTxLimit = 3
)

// RoasterClient speaks the chat-completions wire shape: JSON body with
// model/messages/system, Bearer auth, usage counts under usage.* with cached
// prompt tokens in prompt_tokens_details.
type RoasterClient struct {
	apiKey  string
	baseURL string
	model   string
	timeout time.Duration
	client  *http.Client
	log     *zap.Logger
}

func NewRoasterClient(cfg ClientConfig, log *zap.Logger) *RoasterClient {
	return &RoasterClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		model:   cfg.Model,
		timeout: cfg.timeout(),
		client:  newHTTPClient(),
		log:     log,
	}
}

func (c *RoasterClient) ID() models.ModelID { return models.ModelRoaster }
func (c *RoasterClient) HistoryWindow() int { return roasterHistoryWindow }

// ProfilePrefix renders the slow-changing half of the context block.
func (c *RoasterClient) ProfilePrefix(uctx *models.UserContext) string {
	if uctx == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## User: %s\n", uctx.Name)
	fmt.Fprintf(&b, "Intensity Mode: %s\n", strings.ToUpper(uctx.IntensityMode))
	fmt.Fprintf(&b, "Salary: %s/year\n\n", formatMoney(uctx.Salary))
	fmt.Fprintf(&b, "## Life Context\n")
	fmt.Fprintf(&b, "Stress: %s (spending risk: %.2fx)\n", uctx.Health.StressLevel, uctx.Health.SpendingRiskMultiplier)
	fmt.Fprintf(&b, "Sleep: %.1fh last night\n", uctx.Health.SleepHours)
	fmt.Fprintf(&b, "Location: %s\n", uctx.Location.Mode)

	if uctx.SavingsGoal != nil {
		fmt.Fprintf(&b, "\n## Goal: %s for %s\n", formatMoney(uctx.SavingsGoal.Amount), uctx.SavingsGoal.Purpose)
	}
	if uctx.Calendar.NextMajorEvent != "" {
		fmt.Fprintf(&b, "Upcoming expense: %s\n", uctx.Calendar.NextMajorEvent)
	}
	return b.String()
}

type roasterRequest struct {
	Model       string           `json:"model"`
	Messages    []models.Message `json:"messages"`
	System      string           `json:"system"`
	MaxTokens   int              `json:"max_tokens"`
	Temperature float64          `json:"temperature"`
}

type roasterResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens        int `json:"prompt_tokens"`
		CompletionTokens    int `json:"completion_tokens"`
		PromptTokensDetails struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
}

func (c *RoasterClient) Invoke(ctx context.Context, inv *Invocation) (*Result, error) {
	maxTokens := inv.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = roasterMaxOutput
	}
	temperature := inv.Temperature
	if temperature < 0 {
		temperature = roasterTemperature
	}

	messages := make([]models.Message, 0, len(inv.History)+1)
	messages = append(messages, inv.History...)
	messages = append(messages, models.Message{Role: "user", Content: inv.UserMessage})

	profileBlock := inv.ProfileBlock
	if profileBlock == "" {
		profileBlock = c.ProfilePrefix(inv.Context)
	}

	reqBody := roasterRequest{
		Model:       c.model,
		Messages:    messages,
		System:      roastSystemPrefix + profileBlock + c.buildDynamicBlock(inv.Context),
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		c.log.Warn("roaster backend error",
			zap.Int("status", resp.StatusCode))
		return nil, classifyStatus(resp.StatusCode)
	}

	var parsed roasterResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, models.NewKindError(models.KindModelTransient, "unparseable backend response")
	}
	if len(parsed.Choices) == 0 {
		return nil, models.NewKindError(models.KindModelTransient, "backend response missing choices")
	}

	return &Result{
		Text:              parsed.Choices[0].Message.Content,
		InputTokens:       parsed.Usage.PromptTokens,
		OutputTokens:      parsed.Usage.CompletionTokens,
		CachedInputTokens: parsed.Usage.PromptTokensDetails.CachedTokens,
		LatencyMS:         time.Since(start).Milliseconds(),
	}, nil
}

// buildDynamicBlock renders the per-request financial state appended after the
// profile block. Never cached; balances change between requests.
func (c *RoasterClient) buildDynamicBlock(ctx *models.UserContext) string {
	if ctx == nil {
		return ""
	}

	var txLines []string
	for i, tx := range ctx.LastTransactions {
		if i >= roasterContextTxLimit {
			break
		}
		txLines = append(txLines, fmt.Sprintf("  - %s at %s", formatMoney(abs(tx.Amount)), tx.Merchant))
	}
	transactions := "  - No recent transactions"
	if len(txLines) > 0 {
		transactions = strings.Join(txLines, "\n")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n## Current State\n")
	fmt.Fprintf(&b, "Balance: %s\n", formatMoney(ctx.Balance))
	fmt.Fprintf(&b, "Hidden (shadow): %s\n", formatMoney(ctx.HiddenBalance))
	fmt.Fprintf(&b, "Today's spending: %s\n", formatMoney(ctx.TodaysSpending))
	fmt.Fprintf(&b, "Upcoming bills: %s\n\n", formatMoney(ctx.UpcomingBillsTotal))
	fmt.Fprintf(&b, "## Recent Transactions\n%s", transactions)

	return b.String()
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
