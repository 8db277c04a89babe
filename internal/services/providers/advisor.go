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

// advisorPolicyBlock never varies, so it is sent with a cache-control hint
// and the backend serves it from its prompt cache on repeat calls. User state
// goes in the second, uncached block.
const advisorPolicyBlock = `You are a financial AI advisor with expertise in personal finance.

## Your Role
You provide thoughtful, nuanced financial advice. While you can be witty, your primary goal here is to genuinely help users make smart financial decisions.

## Guidelines
- Be specific with numbers and calculations
- Consider the user's full financial picture
- Weigh pros and cons objectively
- If a purchase is actually fine, say so
- If it's a bad idea, explain why clearly
- Reference their goals and current situation
- Keep responses focused and actionable

## Important
- Never shame users for past decisions
- Focus on forward-looking advice
- Be honest about uncertainty
- Suggest professional help for complex situations (taxes, investments)
`

const (
	advisorHistoryWindow = 10
	advisorMaxOutput     = 1000
	advisorTemperature   = 0.4
)

// AdvisorClient speaks the messages wire shape: a system array whose elements
// carry optional cache-control hints, usage under usage.input_tokens /
// output_tokens / cache_read_input_tokens.
type AdvisorClient struct {
	apiKey  string
	baseURL string
	model   string
	timeout time.Duration
	client  *http.Client
	log     *zap.Logger
}

func NewAdvisorClient(cfg ClientConfig, log *zap.Logger) *AdvisorClient {
	return &AdvisorClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		model:   cfg.Model,
		timeout: cfg.timeout(),
		client:  newHTTPClient(),
		log:     log,
	}
}

func (c *AdvisorClient) ID() models.ModelID { return models.ModelAdvisor }
func (c *AdvisorClient) HistoryWindow() int { return advisorHistoryWindow }

// ProfilePrefix renders the profile and life-context section of the user-state
// block.
func (c *AdvisorClient) ProfilePrefix(uctx *models.UserContext) string {
	if uctx == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## User Profile\n")
	fmt.Fprintf(&b, "Name: %s\n", uctx.Name)
	fmt.Fprintf(&b, "Salary: %s/year\n", formatMoney(uctx.Salary))
	fmt.Fprintf(&b, "Intensity preference: %s\n\n", uctx.IntensityMode)
	fmt.Fprintf(&b, "## Life Context\n")
	fmt.Fprintf(&b, "Stress level: %s\n", uctx.Health.StressLevel)
	fmt.Fprintf(&b, "Location mode: %s\n", uctx.Location.Mode)

	if uctx.SavingsGoal != nil {
		fmt.Fprintf(&b, "\nSavings goal: %s for %s\n", formatMoney(uctx.SavingsGoal.Amount), uctx.SavingsGoal.Purpose)
	}
	if len(uctx.LearnedInsights) > 0 {
		fmt.Fprintf(&b, "\nLearned about user:\n")
		for i, insight := range uctx.LearnedInsights {
			if i >= 3 {
				break
			}
			fmt.Fprintf(&b, "- %s\n", insight)
		}
	}
	return b.String()
}

type advisorSystemBlock struct {
	Type         string               `json:"type"`
	Text         string               `json:"text"`
	CacheControl *advisorCacheControl `json:"cache_control,omitempty"`
}

type advisorCacheControl struct {
	Type string `json:"type"`
}

type advisorRequest struct {
	Model     string               `json:"model"`
	MaxTokens int                  `json:"max_tokens"`
	System    []advisorSystemBlock `json:"system"`
	Messages  []models.Message     `json:"messages"`

	Temperature float64 `json:"temperature"`
}

type advisorResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens          int `json:"input_tokens"`
		OutputTokens         int `json:"output_tokens"`
		CacheReadInputTokens int `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

func (c *AdvisorClient) Invoke(ctx context.Context, inv *Invocation) (*Result, error) {
	maxTokens := inv.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = advisorMaxOutput
	}
	temperature := inv.Temperature
	if temperature < 0 {
		temperature = advisorTemperature
	}

	messages := make([]models.Message, 0, len(inv.History)+1)
	messages = append(messages, inv.History...)
	messages = append(messages, models.Message{Role: "user", Content: inv.UserMessage})

	profileBlock := inv.ProfileBlock
	if profileBlock == "" {
		profileBlock = c.ProfilePrefix(inv.Context)
	}

	reqBody := advisorRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System: []advisorSystemBlock{
			{
				Type:         "text",
				Text:         advisorPolicyBlock,
				CacheControl: &advisorCacheControl{Type: "ephemeral"},
			},
			{
				Type: "text",
				Text: profileBlock + c.buildStateBlock(inv.Context),
			},
		},
		Messages:    messages,
		Temperature: temperature,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
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
		level := c.log.Warn
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			level = c.log.Error
		}
		level("advisor backend error", zap.Int("status", resp.StatusCode))
		return nil, classifyStatus(resp.StatusCode)
	}

	var parsed advisorResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, models.NewKindError(models.KindModelTransient, "unparseable backend response")
	}
	if len(parsed.Content) == 0 {
		return nil, models.NewKindError(models.KindModelTransient, "backend response missing content")
	}

	return &Result{
		Text:              parsed.Content[0].Text,
		InputTokens:       parsed.Usage.InputTokens,
		OutputTokens:      parsed.Usage.OutputTokens,
		CachedInputTokens: parsed.Usage.CacheReadInputTokens,
		LatencyMS:         time.Since(start).Milliseconds(),
	}, nil
}

// buildStateBlock renders the per-request financial state.
func (c *AdvisorClient) buildStateBlock(ctx *models.UserContext) string {
	if ctx == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n## Current Financial State\n")
	fmt.Fprintf(&b, "Available balance: %s\n", formatMoney(ctx.Balance))
	fmt.Fprintf(&b, "Hidden savings: %s\n", formatMoney(ctx.HiddenBalance))
	fmt.Fprintf(&b, "Upcoming bills: %s\n", formatMoney(ctx.UpcomingBillsTotal))
	fmt.Fprintf(&b, "Today's spending: %s\n", formatMoney(ctx.TodaysSpending))

	return b.String()
}
