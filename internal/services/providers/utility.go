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

const (
	utilityMaxOutput   = 1024
	utilityTemperature = 0.1

	categorizeBatchLimit = 20
)

const classifySystemPrompt = `You are an intent classifier for a personal finance assistant. Classify the user's message into exactly one intent.

Intents:
- roast: user wants commentary on their spending, asks about purchases they made
- advice: user wants financial guidance, planning, or help with a decision
- categorize: user wants transactions sorted into spending categories
- sensitive: message involves debt distress, gambling, medical costs, or crisis
- receipt: user is submitting or asking about a receipt
- general: anything else

Respond with strict JSON only, no prose:
{"intent": "<intent>", "confidence": <0.0-1.0>, "reasoning": "<one short sentence>"}`

const categorizeSystemPrompt = `You categorize financial transactions. Valid categories: Food & Dining, Groceries, Transport, Shopping, Entertainment, Bills & Utilities, Health, Travel, Subscriptions, Income, Transfer, Other.

Respond with strict JSON only.`

// UtilityClient speaks the generateContent wire shape: contents/parts request
// body, API key as a query parameter, usage under usageMetadata. It backs the
// cheap structured tasks: remote intent classification and transaction
// categorization.
type UtilityClient struct {
	apiKey  string
	baseURL string
	model   string
	timeout time.Duration
	client  *http.Client
	log     *zap.Logger
}

func NewUtilityClient(cfg ClientConfig, log *zap.Logger) *UtilityClient {
	return &UtilityClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		model:   cfg.Model,
		timeout: cfg.timeout(),
		client:  newHTTPClient(),
		log:     log,
	}
}

func (c *UtilityClient) ID() models.ModelID { return models.ModelUtility }

// HistoryWindow is zero: structured tasks are single-shot, history only adds
// tokens without improving JSON adherence.
func (c *UtilityClient) HistoryWindow() int { return 0 }

// ProfilePrefix is empty: structured tasks never carry a user prompt prefix.
func (c *UtilityClient) ProfilePrefix(*models.UserContext) string { return "" }

type utilityPart struct {
	Text string `json:"text"`
}

type utilityContent struct {
	Role  string        `json:"role,omitempty"`
	Parts []utilityPart `json:"parts"`
}

type utilityGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type utilityRequest struct {
	Contents          []utilityContent        `json:"contents"`
	SystemInstruction *utilityContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  utilityGenerationConfig `json:"generationConfig"`
}

type utilityResponse struct {
	Candidates []struct {
		Content struct {
			Parts []utilityPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount        int `json:"promptTokenCount"`
		CandidatesTokenCount    int `json:"candidatesTokenCount"`
		CachedContentTokenCount int `json:"cachedContentTokenCount"`
	} `json:"usageMetadata"`
}

func (c *UtilityClient) Invoke(ctx context.Context, inv *Invocation) (*Result, error) {
	return c.generate(ctx, "", inv.UserMessage, inv.MaxOutputTokens, inv.Temperature)
}

// generate is the single wire call every utility task goes through.
func (c *UtilityClient) generate(ctx context.Context, system, prompt string, maxTokens int, temperature float64) (*Result, error) {
	if maxTokens == 0 {
		maxTokens = utilityMaxOutput
	}
	if temperature < 0 {
		temperature = utilityTemperature
	}

	reqBody := utilityRequest{
		Contents: []utilityContent{
			{Role: "user", Parts: []utilityPart{{Text: prompt}}},
		},
		GenerationConfig: utilityGenerationConfig{
			Temperature:     temperature,
			MaxOutputTokens: maxTokens,
		},
	}
	if system != "" {
		reqBody.SystemInstruction = &utilityContent{Parts: []utilityPart{{Text: system}}}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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
		c.log.Warn("utility backend error",
			zap.Int("status", resp.StatusCode))
		return nil, classifyStatus(resp.StatusCode)
	}

	var parsed utilityResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, models.NewKindError(models.KindModelTransient, "unparseable backend response")
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, models.NewKindError(models.KindModelTransient, "backend response missing candidates")
	}

	return &Result{
		Text:              parsed.Candidates[0].Content.Parts[0].Text,
		InputTokens:       parsed.UsageMetadata.PromptTokenCount,
		OutputTokens:      parsed.UsageMetadata.CandidatesTokenCount,
		CachedInputTokens: parsed.UsageMetadata.CachedContentTokenCount,
		LatencyMS:         time.Since(start).Milliseconds(),
	}, nil
}

// ClassifyIntent asks the backend for a strict-JSON intent verdict. The usage
// Result is returned alongside the decision so the caller can bill the call.
// A verdict that fails to parse degrades to general at 0.5 confidence rather
// than failing the request.
func (c *UtilityClient) ClassifyIntent(ctx context.Context, message string) (*models.IntentDecision, *Result, error) {
	res, err := c.generate(ctx, classifySystemPrompt, message, 200, utilityTemperature)
	if err != nil {
		return nil, nil, err
	}

	var verdict struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(extractJSON(res.Text)), &verdict); err != nil {
		c.log.Warn("intent verdict unparseable, degrading to general",
			zap.String("text", res.Text))
		return &models.IntentDecision{
			Intent:     models.IntentGeneral,
			Confidence: 0.5,
			Source:     models.SourceRemote,
			Reasoning:  "unparseable classifier output",
		}, res, nil
	}

	intent, ok := models.ParseIntent(verdict.Intent)
	if !ok {
		verdict.Confidence = 0.5
	}
	if verdict.Confidence < 0 {
		verdict.Confidence = 0
	}
	if verdict.Confidence > 1 {
		verdict.Confidence = 1
	}

	return &models.IntentDecision{
		Intent:     intent,
		Confidence: verdict.Confidence,
		Source:     models.SourceRemote,
		Reasoning:  verdict.Reasoning,
	}, res, nil
}

// CategorizeTransaction returns the spending category for one transaction.
func (c *UtilityClient) CategorizeTransaction(ctx context.Context, tx models.Transaction) (string, *Result, error) {
	prompt := fmt.Sprintf(`Categorize this transaction:
Merchant: %s
Description: %s
Amount: %s

Respond: {"category": "<category>"}`, tx.Merchant, tx.Description, formatMoney(tx.Amount))

	res, err := c.generate(ctx, categorizeSystemPrompt, prompt, 100, utilityTemperature)
	if err != nil {
		return "", nil, err
	}

	var out struct {
		Category string `json:"category"`
	}
	if err := json.Unmarshal([]byte(extractJSON(res.Text)), &out); err != nil || out.Category == "" {
		return "Other", res, nil
	}
	return out.Category, res, nil
}

// CategorizeBatch categorizes up to 20 transactions in one call. The returned
// slice is positionally aligned with the input; missing or malformed entries
// fall back to Other.
func (c *UtilityClient) CategorizeBatch(ctx context.Context, txs []models.Transaction) ([]string, *Result, error) {
	if len(txs) == 0 {
		return nil, nil, nil
	}
	if len(txs) > categorizeBatchLimit {
		return nil, nil, models.NewKindError(models.KindModelPermanent, "batch limited to %d transactions", categorizeBatchLimit)
	}

	var b strings.Builder
	b.WriteString("Categorize each transaction. Respond: {\"categories\": [\"<category>\", ...]} with one entry per transaction, in order.\n\n")
	for i, tx := range txs {
		fmt.Fprintf(&b, "%d. %s | %s | %s\n", i+1, tx.Merchant, tx.Description, formatMoney(tx.Amount))
	}

	res, err := c.generate(ctx, categorizeSystemPrompt, b.String(), 500, utilityTemperature)
	if err != nil {
		return nil, nil, err
	}

	var out struct {
		Categories []string `json:"categories"`
	}
	if err := json.Unmarshal([]byte(extractJSON(res.Text)), &out); err != nil {
		c.log.Warn("batch categorization unparseable", zap.String("text", res.Text))
	}

	categories := make([]string, len(txs))
	for i := range categories {
		if i < len(out.Categories) && out.Categories[i] != "" {
			categories[i] = out.Categories[i]
		} else {
			categories[i] = "Other"
		}
	}
	return categories, res, nil
}
