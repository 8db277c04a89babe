package models

import "time"

// UsageEvent is one append-only record of a model interaction. Events are
// never mutated after insert; duplicates are tolerated by the ledger.
type UsageEvent struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	EndpointTag       string    `json:"endpoint_tag"`
	Model             ModelID   `json:"model"`
	Intent            Intent    `json:"intent"`
	InputTokens       int       `json:"input_tokens"`
	OutputTokens      int       `json:"output_tokens"`
	CachedInputTokens int       `json:"cached_input_tokens"`
	CostUSD           float64   `json:"cost_usd"`
	LatencyMS         int64     `json:"latency_ms"`
	Timestamp         time.Time `json:"timestamp"`
}

// DailyUsage is the running per-UTC-day totals read back from the ledger.
type DailyUsage struct {
	Requests     int     `json:"requests"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// TotalTokens is the sum the daily token ceiling is checked against.
func (d DailyUsage) TotalTokens() int {
	return d.InputTokens + d.OutputTokens
}
