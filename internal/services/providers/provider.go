package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/furgapp/furgo/internal/models"
)

// ModelClient is the common adapter contract. Adapters shape the request for
// their backend, enforce the per-call deadline, and extract usage counts.
// They never retry; that policy belongs to the router.
type ModelClient interface {
	ID() models.ModelID

	// HistoryWindow is the number of trailing conversation messages this
	// backend accepts. The router trims before calling Invoke.
	HistoryWindow() int

	// ProfilePrefix renders the profile and life-context portion of the system
	// prompt, stable enough to memoize for a short window. Adapters that build
	// no profile prompt return "".
	ProfilePrefix(uctx *models.UserContext) string

	Invoke(ctx context.Context, inv *Invocation) (*Result, error)
}

// Invocation is one shaped model call. Context carries everything the adapter
// needs to render its prompt blocks; History arrives oldest-first and already
// trimmed to the adapter's window.
type Invocation struct {
	Context         *models.UserContext
	History         []models.Message
	UserMessage     string
	MaxOutputTokens int     // 0 means the adapter default
	Temperature     float64 // <0 means the adapter default

	// ProfileBlock, when set, is the memoized ProfilePrefix output handed back
	// by the caller; the adapter then skips rendering it again.
	ProfileBlock string
}

// Result carries the text and the usage counts the accountant prices.
// CachedInputTokens is the number of prompt tokens the backend served from
// its own prompt cache, zero when the backend does not report it.
type Result struct {
	Text              string
	InputTokens       int
	OutputTokens      int
	CachedInputTokens int
	LatencyMS         int64
}

// ClientConfig is the construction-time wiring for one adapter.
type ClientConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

func (c *ClientConfig) timeout() time.Duration {
	if c.Timeout == 0 {
		return 30 * time.Second
	}
	return c.Timeout
}

// newHTTPClient builds the transport for one adapter. The request deadline is
// enforced per call via context, not here, so cancellation propagates.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        16,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// classifyTransportError maps a failed round trip onto the closed taxonomy.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewKindError(models.KindModelTimeout, "backend call timed out")
	}
	if errors.Is(err, context.Canceled) {
		return models.NewKindError(models.KindModelTransient, "request canceled")
	}
	return models.NewKindError(models.KindModelTransient, "backend unreachable")
}

// classifyStatus maps a non-200 response onto the closed taxonomy. Quota and
// server-side failures are transient; other 4xx are permanent and logged at a
// higher level by the caller.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return models.NewKindError(models.KindModelTransient, "backend quota exhausted")
	case status >= 500:
		return models.NewKindError(models.KindModelTransient, "backend returned %d", status)
	default:
		return models.NewKindError(models.KindModelPermanent, "backend rejected request with %d", status)
	}
}

// extractJSON strips markdown code fences around a JSON payload. Small models
// wrap strict-JSON answers in ``` blocks often enough that every JSON task
// has to tolerate it.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	parts := strings.SplitN(text, "```", 3)
	if len(parts) < 2 {
		return text
	}
	body := parts[1]
	body = strings.TrimPrefix(body, "json")
	return strings.TrimSpace(body)
}

func formatMoney(amount float64) string {
	return fmt.Sprintf("$%.2f", amount)
}
