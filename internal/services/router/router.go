package router

import (
	"context"

	"go.uber.org/zap"

	"github.com/furgapp/furgo/internal/models"
	"github.com/furgapp/furgo/internal/monitoring"
	"github.com/furgapp/furgo/internal/services/budget"
	"github.com/furgapp/furgo/internal/services/providers"
)

// historyTokenBudget bounds the token mass of the conversation window handed
// to an adapter, on top of the adapter's own message count window.
const historyTokenBudget = 8000

// Admitter is the slice of the budget guard the router consults.
type Admitter interface {
	AdmitIP(ctx context.Context, ip string) error
	Admit(ctx context.Context, userID string, estimatedInputTokens int) error
}

// Classifier produces the intent decision for one message.
type Classifier interface {
	Classify(ctx context.Context, userID, message string) models.IntentDecision
}

// ContextBuilder assembles the per-request user context and memoizes compiled
// prompt prefixes.
type ContextBuilder interface {
	Build(ctx context.Context, userID string, profile *models.Profile, dyn models.DynamicInputs, life *models.LifeContext) *models.UserContext
	PromptPrefix(ctx context.Context, uctx *models.UserContext, model models.ModelID, compile func() string) string
}

// Accountant prices and records invocations.
type Accountant interface {
	CostOf(model models.ModelID, inputTokens, cachedInputTokens, outputTokens int) float64
	Record(ctx context.Context, event *models.UsageEvent)
}

// Request is one user message plus the collaborator-supplied state the
// endpoint layer already holds.
type Request struct {
	UserID   string
	ClientIP string
	Message  string
	Profile  *models.Profile
	Dynamic  models.DynamicInputs
	Life     *models.LifeContext
	History  []models.Message
}

// Response is the dispatched result. Fallback marks a locally generated text
// after a terminal adapter error; such responses carry zero tokens and cost.
type Response struct {
	Text              string
	Intent            models.IntentDecision
	Model             models.ModelID
	Fallback          bool
	InputTokens       int
	OutputTokens      int
	CachedInputTokens int
	CostUSD           float64
	LatencyMS         int64
}

// Router runs one message end to end: admit, classify, assemble, invoke,
// record. There is no cross-model failover; a failing adapter degrades to a
// synthetic fallback on the same route.
type Router struct {
	guard      Admitter
	classifier Classifier
	builder    ContextBuilder
	accountant Accountant
	clients    map[models.ModelID]providers.ModelClient
	log        *zap.Logger
}

type Config struct {
	Guard      Admitter
	Classifier Classifier
	Builder    ContextBuilder
	Accountant Accountant
	Clients    map[models.ModelID]providers.ModelClient
	Logger     *zap.Logger
}

func NewRouter(cfg Config) *Router {
	return &Router{
		guard:      cfg.Guard,
		classifier: cfg.Classifier,
		builder:    cfg.Builder,
		accountant: cfg.Accountant,
		clients:    cfg.Clients,
		log:        cfg.Logger,
	}
}

// Dispatch runs the full pipeline for one message. Guard refusals surface as
// KindErrors; everything past admission resolves to a response.
func (r *Router) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	if req.ClientIP != "" {
		if err := r.guard.AdmitIP(ctx, req.ClientIP); err != nil {
			return nil, err
		}
	}

	estimate := budget.EstimateTokens(req.Message)
	if err := r.guard.Admit(ctx, req.UserID, estimate); err != nil {
		return nil, err
	}

	decision := r.classifier.Classify(ctx, req.UserID, req.Message)
	modelID := models.ModelForIntent(decision.Intent)
	client, ok := r.clients[modelID]
	if !ok {
		return nil, models.NewKindError(models.KindModelPermanent, "no adapter for model %s", modelID)
	}

	uctx := r.builder.Build(ctx, req.UserID, req.Profile, req.Dynamic, req.Life)

	profileBlock := r.builder.PromptPrefix(ctx, uctx, modelID, func() string {
		return client.ProfilePrefix(uctx)
	})

	result, err := client.Invoke(ctx, &providers.Invocation{
		Context:      uctx,
		History:      trimHistory(req.History, client.HistoryWindow()),
		UserMessage:  req.Message,
		Temperature:  -1,
		ProfileBlock: profileBlock,
	})
	if err != nil {
		return r.handleInvokeError(ctx, req, decision, modelID, err)
	}

	monitoring.ModelInvocations.WithLabelValues(string(modelID), "success").Inc()

	cost := r.accountant.CostOf(modelID, result.InputTokens, result.CachedInputTokens, result.OutputTokens)
	r.accountant.Record(ctx, &models.UsageEvent{
		UserID:            req.UserID,
		EndpointTag:       "chat",
		Model:             modelID,
		Intent:            decision.Intent,
		InputTokens:       result.InputTokens,
		OutputTokens:      result.OutputTokens,
		CachedInputTokens: result.CachedInputTokens,
		CostUSD:           cost,
		LatencyMS:         result.LatencyMS,
	})

	return &Response{
		Text:              result.Text,
		Intent:            decision,
		Model:             modelID,
		InputTokens:       result.InputTokens,
		OutputTokens:      result.OutputTokens,
		CachedInputTokens: result.CachedInputTokens,
		CostUSD:           cost,
		LatencyMS:         result.LatencyMS,
	}, nil
}

// handleInvokeError resolves a terminal adapter error to a synthetic fallback
// on the same route. The failure is still recorded, with zero tokens, so the
// daily request count stays honest. A canceled caller gets the error back;
// there is nobody left to read a fallback.
func (r *Router) handleInvokeError(ctx context.Context, req *Request, decision models.IntentDecision, modelID models.ModelID, err error) (*Response, error) {
	monitoring.ModelInvocations.WithLabelValues(string(modelID), "error").Inc()

	record := func() {
		r.accountant.Record(ctx, &models.UsageEvent{
			UserID:      req.UserID,
			EndpointTag: "chat",
			Model:       models.ModelSyntheticFallback,
			Intent:      decision.Intent,
		})
	}

	if ctx.Err() != nil {
		record()
		return nil, err
	}

	if !models.IsTerminalModelError(err) {
		return nil, err
	}

	monitoring.SyntheticFallbacks.WithLabelValues(string(modelID)).Inc()
	r.log.Warn("model call failed, serving synthetic fallback",
		zap.String("user_id", req.UserID),
		zap.String("model", string(modelID)),
		zap.String("intent", string(decision.Intent)),
		zap.Error(err))

	record()

	return &Response{
		Text:     fallbackText(req.Message),
		Intent:   decision,
		Model:    models.ModelSyntheticFallback,
		Fallback: true,
	}, nil
}

var fallbackTexts = []string{
	"My wit module just blue-screened. Your money is still where you left it, though. Try me again in a minute.",
	"I'd love to weigh in, but my brain is buffering. Quick gut check: do you actually need it?",
	"Temporarily out of roasts. Your balance hasn't changed while I was gone, so no sudden moves.",
	"Connection hiccup on my end. Take it as a sign to sleep on that purchase and ask me again.",
}

// fallbackText picks deterministically so retries of the same message read the
// same line.
func fallbackText(message string) string {
	return fallbackTexts[len(message)%len(fallbackTexts)]
}

// trimHistory keeps the newest messages, bounded by the adapter's window and
// then by the history token budget, oldest dropped first.
func trimHistory(history []models.Message, window int) []models.Message {
	if window <= 0 || len(history) == 0 {
		return nil
	}
	if len(history) > window {
		history = history[len(history)-window:]
	}

	tokens := 0
	cut := 0
	for i := len(history) - 1; i >= 0; i-- {
		tokens += len(history[i].Content) / 4
		if tokens > historyTokenBudget {
			cut = i + 1
			break
		}
	}
	return history[cut:]
}
