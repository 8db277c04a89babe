package intent

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/furgapp/furgo/internal/models"
	"github.com/furgapp/furgo/internal/monitoring"
	"github.com/furgapp/furgo/internal/services/providers"
)

// classifyPrefixCap bounds how much of a long message the rules and the
// remote classifier see. Dispatch still carries the full message.
const classifyPrefixCap = 1024

// RemoteClassifier is the slice of the utility adapter the classifier needs.
type RemoteClassifier interface {
	ClassifyIntent(ctx context.Context, message string) (*models.IntentDecision, *providers.Result, error)
}

// UsageRecorder bills the remote classification call.
type UsageRecorder interface {
	CostOf(model models.ModelID, inputTokens, cachedInputTokens, outputTokens int) float64
	Record(ctx context.Context, event *models.UsageEvent)
}

type rule struct {
	intent     models.Intent
	confidence float64
	prefix     bool
	terms      []string
}

// localRules run in order over the lower-cased trimmed message; the first
// match wins. Order matters: "roast my bill" is a roast, not a receipt.
var localRules = []rule{
	{models.IntentRoast, 0.85, false, []string{"roast", "roasting", "mock", "burn"}},
	{models.IntentRoast, 0.80, true, []string{"hey", "hi", "hello", "what's up", "sup", "yo", "howdy"}},
	{models.IntentAdvice, 0.85, false, []string{
		"should i", "is it worth", "can i afford", "how much should",
		"advice", "recommend", "budget", "invest", "save for", "is this a good idea",
	}},
	{models.IntentCategorize, 0.90, false, []string{"category", "categorize"}},
	{models.IntentReceipt, 0.85, false, []string{"receipt", "scan", "bill"}},
	{models.IntentSensitive, 0.85, false, []string{"broken", "not working", "bug", "issue", "problem", "hate", "sucks"}},
	{models.IntentSensitive, 0.75, false, []string{"change", "update", "set", "settings"}},
}

// Classifier decides an intent locally when a rule matches and otherwise asks
// the utility backend. Remote failures degrade to the cheapest dispatch
// instead of failing the request.
type Classifier struct {
	remote  RemoteClassifier
	usage   UsageRecorder
	log     *zap.Logger
	userTag string
}

type Config struct {
	Remote RemoteClassifier
	Usage  UsageRecorder
	Logger *zap.Logger
}

func NewClassifier(cfg Config) *Classifier {
	return &Classifier{
		remote: cfg.Remote,
		usage:  cfg.Usage,
		log:    cfg.Logger,
	}
}

// Classify returns an IntentDecision for one message. userID is only used to
// bill the remote call when the local rules do not match.
func (c *Classifier) Classify(ctx context.Context, userID, message string) models.IntentDecision {
	text := strings.ToLower(strings.TrimSpace(message))
	if len(text) > classifyPrefixCap {
		text = text[:classifyPrefixCap]
	}

	if text == "" {
		return models.IntentDecision{
			Intent:     models.IntentGeneral,
			Confidence: 0.5,
			Source:     models.SourceLocal,
			Reasoning:  "empty message",
		}
	}

	if dec, ok := matchLocal(text); ok {
		return dec
	}

	return c.classifyRemote(ctx, userID, text)
}

func matchLocal(text string) (models.IntentDecision, bool) {
	for _, r := range localRules {
		for _, term := range r.terms {
			matched := strings.Contains(text, term)
			if r.prefix {
				matched = strings.HasPrefix(text, term)
			}
			if matched {
				return models.IntentDecision{
					Intent:     r.intent,
					Confidence: r.confidence,
					Source:     models.SourceLocal,
					Reasoning:  "matched " + term,
				}, true
			}
		}
	}
	return models.IntentDecision{}, false
}

func (c *Classifier) classifyRemote(ctx context.Context, userID, text string) models.IntentDecision {
	dec, res, err := c.remote.ClassifyIntent(ctx, text)
	if err != nil {
		monitoring.ClassifierFallbacks.Inc()
		c.log.Warn("remote classification failed, degrading",
			zap.String("user_id", userID),
			zap.Error(err))
		return models.IntentDecision{
			Intent:     models.IntentRoast,
			Confidence: 0.5,
			Source:     models.SourceRemote,
			Reasoning:  "classifier unavailable",
		}
	}

	if res != nil && c.usage != nil {
		c.usage.Record(ctx, &models.UsageEvent{
			UserID:            userID,
			EndpointTag:       "classify",
			Model:             models.ModelUtility,
			Intent:            dec.Intent,
			InputTokens:       res.InputTokens,
			OutputTokens:      res.OutputTokens,
			CachedInputTokens: res.CachedInputTokens,
			CostUSD:           c.usage.CostOf(models.ModelUtility, res.InputTokens, res.CachedInputTokens, res.OutputTokens),
			LatencyMS:         res.LatencyMS,
		})
	}

	return *dec
}
