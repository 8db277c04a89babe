package core

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/furgapp/furgo/internal/config"
	"github.com/furgapp/furgo/internal/models"
	"github.com/furgapp/furgo/internal/services/budget"
	"github.com/furgapp/furgo/internal/services/cache"
	"github.com/furgapp/furgo/internal/services/intent"
	"github.com/furgapp/furgo/internal/services/ledger"
	"github.com/furgapp/furgo/internal/services/providers"
	"github.com/furgapp/furgo/internal/services/ratelimit"
	"github.com/furgapp/furgo/internal/services/router"
	"github.com/furgapp/furgo/internal/services/usage"
	"github.com/furgapp/furgo/internal/services/usercontext"
)

// ProfileStore is the transactional store's read surface for one user.
type ProfileStore interface {
	Profile(ctx context.Context, userID string) (*models.Profile, error)
	DynamicInputs(ctx context.Context, userID string) (models.DynamicInputs, error)
}

// ConversationLog stores chat turns. Recent returns oldest-first.
type ConversationLog interface {
	Recent(ctx context.Context, userID string, limit int) ([]models.Message, error)
	Append(ctx context.Context, userID string, messages ...models.Message) error
}

// LifeContextProvider hands back the latest health/location/calendar snapshot,
// or nil when none is known.
type LifeContextProvider interface {
	Current(ctx context.Context, userID string) (*models.LifeContext, error)
}

// historyFetchLimit bounds how much conversation the core pulls from the log;
// the router trims further per adapter.
const historyFetchLimit = 20

// Core is the composed request path. Everything is bound at construction; a
// Core value holds no global state and two instances can coexist in one
// process.
type Core struct {
	cfg        *config.Config
	log        *zap.Logger
	profiles   ProfileStore
	convo      ConversationLog
	life       LifeContextProvider
	ledger     ledger.UsageLedger
	accountant *usage.Accountant
	guard      *budget.Guard
	assembler  *usercontext.Assembler
	classifier *intent.Classifier
	router     *router.Router
	utility    *providers.UtilityClient
	redis      *redis.Client
}

// Dependencies are the external collaborators the core consumes but does not
// own. Ledger may be nil; the core then selects one from configuration.
type Dependencies struct {
	Profiles ProfileStore
	Convo    ConversationLog
	Life     LifeContextProvider
	Ledger   ledger.UsageLedger
}

func New(cfg *config.Config, deps Dependencies, log *zap.Logger) (*Core, error) {
	c := &Core{
		cfg:      cfg,
		log:      log,
		profiles: deps.Profiles,
		convo:    deps.Convo,
		life:     deps.Life,
	}

	var cacheBackend cache.Cache
	var limiter ratelimit.RateLimiter
	if cfg.Cache.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		if cfg.Cache.Password != "" {
			opts.Password = cfg.Cache.Password
		}
		opts.DB = cfg.Cache.DB
		c.redis = redis.NewClient(opts)
		cacheBackend = cache.NewRedisCache(c.redis)
		limiter = ratelimit.NewRedisSlidingLimiter(c.redis, log)
	} else {
		cacheBackend = cache.NewMemoryCache()
		limiter = ratelimit.NewSlidingWindowLimiter(log)
	}

	c.ledger = deps.Ledger
	if c.ledger == nil {
		if cfg.Ledger.DatabaseURL != "" {
			gl, err := ledger.NewGormLedger(cfg.Ledger.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("ledger init: %w", err)
			}
			c.ledger = gl
		} else {
			c.ledger = ledger.NewMemoryLedger()
		}
	}

	c.accountant = usage.NewAccountant(usage.AccountantConfig{
		Prices:       usage.DefaultPriceTable(),
		Ledger:       c.ledger,
		Logger:       log,
		SoftDeadline: cfg.Ledger.SoftDeadline,
		BufferSize:   cfg.Ledger.BufferSize,
	})

	c.guard = budget.NewGuard(budget.GuardConfig{
		Limiter:       limiter,
		Ledger:        c.ledger,
		Logger:        log,
		RMax:          cfg.Budget.RMax,
		TMaxDay:       cfg.Budget.TMaxDay,
		CMaxDay:       cfg.Budget.CMaxDay,
		ProcessFactor: cfg.Budget.ProcessFactor,
	})

	c.assembler = usercontext.NewAssembler(cacheBackend, log)

	roaster := providers.NewRoasterClient(clientConfig(cfg.Models.Roaster), log)
	advisor := providers.NewAdvisorClient(clientConfig(cfg.Models.Advisor), log)
	c.utility = providers.NewUtilityClient(clientConfig(cfg.Models.Utility), log)

	c.classifier = intent.NewClassifier(intent.Config{
		Remote: c.utility,
		Usage:  c.accountant,
		Logger: log,
	})

	c.router = router.NewRouter(router.Config{
		Guard:      c.guard,
		Classifier: c.classifier,
		Builder:    c.assembler,
		Accountant: c.accountant,
		Clients: map[models.ModelID]providers.ModelClient{
			models.ModelRoaster: roaster,
			models.ModelAdvisor: advisor,
			models.ModelUtility: c.utility,
		},
		Logger: log,
	})

	return c, nil
}

func clientConfig(mc config.ModelConfig) providers.ClientConfig {
	return providers.ClientConfig{
		APIKey:  mc.APIKey,
		BaseURL: mc.BaseURL,
		Model:   mc.Model,
		Timeout: mc.Timeout,
	}
}

// ChatRequest is one inbound message.
type ChatRequest struct {
	UserID   string
	ClientIP string
	Message  string
}

// Chat runs one message through the pipeline and appends the exchange to the
// conversation log. Collaborator failures outside the profile store degrade
// rather than fail: missing life context or history just means a thinner
// prompt.
func (c *Core) Chat(ctx context.Context, req *ChatRequest) (*router.Response, error) {
	profile, err := c.profiles.Profile(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("profile lookup: %w", err)
	}

	dyn, err := c.profiles.DynamicInputs(ctx, req.UserID)
	if err != nil {
		c.log.Warn("dynamic inputs unavailable, using zero state",
			zap.String("user_id", req.UserID), zap.Error(err))
		dyn = models.DynamicInputs{}
	}

	var life *models.LifeContext
	if c.life != nil {
		life, err = c.life.Current(ctx, req.UserID)
		if err != nil {
			c.log.Warn("life context unavailable",
				zap.String("user_id", req.UserID), zap.Error(err))
			life = nil
		}
	}

	var history []models.Message
	if c.convo != nil {
		history, err = c.convo.Recent(ctx, req.UserID, historyFetchLimit)
		if err != nil {
			c.log.Warn("conversation history unavailable",
				zap.String("user_id", req.UserID), zap.Error(err))
			history = nil
		}
	}

	resp, err := c.router.Dispatch(ctx, &router.Request{
		UserID:   req.UserID,
		ClientIP: req.ClientIP,
		Message:  req.Message,
		Profile:  profile,
		Dynamic:  dyn,
		Life:     life,
		History:  history,
	})
	if err != nil {
		return nil, err
	}

	if c.convo != nil {
		if err := c.convo.Append(ctx, req.UserID,
			models.Message{Role: "user", Content: req.Message},
			models.Message{Role: "assistant", Content: resp.Text},
		); err != nil {
			c.log.Warn("conversation append failed",
				zap.String("user_id", req.UserID), zap.Error(err))
		}
	}

	return resp, nil
}

// Remaining reports the user's consumption against today's ceilings.
func (c *Core) Remaining(ctx context.Context, userID string) (budget.Remaining, error) {
	return c.guard.Remaining(ctx, userID)
}

// CategorizeTransaction bills one utility call and returns the category.
func (c *Core) CategorizeTransaction(ctx context.Context, userID string, tx models.Transaction) (string, error) {
	category, res, err := c.utility.CategorizeTransaction(ctx, tx)
	if err != nil {
		return "", err
	}
	c.recordUtility(ctx, userID, "categorize", res)
	return category, nil
}

// CategorizeBatch categorizes up to 20 transactions in one billed call.
func (c *Core) CategorizeBatch(ctx context.Context, userID string, txs []models.Transaction) ([]string, error) {
	categories, res, err := c.utility.CategorizeBatch(ctx, txs)
	if err != nil {
		return nil, err
	}
	c.recordUtility(ctx, userID, "categorize_batch", res)
	return categories, nil
}

func (c *Core) recordUtility(ctx context.Context, userID, tag string, res *providers.Result) {
	if res == nil {
		return
	}
	c.accountant.Record(ctx, &models.UsageEvent{
		UserID:            userID,
		EndpointTag:       tag,
		Model:             models.ModelUtility,
		Intent:            models.IntentCategorize,
		InputTokens:       res.InputTokens,
		OutputTokens:      res.OutputTokens,
		CachedInputTokens: res.CachedInputTokens,
		CostUSD:           c.accountant.CostOf(models.ModelUtility, res.InputTokens, res.CachedInputTokens, res.OutputTokens),
		LatencyMS:         res.LatencyMS,
	})
}

// Classify exposes the intent decision without dispatching, for inspection
// tooling. Remote fallback still bills through the accountant.
func (c *Core) Classify(ctx context.Context, userID, message string) models.IntentDecision {
	return c.classifier.Classify(ctx, userID, message)
}

// InvalidateProfile drops the user's static context tier after a profile
// mutation.
func (c *Core) InvalidateProfile(ctx context.Context, userID string) {
	c.assembler.InvalidateProfile(ctx, userID)
}

// InvalidateLifeContext drops the user's slow context tier after a
// life-context update.
func (c *Core) InvalidateLifeContext(ctx context.Context, userID string) {
	c.assembler.InvalidateLifeContext(ctx, userID)
}

// Close releases background workers and connections.
func (c *Core) Close() error {
	c.accountant.Close()
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}
