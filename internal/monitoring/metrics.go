package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters for the internal failure kinds that never surface to callers.
// Everything here is observability only; no control flow reads these.
var (
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "furgo_cache_hits_total",
		Help: "Context cache hits by tier",
	}, []string{"tier"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "furgo_cache_misses_total",
		Help: "Context cache misses by tier",
	}, []string{"tier"})

	CacheErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "furgo_cache_errors_total",
		Help: "Cache backend errors treated as misses",
	})

	ClassifierFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "furgo_classifier_fallbacks_total",
		Help: "Remote classifier failures degraded to the roast intent",
	})

	SyntheticFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "furgo_synthetic_fallbacks_total",
		Help: "Synthetic fallback responses by model",
	}, []string{"model"})

	LedgerWritesDeferred = promauto.NewCounter(prometheus.CounterOpts{
		Name: "furgo_ledger_writes_deferred_total",
		Help: "Usage events handed to the background buffer after the soft deadline",
	})

	LedgerWritesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "furgo_ledger_writes_dropped_total",
		Help: "Usage events dropped because the background buffer was full",
	})

	BudgetRefusals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "furgo_budget_refusals_total",
		Help: "Admission refusals by kind",
	}, []string{"kind"})

	ModelInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "furgo_model_invocations_total",
		Help: "Adapter invocations by model and outcome",
	}, []string{"model", "outcome"})
)
