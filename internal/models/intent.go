package models

// Intent is the classified purpose of a user message. It is a closed set:
// every decision the router makes keys off one of these six values.
type Intent string

const (
	IntentRoast      Intent = "roast"      // banter, greetings, spending mockery
	IntentAdvice     Intent = "advice"     // serious financial questions
	IntentCategorize Intent = "categorize" // transaction category questions
	IntentSensitive  Intent = "sensitive"  // complaints, account issues, settings
	IntentReceipt    Intent = "receipt"    // receipt and bill mentions
	IntentGeneral    Intent = "general"    // everything else
)

// ParseIntent validates a string against the closed intent set.
func ParseIntent(s string) (Intent, bool) {
	switch Intent(s) {
	case IntentRoast, IntentAdvice, IntentCategorize, IntentSensitive, IntentReceipt, IntentGeneral:
		return Intent(s), true
	}
	return IntentGeneral, false
}

// DecisionSource records whether an intent came from the local rule set or the
// remote classifier.
type DecisionSource string

const (
	SourceLocal  DecisionSource = "local"
	SourceRemote DecisionSource = "remote"
)

// IntentDecision is the output of classification.
type IntentDecision struct {
	Intent     Intent
	Confidence float64
	Source     DecisionSource
	Reasoning  string
}

// ModelID identifies one of the three backends, or the synthetic fallback used
// when no backend produced a result.
type ModelID string

const (
	ModelRoaster ModelID = "roaster"
	ModelAdvisor ModelID = "advisor"
	ModelUtility ModelID = "utility"

	// ModelSyntheticFallback tags usage events recorded for locally generated
	// fallback responses. It never appears in the price table.
	ModelSyntheticFallback ModelID = "synthetic-fallback"
)

// intentModelTable is the fixed intent to backend mapping. Sensitive always
// goes to the advisor; there is no cross-model failover.
var intentModelTable = map[Intent]ModelID{
	IntentRoast:      ModelRoaster,
	IntentGeneral:    ModelRoaster,
	IntentAdvice:     ModelAdvisor,
	IntentSensitive:  ModelAdvisor,
	IntentCategorize: ModelUtility,
	IntentReceipt:    ModelUtility,
}

// ModelForIntent returns the backend an intent routes to.
func ModelForIntent(intent Intent) ModelID {
	if m, ok := intentModelTable[intent]; ok {
		return m
	}
	return ModelRoaster
}
