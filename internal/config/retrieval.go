package config

// Retrieval pipeline defaults. Each knob has a matching config key; the
// constants exist so components constructed without a Config (tests, tools)
// agree with production behavior.
const (
	// DefaultExpansionCount is the number of alternate query phrasings
	// requested from the expansion model.
	DefaultExpansionCount = 3

	// DefaultRetrievalTopK bounds the merged candidate list returned by the
	// retriever, before context optimization applies its stricter budget.
	DefaultRetrievalTopK = 20

	// DefaultContextMaxCount is the number of candidates the optimizer is
	// asked to select for the final context set.
	DefaultContextMaxCount = 6

	// DefaultContextCharBudget caps the total character length of the
	// optimized context set.
	DefaultContextCharBudget = 12000

	// DefaultHistoryTailLimit is how many trailing conversation messages are
	// loaded for judging and completion prompts.
	DefaultHistoryTailLimit = 20

	// MaxExpansionCount is the absolute maximum expansion count; more
	// phrasings means more concurrent embed+search calls per turn.
	MaxExpansionCount = 10

	// MaxRetrievalTopK is the absolute maximum merged candidate count.
	MaxRetrievalTopK = 100
)
