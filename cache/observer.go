package cache

// Outcome is the path a single wrapped call took.
type Outcome string

const (
	// OutcomeHit means the value was served from the store.
	OutcomeHit Outcome = "hit"
	// OutcomeMiss means the function ran and its result was offered to the store.
	OutcomeMiss Outcome = "miss"
	// OutcomeBypass means a fresh call skipped the store entirely.
	OutcomeBypass Outcome = "bypass"
	// OutcomeUnresolved means the key kept placeholders and caching was skipped.
	OutcomeUnresolved Outcome = "unresolved"
	// OutcomeDetached means a fire-and-forget Run call.
	OutcomeDetached Outcome = "detached"
	// OutcomeStoreError means a store read failed in non-silent mode.
	OutcomeStoreError Outcome = "store_error"
)

// Observer receives one outcome per wrapped call.
type Observer interface {
	Observe(fn string, outcome Outcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(fn string, outcome Outcome)

// Observe implements Observer.
func (f ObserverFunc) Observe(fn string, outcome Outcome) {
	f(fn, outcome)
}

type nopObserver struct{}

func (nopObserver) Observe(string, Outcome) {}
