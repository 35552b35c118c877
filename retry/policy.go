package retry

import "time"

// DefaultDeliveryBound caps how many times the change log may deliver a
// single event before the orchestrator parks it in the dead letter queue.
// The bound covers deliveries the retry policy never sees, such as an
// event whose handler keeps crashing before reaching a stage.
const DefaultDeliveryBound = 10

// Policy governs retries for one stage.
type Policy struct {
	// MaxAttempts is the total execution budget for the stage, first
	// attempt included. When it is exhausted the order leaves the
	// pipeline.
	MaxAttempts int

	// Strategy computes the delay before each retry. Nil means
	// DefaultStrategy.
	Strategy Strategy

	// Relaxed marks a stage whose exhaustion must not fail the order.
	// The orchestrator completes the order and flags it instead. Used
	// for notification, which is best-effort.
	Relaxed bool
}

// strategy returns the policy's strategy, falling back to the default.
func (p Policy) strategy() Strategy {
	if p.Strategy != nil {
		return p.Strategy
	}
	return DefaultStrategy()
}

// NextDelay returns the backoff before retry attempt n (1-indexed).
func (p Policy) NextDelay(attempt int) time.Duration {
	return p.strategy().Delay(attempt)
}

// Exhausted reports whether the stage has no attempts left after
// attempts executions.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// Policies maps stage names to their retry policies.
type Policies struct {
	byStage  map[string]Policy
	fallback Policy
}

// NewPolicies creates a policy set with the given fallback for stages
// without an explicit policy.
func NewPolicies(fallback Policy) *Policies {
	return &Policies{byStage: make(map[string]Policy), fallback: fallback}
}

// Set binds a policy to a stage name.
func (ps *Policies) Set(stageName string, p Policy) *Policies {
	ps.byStage[stageName] = p
	return ps
}

// For returns the policy for a stage, or the fallback.
func (ps *Policies) For(stageName string) Policy {
	if p, ok := ps.byStage[stageName]; ok {
		return p
	}
	return ps.fallback
}
