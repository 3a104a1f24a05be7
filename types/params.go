package types

import "fmt"

// RoundParams are the per-round sizing and cost-model parameters. They are
// fixed at round creation and immutable afterwards.
type RoundParams struct {
	// StateTreeDepth is the depth of the state, active-state and
	// deactivate trees. Capacity is 5^StateTreeDepth leaves.
	StateTreeDepth int `json:"stateTreeDepth"`
	// IntStateTreeDepth is the batch subtree depth: message and tally
	// batches hold 5^IntStateTreeDepth entries.
	IntStateTreeDepth int `json:"intStateTreeDepth"`
	// VoteOptionTreeDepth is the depth of each voter's option tree and of
	// the tally results tree.
	VoteOptionTreeDepth int `json:"voteOptionTreeDepth"`
	// MaxVoteOptions caps the usable option indices; it must not exceed
	// 5^VoteOptionTreeDepth.
	MaxVoteOptions int `json:"maxVoteOptions"`
	// InitialVoiceCredits is the balance granted on sign-up and to leaves
	// minted through AddNewKey.
	InitialVoiceCredits uint64 `json:"initialVoiceCredits"`
	// IsQuadraticCost selects the v^2 cost model; false bills linearly.
	IsQuadraticCost bool `json:"isQuadraticCost"`
}

// Pow5 returns 5^exp for small non-negative exponents.
func Pow5(exp int) int {
	n := 1
	for i := 0; i < exp; i++ {
		n *= TreeArity
	}
	return n
}

// BatchSize is the number of messages or tally slots per batch.
func (p RoundParams) BatchSize() int {
	return Pow5(p.IntStateTreeDepth)
}

// StateCapacity is the number of state leaves the round can hold, the blank
// leaf at index 0 included.
func (p RoundParams) StateCapacity() int {
	return Pow5(p.StateTreeDepth)
}

// Validate checks the parameter ranges and cross-field constraints.
func (p RoundParams) Validate() error {
	switch {
	case p.StateTreeDepth < 1 || p.StateTreeDepth > MaxTreeDepth:
		return fmt.Errorf("state tree depth %d out of range [1,%d]", p.StateTreeDepth, MaxTreeDepth)
	case p.IntStateTreeDepth < 1 || p.IntStateTreeDepth > p.StateTreeDepth:
		return fmt.Errorf("batch subtree depth %d out of range [1,%d]", p.IntStateTreeDepth, p.StateTreeDepth)
	case p.VoteOptionTreeDepth < 1 || p.VoteOptionTreeDepth > MaxTreeDepth:
		return fmt.Errorf("vote option tree depth %d out of range [1,%d]", p.VoteOptionTreeDepth, MaxTreeDepth)
	case p.MaxVoteOptions < 1 || p.MaxVoteOptions > Pow5(p.VoteOptionTreeDepth):
		return fmt.Errorf("max vote options %d out of range [1,%d]", p.MaxVoteOptions, Pow5(p.VoteOptionTreeDepth))
	}
	return nil
}
