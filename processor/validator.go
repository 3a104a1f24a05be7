package processor

import (
	"math/big"

	"github.com/vocdoni/amaci/crypto/babyjub"
	"github.com/vocdoni/amaci/crypto/elgamal"
	"github.com/vocdoni/amaci/state"
	"github.com/vocdoni/amaci/types"
)

// checkSet holds the six validity predicates evaluated for every command.
// A command is applied iff all six hold; any failure downgrades the
// message to a no-op without distinguishing the cause on the wire.
type checkSet struct {
	IndexInRange  bool
	OptionInRange bool
	NonceCorrect  bool
	SigValid      bool
	WeightInRange bool
	BalanceEnough bool
}

func (cs checkSet) allValid() bool {
	return cs.IndexInRange && cs.OptionInRange && cs.NonceCorrect &&
		cs.SigValid && cs.WeightInRange && cs.BalanceEnough
}

// safeIndices clamps the command's targets to readable tree slots: the
// blank leaf 0 when the state index is out of range, option 0 when the
// option index is. Invalid commands still walk real tree paths this way,
// exactly like the circuit does.
func safeIndices(st *state.State, cmd *Command) (int, int) {
	stateIdx := 0
	if cmd.StateIndex <= uint64(st.NumSignUps()) {
		stateIdx = int(cmd.StateIndex)
	}
	voIdx := 0
	if cmd.VoteOptionIndex < uint64(st.Params().MaxVoteOptions) {
		voIdx = int(cmd.VoteOptionIndex)
	}
	return stateIdx, voIdx
}

// validateCommand evaluates the six checks against the current state. The
// coordinator scalar decrypts the leaf's status ciphertext for the activity
// check. Only infrastructure failures (hashing) surface as errors; every
// semantic failure is a false flag.
func validateCommand(st *state.State, coordScalar *big.Int, cmd *Command, sig *babyjub.Signature) (checkSet, error) {
	var cs checkSet
	params := st.Params()
	stateIdx, voIdx := safeIndices(st, cmd)
	leaf := st.LeafAt(stateIdx)

	// 1. Target leaf exists. Index 0 passes here: the blank leaf's key
	// verifies no signature, so such commands die on check 4.
	cs.IndexInRange = cmd.StateIndex <= uint64(st.NumSignUps())

	// 2. Vote option within the round's configured range.
	cs.OptionInRange = cmd.VoteOptionIndex < uint64(params.MaxVoteOptions)

	// 3. Strictly incremented nonce.
	wantNonce := new(big.Int).Add(leaf.Nonce, big.NewInt(1))
	cs.NonceCorrect = new(big.Int).SetUint64(cmd.Nonce).Cmp(wantNonce) == 0

	// 4. Signature by the leaf's current key, and the key still active:
	// the active-state tree does not mark the index and the leaf's status
	// ciphertext decrypts to even parity. A command that does not fit the
	// packed windows verifies no signature.
	sigOK := false
	if packed, err := cmd.Pack(); err == nil {
		sigOK, err = VerifyCommand(packed, cmd.NewPubKey, sig, leaf.PubKey)
		if err != nil {
			return cs, err
		}
	}
	marked, err := st.IsActiveMarked(stateIdx)
	if err != nil {
		return cs, err
	}
	statusOdd := elgamal.DecryptOdevity(coordScalar, leaf.Status)
	cs.SigValid = sigOK && !marked && !statusOdd

	// 5. Weight below floor(sqrt(P)) so its square stays in the field.
	cs.WeightInRange = cmd.NewVotes.Cmp(types.MaxVoteWeight) < 0

	// 6. Balance plus the refund of the current weight covers the new cost.
	current, err := st.VoteWeight(stateIdx, voIdx)
	if err != nil {
		return cs, err
	}
	have := new(big.Int).Add(leaf.Balance, voiceCost(current, params.IsQuadraticCost))
	cs.BalanceEnough = have.Cmp(voiceCost(cmd.NewVotes, params.IsQuadraticCost)) >= 0

	return cs, nil
}

// voiceCost prices a vote weight, v under the linear model and v^2 under
// the quadratic one.
func voiceCost(weight *big.Int, quadratic bool) *big.Int {
	if quadratic {
		return new(big.Int).Mul(weight, weight)
	}
	return new(big.Int).Set(weight)
}
