package processor

import (
	"errors"
	"math/big"

	"github.com/vocdoni/amaci/crypto/babyjub"
	"github.com/vocdoni/amaci/crypto/secies"
	"github.com/vocdoni/amaci/quintree"
	"github.com/vocdoni/amaci/state"
	"github.com/vocdoni/amaci/types"
)

// MessageWitness is the per-message row of a process batch: the state the
// circuit reads before the message lands plus both transform outcomes with
// the selected one flagged.
type MessageWitness struct {
	Message *Message
	Valid   bool

	// StateIndex and VoteOptionIndex are the clamped tree slots the row
	// walks, 0 when the command targeted an out-of-range index.
	StateIndex      int
	VoteOptionIndex int

	PrevLeaf     *state.StateLeaf
	NewLeaf      *state.StateLeaf
	PrevLeafHash *big.Int
	NewLeafHash  *big.Int

	StatePath [][]*big.Int
	VoPath    [][]*big.Int

	CurrentWeight *big.Int
	NewWeight     *big.Int
}

// blankCommand is the inert command substituted when a message fails to
// decrypt. It targets the blank leaf and carries the blank key, so every
// check that matters fails and the keep branch is selected.
func blankCommand() (*Command, *babyjub.Signature) {
	cmd := &Command{
		NewVotes:  big.NewInt(0),
		Salt:      big.NewInt(0),
		NewPubKey: babyjub.NewBlankKey(),
	}
	sig := &babyjub.Signature{R8X: big.NewInt(0), R8Y: big.NewInt(0), S: big.NewInt(0)}
	return cmd, sig
}

// applyMessage folds one message into the state: decrypt, validate,
// transform. Both the apply and keep branches are computed and the
// validity flag selects which leaf lands in the trees, mirroring the
// circuit multiplexer. Undecryptable messages run the same path with the
// blank command.
func (r *Round) applyMessage(msg *Message) (*MessageWitness, error) {
	cmd, sig, err := msg.Decrypt(r.coordPriv)
	if err != nil {
		if !errors.Is(err, secies.ErrMACMismatch) && !errors.Is(err, ErrMalformedMessage) {
			return nil, err
		}
		cmd, sig = blankCommand()
	}

	cs, err := validateCommand(r.st, r.coordPriv.Scalar(), cmd, sig)
	if err != nil {
		return nil, err
	}
	valid := cs.allValid()
	stateIdx, voIdx := safeIndices(r.st, cmd)

	w := &MessageWitness{
		Message:         msg,
		Valid:           valid,
		StateIndex:      stateIdx,
		VoteOptionIndex: voIdx,
		PrevLeaf:        r.st.LeafAt(stateIdx),
	}
	if w.PrevLeafHash, err = r.st.TreeLeafValue(stateIdx); err != nil {
		return nil, err
	}
	if w.StatePath, err = r.st.StatePathElements(stateIdx); err != nil {
		return nil, err
	}
	if w.VoPath, err = r.st.VoPathElements(stateIdx, voIdx); err != nil {
		return nil, err
	}
	if w.CurrentWeight, err = r.st.VoteWeight(stateIdx, voIdx); err != nil {
		return nil, err
	}

	// Apply branch. Arithmetic wraps mod P like the circuit's, so the
	// branch stays computable even when the checks already failed.
	newVoRoot, err := quintree.RootFromPath(cmd.NewVotes, voIdx, w.VoPath)
	if err != nil {
		return nil, err
	}
	applied := w.PrevLeaf.Copy()
	applied.PubKey = &babyjub.PublicKey{
		X: new(big.Int).Set(cmd.NewPubKey.X),
		Y: new(big.Int).Set(cmd.NewPubKey.Y),
	}
	balance := new(big.Int).Add(w.PrevLeaf.Balance, voiceCost(w.CurrentWeight, r.params.IsQuadraticCost))
	balance.Sub(balance, voiceCost(cmd.NewVotes, r.params.IsQuadraticCost))
	applied.Balance = balance.Mod(balance, types.FieldPrime)
	applied.Nonce = new(big.Int).SetUint64(cmd.Nonce)
	applied.VoTreeRoot = newVoRoot
	appliedHash, err := applied.Hash()
	if err != nil {
		return nil, err
	}

	// Select and commit, the same Mux1 the circuit runs over the two
	// precomputed branches. Only the apply branch writes to the trees;
	// the keep branch leaves the stored value untouched, which preserves
	// the zero leaf at index 0.
	w.NewLeaf = mux(valid, applied, w.PrevLeaf.Copy())
	w.NewLeafHash = mux(valid, appliedHash, new(big.Int).Set(w.PrevLeafHash))
	w.NewWeight = mux(valid, new(big.Int).Set(cmd.NewVotes), new(big.Int).Set(w.CurrentWeight))
	if valid {
		if err := r.st.SetVoteWeight(stateIdx, voIdx, cmd.NewVotes); err != nil {
			return nil, err
		}
		if err := r.st.SetLeafAt(stateIdx, applied); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// mux returns the applied branch when sel is set and the kept branch
// otherwise.
func mux[T any](sel bool, applied, kept T) T {
	if sel {
		return applied
	}
	return kept
}
