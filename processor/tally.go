package processor

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/amaci/log"
	"github.com/vocdoni/amaci/quintree"
	"github.com/vocdoni/amaci/types"
)

// TallyOutput is the result of one tally batch.
type TallyOutput struct {
	BatchIndex int
	BatchStart int
	BatchEnd   int

	PackedVals         *big.Int
	StateCommitment    *big.Int
	OldTallyCommitment *big.Int
	NewTallyCommitment *big.Int
	NewTallySalt       *big.Int
	ResultsRoot        *big.Int
	// Results is the packed accumulator after this batch, one slot per
	// vote option.
	Results []*big.Int

	InputHash *big.Int
}

// TallyResult is one vote option's unpacked totals.
type TallyResult struct {
	// Count is the sum of vote weights placed on the option.
	Count *big.Int `json:"count"`
	// QuadraticCost is the sum of squared weights, the voice credits the
	// option consumed under the quadratic model.
	QuadraticCost *big.Int `json:"quadraticCost"`
}

// TallyVotes accumulates the next batch of state leaves into the packed
// results, oldest leaves first. Batch k covers state indices
// [k*BatchSize, (k+1)*BatchSize); each weight v adds v*(v+TallyPackShift)
// to its option so the count and the quadratic cost travel in one field
// element. The last batch moves the round to ENDED.
func (r *Round) TallyVotes(newSalt *big.Int) (*TallyOutput, error) {
	if r.phase != types.PhaseTallying {
		if r.phase == types.PhaseEnded {
			return nil, ErrBatchesDone
		}
		return nil, fmt.Errorf("tally in phase %s: %w", r.phase, ErrWrongPhase)
	}
	if r.talliedBatches >= r.tallyBatches {
		return nil, ErrBatchesDone
	}
	if newSalt == nil || newSalt.Sign() < 0 || newSalt.Cmp(types.FieldPrime) >= 0 {
		return nil, fmt.Errorf("new tally salt outside the field")
	}

	batchSize := r.params.BatchSize()
	start := r.talliedBatches * batchSize
	end := start + batchSize

	out := &TallyOutput{
		BatchIndex:         r.talliedBatches,
		BatchStart:         start,
		BatchEnd:           end,
		StateCommitment:    new(big.Int).Set(r.stateCommitment),
		OldTallyCommitment: new(big.Int).Set(r.tallyCommitment),
		NewTallySalt:       new(big.Int).Set(newSalt),
	}

	for i := start; i < end && i <= r.st.NumSignUps(); i++ {
		if i == 0 {
			continue // blank leaf holds no votes
		}
		for o := 0; o < r.params.MaxVoteOptions; o++ {
			w, err := r.st.VoteWeight(i, o)
			if err != nil {
				return nil, err
			}
			if w.Sign() == 0 {
				continue
			}
			contrib := new(big.Int).Add(w, types.TallyPackShift)
			contrib.Mul(contrib, w)
			r.results[o].Add(r.results[o], contrib)
			r.results[o].Mod(r.results[o], types.FieldPrime)
		}
	}

	resultsRoot, err := r.resultsRoot()
	if err != nil {
		return nil, err
	}
	out.ResultsRoot = resultsRoot
	newCommitment, err := commit(resultsRoot, newSalt)
	if err != nil {
		return nil, err
	}
	out.NewTallyCommitment = newCommitment
	out.Results = make([]*big.Int, len(r.results))
	for i, v := range r.results {
		out.Results[i] = new(big.Int).Set(v)
	}
	out.PackedVals = packTallyVals(out.BatchIndex, r.st.NumSignUps())
	out.InputHash, err = InputHash(
		out.PackedVals, out.StateCommitment, out.OldTallyCommitment, out.NewTallyCommitment)
	if err != nil {
		return nil, err
	}

	r.tallySalt = new(big.Int).Set(newSalt)
	r.tallyCommitment = newCommitment
	r.talliedBatches++
	if r.talliedBatches == r.tallyBatches {
		r.phase = types.PhaseEnded
		log.Infow("tally finished", "batches", r.tallyBatches)
	}
	log.Debugw("tally batch processed",
		"batch", out.BatchIndex, "of", r.tallyBatches,
		"resultsRoot", resultsRoot.String())
	return out, nil
}

// resultsRoot builds the quinary results tree over the packed accumulator.
func (r *Round) resultsRoot() (*big.Int, error) {
	tree, err := quintree.New(r.params.VoteOptionTreeDepth, r.results...)
	if err != nil {
		return nil, err
	}
	return tree.Root(), nil
}

// Results returns the unpacked per-option totals. Only available once the
// round has ENDED.
func (r *Round) Results() ([]TallyResult, error) {
	if r.phase != types.PhaseEnded {
		return nil, fmt.Errorf("results in phase %s: %w", r.phase, ErrWrongPhase)
	}
	out := make([]TallyResult, len(r.results))
	for i, packed := range r.results {
		count, cost := new(big.Int), new(big.Int)
		count.QuoRem(packed, types.TallyPackShift, cost)
		out[i] = TallyResult{Count: count, QuadraticCost: cost}
	}
	return out, nil
}
