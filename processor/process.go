package processor

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/amaci/log"
	"github.com/vocdoni/amaci/types"
)

// ProcessOutput is the result of folding one message batch: the public
// inputs of its proof plus the witness rows the prover consumes.
type ProcessOutput struct {
	BatchIndex int
	BatchStart int
	BatchEnd   int

	PackedVals      *big.Int
	CoordPubKeyHash *big.Int
	BatchStartHash  *big.Int
	BatchEndHash    *big.Int

	OldStateRoot       *big.Int
	NewStateRoot       *big.Int
	OldStateCommitment *big.Int
	NewStateCommitment *big.Int
	NewStateSalt       *big.Int

	InputHash *big.Int
	Witness   []*MessageWitness
}

// EndVotePeriod seals the voting queue and moves the round to PROCESSING.
// The queue is padded with inert messages up to a whole number of batches,
// at least one, each pad chained like a published message. Pending
// deactivation requests must be drained first so their tree is final when
// message processing starts.
func (r *Round) EndVotePeriod() error {
	if r.phase != types.PhaseFilling {
		return fmt.Errorf("end vote period in phase %s: %w", r.phase, ErrWrongPhase)
	}
	if r.deactCursor < len(r.deactMessages) {
		return fmt.Errorf("%d deactivate messages pending", len(r.deactMessages)-r.deactCursor)
	}
	batchSize := r.params.BatchSize()
	pad := (batchSize - len(r.messages)%batchSize) % batchSize
	if len(r.messages) == 0 {
		pad = batchSize
	}
	for i := 0; i < pad; i++ {
		msg := PadMessage()
		prev := r.msgHashes[len(r.msgHashes)-1]
		h, err := msg.ChainHash(prev)
		if err != nil {
			return err
		}
		r.messages = append(r.messages, msg)
		r.msgHashes = append(r.msgHashes, h)
	}
	r.totalBatches = len(r.messages) / batchSize
	r.stateSalt = big.NewInt(0)
	var err error
	if r.stateCommitment, err = commit(r.st.StateRoot(), r.stateSalt); err != nil {
		return err
	}
	r.phase = types.PhaseProcessing
	log.Infow("vote period ended",
		"messages", len(r.messages), "padded", pad, "batches", r.totalBatches,
		"numSignUps", r.st.NumSignUps())
	return nil
}

// ProcessMessages folds the next unprocessed batch, oldest first, into the
// state and returns its proof material. When the last batch completes the
// round moves to TALLYING.
func (r *Round) ProcessMessages(newSalt *big.Int) (*ProcessOutput, error) {
	if r.phase != types.PhaseProcessing {
		return nil, fmt.Errorf("process messages in phase %s: %w", r.phase, ErrWrongPhase)
	}
	if r.processedBatches >= r.totalBatches {
		return nil, ErrBatchesDone
	}
	if newSalt == nil || newSalt.Sign() < 0 || newSalt.Cmp(types.FieldPrime) >= 0 {
		return nil, fmt.Errorf("new state salt outside the field")
	}

	batchSize := r.params.BatchSize()
	start := r.processedBatches * batchSize
	end := start + batchSize

	out := &ProcessOutput{
		BatchIndex:         r.processedBatches,
		BatchStart:         start,
		BatchEnd:           end,
		CoordPubKeyHash:    new(big.Int).Set(r.coordHash),
		BatchStartHash:     new(big.Int).Set(r.msgHashes[start]),
		BatchEndHash:       new(big.Int).Set(r.msgHashes[end]),
		OldStateRoot:       r.st.StateRoot(),
		OldStateCommitment: new(big.Int).Set(r.stateCommitment),
		NewStateSalt:       new(big.Int).Set(newSalt),
		Witness:            make([]*MessageWitness, 0, batchSize),
	}

	for i := start; i < end; i++ {
		w, err := r.applyMessage(r.messages[i])
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		out.Witness = append(out.Witness, w)
	}

	out.NewStateRoot = r.st.StateRoot()
	newCommitment, err := commit(out.NewStateRoot, newSalt)
	if err != nil {
		return nil, err
	}
	out.NewStateCommitment = newCommitment
	out.PackedVals = packProcessVals(r.params.MaxVoteOptions, r.st.NumSignUps(), start, end)
	out.InputHash, err = InputHash(
		out.PackedVals, out.CoordPubKeyHash, out.BatchStartHash, out.BatchEndHash,
		out.OldStateCommitment, out.NewStateCommitment)
	if err != nil {
		return nil, err
	}

	r.stateSalt = new(big.Int).Set(newSalt)
	r.stateCommitment = newCommitment
	r.processedBatches++
	if r.processedBatches == r.totalBatches {
		r.beginTally()
	}
	log.Debugw("message batch processed",
		"batch", out.BatchIndex, "of", r.totalBatches,
		"newStateRoot", out.NewStateRoot.String(),
		"inputHash", out.InputHash.String())
	return out, nil
}

// beginTally moves the round to TALLYING and sizes the result
// accumulators. Tally batches cover state indices including the blank
// leaf 0, so the batch count is over numSignUps+1 slots.
func (r *Round) beginTally() {
	r.phase = types.PhaseTallying
	batchSize := r.params.BatchSize()
	slots := r.st.NumSignUps() + 1
	r.tallyBatches = (slots + batchSize - 1) / batchSize
	if r.tallyBatches == 0 {
		r.tallyBatches = 1
	}
	r.results = make([]*big.Int, r.params.MaxVoteOptions)
	for i := range r.results {
		r.results[i] = big.NewInt(0)
	}
	r.tallyCommitment = big.NewInt(0)
	r.tallySalt = big.NewInt(0)
	log.Infow("processing finished, tally started",
		"tallyBatches", r.tallyBatches, "numSignUps", r.st.NumSignUps())
}
