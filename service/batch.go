package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/vocdoni/amaci/log"
	"github.com/vocdoni/amaci/processor"
	"github.com/vocdoni/amaci/prover"
	"github.com/vocdoni/amaci/storage"
	"github.com/vocdoni/amaci/types"
	"github.com/vocdoni/amaci/util"
)

// startBatchWorker starts the background goroutine that advances every
// round one batch per pass: pending deactivation requests while the round
// is filling, message batches while processing, tally batches while
// tallying. The worker runs until the coordinator's context is canceled.
func (c *Coordinator) startBatchWorker() {
	ticker := time.NewTicker(c.batchInterval)
	go func() {
		defer ticker.Stop()
		log.Infow("batch worker started", "interval", c.batchInterval.String())
		for {
			select {
			case <-c.ctx.Done():
				log.Infow("batch worker stopped")
				return
			case <-ticker.C:
			}
			for _, id := range c.ListRounds() {
				if err := c.stepRound(id); err != nil {
					log.Errorw(err, fmt.Sprintf("round %s batch step failed", id))
				}
			}
		}
	}()
}

// stepRound runs at most one batch of whatever work the round's phase
// allows. Rounds waiting on voters or already ended are left alone.
func (c *Coordinator) stepRound(id string) error {
	c.roundsLock.Lock()
	defer c.roundsLock.Unlock()
	lr, err := c.live(id)
	if err != nil {
		// Deleted between listing and locking.
		return nil
	}
	switch lr.round.Phase() {
	case types.PhaseFilling:
		if lr.round.PendingDeactivateMessages() == 0 {
			return nil
		}
		return c.runDeactivateBatch(id, lr)
	case types.PhaseProcessing:
		return c.runMessageBatch(id, lr)
	case types.PhaseTallying:
		return c.runTallyBatch(id, lr)
	default:
		return nil
	}
}

// runDeactivateBatch folds one batch of pending deactivation requests.
// Must be called with roundsLock held.
func (c *Coordinator) runDeactivateBatch(id string, lr *liveRound) error {
	start := time.Now()
	salt := util.RandomFieldElement()
	out, err := lr.round.ProcessDeactivateMessages(salt)
	if err != nil {
		return fmt.Errorf("process deactivate batch: %w", err)
	}
	if _, err := c.stg.AppendEvent(id, storage.DeactivateBatchEvent(salt, out.BatchEnd)); err != nil {
		return fmt.Errorf("record deactivate batch: %w", err)
	}
	entry := &storage.CommitmentEntry{
		Kind:       storage.CommitDeactivate,
		InputHash:  types.FromBigInt(out.InputHash),
		Commitment: types.FromBigInt(out.NewDeactivateCommitment),
		Root:       types.FromBigInt(out.NewDeactivateRoot),
	}
	entry.Proof = c.prove(id, prover.BatchDeactivate, prover.DeactivateBatchInputs(out))
	if _, err := c.stg.AppendCommitment(id, entry); err != nil {
		return fmt.Errorf("record deactivate commitment: %w", err)
	}
	log.Debugw("deactivate batch processed", "round", id,
		"batchEnd", out.BatchEnd, "duration", time.Since(start).String())
	return c.snapshot(id, lr)
}

// runMessageBatch processes the next voting message batch.
// Must be called with roundsLock held.
func (c *Coordinator) runMessageBatch(id string, lr *liveRound) error {
	start := time.Now()
	salt := util.RandomFieldElement()
	out, err := lr.round.ProcessMessages(salt)
	if err != nil {
		if errors.Is(err, processor.ErrBatchesDone) {
			return nil
		}
		return fmt.Errorf("process message batch: %w", err)
	}
	if _, err := c.stg.AppendEvent(id, storage.MessageBatchEvent(salt)); err != nil {
		return fmt.Errorf("record message batch: %w", err)
	}
	entry := &storage.CommitmentEntry{
		Kind:       storage.CommitProcess,
		InputHash:  types.FromBigInt(out.InputHash),
		Commitment: types.FromBigInt(out.NewStateCommitment),
		Root:       types.FromBigInt(out.NewStateRoot),
	}
	entry.Proof = c.prove(id, prover.BatchMessage, prover.MessageBatchInputs(out))
	if _, err := c.stg.AppendCommitment(id, entry); err != nil {
		return fmt.Errorf("record state commitment: %w", err)
	}
	log.Debugw("message batch processed", "round", id,
		"batch", out.BatchIndex, "duration", time.Since(start).String())
	return c.snapshot(id, lr)
}

// runTallyBatch accumulates the next tally batch; the last one moves the
// round to ENDED. Must be called with roundsLock held.
func (c *Coordinator) runTallyBatch(id string, lr *liveRound) error {
	start := time.Now()
	salt := util.RandomFieldElement()
	out, err := lr.round.TallyVotes(salt)
	if err != nil {
		if errors.Is(err, processor.ErrBatchesDone) {
			return nil
		}
		return fmt.Errorf("tally batch: %w", err)
	}
	if _, err := c.stg.AppendEvent(id, storage.TallyBatchEvent(salt)); err != nil {
		return fmt.Errorf("record tally batch: %w", err)
	}
	entry := &storage.CommitmentEntry{
		Kind:       storage.CommitTally,
		InputHash:  types.FromBigInt(out.InputHash),
		Commitment: types.FromBigInt(out.NewTallyCommitment),
		Root:       types.FromBigInt(out.ResultsRoot),
	}
	entry.Proof = c.prove(id, prover.BatchTally, prover.TallyBatchInputs(out))
	if _, err := c.stg.AppendCommitment(id, entry); err != nil {
		return fmt.Errorf("record tally commitment: %w", err)
	}
	log.Debugw("tally batch processed", "round", id,
		"batch", out.BatchIndex, "duration", time.Since(start).String())
	if lr.round.Phase() == types.PhaseEnded {
		log.Infow("round tally complete", "round", id)
	}
	return c.snapshot(id, lr)
}

// prove generates the batch proof when a prover is configured. Proof
// failures do not block the round: the batch outcome is deterministic and
// the commitment entry records it either way.
func (c *Coordinator) prove(id string, kind prover.BatchKind, inputs map[string]any) []byte {
	if c.prv == nil {
		return nil
	}
	proof, err := c.prv.Prove(kind, inputs)
	if err != nil {
		log.Errorw(err, fmt.Sprintf("round %s: %s batch proof failed", id, kind))
		return nil
	}
	return proof.Proof
}
