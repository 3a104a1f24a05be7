package service

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"github.com/vocdoni/amaci/crypto/babyjub"
	"github.com/vocdoni/amaci/crypto/elgamal"
	"github.com/vocdoni/amaci/log"
	"github.com/vocdoni/amaci/processor"
	"github.com/vocdoni/amaci/storage"
	"github.com/vocdoni/amaci/types"
	"github.com/vocdoni/amaci/util"
)

// CreateRound mints a coordinator key pair, opens a round in the FILLING
// phase and persists it. An empty id gets a generated one. The returned
// record carries the coordinator public key voters encrypt commands to.
func (c *Coordinator) CreateRound(id string, params types.RoundParams) (*storage.RoundRecord, error) {
	if id == "" {
		id = uuid.New().String()
	}
	c.roundsLock.Lock()
	defer c.roundsLock.Unlock()
	if _, ok := c.rounds[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrRoundExists, id)
	}
	seed := util.RandomBytes(32)
	coordKey, err := babyjub.KeyFromSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("coordinator key: %w", err)
	}
	r, err := processor.NewRound(params, coordKey, c.stg.RoundNullifiers(id))
	if err != nil {
		return nil, err
	}
	rec := storage.NewRoundRecord(id, seed, r)
	if err := c.stg.SetRound(rec); err != nil {
		return nil, fmt.Errorf("store round %s: %w", id, err)
	}
	c.rounds[id] = &liveRound{round: r, rec: rec}
	log.Infow("round created", "round", id,
		"stateTreeDepth", params.StateTreeDepth, "batchSize", params.BatchSize())
	return rec, nil
}

// Round returns the stored record of a round.
func (c *Coordinator) Round(id string) (*storage.RoundRecord, error) {
	c.roundsLock.Lock()
	defer c.roundsLock.Unlock()
	lr, err := c.live(id)
	if err != nil {
		return nil, err
	}
	return lr.rec, nil
}

// ListRounds returns the ids of every live round.
func (c *Coordinator) ListRounds() []string {
	c.roundsLock.Lock()
	defer c.roundsLock.Unlock()
	ids := make([]string, 0, len(c.rounds))
	for id := range c.rounds {
		ids = append(ids, id)
	}
	return ids
}

// DeleteRound drops the round from memory and removes everything it owns
// from storage.
func (c *Coordinator) DeleteRound(id string) error {
	c.roundsLock.Lock()
	defer c.roundsLock.Unlock()
	if _, err := c.live(id); err != nil {
		return err
	}
	delete(c.rounds, id)
	return c.stg.DeleteRound(id)
}

// SignUp registers a voter key and returns its state index.
func (c *Coordinator) SignUp(id string, pub *babyjub.PublicKey) (int, error) {
	c.roundsLock.Lock()
	defer c.roundsLock.Unlock()
	lr, err := c.live(id)
	if err != nil {
		return 0, err
	}
	index, err := lr.round.SignUp(pub)
	if err != nil {
		return 0, err
	}
	if _, err := c.stg.AppendEvent(id, storage.SignUpEvent(pub)); err != nil {
		return 0, fmt.Errorf("record signup: %w", err)
	}
	return index, c.snapshot(id, lr)
}

// PublishMessage accepts a voting message into the round's queue and
// returns its position.
func (c *Coordinator) PublishMessage(id string, msg *processor.Message) (int, error) {
	c.roundsLock.Lock()
	defer c.roundsLock.Unlock()
	lr, err := c.live(id)
	if err != nil {
		return 0, err
	}
	index, err := lr.round.PublishMessage(msg)
	if err != nil {
		return 0, err
	}
	if _, err := c.stg.AppendMessage(id, msg); err != nil {
		return 0, fmt.Errorf("store message: %w", err)
	}
	return index, c.snapshot(id, lr)
}

// PublishDeactivateMessage accepts a key deactivation request and returns
// its position in the deactivation queue. The background worker folds it
// into the deactivate tree on its next pass.
func (c *Coordinator) PublishDeactivateMessage(id string, msg *processor.Message) (int, error) {
	c.roundsLock.Lock()
	defer c.roundsLock.Unlock()
	lr, err := c.live(id)
	if err != nil {
		return 0, err
	}
	index, err := lr.round.PublishDeactivateMessage(msg)
	if err != nil {
		return 0, err
	}
	if _, err := c.stg.AppendDeactivateMessage(id, msg); err != nil {
		return 0, fmt.Errorf("store deactivate message: %w", err)
	}
	return index, c.snapshot(id, lr)
}

// AddNewKey mints a state leaf for a deactivation nullifier and returns its
// index. The nullifier is spent atomically with the leaf.
func (c *Coordinator) AddNewKey(id string, nullifier *big.Int, pub *babyjub.PublicKey, status *elgamal.Ciphertext) (int, error) {
	c.roundsLock.Lock()
	defer c.roundsLock.Unlock()
	lr, err := c.live(id)
	if err != nil {
		return 0, err
	}
	index, err := lr.round.AddNewKey(nullifier, pub, status)
	if err != nil {
		return 0, err
	}
	if _, err := c.stg.AppendEvent(id, storage.NewKeyEvent(nullifier, pub, status)); err != nil {
		return 0, fmt.Errorf("record new key: %w", err)
	}
	return index, c.snapshot(id, lr)
}

// EndVotePeriod seals the round's message queue. Deactivation requests
// still pending are drained first, batch by batch, so the deactivate tree
// is final before message processing starts.
func (c *Coordinator) EndVotePeriod(id string) error {
	c.roundsLock.Lock()
	defer c.roundsLock.Unlock()
	lr, err := c.live(id)
	if err != nil {
		return err
	}
	for lr.round.PendingDeactivateMessages() > 0 {
		if err := c.runDeactivateBatch(id, lr); err != nil {
			return fmt.Errorf("drain deactivate queue: %w", err)
		}
	}
	if err := lr.round.EndVotePeriod(); err != nil {
		return err
	}
	fp, err := processor.MessagesFingerprint(lr.round.Messages())
	if err != nil {
		return fmt.Errorf("fingerprint messages: %w", err)
	}
	if _, err := c.stg.AppendEvent(id, storage.EndVotePeriodEvent(fp)); err != nil {
		return fmt.Errorf("record end of vote period: %w", err)
	}
	log.Infow("vote period ended", "round", id,
		"messages", lr.round.MessageCount(), "signUps", lr.round.NumSignUps())
	return c.snapshot(id, lr)
}

// Results returns the per-option totals of an ENDED round.
func (c *Coordinator) Results(id string) ([]processor.TallyResult, error) {
	c.roundsLock.Lock()
	defer c.roundsLock.Unlock()
	lr, err := c.live(id)
	if err != nil {
		return nil, err
	}
	return lr.round.Results()
}

// Commitments returns the round's commitment log, one entry per processed
// batch with its proof when a prover ran it.
func (c *Coordinator) Commitments(id string) ([]*storage.CommitmentEntry, error) {
	c.roundsLock.Lock()
	defer c.roundsLock.Unlock()
	if _, err := c.live(id); err != nil {
		return nil, err
	}
	return c.stg.Commitments(id)
}
