// Package service runs the coordinator: it keeps every stored round live
// in memory, serializes the operations clients invoke on them, and advances
// batch work in the background until each round reaches its final tally.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vocdoni/amaci/log"
	"github.com/vocdoni/amaci/processor"
	"github.com/vocdoni/amaci/prover"
	"github.com/vocdoni/amaci/storage"
)

var (
	// ErrRoundNotFound is returned when the referenced round does not exist.
	ErrRoundNotFound = errors.New("round not found")
	// ErrRoundExists is returned when creating a round under a taken id.
	ErrRoundExists = errors.New("round already exists")
)

// liveRound pairs a replayed processor round with its stored record.
type liveRound struct {
	round *processor.Round
	rec   *storage.RoundRecord
}

// Coordinator owns the live rounds and the batch worker that drives them.
// All round access is serialized through one lock; the processor requires
// single-goroutine access per round.
type Coordinator struct {
	stg    *storage.Storage
	prv    *prover.Prover // nil skips proof generation
	ctx    context.Context
	cancel context.CancelFunc

	roundsLock sync.Mutex
	rounds     map[string]*liveRound

	// batchInterval is how often the worker polls the rounds for pending
	// batch work.
	batchInterval time.Duration
}

// New builds a Coordinator over the given storage and replays every stored
// round into memory. A nil prover disables proof generation; commitments
// are still chained and logged.
func New(stg *storage.Storage, prv *prover.Prover, batchInterval time.Duration) (*Coordinator, error) {
	if stg == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	if batchInterval <= 0 {
		return nil, fmt.Errorf("batch interval must be positive")
	}
	c := &Coordinator{
		stg:           stg,
		prv:           prv,
		rounds:        make(map[string]*liveRound),
		batchInterval: batchInterval,
	}
	ids, err := stg.ListRounds()
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	for _, id := range ids {
		r, rec, err := stg.LoadRound(id)
		if err != nil {
			return nil, fmt.Errorf("replay round %s: %w", id, err)
		}
		c.rounds[id] = &liveRound{round: r, rec: rec}
	}
	log.Debugw("coordinator initialized", "rounds", len(c.rounds), "proving", prv != nil)
	return c, nil
}

// Start launches the background batch worker. The worker stops when the
// context is canceled or Stop is called.
func (c *Coordinator) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("context cannot be nil")
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	if c.prv != nil {
		if err := c.prv.Load(c.ctx); err != nil {
			c.cancel()
			return fmt.Errorf("load circuit artifacts: %w", err)
		}
	}
	c.startBatchWorker()
	log.Infow("coordinator started")
	return nil
}

// Stop shuts the batch worker down. Safe to call multiple times.
func (c *Coordinator) Stop() error {
	if c.cancel != nil {
		c.cancel()
		log.Infow("coordinator stopped")
	}
	return nil
}

// live returns the in-memory round, or ErrRoundNotFound.
// Must be called with roundsLock held.
func (c *Coordinator) live(id string) (*liveRound, error) {
	lr, ok := c.rounds[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoundNotFound, id)
	}
	return lr, nil
}

// snapshot refreshes the stored record from the live round.
// Must be called with roundsLock held.
func (c *Coordinator) snapshot(id string, lr *liveRound) error {
	rec := storage.NewRoundRecord(id, lr.rec.CoordinatorSeed, lr.round)
	if err := c.stg.SetRound(rec); err != nil {
		return fmt.Errorf("store round %s: %w", id, err)
	}
	lr.rec = rec
	return nil
}
