package storage

import (
	"fmt"

	"github.com/vocdoni/amaci/crypto/babyjub"
	"github.com/vocdoni/amaci/processor"
	"github.com/vocdoni/amaci/types"
)

// RoundRecord is the stored descriptor of a round: the immutable creation
// inputs plus a snapshot of the live counters. The snapshot may be one
// operation behind the logs after a crash; LoadRound reconciles it.
type RoundRecord struct {
	ID     string            `json:"id"`
	Params types.RoundParams `json:"params"`
	// CoordinatorSeed holds the raw private key bytes; the coordinator
	// cannot resume decryption without them.
	CoordinatorSeed types.HexBytes `json:"coordinatorSeed"`
	CoordPubKeyX    *types.BigInt  `json:"coordPubKeyX"`
	CoordPubKeyY    *types.BigInt  `json:"coordPubKeyY"`

	Phase             types.RoundPhase `json:"phase"`
	NumSignUps        int              `json:"numSignUps"`
	MessageCount      int              `json:"messageCount"`
	DeactivateCount   int              `json:"deactivateCount"`
	PendingDeactivate int              `json:"pendingDeactivate"`

	// Chain heads over the message logs at snapshot time; reload checks
	// the replayed logs against them.
	MessageChainHead    *types.BigInt `json:"messageChainHead"`
	DeactivateChainHead *types.BigInt `json:"deactivateChainHead"`

	StateCommitment      *types.BigInt `json:"stateCommitment,omitempty"`
	DeactivateCommitment *types.BigInt `json:"deactivateCommitment,omitempty"`
	TallyCommitment      *types.BigInt `json:"tallyCommitment,omitempty"`
}

// NewRoundRecord snapshots a live round into its storable record.
func NewRoundRecord(id string, seed []byte, r *processor.Round) *RoundRecord {
	pub := r.CoordinatorPubKey()
	return &RoundRecord{
		ID:                   id,
		Params:               r.Params(),
		CoordinatorSeed:      seed,
		CoordPubKeyX:         types.FromBigInt(pub.X),
		CoordPubKeyY:         types.FromBigInt(pub.Y),
		Phase:                r.Phase(),
		NumSignUps:           r.NumSignUps(),
		MessageCount:         r.MessageCount(),
		DeactivateCount:      r.DeactivateMessageCount(),
		PendingDeactivate:    r.PendingDeactivateMessages(),
		MessageChainHead:     types.FromBigInt(r.MessageChainHead()),
		DeactivateChainHead:  types.FromBigInt(r.DeactivateChainHead()),
		StateCommitment:      types.FromBigInt(r.StateCommitment()),
		DeactivateCommitment: types.FromBigInt(r.DeactivateCommitment()),
		TallyCommitment:      types.FromBigInt(r.TallyCommitment()),
	}
}

// CoordinatorKey rebuilds the coordinator private key stored with the
// record.
func (rec *RoundRecord) CoordinatorKey() (*babyjub.PrivateKey, error) {
	return babyjub.KeyFromSeed(rec.CoordinatorSeed)
}

// SetRound stores or overwrites a round record.
func (s *Storage) SetRound(rec *RoundRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("round record has no id")
	}
	if err := s.setArtifact(roundPrefix, []byte(rec.ID), rec); err != nil {
		return err
	}
	s.recordCache.Add(rec.ID, rec)
	return nil
}

// Round loads a round record. It returns ErrNotFound if the round does not
// exist.
func (s *Storage) Round(id string) (*RoundRecord, error) {
	if rec, ok := s.recordCache.Get(id); ok {
		return rec, nil
	}
	rec := &RoundRecord{}
	if err := s.getArtifact(roundPrefix, []byte(id), rec); err != nil {
		return nil, err
	}
	s.recordCache.Add(id, rec)
	return rec, nil
}

// ListRounds returns the ids of every stored round.
func (s *Storage) ListRounds() ([]string, error) {
	var ids []string
	if err := s.listKeys(roundPrefix, func(k []byte) bool {
		ids = append(ids, string(k))
		return true
	}); err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteRound removes the record and every log the round owns.
func (s *Storage) DeleteRound(id string) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	for _, prefix := range [][]byte{messagePrefix, deactivatePrefix, ledgerPrefix, nullifierPrefix, commitmentPrefix} {
		if err := s.deleteScope(prefix, roundScope(id)); err != nil {
			return fmt.Errorf("delete round %s logs: %w", id, err)
		}
		s.dropSeq(prefix, id)
	}
	s.recordCache.Remove(id)
	return s.deleteArtifact(roundPrefix, []byte(id))
}
