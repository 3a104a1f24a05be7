package storage

import (
	"fmt"

	"github.com/vocdoni/amaci/types"
)

// Commitment log entry kinds, one per batch-producing operation.
const (
	CommitDeactivate = "deactivate"
	CommitProcess    = "process"
	CommitTally      = "tally"
)

// CommitmentEntry records one processed batch: the public input hash its
// proof binds to, the commitment the chain advanced to and the tree root
// behind it. Proof carries the circom proof JSON when a prover ran the
// batch.
type CommitmentEntry struct {
	Kind       string         `json:"kind"`
	InputHash  *types.BigInt  `json:"inputHash"`
	Commitment *types.BigInt  `json:"commitment"`
	Root       *types.BigInt  `json:"root,omitempty"`
	Proof      types.HexBytes `json:"proof,omitempty"`
}

// AppendCommitment appends an entry to the round's commitment log and
// returns its sequence number.
func (s *Storage) AppendCommitment(roundID string, entry *CommitmentEntry) (uint64, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	return s.appendLog(commitmentPrefix, roundID, entry)
}

// Commitments returns the round's commitment log in append order.
func (s *Storage) Commitments(roundID string) ([]*CommitmentEntry, error) {
	var entries []*CommitmentEntry
	var decErr error
	if err := s.listScope(commitmentPrefix, roundScope(roundID), func(v []byte) bool {
		entry := &CommitmentEntry{}
		if decErr = decodeArtifact(v, entry); decErr != nil {
			return false
		}
		entries = append(entries, entry)
		return true
	}); err != nil {
		return nil, err
	}
	if decErr != nil {
		return nil, fmt.Errorf("decode commitment %d of round %s: %w", len(entries), roundID, decErr)
	}
	return entries, nil
}
