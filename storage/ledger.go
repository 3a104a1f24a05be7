package storage

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/amaci/crypto/babyjub"
	"github.com/vocdoni/amaci/crypto/elgamal"
	"github.com/vocdoni/amaci/types"
)

// Event kinds recorded in a round's ledger.
const (
	EventSignUp          = "signup"
	EventNewKey          = "newKey"
	EventDeactivateBatch = "deactivateBatch"
	EventEndVotePeriod   = "endVotePeriod"
	EventMessageBatch    = "messageBatch"
	EventTallyBatch      = "tallyBatch"
)

// Event is one ledger entry: the part of an operation that replay needs to
// reproduce it. Message payloads live in their own logs; the ledger keeps
// the total order of everything that mutates tree state, because leaf
// indices and batch outcomes depend on it.
type Event struct {
	Kind string `json:"kind"`

	// signup and newKey
	PubKeyX *types.BigInt `json:"pubKeyX,omitempty"`
	PubKeyY *types.BigInt `json:"pubKeyY,omitempty"`

	// newKey
	Nullifier *types.BigInt  `json:"nullifier,omitempty"`
	Status    types.HexBytes `json:"status,omitempty"`

	// deactivateBatch, messageBatch and tallyBatch
	Salt *types.BigInt `json:"salt,omitempty"`
	// deactivateBatch only: the batch's end cursor in the request log.
	// Replay publishes exactly that many requests before draining, so the
	// batch covers the same slice it covered originally.
	BatchEnd int `json:"batchEnd,omitempty"`

	// endVotePeriod only: fingerprint of the sealed, padded message log.
	Fingerprint *types.BigInt `json:"fingerprint,omitempty"`
}

// SignUpEvent records a voter registration.
func SignUpEvent(pub *babyjub.PublicKey) *Event {
	return &Event{
		Kind:    EventSignUp,
		PubKeyX: types.FromBigInt(pub.X),
		PubKeyY: types.FromBigInt(pub.Y),
	}
}

// NewKeyEvent records a state leaf minted from a deactivation nullifier.
func NewKeyEvent(nullifier *big.Int, pub *babyjub.PublicKey, status *elgamal.Ciphertext) *Event {
	return &Event{
		Kind:      EventNewKey,
		PubKeyX:   types.FromBigInt(pub.X),
		PubKeyY:   types.FromBigInt(pub.Y),
		Nullifier: types.FromBigInt(nullifier),
		Status:    status.Serialize(),
	}
}

// DeactivateBatchEvent records a deactivation batch run: the commitment
// salt it used and the end cursor it reached in the request log.
func DeactivateBatchEvent(salt *big.Int, batchEnd int) *Event {
	return &Event{
		Kind:     EventDeactivateBatch,
		Salt:     types.FromBigInt(salt),
		BatchEnd: batchEnd,
	}
}

// EndVotePeriodEvent seals the message log; the fingerprint covers the
// padded queue and is verified after replay.
func EndVotePeriodEvent(fingerprint *big.Int) *Event {
	return &Event{
		Kind:        EventEndVotePeriod,
		Fingerprint: types.FromBigInt(fingerprint),
	}
}

// MessageBatchEvent records a message processing batch and its salt.
func MessageBatchEvent(salt *big.Int) *Event {
	return &Event{Kind: EventMessageBatch, Salt: types.FromBigInt(salt)}
}

// TallyBatchEvent records a tally batch and its salt.
func TallyBatchEvent(salt *big.Int) *Event {
	return &Event{Kind: EventTallyBatch, Salt: types.FromBigInt(salt)}
}

// AppendEvent appends an event to the round's ledger and returns its
// sequence number.
func (s *Storage) AppendEvent(roundID string, ev *Event) (uint64, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	return s.appendLog(ledgerPrefix, roundID, ev)
}

// Events returns the round's ledger in append order.
func (s *Storage) Events(roundID string) ([]*Event, error) {
	var events []*Event
	var decErr error
	if err := s.listScope(ledgerPrefix, roundScope(roundID), func(v []byte) bool {
		ev := &Event{}
		if decErr = decodeArtifact(v, ev); decErr != nil {
			return false
		}
		events = append(events, ev)
		return true
	}); err != nil {
		return nil, err
	}
	if decErr != nil {
		return nil, fmt.Errorf("decode event %d of round %s: %w", len(events), roundID, decErr)
	}
	return events, nil
}
