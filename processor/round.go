package processor

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"

	"github.com/vocdoni/amaci/crypto/babyjub"
	"github.com/vocdoni/amaci/log"
	"github.com/vocdoni/amaci/state"
	"github.com/vocdoni/amaci/types"
)

var (
	// ErrWrongPhase is returned when an operation is called outside the
	// phase that permits it.
	ErrWrongPhase = errors.New("operation not allowed in current phase")
	// ErrBatchesDone is returned when every batch of the current phase has
	// already been processed.
	ErrBatchesDone = errors.New("no batches left to process")
)

// Round drives one voting round through its phases. It owns the tree
// state, both message queues with their chain hashes, and the commitment
// chain the batch proofs bind to. All methods must be called from a single
// goroutine; the service layer serializes access per round.
type Round struct {
	params    types.RoundParams
	coordPriv *babyjub.PrivateKey
	coordPub  *babyjub.PublicKey
	coordHash *big.Int
	st        *state.State
	phase     types.RoundPhase

	nullifiers NullifierSet

	// messages is the voting queue; msgHashes[i] is the chain hash after
	// the first i messages, starting at 0.
	messages  []*Message
	msgHashes []*big.Int

	// deactMessages is the separate deactivation queue with its own chain.
	deactMessages []*Message
	deactHashes   []*big.Int
	deactCursor   int

	totalBatches     int
	processedBatches int

	stateSalt       *big.Int
	stateCommitment *big.Int
	deactSalt       *big.Int
	deactCommitment *big.Int

	tallySalt       *big.Int
	tallyCommitment *big.Int
	tallyBatches    int
	talliedBatches  int
	results         []*big.Int
}

// NewRound builds a round in the FILLING phase. A nil nullifier set falls
// back to the in-memory implementation.
func NewRound(params types.RoundParams, coordPriv *babyjub.PrivateKey, nullifiers NullifierSet) (*Round, error) {
	st, err := state.New(params)
	if err != nil {
		return nil, err
	}
	if nullifiers == nil {
		nullifiers = NewMemoryNullifierSet()
	}
	pub := coordPriv.Public()
	coordHash, err := poseidon.Hash([]*big.Int{pub.X, pub.Y})
	if err != nil {
		return nil, err
	}
	deactCommitment, err := commit(st.DeactivateRoot(), big.NewInt(0))
	if err != nil {
		return nil, err
	}
	return &Round{
		params:          params,
		coordPriv:       coordPriv,
		coordPub:        pub,
		coordHash:       coordHash,
		st:              st,
		phase:           types.PhaseFilling,
		nullifiers:      nullifiers,
		messages:        []*Message{},
		msgHashes:       []*big.Int{big.NewInt(0)},
		deactMessages:   []*Message{},
		deactHashes:     []*big.Int{big.NewInt(0)},
		deactSalt:       big.NewInt(0),
		deactCommitment: deactCommitment,
		tallySalt:       big.NewInt(0),
		tallyCommitment: big.NewInt(0),
	}, nil
}

// Phase returns the round's current phase.
func (r *Round) Phase() types.RoundPhase { return r.phase }

// Params returns the round parameters.
func (r *Round) Params() types.RoundParams { return r.params }

// CoordinatorPubKey returns the coordinator's public key.
func (r *Round) CoordinatorPubKey() *babyjub.PublicKey { return r.coordPub }

// NumSignUps returns the number of registered keys.
func (r *Round) NumSignUps() int { return r.st.NumSignUps() }

// MessageCount returns the number of published voting messages, padding
// included once the queue is sealed.
func (r *Round) MessageCount() int { return len(r.messages) }

// DeactivateMessageCount returns the number of published deactivation
// requests.
func (r *Round) DeactivateMessageCount() int { return len(r.deactMessages) }

// PendingDeactivateMessages returns how many deactivation requests are
// still waiting for a batch run.
func (r *Round) PendingDeactivateMessages() int {
	return len(r.deactMessages) - r.deactCursor
}

// MessageChainHead returns the chain hash over every message accepted so
// far, pads included once the queue is sealed.
func (r *Round) MessageChainHead() *big.Int {
	return r.msgHashes[len(r.msgHashes)-1]
}

// DeactivateChainHead returns the chain hash over every deactivation
// request accepted so far.
func (r *Round) DeactivateChainHead() *big.Int {
	return r.deactHashes[len(r.deactHashes)-1]
}

// State exposes the tree state for read access.
func (r *Round) State() *state.State { return r.st }

// Messages returns the voting queue in publish order.
func (r *Round) Messages() []*Message {
	out := make([]*Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// DeactivateMessages returns the deactivation queue in publish order.
func (r *Round) DeactivateMessages() []*Message {
	out := make([]*Message, len(r.deactMessages))
	copy(out, r.deactMessages)
	return out
}

// StateCommitment returns the current state commitment, nil before the
// vote period ends.
func (r *Round) StateCommitment() *big.Int { return r.stateCommitment }

// TallyCommitment returns the current tally commitment; the chain starts
// at 0.
func (r *Round) TallyCommitment() *big.Int { return r.tallyCommitment }

// DeactivateCommitment returns the commitment over the deactivate tree
// after the last processed deactivation batch.
func (r *Round) DeactivateCommitment() *big.Int { return r.deactCommitment }

// SignUp registers a voter key. Only allowed while the round is filling.
func (r *Round) SignUp(pub *babyjub.PublicKey) (int, error) {
	if r.phase != types.PhaseFilling {
		return 0, fmt.Errorf("signup in phase %s: %w", r.phase, ErrWrongPhase)
	}
	if pub == nil || pub.X == nil || pub.Y == nil {
		return 0, fmt.Errorf("signup public key is nil")
	}
	index, err := r.st.SignUp(pub)
	if err != nil {
		return 0, err
	}
	log.Debugw("voter signed up", "index", index, "numSignUps", r.st.NumSignUps())
	return index, nil
}

// PublishMessage appends a voting message to the queue and chains its
// hash. Content is not inspected here; invalid commands fold into the
// state as no-ops during processing.
func (r *Round) PublishMessage(msg *Message) (int, error) {
	if r.phase != types.PhaseFilling {
		return 0, fmt.Errorf("publish in phase %s: %w", r.phase, ErrWrongPhase)
	}
	if err := checkMessageShape(msg); err != nil {
		return 0, err
	}
	prev := r.msgHashes[len(r.msgHashes)-1]
	h, err := msg.ChainHash(prev)
	if err != nil {
		return 0, err
	}
	r.messages = append(r.messages, msg)
	r.msgHashes = append(r.msgHashes, h)
	return len(r.messages) - 1, nil
}

// PublishDeactivateMessage appends a deactivation request to its own
// queue and chain.
func (r *Round) PublishDeactivateMessage(msg *Message) (int, error) {
	if r.phase != types.PhaseFilling {
		return 0, fmt.Errorf("publish deactivate in phase %s: %w", r.phase, ErrWrongPhase)
	}
	if err := checkMessageShape(msg); err != nil {
		return 0, err
	}
	prev := r.deactHashes[len(r.deactHashes)-1]
	h, err := msg.ChainHash(prev)
	if err != nil {
		return 0, err
	}
	r.deactMessages = append(r.deactMessages, msg)
	r.deactHashes = append(r.deactHashes, h)
	return len(r.deactMessages) - 1, nil
}

// checkMessageShape rejects structurally unusable messages: nil fields or
// values outside the scalar field. Semantic validity is decided later.
func checkMessageShape(msg *Message) error {
	if msg == nil || msg.EncPubKey == nil || msg.EncPubKey.X == nil || msg.EncPubKey.Y == nil {
		return fmt.Errorf("message ephemeral key missing")
	}
	for i, d := range msg.Data {
		if d == nil {
			return fmt.Errorf("message data field %d is nil", i)
		}
		if d.Sign() < 0 || d.Cmp(types.FieldPrime) >= 0 {
			return fmt.Errorf("message data field %d outside the field", i)
		}
	}
	return nil
}

// commit binds a tree root with a blinding salt, Poseidon2(root, salt).
func commit(root, salt *big.Int) (*big.Int, error) {
	return poseidon.Hash([]*big.Int{root, salt})
}
