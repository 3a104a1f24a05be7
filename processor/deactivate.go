package processor

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/iden3/go-iden3-crypto/poseidon"

	"github.com/vocdoni/amaci/crypto/babyjub"
	"github.com/vocdoni/amaci/crypto/ecc/curves"
	"github.com/vocdoni/amaci/crypto/elgamal"
	"github.com/vocdoni/amaci/crypto/secies"
	"github.com/vocdoni/amaci/log"
	"github.com/vocdoni/amaci/state"
	"github.com/vocdoni/amaci/types"
)

// ErrNullifierSeen is returned by AddNewKey when the nullifier was already
// spent. Callers report it to the client but never treat it as fatal.
var ErrNullifierSeen = errors.New("nullifier already seen")

// NullifierSet tracks spent deactivation nullifiers. The storage layer
// provides a persistent implementation; MemoryNullifierSet backs
// standalone rounds and tests.
type NullifierSet interface {
	Has(nullifier *big.Int) (bool, error)
	Add(nullifier *big.Int) error
}

// MemoryNullifierSet is the in-memory NullifierSet.
type MemoryNullifierSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryNullifierSet returns an empty in-memory nullifier set.
func NewMemoryNullifierSet() *MemoryNullifierSet {
	return &MemoryNullifierSet{seen: make(map[string]struct{})}
}

// Has reports whether the nullifier was added before.
func (m *MemoryNullifierSet) Has(nullifier *big.Int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[nullifier.String()]
	return ok, nil
}

// Add marks the nullifier as spent.
func (m *MemoryNullifierSet) Add(nullifier *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[nullifier.String()] = struct{}{}
	return nil
}

// DeactivateWitness is the per-request row of a deactivation batch.
type DeactivateWitness struct {
	Message *Message
	Valid   bool
	// StateIndex is the clamped target slot, 0 when out of range.
	StateIndex int
	// LeafIndex is the position appended to the deactivate tree.
	LeafIndex int
	// Ciphertext encodes the request's validity as X-coordinate parity
	// under the coordinator key.
	Ciphertext    *elgamal.Ciphertext
	SharedKeyHash *big.Int
}

// DeactivateOutput is the result of one deactivation batch.
type DeactivateOutput struct {
	BatchStart int
	BatchEnd   int

	PackedVals      *big.Int
	CoordPubKeyHash *big.Int
	BatchStartHash  *big.Int
	BatchEndHash    *big.Int

	NewDeactivateRoot       *big.Int
	NewDeactivateCommitment *big.Int
	NewDeactivateSalt       *big.Int

	InputHash *big.Int
	Witness   []*DeactivateWitness
}

// ProcessDeactivateMessages folds up to one batch of pending deactivation
// requests. A valid request marks its state index in the active-state tree
// and appends an even-parity ciphertext leaf; an invalid one appends an
// odd-parity leaf and touches nothing else, so the deactivate tree grows
// by exactly one leaf per request either way.
func (r *Round) ProcessDeactivateMessages(newSalt *big.Int) (*DeactivateOutput, error) {
	if r.phase != types.PhaseFilling {
		return nil, fmt.Errorf("process deactivate in phase %s: %w", r.phase, ErrWrongPhase)
	}
	if r.deactCursor >= len(r.deactMessages) {
		return nil, ErrBatchesDone
	}
	if newSalt == nil || newSalt.Sign() < 0 || newSalt.Cmp(types.FieldPrime) >= 0 {
		return nil, fmt.Errorf("new deactivate salt outside the field")
	}

	start := r.deactCursor
	end := min(start+r.params.BatchSize(), len(r.deactMessages))
	out := &DeactivateOutput{
		BatchStart:        start,
		BatchEnd:          end,
		CoordPubKeyHash:   new(big.Int).Set(r.coordHash),
		BatchStartHash:    new(big.Int).Set(r.deactHashes[start]),
		BatchEndHash:      new(big.Int).Set(r.deactHashes[end]),
		NewDeactivateSalt: new(big.Int).Set(newSalt),
		Witness:           make([]*DeactivateWitness, 0, end-start),
	}

	for i := start; i < end; i++ {
		w, err := r.applyDeactivateMessage(r.deactMessages[i], i)
		if err != nil {
			return nil, fmt.Errorf("deactivate message %d: %w", i, err)
		}
		out.Witness = append(out.Witness, w)
	}

	out.NewDeactivateRoot = r.st.DeactivateRoot()
	newCommitment, err := commit(out.NewDeactivateRoot, newSalt)
	if err != nil {
		return nil, err
	}
	out.NewDeactivateCommitment = newCommitment
	out.PackedVals = packProcessVals(r.params.MaxVoteOptions, r.st.NumSignUps(), start, end)
	out.InputHash, err = InputHash(
		out.PackedVals, out.CoordPubKeyHash, out.BatchStartHash, out.BatchEndHash,
		out.NewDeactivateRoot, out.NewDeactivateCommitment)
	if err != nil {
		return nil, err
	}

	r.deactSalt = new(big.Int).Set(newSalt)
	r.deactCommitment = newCommitment
	r.deactCursor = end
	log.Debugw("deactivate batch processed",
		"start", start, "end", end,
		"deactivateRoot", out.NewDeactivateRoot.String())
	return out, nil
}

// applyDeactivateMessage validates one request and appends its parity
// leaf. The shared ECDH point is recoverable for any well-formed message,
// so even undecryptable requests produce a bound leaf.
func (r *Round) applyDeactivateMessage(msg *Message, index int) (*DeactivateWitness, error) {
	kx, ky := r.coordPriv.SharedPoint(msg.EncPubKey)
	sharedKeyHash, err := secies.SharedKeyHash(kx, ky)
	if err != nil {
		return nil, err
	}

	valid := false
	stateIdx := 0
	cmd, sig, err := msg.Decrypt(r.coordPriv)
	switch {
	case errors.Is(err, secies.ErrMACMismatch), errors.Is(err, ErrMalformedMessage):
		// invalid request, parity leaf only
	case err != nil:
		return nil, err
	default:
		inRange := cmd.StateIndex >= 1 && cmd.StateIndex <= uint64(r.st.NumSignUps())
		if inRange {
			stateIdx = int(cmd.StateIndex)
		}
		leaf := r.st.LeafAt(stateIdx)
		packed, err := cmd.Pack()
		if err != nil {
			return nil, err
		}
		sigOK, err := VerifyCommand(packed, cmd.NewPubKey, sig, leaf.PubKey)
		if err != nil {
			return nil, err
		}
		marked, err := r.st.IsActiveMarked(stateIdx)
		if err != nil {
			return nil, err
		}
		// The same dual activity check as voting: a leaf whose status
		// already decrypts odd cannot be deactivated into an even entry.
		statusOdd := elgamal.DecryptOdevity(r.coordPriv.Scalar(), leaf.Status)
		valid = inRange && sigOK && !marked && !statusOdd
	}

	// The parity leaf must fold identically when the log is replayed, so
	// the encryption salt derives from the request itself. The shared key
	// hash keeps it unpredictable without the coordinator's private key.
	salt, err := poseidon.Hash([]*big.Int{sharedKeyHash, big.NewInt(int64(index))})
	if err != nil {
		return nil, err
	}
	coordPoint := curves.New(curves.CurveTypeBabyJubJub).SetPoint(r.coordPub.X, r.coordPub.Y)
	// Even parity encodes a valid deactivation, odd an invalid request.
	ct, err := elgamal.EncryptOdevity(coordPoint, !valid, salt)
	if err != nil {
		return nil, err
	}
	leafIndex, err := r.st.AppendDeactivateLeaf(ct, sharedKeyHash)
	if err != nil {
		return nil, err
	}
	if valid {
		if err := r.st.MarkDeactivated(stateIdx); err != nil {
			return nil, err
		}
	}
	return &DeactivateWitness{
		Message:       msg,
		Valid:         valid,
		StateIndex:    stateIdx,
		LeafIndex:     leafIndex,
		Ciphertext:    ct,
		SharedKeyHash: sharedKeyHash,
	}, nil
}

// AddNewKey mints a fresh state leaf for a reactivated key. The nullifier
// proves (off-band, through the reactivation circuit) knowledge of a
// deactivated key without revealing which; reusing one is rejected with
// ErrNullifierSeen. The status ciphertext is the caller's rerandomization
// of their deactivate leaf and carries the parity verdict with it.
func (r *Round) AddNewKey(nullifier *big.Int, newPubKey *babyjub.PublicKey, status *elgamal.Ciphertext) (int, error) {
	if r.phase != types.PhaseFilling {
		return 0, fmt.Errorf("add new key in phase %s: %w", r.phase, ErrWrongPhase)
	}
	if nullifier == nil || nullifier.Sign() < 0 || nullifier.Cmp(types.FieldPrime) >= 0 {
		return 0, fmt.Errorf("nullifier outside the field")
	}
	if newPubKey == nil || newPubKey.X == nil || newPubKey.Y == nil {
		return 0, fmt.Errorf("new public key is nil")
	}
	if status == nil || status.C1 == nil || status.C2 == nil {
		return 0, fmt.Errorf("status ciphertext is nil")
	}
	seen, err := r.nullifiers.Has(nullifier)
	if err != nil {
		return 0, err
	}
	if seen {
		return 0, ErrNullifierSeen
	}
	if err := r.nullifiers.Add(nullifier); err != nil {
		return 0, err
	}
	leaf := state.NewSignUpLeaf(newPubKey, new(big.Int).SetUint64(r.params.InitialVoiceCredits), r.params.VoteOptionTreeDepth)
	leaf.Status = status
	index, err := r.st.AppendLeaf(leaf)
	if err != nil {
		return 0, err
	}
	log.Debugw("new key added", "index", index, "nullifier", nullifier.String())
	return index, nil
}
