// Package state holds the coordinator's view of one voting round: the
// quinary state tree of voter leaves, the per-voter vote-option trees, the
// active-state tree marking deactivated keys and the append-only deactivate
// tree. It is a pure data layer; phase handling and message orchestration
// live in the processor package.
package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/vocdoni/amaci/crypto/babyjub"
	"github.com/vocdoni/amaci/crypto/elgamal"
	"github.com/vocdoni/amaci/quintree"
	"github.com/vocdoni/amaci/types"
)

// ErrRoundFull is returned when a signup or deactivate request would
// exceed the state tree capacity.
var ErrRoundFull = errors.New("round capacity exhausted")

// State is the mutable tree state of a round. Voter indices are 1-based:
// leaf 0 stays at the zero value and NumSignUps is both the signup counter
// and the highest occupied index. Not safe for concurrent writers.
type State struct {
	params types.RoundParams

	// stateTree stores StateLeaf hashes by voter index.
	stateTree *quintree.Tree
	// activeTree marks deactivated voter indices with a 1 leaf.
	activeTree *quintree.Tree
	// deactTree collects one odevity-ciphertext leaf per deactivate
	// request, valid or not, in arrival order.
	deactTree *quintree.Tree

	leaves     map[int]*StateLeaf
	voTrees    map[int]*quintree.Tree
	numSignUps int
	deactSize  int
}

// New builds the empty tree state for a round.
func New(params types.RoundParams) (*State, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	stateTree, err := quintree.New(params.StateTreeDepth)
	if err != nil {
		return nil, fmt.Errorf("state tree: %w", err)
	}
	activeTree, err := quintree.New(params.StateTreeDepth)
	if err != nil {
		return nil, fmt.Errorf("active-state tree: %w", err)
	}
	deactTree, err := quintree.New(params.StateTreeDepth)
	if err != nil {
		return nil, fmt.Errorf("deactivate tree: %w", err)
	}
	return &State{
		params:     params,
		stateTree:  stateTree,
		activeTree: activeTree,
		deactTree:  deactTree,
		leaves:     make(map[int]*StateLeaf),
		voTrees:    make(map[int]*quintree.Tree),
	}, nil
}

// Params returns the round parameters.
func (s *State) Params() types.RoundParams { return s.params }

// NumSignUps returns the number of registered keys, which is also the
// highest occupied state tree index.
func (s *State) NumSignUps() int { return s.numSignUps }

// StateRoot returns the state tree root.
func (s *State) StateRoot() *big.Int { return s.stateTree.Root() }

// ActiveRoot returns the active-state tree root.
func (s *State) ActiveRoot() *big.Int { return s.activeTree.Root() }

// DeactivateRoot returns the deactivate tree root.
func (s *State) DeactivateRoot() *big.Int { return s.deactTree.Root() }

// DeactivateSize returns the number of deactivate leaves appended so far.
func (s *State) DeactivateSize() int { return s.deactSize }

// SignUp registers a public key with the round's initial voice credit
// balance and returns its 1-based state index.
func (s *State) SignUp(pub *babyjub.PublicKey) (int, error) {
	leaf := NewSignUpLeaf(pub, new(big.Int).SetUint64(s.params.InitialVoiceCredits), s.params.VoteOptionTreeDepth)
	return s.appendLeaf(leaf)
}

// AppendLeaf inserts a fully formed leaf at the next free index. AddNewKey
// uses it to insert reactivated keys carrying rerandomized status
// ciphertexts.
func (s *State) AppendLeaf(leaf *StateLeaf) (int, error) {
	return s.appendLeaf(leaf.Copy())
}

func (s *State) appendLeaf(leaf *StateLeaf) (int, error) {
	index := s.numSignUps + 1
	if index >= s.stateTree.Capacity() {
		return 0, fmt.Errorf("signup %d of %d: %w", index, s.stateTree.Capacity(), ErrRoundFull)
	}
	h, err := leaf.Hash()
	if err != nil {
		return 0, err
	}
	if err := s.stateTree.UpdateLeaf(index, h); err != nil {
		return 0, err
	}
	vo, err := quintree.New(s.params.VoteOptionTreeDepth)
	if err != nil {
		return 0, err
	}
	s.leaves[index] = leaf
	s.voTrees[index] = vo
	s.numSignUps = index
	return index, nil
}

// LeafAt returns a copy of the leaf at the given index, the blank leaf for
// index 0 and unoccupied slots.
func (s *State) LeafAt(index int) *StateLeaf {
	if leaf, ok := s.leaves[index]; ok {
		return leaf.Copy()
	}
	return NewBlankLeaf(s.params.VoteOptionTreeDepth)
}

// SetLeafAt overwrites an occupied leaf and its tree hash.
func (s *State) SetLeafAt(index int, leaf *StateLeaf) error {
	if _, ok := s.leaves[index]; !ok {
		return fmt.Errorf("leaf %d not occupied: %w", index, quintree.ErrIndexOutOfRange)
	}
	h, err := leaf.Hash()
	if err != nil {
		return err
	}
	if err := s.stateTree.UpdateLeaf(index, h); err != nil {
		return err
	}
	s.leaves[index] = leaf.Copy()
	return nil
}

// TreeLeafValue returns the raw hash stored in the state tree at the given
// index, zero for unoccupied slots.
func (s *State) TreeLeafValue(index int) (*big.Int, error) {
	return s.stateTree.Leaf(index)
}

// StatePathElements returns the state tree inclusion path for an index.
func (s *State) StatePathElements(index int) ([][]*big.Int, error) {
	return s.stateTree.PathElements(index)
}

// VoRoot returns the vote-option tree root of a voter, the empty root for
// unoccupied indices.
func (s *State) VoRoot(index int) *big.Int {
	if vo, ok := s.voTrees[index]; ok {
		return vo.Root()
	}
	return quintree.Zero(s.params.VoteOptionTreeDepth)
}

// VoteWeight returns the current weight a voter has placed on an option,
// zero when unset or the voter is unoccupied.
func (s *State) VoteWeight(index, option int) (*big.Int, error) {
	vo, ok := s.voTrees[index]
	if !ok {
		return big.NewInt(0), nil
	}
	return vo.Leaf(option)
}

// VoPathElements returns the vote-option tree inclusion path of a voter
// for an option. For unoccupied voters it returns the empty tree's path.
func (s *State) VoPathElements(index, option int) ([][]*big.Int, error) {
	if vo, ok := s.voTrees[index]; ok {
		return vo.PathElements(option)
	}
	empty, err := quintree.New(s.params.VoteOptionTreeDepth)
	if err != nil {
		return nil, err
	}
	return empty.PathElements(option)
}

// SetVoteWeight writes a voter's weight for an option and refreshes the
// leaf's vote-option root. The caller is responsible for updating the rest
// of the leaf through SetLeafAt.
func (s *State) SetVoteWeight(index, option int, weight *big.Int) error {
	vo, ok := s.voTrees[index]
	if !ok {
		return fmt.Errorf("voter %d not occupied: %w", index, quintree.ErrIndexOutOfRange)
	}
	return vo.UpdateLeaf(option, weight)
}

// IsActiveMarked reports whether the active-state tree marks the index as
// deactivated.
func (s *State) IsActiveMarked(index int) (bool, error) {
	if index < 0 || index >= s.activeTree.Capacity() {
		return false, fmt.Errorf("active leaf %d: %w", index, quintree.ErrIndexOutOfRange)
	}
	leaf, err := s.activeTree.Leaf(index)
	if err != nil {
		return false, err
	}
	return leaf.Sign() != 0, nil
}

// MarkDeactivated sets the active-state tree mark for an index.
func (s *State) MarkDeactivated(index int) error {
	return s.activeTree.UpdateLeaf(index, big.NewInt(1))
}

// AppendDeactivateLeaf appends one odevity ciphertext leaf, bound to its
// request's shared key hash, to the deactivate tree and returns its index.
func (s *State) AppendDeactivateLeaf(ct *elgamal.Ciphertext, sharedKeyHash *big.Int) (int, error) {
	index := s.deactSize
	if index >= s.deactTree.Capacity() {
		return 0, fmt.Errorf("deactivate leaf %d of %d: %w", index, s.deactTree.Capacity(), ErrRoundFull)
	}
	h, err := DeactivateLeafHash(ct, sharedKeyHash)
	if err != nil {
		return 0, err
	}
	if err := s.deactTree.UpdateLeaf(index, h); err != nil {
		return 0, err
	}
	s.deactSize = index + 1
	return index, nil
}
