// Package quintree implements the arity-5 incremental Poseidon Merkle tree
// shared by the state, vote-option, active-state and deactivate trees. Node
// positions are plain indices (no key hashing) so that roots and inclusion
// paths match the arithmetic circuits node for node.
package quintree

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/iden3/go-iden3-crypto/poseidon"

	"github.com/vocdoni/amaci/types"
)

// LeavesPerNode is the tree arity.
const LeavesPerNode = types.TreeArity

// ErrIndexOutOfRange is returned when a leaf index does not fit the tree
// capacity. Callers treat it as a structural error, not message invalidity.
var ErrIndexOutOfRange = errors.New("leaf index out of range")

var (
	zerosMu sync.Mutex
	// zerosTable[l] is the root of an empty subtree of depth l, starting
	// from the zero leaf: zerosTable[0] = 0.
	zerosTable = []*big.Int{big.NewInt(0)}
)

// Zero returns the hash of an empty subtree of the given depth.
func Zero(depth int) *big.Int {
	if depth < 0 {
		panic(fmt.Sprintf("quintree: negative zero depth %d", depth))
	}
	zerosMu.Lock()
	defer zerosMu.Unlock()
	for len(zerosTable) <= depth {
		prev := zerosTable[len(zerosTable)-1]
		h, err := hashChildren([LeavesPerNode]*big.Int{prev, prev, prev, prev, prev})
		if err != nil {
			panic(fmt.Sprintf("quintree: zero table: %v", err))
		}
		zerosTable = append(zerosTable, h)
	}
	return new(big.Int).Set(zerosTable[depth])
}

// NumHashers returns the number of arity-5 Poseidon instances a full tree
// of the given depth contains, sum of 5^i for i < depth.
func NumHashers(depth int) int {
	n, pow := 0, 1
	for i := 0; i < depth; i++ {
		n += pow
		pow *= LeavesPerNode
	}
	return n
}

// ExtendRoot folds a subtree root upward to a larger depth, hashing it as
// the leftmost child with empty-subtree siblings at every extra level.
func ExtendRoot(root *big.Int, fromDepth, toDepth int) (*big.Int, error) {
	if fromDepth > toDepth {
		return nil, fmt.Errorf("cannot extend root from depth %d to %d", fromDepth, toDepth)
	}
	cur := new(big.Int).Set(root)
	for l := fromDepth; l < toDepth; l++ {
		z := Zero(l)
		h, err := hashChildren([LeavesPerNode]*big.Int{cur, z, z, z, z})
		if err != nil {
			return nil, err
		}
		cur = h
	}
	return cur, nil
}

// Tree is a sparse in-memory quinary Merkle tree. Unset nodes take the
// empty-subtree hash of their level. Not safe for concurrent writers.
type Tree struct {
	depth int
	// nodes[l] maps node index to value at level l; level 0 holds leaves
	// and level depth holds the root.
	nodes    []map[int]*big.Int
	capacity int
	size     int
}

// New builds a tree of the given depth, optionally filling the first
// leaves in order.
func New(depth int, leaves ...*big.Int) (*Tree, error) {
	if depth < 1 || depth > types.MaxTreeDepth {
		return nil, fmt.Errorf("tree depth %d outside [1, %d]", depth, types.MaxTreeDepth)
	}
	capacity := 1
	for i := 0; i < depth; i++ {
		capacity *= LeavesPerNode
	}
	if len(leaves) > capacity {
		return nil, fmt.Errorf("%d leaves exceed capacity %d: %w", len(leaves), capacity, ErrIndexOutOfRange)
	}
	t := &Tree{
		depth:    depth,
		nodes:    make([]map[int]*big.Int, depth+1),
		capacity: capacity,
	}
	for l := range t.nodes {
		t.nodes[l] = make(map[int]*big.Int)
	}
	for i, leaf := range leaves {
		if err := t.UpdateLeaf(i, leaf); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Depth returns the number of levels below the root.
func (t *Tree) Depth() int { return t.depth }

// Capacity returns the maximum number of leaves, 5^depth.
func (t *Tree) Capacity() int { return t.capacity }

// Size returns the number of occupied leaf slots, the highest updated
// index plus one.
func (t *Tree) Size() int { return t.size }

// Root returns the current root hash.
func (t *Tree) Root() *big.Int {
	return new(big.Int).Set(t.node(t.depth, 0))
}

// Leaf returns the value at the given index, the zero leaf when unset.
func (t *Tree) Leaf(index int) (*big.Int, error) {
	if index < 0 || index >= t.capacity {
		return nil, fmt.Errorf("leaf %d of %d: %w", index, t.capacity, ErrIndexOutOfRange)
	}
	return new(big.Int).Set(t.node(0, index)), nil
}

// UpdateLeaf sets the leaf at index and recomputes the path to the root.
func (t *Tree) UpdateLeaf(index int, value *big.Int) error {
	if index < 0 || index >= t.capacity {
		return fmt.Errorf("leaf %d of %d: %w", index, t.capacity, ErrIndexOutOfRange)
	}
	if value == nil {
		return fmt.Errorf("nil value for leaf %d", index)
	}
	t.nodes[0][index] = new(big.Int).Set(value)
	if index >= t.size {
		t.size = index + 1
	}
	idx := index
	for l := 0; l < t.depth; l++ {
		parent := idx / LeavesPerNode
		var children [LeavesPerNode]*big.Int
		for j := 0; j < LeavesPerNode; j++ {
			children[j] = t.node(l, parent*LeavesPerNode+j)
		}
		h, err := hashChildren(children)
		if err != nil {
			return fmt.Errorf("recompute level %d: %w", l+1, err)
		}
		t.nodes[l+1][parent] = h
		idx = parent
	}
	return nil
}

// PathElements returns the inclusion path for a leaf: depth rows of the
// four sibling nodes at each level, ordered by child position with the
// leaf's own slot skipped.
func (t *Tree) PathElements(index int) ([][]*big.Int, error) {
	if index < 0 || index >= t.capacity {
		return nil, fmt.Errorf("leaf %d of %d: %w", index, t.capacity, ErrIndexOutOfRange)
	}
	path := make([][]*big.Int, t.depth)
	idx := index
	for l := 0; l < t.depth; l++ {
		pos := idx % LeavesPerNode
		parent := idx / LeavesPerNode
		row := make([]*big.Int, 0, LeavesPerNode-1)
		for j := 0; j < LeavesPerNode; j++ {
			if j == pos {
				continue
			}
			row = append(row, new(big.Int).Set(t.node(l, parent*LeavesPerNode+j)))
		}
		path[l] = row
		idx = parent
	}
	return path, nil
}

// PathIndex returns the base-5 digits of the leaf index, least significant
// first, one digit per level.
func (t *Tree) PathIndex(index int) []int {
	digits := make([]int, t.depth)
	for l := 0; l < t.depth; l++ {
		digits[l] = index % LeavesPerNode
		index /= LeavesPerNode
	}
	return digits
}

// RootFromPath recomputes the root a tree would have with the given value
// at the given leaf index, walking the sibling rows upward. It lets a
// caller evaluate a hypothetical update without mutating the tree.
func RootFromPath(leaf *big.Int, index int, pathElements [][]*big.Int) (*big.Int, error) {
	cur := new(big.Int).Set(leaf)
	idx := index
	for l, row := range pathElements {
		if len(row) != LeavesPerNode-1 {
			return nil, fmt.Errorf("path level %d has %d siblings, want %d", l, len(row), LeavesPerNode-1)
		}
		pos := idx % LeavesPerNode
		var children [LeavesPerNode]*big.Int
		s := 0
		for j := 0; j < LeavesPerNode; j++ {
			if j == pos {
				children[j] = cur
				continue
			}
			children[j] = row[s]
			s++
		}
		h, err := hashChildren(children)
		if err != nil {
			return nil, err
		}
		cur = h
		idx /= LeavesPerNode
	}
	return cur, nil
}

// VerifyInclusion recomputes the root from a leaf and its path elements
// and compares it with the expected root.
func VerifyInclusion(root, leaf *big.Int, index int, pathElements [][]*big.Int) (bool, error) {
	got, err := RootFromPath(leaf, index, pathElements)
	if err != nil {
		return false, err
	}
	return got.Cmp(root) == 0, nil
}

func (t *Tree) node(level, index int) *big.Int {
	if v, ok := t.nodes[level][index]; ok {
		return v
	}
	return Zero(level)
}

func hashChildren(children [LeavesPerNode]*big.Int) (*big.Int, error) {
	return poseidon.Hash(children[:])
}
