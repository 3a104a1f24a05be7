package quintree

import (
	"errors"
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/iden3/go-iden3-crypto/poseidon"
)

func TestZeroTable(t *testing.T) {
	c := qt.New(t)

	c.Assert(Zero(0).Sign(), qt.Equals, 0)
	for d := 0; d < 6; d++ {
		z := Zero(d)
		want, err := poseidon.Hash([]*big.Int{z, z, z, z, z})
		c.Assert(err, qt.IsNil)
		c.Assert(Zero(d+1).Cmp(want), qt.Equals, 0)
	}
}

func TestNumHashers(t *testing.T) {
	c := qt.New(t)

	c.Assert(NumHashers(1), qt.Equals, 1)
	c.Assert(NumHashers(2), qt.Equals, 6)
	c.Assert(NumHashers(3), qt.Equals, 31)
	c.Assert(NumHashers(4), qt.Equals, 156)
}

func TestEmptyTreeRoot(t *testing.T) {
	c := qt.New(t)

	for d := 1; d <= 4; d++ {
		tree, err := New(d)
		c.Assert(err, qt.IsNil)
		c.Assert(tree.Root().Cmp(Zero(d)), qt.Equals, 0)
		c.Assert(tree.Size(), qt.Equals, 0)
		c.Assert(tree.Capacity(), qt.Equals, pow5(d))
	}
}

func TestRootDeterministic(t *testing.T) {
	c := qt.New(t)

	leaves := []*big.Int{big.NewInt(7), big.NewInt(11), big.NewInt(13)}
	a, err := New(2, leaves...)
	c.Assert(err, qt.IsNil)

	b, err := New(2)
	c.Assert(err, qt.IsNil)
	for i, leaf := range leaves {
		c.Assert(b.UpdateLeaf(i, leaf), qt.IsNil)
	}
	c.Assert(a.Root().Cmp(b.Root()), qt.Equals, 0)
}

func TestInclusionProofs(t *testing.T) {
	c := qt.New(t)

	tree, err := New(2)
	c.Assert(err, qt.IsNil)
	for i := 0; i < tree.Capacity(); i++ {
		c.Assert(tree.UpdateLeaf(i, big.NewInt(int64(100+i))), qt.IsNil)
	}

	root := tree.Root()
	for i := 0; i < tree.Capacity(); i++ {
		leaf, err := tree.Leaf(i)
		c.Assert(err, qt.IsNil)
		path, err := tree.PathElements(i)
		c.Assert(err, qt.IsNil)
		ok, err := VerifyInclusion(root, leaf, i, path)
		c.Assert(err, qt.IsNil)
		c.Assert(ok, qt.IsTrue, qt.Commentf("leaf %d", i))

		wrong := new(big.Int).Add(leaf, big.NewInt(1))
		ok, err = VerifyInclusion(root, wrong, i, path)
		c.Assert(err, qt.IsNil)
		c.Assert(ok, qt.IsFalse)
	}
}

func TestUpdateKeepsOtherProofsValid(t *testing.T) {
	c := qt.New(t)

	tree, err := New(3)
	c.Assert(err, qt.IsNil)
	for i := 0; i < 20; i++ {
		c.Assert(tree.UpdateLeaf(i, big.NewInt(int64(i+1))), qt.IsNil)
	}

	c.Assert(tree.UpdateLeaf(7, big.NewInt(999)), qt.IsNil)
	root := tree.Root()
	for i := 0; i < 20; i++ {
		leaf, err := tree.Leaf(i)
		c.Assert(err, qt.IsNil)
		path, err := tree.PathElements(i)
		c.Assert(err, qt.IsNil)
		ok, err := VerifyInclusion(root, leaf, i, path)
		c.Assert(err, qt.IsNil)
		c.Assert(ok, qt.IsTrue, qt.Commentf("leaf %d", i))
	}
	got, err := tree.Leaf(7)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Int64(), qt.Equals, int64(999))
}

func TestPathIndex(t *testing.T) {
	c := qt.New(t)

	tree, err := New(3)
	c.Assert(err, qt.IsNil)
	// 38 = 3 + 2*5 + 1*25
	c.Assert(tree.PathIndex(38), qt.DeepEquals, []int{3, 2, 1})
	c.Assert(tree.PathIndex(0), qt.DeepEquals, []int{0, 0, 0})
	c.Assert(tree.PathIndex(124), qt.DeepEquals, []int{4, 4, 4})
}

func TestExtendRoot(t *testing.T) {
	c := qt.New(t)

	leaves := make([]*big.Int, 9)
	for i := range leaves {
		leaves[i] = big.NewInt(int64(i + 50))
	}

	small, err := New(2, leaves...)
	c.Assert(err, qt.IsNil)
	large, err := New(4, leaves...)
	c.Assert(err, qt.IsNil)

	extended, err := ExtendRoot(small.Root(), 2, 4)
	c.Assert(err, qt.IsNil)
	c.Assert(extended.Cmp(large.Root()), qt.Equals, 0)

	same, err := ExtendRoot(small.Root(), 2, 2)
	c.Assert(err, qt.IsNil)
	c.Assert(same.Cmp(small.Root()), qt.Equals, 0)

	_, err = ExtendRoot(small.Root(), 3, 2)
	c.Assert(err, qt.IsNotNil)
}

func TestIndexOutOfRange(t *testing.T) {
	c := qt.New(t)

	tree, err := New(1)
	c.Assert(err, qt.IsNil)

	c.Assert(errors.Is(tree.UpdateLeaf(5, big.NewInt(1)), ErrIndexOutOfRange), qt.IsTrue)
	c.Assert(errors.Is(tree.UpdateLeaf(-1, big.NewInt(1)), ErrIndexOutOfRange), qt.IsTrue)
	_, err = tree.Leaf(5)
	c.Assert(errors.Is(err, ErrIndexOutOfRange), qt.IsTrue)
	_, err = tree.PathElements(5)
	c.Assert(errors.Is(err, ErrIndexOutOfRange), qt.IsTrue)

	_, err = New(1, big.NewInt(1), big.NewInt(2), big.NewInt(3), big.NewInt(4), big.NewInt(5), big.NewInt(6))
	c.Assert(errors.Is(err, ErrIndexOutOfRange), qt.IsTrue)
}

func pow5(d int) int {
	n := 1
	for i := 0; i < d; i++ {
		n *= 5
	}
	return n
}
