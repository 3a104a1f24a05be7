package state

import (
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"

	"github.com/vocdoni/amaci/crypto/babyjub"
	"github.com/vocdoni/amaci/crypto/ecc"
	"github.com/vocdoni/amaci/crypto/ecc/curves"
	"github.com/vocdoni/amaci/crypto/elgamal"
	"github.com/vocdoni/amaci/quintree"
)

// StateLeaf is one slot of the state tree: the voter's current key, voice
// credit balance, vote-option tree root and nonce, plus the anonymity
// fields carried from key deactivation.
type StateLeaf struct {
	PubKey     *babyjub.PublicKey
	Balance    *big.Int
	VoTreeRoot *big.Int
	Nonce      *big.Int
	// Status holds the ElGamal encryption of the leaf's activation bit.
	// Even X parity of the plaintext point means the key is usable; the
	// all-identity ciphertext of a fresh signup decrypts to (0,1), even.
	Status     *elgamal.Ciphertext
	XIncrement *big.Int
}

// NewBlankLeaf returns the leaf synthesized for unoccupied slots. Its
// blank public key verifies no signature, so messages aimed at it are
// always invalid.
func NewBlankLeaf(voTreeDepth int) *StateLeaf {
	return &StateLeaf{
		PubKey:     babyjub.NewBlankKey(),
		Balance:    big.NewInt(0),
		VoTreeRoot: quintree.Zero(voTreeDepth),
		Nonce:      big.NewInt(0),
		Status:     elgamal.NewCiphertext(statusCurve()),
		XIncrement: big.NewInt(0),
	}
}

// NewSignUpLeaf returns a fresh voter leaf with the identity status
// ciphertext, which reads as an active key.
func NewSignUpLeaf(pub *babyjub.PublicKey, balance *big.Int, voTreeDepth int) *StateLeaf {
	return &StateLeaf{
		PubKey:     &babyjub.PublicKey{X: new(big.Int).Set(pub.X), Y: new(big.Int).Set(pub.Y)},
		Balance:    new(big.Int).Set(balance),
		VoTreeRoot: quintree.Zero(voTreeDepth),
		Nonce:      big.NewInt(0),
		Status:     elgamal.NewCiphertext(statusCurve()),
		XIncrement: big.NewInt(0),
	}
}

// Copy returns a deep copy of the leaf.
func (l *StateLeaf) Copy() *StateLeaf {
	status := elgamal.NewCiphertext(statusCurve())
	status.C1.Set(l.Status.C1)
	status.C2.Set(l.Status.C2)
	return &StateLeaf{
		PubKey:     &babyjub.PublicKey{X: new(big.Int).Set(l.PubKey.X), Y: new(big.Int).Set(l.PubKey.Y)},
		Balance:    new(big.Int).Set(l.Balance),
		VoTreeRoot: new(big.Int).Set(l.VoTreeRoot),
		Nonce:      new(big.Int).Set(l.Nonce),
		Status:     status,
		XIncrement: new(big.Int).Set(l.XIncrement),
	}
}

// Fields flattens the leaf into its ten field elements in hash order:
// pubkey, balance, vote-option root, nonce, status ciphertext, xIncrement.
func (l *StateLeaf) Fields() []*big.Int {
	c1x, c1y, c2x, c2y := l.Status.Coords()
	return []*big.Int{
		l.PubKey.X, l.PubKey.Y, l.Balance, l.VoTreeRoot, l.Nonce,
		c1x, c1y, c2x, c2y, l.XIncrement,
	}
}

// AttrsHash hashes the voting attributes,
// Poseidon5(x, y, balance, voRoot, nonce).
func (l *StateLeaf) AttrsHash() (*big.Int, error) {
	return poseidon.Hash([]*big.Int{l.PubKey.X, l.PubKey.Y, l.Balance, l.VoTreeRoot, l.Nonce})
}

// Hash folds the voting attributes and the anonymity fields into the tree
// leaf value, Poseidon2(AttrsHash, Poseidon5(c1x, c1y, c2x, c2y, xIncrement)).
func (l *StateLeaf) Hash() (*big.Int, error) {
	attrs, err := l.AttrsHash()
	if err != nil {
		return nil, fmt.Errorf("state leaf attrs hash: %w", err)
	}
	c1x, c1y, c2x, c2y := l.Status.Coords()
	anon, err := poseidon.Hash([]*big.Int{c1x, c1y, c2x, c2y, l.XIncrement})
	if err != nil {
		return nil, fmt.Errorf("state leaf anon hash: %w", err)
	}
	return poseidon.Hash([]*big.Int{attrs, anon})
}

// DeactivateLeafHash computes the deactivate tree leaf for an odevity
// ciphertext bound to the request's ECDH shared key,
// Poseidon5(c1x, c1y, c2x, c2y, sharedKeyHash).
func DeactivateLeafHash(ct *elgamal.Ciphertext, sharedKeyHash *big.Int) (*big.Int, error) {
	c1x, c1y, c2x, c2y := ct.Coords()
	return poseidon.Hash([]*big.Int{c1x, c1y, c2x, c2y, sharedKeyHash})
}

func statusCurve() ecc.Point {
	return curves.New(curves.CurveTypeBabyJubJub)
}
