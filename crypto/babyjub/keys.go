// Package babyjub wraps the iden3 BabyJubJub EdDSA implementation with the
// key, signature and ECDH operations the protocol needs. Public keys and
// signatures are handled as raw field coordinates so that unverifiable
// material (a blank state leaf, a forged message) flows through validation
// instead of failing construction.
package babyjub

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/babyjub"
	"github.com/iden3/go-iden3-crypto/poseidon"

	"github.com/vocdoni/amaci/types"
)

// PrivateKey is an EdDSA private key over BabyJubJub.
type PrivateKey struct {
	inner babyjub.PrivateKey
}

// NewRandomKey generates a new random private key.
func NewRandomKey() *PrivateKey {
	return &PrivateKey{inner: babyjub.NewRandPrivKey()}
}

// KeyFromSeed derives a private key from up to 32 seed bytes. The same seed
// always yields the same key; shorter seeds are zero padded.
func KeyFromSeed(seed []byte) (*PrivateKey, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("seed cannot be empty")
	}
	if len(seed) > 32 {
		return nil, fmt.Errorf("seed too long: %d bytes", len(seed))
	}
	var raw [32]byte
	copy(raw[:], seed)
	return &PrivateKey{inner: babyjub.PrivateKey(raw)}, nil
}

// Seed returns the raw 32 key bytes. KeyFromSeed rebuilds the same key
// from them.
func (k *PrivateKey) Seed() []byte {
	seed := make([]byte, len(k.inner))
	copy(seed, k.inner[:])
	return seed
}

// Public returns the public key point.
func (k *PrivateKey) Public() *PublicKey {
	pub := k.inner.Public()
	return &PublicKey{
		X: new(big.Int).Set(pub.X),
		Y: new(big.Int).Set(pub.Y),
	}
}

// Scalar returns the derived private scalar, the value the proving layer
// sees. ECDH and nullifiers are defined over it.
func (k *PrivateKey) Scalar() *big.Int {
	return k.inner.Scalar().BigInt()
}

// SignDigest produces an EdDSA-Poseidon signature over a field element.
func (k *PrivateKey) SignDigest(digest *big.Int) *Signature {
	sig := k.inner.SignPoseidon(digest)
	return &Signature{
		R8X: new(big.Int).Set(sig.R8.X),
		R8Y: new(big.Int).Set(sig.R8.Y),
		S:   new(big.Int).Set(sig.S),
	}
}

// SharedPoint computes the ECDH shared point between this key and a public
// key: scalar * pub.
func (k *PrivateKey) SharedPoint(pub *PublicKey) (*big.Int, *big.Int) {
	p := babyjub.NewPoint().Mul(k.Scalar(), &babyjub.Point{X: pub.X, Y: pub.Y})
	return p.X, p.Y
}

// Nullifier derives the one-time deactivation nullifier bound to this key:
// Poseidon2(scalar, NullifierDomain). Reusing the key to mint a second state
// leaf reproduces the same nullifier and is rejected.
func (k *PrivateKey) Nullifier() *big.Int {
	n, err := poseidon.Hash([]*big.Int{k.Scalar(), types.NullifierDomain})
	if err != nil {
		panic(err)
	}
	return n
}

// PublicKey is a BabyJubJub point in TwistedEdwards coordinates. The zero
// value (0, 0) is the blank key: it is not on the curve and verifies no
// signature.
type PublicKey struct {
	X *big.Int
	Y *big.Int
}

// NewBlankKey returns the (0, 0) public key used by blank state leaves.
func NewBlankKey() *PublicKey {
	return &PublicKey{X: big.NewInt(0), Y: big.NewInt(0)}
}

// Verify checks an EdDSA-Poseidon signature over digest. Besides the curve
// equation check it enforces S < SubOrder: without the bound, S and
// S+SubOrder would be two encodings of the same signature.
func (p *PublicKey) Verify(digest *big.Int, sig *Signature) bool {
	if p == nil || sig == nil || !sig.wellFormed() {
		return false
	}
	if sig.S.Cmp(babyjub.SubOrder) >= 0 {
		return false
	}
	pub := babyjub.PublicKey{X: p.X, Y: p.Y}
	if !pub.Point().InCurve() {
		return false
	}
	return pub.VerifyPoseidon(digest, &babyjub.Signature{
		R8: &babyjub.Point{X: sig.R8X, Y: sig.R8Y},
		S:  sig.S,
	})
}

// Equal reports whether both keys hold the same coordinates.
func (p *PublicKey) Equal(other *PublicKey) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.X.Cmp(other.X) == 0 && p.Y.Cmp(other.Y) == 0
}

// Signature is an EdDSA signature as its three field components.
type Signature struct {
	R8X *big.Int
	R8Y *big.Int
	S   *big.Int
}

func (s *Signature) wellFormed() bool {
	return s.R8X != nil && s.R8Y != nil && s.S != nil
}

// RandomScalar returns a uniformly random scalar below the BabyJubJub
// subgroup order, suitable as ElGamal or rerandomization randomness.
func RandomScalar() (*big.Int, error) {
	k, err := rand.Int(rand.Reader, babyjub.SubOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to generate random scalar: %w", err)
	}
	return k, nil
}

// SubOrder is the order of the BabyJubJub prime subgroup.
func SubOrder() *big.Int {
	return new(big.Int).Set(babyjub.SubOrder)
}
