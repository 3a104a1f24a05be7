package elgamal

import (
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"

	"github.com/vocdoni/amaci/crypto/ecc"
)

// odevityRandDomain separates the encryption randomness derived from a salt
// from the salt's use as point-search origin.
var odevityRandDomain = big.NewInt(2)

// EncryptOdevity encodes a validity bit as the x-coordinate parity of a
// curve point and ElGamal-encrypts it under the coordinator key: even means
// a valid (active) entry, odd an invalid one. The point is found by scalar
// walking upward from salt*G until the parity matches, and the encryption
// randomness is derived from the same salt, so the whole ciphertext is
// deterministic given (isOdd, publicKey, salt).
func EncryptOdevity(publicKey ecc.Point, isOdd bool, salt *big.Int) (*Ciphertext, error) {
	if salt == nil || salt.Sign() == 0 {
		return nil, fmt.Errorf("odevity salt must be a non-zero scalar")
	}
	order := publicKey.Order()
	s := new(big.Int).Mod(salt, order)
	if s.Sign() == 0 {
		s.SetInt64(1)
	}
	m := publicKey.New()
	m.ScalarBaseMult(s)
	g := publicKey.New()
	g.SetGenerator()

	want := uint(0)
	if isOdd {
		want = 1
	}
	for {
		x, _ := m.Point()
		if x.Bit(0) == want {
			break
		}
		m.Add(m, g)
	}

	k, err := poseidon.Hash([]*big.Int{salt, odevityRandDomain})
	if err != nil {
		return nil, err
	}
	k.Mod(k, order)
	if k.Sign() == 0 {
		k.SetInt64(1)
	}
	return EncryptPointWithK(publicKey, m, k)
}

// DecryptOdevity recovers the parity bit of a ciphertext produced by
// EncryptOdevity (or any rerandomization of it): true means odd (invalid).
// The identity ciphertext of a fresh state leaf decrypts to the identity
// point (0, 1), whose x-coordinate is even, so untouched leaves read valid.
func DecryptOdevity(privateKey *big.Int, ct *Ciphertext) bool {
	m := DecryptPoint(privateKey, ct)
	x, _ := m.Point()
	return x.Bit(0) == 1
}
