// Package secies implements the command cipher: an ECIES variant over
// BabyJubJub where the shared point feeds a Poseidon keystream and a
// Poseidon tag authenticates the ciphertext. The voter encrypts with a
// fresh ephemeral key against the coordinator public key; the coordinator
// recovers the shared point via ECDH with the message's ephemeral public
// key. Staying inside Poseidon keeps the whole construction provable by the
// arithmetic circuits that re-derive it.
package secies

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"

	"github.com/vocdoni/amaci/crypto/babyjub"
	"github.com/vocdoni/amaci/types"
)

// PlaintextLen is the number of field elements in a command plaintext.
const PlaintextLen = types.CommandFields

// CiphertextLen is PlaintextLen plus the authentication tag.
const CiphertextLen = types.MessageFields

// ErrMACMismatch is returned when a ciphertext fails authentication. It is
// an expected condition for garbage or padded messages and must be treated
// as message invalidity, never as a fatal error.
var ErrMACMismatch = errors.New("ciphertext authentication tag mismatch")

// Encrypt seals the plaintext command fields under the coordinator public
// key using the given ephemeral private key. The returned vector holds the
// masked fields followed by the authentication tag.
func Encrypt(plain [PlaintextLen]*big.Int, coordinatorPub *babyjub.PublicKey, ephemeral *babyjub.PrivateKey) ([CiphertextLen]*big.Int, error) {
	var out [CiphertextLen]*big.Int
	kx, ky := ephemeral.SharedPoint(coordinatorPub)
	for i := 0; i < PlaintextLen; i++ {
		if plain[i] == nil {
			return out, fmt.Errorf("plaintext field %d is nil", i)
		}
		ks, err := keystreamAt(kx, ky, i)
		if err != nil {
			return out, err
		}
		c := new(big.Int).Add(plain[i], ks)
		out[i] = c.Mod(c, types.FieldPrime)
	}
	tag, err := authTag(kx, ky, out)
	if err != nil {
		return out, err
	}
	out[PlaintextLen] = tag
	return out, nil
}

// Decrypt opens a ciphertext with the ECDH shared point coordinates. It
// returns ErrMACMismatch when the tag does not authenticate the masked
// fields under that shared point.
func Decrypt(cipher [CiphertextLen]*big.Int, kx, ky *big.Int) ([PlaintextLen]*big.Int, error) {
	var out [PlaintextLen]*big.Int
	for i := range cipher {
		if cipher[i] == nil {
			return out, fmt.Errorf("ciphertext field %d is nil", i)
		}
	}
	tag, err := authTag(kx, ky, cipher)
	if err != nil {
		return out, err
	}
	if tag.Cmp(cipher[PlaintextLen]) != 0 {
		return out, ErrMACMismatch
	}
	for i := 0; i < PlaintextLen; i++ {
		ks, err := keystreamAt(kx, ky, i)
		if err != nil {
			return out, err
		}
		m := new(big.Int).Sub(cipher[i], ks)
		out[i] = m.Mod(m, types.FieldPrime)
	}
	return out, nil
}

// SharedKeyHash binds an ECDH shared point into a single field element,
// Poseidon2(kx, ky). Deactivate leaves carry it so the reactivation circuit
// can prove knowledge of the same shared point.
func SharedKeyHash(kx, ky *big.Int) (*big.Int, error) {
	return poseidon.Hash([]*big.Int{kx, ky})
}

func keystreamAt(kx, ky *big.Int, i int) (*big.Int, error) {
	return poseidon.Hash([]*big.Int{kx, ky, big.NewInt(int64(i))})
}

// authTag hashes the shared point and the masked fields into the trailing
// tag element: Poseidon(kx, ky, c0..c5).
func authTag(kx, ky *big.Int, cipher [CiphertextLen]*big.Int) (*big.Int, error) {
	inputs := make([]*big.Int, 0, PlaintextLen+2)
	inputs = append(inputs, kx, ky)
	inputs = append(inputs, cipher[:PlaintextLen]...)
	return poseidon.Hash(inputs)
}
