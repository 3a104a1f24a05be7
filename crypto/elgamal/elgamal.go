// Package elgamal implements point ElGamal over the protocol curve: the
// anonymity fields (d1, d2) of a state leaf are ElGamal ciphertexts of curve
// points whose x-coordinate parity encodes key-activation status, and
// reactivation relies on ciphertext rerandomization being unlinkable.
package elgamal

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/vocdoni/arbo"

	"github.com/vocdoni/amaci/crypto/ecc"
)

// RandK function generates a random k value for encryption.
func RandK() (*big.Int, error) {
	kBytes := make([]byte, 20)
	_, err := rand.Read(kBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate random k: %v", err)
	}
	k := new(big.Int).SetBytes(kBytes)
	return arbo.BigToFF(arbo.BN254BaseField, k), nil
}

// GenerateKey generates a new public/private ElGamal encryption key pair.
func GenerateKey(curve ecc.Point) (publicKey ecc.Point, privateKey *big.Int, err error) {
	order := curve.Order()
	d, err := rand.Int(rand.Reader, order)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate private key scalar: %v", err)
	}
	if d.Sign() == 0 {
		d = big.NewInt(1) // avoid zero private keys
	}
	publicKey = curve.New()
	publicKey.SetGenerator()
	publicKey.ScalarMult(publicKey, d)
	return publicKey, d, nil
}

// EncryptPoint encrypts the curve point m under the public key with fresh
// randomness, returning the ciphertext and the randomness used.
func EncryptPoint(publicKey ecc.Point, m ecc.Point) (*Ciphertext, *big.Int, error) {
	k, err := RandK()
	if err != nil {
		return nil, nil, err
	}
	ct, err := EncryptPointWithK(publicKey, m, k)
	if err != nil {
		return nil, nil, err
	}
	return ct, k, nil
}

// EncryptPointWithK encrypts the curve point m under the public key using
// the provided randomness: c1 = k*G, c2 = m + k*pub.
func EncryptPointWithK(publicKey ecc.Point, m ecc.Point, k *big.Int) (*Ciphertext, error) {
	if k == nil || k.Sign() == 0 {
		return nil, fmt.Errorf("encryption randomness must be a non-zero scalar")
	}
	c1 := publicKey.New()
	c1.ScalarBaseMult(k)
	s := publicKey.New()
	s.ScalarMult(publicKey, k)
	c2 := publicKey.New()
	c2.Add(m, s)
	return &Ciphertext{C1: c1, C2: c2}, nil
}

// DecryptPoint recovers the plaintext point m = c2 - d*c1.
func DecryptPoint(privateKey *big.Int, ct *Ciphertext) ecc.Point {
	dC1 := ct.C1.New()
	dC1.ScalarMult(ct.C1, privateKey)
	dC1.Neg(dC1)

	m := ct.C2.New()
	m.Set(ct.C2)
	m.Add(m, dC1)
	return m
}

// Rerandomize transforms a ciphertext into an unlinkable one that decrypts
// to the same plaintext: (c1 + r*G, c2 + r*pub). The fresh randomness r must
// be non-zero, otherwise the output would equal the input.
func Rerandomize(publicKey ecc.Point, ct *Ciphertext, r *big.Int) (*Ciphertext, error) {
	if r == nil || r.Sign() == 0 {
		return nil, fmt.Errorf("rerandomization randomness must be a non-zero scalar")
	}
	rG := publicKey.New()
	rG.ScalarBaseMult(r)
	d1 := publicKey.New()
	d1.Add(ct.C1, rG)

	rPub := publicKey.New()
	rPub.ScalarMult(publicKey, r)
	d2 := publicKey.New()
	d2.Add(ct.C2, rPub)
	return &Ciphertext{C1: d1, C2: d2}, nil
}
