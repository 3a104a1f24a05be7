package util

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// RandomBytes generates a random byte slice of length n.
func RandomBytes(n int) []byte {
	b := make([]byte, n)
	_, err := rand.Read(b)
	if err != nil {
		panic(err)
	}
	return b
}

// RandomHex generates a random hex string of length n.
func RandomHex(n int) string {
	return fmt.Sprintf("%x", RandomBytes(n))
}

// RandomInt generates a random integer between min and max.
func RandomInt(min, max int) int {
	num, err := rand.Int(rand.Reader, big.NewInt(int64(max-min)))
	if err != nil {
		panic(err)
	}
	return int(num.Int64()) + min
}

// TrimHex trims the '0x' prefix from a hex string.
func TrimHex(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// bn254ScalarField is the scalar field of the BN254 curve, which is also the
// base field of the embedded twisted Edwards curve. Every field element used
// by the protocol lives here.
var bn254ScalarField, _ = new(big.Int).SetString("21888242871839275222246405745257275088548364400416034343698204186575808495617", 10)

// RandomFieldElement returns a uniformly random element of the BN254 scalar
// field.
func RandomFieldElement() *big.Int {
	num, err := rand.Int(rand.Reader, bn254ScalarField)
	if err != nil {
		panic(err)
	}
	return num
}

// RandomScalarBits returns a random integer of at most n bits. It is used
// for bounded salts, such as the 56-bit salt window of a packed command.
func RandomScalarBits(n int) *big.Int {
	max := new(big.Int).Lsh(big.NewInt(1), uint(n))
	num, err := rand.Int(rand.Reader, max)
	if err != nil {
		panic(err)
	}
	return num
}

// BigToFF function returns the finite field representation of the big.Int
// provided. It uses Euclidean Modulus and the BN254 curve scalar field to
// represent the provided number.
func BigToFF(iv *big.Int) *big.Int {
	z := big.NewInt(0)
	if c := iv.Cmp(bn254ScalarField); c == 0 {
		return z
	} else if c != 1 && iv.Cmp(z) != -1 {
		return iv
	}
	return z.Mod(iv, bn254ScalarField)
}
