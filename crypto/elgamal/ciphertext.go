package elgamal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/vocdoni/arbo"

	"github.com/vocdoni/amaci/crypto/ecc"
	"github.com/vocdoni/amaci/crypto/ecc/format"
)

// sizes in bytes needed to serialize a Ciphertext
const (
	sizeCoord      = 32
	sizePoint      = 2 * sizeCoord
	SizeCiphertext = 2 * sizePoint
)

// Ciphertext encapsulates the two points of an ElGamal ciphertext.
type Ciphertext struct {
	C1 ecc.Point `json:"c1"`
	C2 ecc.Point `json:"c2"`
}

// NewCiphertext creates a Ciphertext on the same curve as the given point,
// holding the encryption of the identity with zero randomness: both points
// set to (0, 1). Fresh state leaves carry exactly this value, which decrypts
// to the identity and therefore reads as even parity (active).
func NewCiphertext(curve ecc.Point) *Ciphertext {
	c1 := curve.New()
	c1.SetZero()
	c2 := curve.New()
	c2.SetZero()
	return &Ciphertext{C1: c1, C2: c2}
}

// Coords returns the four TwistedEdwards coordinates (c1x, c1y, c2x, c2y),
// the order in which the ciphertext enters Poseidon hashes.
func (z *Ciphertext) Coords() (*big.Int, *big.Int, *big.Int, *big.Int) {
	c1x, c1y := z.C1.Point()
	c2x, c2y := z.C2.Point()
	return c1x, c1y, c2x, c2y
}

// Serialize returns a slice of len 4*32 bytes, representing the C1.X, C1.Y,
// C2.X, C2.Y as little-endian, in reduced twisted edwards form.
func (z *Ciphertext) Serialize() []byte {
	var buf bytes.Buffer
	c1x, c1y := format.FromTEtoRTE(z.C1.Point())
	c2x, c2y := format.FromTEtoRTE(z.C2.Point())
	for _, bi := range []*big.Int{c1x, c1y, c2x, c2y} {
		buf.Write(arbo.BigIntToBytes(sizeCoord, bi))
	}
	return buf.Bytes()
}

// Deserialize reconstructs a Ciphertext from a slice of bytes. The input
// must be of len 4*32 bytes (otherwise it returns an error), representing
// the C1.X, C1.Y, C2.X, C2.Y as little-endian, in reduced twisted edwards
// form. The receiver's points must already be on the target curve, as
// returned by NewCiphertext.
func (z *Ciphertext) Deserialize(data []byte) error {
	if len(data) != SizeCiphertext {
		return fmt.Errorf("invalid input length: got %d bytes, expected %d bytes", len(data), SizeCiphertext)
	}
	readBigInt := func(offset int) *big.Int {
		return arbo.BytesToBigInt(data[offset : offset+sizeCoord])
	}
	z.C1 = z.C1.SetPoint(format.FromRTEtoTE(
		readBigInt(0*sizeCoord),
		readBigInt(1*sizeCoord),
	))
	z.C2 = z.C2.SetPoint(format.FromRTEtoTE(
		readBigInt(2*sizeCoord),
		readBigInt(3*sizeCoord),
	))
	return nil
}

// Marshal converts Ciphertext to a byte slice.
func (z *Ciphertext) Marshal() ([]byte, error) {
	return json.Marshal(z)
}

// Unmarshal populates Ciphertext from a byte slice.
func (z *Ciphertext) Unmarshal(data []byte) error {
	return json.Unmarshal(data, z)
}

// String returns a string representation of the Ciphertext.
func (z *Ciphertext) String() string {
	if z == nil || z.C1 == nil || z.C2 == nil {
		return "{C1: nil, C2: nil}"
	}
	return fmt.Sprintf("{C1: %s, C2: %s}", z.C1.String(), z.C2.String())
}
