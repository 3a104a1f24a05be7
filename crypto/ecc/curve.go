package ecc

import (
	"math/big"

	"github.com/vocdoni/amaci/types"
)

// Point defines the common operations that can be performed on elliptic
// curve group elements. It represents the affine coordinates of a point on
// an elliptic curve and provides methods for arithmetic operations,
// serialization and comparison. Coordinates exposed through Point/SetPoint
// are always in standard TwistedEdwards form, whatever the backend uses
// internally.
type Point interface {
	// New returns a new elliptic curve point.
	New() Point

	// Order returns the order of the elliptic curve group.
	Order() *big.Int

	// Add adds two elliptic curve group elements and stores the result in
	// the receiver.
	Add(a, b Point)

	// SafeAdd adds two elliptic curve group elements and stores the result
	// in the receiver, ensuring exclusive access during the operation.
	SafeAdd(a, b Point)

	// ScalarMult multiplies the group element a by the scalar value and
	// stores the result in the receiver.
	ScalarMult(a Point, scalar *big.Int)

	// ScalarBaseMult sets the receiver to generator times scalar.
	ScalarBaseMult(scalar *big.Int)

	// Marshal serializes the elliptic curve element into a byte slice.
	Marshal() []byte

	// Unmarshal deserializes a byte slice into an elliptic curve element.
	Unmarshal(buf []byte) error

	// Equal checks if two elliptic curve elements are equal.
	Equal(a Point) bool

	// Neg negates an elliptic curve element.
	Neg(a Point)

	// SetZero sets the element to the identity (0, 1 in twisted Edwards).
	SetZero()

	// Set sets the receiver to the value of another element.
	Set(a Point)

	// SetGenerator sets the element to the subgroup generator.
	SetGenerator()

	// String returns a human readable representation of the element.
	String() string

	// Point returns the X and Y coordinates in TwistedEdwards form.
	Point() (*big.Int, *big.Int)

	// SetPoint sets the element from X and Y coordinates in TwistedEdwards
	// form.
	SetPoint(x, y *big.Int) Point

	// Type returns the curve backend identifier.
	Type() string
}

// PointEC is the JSON shape of a curve point, coordinates as decimal
// strings.
type PointEC struct {
	X types.BigInt `json:"x"`
	Y types.BigInt `json:"y"`
}
