package types

import "math/big"

const (
	// TreeArity is the branching factor of every Merkle tree in the protocol.
	TreeArity = 5
	// MaxTreeDepth bounds the depth of any quinary tree a round may declare.
	MaxTreeDepth = 10
	// MessageFields is the number of ciphertext field elements per message.
	MessageFields = 7
	// CommandFields is the number of plaintext field elements per command.
	CommandFields = 6
	// PackedNumSignUpsShift positions numSignUps inside the tally packedVals.
	PackedNumSignUpsShift = 32
)

// Bit windows of the packed command field, LSB first.
const (
	PackedNonceBits      = 32
	PackedStateIndexBits = 32
	PackedVoteOptionBits = 32
	PackedVoteWeightBits = 96
	PackedSaltBits       = 56
)

// FieldPrime is the BN254 scalar field modulus. Every field element handled
// by the protocol is reduced mod FieldPrime.
var FieldPrime, _ = new(big.Int).SetString(
	"21888242871839275222246405745257275088548364400416034343698204186575808495617", 10)

// MaxVoteWeight is the exclusive upper bound on a single vote weight,
// floor(sqrt(FieldPrime)), so that the quadratic cost of any admissible
// weight cannot overflow the field.
var MaxVoteWeight, _ = new(big.Int).SetString(
	"147946756881789319005730692170996259609", 10)

// NullifierDomain is the domain separation constant hashed together with a
// deactivated private key to derive its one-time nullifier.
var NullifierDomain, _ = new(big.Int).SetString("1444992409218394441042", 10)

// TallyPackShift separates vote counts from quadratic costs inside a packed
// tally result: each weight v contributes v*(v+TallyPackShift).
var TallyPackShift, _ = new(big.Int).SetString("1000000000000000000000000", 10)
