// Package processor implements the coordinator's state machine for one
// voting round: publishing and decrypting messages, validating and applying
// commands, processing deactivation requests and tallying the final
// results. All operations follow the fold the arithmetic circuits prove, so
// every batch emits the witness material and public input hash its proof
// needs.
package processor

import (
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"

	"github.com/vocdoni/amaci/crypto/babyjub"
	"github.com/vocdoni/amaci/types"
)

// Bit offsets of the packed command windows, LSB first.
const (
	packedStateIndexOffset = types.PackedNonceBits
	packedVoteOptionOffset = packedStateIndexOffset + types.PackedStateIndexBits
	packedNewVotesOffset   = packedVoteOptionOffset + types.PackedVoteOptionBits
	packedSaltOffset       = packedNewVotesOffset + types.PackedVoteWeightBits
	packedTotalBits        = packedSaltOffset + types.PackedSaltBits
)

// Command is the plaintext voting instruction a voter signs and encrypts:
// overwrite the weight on one vote option and rotate the leaf key to
// NewPubKey. A no-rotation command simply repeats the current key.
type Command struct {
	Nonce           uint64
	StateIndex      uint64
	VoteOptionIndex uint64
	NewVotes        *big.Int
	Salt            *big.Int
	NewPubKey       *babyjub.PublicKey
}

// Pack serializes the command windows into a single field element:
// nonce [0,32), stateIndex [32,64), voteOptionIndex [64,96),
// newVotes [96,192), salt [192,248). Values exceeding their window are a
// caller error.
func (cmd *Command) Pack() (*big.Int, error) {
	if cmd.NewVotes == nil || cmd.Salt == nil {
		return nil, fmt.Errorf("command votes and salt must be set")
	}
	if cmd.Nonce > maxWindow(types.PackedNonceBits) {
		return nil, fmt.Errorf("nonce %d exceeds %d bits", cmd.Nonce, types.PackedNonceBits)
	}
	if cmd.StateIndex > maxWindow(types.PackedStateIndexBits) {
		return nil, fmt.Errorf("state index %d exceeds %d bits", cmd.StateIndex, types.PackedStateIndexBits)
	}
	if cmd.VoteOptionIndex > maxWindow(types.PackedVoteOptionBits) {
		return nil, fmt.Errorf("vote option index %d exceeds %d bits", cmd.VoteOptionIndex, types.PackedVoteOptionBits)
	}
	if cmd.NewVotes.Sign() < 0 || cmd.NewVotes.BitLen() > types.PackedVoteWeightBits {
		return nil, fmt.Errorf("new votes value exceeds %d bits", types.PackedVoteWeightBits)
	}
	if cmd.Salt.Sign() < 0 || cmd.Salt.BitLen() > types.PackedSaltBits {
		return nil, fmt.Errorf("salt exceeds %d bits", types.PackedSaltBits)
	}
	packed := new(big.Int).SetUint64(cmd.Nonce)
	packed.Or(packed, new(big.Int).Lsh(new(big.Int).SetUint64(cmd.StateIndex), packedStateIndexOffset))
	packed.Or(packed, new(big.Int).Lsh(new(big.Int).SetUint64(cmd.VoteOptionIndex), packedVoteOptionOffset))
	packed.Or(packed, new(big.Int).Lsh(cmd.NewVotes, packedNewVotesOffset))
	packed.Or(packed, new(big.Int).Lsh(cmd.Salt, packedSaltOffset))
	return packed, nil
}

// UnpackCommand reads the packed windows back into a command. The new
// public key travels outside the packed value and is attached as given.
func UnpackCommand(packed *big.Int, newPubKey *babyjub.PublicKey) (*Command, error) {
	if packed == nil || packed.Sign() < 0 || packed.BitLen() > packedTotalBits {
		return nil, fmt.Errorf("packed command outside %d bits", packedTotalBits)
	}
	return &Command{
		Nonce:           window(packed, 0, types.PackedNonceBits).Uint64(),
		StateIndex:      window(packed, packedStateIndexOffset, types.PackedStateIndexBits).Uint64(),
		VoteOptionIndex: window(packed, packedVoteOptionOffset, types.PackedVoteOptionBits).Uint64(),
		NewVotes:        window(packed, packedNewVotesOffset, types.PackedVoteWeightBits),
		Salt:            window(packed, packedSaltOffset, types.PackedSaltBits),
		NewPubKey:       newPubKey,
	}, nil
}

// CommandDigest is the value a command signature covers,
// Poseidon3(packed, newPubKey.X, newPubKey.Y).
func CommandDigest(packed *big.Int, newPubKey *babyjub.PublicKey) (*big.Int, error) {
	return poseidon.Hash([]*big.Int{packed, newPubKey.X, newPubKey.Y})
}

// Sign packs the command and signs its digest with the voter's current key.
func (cmd *Command) Sign(priv *babyjub.PrivateKey) (*babyjub.Signature, error) {
	packed, err := cmd.Pack()
	if err != nil {
		return nil, err
	}
	digest, err := CommandDigest(packed, cmd.NewPubKey)
	if err != nil {
		return nil, err
	}
	return priv.SignDigest(digest), nil
}

// VerifyCommand checks a command signature against a public key.
func VerifyCommand(packed *big.Int, newPubKey *babyjub.PublicKey, sig *babyjub.Signature, pub *babyjub.PublicKey) (bool, error) {
	digest, err := CommandDigest(packed, newPubKey)
	if err != nil {
		return false, err
	}
	return pub.Verify(digest, sig), nil
}

func maxWindow(bits uint) uint64 {
	return 1<<bits - 1
}

func window(packed *big.Int, offset, bits int) *big.Int {
	mask := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	mask.Sub(mask, big.NewInt(1))
	out := new(big.Int).Rsh(packed, uint(offset))
	return out.And(out, mask)
}
