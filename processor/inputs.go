package processor

import (
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/vocdoni/amaci/types"
)

// InputHash folds the public inputs of a batch proof into the single field
// element a groth16 verifier receives. Each field is serialized as 32
// big-endian bytes, the concatenation is SHA-256 hashed and the digest is
// reduced mod P. The reduction equals the circuit's reassembly of the
// digest from eight 32-bit chunks.
func InputHash(fields ...*big.Int) (*big.Int, error) {
	h := sha256.New()
	for i, f := range fields {
		if f == nil {
			return nil, fmt.Errorf("input hash field %d is nil", i)
		}
		if f.Sign() < 0 || f.BitLen() > 256 {
			return nil, fmt.Errorf("input hash field %d outside 32 bytes", i)
		}
		var buf [32]byte
		f.FillBytes(buf[:])
		h.Write(buf[:])
	}
	digest := h.Sum(nil)
	out := new(big.Int).SetBytes(digest)
	return out.Mod(out, types.FieldPrime), nil
}

// packProcessVals packs the sizing scalars of a process or deactivate
// batch: maxVoteOptions + numSignUps<<32 + batchStart<<64 + batchEnd<<96.
func packProcessVals(maxVoteOptions, numSignUps, batchStart, batchEnd int) *big.Int {
	packed := new(big.Int).SetUint64(uint64(maxVoteOptions))
	packed.Or(packed, new(big.Int).Lsh(new(big.Int).SetUint64(uint64(numSignUps)), 32))
	packed.Or(packed, new(big.Int).Lsh(new(big.Int).SetUint64(uint64(batchStart)), 64))
	packed.Or(packed, new(big.Int).Lsh(new(big.Int).SetUint64(uint64(batchEnd)), 96))
	return packed
}

// packTallyVals packs the tally batch scalars:
// batchNum + numSignUps<<32.
func packTallyVals(batchNum, numSignUps int) *big.Int {
	packed := new(big.Int).SetUint64(uint64(batchNum))
	packed.Or(packed, new(big.Int).Lsh(new(big.Int).SetUint64(uint64(numSignUps)), types.PackedNumSignUpsShift))
	return packed
}
