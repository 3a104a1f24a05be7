package prover

import (
	"math/big"

	"github.com/vocdoni/amaci/processor"
)

// The batch circuits take their inputs as decimal strings in the snarkjs
// convention: scalars as strings, points and paths as nested string arrays.
// Every builder emits the full private witness next to the public input
// hash; the circuit recomputes the hash and constrains equality.

// MessageBatchInputs assembles the circom inputs of a message batch proof.
func MessageBatchInputs(out *processor.ProcessOutput) map[string]any {
	msgs := make([][]string, len(out.Witness))
	encPubKeys := make([][]string, len(out.Witness))
	prevLeaves := make([][]string, len(out.Witness))
	newLeaves := make([][]string, len(out.Witness))
	statePaths := make([][][]string, len(out.Witness))
	voPaths := make([][][]string, len(out.Witness))
	currentWeights := make([]string, len(out.Witness))
	validFlags := make([]string, len(out.Witness))
	for i, w := range out.Witness {
		msgs[i] = bigsToStrings(w.Message.Data[:])
		encPubKeys[i] = []string{w.Message.EncPubKey.X.String(), w.Message.EncPubKey.Y.String()}
		prevLeaves[i] = bigsToStrings(w.PrevLeaf.Fields())
		newLeaves[i] = bigsToStrings(w.NewLeaf.Fields())
		statePaths[i] = pathStrings(w.StatePath)
		voPaths[i] = pathStrings(w.VoPath)
		currentWeights[i] = w.CurrentWeight.String()
		validFlags[i] = boolToStr(w.Valid)
	}
	return map[string]any{
		"inputHash":              out.InputHash.String(),
		"packedVals":             out.PackedVals.String(),
		"coordPubKeyHash":        out.CoordPubKeyHash.String(),
		"batchStartHash":         out.BatchStartHash.String(),
		"batchEndHash":           out.BatchEndHash.String(),
		"currentStateRoot":       out.OldStateRoot.String(),
		"newStateRoot":           out.NewStateRoot.String(),
		"currentStateCommitment": out.OldStateCommitment.String(),
		"newStateCommitment":     out.NewStateCommitment.String(),
		"newStateSalt":           out.NewStateSalt.String(),
		"msgs":                   msgs,
		"encPubKeys":             encPubKeys,
		"currentStateLeaves":     prevLeaves,
		"newStateLeaves":         newLeaves,
		"statePathElements":      statePaths,
		"votePathElements":       voPaths,
		"currentVoteWeights":     currentWeights,
		"validFlags":             validFlags,
	}
}

// DeactivateBatchInputs assembles the circom inputs of a deactivate batch
// proof.
func DeactivateBatchInputs(out *processor.DeactivateOutput) map[string]any {
	msgs := make([][]string, len(out.Witness))
	encPubKeys := make([][]string, len(out.Witness))
	leaves := make([][]string, len(out.Witness))
	validFlags := make([]string, len(out.Witness))
	for i, w := range out.Witness {
		msgs[i] = bigsToStrings(w.Message.Data[:])
		encPubKeys[i] = []string{w.Message.EncPubKey.X.String(), w.Message.EncPubKey.Y.String()}
		c1x, c1y, c2x, c2y := w.Ciphertext.Coords()
		leaves[i] = bigsToStrings([]*big.Int{c1x, c1y, c2x, c2y, w.SharedKeyHash})
		validFlags[i] = boolToStr(w.Valid)
	}
	return map[string]any{
		"inputHash":               out.InputHash.String(),
		"packedVals":              out.PackedVals.String(),
		"coordPubKeyHash":         out.CoordPubKeyHash.String(),
		"batchStartHash":          out.BatchStartHash.String(),
		"batchEndHash":            out.BatchEndHash.String(),
		"newDeactivateRoot":       out.NewDeactivateRoot.String(),
		"newDeactivateCommitment": out.NewDeactivateCommitment.String(),
		"newDeactivateSalt":       out.NewDeactivateSalt.String(),
		"msgs":                    msgs,
		"encPubKeys":              encPubKeys,
		"newDeactivateLeaves":     leaves,
		"validFlags":              validFlags,
	}
}

// TallyBatchInputs assembles the circom inputs of a tally batch proof.
func TallyBatchInputs(out *processor.TallyOutput) map[string]any {
	return map[string]any{
		"inputHash":              out.InputHash.String(),
		"packedVals":             out.PackedVals.String(),
		"stateCommitment":        out.StateCommitment.String(),
		"currentTallyCommitment": out.OldTallyCommitment.String(),
		"newTallyCommitment":     out.NewTallyCommitment.String(),
		"newTallySalt":           out.NewTallySalt.String(),
		"newResultsRoot":         out.ResultsRoot.String(),
		"results":                bigsToStrings(out.Results),
	}
}

func bigsToStrings(values []*big.Int) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.String()
	}
	return out
}

func pathStrings(path [][]*big.Int) [][]string {
	out := make([][]string, len(path))
	for i, level := range path {
		out[i] = bigsToStrings(level)
	}
	return out
}

func boolToStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
