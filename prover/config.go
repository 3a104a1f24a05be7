package prover

import (
	"github.com/vocdoni/amaci/types"
)

// Remote circom artifacts of the three batch circuits: witness generator
// (wasm), proving key (zkey) and verification key (json). The dev builds
// live on the public CDN; production deployments pin their own set through
// the AMACI_ARTIFACTS_DIR cache.
const (
	// MessageBatch circuit, proving one ProcessMessages batch.
	MessageBatchCircuitURL          = "https://circuits.ams3.cdn.digitaloceanspaces.com/amaci/dev/message_batch.wasm"
	MessageBatchCircuitHash         = "5b6f0cbe9b6ab3c9a3545bd8bbdee9af0bfa1dca9bd4bb65e870b3f9d67a4c21"
	MessageBatchProvingKeyURL       = "https://circuits.ams3.cdn.digitaloceanspaces.com/amaci/dev/message_batch_pkey.zkey"
	MessageBatchProvingKeyHash      = "8d9cf4e52aabb2b2722cd14e8238b02f6e33ab288379c422be06a3a262053e49"
	MessageBatchVerificationKeyURL  = "https://circuits.ams3.cdn.digitaloceanspaces.com/amaci/dev/message_batch_vkey.json"
	MessageBatchVerificationKeyHash = "0c1e0e112f746daa23c22cd14fbcf8a25fe2e25bfc4a1f6618b08e0f2b3cf95d"
	// DeactivateBatch circuit, proving one ProcessDeactivateMessages batch.
	DeactivateBatchCircuitURL          = "https://circuits.ams3.cdn.digitaloceanspaces.com/amaci/dev/deactivate_batch.wasm"
	DeactivateBatchCircuitHash         = "e4fd742b8adbe314dfeea55b1f1f3a24a160edc8c26a82e6d24dd64e01cae2a6"
	DeactivateBatchProvingKeyURL       = "https://circuits.ams3.cdn.digitaloceanspaces.com/amaci/dev/deactivate_batch_pkey.zkey"
	DeactivateBatchProvingKeyHash      = "23fb755a1bd4c99d1b9c2ae0f5ebbddee15fa9f3b499dcbe3e09277c3c31f972"
	DeactivateBatchVerificationKeyURL  = "https://circuits.ams3.cdn.digitaloceanspaces.com/amaci/dev/deactivate_batch_vkey.json"
	DeactivateBatchVerificationKeyHash = "9cb18700e42e22913b68d4bd5fc6b8e09aa4e70bb9870c074b0e525de5e8621b"
	// TallyBatch circuit, proving one TallyVotes batch.
	TallyBatchCircuitURL          = "https://circuits.ams3.cdn.digitaloceanspaces.com/amaci/dev/tally_batch.wasm"
	TallyBatchCircuitHash         = "7a27cb7b2b1fd6ea84e02e60f11f1b9c421cf6c3ee3fcae91b8d0434eccf38d3"
	TallyBatchProvingKeyURL       = "https://circuits.ams3.cdn.digitaloceanspaces.com/amaci/dev/tally_batch_pkey.zkey"
	TallyBatchProvingKeyHash      = "fa2e0bcee3d46bd0e0cd6d17a40e280d3b10f6111b4bcaa1f41e95923ce20cc9"
	TallyBatchVerificationKeyURL  = "https://circuits.ams3.cdn.digitaloceanspaces.com/amaci/dev/tally_batch_vkey.json"
	TallyBatchVerificationKeyHash = "1d9e1a0cbb7a49faab891fd2125cd68f4f2a49354b26b8aedbcbad34af59eb04"
)

func hashFromHex(s string) types.HexBytes {
	h, err := types.HexBytesFromString(s)
	if err != nil {
		panic(err)
	}
	return h
}

// MessageBatchArtifacts are the circom artifacts of the message batch
// circuit.
var MessageBatchArtifacts = NewCircuitArtifacts(
	&Artifact{
		RemoteURL: MessageBatchCircuitURL,
		Hash:      hashFromHex(MessageBatchCircuitHash),
	},
	&Artifact{
		RemoteURL: MessageBatchProvingKeyURL,
		Hash:      hashFromHex(MessageBatchProvingKeyHash),
	},
	&Artifact{
		RemoteURL: MessageBatchVerificationKeyURL,
		Hash:      hashFromHex(MessageBatchVerificationKeyHash),
	})

// DeactivateBatchArtifacts are the circom artifacts of the deactivate batch
// circuit.
var DeactivateBatchArtifacts = NewCircuitArtifacts(
	&Artifact{
		RemoteURL: DeactivateBatchCircuitURL,
		Hash:      hashFromHex(DeactivateBatchCircuitHash),
	},
	&Artifact{
		RemoteURL: DeactivateBatchProvingKeyURL,
		Hash:      hashFromHex(DeactivateBatchProvingKeyHash),
	},
	&Artifact{
		RemoteURL: DeactivateBatchVerificationKeyURL,
		Hash:      hashFromHex(DeactivateBatchVerificationKeyHash),
	})

// TallyBatchArtifacts are the circom artifacts of the tally batch circuit.
var TallyBatchArtifacts = NewCircuitArtifacts(
	&Artifact{
		RemoteURL: TallyBatchCircuitURL,
		Hash:      hashFromHex(TallyBatchCircuitHash),
	},
	&Artifact{
		RemoteURL: TallyBatchProvingKeyURL,
		Hash:      hashFromHex(TallyBatchProvingKeyHash),
	},
	&Artifact{
		RemoteURL: TallyBatchVerificationKeyURL,
		Hash:      hashFromHex(TallyBatchVerificationKeyHash),
	})
