// Package prover generates and verifies the groth16 proofs of batch
// correctness. Each batch kind (message, deactivate, tally) pairs a circom
// witness generator with its proving and verification keys; proving runs
// through rapidsnark and verification through the circom2gnark parser.
// Artifacts are fetched once and cached on disk, keyed by content hash.
package prover

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/iden3/go-rapidsnark/prover"
	"github.com/iden3/go-rapidsnark/witness"
	"github.com/vocdoni/circom2gnark/parser"

	"github.com/vocdoni/amaci/log"
	"github.com/vocdoni/amaci/types"
)

// BatchKind names the circuit a proof belongs to.
type BatchKind string

const (
	BatchMessage    BatchKind = "message"
	BatchDeactivate BatchKind = "deactivate"
	BatchTally      BatchKind = "tally"
)

// Proof is a generated circom proof with its public signals, both in the
// JSON encoding snarkjs and rapidsnark exchange.
type Proof struct {
	Kind          BatchKind      `json:"kind"`
	Proof         types.HexBytes `json:"proof"`
	PublicSignals types.HexBytes `json:"publicSignals"`
}

// InputHash returns the single public signal of the proof, which for every
// batch circuit is the batch input hash.
func (p *Proof) InputHash() (string, error) {
	var signals []string
	if err := json.Unmarshal(p.PublicSignals, &signals); err != nil {
		return "", fmt.Errorf("decode public signals: %w", err)
	}
	if len(signals) != 1 {
		return "", fmt.Errorf("expected 1 public signal, got %d", len(signals))
	}
	return signals[0], nil
}

// Prover proves and verifies batches with the circuit artifacts it was
// built with. The zero value is unusable; use New.
type Prover struct {
	artifacts map[BatchKind]*CircuitArtifacts
}

// New returns a Prover over the default artifact set.
func New() *Prover {
	return &Prover{artifacts: map[BatchKind]*CircuitArtifacts{
		BatchMessage:    MessageBatchArtifacts,
		BatchDeactivate: DeactivateBatchArtifacts,
		BatchTally:      TallyBatchArtifacts,
	}}
}

// Load brings every circuit artifact into memory, downloading the ones
// missing from the local cache.
func (p *Prover) Load(ctx context.Context) error {
	for kind, ca := range p.artifacts {
		if err := ca.LoadAll(); err == nil {
			continue
		}
		log.Infow("downloading circuit artifacts", "circuit", string(kind))
		if err := ca.DownloadAll(ctx); err != nil {
			return fmt.Errorf("download %s artifacts: %w", kind, err)
		}
		if err := ca.LoadAll(); err != nil {
			return fmt.Errorf("load %s artifacts: %w", kind, err)
		}
	}
	return nil
}

// Prove calculates the witness for the given circuit inputs and generates
// a groth16 proof with rapidsnark.
func (p *Prover) Prove(kind BatchKind, inputs map[string]any) (*Proof, error) {
	ca, ok := p.artifacts[kind]
	if !ok {
		return nil, fmt.Errorf("unknown batch kind %q", kind)
	}
	bInputs, err := json.Marshal(inputs)
	if err != nil {
		return nil, fmt.Errorf("encode circuit inputs: %w", err)
	}
	finalInputs, err := witness.ParseInputs(bInputs)
	if err != nil {
		return nil, fmt.Errorf("parse circuit inputs: %w", err)
	}
	calc, err := witness.NewCircom2WitnessCalculator(ca.WitnessGenerator(), true)
	if err != nil {
		return nil, fmt.Errorf("instance witness calculator: %w", err)
	}
	w, err := calc.CalculateWTNSBin(finalInputs, true)
	if err != nil {
		return nil, fmt.Errorf("calculate witness: %w", err)
	}
	proofJSON, pubSignals, err := prover.Groth16ProverRaw(ca.ProvingKey(), w)
	if err != nil {
		return nil, fmt.Errorf("generate proof: %w", err)
	}
	return &Proof{
		Kind:          kind,
		Proof:         types.HexBytes(proofJSON),
		PublicSignals: types.HexBytes(pubSignals),
	}, nil
}

// Verify checks the proof against its circuit's verification key.
func (p *Prover) Verify(proof *Proof) error {
	ca, ok := p.artifacts[proof.Kind]
	if !ok {
		return fmt.Errorf("unknown batch kind %q", proof.Kind)
	}
	vkData, err := parser.UnmarshalCircomVerificationKeyJSON(ca.VerifyingKey())
	if err != nil {
		return fmt.Errorf("decode verification key: %w", err)
	}
	proofData, err := parser.UnmarshalCircomProofJSON(proof.Proof)
	if err != nil {
		return fmt.Errorf("decode proof: %w", err)
	}
	pubSignals, err := parser.UnmarshalCircomPublicSignalsJSON(proof.PublicSignals)
	if err != nil {
		return fmt.Errorf("decode public signals: %w", err)
	}
	gnarkProof, err := parser.ConvertCircomToGnark(proofData, vkData, pubSignals)
	if err != nil {
		return fmt.Errorf("convert proof: %w", err)
	}
	if ok, err := parser.VerifyProof(gnarkProof); !ok || err != nil {
		return fmt.Errorf("proof verification failed: %v", err)
	}
	return nil
}
