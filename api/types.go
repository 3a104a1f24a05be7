package api

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/vocdoni/amaci/crypto/babyjub"
	"github.com/vocdoni/amaci/processor"
	"github.com/vocdoni/amaci/storage"
	"github.com/vocdoni/amaci/types"
)

// NewRound is the request to create a voting round. An empty id gets a
// generated one.
type NewRound struct {
	ID     string            `json:"id,omitempty"`
	Params types.RoundParams `json:"params"`
}

// RoundInfo is the public view of a round: everything in the stored record
// except the coordinator seed.
type RoundInfo struct {
	ID           string            `json:"id"`
	Params       types.RoundParams `json:"params"`
	CoordPubKeyX *types.BigInt     `json:"coordPubKeyX"`
	CoordPubKeyY *types.BigInt     `json:"coordPubKeyY"`

	Phase             string `json:"phase"`
	NumSignUps        int    `json:"numSignUps"`
	MessageCount      int    `json:"messageCount"`
	DeactivateCount   int    `json:"deactivateCount"`
	PendingDeactivate int    `json:"pendingDeactivate"`

	StateCommitment      *types.BigInt `json:"stateCommitment,omitempty"`
	DeactivateCommitment *types.BigInt `json:"deactivateCommitment,omitempty"`
	TallyCommitment      *types.BigInt `json:"tallyCommitment,omitempty"`
}

// roundInfo strips the private material from a stored record.
func roundInfo(rec *storage.RoundRecord) *RoundInfo {
	return &RoundInfo{
		ID:                   rec.ID,
		Params:               rec.Params,
		CoordPubKeyX:         rec.CoordPubKeyX,
		CoordPubKeyY:         rec.CoordPubKeyY,
		Phase:                rec.Phase.String(),
		NumSignUps:           rec.NumSignUps,
		MessageCount:         rec.MessageCount,
		DeactivateCount:      rec.DeactivateCount,
		PendingDeactivate:    rec.PendingDeactivate,
		StateCommitment:      rec.StateCommitment,
		DeactivateCommitment: rec.DeactivateCommitment,
		TallyCommitment:      rec.TallyCommitment,
	}
}

// RoundList is the response to a round listing request.
type RoundList struct {
	Rounds []string `json:"rounds"`
}

// SignUp is the request to register a voter key in a round.
type SignUp struct {
	PubKeyX *types.BigInt `json:"pubKeyX"`
	PubKeyY *types.BigInt `json:"pubKeyY"`
}

// PublicKey rebuilds the request's key, rejecting missing coordinates.
func (s *SignUp) PublicKey() (*babyjub.PublicKey, error) {
	if s.PubKeyX == nil || s.PubKeyY == nil {
		return nil, fmt.Errorf("missing public key coordinates")
	}
	return &babyjub.PublicKey{X: s.PubKeyX.MathBigInt(), Y: s.PubKeyY.MathBigInt()}, nil
}

// IndexResponse reports the position an operation landed at: a state index
// for sign-ups and new keys, a queue position for messages.
type IndexResponse struct {
	Index int `json:"index"`
}

// Message is the wire form of an encrypted command: seven ciphertext field
// elements under an ephemeral encryption key.
type Message struct {
	Data       []*types.BigInt `json:"data"`
	EncPubKeyX *types.BigInt   `json:"encPubKeyX"`
	EncPubKeyY *types.BigInt   `json:"encPubKeyY"`
}

// ToProcessor converts the wire message, checking shape only; semantic
// validity is decided during batch processing.
func (m *Message) ToProcessor() (*processor.Message, error) {
	if len(m.Data) != types.MessageFields {
		return nil, fmt.Errorf("expected %d data fields, got %d", types.MessageFields, len(m.Data))
	}
	if m.EncPubKeyX == nil || m.EncPubKeyY == nil {
		return nil, fmt.Errorf("missing ephemeral key coordinates")
	}
	msg := &processor.Message{
		EncPubKey: &babyjub.PublicKey{X: m.EncPubKeyX.MathBigInt(), Y: m.EncPubKeyY.MathBigInt()},
	}
	for i, d := range m.Data {
		if d == nil {
			return nil, fmt.Errorf("data field %d is null", i)
		}
		msg.Data[i] = d.MathBigInt()
	}
	return msg, nil
}

// FromProcessor converts a processor message to its wire form.
func FromProcessor(msg *processor.Message) *Message {
	out := &Message{
		Data:       make([]*types.BigInt, len(msg.Data)),
		EncPubKeyX: types.FromBigInt(msg.EncPubKey.X),
		EncPubKeyY: types.FromBigInt(msg.EncPubKey.Y),
	}
	for i, d := range msg.Data {
		out.Data[i] = types.FromBigInt(d)
	}
	return out
}

// NewKey is the request to mint a state leaf from a deactivation
// nullifier. Status carries the rerandomized deactivate-leaf ciphertext.
type NewKey struct {
	Nullifier *types.BigInt  `json:"nullifier"`
	PubKeyX   *types.BigInt  `json:"pubKeyX"`
	PubKeyY   *types.BigInt  `json:"pubKeyY"`
	Status    types.HexBytes `json:"status"`
}

// Results is the response with the final per-option totals.
type Results struct {
	Results []processor.TallyResult `json:"results"`
}

// Commitments is the response with the round's batch commitment log.
type Commitments struct {
	Commitments []*storage.CommitmentEntry `json:"commitments"`
}

// NewCensus is the response to a new census creation request.
type NewCensus struct {
	Census uuid.UUID `json:"census"`
}

// CensusRoot is the response to a census root request.
type CensusRoot struct {
	Root types.HexBytes `json:"root"`
}

// CensusParticipant is a participant in a census.
type CensusParticipant struct {
	Key    types.HexBytes `json:"key"`
	Weight *types.BigInt  `json:"weight,omitempty"`
}

// CensusParticipants is a list of participants in a census.
type CensusParticipants struct {
	Participants []*CensusParticipant `json:"participants"`
}
