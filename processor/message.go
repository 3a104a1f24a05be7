package processor

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"

	"github.com/vocdoni/amaci/crypto/babyjub"
	multiposeidon "github.com/vocdoni/amaci/crypto/hash/poseidon"
	"github.com/vocdoni/amaci/crypto/secies"
	"github.com/vocdoni/amaci/types"
)

// Message is an encrypted command in transit: seven masked field elements
// and the ephemeral public key the coordinator runs ECDH against.
type Message struct {
	Data      [types.MessageFields]*big.Int `json:"data"`
	EncPubKey *babyjub.PublicKey            `json:"encPubKey"`
}

// EncryptCommand signs a command with the voter's current key and seals it
// for the coordinator under a fresh ephemeral key.
func EncryptCommand(cmd *Command, signer *babyjub.PrivateKey, coordinatorPub *babyjub.PublicKey) (*Message, error) {
	packed, err := cmd.Pack()
	if err != nil {
		return nil, err
	}
	digest, err := CommandDigest(packed, cmd.NewPubKey)
	if err != nil {
		return nil, err
	}
	sig := signer.SignDigest(digest)
	ephemeral := babyjub.NewRandomKey()
	plain := [secies.PlaintextLen]*big.Int{
		packed, cmd.NewPubKey.X, cmd.NewPubKey.Y, sig.R8X, sig.R8Y, sig.S,
	}
	data, err := secies.Encrypt(plain, coordinatorPub, ephemeral)
	if err != nil {
		return nil, err
	}
	return &Message{Data: data, EncPubKey: ephemeral.Public()}, nil
}

// ErrMalformedMessage marks a message that authenticated but carries an
// out-of-window packed command. Like a MAC mismatch it downgrades the
// message to a no-op instead of aborting the batch.
var ErrMalformedMessage = errors.New("malformed command payload")

// Decrypt opens the message with the coordinator key and splits the
// plaintext into the command and its signature. A secies.ErrMACMismatch or
// ErrMalformedMessage means the message is garbage or padding and must be
// treated as invalid, not fatal.
func (m *Message) Decrypt(coordinatorPriv *babyjub.PrivateKey) (*Command, *babyjub.Signature, error) {
	kx, ky := coordinatorPriv.SharedPoint(m.EncPubKey)
	plain, err := secies.Decrypt(m.Data, kx, ky)
	if err != nil {
		return nil, nil, err
	}
	newPub := &babyjub.PublicKey{X: plain[1], Y: plain[2]}
	cmd, err := UnpackCommand(plain[0], newPub)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	sig := &babyjub.Signature{R8X: plain[3], R8Y: plain[4], S: plain[5]}
	return cmd, sig, nil
}

// ChainHash appends the message to a chain of prior messages,
// Poseidon(Data[0..6], EncPubKey.X, EncPubKey.Y, prev), 10 inputs.
func (m *Message) ChainHash(prev *big.Int) (*big.Int, error) {
	inputs := make([]*big.Int, 0, types.MessageFields+3)
	for i, d := range m.Data {
		if d == nil {
			return nil, fmt.Errorf("message data field %d is nil", i)
		}
		inputs = append(inputs, d)
	}
	inputs = append(inputs, m.EncPubKey.X, m.EncPubKey.Y, prev)
	return poseidon.Hash(inputs)
}

// PadMessage returns the inert message appended to fill the last batch:
// zero data under the identity ephemeral key. It fails authentication on
// decrypt and folds into the state as a no-op.
func PadMessage() *Message {
	var data [types.MessageFields]*big.Int
	for i := range data {
		data[i] = big.NewInt(0)
	}
	return &Message{
		Data:      data,
		EncPubKey: &babyjub.PublicKey{X: big.NewInt(0), Y: big.NewInt(1)},
	}
}

// fingerprintChunk is the number of messages folded per MultiPoseidon
// round; each message contributes nine field elements and one slot carries
// the previous round, staying under the 256-input cap.
const fingerprintChunk = 25

// MessagesFingerprint folds an entire message sequence into one field
// element. Storage verifies it after replaying a persisted queue.
func MessagesFingerprint(msgs []*Message) (*big.Int, error) {
	fp := big.NewInt(0)
	for start := 0; start < len(msgs); start += fingerprintChunk {
		end := min(start+fingerprintChunk, len(msgs))
		inputs := make([]*big.Int, 0, (end-start)*(types.MessageFields+2)+1)
		inputs = append(inputs, fp)
		for _, m := range msgs[start:end] {
			inputs = append(inputs, m.Data[:]...)
			inputs = append(inputs, m.EncPubKey.X, m.EncPubKey.Y)
		}
		h, err := multiposeidon.MultiPoseidon(inputs...)
		if err != nil {
			return nil, fmt.Errorf("fingerprint chunk at %d: %w", start, err)
		}
		fp = h
	}
	return fp, nil
}
