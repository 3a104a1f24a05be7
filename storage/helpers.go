package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Artifact encoding/decoding
func encodeArtifact(a any) ([]byte, error) {
	encOpts := cbor.CoreDetEncOptions()
	em, err := encOpts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	return em.Marshal(a)
}

func decodeArtifact(data []byte, out any) error {
	return cbor.Unmarshal(data, out)
}

// roundScope is the key prefix of everything a round owns inside a
// namespace.
func roundScope(roundID string) []byte {
	return []byte(roundID + "/")
}

// seqKey builds a round-scoped key whose tail sorts in numeric order.
func seqKey(roundID string, seq uint64) []byte {
	key := roundScope(roundID)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return append(key, buf[:]...)
}
