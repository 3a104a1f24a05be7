package storage

import (
	"errors"
	"fmt"
	"math/big"

	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

// NullifierSet is the persistent set of spent deactivation nullifiers of
// one round. It implements the processor's NullifierSet interface so it
// can be injected at round construction.
type NullifierSet struct {
	s     *Storage
	scope []byte
}

// RoundNullifiers returns the round's persistent nullifier set.
func (s *Storage) RoundNullifiers(roundID string) *NullifierSet {
	return &NullifierSet{s: s, scope: roundScope(roundID)}
}

// Has reports whether the nullifier was already spent.
func (ns *NullifierSet) Has(nullifier *big.Int) (bool, error) {
	_, err := prefixeddb.NewPrefixedReader(ns.s.db, nullifierPrefix).Get(ns.key(nullifier))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("read nullifier: %w", err)
	}
	return true, nil
}

// Add marks the nullifier as spent.
func (ns *NullifierSet) Add(nullifier *big.Int) error {
	wTx := prefixeddb.NewPrefixedWriteTx(ns.s.db.WriteTx(), nullifierPrefix)
	defer wTx.Discard()
	if err := wTx.Set(ns.key(nullifier), []byte{1}); err != nil {
		return fmt.Errorf("store nullifier: %w", err)
	}
	return wTx.Commit()
}

func (ns *NullifierSet) key(nullifier *big.Int) []byte {
	key := make([]byte, 0, len(ns.scope)+32)
	key = append(key, ns.scope...)
	return append(key, nullifier.Bytes()...)
}
