// Package storage persists voting rounds and the material needed to
// replay them. Everything lives in one key-value database under prefixed
// namespaces:
//   - 'r/'  round records (parameters, coordinator key, phase, counters)
//   - 'm/'  published voting messages, one log per round in arrival order
//   - 'dm/' published deactivation messages, same layout
//   - 'e/'  the round ledger: the ordered events replay rebuilds state from
//   - 'n/'  spent deactivation nullifiers
//   - 'c/'  commitment log, one entry per processed batch
//
// The message logs and the ledger are the source of truth; the round
// record is a cached view that LoadRound reconciles after a crash. Keys
// inside a round's namespace start with the round id, followed by a
// big-endian sequence number where ordering matters, so iteration order is
// arrival order.
package storage

import (
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"

	"github.com/vocdoni/amaci/log"
	"github.com/vocdoni/amaci/storage/census"
)

var (
	// ErrNotFound is returned when the requested artifact does not exist.
	ErrNotFound = errors.New("not found")

	// Prefixes for the keys in the database.
	roundPrefix      = []byte("r/")
	messagePrefix    = []byte("m/")
	deactivatePrefix = []byte("dm/")
	ledgerPrefix     = []byte("e/")
	nullifierPrefix  = []byte("n/")
	commitmentPrefix = []byte("c/")
)

// Storage wraps the database with the round, log and ledger operations the
// coordinator service needs.
type Storage struct {
	db         db.Database
	censusDB   *census.CensusDB
	globalLock sync.Mutex
	// seqs caches the next sequence number per log, recounted from the
	// database on first use.
	seqs map[string]uint64
	// recordCache keeps recently read round records; invalidated on write.
	recordCache *lru.Cache[string, *RoundRecord]
}

// New creates a new Storage instance over the given database.
func New(db db.Database) *Storage {
	cache, err := lru.New[string, *RoundRecord](128)
	if err != nil {
		log.Fatalf("failed to create round record cache: %v", err)
	}
	return &Storage{
		db:          db,
		censusDB:    census.NewCensusDB(db),
		seqs:        make(map[string]uint64),
		recordCache: cache,
	}
}

// CensusDB returns the census database sharing the storage's backend.
func (s *Storage) CensusDB() *census.CensusDB {
	return s.censusDB
}

// Close closes the storage.
func (s *Storage) Close() {
	if err := s.db.Close(); err != nil {
		log.Warnw("failed to close storage", "error", err.Error())
	}
}

func (s *Storage) setArtifact(prefix, key []byte, artifact any) error {
	data, err := encodeArtifact(artifact)
	if err != nil {
		return err
	}
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), prefix)
	defer wTx.Discard()
	if err := wTx.Set(key, data); err != nil {
		return err
	}
	return wTx.Commit()
}

func (s *Storage) getArtifact(prefix, key []byte, out any) error {
	data, err := prefixeddb.NewPrefixedReader(s.db, prefix).Get(key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return decodeArtifact(data, out)
}

func (s *Storage) deleteArtifact(prefix, key []byte) error {
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), prefix)
	defer wTx.Discard()
	if err := wTx.Delete(key); err != nil {
		return err
	}
	return wTx.Commit()
}

// listScope streams every value stored under scope within prefix, in key
// order. The callback returns false to stop early.
func (s *Storage) listScope(prefix, scope []byte, fn func(v []byte) bool) error {
	return prefixeddb.NewPrefixedReader(s.db, prefix).Iterate(scope, func(_, v []byte) bool {
		return fn(v)
	})
}

// listKeys streams every key stored under prefix.
func (s *Storage) listKeys(prefix []byte, fn func(k []byte) bool) error {
	return prefixeddb.NewPrefixedReader(s.db, prefix).Iterate(nil, func(k, _ []byte) bool {
		kcopy := make([]byte, len(k))
		copy(kcopy, k)
		return fn(kcopy)
	})
}

// deleteScope removes every key stored under scope within prefix.
func (s *Storage) deleteScope(prefix, scope []byte) error {
	var keys [][]byte
	if err := prefixeddb.NewPrefixedReader(s.db, prefix).Iterate(scope, func(k, _ []byte) bool {
		full := make([]byte, 0, len(scope)+len(k))
		full = append(full, scope...)
		full = append(full, k...)
		keys = append(keys, full)
		return true
	}); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), prefix)
	defer wTx.Discard()
	for _, k := range keys {
		if err := wTx.Delete(k); err != nil {
			return err
		}
	}
	return wTx.Commit()
}

// nextSeq hands out the next sequence number of a round's log. Must be
// called with the global lock held.
func (s *Storage) nextSeq(prefix []byte, roundID string) (uint64, error) {
	ck := string(prefix) + roundID
	if n, ok := s.seqs[ck]; ok {
		s.seqs[ck] = n + 1
		return n, nil
	}
	var n uint64
	if err := prefixeddb.NewPrefixedReader(s.db, prefix).Iterate(roundScope(roundID), func(_, _ []byte) bool {
		n++
		return true
	}); err != nil {
		return 0, err
	}
	s.seqs[ck] = n + 1
	return n, nil
}

func (s *Storage) dropSeq(prefix []byte, roundID string) {
	delete(s.seqs, string(prefix)+roundID)
}

// appendLog stores artifact at the log's next sequence number. Must be
// called with the global lock held.
func (s *Storage) appendLog(prefix []byte, roundID string, artifact any) (uint64, error) {
	seq, err := s.nextSeq(prefix, roundID)
	if err != nil {
		return 0, err
	}
	if err := s.setArtifact(prefix, seqKey(roundID, seq), artifact); err != nil {
		s.dropSeq(prefix, roundID)
		return 0, err
	}
	return seq, nil
}
