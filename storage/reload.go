package storage

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/amaci/crypto/babyjub"
	"github.com/vocdoni/amaci/crypto/ecc/curves"
	"github.com/vocdoni/amaci/crypto/elgamal"
	"github.com/vocdoni/amaci/log"
	"github.com/vocdoni/amaci/processor"
	"github.com/vocdoni/amaci/types"
)

// LoadRound rebuilds a round's in-memory state by replaying its ledger and
// message logs through the processor. The fold is deterministic, so the
// replayed round must reach the exact commitments recorded in the
// commitment log; any divergence fails the load, since a round whose logs
// disagree cannot prove anything about its published chain. The replayed
// chains are also checked against the stored record; if a crash left the
// record behind the logs it is reconciled and saved back.
//
// LoadRound must run before the round serves any operation: it clears and
// repopulates the persistent nullifier set.
func (s *Storage) LoadRound(id string) (*processor.Round, *RoundRecord, error) {
	rec, err := s.Round(id)
	if err != nil {
		return nil, nil, err
	}
	coordKey, err := rec.CoordinatorKey()
	if err != nil {
		return nil, nil, fmt.Errorf("round %s: coordinator key: %w", id, err)
	}
	msgs, err := s.Messages(id)
	if err != nil {
		return nil, nil, err
	}
	dmsgs, err := s.DeactivateMessages(id)
	if err != nil {
		return nil, nil, err
	}
	events, err := s.Events(id)
	if err != nil {
		return nil, nil, err
	}
	centries, err := s.Commitments(id)
	if err != nil {
		return nil, nil, err
	}

	// Replay re-adds every nullifier through AddNewKey, so the set must
	// start empty.
	s.globalLock.Lock()
	err = s.deleteScope(nullifierPrefix, roundScope(id))
	s.globalLock.Unlock()
	if err != nil {
		return nil, nil, fmt.Errorf("round %s: reset nullifiers: %w", id, err)
	}

	r, err := processor.NewRound(rec.Params, coordKey, s.RoundNullifiers(id))
	if err != nil {
		return nil, nil, fmt.Errorf("round %s: %w", id, err)
	}

	published, drained := 0, 0
	cc := &commitCheck{entries: centries}
	for i, ev := range events {
		if err := s.replayEvent(r, ev, msgs, dmsgs, &published, &drained, cc); err != nil {
			return nil, nil, fmt.Errorf("round %s: replay event %d (%s): %w", id, i, ev.Kind, err)
		}
	}
	if err := cc.done(); err != nil {
		return nil, nil, fmt.Errorf("round %s: %w", id, err)
	}
	// Messages that arrived after the last ledger event.
	for ; published < len(msgs); published++ {
		if _, err := r.PublishMessage(msgs[published]); err != nil {
			return nil, nil, fmt.Errorf("round %s: replay message %d: %w", id, published, err)
		}
	}
	for ; drained < len(dmsgs); drained++ {
		if _, err := r.PublishDeactivateMessage(dmsgs[drained]); err != nil {
			return nil, nil, fmt.Errorf("round %s: replay deactivate message %d: %w", id, drained, err)
		}
	}

	if err := verifyReplay(rec, r, msgs, dmsgs); err != nil {
		return nil, nil, err
	}

	// The logs are the source of truth; a record lagging them by the
	// crash window is healed here.
	fresh := NewRoundRecord(id, rec.CoordinatorSeed, r)
	if !sameView(rec, fresh) {
		log.Warnw("round record lagged its logs, reconciled",
			"round", id, "phase", fresh.Phase.String(),
			"messages", fresh.MessageCount, "signUps", fresh.NumSignUps)
	}
	if err := s.SetRound(fresh); err != nil {
		return nil, nil, err
	}
	log.Debugw("round replayed",
		"round", id, "phase", fresh.Phase.String(), "events", len(events),
		"messages", len(msgs), "deactivateMessages", len(dmsgs))
	return r, fresh, nil
}

// commitCheck walks the commitment log alongside the ledger replay. The
// service appends the ledger event before the commitment entry, so after a
// crash the ledger may lead the log by one batch; a mismatching entry or
// one past the last batch event means the logs diverged.
type commitCheck struct {
	entries []*CommitmentEntry
	next    int
}

func (cc *commitCheck) verify(kind string, commitment *big.Int) error {
	if cc.next >= len(cc.entries) {
		return nil
	}
	entry := cc.entries[cc.next]
	cc.next++
	if entry.Kind != kind {
		return fmt.Errorf("commitment log entry %d is %q, ledger replayed a %s batch", cc.next-1, entry.Kind, kind)
	}
	if !entry.Commitment.Equal(types.FromBigInt(commitment)) {
		return fmt.Errorf("replayed %s commitment %s does not match logged %s",
			kind, commitment.String(), entry.Commitment.String())
	}
	return nil
}

func (cc *commitCheck) done() error {
	if cc.next < len(cc.entries) {
		return fmt.Errorf("commitment log has %d entries past the last ledger batch", len(cc.entries)-cc.next)
	}
	return nil
}

func (s *Storage) replayEvent(r *processor.Round, ev *Event, msgs, dmsgs []*processor.Message, published, drained *int, cc *commitCheck) error {
	switch ev.Kind {
	case EventSignUp:
		pub, err := eventPubKey(ev)
		if err != nil {
			return err
		}
		_, err = r.SignUp(pub)
		return err

	case EventNewKey:
		pub, err := eventPubKey(ev)
		if err != nil {
			return err
		}
		if ev.Nullifier == nil {
			return fmt.Errorf("event carries no nullifier")
		}
		status, err := decodeStatus(ev.Status)
		if err != nil {
			return err
		}
		_, err = r.AddNewKey(ev.Nullifier.MathBigInt(), pub, status)
		return err

	case EventDeactivateBatch:
		if ev.BatchEnd > len(dmsgs) {
			return fmt.Errorf("deactivate log too short: %d < %d", len(dmsgs), ev.BatchEnd)
		}
		for ; *drained < ev.BatchEnd; *drained++ {
			if _, err := r.PublishDeactivateMessage(dmsgs[*drained]); err != nil {
				return err
			}
		}
		salt, err := eventSalt(ev)
		if err != nil {
			return err
		}
		out, err := r.ProcessDeactivateMessages(salt)
		if err != nil {
			return err
		}
		return cc.verify(CommitDeactivate, out.NewDeactivateCommitment)

	case EventEndVotePeriod:
		for ; *published < len(msgs); *published++ {
			if _, err := r.PublishMessage(msgs[*published]); err != nil {
				return err
			}
		}
		if err := r.EndVotePeriod(); err != nil {
			return err
		}
		if ev.Fingerprint != nil {
			fp, err := processor.MessagesFingerprint(r.Messages())
			if err != nil {
				return err
			}
			if fp.Cmp(ev.Fingerprint.MathBigInt()) != 0 {
				return fmt.Errorf("message fingerprint mismatch")
			}
		}
		return nil

	case EventMessageBatch:
		salt, err := eventSalt(ev)
		if err != nil {
			return err
		}
		out, err := r.ProcessMessages(salt)
		if err != nil {
			return err
		}
		return cc.verify(CommitProcess, out.NewStateCommitment)

	case EventTallyBatch:
		salt, err := eventSalt(ev)
		if err != nil {
			return err
		}
		out, err := r.TallyVotes(salt)
		if err != nil {
			return err
		}
		return cc.verify(CommitTally, out.NewTallyCommitment)

	default:
		return fmt.Errorf("unknown ledger event kind %q", ev.Kind)
	}
}

func eventPubKey(ev *Event) (*babyjub.PublicKey, error) {
	if ev.PubKeyX == nil || ev.PubKeyY == nil {
		return nil, fmt.Errorf("event carries no public key")
	}
	return &babyjub.PublicKey{
		X: ev.PubKeyX.MathBigInt(),
		Y: ev.PubKeyY.MathBigInt(),
	}, nil
}

func eventSalt(ev *Event) (*big.Int, error) {
	if ev.Salt == nil {
		return nil, fmt.Errorf("event carries no salt")
	}
	return ev.Salt.MathBigInt(), nil
}

func decodeStatus(raw types.HexBytes) (*elgamal.Ciphertext, error) {
	ct := elgamal.NewCiphertext(curves.New(curves.CurveTypeBabyJubJub))
	if err := ct.Deserialize(raw); err != nil {
		return nil, fmt.Errorf("decode status ciphertext: %w", err)
	}
	return ct, nil
}

// verifyReplay checks the replayed chains against the record. A record may
// be one operation behind the logs after a crash; its heads must then
// match a prefix of the stored logs.
func verifyReplay(rec *RoundRecord, r *processor.Round, msgs, dmsgs []*processor.Message) error {
	if rec.MessageChainHead == nil || rec.DeactivateChainHead == nil {
		return nil
	}
	if !rec.MessageChainHead.Equal(types.FromBigInt(r.MessageChainHead())) {
		ok, err := chainPrefixMatches(msgs, rec.MessageCount, rec.MessageChainHead.MathBigInt())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("round %s: message log does not match the stored chain head", rec.ID)
		}
	}
	if !rec.DeactivateChainHead.Equal(types.FromBigInt(r.DeactivateChainHead())) {
		ok, err := chainPrefixMatches(dmsgs, rec.DeactivateCount, rec.DeactivateChainHead.MathBigInt())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("round %s: deactivate log does not match the stored chain head", rec.ID)
		}
	}
	return nil
}

// chainPrefixMatches refolds the chain hash over the first n stored
// messages and compares it with want.
func chainPrefixMatches(msgs []*processor.Message, n int, want *big.Int) (bool, error) {
	if n > len(msgs) {
		return false, nil
	}
	h := big.NewInt(0)
	for _, m := range msgs[:n] {
		var err error
		if h, err = m.ChainHash(h); err != nil {
			return false, err
		}
	}
	return h.Cmp(want) == 0, nil
}

// sameView reports whether two records describe the same observable round
// state.
func sameView(a, b *RoundRecord) bool {
	return a.Phase == b.Phase &&
		a.NumSignUps == b.NumSignUps &&
		a.MessageCount == b.MessageCount &&
		a.DeactivateCount == b.DeactivateCount &&
		a.PendingDeactivate == b.PendingDeactivate &&
		a.MessageChainHead.Equal(b.MessageChainHead) &&
		a.DeactivateChainHead.Equal(b.DeactivateChainHead) &&
		a.StateCommitment.Equal(b.StateCommitment) &&
		a.DeactivateCommitment.Equal(b.DeactivateCommitment) &&
		a.TallyCommitment.Equal(b.TallyCommitment)
}
