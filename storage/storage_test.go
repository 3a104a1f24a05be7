package storage

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/vocdoni/amaci/crypto/babyjub"
	"github.com/vocdoni/amaci/crypto/ecc/curves"
	"github.com/vocdoni/amaci/crypto/elgamal"
	"github.com/vocdoni/amaci/processor"
	"github.com/vocdoni/amaci/types"
)

func testParams() types.RoundParams {
	return types.RoundParams{
		StateTreeDepth:      2,
		IntStateTreeDepth:   1,
		VoteOptionTreeDepth: 2,
		MaxVoteOptions:      25,
		InitialVoiceCredits: 100,
	}
}

func testMessage(c *qt.C, tag int64) *processor.Message {
	c.Helper()
	var data [types.MessageFields]*big.Int
	for i := range data {
		data[i] = big.NewInt(tag*100 + int64(i))
	}
	return &processor.Message{Data: data, EncPubKey: babyjub.NewRandomKey().Public()}
}

// mirror drives a processor round while persisting every mutation the way
// the coordinator service does: apply in memory, append the payload or
// event, then snapshot the record.
type mirror struct {
	c    *qt.C
	s    *Storage
	id   string
	r    *processor.Round
	seed []byte
}

func newMirror(c *qt.C, s *Storage, id string) *mirror {
	c.Helper()
	coord := babyjub.NewRandomKey()
	r, err := processor.NewRound(testParams(), coord, s.RoundNullifiers(id))
	c.Assert(err, qt.IsNil)
	m := &mirror{c: c, s: s, id: id, r: r, seed: coord.Seed()}
	m.save()
	return m
}

func (m *mirror) save() {
	m.c.Helper()
	m.c.Assert(m.s.SetRound(NewRoundRecord(m.id, m.seed, m.r)), qt.IsNil)
}

func (m *mirror) signUp(pub *babyjub.PublicKey) int {
	m.c.Helper()
	idx, err := m.r.SignUp(pub)
	m.c.Assert(err, qt.IsNil)
	_, err = m.s.AppendEvent(m.id, SignUpEvent(pub))
	m.c.Assert(err, qt.IsNil)
	m.save()
	return idx
}

func (m *mirror) vote(signer *babyjub.PrivateKey, cmd *processor.Command) {
	m.c.Helper()
	msg, err := processor.EncryptCommand(cmd, signer, m.r.CoordinatorPubKey())
	m.c.Assert(err, qt.IsNil)
	_, err = m.r.PublishMessage(msg)
	m.c.Assert(err, qt.IsNil)
	_, err = m.s.AppendMessage(m.id, msg)
	m.c.Assert(err, qt.IsNil)
	m.save()
}

func (m *mirror) deactivate(signer *babyjub.PrivateKey, index uint64) {
	m.c.Helper()
	cmd := &processor.Command{
		Nonce:      1,
		StateIndex: index,
		NewVotes:   big.NewInt(0),
		Salt:       big.NewInt(int64(index) + 1),
		NewPubKey:  signer.Public(),
	}
	msg, err := processor.EncryptCommand(cmd, signer, m.r.CoordinatorPubKey())
	m.c.Assert(err, qt.IsNil)
	_, err = m.r.PublishDeactivateMessage(msg)
	m.c.Assert(err, qt.IsNil)
	_, err = m.s.AppendDeactivateMessage(m.id, msg)
	m.c.Assert(err, qt.IsNil)
	m.save()
}

func (m *mirror) drainDeactivate(salt int64) *processor.DeactivateOutput {
	m.c.Helper()
	out, err := m.r.ProcessDeactivateMessages(big.NewInt(salt))
	m.c.Assert(err, qt.IsNil)
	_, err = m.s.AppendEvent(m.id, DeactivateBatchEvent(big.NewInt(salt), out.BatchEnd))
	m.c.Assert(err, qt.IsNil)
	_, err = m.s.AppendCommitment(m.id, &CommitmentEntry{
		Kind:       CommitDeactivate,
		InputHash:  types.FromBigInt(out.InputHash),
		Commitment: types.FromBigInt(out.NewDeactivateCommitment),
		Root:       types.FromBigInt(out.NewDeactivateRoot),
	})
	m.c.Assert(err, qt.IsNil)
	m.save()
	return out
}

func (m *mirror) addNewKey(nullifier *big.Int, pub *babyjub.PublicKey, status *elgamal.Ciphertext) int {
	m.c.Helper()
	idx, err := m.r.AddNewKey(nullifier, pub, status)
	m.c.Assert(err, qt.IsNil)
	_, err = m.s.AppendEvent(m.id, NewKeyEvent(nullifier, pub, status))
	m.c.Assert(err, qt.IsNil)
	m.save()
	return idx
}

func (m *mirror) endVotePeriod() {
	m.c.Helper()
	m.c.Assert(m.r.EndVotePeriod(), qt.IsNil)
	fp, err := processor.MessagesFingerprint(m.r.Messages())
	m.c.Assert(err, qt.IsNil)
	_, err = m.s.AppendEvent(m.id, EndVotePeriodEvent(fp))
	m.c.Assert(err, qt.IsNil)
	m.save()
}

func (m *mirror) processBatch(salt int64) *processor.ProcessOutput {
	m.c.Helper()
	out, err := m.r.ProcessMessages(big.NewInt(salt))
	m.c.Assert(err, qt.IsNil)
	_, err = m.s.AppendEvent(m.id, MessageBatchEvent(big.NewInt(salt)))
	m.c.Assert(err, qt.IsNil)
	_, err = m.s.AppendCommitment(m.id, &CommitmentEntry{
		Kind:       CommitProcess,
		InputHash:  types.FromBigInt(out.InputHash),
		Commitment: types.FromBigInt(out.NewStateCommitment),
		Root:       types.FromBigInt(out.NewStateRoot),
	})
	m.c.Assert(err, qt.IsNil)
	m.save()
	return out
}

func (m *mirror) tallyBatch(salt int64) *processor.TallyOutput {
	m.c.Helper()
	out, err := m.r.TallyVotes(big.NewInt(salt))
	m.c.Assert(err, qt.IsNil)
	_, err = m.s.AppendEvent(m.id, TallyBatchEvent(big.NewInt(salt)))
	m.c.Assert(err, qt.IsNil)
	_, err = m.s.AppendCommitment(m.id, &CommitmentEntry{
		Kind:       CommitTally,
		InputHash:  types.FromBigInt(out.InputHash),
		Commitment: types.FromBigInt(out.NewTallyCommitment),
		Root:       types.FromBigInt(out.ResultsRoot),
	})
	m.c.Assert(err, qt.IsNil)
	m.save()
	return out
}

// rerandomizedStatus rerandomizes a deactivate ciphertext against the
// round's coordinator key, as a voter would before minting a new leaf.
func rerandomizedStatus(c *qt.C, r *processor.Round, ct *elgamal.Ciphertext) *elgamal.Ciphertext {
	c.Helper()
	coordPoint := curves.New(curves.CurveTypeBabyJubJub).SetPoint(
		r.CoordinatorPubKey().X, r.CoordinatorPubKey().Y)
	rnd, err := babyjub.RandomScalar()
	c.Assert(err, qt.IsNil)
	status, err := elgamal.Rerandomize(coordPoint, ct, rnd)
	c.Assert(err, qt.IsNil)
	return status
}

func TestRoundRecordRoundTrip(t *testing.T) {
	c := qt.New(t)
	s := New(metadb.NewTest(t))

	m := newMirror(c, s, "round-1")
	voter := babyjub.NewRandomKey()
	m.signUp(voter.Public())
	m.vote(voter, &processor.Command{
		Nonce: 1, StateIndex: 1, VoteOptionIndex: 2,
		NewVotes: big.NewInt(4), Salt: big.NewInt(9), NewPubKey: voter.Public(),
	})

	rec, err := s.Round("round-1")
	c.Assert(err, qt.IsNil)
	c.Assert(rec.ID, qt.Equals, "round-1")
	c.Assert(rec.Params, qt.DeepEquals, testParams())
	c.Assert(rec.Phase, qt.Equals, types.PhaseFilling)
	c.Assert(rec.NumSignUps, qt.Equals, 1)
	c.Assert(rec.MessageCount, qt.Equals, 1)
	c.Assert(rec.DeactivateCount, qt.Equals, 0)
	c.Assert(rec.MessageChainHead.Equal(types.FromBigInt(m.r.MessageChainHead())), qt.IsTrue)
	c.Assert(rec.DeactivateCommitment.Equal(types.FromBigInt(m.r.DeactivateCommitment())), qt.IsTrue)
	c.Assert(rec.StateCommitment, qt.IsNil)

	key, err := rec.CoordinatorKey()
	c.Assert(err, qt.IsNil)
	c.Assert(key.Public().Equal(m.r.CoordinatorPubKey()), qt.IsTrue)

	_, err = s.Round("absent")
	c.Assert(errors.Is(err, ErrNotFound), qt.IsTrue)

	newMirror(c, s, "round-2")
	ids, err := s.ListRounds()
	c.Assert(err, qt.IsNil)
	c.Assert(ids, qt.DeepEquals, []string{"round-1", "round-2"})

	c.Assert(s.DeleteRound("round-1"), qt.IsNil)
	_, err = s.Round("round-1")
	c.Assert(errors.Is(err, ErrNotFound), qt.IsTrue)
	msgs, err := s.Messages("round-1")
	c.Assert(err, qt.IsNil)
	c.Assert(len(msgs), qt.Equals, 0)
	events, err := s.Events("round-1")
	c.Assert(err, qt.IsNil)
	c.Assert(len(events), qt.Equals, 0)
}

func TestMessageLogOrder(t *testing.T) {
	c := qt.New(t)
	s := New(metadb.NewTest(t))

	// Eleven entries force the sequence past one digit, so ordering would
	// break if keys were not fixed width.
	for i := 0; i < 11; i++ {
		seq, err := s.AppendMessage("r", testMessage(c, int64(i)))
		c.Assert(err, qt.IsNil)
		c.Assert(seq, qt.Equals, uint64(i))
	}
	for i := 0; i < 3; i++ {
		seq, err := s.AppendDeactivateMessage("r", testMessage(c, int64(50+i)))
		c.Assert(err, qt.IsNil)
		c.Assert(seq, qt.Equals, uint64(i))
	}

	msgs, err := s.Messages("r")
	c.Assert(err, qt.IsNil)
	c.Assert(len(msgs), qt.Equals, 11)
	for i, msg := range msgs {
		c.Assert(msg.Data[0].Int64(), qt.Equals, int64(i*100))
	}
	dmsgs, err := s.DeactivateMessages("r")
	c.Assert(err, qt.IsNil)
	c.Assert(len(dmsgs), qt.Equals, 3)
	for i, msg := range dmsgs {
		c.Assert(msg.Data[0].Int64(), qt.Equals, int64((50+i)*100))
	}

	// Logs of other rounds are independent.
	other, err := s.Messages("other")
	c.Assert(err, qt.IsNil)
	c.Assert(len(other), qt.Equals, 0)
}

func TestSequencePersistsAcrossInstances(t *testing.T) {
	c := qt.New(t)
	database := metadb.NewTest(t)

	s1 := New(database)
	for i := 0; i < 3; i++ {
		_, err := s1.AppendMessage("r", testMessage(c, int64(i)))
		c.Assert(err, qt.IsNil)
	}

	// A fresh instance recounts the log instead of restarting at zero.
	s2 := New(database)
	seq, err := s2.AppendMessage("r", testMessage(c, 3))
	c.Assert(err, qt.IsNil)
	c.Assert(seq, qt.Equals, uint64(3))

	msgs, err := s2.Messages("r")
	c.Assert(err, qt.IsNil)
	c.Assert(len(msgs), qt.Equals, 4)
	for i, msg := range msgs {
		c.Assert(msg.Data[0].Int64(), qt.Equals, int64(i*100))
	}
}

func TestNullifierSetPersistsAndScopes(t *testing.T) {
	c := qt.New(t)
	database := metadb.NewTest(t)
	s := New(database)

	ns := s.RoundNullifiers("a")
	seen, err := ns.Has(big.NewInt(42))
	c.Assert(err, qt.IsNil)
	c.Assert(seen, qt.IsFalse)

	c.Assert(ns.Add(big.NewInt(42)), qt.IsNil)
	seen, err = ns.Has(big.NewInt(42))
	c.Assert(err, qt.IsNil)
	c.Assert(seen, qt.IsTrue)

	// Another round does not see it; another instance does.
	seen, err = s.RoundNullifiers("b").Has(big.NewInt(42))
	c.Assert(err, qt.IsNil)
	c.Assert(seen, qt.IsFalse)
	seen, err = New(database).RoundNullifiers("a").Has(big.NewInt(42))
	c.Assert(err, qt.IsNil)
	c.Assert(seen, qt.IsTrue)
}

func TestCommitmentLog(t *testing.T) {
	c := qt.New(t)
	s := New(metadb.NewTest(t))

	kinds := []string{CommitDeactivate, CommitProcess, CommitTally}
	for i, kind := range kinds {
		_, err := s.AppendCommitment("r", &CommitmentEntry{
			Kind:       kind,
			InputHash:  types.NewInt(100 + i),
			Commitment: types.NewInt(200 + i),
			Root:       types.NewInt(300 + i),
		})
		c.Assert(err, qt.IsNil)
	}

	entries, err := s.Commitments("r")
	c.Assert(err, qt.IsNil)
	c.Assert(len(entries), qt.Equals, 3)
	for i, entry := range entries {
		c.Assert(entry.Kind, qt.Equals, kinds[i])
		c.Assert(entry.InputHash.Equal(types.NewInt(100+i)), qt.IsTrue)
		c.Assert(entry.Commitment.Equal(types.NewInt(200+i)), qt.IsTrue)
		c.Assert(entry.Root.Equal(types.NewInt(300+i)), qt.IsTrue)
	}
}

func TestLedgerEventRoundTrip(t *testing.T) {
	c := qt.New(t)
	s := New(metadb.NewTest(t))

	coord := babyjub.NewRandomKey()
	voter := babyjub.NewRandomKey()
	coordPoint := curves.New(curves.CurveTypeBabyJubJub).SetPoint(
		coord.Public().X, coord.Public().Y)
	status, err := elgamal.EncryptOdevity(coordPoint, false, big.NewInt(7))
	c.Assert(err, qt.IsNil)

	in := []*Event{
		SignUpEvent(voter.Public()),
		NewKeyEvent(voter.Nullifier(), voter.Public(), status),
		DeactivateBatchEvent(big.NewInt(11), 4),
		EndVotePeriodEvent(big.NewInt(12)),
		MessageBatchEvent(big.NewInt(13)),
		TallyBatchEvent(big.NewInt(14)),
	}
	for _, ev := range in {
		_, err := s.AppendEvent("r", ev)
		c.Assert(err, qt.IsNil)
	}

	out, err := s.Events("r")
	c.Assert(err, qt.IsNil)
	c.Assert(len(out), qt.Equals, len(in))

	c.Assert(out[0].Kind, qt.Equals, EventSignUp)
	c.Assert(out[0].PubKeyX.Equal(types.FromBigInt(voter.Public().X)), qt.IsTrue)
	c.Assert(out[0].PubKeyY.Equal(types.FromBigInt(voter.Public().Y)), qt.IsTrue)

	c.Assert(out[1].Kind, qt.Equals, EventNewKey)
	c.Assert(out[1].Nullifier.Equal(types.FromBigInt(voter.Nullifier())), qt.IsTrue)
	got, err := decodeStatus(out[1].Status)
	c.Assert(err, qt.IsNil)
	c.Assert(elgamal.DecryptOdevity(coord.Scalar(), got), qt.IsFalse)

	c.Assert(out[2].Kind, qt.Equals, EventDeactivateBatch)
	c.Assert(out[2].Salt.Equal(types.NewInt(11)), qt.IsTrue)
	c.Assert(out[2].BatchEnd, qt.Equals, 4)

	c.Assert(out[3].Kind, qt.Equals, EventEndVotePeriod)
	c.Assert(out[3].Fingerprint.Equal(types.NewInt(12)), qt.IsTrue)

	c.Assert(out[4].Kind, qt.Equals, EventMessageBatch)
	c.Assert(out[4].Salt.Equal(types.NewInt(13)), qt.IsTrue)
	c.Assert(out[5].Kind, qt.Equals, EventTallyBatch)
	c.Assert(out[5].Salt.Equal(types.NewInt(14)), qt.IsTrue)
}

func TestLoadRoundFullLifecycle(t *testing.T) {
	c := qt.New(t)
	database := metadb.NewTest(t)
	s := New(database)
	m := newMirror(c, s, "round")

	voter1 := babyjub.NewRandomKey()
	voter2 := babyjub.NewRandomKey()
	c.Assert(m.signUp(voter1.Public()), qt.Equals, 1)
	c.Assert(m.signUp(voter2.Public()), qt.Equals, 2)

	// voter1 deactivates and mints a fresh key from the rerandomized
	// deactivate entry.
	m.deactivate(voter1, 1)
	out := m.drainDeactivate(11)
	c.Assert(out.Witness[0].Valid, qt.IsTrue)
	status := rerandomizedStatus(c, m.r, out.Witness[0].Ciphertext)
	newKey := babyjub.NewRandomKey()
	idx := m.addNewKey(voter1.Nullifier(), newKey.Public(), status)
	c.Assert(idx, qt.Equals, 3)

	m.vote(newKey, &processor.Command{
		Nonce: 1, StateIndex: 3, VoteOptionIndex: 4,
		NewVotes: big.NewInt(6), Salt: big.NewInt(1), NewPubKey: newKey.Public(),
	})
	m.vote(voter2, &processor.Command{
		Nonce: 1, StateIndex: 2, VoteOptionIndex: 2,
		NewVotes: big.NewInt(3), Salt: big.NewInt(2), NewPubKey: voter2.Public(),
	})

	m.endVotePeriod()
	for salt := int64(21); m.r.Phase() == types.PhaseProcessing; salt++ {
		m.processBatch(salt)
	}
	for salt := int64(31); m.r.Phase() == types.PhaseTallying; salt++ {
		m.tallyBatch(salt)
	}
	c.Assert(m.r.Phase(), qt.Equals, types.PhaseEnded)

	// Reload through a fresh instance over the same database.
	s2 := New(database)
	r2, rec2, err := s2.LoadRound("round")
	c.Assert(err, qt.IsNil)
	c.Assert(rec2.Phase, qt.Equals, types.PhaseEnded)
	c.Assert(r2.Phase(), qt.Equals, types.PhaseEnded)
	c.Assert(r2.NumSignUps(), qt.Equals, m.r.NumSignUps())
	c.Assert(r2.State().StateRoot().Cmp(m.r.State().StateRoot()), qt.Equals, 0)
	c.Assert(r2.StateCommitment().Cmp(m.r.StateCommitment()), qt.Equals, 0)
	c.Assert(r2.TallyCommitment().Cmp(m.r.TallyCommitment()), qt.Equals, 0)
	c.Assert(r2.DeactivateCommitment().Cmp(m.r.DeactivateCommitment()), qt.Equals, 0)

	want, err := m.r.Results()
	c.Assert(err, qt.IsNil)
	got, err := r2.Results()
	c.Assert(err, qt.IsNil)
	c.Assert(len(got), qt.Equals, len(want))
	for i := range want {
		c.Assert(got[i].Count.Cmp(want[i].Count), qt.Equals, 0, qt.Commentf("option %d", i))
		c.Assert(got[i].QuadraticCost.Cmp(want[i].QuadraticCost), qt.Equals, 0, qt.Commentf("option %d", i))
	}
	c.Assert(got[4].Count.Int64(), qt.Equals, int64(6))
	c.Assert(got[2].Count.Int64(), qt.Equals, int64(3))

	// The spent nullifier survives the reload.
	seen, err := s2.RoundNullifiers("round").Has(voter1.Nullifier())
	c.Assert(err, qt.IsNil)
	c.Assert(seen, qt.IsTrue)
}

func TestLoadRoundMidProcessing(t *testing.T) {
	c := qt.New(t)
	database := metadb.NewTest(t)
	s := New(database)
	m := newMirror(c, s, "round")

	voter := babyjub.NewRandomKey()
	m.signUp(voter.Public())
	for i := 0; i < 6; i++ {
		m.vote(voter, &processor.Command{
			Nonce: uint64(i + 1), StateIndex: 1, VoteOptionIndex: uint64(i % 5),
			NewVotes: big.NewInt(1), Salt: big.NewInt(int64(i)), NewPubKey: voter.Public(),
		})
	}
	m.endVotePeriod()
	c.Assert(m.r.MessageCount(), qt.Equals, 10)
	m.processBatch(41)

	r2, rec2, err := New(database).LoadRound("round")
	c.Assert(err, qt.IsNil)
	c.Assert(rec2.Phase, qt.Equals, types.PhaseProcessing)
	c.Assert(r2.Phase(), qt.Equals, types.PhaseProcessing)

	// Both the original and the reloaded round fold the remaining batch
	// with the same salt and must agree on every output.
	wantOut, err := m.r.ProcessMessages(big.NewInt(42))
	c.Assert(err, qt.IsNil)
	gotOut, err := r2.ProcessMessages(big.NewInt(42))
	c.Assert(err, qt.IsNil)
	c.Assert(gotOut.InputHash.Cmp(wantOut.InputHash), qt.Equals, 0)
	c.Assert(gotOut.NewStateCommitment.Cmp(wantOut.NewStateCommitment), qt.Equals, 0)

	wantTally, err := m.r.TallyVotes(big.NewInt(43))
	c.Assert(err, qt.IsNil)
	gotTally, err := r2.TallyVotes(big.NewInt(43))
	c.Assert(err, qt.IsNil)
	c.Assert(gotTally.InputHash.Cmp(wantTally.InputHash), qt.Equals, 0)
	c.Assert(gotTally.NewTallyCommitment.Cmp(wantTally.NewTallyCommitment), qt.Equals, 0)
	c.Assert(r2.Phase(), qt.Equals, types.PhaseEnded)
}

func TestLoadRoundHealsStaleRecord(t *testing.T) {
	c := qt.New(t)
	database := metadb.NewTest(t)
	s := New(database)
	m := newMirror(c, s, "round")

	voter := babyjub.NewRandomKey()
	m.signUp(voter.Public())
	m.vote(voter, &processor.Command{
		Nonce: 1, StateIndex: 1, VoteOptionIndex: 0,
		NewVotes: big.NewInt(1), Salt: big.NewInt(1), NewPubKey: voter.Public(),
	})

	// A crash between the log append and the record snapshot leaves the
	// record one message behind.
	msg, err := processor.EncryptCommand(&processor.Command{
		Nonce: 2, StateIndex: 1, VoteOptionIndex: 1,
		NewVotes: big.NewInt(2), Salt: big.NewInt(2), NewPubKey: voter.Public(),
	}, voter, m.r.CoordinatorPubKey())
	c.Assert(err, qt.IsNil)
	_, err = s.AppendMessage("round", msg)
	c.Assert(err, qt.IsNil)

	r2, rec2, err := New(database).LoadRound("round")
	c.Assert(err, qt.IsNil)
	c.Assert(rec2.MessageCount, qt.Equals, 2)
	c.Assert(r2.MessageCount(), qt.Equals, 2)

	// The stored record is healed in place.
	rec, err := s.Round("round")
	c.Assert(err, qt.IsNil)
	c.Assert(rec.MessageCount, qt.Equals, 2)
	c.Assert(rec.MessageChainHead.Equal(types.FromBigInt(r2.MessageChainHead())), qt.IsTrue)
}

func TestLoadRoundRejectsCorruptChainHead(t *testing.T) {
	c := qt.New(t)
	database := metadb.NewTest(t)
	s := New(database)
	m := newMirror(c, s, "round")

	voter := babyjub.NewRandomKey()
	m.signUp(voter.Public())
	m.vote(voter, &processor.Command{
		Nonce: 1, StateIndex: 1, VoteOptionIndex: 0,
		NewVotes: big.NewInt(1), Salt: big.NewInt(1), NewPubKey: voter.Public(),
	})

	rec, err := s.Round("round")
	c.Assert(err, qt.IsNil)
	rec.MessageChainHead = types.NewInt(12345)
	c.Assert(s.SetRound(rec), qt.IsNil)

	_, _, err = New(database).LoadRound("round")
	c.Assert(err, qt.ErrorMatches, ".*message log does not match the stored chain head.*")
}

func TestLoadRoundRejectsFingerprintMismatch(t *testing.T) {
	c := qt.New(t)
	database := metadb.NewTest(t)
	s := New(database)
	m := newMirror(c, s, "round")

	voter := babyjub.NewRandomKey()
	m.signUp(voter.Public())
	m.vote(voter, &processor.Command{
		Nonce: 1, StateIndex: 1, VoteOptionIndex: 0,
		NewVotes: big.NewInt(1), Salt: big.NewInt(1), NewPubKey: voter.Public(),
	})

	c.Assert(m.r.EndVotePeriod(), qt.IsNil)
	_, err := s.AppendEvent("round", EndVotePeriodEvent(big.NewInt(999)))
	c.Assert(err, qt.IsNil)
	m.save()

	_, _, err = New(database).LoadRound("round")
	c.Assert(err, qt.ErrorMatches, ".*fingerprint mismatch.*")
}

func TestLoadRoundRejectsTamperedBatchSalt(t *testing.T) {
	c := qt.New(t)
	database := metadb.NewTest(t)
	s := New(database)
	m := newMirror(c, s, "round")

	voter := babyjub.NewRandomKey()
	m.signUp(voter.Public())
	m.deactivate(voter, 1)
	m.drainDeactivate(11)

	// Rewrite the batch event with a different salt. The replay then folds
	// to a commitment the log never published, which must fail the load
	// instead of being healed into the record.
	events, err := s.Events("round")
	c.Assert(err, qt.IsNil)
	c.Assert(events[1].Kind, qt.Equals, EventDeactivateBatch)
	events[1].Salt = types.NewInt(999)
	c.Assert(s.setArtifact(ledgerPrefix, seqKey("round", 1), events[1]), qt.IsNil)

	_, _, err = New(database).LoadRound("round")
	c.Assert(err, qt.ErrorMatches, ".*replayed deactivate commitment.*does not match logged.*")
}

func TestLoadRoundRejectsSurplusCommitment(t *testing.T) {
	c := qt.New(t)
	database := metadb.NewTest(t)
	s := New(database)
	m := newMirror(c, s, "round")

	voter := babyjub.NewRandomKey()
	m.signUp(voter.Public())

	// A commitment entry with no ledger event behind it cannot be the
	// crash window, which only ever leaves the ledger ahead.
	_, err := s.AppendCommitment("round", &CommitmentEntry{
		Kind:       CommitProcess,
		InputHash:  types.NewInt(1),
		Commitment: types.NewInt(2),
	})
	c.Assert(err, qt.IsNil)

	_, _, err = New(database).LoadRound("round")
	c.Assert(err, qt.ErrorMatches, ".*entries past the last ledger batch.*")
}

func TestLoadRoundMissing(t *testing.T) {
	c := qt.New(t)
	s := New(metadb.NewTest(t))
	_, _, err := s.LoadRound("absent")
	c.Assert(errors.Is(err, ErrNotFound), qt.IsTrue)
}

func TestDeleteRoundDropsNullifiers(t *testing.T) {
	c := qt.New(t)
	s := New(metadb.NewTest(t))

	ns := s.RoundNullifiers("r")
	c.Assert(ns.Add(big.NewInt(7)), qt.IsNil)
	c.Assert(s.SetRound(&RoundRecord{ID: "r", Params: testParams()}), qt.IsNil)

	c.Assert(s.DeleteRound("r"), qt.IsNil)
	seen, err := s.RoundNullifiers("r").Has(big.NewInt(7))
	c.Assert(err, qt.IsNil)
	c.Assert(seen, qt.IsFalse)
}

func TestRoundScopesDoNotCollide(t *testing.T) {
	c := qt.New(t)
	s := New(metadb.NewTest(t))

	// "ab" and "a" share a byte prefix; the scope separator keeps their
	// logs apart.
	_, err := s.AppendMessage("a", testMessage(c, 1))
	c.Assert(err, qt.IsNil)
	_, err = s.AppendMessage("ab", testMessage(c, 2))
	c.Assert(err, qt.IsNil)

	msgs, err := s.Messages("a")
	c.Assert(err, qt.IsNil)
	c.Assert(len(msgs), qt.Equals, 1)
	c.Assert(msgs[0].Data[0].Int64(), qt.Equals, int64(100))

	msgs, err = s.Messages("ab")
	c.Assert(err, qt.IsNil)
	c.Assert(len(msgs), qt.Equals, 1)
	c.Assert(msgs[0].Data[0].Int64(), qt.Equals, int64(200))
}

func TestEventLogStopsOnGarbage(t *testing.T) {
	c := qt.New(t)
	s := New(metadb.NewTest(t))

	_, err := s.AppendEvent("r", MessageBatchEvent(big.NewInt(1)))
	c.Assert(err, qt.IsNil)
	// A raw write bypassing the codec corrupts the log.
	c.Assert(s.setArtifact(ledgerPrefix, seqKey("r", 1), "garbage"), qt.IsNil)
	s.dropSeq(ledgerPrefix, "r")

	_, err = s.Events("r")
	c.Assert(err, qt.ErrorMatches, fmt.Sprintf(".*decode event 1 of round %s.*", "r"))
}
