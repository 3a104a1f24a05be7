package processor

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/vocdoni/amaci/crypto/babyjub"
)

func TestCommandPackRoundTrip(t *testing.T) {
	c := qt.New(t)

	key := babyjub.NewRandomKey()
	cmd := &Command{
		Nonce:           1,
		StateIndex:      7,
		VoteOptionIndex: 13,
		NewVotes:        big.NewInt(42),
		Salt:            big.NewInt(0xdeadbeef),
		NewPubKey:       key.Public(),
	}
	packed, err := cmd.Pack()
	c.Assert(err, qt.IsNil)

	got, err := UnpackCommand(packed, key.Public())
	c.Assert(err, qt.IsNil)
	c.Assert(got.Nonce, qt.Equals, cmd.Nonce)
	c.Assert(got.StateIndex, qt.Equals, cmd.StateIndex)
	c.Assert(got.VoteOptionIndex, qt.Equals, cmd.VoteOptionIndex)
	c.Assert(got.NewVotes.Cmp(cmd.NewVotes), qt.Equals, 0)
	c.Assert(got.Salt.Cmp(cmd.Salt), qt.Equals, 0)

	repacked, err := got.Pack()
	c.Assert(err, qt.IsNil)
	c.Assert(repacked.Cmp(packed), qt.Equals, 0)
}

func TestCommandPackWindows(t *testing.T) {
	c := qt.New(t)

	key := babyjub.NewRandomKey()
	base := func() *Command {
		return &Command{
			Nonce:           1,
			StateIndex:      1,
			VoteOptionIndex: 1,
			NewVotes:        big.NewInt(1),
			Salt:            big.NewInt(1),
			NewPubKey:       key.Public(),
		}
	}

	cmd := base()
	cmd.Nonce = 1 << 32
	_, err := cmd.Pack()
	c.Assert(err, qt.IsNotNil)

	cmd = base()
	cmd.StateIndex = 1 << 32
	_, err = cmd.Pack()
	c.Assert(err, qt.IsNotNil)

	cmd = base()
	cmd.VoteOptionIndex = 1 << 32
	_, err = cmd.Pack()
	c.Assert(err, qt.IsNotNil)

	cmd = base()
	cmd.NewVotes = new(big.Int).Lsh(big.NewInt(1), 96)
	_, err = cmd.Pack()
	c.Assert(err, qt.IsNotNil)

	cmd = base()
	cmd.Salt = new(big.Int).Lsh(big.NewInt(1), 56)
	_, err = cmd.Pack()
	c.Assert(err, qt.IsNotNil)

	// Largest admissible values still pack.
	cmd = base()
	cmd.Nonce = 1<<32 - 1
	cmd.StateIndex = 1<<32 - 1
	cmd.VoteOptionIndex = 1<<32 - 1
	cmd.NewVotes = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 96), big.NewInt(1))
	cmd.Salt = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 56), big.NewInt(1))
	packed, err := cmd.Pack()
	c.Assert(err, qt.IsNil)
	c.Assert(packed.BitLen() <= 248, qt.IsTrue)

	_, err = UnpackCommand(new(big.Int).Lsh(big.NewInt(1), 248), key.Public())
	c.Assert(err, qt.IsNotNil)
}

func TestCommandSignVerify(t *testing.T) {
	c := qt.New(t)

	key := babyjub.NewRandomKey()
	newKey := babyjub.NewRandomKey()
	cmd := &Command{
		Nonce:           1,
		StateIndex:      2,
		VoteOptionIndex: 0,
		NewVotes:        big.NewInt(9),
		Salt:            big.NewInt(1234),
		NewPubKey:       newKey.Public(),
	}
	sig, err := cmd.Sign(key)
	c.Assert(err, qt.IsNil)

	packed, err := cmd.Pack()
	c.Assert(err, qt.IsNil)
	ok, err := VerifyCommand(packed, cmd.NewPubKey, sig, key.Public())
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)

	// Another key does not verify, and neither does a tampered payload.
	ok, err = VerifyCommand(packed, cmd.NewPubKey, sig, newKey.Public())
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)
	tampered := new(big.Int).Add(packed, big.NewInt(1))
	ok, err = VerifyCommand(tampered, cmd.NewPubKey, sig, key.Public())
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)
}

func TestMessageEncryptDecrypt(t *testing.T) {
	c := qt.New(t)

	coordinator := babyjub.NewRandomKey()
	voter := babyjub.NewRandomKey()
	cmd := &Command{
		Nonce:           1,
		StateIndex:      3,
		VoteOptionIndex: 4,
		NewVotes:        big.NewInt(5),
		Salt:            big.NewInt(777),
		NewPubKey:       voter.Public(),
	}
	msg, err := EncryptCommand(cmd, voter, coordinator.Public())
	c.Assert(err, qt.IsNil)

	got, sig, err := msg.Decrypt(coordinator)
	c.Assert(err, qt.IsNil)
	c.Assert(got.StateIndex, qt.Equals, cmd.StateIndex)
	c.Assert(got.NewVotes.Int64(), qt.Equals, int64(5))
	c.Assert(got.NewPubKey.Equal(voter.Public()), qt.IsTrue)

	packed, err := got.Pack()
	c.Assert(err, qt.IsNil)
	ok, err := VerifyCommand(packed, got.NewPubKey, sig, voter.Public())
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
}

func TestPadMessageIsInert(t *testing.T) {
	c := qt.New(t)

	coordinator := babyjub.NewRandomKey()
	pad := PadMessage()
	_, _, err := pad.Decrypt(coordinator)
	c.Assert(err, qt.IsNotNil)
}

func TestChainHash(t *testing.T) {
	c := qt.New(t)

	coordinator := babyjub.NewRandomKey()
	voter := babyjub.NewRandomKey()
	cmd := &Command{
		Nonce:     1,
		NewVotes:  big.NewInt(1),
		Salt:      big.NewInt(1),
		NewPubKey: voter.Public(),
	}
	msg, err := EncryptCommand(cmd, voter, coordinator.Public())
	c.Assert(err, qt.IsNil)

	h1, err := msg.ChainHash(big.NewInt(0))
	c.Assert(err, qt.IsNil)
	h2, err := msg.ChainHash(h1)
	c.Assert(err, qt.IsNil)
	c.Assert(h1.Cmp(h2), qt.Not(qt.Equals), 0)

	// Deterministic for equal inputs.
	again, err := msg.ChainHash(big.NewInt(0))
	c.Assert(err, qt.IsNil)
	c.Assert(again.Cmp(h1), qt.Equals, 0)
}

func TestMessagesFingerprint(t *testing.T) {
	c := qt.New(t)

	coordinator := babyjub.NewRandomKey()
	voter := babyjub.NewRandomKey()
	msgs := make([]*Message, 0, 30)
	for i := 0; i < 30; i++ {
		cmd := &Command{
			Nonce:     uint64(i + 1),
			NewVotes:  big.NewInt(int64(i)),
			Salt:      big.NewInt(int64(i)),
			NewPubKey: voter.Public(),
		}
		msg, err := EncryptCommand(cmd, voter, coordinator.Public())
		c.Assert(err, qt.IsNil)
		msgs = append(msgs, msg)
	}

	fp1, err := MessagesFingerprint(msgs)
	c.Assert(err, qt.IsNil)
	fp2, err := MessagesFingerprint(msgs)
	c.Assert(err, qt.IsNil)
	c.Assert(fp1.Cmp(fp2), qt.Equals, 0)

	// Order matters.
	swapped := make([]*Message, len(msgs))
	copy(swapped, msgs)
	swapped[0], swapped[1] = swapped[1], swapped[0]
	fp3, err := MessagesFingerprint(swapped)
	c.Assert(err, qt.IsNil)
	c.Assert(fp3.Cmp(fp1), qt.Not(qt.Equals), 0)

	// Empty queue folds to zero.
	fp0, err := MessagesFingerprint(nil)
	c.Assert(err, qt.IsNil)
	c.Assert(fp0.Sign(), qt.Equals, 0)
}
