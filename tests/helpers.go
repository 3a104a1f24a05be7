package tests

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/vocdoni/amaci/api"
	"github.com/vocdoni/amaci/api/client"
	"github.com/vocdoni/amaci/crypto/babyjub"
	"github.com/vocdoni/amaci/processor"
	"github.com/vocdoni/amaci/service"
	"github.com/vocdoni/amaci/storage"
	"github.com/vocdoni/amaci/types"
	"github.com/vocdoni/amaci/util"
)

// testBatchInterval keeps the background worker snappy during tests.
const testBatchInterval = 50 * time.Millisecond

// NewTestService starts a coordinator without a prover and its API server
// on a random port. The storage is in-memory and dropped with the test.
func NewTestService(t *testing.T, ctx context.Context) (*service.Coordinator, int) {
	stg := storage.New(metadb.NewTest(t))
	coordinator, err := service.New(stg, nil, testBatchInterval)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, coordinator.Start(ctx), qt.IsNil)
	t.Cleanup(func() {
		if err := coordinator.Stop(); err != nil {
			t.Logf("failed to stop coordinator: %v", err)
		}
	})

	port := util.RandomInt(10000, 60000)
	_, err = api.New(&api.APIConfig{
		Host:        "127.0.0.1",
		Port:        port,
		Storage:     stg,
		Coordinator: coordinator,
	})
	qt.Assert(t, err, qt.IsNil)
	return coordinator, port
}

// NewTestClient connects to the test API server, retrying until the server
// goroutine is listening.
func NewTestClient(port int) (*client.HTTPclient, error) {
	var cli *client.HTTPclient
	var err error
	for i := 0; i < 10; i++ {
		if cli, err = client.New(fmt.Sprintf("http://127.0.0.1:%d", port)); err == nil {
			return cli, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil, err
}

// testRoundParams is the small round geometry used across the tests:
// 25 state slots, batches of 5, 5 vote options.
func testRoundParams() types.RoundParams {
	return types.RoundParams{
		StateTreeDepth:      2,
		IntStateTreeDepth:   1,
		VoteOptionTreeDepth: 1,
		MaxVoteOptions:      5,
		InitialVoiceCredits: 100,
		IsQuadraticCost:     true,
	}
}

// createRound creates a round through the API and returns its info.
func createRound(c *qt.C, cli *client.HTTPclient, id string, params types.RoundParams) *api.RoundInfo {
	c.Helper()
	body, status, err := cli.Request(client.HTTPPOST, &api.NewRound{ID: id, Params: params}, nil, api.RoundsEndpoint)
	c.Assert(err, qt.IsNil)
	c.Assert(status, qt.Equals, http.StatusOK, qt.Commentf("body: %s", body))
	info := &api.RoundInfo{}
	c.Assert(json.Unmarshal(body, info), qt.IsNil)
	return info
}

// coordinatorKey rebuilds the round's coordinator public key from its info.
func coordinatorKey(info *api.RoundInfo) *babyjub.PublicKey {
	return &babyjub.PublicKey{
		X: info.CoordPubKeyX.MathBigInt(),
		Y: info.CoordPubKeyY.MathBigInt(),
	}
}

// signUp registers a voter key through the API and returns its state index.
func signUp(c *qt.C, cli *client.HTTPclient, roundID string, key *babyjub.PrivateKey) int {
	c.Helper()
	pub := key.Public()
	req := &api.SignUp{PubKeyX: types.FromBigInt(pub.X), PubKeyY: types.FromBigInt(pub.Y)}
	body, status, err := cli.Request(client.HTTPPOST, req, nil, "rounds", roundID, "signup")
	c.Assert(err, qt.IsNil)
	c.Assert(status, qt.Equals, http.StatusOK, qt.Commentf("body: %s", body))
	resp := &api.IndexResponse{}
	c.Assert(json.Unmarshal(body, resp), qt.IsNil)
	return resp.Index
}

// vote encrypts and publishes a voting command through the API.
func vote(c *qt.C, cli *client.HTTPclient, roundID string, key *babyjub.PrivateKey,
	coordPub *babyjub.PublicKey, cmd *processor.Command,
) {
	c.Helper()
	msg, err := processor.EncryptCommand(cmd, key, coordPub)
	c.Assert(err, qt.IsNil)
	body, status, err := cli.Request(client.HTTPPOST, api.FromProcessor(msg), nil, "rounds", roundID, "messages")
	c.Assert(err, qt.IsNil)
	c.Assert(status, qt.Equals, http.StatusOK, qt.Commentf("body: %s", body))
}

// deactivate encrypts and publishes a key deactivation request.
func deactivate(c *qt.C, cli *client.HTTPclient, roundID string, key *babyjub.PrivateKey,
	coordPub *babyjub.PublicKey, stateIndex uint64,
) {
	c.Helper()
	cmd := &processor.Command{
		Nonce:      1,
		StateIndex: stateIndex,
		NewVotes:   big.NewInt(0),
		Salt:       util.RandomScalarBits(types.PackedSaltBits),
		NewPubKey:  key.Public(),
	}
	msg, err := processor.EncryptCommand(cmd, key, coordPub)
	c.Assert(err, qt.IsNil)
	body, status, err := cli.Request(client.HTTPPOST, api.FromProcessor(msg), nil, "rounds", roundID, "deactivate")
	c.Assert(err, qt.IsNil)
	c.Assert(status, qt.Equals, http.StatusOK, qt.Commentf("body: %s", body))
}

// waitForPhase polls the round until it reaches the wanted phase.
func waitForPhase(c *qt.C, cli *client.HTTPclient, roundID, phase string, timeout time.Duration) *api.RoundInfo {
	c.Helper()
	deadline := time.Now().Add(timeout)
	for {
		body, status, err := cli.Request(client.HTTPGET, nil, nil, "rounds", roundID)
		c.Assert(err, qt.IsNil)
		c.Assert(status, qt.Equals, http.StatusOK, qt.Commentf("body: %s", body))
		info := &api.RoundInfo{}
		c.Assert(json.Unmarshal(body, info), qt.IsNil)
		if info.Phase == phase {
			return info
		}
		if time.Now().After(deadline) {
			c.Fatalf("round %s stuck in phase %s waiting for %s", roundID, info.Phase, phase)
		}
		time.Sleep(testBatchInterval)
	}
}
