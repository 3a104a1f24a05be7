package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vocdoni/amaci/crypto/babyjub"
	"github.com/vocdoni/amaci/crypto/ecc/curves"
	"github.com/vocdoni/amaci/crypto/elgamal"
	"github.com/vocdoni/amaci/log"
)

// signUp registers a voter key in the round
// POST /rounds/{roundId}/signup
func (a *API) signUp(w http.ResponseWriter, r *http.Request) {
	roundID := chi.URLParam(r, RoundURLParam)
	req := &SignUp{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.Withf("could not decode request body: %v", err).Write(w)
		return
	}
	pub, err := req.PublicKey()
	if err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	index, err := a.coordinator.SignUp(roundID, pub)
	if err != nil {
		writeRoundError(w, err)
		return
	}
	log.Debugw("voter signed up", "roundId", roundID, "index", index)
	httpWriteJSON(w, &IndexResponse{Index: index})
}

// publishMessage accepts an encrypted voting command
// POST /rounds/{roundId}/messages
func (a *API) publishMessage(w http.ResponseWriter, r *http.Request) {
	a.acceptMessage(w, r, false)
}

// publishDeactivateMessage accepts an encrypted key deactivation request
// POST /rounds/{roundId}/deactivate
func (a *API) publishDeactivateMessage(w http.ResponseWriter, r *http.Request) {
	a.acceptMessage(w, r, true)
}

func (a *API) acceptMessage(w http.ResponseWriter, r *http.Request, deactivate bool) {
	roundID := chi.URLParam(r, RoundURLParam)
	req := &Message{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.Withf("could not decode request body: %v", err).Write(w)
		return
	}
	msg, err := req.ToProcessor()
	if err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	var index int
	if deactivate {
		index, err = a.coordinator.PublishDeactivateMessage(roundID, msg)
	} else {
		index, err = a.coordinator.PublishMessage(roundID, msg)
	}
	if err != nil {
		writeRoundError(w, err)
		return
	}
	httpWriteJSON(w, &IndexResponse{Index: index})
}

// addNewKey mints a state leaf from a deactivation nullifier
// POST /rounds/{roundId}/newkey
func (a *API) addNewKey(w http.ResponseWriter, r *http.Request) {
	roundID := chi.URLParam(r, RoundURLParam)
	req := &NewKey{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.Withf("could not decode request body: %v", err).Write(w)
		return
	}
	if req.Nullifier == nil || req.PubKeyX == nil || req.PubKeyY == nil {
		ErrMalformedBody.With("missing nullifier or public key").Write(w)
		return
	}
	status := elgamal.NewCiphertext(curves.New(curves.CurveTypeBabyJubJub))
	if err := status.Deserialize(req.Status); err != nil {
		ErrMalformedBody.WithErr(fmt.Errorf("invalid status ciphertext: %w", err)).Write(w)
		return
	}
	pub := &babyjub.PublicKey{X: req.PubKeyX.MathBigInt(), Y: req.PubKeyY.MathBigInt()}
	index, err := a.coordinator.AddNewKey(roundID, req.Nullifier.MathBigInt(), pub, status)
	if err != nil {
		writeRoundError(w, err)
		return
	}
	log.Debugw("new key added", "roundId", roundID, "index", index)
	httpWriteJSON(w, &IndexResponse{Index: index})
}
