package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vocdoni/amaci/log"
	"github.com/vocdoni/amaci/processor"
	"github.com/vocdoni/amaci/service"
	"github.com/vocdoni/amaci/state"
)

// newRound creates a new voting round
// POST /rounds
func (a *API) newRound(w http.ResponseWriter, r *http.Request) {
	req := &NewRound{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.Withf("could not decode request body: %v", err).Write(w)
		return
	}
	if err := req.Params.Validate(); err != nil {
		ErrInvalidRoundParams.WithErr(err).Write(w)
		return
	}
	rec, err := a.coordinator.CreateRound(req.ID, req.Params)
	if err != nil {
		if errors.Is(err, service.ErrRoundExists) {
			ErrRoundExists.With(req.ID).Write(w)
			return
		}
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	log.Infow("new round", "roundId", rec.ID, "coordPubKeyX", rec.CoordPubKeyX.String())
	httpWriteJSON(w, roundInfo(rec))
}

// listRounds returns the ids of every round
// GET /rounds
func (a *API) listRounds(w http.ResponseWriter, r *http.Request) {
	httpWriteJSON(w, &RoundList{Rounds: a.coordinator.ListRounds()})
}

// round returns one round's public info
// GET /rounds/{roundId}
func (a *API) round(w http.ResponseWriter, r *http.Request) {
	rec, err := a.coordinator.Round(chi.URLParam(r, RoundURLParam))
	if err != nil {
		if errors.Is(err, service.ErrRoundNotFound) {
			ErrRoundNotFound.Write(w)
			return
		}
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, roundInfo(rec))
}

// endVotePeriod seals the round's message queue
// POST /rounds/{roundId}/end
func (a *API) endVotePeriod(w http.ResponseWriter, r *http.Request) {
	roundID := chi.URLParam(r, RoundURLParam)
	if err := a.coordinator.EndVotePeriod(roundID); err != nil {
		writeRoundError(w, err)
		return
	}
	httpWriteOK(w)
}

// results returns the final tally of an ended round
// GET /rounds/{roundId}/results
func (a *API) results(w http.ResponseWriter, r *http.Request) {
	results, err := a.coordinator.Results(chi.URLParam(r, RoundURLParam))
	if err != nil {
		writeRoundError(w, err)
		return
	}
	httpWriteJSON(w, &Results{Results: results})
}

// commitments returns the round's batch commitment log
// GET /rounds/{roundId}/commitments
func (a *API) commitments(w http.ResponseWriter, r *http.Request) {
	entries, err := a.coordinator.Commitments(chi.URLParam(r, RoundURLParam))
	if err != nil {
		writeRoundError(w, err)
		return
	}
	httpWriteJSON(w, &Commitments{Commitments: entries})
}

// writeRoundError maps service and processor errors to API errors.
func writeRoundError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrRoundNotFound):
		ErrRoundNotFound.Write(w)
	case errors.Is(err, processor.ErrWrongPhase):
		ErrWrongPhase.WithErr(err).Write(w)
	case errors.Is(err, processor.ErrNullifierSeen):
		ErrNullifierSpent.Write(w)
	case errors.Is(err, state.ErrRoundFull):
		ErrRoundFull.WithErr(err).Write(w)
	default:
		ErrGenericInternalServerError.WithErr(err).Write(w)
	}
}
