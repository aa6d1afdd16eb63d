package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/okian/tourney/internal/domain/model"
	"github.com/okian/tourney/internal/domain/tournament"
)

// maxBodyBytes caps request bodies; problem statements are the largest field.
const maxBodyBytes = 1 << 20

// CreateRequest is the body of POST /tournaments.
type CreateRequest struct {
	RequestID  string       `json:"request_id,omitempty"`
	Problem    string       `json:"problem"`
	Goals      []model.Goal `json:"goals,omitempty"`
	Lanes      int          `json:"lanes"`
	MaxRounds  int          `json:"max_rounds"`
	StallLimit int          `json:"stall_limit,omitempty"`
}

// CreateResponse is returned by POST /tournaments.
type CreateResponse struct {
	Tournament model.Tournament `json:"tournament"`
	Duplicate  bool             `json:"duplicate"`
}

// RunRoundRequest optionally names the round to run; zero means the next one.
type RunRoundRequest struct {
	Round int `json:"round,omitempty"`
}

// AutoRunResponse is returned by POST /tournaments/{id}/start.
type AutoRunResponse struct {
	TournamentID string `json:"tournament_id"`
	Status       string `json:"status"`
}

// TournamentHandler serves tournament resources.
type TournamentHandler struct {
	deps TournamentDependencies
}

// NewTournamentHandler creates a new tournament handler.
func NewTournamentHandler(deps TournamentDependencies) *TournamentHandler {
	return &TournamentHandler{deps: deps}
}

// HandleCreate handles POST /tournaments. A retried request carrying the
// same request id, in the body or the Idempotency-Key header, gets the
// first tournament back with status 200.
func (h *TournamentHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeFailure(w, err)
		return
	}
	requestID := req.RequestID
	if requestID == "" {
		requestID = r.Header.Get("Idempotency-Key")
	}

	t, dup, err := h.deps.CreateTournament(r.Context(), requestID, tournament.Params{
		Problem:    req.Problem,
		Goals:      req.Goals,
		Lanes:      req.Lanes,
		MaxRounds:  req.MaxRounds,
		StallLimit: req.StallLimit,
	})
	if err != nil {
		writeFailure(w, Wrap("create tournament", err))
		return
	}
	status := http.StatusCreated
	if dup {
		status = http.StatusOK
	}
	writeJSON(w, status, CreateResponse{Tournament: t, Duplicate: dup})
}

// HandleList handles GET /tournaments.
func (h *TournamentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ts, err := h.deps.Tournaments(r.Context())
	if err != nil {
		writeFailure(w, Wrap("list tournaments", err))
		return
	}
	if ts == nil {
		ts = []model.Tournament{}
	}
	writeJSON(w, http.StatusOK, ts)
}

// HandleGet handles GET /tournaments/{id}.
func (h *TournamentHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	t, err := h.deps.Tournament(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, Wrap("get tournament", err))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// HandleRounds handles GET /tournaments/{id}/rounds.
func (h *TournamentHandler) HandleRounds(w http.ResponseWriter, r *http.Request) {
	rs, err := h.deps.Rounds(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, Wrap("list rounds", err))
		return
	}
	if rs == nil {
		rs = []model.RoundSummary{}
	}
	writeJSON(w, http.StatusOK, rs)
}

// HandleRound handles GET /tournaments/{id}/rounds/{round}.
func (h *TournamentHandler) HandleRound(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("round"))
	if err != nil || n < 1 {
		writeFailure(w, NewKind("get round: round must be a positive integer", ErrBadRequest))
		return
	}
	s, err := h.deps.Round(r.Context(), r.PathValue("id"), n)
	if err != nil {
		writeFailure(w, Wrap("get round", err))
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// HandleStandings handles GET /tournaments/{id}/champions.
func (h *TournamentHandler) HandleStandings(w http.ResponseWriter, r *http.Request) {
	entries, err := h.deps.Standings(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, Wrap("standings", err))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleRunRound handles POST /tournaments/{id}/rounds and runs one round
// synchronously. Re-running a committed round returns its stored summary.
func (h *TournamentHandler) HandleRunRound(w http.ResponseWriter, r *http.Request) {
	var req RunRoundRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeFailure(w, err)
		return
	}
	if req.Round < 0 {
		writeFailure(w, NewKind("run round: round must not be negative", ErrBadRequest))
		return
	}
	s, err := h.deps.RunRound(r.Context(), r.PathValue("id"), req.Round)
	if err != nil {
		writeFailure(w, Wrap("run round", err))
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// HandleAutoRun handles POST /tournaments/{id}/start. The tournament is
// driven to completion in the background.
func (h *TournamentHandler) HandleAutoRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	queued, err := h.deps.AutoRun(r.Context(), id)
	if err != nil {
		writeFailure(w, Wrap("start tournament", err))
		return
	}
	status := "queued"
	if !queued {
		status = "running"
	}
	writeJSON(w, http.StatusAccepted, AutoRunResponse{TournamentID: id, Status: status})
}

// HandleCancel handles POST /tournaments/{id}/cancel.
func (h *TournamentHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	t, err := h.deps.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, Wrap("cancel tournament", err))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// decodeBody reads a JSON body into v. Unknown fields are rejected.
func decodeBody(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return WrapKind("decode body", ErrBadRequest, err)
	}
	return nil
}
