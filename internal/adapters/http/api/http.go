// Package api exposes the tournament engine over HTTP: REST resources, and
// live round streams as Server-Sent Events or WebSocket messages.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/okian/tourney/internal/adapters/mq/queue"
	"github.com/okian/tourney/internal/adapters/repository"
	"github.com/okian/tourney/internal/domain/model"
	"github.com/okian/tourney/internal/domain/round"
	"github.com/okian/tourney/internal/domain/tournament"
	"github.com/okian/tourney/internal/domain/types"
	"github.com/okian/tourney/internal/hub"
	"github.com/okian/tourney/pkg/logger"
)

const defaultHeartbeat = 15 * time.Second

// TournamentDependencies are the tournament operations behind the API.
type TournamentDependencies interface {
	CreateTournament(ctx context.Context, requestID string, p tournament.Params) (model.Tournament, bool, error)
	Tournament(ctx context.Context, id string) (model.Tournament, error)
	Tournaments(ctx context.Context) ([]model.Tournament, error)
	Rounds(ctx context.Context, id string) ([]model.RoundSummary, error)
	Round(ctx context.Context, id string, n int) (model.RoundSummary, error)
	Standings(ctx context.Context, id string) ([]types.Entry, error)
	RunRound(ctx context.Context, id string, n int) (model.RoundSummary, error)
	AutoRun(ctx context.Context, id string) (bool, error)
	Cancel(ctx context.Context, id string) (model.Tournament, error)
}

// IdeaDependencies are the idea and review reads behind the API.
type IdeaDependencies interface {
	Idea(ctx context.Context, id string) (model.Idea, error)
	Reviews(ctx context.Context, ideaID string) ([]model.Review, error)
	Review(ctx context.Context, ideaID, evaluatorID string) (model.Review, error)
}

// StreamDependencies open live round streams.
type StreamDependencies interface {
	Subscribe(ctx context.Context, id string) (*hub.Subscription, error)
}

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	TournamentDependencies
	IdeaDependencies
	StreamDependencies
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	tournamentHandler *TournamentHandler
	ideaHandler       *IdeaHandler
	streamHandler     *StreamHandler

	heartbeat time.Duration
	logger    logger.Logger
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{heartbeat: defaultHeartbeat, logger: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	s.healthHandler = NewHealthHandler()
	s.statsHandler = NewStatsHandler(statsProvider)
	s.tournamentHandler = NewTournamentHandler(deps)
	s.ideaHandler = NewIdeaHandler(deps)
	s.streamHandler = NewStreamHandler(deps, s.heartbeat, s.logger)
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	th, ih, sh := s.tournamentHandler, s.ideaHandler, s.streamHandler

	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /tournaments", MetricsMiddleware(th.HandleCreate, "tournaments_create"))
	mux.HandleFunc("GET /tournaments", MetricsMiddleware(th.HandleList, "tournaments_list"))
	mux.HandleFunc("GET /tournaments/{id}", MetricsMiddleware(th.HandleGet, "tournament"))
	mux.HandleFunc("GET /tournaments/{id}/rounds", MetricsMiddleware(th.HandleRounds, "rounds"))
	mux.HandleFunc("GET /tournaments/{id}/rounds/{round}", MetricsMiddleware(th.HandleRound, "round"))
	mux.HandleFunc("POST /tournaments/{id}/rounds", MetricsMiddleware(th.HandleRunRound, "rounds_run"))
	mux.HandleFunc("GET /tournaments/{id}/champions", MetricsMiddleware(th.HandleStandings, "champions"))
	mux.HandleFunc("POST /tournaments/{id}/start", MetricsMiddleware(th.HandleAutoRun, "start"))
	mux.HandleFunc("POST /tournaments/{id}/cancel", MetricsMiddleware(th.HandleCancel, "cancel"))

	mux.HandleFunc("GET /tournaments/{id}/stream", MetricsMiddleware(sh.HandleSSE, "stream_sse"))
	mux.HandleFunc("GET /tournaments/{id}/ws", MetricsMiddleware(sh.HandleWebSocket, "stream_ws"))

	mux.HandleFunc("GET /ideas/{id}", MetricsMiddleware(ih.HandleGet, "idea"))
	mux.HandleFunc("GET /ideas/{id}/reviews", MetricsMiddleware(ih.HandleReviews, "reviews"))
	mux.HandleFunc("GET /ideas/{id}/reviews/{evaluator}", MetricsMiddleware(ih.HandleReview, "review"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure maps err onto a status code and writes it.
func writeFailure(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeError(w, status, code, err)
}

func classify(err error) (status int, code string) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, tournament.ErrInvalidParams):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, tournament.ErrNotFound),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, hub.ErrUnknownTournament):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, tournament.ErrInvalidTransition),
		errors.Is(err, tournament.ErrTerminalState),
		errors.Is(err, repository.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, queue.ErrQueueFull):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, round.ErrSeedingFailed):
		return http.StatusBadGateway, "upstream_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
