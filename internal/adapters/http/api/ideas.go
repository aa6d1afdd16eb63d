package api

import (
	"net/http"

	"github.com/okian/tourney/internal/domain/model"
)

// IdeaHandler serves ideas and their reviews.
type IdeaHandler struct {
	deps IdeaDependencies
}

// NewIdeaHandler creates a new idea handler.
func NewIdeaHandler(deps IdeaDependencies) *IdeaHandler {
	return &IdeaHandler{deps: deps}
}

// HandleGet handles GET /ideas/{id}.
func (h *IdeaHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	idea, err := h.deps.Idea(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, Wrap("get idea", err))
		return
	}
	writeJSON(w, http.StatusOK, idea)
}

// HandleReviews handles GET /ideas/{id}/reviews.
func (h *IdeaHandler) HandleReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.deps.Reviews(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, Wrap("list reviews", err))
		return
	}
	if reviews == nil {
		reviews = []model.Review{}
	}
	writeJSON(w, http.StatusOK, reviews)
}

func (h *IdeaHandler) HandleReview(w http.ResponseWriter, r *http.Request) {
	rv, err := h.deps.Review(r.Context(), r.PathValue("id"), r.PathValue("evaluator"))
	if err != nil {
		writeFailure(w, Wrap("get review", err))
		return
	}
	writeJSON(w, http.StatusOK, rv)
}
