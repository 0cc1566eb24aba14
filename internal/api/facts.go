package api

import (
	"net/http"

	"github.com/ashureev/tripmind/internal/domain"
	"github.com/go-chi/chi/v5"
)

type extractFactsRequest struct {
	UserID string `json:"user_id"`
	TripID string `json:"trip_id"`
	Limit  int    `json:"limit"`
}

type factsResponse struct {
	Facts []domain.Fact `json:"facts"`
}

// ExtractFacts handles POST /user_facts/extract_facts.
func (h *Handler) ExtractFacts(w http.ResponseWriter, r *http.Request) {
	var req extractFactsRequest
	if err := h.decode(w, r, &req); err != nil {
		fail(w, r, "extract_facts", err)
		return
	}
	if err := required(map[string]string{"user_id": req.UserID, "trip_id": req.TripID}); err != nil {
		fail(w, r, "extract_facts", err)
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultSearchLimit
	}

	facts, err := h.svc.Facts.ExtractFacts(r.Context(), req.UserID, req.TripID, req.Limit)
	if err != nil {
		fail(w, r, "extract_facts", err)
		return
	}
	if facts == nil {
		facts = []domain.Fact{}
	}
	JSON(w, http.StatusOK, factsResponse{Facts: facts})
}

// ListFacts handles GET /user_facts/{user_id}.
func (h *Handler) ListFacts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	facts, err := h.svc.Facts.List(r.Context(), userID)
	if err != nil {
		fail(w, r, "list_facts", err)
		return
	}
	if facts == nil {
		facts = []domain.Fact{}
	}
	JSON(w, http.StatusOK, factsResponse{Facts: facts})
}
