package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/tripmind/internal/domain"
	"github.com/ashureev/tripmind/internal/retrieval"
)

const defaultSearchLimit = 5

type searchRequest struct {
	UserQuery string `json:"user_query"`
	UserID    string `json:"user_id"`
	TripID    string `json:"trip_id"`
	Limit     int    `json:"limit"`
}

func (req *searchRequest) validate() error {
	if req.Limit <= 0 {
		req.Limit = defaultSearchLimit
	}
	return required(map[string]string{
		"user_query": req.UserQuery,
		"user_id":    req.UserID,
		"trip_id":    req.TripID,
	})
}

type searchResponse struct {
	Documents []domain.JournalEntry `json:"documents"`
}

type indexRequest struct {
	UserID string          `json:"user_id"`
	TripID string          `json:"trip_id"`
	Trip   json.RawMessage `json:"trip"`
}

type indexResponse struct {
	Indexed        int    `json:"indexed"`
	CollectionName string `json:"collection_name"`
}

// Search handles POST /journal/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := h.decode(w, r, &req); err != nil {
		fail(w, r, "journal_search", err)
		return
	}
	if err := req.validate(); err != nil {
		fail(w, r, "journal_search", err)
		return
	}

	docs, err := h.svc.Journal.SearchJournalEntries(r.Context(), req.UserQuery, retrieval.UserTripID(req.UserID, req.TripID), req.Limit)
	if err != nil {
		fail(w, r, "journal_search", err)
		return
	}
	if docs == nil {
		docs = []domain.JournalEntry{}
	}
	JSON(w, http.StatusOK, searchResponse{Documents: docs})
}

// SearchWithGeneration handles POST /journal/search_with_generation.
func (h *Handler) SearchWithGeneration(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := h.decode(w, r, &req); err != nil {
		fail(w, r, "journal_search_with_generation", err)
		return
	}
	if err := req.validate(); err != nil {
		fail(w, r, "journal_search_with_generation", err)
		return
	}

	answer, err := h.svc.Journal.SearchWithGeneration(r.Context(), req.UserQuery, retrieval.UserTripID(req.UserID, req.TripID), req.Limit)
	if err != nil {
		fail(w, r, "journal_search_with_generation", err)
		return
	}
	if answer.Documents == nil {
		answer.Documents = []domain.JournalEntry{}
	}
	JSON(w, http.StatusOK, answer)
}

// Index handles POST /journal/index.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := h.decode(w, r, &req); err != nil {
		fail(w, r, "journal_index", err)
		return
	}
	if err := required(map[string]string{"user_id": req.UserID, "trip_id": req.TripID}); err != nil {
		fail(w, r, "journal_index", err)
		return
	}
	if len(req.Trip) == 0 {
		fail(w, r, "journal_index", badRequest("missing required field(s): trip"))
		return
	}
	trip, err := domain.ParseTrip(req.Trip)
	if err != nil {
		fail(w, r, "journal_index", badRequest("invalid trip: %v", err))
		return
	}

	userTripID := retrieval.UserTripID(req.UserID, req.TripID)
	n, err := h.svc.Indexer.IndexTrip(r.Context(), trip, userTripID)
	if err != nil {
		fail(w, r, "journal_index", err)
		return
	}
	JSON(w, http.StatusOK, indexResponse{Indexed: n, CollectionName: retrieval.CollectionName(userTripID)})
}
