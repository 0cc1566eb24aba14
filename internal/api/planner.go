package api

import (
	"net/http"
)

type planRequest struct {
	UserQuery string `json:"user_query"`
	UserID    string `json:"user_id"`
	TripID    string `json:"trip_id"`
	MaxSteps  int    `json:"max_steps"`
}

type planResponse struct {
	Answer  string `json:"answer"`
	Thought string `json:"thought"`
	Final   bool   `json:"final"`
}

// PlanTrip handles POST /planner/plan_trip.
func (h *Handler) PlanTrip(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := h.decode(w, r, &req); err != nil {
		fail(w, r, "plan_trip", err)
		return
	}
	if err := required(map[string]string{
		"user_query": req.UserQuery,
		"user_id":    req.UserID,
		"trip_id":    req.TripID,
	}); err != nil {
		fail(w, r, "plan_trip", err)
		return
	}
	if req.MaxSteps <= 0 {
		req.MaxSteps = h.opts.DefaultMaxSteps
	}
	if err := h.limiter.check(req.UserID); err != nil {
		fail(w, r, "plan_trip", err)
		return
	}

	step, err := h.svc.Planner.Run(r.Context(), req.UserQuery, req.UserID, req.TripID, req.MaxSteps)
	if err != nil {
		fail(w, r, "plan_trip", err)
		return
	}
	JSON(w, http.StatusOK, planResponse{Answer: step.Answer, Thought: step.Thought, Final: step.Final})
}
