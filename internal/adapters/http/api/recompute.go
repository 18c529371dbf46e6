package api

import (
	"net/http"

	"github.com/okian/repute/internal/domain/model"
	"github.com/okian/repute/pkg/logger"
)

// RecomputeHandler accepts manual recompute requests.
type RecomputeHandler struct {
	recomputer Recomputer
}

// NewRecomputeHandler creates a new recompute handler.
func NewRecomputeHandler(recomputer Recomputer) *RecomputeHandler {
	return &RecomputeHandler{recomputer: recomputer}
}

type recomputeResponse struct {
	Status    string         `json:"status"`
	LawyerID  model.LawyerID `json:"lawyer_id,omitempty"`
	Triggered *int           `json:"triggered,omitempty"`
}

// HandleRecomputeLawyer handles POST /lawyers/{id}/recompute.
func (h *RecomputeHandler) HandleRecomputeLawyer(w http.ResponseWriter, r *http.Request) {
	id, ok := lawyerID(w, r)
	if !ok {
		return
	}
	if err := h.recomputer.Recompute(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, recomputeResponse{Status: "accepted", LawyerID: id})
}

// HandleRecomputeAll handles POST /recompute by running a sweep.
func (h *RecomputeHandler) HandleRecomputeAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.recomputer.RecomputeAll(r.Context())
	if err != nil && n == 0 {
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", err)
		return
	}
	status := "accepted"
	if err != nil {
		status = "partial"
		logger.Get().Named("http").Warn(r.Context(), "sweep triggered only part of the lawyers",
			logger.String("request_id", RequestID(r.Context())),
			logger.Int("triggered", n),
			logger.Error(err),
		)
	}
	writeJSON(w, http.StatusAccepted, recomputeResponse{Status: status, Triggered: &n})
}
