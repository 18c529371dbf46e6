package api

import (
	"net/http"
	"strings"

	"github.com/okian/repute/internal/domain/model"
)

// LawyersHandler serves the per-lawyer read views.
type LawyersHandler struct {
	reader Reader
}

// NewLawyersHandler creates a new lawyers handler.
func NewLawyersHandler(reader Reader) *LawyersHandler {
	return &LawyersHandler{reader: reader}
}

type specializationsResponse struct {
	LawyerID        model.LawyerID              `json:"lawyer_id"`
	Specializations []model.SpecializationScore `json:"specializations"`
}

// HandleGetReputation handles GET /lawyers/{id}/reputation. It serves the
// last good snapshot, or 404 when the lawyer was never computed.
func (h *LawyersHandler) HandleGetReputation(w http.ResponseWriter, r *http.Request) {
	id, ok := lawyerID(w, r)
	if !ok {
		return
	}
	snap, err := h.reader.Snapshot(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleGetSpecializations handles GET /lawyers/{id}/specializations.
func (h *LawyersHandler) HandleGetSpecializations(w http.ResponseWriter, r *http.Request) {
	id, ok := lawyerID(w, r)
	if !ok {
		return
	}
	if _, err := h.reader.Snapshot(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	specs, err := h.reader.Specializations(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if specs == nil {
		specs = []model.SpecializationScore{}
	}
	writeJSON(w, http.StatusOK, specializationsResponse{LawyerID: id, Specializations: specs})
}

func lawyerID(w http.ResponseWriter, r *http.Request) (model.LawyerID, bool) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeServiceError(w, r, ErrBadRequest)
		return "", false
	}
	return id, true
}
