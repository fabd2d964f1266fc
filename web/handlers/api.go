package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/relkit/relkit/internal/config"
	"github.com/relkit/relkit/internal/kernel"
	"github.com/relkit/relkit/internal/storage"
	"github.com/relkit/relkit/pkg/types"
)

// RelationHandlers contains HTTP handlers for the REST API.
type RelationHandlers struct {
	kernel *kernel.Kernel
	config *config.Config
}

// NewRelationHandlers creates a new RelationHandlers instance.
func NewRelationHandlers(k *kernel.Kernel, cfg *config.Config) *RelationHandlers {
	return &RelationHandlers{
		kernel: k,
		config: cfg,
	}
}

// ComputeRisk handles POST /api/relations/{id}/risk - update primitives and
// recompute the rupture risk score. The gate is never touched on this path.
func (h *RelationHandlers) ComputeRisk(w http.ResponseWriter, r *http.Request) {
	id, ok := relationID(w, r)
	if !ok {
		return
	}

	var req RiskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	risk, err := h.kernel.ComputeRisk(r.Context(), id, req.SignalInputs)
	if err != nil {
		respondKernelError(w, "failed to compute risk", err)
		return
	}

	respondJSON(w, http.StatusOK, RiskResponse{
		RelationID:  id,
		RuptureRisk: risk,
	})
}

// EmitSignal handles POST /api/relations/{id}/signal - update primitives,
// recompute risk, and emit a rupture signal if the threshold is crossed.
// An empty request body is accepted and re-evaluates the stored state.
func (h *RelationHandlers) EmitSignal(w http.ResponseWriter, r *http.Request) {
	id, ok := relationID(w, r)
	if !ok {
		return
	}

	var req RiskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	risk, signal, err := h.kernel.UpdateState(r.Context(), id, req.SignalInputs)
	if err != nil {
		respondKernelError(w, "failed to update state", err)
		return
	}

	status, err := h.kernel.GateCheck(r.Context(), id)
	if err != nil {
		respondKernelError(w, "failed to read gate", err)
		return
	}

	respondJSON(w, http.StatusOK, SignalResponse{
		RelationID:  id,
		RuptureRisk: risk,
		GateStatus:  status,
		Signal:      signal,
	})
}

// GateCheck handles GET /api/relations/{id}/gate - read-only gate inspection.
// Unseen relationships report an open gate without creating a record.
func (h *RelationHandlers) GateCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := relationID(w, r)
	if !ok {
		return
	}

	status, err := h.kernel.GateCheck(r.Context(), id)
	if err != nil {
		respondKernelError(w, "failed to read gate", err)
		return
	}

	respondJSON(w, http.StatusOK, GateResponse{
		RelationID: id,
		GateStatus: status,
		Proceed:    status == types.GateOpen,
	})
}

// AcknowledgeRepair handles POST /api/relations/{id}/repair - submit a repair
// claim against a blocked gate.
func (h *RelationHandlers) AcknowledgeRepair(w http.ResponseWriter, r *http.Request) {
	id, ok := relationID(w, r)
	if !ok {
		return
	}

	var req RepairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Claim.RelationID == "" {
		req.Claim.RelationID = id
	}

	if err := h.kernel.AcknowledgeRepair(r.Context(), id, req.Claim); err != nil {
		respondKernelError(w, "failed to acknowledge repair", err)
		return
	}

	respondJSON(w, http.StatusOK, RepairResponse{
		RelationID: id,
		GateStatus: types.GateOpen,
		Released:   true,
	})
}

// Status handles GET /api/relations/{id}/status - full inspection snapshot.
func (h *RelationHandlers) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := relationID(w, r)
	if !ok {
		return
	}

	status, err := h.kernel.Status(r.Context(), id)
	if err != nil {
		respondKernelError(w, "failed to get status", err)
		return
	}

	respondJSON(w, http.StatusOK, StatusResponse{
		RelationID:       id,
		State:            status.State,
		RuptureThreshold: status.RuptureThreshold,
		SignalCount:      status.SignalCount,
	})
}

// Delete handles DELETE /api/relations/{id} - remove all stored state for a
// relationship.
func (h *RelationHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := relationID(w, r)
	if !ok {
		return
	}

	if err := h.kernel.Delete(r.Context(), id); err != nil {
		respondKernelError(w, "failed to delete relation", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"relation_id": id,
		"status":      "deleted",
	})
}

// List handles GET /api/relations - list tracked relationships with
// pagination and filtering.
func (h *RelationHandlers) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	opts := storage.ListOptions{
		Page:       parseInt(q.Get("page"), 1),
		Limit:      parseInt(q.Get("limit"), 20),
		GateStatus: q.Get("gate_status"),
		MinRisk:    parseFloat(q.Get("min_risk"), 0),
	}
	if opts.GateStatus != "" && !types.IsValidGateStatus(opts.GateStatus) {
		respondError(w, http.StatusBadRequest, "invalid gate_status filter", nil)
		return
	}
	opts.Normalize()

	result, err := h.kernel.List(r.Context(), opts)
	if err != nil {
		respondKernelError(w, "failed to list relations", err)
		return
	}

	pages := 0
	if result.PageSize > 0 {
		pages = (result.Total + result.PageSize - 1) / result.PageSize
	}

	resp := ListResponse{
		Relations: result.Items,
		Total:     result.Total,
		Page:      result.Page,
		Pages:     pages,
	}
	if resp.Relations == nil {
		resp.Relations = []types.RelationState{}
	}

	respondJSON(w, http.StatusOK, resp)
}

// Health handles GET /api/health.
func (h *RelationHandlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Storage: h.config.Storage.Engine,
	})
}

// relationID extracts the {id} path value. Writes a 400 response and returns
// false when the id is missing.
func relationID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing relation id", nil)
		return "", false
	}
	return id, true
}

// respondKernelError maps kernel and storage sentinel errors to HTTP status
// codes.
func respondKernelError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, kernel.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, kernel.ErrMalformedClaim):
		respondError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, kernel.ErrNotBlocked):
		respondError(w, http.StatusConflict, message, err)
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, message, err)
	case errors.Is(err, storage.ErrUnavailable):
		respondError(w, http.StatusServiceUnavailable, message, err)
	default:
		respondError(w, http.StatusInternalServerError, message, err)
	}
}

func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}

func parseFloat(s string, defaultValue float64) float64 {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return defaultValue
	}
	return val
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers already sent, nothing more to do.
		fmt.Printf("failed to encode JSON response: %v\n", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}

	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}

	respondJSON(w, statusCode, errResp)
}
