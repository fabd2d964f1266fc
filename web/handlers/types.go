package handlers

import (
	"github.com/relkit/relkit/internal/kernel"
	"github.com/relkit/relkit/pkg/types"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// RiskRequest is the request body for POST /api/relations/{id}/risk and
// POST /api/relations/{id}/signal. The embedded inputs are all optional;
// omitted primitives keep their stored values.
type RiskRequest struct {
	kernel.SignalInputs
}

// RiskResponse is the response format for POST /api/relations/{id}/risk.
type RiskResponse struct {
	RelationID  string  `json:"relation_id"`
	RuptureRisk float64 `json:"rupture_risk"`
}

// SignalResponse is the response format for POST /api/relations/{id}/signal.
// Signal is null when the episode did not cross the rupture threshold.
type SignalResponse struct {
	RelationID  string        `json:"relation_id"`
	RuptureRisk float64       `json:"rupture_risk"`
	GateStatus  string        `json:"gate_status"`
	Signal      *types.Signal `json:"signal"`
}

// GateResponse is the response format for GET /api/relations/{id}/gate.
type GateResponse struct {
	RelationID string `json:"relation_id"`
	GateStatus string `json:"gate_status"`
	Proceed    bool   `json:"proceed"`
}

// RepairRequest is the request body for POST /api/relations/{id}/repair.
type RepairRequest struct {
	Claim types.RepairClaim `json:"claim"`
}

// RepairResponse is the response format for POST /api/relations/{id}/repair.
type RepairResponse struct {
	RelationID string `json:"relation_id"`
	GateStatus string `json:"gate_status"`
	Released   bool   `json:"released"`
}

// StatusResponse is the response format for GET /api/relations/{id}/status.
type StatusResponse struct {
	RelationID       string               `json:"relation_id"`
	State            *types.RelationState `json:"state"`
	RuptureThreshold float64              `json:"rupture_threshold"`
	SignalCount      int                  `json:"signal_count"`
}

// ListResponse is the response format for GET /api/relations.
type ListResponse struct {
	Relations []types.RelationState `json:"relations"`
	Total     int                   `json:"total"`
	Page      int                   `json:"page"`
	Pages     int                   `json:"pages"`
}

// HealthResponse is the response format for GET /api/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage,omitempty"`
}
