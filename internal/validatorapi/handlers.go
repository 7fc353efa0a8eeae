// Package validatorapi implements the Validator API (C2): two endpoints
// behind a shared bearer token, backed by the relational store.
package validatorapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/infrapass/infrapass/internal/db"
	"github.com/infrapass/infrapass/internal/entitlement"
)

// ValidateRequest is the POST /validate body.
type ValidateRequest struct {
	UserAddress string `json:"user_address"`
	ServiceID   string `json:"service_id"`
	RequestCost int64  `json:"request_cost"`
}

// ValidateResponse is the entitlement projection from the data model. On
// denial (no valid entitlement), the server returns this zeroed alongside
// a 403.
type ValidateResponse struct {
	EntitlementID  string               `json:"entitlement_id"`
	TierID         string               `json:"tier_id"`
	TierType       entitlement.TierType `json:"tier_type"`
	Quota          *int64               `json:"quota,omitempty"`
	Units          *int64               `json:"units,omitempty"`
	ExpiresAt      *time.Time           `json:"expires_at,omitempty"`
	NotifyProvider bool                 `json:"notify_provider"`
}

// lowBalanceThreshold below which the validator asks the sidecar to notify
// the provider's webhook, so providers can react to near-exhaustion before
// the hard 429.
const lowBalanceThreshold = 10

// RecordUsageRequest is the POST /record_usage body.
type RecordUsageRequest struct {
	UserAddress   string `json:"user_address"`
	EntitlementID string `json:"entitlement_id"`
	Cost          int64  `json:"cost"`
}

// repository is the narrow persistence interface Validate and RecordUsage
// need, satisfied by *db.Repository; narrowed here so handlers can be
// tested against a fake without an open database connection.
type repository interface {
	FindValidEntitlement(ctx context.Context, userAddress, serviceID string, requestCost int64) (*db.EntitlementRow, error)
	RecordUsage(ctx context.Context, userAddress, entitlementID string, cost int64) error
}

// Handler hosts C2's two endpoints.
type Handler struct {
	repo   repository
	logger zerolog.Logger
}

// NewHandler constructs a Handler over an open repository.
func NewHandler(repo repository, logger zerolog.Logger) *Handler {
	return &Handler{repo: repo, logger: logger.With().Str("component", "validatorapi").Logger()}
}

// NewRouter builds the chi.Router for the validator binary: bearer-auth
// guarded /validate and /record_usage, plus an unauthenticated /healthz.
func NewRouter(h *Handler, bearerToken string, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "infrapass-validator"})
	})

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(bearerToken))
		r.Post("/validate", h.Validate)
		r.Post("/record_usage", h.RecordUsage)
	})

	return r
}

// Validate implements POST /validate: newest non-expired entitlement row,
// projected verbatim; 403 zeroed body when none exists.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body")
		return
	}
	if req.UserAddress == "" || req.ServiceID == "" {
		writeError(w, http.StatusBadRequest, "missing_required_field")
		return
	}

	row, err := h.repo.FindValidEntitlement(r.Context(), req.UserAddress, req.ServiceID, req.RequestCost)
	if errors.Is(err, db.ErrNoEntitlement) {
		writeJSON(w, http.StatusForbidden, ValidateResponse{TierType: entitlement.TierSubscription})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("validate lookup failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	notify := (row.TierType == entitlement.TierQuota && row.Quota != nil && *row.Quota < lowBalanceThreshold) ||
		(row.TierType == entitlement.TierPayPerRequest && row.Units != nil && *row.Units < lowBalanceThreshold)

	writeJSON(w, http.StatusOK, ValidateResponse{
		EntitlementID:  row.EntitlementID,
		TierID:         row.TierID,
		TierType:       row.TierType,
		Quota:          row.Quota,
		Units:          row.Units,
		ExpiresAt:      row.ExpiresAt,
		NotifyProvider: notify,
	})
}

// RecordUsage implements POST /record_usage: validates cost > 0, appends an
// immutable usage row. Idempotency is not guaranteed here by design: a
// retried call may over-record, and reconciliation happens downstream
// against ledger state.
func (h *Handler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	var req RecordUsageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body")
		return
	}
	if req.Cost <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_cost")
		return
	}

	if err := h.repo.RecordUsage(r.Context(), req.UserAddress, req.EntitlementID, req.Cost); err != nil {
		h.logger.Error().Err(err).Msg("record usage failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "usage recorded"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errStr string) {
	writeJSON(w, status, map[string]interface{}{"error": errStr, "status": status})
}
