package sidecarproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/infrapass/infrapass/internal/cachestore"
	"github.com/infrapass/infrapass/internal/entitlement"
	"github.com/infrapass/infrapass/internal/validatorapi"
	"github.com/infrapass/infrapass/internal/webhook"
)

// Handler returns the fallback http.Handler running the full enforcement
// pipeline, steps 1 and 3-7 of the hot path (step 2, auth, is a separate
// middleware wrapping this handler).
func Handler(s *State) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		handleRequest(s, w, r)
		s.Metrics.ObserveRequestDuration(time.Since(start))
	})
}

func handleRequest(s *State, w http.ResponseWriter, r *http.Request) {
	// Step 1 — header extraction.
	user := r.Header.Get(s.Cfg.AddressHeader)
	if user == "" {
		deny(s, w, http.StatusUnauthorized, "missing_sui_address")
		return
	}
	if !isASCII(user) {
		deny(s, w, http.StatusUnauthorized, "invalid_address_header")
		return
	}

	service := r.Header.Get(s.Cfg.ServiceHeader)
	if service == "" {
		deny(s, w, http.StatusBadRequest, "missing_service_id")
		return
	}
	if !isASCII(service) {
		deny(s, w, http.StatusBadRequest, "invalid_service_header")
		return
	}

	cost := int64(1)
	if raw := r.Header.Get(s.Cfg.CostHeader); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			deny(s, w, http.StatusBadRequest, "invalid_cost_header")
			return
		}
		cost = parsed
	}

	ctx := r.Context()

	// Step 3 — cache probe.
	ent, hit, err := s.Store.GetEntitlement(ctx, user, service)
	if err != nil {
		s.Logger.Error().Err(err).Msg("cache probe failed")
		deny(s, w, http.StatusInternalServerError, "internal_error")
		return
	}

	if hit {
		s.Metrics.IncCacheHit()
	} else {
		s.Metrics.IncCacheMiss()

		// Step 4 — validator fallback.
		ent, err = validate(s, ctx, user, service, cost)
		if err != nil {
			if errors.Is(err, errValidatorDeny) {
				deny(s, w, http.StatusForbidden, "access_denied")
				return
			}
			s.Metrics.IncValidatorError()
			if s.Cfg.FailOpen {
				s.Logger.Warn().Err(err).Msg("validator unreachable, fail-open: continuing to upstream")
				forwardUpstream(s, w, r, user, cost, "" /* no entitlement to record usage against */)
				return
			}
			s.Logger.Warn().Err(err).Msg("validator unreachable, fail-closed: denying")
			deny(s, w, http.StatusServiceUnavailable, "validator_error")
			return
		}
	}

	if !ent.Allowed(time.Now()) {
		deny(s, w, http.StatusForbidden, "access_denied")
		return
	}

	// Step 5 — atomic quota check.
	if ent.TierType.HasCounter() {
		remaining, err := s.Store.AtomicDecrement(ctx, user, service, cost, ent.TierType)
		switch {
		case errors.Is(err, cachestore.ErrQuotaExceeded):
			deny(s, w, http.StatusTooManyRequests, "quota_exceeded")
			return
		case errors.Is(err, cachestore.ErrCounterNotReady):
			deny(s, w, http.StatusServiceUnavailable, "quota_not_ready")
			return
		case errors.Is(err, cachestore.ErrUnknownTierType):
			deny(s, w, http.StatusBadRequest, "unknown_tier_type")
			return
		case err != nil:
			s.Logger.Error().Err(err).Msg("atomic decrement failed")
			deny(s, w, http.StatusInternalServerError, "internal_error")
			return
		}
		if remaining < lowQuotaWarnThreshold {
			s.Logger.Warn().Str("user", user).Str("service", service).Int64("remaining", remaining).Msg("quota running low")
		}
	}

	// Request clears enforcement; count it allowed regardless of how the
	// upstream response itself comes back.
	s.Metrics.IncAllowed()

	// Steps 6-7 — upstream forward, then async usage record.
	forwardUpstream(s, w, r, user, cost, ent.ID)
}

// lowQuotaWarnThreshold mirrors the low-balance webhook threshold: quota
// remaining below this after a decrement is logged so operators can spot a
// user approaching exhaustion before the hard 429.
const lowQuotaWarnThreshold = 10

var errValidatorDeny = errors.New("sidecarproxy: validator denied entitlement")

// validate implements step 4: POST /validate, project into cached form,
// seed the cache on success.
func validate(s *State, ctx context.Context, user, service string, cost int64) (*entitlement.Entitlement, error) {
	validatorCtx, cancel := context.WithTimeout(ctx, s.Cfg.ValidatorTimeout)
	defer cancel()

	reqBody, err := json.Marshal(validatorapi.ValidateRequest{
		UserAddress: user,
		ServiceID:   service,
		RequestCost: cost,
	})
	if err != nil {
		return nil, fmt.Errorf("encode validate request: %w", err)
	}

	req, err := http.NewRequestWithContext(validatorCtx, http.MethodPost, s.Cfg.ValidatorAPIURL+"/validate", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build validate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.Cfg.ValidatorAPIKey)

	resp, err := s.ValidatorClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("validator unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return nil, errValidatorDeny
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("validator returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errValidatorDeny
	}

	var vr validatorapi.ValidateResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("decode validate response: %w", err)
	}

	now := time.Now()
	ent := entitlement.Entitlement{
		ID:        vr.EntitlementID,
		TierID:    vr.TierID,
		TierType:  vr.TierType,
		Quota:     vr.Quota,
		Units:     vr.Units,
		ExpiresAt: vr.ExpiresAt,
		CachedAt:  now,
	}

	ttl := ent.TTL(now, s.Cfg.CacheTTL)
	if err := s.Store.SetEntitlement(ctx, user, service, ent, ttl); err != nil {
		s.Logger.Warn().Err(err).Msg("failed to seed cache after validator hit")
	}

	if vr.NotifyProvider && s.Webhook.Enabled() {
		go func() {
			_ = s.Webhook.Deliver(webhook.Notification{
				Event:       "low_balance_warning",
				UserAddress: user,
				ServiceID:   service,
				Detail:      "entitlement balance below warning threshold",
			})
		}()
	}

	return &ent, nil
}

// forwardUpstream implements step 6 (proxy the request verbatim with
// injected headers) and step 7 (fire-and-forget usage record).
func forwardUpstream(s *State, w http.ResponseWriter, r *http.Request, user string, cost int64, entitlementID string) {
	target := s.Cfg.UpstreamURL + r.URL.RequestURI()

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		writeDenial(w, http.StatusBadGateway, "upstream_error")
		return
	}
	outReq.Header = r.Header.Clone()
	outReq.Header.Set("X-Infrapass-User-Address", user)
	outReq.Header.Set("X-Infrapass-Validated", "true")

	resp, err := s.UpstreamClient.Do(outReq)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("upstream unreachable")
		writeDenial(w, http.StatusBadGateway, "upstream_error")
		return
	}
	defer resp.Body.Close()

	for k, vals := range resp.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)

	if entitlementID != "" {
		go recordUsageAsync(s, user, entitlementID, cost)
	}
}

// recordUsageAsync enqueues a /record_usage POST without blocking the
// client response. A failure here must not affect the client and must not
// retry synchronously — at-most-once delivery is the contract.
func recordUsageAsync(s *State, user, entitlementID string, cost int64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.Cfg.UsageRecordTimeout)
	defer cancel()

	body, err := json.Marshal(validatorapi.RecordUsageRequest{
		UserAddress:   user,
		EntitlementID: entitlementID,
		Cost:          cost,
	})
	if err != nil {
		s.Logger.Warn().Err(err).Msg("failed to encode usage record")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Cfg.ValidatorAPIURL+"/record_usage", bytes.NewReader(body))
	if err != nil {
		s.Logger.Warn().Err(err).Msg("failed to build usage record request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.Cfg.ValidatorAPIKey)

	resp, err := s.ValidatorClient.Do(req)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("usage record delivery failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		s.Logger.Warn().Int("status", resp.StatusCode).Msg("usage record rejected")
	}
}

// deny writes the boundary JSON error body and increments the denial
// counter, per the error-handling design's propagation policy.
func deny(s *State, w http.ResponseWriter, status int, errStr string) {
	s.Metrics.IncDenied()
	writeDenial(w, status, errStr)
}

func writeDenial(w http.ResponseWriter, status int, errStr string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": errStr, "status": status})
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}
