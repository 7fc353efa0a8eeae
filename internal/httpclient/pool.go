// Package httpclient builds the pooled HTTP clients the sidecar uses to
// reach the validator, the upstream origin, and provider webhooks. Each
// concern gets its own transport so a slow validator can never starve
// upstream connection reuse or vice versa.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// PoolConfig configures a single shared *http.Transport.
type PoolConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
	KeepAlive           time.Duration
	TLSHandshakeTimeout time.Duration
	ClientTimeout       time.Duration // 0 means no client-level timeout; rely on context deadlines
}

// New builds an *http.Client from cfg.
func New(cfg PoolConfig) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: cfg.KeepAlive,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
		ForceAttemptHTTP2:   true,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   cfg.ClientTimeout,
	}
}

// UpstreamPool returns the client used to forward requests to the
// provider's upstream origin: a large keep-alive pool and no client-level
// timeout, since the per-request context deadline governs cancellation and
// upstream responses may stream.
func UpstreamPool() *http.Client {
	return New(PoolConfig{
		MaxIdleConns:        256,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         10 * time.Second,
		KeepAlive:           30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})
}

// ValidatorPool returns the client used to call the validator API: a
// smaller pool with a hard 500ms per-call timeout, matching the validator's
// position on the hot path.
func ValidatorPool() *http.Client {
	return New(PoolConfig{
		MaxIdleConns:        128,
		MaxIdleConnsPerHost: 50,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         5 * time.Second,
		KeepAlive:           30 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
		ClientTimeout:       500 * time.Millisecond,
	})
}

// WebhookPool returns the client used for best-effort provider
// notifications: small pool, 3s timeout, since webhook calls are rare and
// off the hot path.
func WebhookPool() *http.Client {
	return New(PoolConfig{
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     60 * time.Second,
		DialTimeout:         5 * time.Second,
		KeepAlive:           30 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
		ClientTimeout:       3 * time.Second,
	})
}
