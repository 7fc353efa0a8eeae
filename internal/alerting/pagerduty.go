// Package alerting fires operator alerts for persistent event-worker
// failures, via PagerDuty's Events API v2.
package alerting

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Config holds PagerDuty Events API v2 configuration.
type Config struct {
	RoutingKey  string
	Enabled     bool
	SourceName  string
	HTTPTimeout time.Duration
}

// DefaultConfig returns conservative defaults with alerting disabled.
func DefaultConfig() Config {
	return Config{
		SourceName:  "infrapass-eventworker",
		HTTPTimeout: 10 * time.Second,
	}
}

// Severity maps to PagerDuty's severity enum.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
)

const eventsURL = "https://events.pagerduty.com/v2/enqueue"

// Client sends incidents to PagerDuty Events API v2.
type Client struct {
	cfg    Config
	client *http.Client
	logger zerolog.Logger
}

// New creates an alerting client. When cfg.Enabled is false or RoutingKey
// is empty, TriggerAlert becomes a no-op so the event worker can run
// without an operator integration configured.
func New(cfg Config, logger zerolog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		logger: logger.With().Str("component", "alerting").Logger(),
	}
}

// TriggerAlert fires a PagerDuty alert identified by dedupKey.
func (c *Client) TriggerAlert(severity Severity, summary, dedupKey string, details map[string]interface{}) error {
	if !c.cfg.Enabled || c.cfg.RoutingKey == "" {
		c.logger.Debug().Str("summary", summary).Msg("alerting disabled, suppressing alert")
		return nil
	}

	payload := map[string]interface{}{
		"routing_key":  c.cfg.RoutingKey,
		"event_action": "trigger",
		"dedup_key":    dedupKey,
		"payload": map[string]interface{}{
			"summary":         summary,
			"severity":        string(severity),
			"source":          c.cfg.SourceName,
			"component":       "infrapass-eventworker",
			"timestamp":       time.Now().UTC().Format(time.RFC3339),
			"custom_details":  details,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("alerting: marshal: %w", err)
	}

	resp, err := c.client.Post(eventsURL, "application/json", bytes.NewReader(body))
	if err != nil {
		c.logger.Error().Err(err).Str("dedup_key", dedupKey).Msg("pagerduty api call failed")
		return fmt.Errorf("alerting: api call: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		c.logger.Error().Int("status", resp.StatusCode).Str("dedup_key", dedupKey).Msg("pagerduty api error")
		return fmt.Errorf("alerting: http %d", resp.StatusCode)
	}

	c.logger.Info().Str("dedup_key", dedupKey).Str("severity", string(severity)).Msg("alert triggered")
	return nil
}

// AlertCheckpointStale fires when the ledger subscription has not received
// a checkpoint within the configured staleness threshold.
func (c *Client) AlertCheckpointStale(staleness time.Duration) error {
	return c.TriggerAlert(
		SeverityCritical,
		fmt.Sprintf("infrapass: no ledger checkpoint received in %s", staleness),
		"infrapass-checkpoint-stale",
		map[string]interface{}{"staleness_seconds": staleness.Seconds()},
	)
}

// AlertConsecutiveFailures fires when event application has failed
// repeatedly without a successful event in between.
func (c *Client) AlertConsecutiveFailures(count int, lastErr error) error {
	return c.TriggerAlert(
		SeverityError,
		fmt.Sprintf("infrapass: %d consecutive event-application failures", count),
		"infrapass-event-apply-failures",
		map[string]interface{}{"count": count, "last_error": lastErr.Error()},
	)
}
