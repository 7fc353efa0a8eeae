package eventworker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/infrapass/infrapass/internal/alerting"
)

// HealthMonitor ticks periodically, checking how long it has been since the
// listener last received a checkpoint, and raises an operator alert once
// that staleness crosses the configured threshold.
type HealthMonitor struct {
	listener       *Listener
	alerter        *alerting.Client
	logger         zerolog.Logger
	interval       time.Duration
	staleAfter     time.Duration
	alreadyAlerted bool
}

// NewHealthMonitor constructs a HealthMonitor watching listener.
func NewHealthMonitor(listener *Listener, alerter *alerting.Client, logger zerolog.Logger, interval, staleAfter time.Duration) *HealthMonitor {
	return &HealthMonitor{
		listener:   listener,
		alerter:    alerter,
		logger:     logger.With().Str("component", "health_monitor").Logger(),
		interval:   interval,
		staleAfter: staleAfter,
	}
}

// Run ticks until ctx is cancelled.
func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check()
		}
	}
}

func (m *HealthMonitor) check() {
	staleness := m.listener.SinceLastCheckpoint()
	if staleness <= m.staleAfter {
		m.alreadyAlerted = false
		return
	}

	m.logger.Error().Dur("staleness", staleness).Msg("no ledger checkpoint received within threshold")
	if m.alreadyAlerted {
		return
	}
	if err := m.alerter.AlertCheckpointStale(staleness); err != nil {
		m.logger.Warn().Err(err).Msg("failed to raise checkpoint-stale alert")
		return
	}
	m.alreadyAlerted = true
}
