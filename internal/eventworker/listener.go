package eventworker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// LedgerSubscriber is the narrow interface onto the ledger subscription
// client. The concrete client (gRPC checkpoint streaming against the
// on-chain contract) is an external collaborator referenced only by this
// interface and is not implemented here. Subscribe blocks, invoking handle
// for each event in stream order, and returns when the connection drops or
// ctx is cancelled.
type LedgerSubscriber interface {
	Subscribe(ctx context.Context, handle func(Event) error) error
}

// Listener is the single subscription task that feeds the bounded channel
// consumed by Worker. It reconnects on error with fixed backoff; missed
// events during a disconnect are expected since the ledger subscription is
// replay-resumable from the last checkpoint.
type Listener struct {
	subscriber LedgerSubscriber
	out        chan<- Event
	backoff    time.Duration
	logger     zerolog.Logger

	lastCheckpointUnixNano int64 // atomic
}

// NewListener constructs a Listener writing to out.
func NewListener(subscriber LedgerSubscriber, out chan<- Event, backoff time.Duration, logger zerolog.Logger) *Listener {
	l := &Listener{
		subscriber: subscriber,
		out:        out,
		backoff:    backoff,
		logger:     logger.With().Str("component", "event_listener").Logger(),
	}
	l.recordCheckpoint()
	return l
}

// Run subscribes and reconnects until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		err := l.subscriber.Subscribe(ctx, func(ev Event) error {
			l.recordCheckpoint()
			select {
			case l.out <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if ctx.Err() != nil {
			return
		}
		l.logger.Warn().Err(err).Dur("backoff", l.backoff).Msg("ledger subscription dropped, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.backoff):
		}
	}
}

func (l *Listener) recordCheckpoint() {
	atomic.StoreInt64(&l.lastCheckpointUnixNano, time.Now().UnixNano())
}

// SinceLastCheckpoint reports how long it has been since the last event was
// received, for the health monitor's staleness check.
func (l *Listener) SinceLastCheckpoint() time.Duration {
	last := atomic.LoadInt64(&l.lastCheckpointUnixNano)
	return time.Since(time.Unix(0, last))
}
