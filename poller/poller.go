package poller

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	bridgeerrors "github.com/crosslane/bridge-relay/common/errors"
	"github.com/crosslane/bridge-relay/common/types"
	"github.com/crosslane/bridge-relay/metrics"
)

// State is the poller's position in its lifecycle.
type State int32

const (
	// StateIdle is the initial state, before the first poll anchor exists.
	StateIdle State = iota
	// StatePolling is the steady state: fetch, validate, relay.
	StatePolling
	// StateReconnecting is entered on any fetch or connectivity failure.
	StateReconnecting
	// StateStopped is terminal, entered only on external shutdown.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// EventSource is the source-chain surface the poller reads from. Implemented
// by the bridge service's link+contract pair.
type EventSource interface {
	// LatestBlock returns the source head height, or -1 when disconnected.
	LatestBlock(ctx context.Context) int64
	// FetchLockEvents returns decoded lock events for an inclusive block
	// range, in log order.
	FetchLockEvents(ctx context.Context, fromBlock, toBlock uint64) ([]types.BridgeEvent, error)
}

// Handler receives each observed event, strictly in log order. Per-event
// failures are local; only connectivity errors escalate to reconnection.
type Handler interface {
	Handle(ctx context.Context, event *types.BridgeEvent) error
}

// SetupFunc re-establishes all chain connections and contract bindings and
// returns a fresh event source. Invoked from the Reconnecting state.
type SetupFunc func(ctx context.Context) (EventSource, error)

// SleepFunc blocks for the duration or until the context is done, returning
// false in the latter case. Injected so tests can simulate elapsed time.
type SleepFunc func(ctx context.Context, d time.Duration) bool

// Config holds the poller timings.
type Config struct {
	// PollInterval is the sleep between polls when the head has not moved.
	PollInterval time.Duration
	// ReconnectBackoff is the base delay before a setup reattempt; it grows
	// exponentially with consecutive failures up to MaxBackoff.
	ReconnectBackoff time.Duration
	MaxBackoff       time.Duration
	// MaxBlockRange clamps how many blocks a single poll may scan.
	MaxBlockRange uint64
}

// Option adjusts poller internals, used by tests to inject time.
type Option func(*Poller)

// WithSleep replaces the real sleep.
func WithSleep(sleep SleepFunc) Option {
	return func(p *Poller) { p.sleep = sleep }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// Poller drives the poll-validate-relay loop for one bridge direction as an
// explicit state machine: Idle -> Polling <-> Reconnecting, with Stopped as
// the only terminal state. Processing is strictly sequential within a batch
// to preserve source log order.
//
// The poll cursor survives reconnection: after a successful re-setup the scan
// resumes from the last fully processed block, so the outage window is
// re-scanned rather than silently dropped, and the relay layer's nonce dedup
// absorbs the overlap.
type Poller struct {
	cfg     Config
	source  EventSource
	handler Handler
	setup   SetupFunc
	sleep   SleepFunc
	now     func() time.Time
	logger  *logrus.Logger
	metrics *metrics.Metrics

	stateMutex sync.RWMutex
	state      State
	reconnect  types.ReconnectState

	cursor   uint64
	anchored bool
}

// New creates a poller over the given source. The handler is invoked once
// per observed event; setup is invoked to recover from connection failures.
func New(
	cfg Config,
	source EventSource,
	handler Handler,
	setup SetupFunc,
	m *metrics.Metrics,
	logger *logrus.Logger,
	opts ...Option,
) *Poller {
	p := &Poller{
		cfg:     cfg,
		source:  source,
		handler: handler,
		setup:   setup,
		sleep:   defaultSleep,
		now:     time.Now,
		logger:  logger,
		metrics: m,
		state:   StateIdle,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// State returns the current lifecycle state.
func (p *Poller) State() State {
	p.stateMutex.RLock()
	defer p.stateMutex.RUnlock()
	return p.state
}

// ReconnectState returns a snapshot of the connection degradation tracking.
func (p *Poller) ReconnectState() types.ReconnectState {
	p.stateMutex.RLock()
	defer p.stateMutex.RUnlock()
	return p.reconnect
}

// Run drives the state machine until the context is canceled. Cancellation
// is observed between poll cycles only, so an in-flight relay always reaches
// a terminal success or failure before the poller stops. Reconnection
// retries indefinitely; each failed attempt is reported.
func (p *Poller) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			p.setState(StateStopped)
			p.logger.Info("Event poller stopped")
			return nil
		}

		switch p.State() {
		case StateIdle:
			if err := p.anchor(ctx); err != nil {
				p.logger.WithError(err).Error("Failed to anchor poll cursor at source head")
				p.noteFailure()
				p.setState(StateReconnecting)
				continue
			}
			p.setState(StatePolling)

		case StatePolling:
			if err := p.pollOnce(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				p.logger.WithError(err).Error("Poll cycle failed, entering reconnection")
				p.noteFailure()
				p.setState(StateReconnecting)
			}

		case StateReconnecting:
			p.reconnectOnce(ctx)

		case StateStopped:
			return nil
		}
	}
}

// anchor scopes the scan to new blocks only: the cursor starts at the
// current head, so historical events are never picked up.
func (p *Poller) anchor(ctx context.Context) error {
	head := p.source.LatestBlock(ctx)
	if head < 0 {
		return errors.Wrap(bridgeerrors.ErrNotConnected, "source head unavailable")
	}

	p.cursor = uint64(head)
	p.anchored = true

	p.logger.WithField("fromBlock", p.cursor).Info("Watching for lock events")
	return nil
}

func (p *Poller) pollOnce(ctx context.Context) error {
	head := p.source.LatestBlock(ctx)
	if head < 0 {
		return errors.Wrap(bridgeerrors.ErrNotConnected, "source head unavailable")
	}

	if uint64(head) <= p.cursor {
		p.noteSuccess()
		p.sleep(ctx, p.cfg.PollInterval)
		return nil
	}

	toBlock := p.cursor + p.cfg.MaxBlockRange
	if toBlock > uint64(head) {
		toBlock = uint64(head)
	}

	events, err := p.source.FetchLockEvents(ctx, p.cursor+1, toBlock)
	if err != nil {
		return errors.Wrap(err, "failed to fetch lock events")
	}

	if len(events) > 0 {
		p.logger.WithFields(logrus.Fields{
			"count":     len(events),
			"fromBlock": p.cursor + 1,
			"toBlock":   toBlock,
		}).Info("New lock events found")
	}

	for i := range events {
		event := &events[i]
		p.metrics.EventObserved()

		err := p.handler.Handle(ctx, event)
		switch {
		case err == nil:

		case errors.Is(err, bridgeerrors.ErrDestinationUnavailable),
			errors.Is(err, bridgeerrors.ErrNotConnected),
			errors.Is(err, bridgeerrors.ErrConnectionFailed):
			// The cursor does not advance: after reconnection the whole
			// range is re-fetched and replayed events fall out at the
			// replay guard.
			return err

		default:
			// Per-event failure, loud but local. The source filter will not
			// redeliver this entry; recovery needs out-of-band
			// reconciliation.
			p.logger.WithFields(logrus.Fields{
				"nonce":  event.Nonce,
				"txHash": event.SourceTxHash.Hex(),
			}).WithError(err).Error("Dropped bridge action, operator attention required")
		}
	}

	p.cursor = toBlock
	p.noteSuccess()

	if toBlock == uint64(head) {
		p.sleep(ctx, p.cfg.PollInterval)
	}

	return nil
}

// reconnectOnce sleeps the current backoff, re-runs full component setup,
// and resumes polling from the saved cursor on success.
func (p *Poller) reconnectOnce(ctx context.Context) {
	backoff := p.backoffDelay()

	p.logger.WithFields(logrus.Fields{
		"consecutiveFailures": p.ReconnectState().ConsecutiveFailures,
		"backoff":             backoff,
	}).Warn("Source connection degraded, reattempting setup")

	if !p.sleep(ctx, backoff) {
		return
	}

	p.metrics.Reconnect()

	source, err := p.setup(ctx)
	if err != nil {
		p.noteFailure()
		p.logger.WithError(err).Error("Bridge setup failed, will retry")
		return
	}

	p.source = source

	if !p.anchored {
		if err := p.anchor(ctx); err != nil {
			p.noteFailure()
			p.logger.WithError(err).Error("Failed to anchor poll cursor after reconnect")
			return
		}
	} else {
		p.logger.WithField("fromBlock", p.cursor+1).Info("Reconnected, resuming scan from saved cursor")
	}

	p.setState(StatePolling)
}

func (p *Poller) backoffDelay() time.Duration {
	failures := p.ReconnectState().ConsecutiveFailures

	delay := p.cfg.ReconnectBackoff
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= p.cfg.MaxBackoff {
			return p.cfg.MaxBackoff
		}
	}

	if p.cfg.MaxBackoff > 0 && delay > p.cfg.MaxBackoff {
		return p.cfg.MaxBackoff
	}

	return delay
}

func (p *Poller) setState(s State) {
	p.stateMutex.Lock()
	defer p.stateMutex.Unlock()
	p.state = s
}

func (p *Poller) noteFailure() {
	p.stateMutex.Lock()
	defer p.stateMutex.Unlock()
	p.reconnect.ConsecutiveFailures++
}

func (p *Poller) noteSuccess() {
	p.stateMutex.Lock()
	defer p.stateMutex.Unlock()
	p.reconnect.ConsecutiveFailures = 0
	p.reconnect.LastSuccessfulPoll = p.now()
}

func defaultSleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
