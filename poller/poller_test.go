package poller_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	bridgeerrors "github.com/crosslane/bridge-relay/common/errors"
	"github.com/crosslane/bridge-relay/common/types"
	"github.com/crosslane/bridge-relay/poller"
)

type fakeSource struct {
	mu          sync.Mutex
	latest      func(call int) int64
	fetch       func(from, to uint64) ([]types.BridgeEvent, error)
	latestCalls int
	fetches     [][2]uint64
}

func (s *fakeSource) LatestBlock(_ context.Context) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latestCalls++
	return s.latest(s.latestCalls)
}

func (s *fakeSource) FetchLockEvents(_ context.Context, from, to uint64) ([]types.BridgeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches = append(s.fetches, [2]uint64{from, to})
	return s.fetch(from, to)
}

func (s *fakeSource) fetchRanges() [][2]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][2]uint64, len(s.fetches))
	copy(out, s.fetches)
	return out
}

type recordingHandler struct {
	mu      sync.Mutex
	handled []uint64
	failing map[uint64]error
	after   func(nonce uint64)
}

func (h *recordingHandler) Handle(_ context.Context, event *types.BridgeEvent) error {
	h.mu.Lock()
	if err, ok := h.failing[event.Nonce]; ok {
		delete(h.failing, event.Nonce)
		h.mu.Unlock()
		return err
	}
	h.handled = append(h.handled, event.Nonce)
	after := h.after
	h.mu.Unlock()

	if after != nil {
		after(event.Nonce)
	}
	return nil
}

func (h *recordingHandler) nonces() []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]uint64, len(h.handled))
	copy(out, h.handled)
	return out
}

type sleepRecorder struct {
	mu     sync.Mutex
	slept  []time.Duration
	onNth  int
	cancel context.CancelFunc
}

// sleep returns instantly so the loop spins at test speed; when onNth is set
// it cancels the run on that call.
func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) bool {
	r.mu.Lock()
	r.slept = append(r.slept, d)
	hit := r.onNth > 0 && len(r.slept) >= r.onNth
	r.mu.Unlock()

	if hit && r.cancel != nil {
		r.cancel()
	}
	return ctx.Err() == nil
}

func (r *sleepRecorder) durations() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.slept))
	copy(out, r.slept)
	return out
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig() poller.Config {
	return poller.Config{
		PollInterval:     12 * time.Second,
		ReconnectBackoff: 15 * time.Second,
		MaxBackoff:       40 * time.Second,
		MaxBlockRange:    1000,
	}
}

func event(nonce, block uint64) types.BridgeEvent {
	return types.BridgeEvent{Nonce: nonce, BlockNumber: block}
}

func noSetup(_ context.Context) (poller.EventSource, error) {
	return nil, errors.New("setup not expected in this test")
}

func TestRunProcessesBatchInOrder(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &fakeSource{
		latest: func(call int) int64 {
			if call == 1 {
				return 100
			}
			return 110
		},
		fetch: func(_, _ uint64) ([]types.BridgeEvent, error) {
			return []types.BridgeEvent{event(5, 104), event(6, 108)}, nil
		},
	}
	handler := &recordingHandler{after: func(nonce uint64) {
		if nonce == 6 {
			cancel()
		}
	}}

	p := poller.New(testConfig(), source, handler, noSetup, nil, testLogger(),
		poller.WithSleep(func(ctx context.Context, _ time.Duration) bool { return ctx.Err() == nil }))

	require.NoError(t, p.Run(ctx))
	require.Equal(t, []uint64{5, 6}, handler.nonces())
	require.Equal(t, [][2]uint64{{101, 110}}, source.fetchRanges())
	require.Equal(t, poller.StateStopped, p.State())
}

func TestRunSleepsWhenHeadUnchanged(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &fakeSource{
		latest: func(int) int64 { return 100 },
		fetch: func(_, _ uint64) ([]types.BridgeEvent, error) {
			return nil, nil
		},
	}
	sleeper := &sleepRecorder{onNth: 3, cancel: cancel}

	p := poller.New(testConfig(), source, &recordingHandler{}, noSetup, nil, testLogger(),
		poller.WithSleep(sleeper.sleep))

	require.NoError(t, p.Run(ctx))
	require.Empty(t, source.fetchRanges(), "anchoring at the head must not scan history")
	for _, d := range sleeper.durations() {
		require.Equal(t, 12*time.Second, d)
	}
}

func TestRunClampsBlockRange(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &fakeSource{
		latest: func(call int) int64 {
			if call == 1 {
				return 100
			}
			return 400
		},
		fetch: func(_, _ uint64) ([]types.BridgeEvent, error) {
			cancel()
			return nil, nil
		},
	}

	cfg := testConfig()
	cfg.MaxBlockRange = 5

	p := poller.New(cfg, source, &recordingHandler{}, noSetup, nil, testLogger(),
		poller.WithSleep(func(ctx context.Context, _ time.Duration) bool { return ctx.Err() == nil }))

	require.NoError(t, p.Run(ctx))
	require.Equal(t, [][2]uint64{{101, 105}}, source.fetchRanges())
}

func TestRunReconnectResumesFromCursor(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	degraded := &fakeSource{
		latest: func(call int) int64 {
			switch call {
			case 1:
				return 100
			case 2:
				return 110
			default:
				return 115
			}
		},
		fetch: func(from, _ uint64) ([]types.BridgeEvent, error) {
			if from == 101 {
				return []types.BridgeEvent{event(1, 103)}, nil
			}
			return nil, errors.New("filter request failed")
		},
	}

	handler := &recordingHandler{after: func(nonce uint64) {
		if nonce == 2 {
			cancel()
		}
	}}

	var (
		p          *poller.Poller
		setupCalls int
		recovered  = &fakeSource{
			latest: func(int) int64 { return 115 },
			fetch: func(_, _ uint64) ([]types.BridgeEvent, error) {
				return []types.BridgeEvent{event(2, 112)}, nil
			},
		}
	)
	setup := func(_ context.Context) (poller.EventSource, error) {
		setupCalls++
		require.Equal(t, poller.StateReconnecting, p.State())
		return recovered, nil
	}

	sleeper := &sleepRecorder{}
	p = poller.New(testConfig(), degraded, handler, setup, nil, testLogger(),
		poller.WithSleep(sleeper.sleep))

	require.NoError(t, p.Run(ctx))

	require.Equal(t, 1, setupCalls)
	require.Equal(t, []uint64{1, 2}, handler.nonces(), "the outage must not relay an event twice or lose one")
	require.Equal(t, [][2]uint64{{111, 115}}, recovered.fetchRanges(),
		"scan resumes from the saved cursor, not the new head")
	require.Contains(t, sleeper.durations(), 15*time.Second)
	require.Zero(t, p.ReconnectState().ConsecutiveFailures)
}

func TestRunBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &fakeSource{
		latest: func(call int) int64 {
			if call == 1 {
				return 100
			}
			return 105
		},
		fetch: func(_, _ uint64) ([]types.BridgeEvent, error) {
			return nil, errors.New("filter request failed")
		},
	}

	setupCalls := 0
	setup := func(_ context.Context) (poller.EventSource, error) {
		setupCalls++
		if setupCalls >= 3 {
			cancel()
		}
		return nil, errors.New("still down")
	}

	sleeper := &sleepRecorder{}
	p := poller.New(testConfig(), source, &recordingHandler{}, setup, nil, testLogger(),
		poller.WithSleep(sleeper.sleep))

	require.NoError(t, p.Run(ctx))
	require.Equal(t,
		[]time.Duration{15 * time.Second, 30 * time.Second, 40 * time.Second},
		sleeper.durations())
	require.Equal(t, 4, p.ReconnectState().ConsecutiveFailures)
}

func TestRunConnectivityFailureDoesNotAdvanceCursor(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &fakeSource{
		latest: func(call int) int64 {
			if call == 1 {
				return 100
			}
			return 105
		},
		fetch: func(_, _ uint64) ([]types.BridgeEvent, error) {
			return []types.BridgeEvent{event(7, 102)}, nil
		},
	}

	handler := &recordingHandler{
		failing: map[uint64]error{7: bridgeerrors.ErrDestinationUnavailable},
		after: func(nonce uint64) {
			if nonce == 7 {
				cancel()
			}
		},
	}

	var p *poller.Poller
	setup := func(_ context.Context) (poller.EventSource, error) {
		return source, nil
	}

	p = poller.New(testConfig(), source, handler, setup, nil, testLogger(),
		poller.WithSleep(func(ctx context.Context, _ time.Duration) bool { return ctx.Err() == nil }))

	require.NoError(t, p.Run(ctx))
	require.Equal(t, [][2]uint64{{101, 105}, {101, 105}}, source.fetchRanges(),
		"destination loss must replay the same range after reconnect")
	require.Equal(t, []uint64{7}, handler.nonces())
}

func TestRunAnchorsAfterInitialDisconnect(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	down := &fakeSource{
		latest: func(int) int64 { return -1 },
		fetch: func(_, _ uint64) ([]types.BridgeEvent, error) {
			return nil, nil
		},
	}
	up := &fakeSource{
		latest: func(call int) int64 {
			if call == 1 {
				return 100
			}
			return 103
		},
		fetch: func(_, _ uint64) ([]types.BridgeEvent, error) {
			cancel()
			return nil, nil
		},
	}

	setup := func(_ context.Context) (poller.EventSource, error) {
		return up, nil
	}

	p := poller.New(testConfig(), down, &recordingHandler{}, setup, nil, testLogger(),
		poller.WithSleep(func(ctx context.Context, _ time.Duration) bool { return ctx.Err() == nil }))

	require.NoError(t, p.Run(ctx))
	require.Equal(t, [][2]uint64{{101, 103}}, up.fetchRanges(),
		"the cursor anchors at the head seen after the first successful setup")
}
