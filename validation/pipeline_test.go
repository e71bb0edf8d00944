package validation_test

import (
	"context"
	"io"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	bridgeerrors "github.com/crosslane/bridge-relay/common/errors"
	"github.com/crosslane/bridge-relay/common/types"
	"github.com/crosslane/bridge-relay/validation"
)

var minAmount = big.NewInt(10_000_000_000_000_000) // 0.01 tokens in wei

type fakeFeed struct {
	price float64
	err   error
	calls int
}

func (f *fakeFeed) Price(_ context.Context) (float64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.price, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testEvent(amount *big.Int, nonce uint64) *types.BridgeEvent {
	return &types.BridgeEvent{
		SourceChainID: 5,
		From:          common.HexToAddress("0x000000000000000000000000000000000000000A"),
		To:            common.HexToAddress("0x000000000000000000000000000000000000000B"),
		Amount:        amount,
		Nonce:         nonce,
	}
}

func newPipeline(feed validation.PriceSource) *validation.Pipeline {
	return validation.NewPipeline(validation.Config{
		MinAmount:  minAmount,
		PriceFloor: 1000,
	}, feed, testLogger())
}

func TestValidateBelowThreshold(t *testing.T) {
	t.Parallel()

	feed := &fakeFeed{price: 2000}
	pipeline := newPipeline(feed)

	event := testEvent(big.NewInt(5_000_000_000_000_000), 1)

	verdict := pipeline.Validate(context.Background(), event)
	require.False(t, verdict.Passed)
	require.Equal(t, "below threshold", verdict.Reason)
	require.Zero(t, feed.calls, "threshold rejection must not reach the price feed")
}

func TestValidateMalformedShortCircuits(t *testing.T) {
	t.Parallel()

	feed := &fakeFeed{price: 2000}
	pipeline := newPipeline(feed)

	missingAmount := testEvent(nil, 2)
	verdict := pipeline.Validate(context.Background(), missingAmount)
	require.False(t, verdict.Passed)
	require.Equal(t, "malformed event", verdict.Reason)

	missingRecipient := testEvent(big.NewInt(20_000_000_000_000_000), 3)
	missingRecipient.To = common.Address{}
	verdict = pipeline.Validate(context.Background(), missingRecipient)
	require.False(t, verdict.Passed)
	require.Equal(t, "malformed event", verdict.Reason)

	require.Zero(t, feed.calls, "completeness check must run before any network call")
}

func TestValidateFailsOpenOnFeedError(t *testing.T) {
	t.Parallel()

	feed := &fakeFeed{err: bridgeerrors.ErrOracleDegraded}
	pipeline := newPipeline(feed)

	event := testEvent(big.NewInt(20_000_000_000_000_000), 4)

	verdict := pipeline.Validate(context.Background(), event)
	require.True(t, verdict.Passed, "oracle unavailability must not halt the bridge")
	require.Equal(t, 1, feed.calls)
}

func TestValidateMarketFloor(t *testing.T) {
	t.Parallel()

	feed := &fakeFeed{price: 900}
	pipeline := newPipeline(feed)

	event := testEvent(big.NewInt(20_000_000_000_000_000), 5)

	verdict := pipeline.Validate(context.Background(), event)
	require.False(t, verdict.Passed)
	require.Equal(t, "market price below processing threshold", verdict.Reason)
}

func TestValidatePasses(t *testing.T) {
	t.Parallel()

	feed := &fakeFeed{price: 2000}
	pipeline := newPipeline(feed)

	event := testEvent(big.NewInt(20_000_000_000_000_000), 2)

	verdict := pipeline.Validate(context.Background(), event)
	require.True(t, verdict.Passed)
	require.Equal(t, 1, feed.calls)
}

func TestValidateExactThresholdPasses(t *testing.T) {
	t.Parallel()

	feed := &fakeFeed{price: 2000}
	pipeline := newPipeline(feed)

	event := testEvent(new(big.Int).Set(minAmount), 6)

	verdict := pipeline.Validate(context.Background(), event)
	require.True(t, verdict.Passed)
}
