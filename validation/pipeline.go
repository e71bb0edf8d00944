package validation

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/crosslane/bridge-relay/common/types"
)

// Rule is a single independent check an observed event must pass before it
// is relayed. Rules run in a fixed order and must not write to any chain.
type Rule interface {
	Name() string
	Check(ctx context.Context, event *types.BridgeEvent) types.Verdict
}

// PriceSource is the external market feed consumed by the market-condition
// rule. Implemented by oracle.Client.
type PriceSource interface {
	Price(ctx context.Context) (float64, error)
}

// Pipeline runs an ordered set of validation rules over each event, stopping
// at the first failure. Cheap structural rules come before networked ones so
// that malformed events never trigger an external call.
type Pipeline struct {
	rules  []Rule
	logger *logrus.Logger
}

// Config holds the validation thresholds.
type Config struct {
	// MinAmount is the smallest relayable amount in the smallest on-chain
	// unit. Amounts are compared as arbitrary-precision integers.
	MinAmount *big.Int
	// PriceFloor is the USD price below which transfers are held back.
	PriceFloor float64
}

// NewPipeline assembles the standard rule set: completeness, minimum amount,
// market condition.
func NewPipeline(cfg Config, feed PriceSource, logger *logrus.Logger) *Pipeline {
	return &Pipeline{
		rules: []Rule{
			&completenessRule{},
			&minAmountRule{min: cfg.MinAmount},
			&marketRule{feed: feed, floor: cfg.PriceFloor, logger: logger},
		},
		logger: logger,
	}
}

// Validate runs the event through every rule in order and returns the first
// failing verdict, or a passing one. Failures are logged as warnings, never
// errors: a rejected event is routine, not a fault.
func (p *Pipeline) Validate(ctx context.Context, event *types.BridgeEvent) types.Verdict {
	for _, rule := range p.rules {
		verdict := rule.Check(ctx, event)
		if !verdict.Passed {
			p.logger.WithFields(logrus.Fields{
				"nonce":  event.Nonce,
				"txHash": event.SourceTxHash.Hex(),
				"rule":   verdict.Rule,
				"reason": verdict.Reason,
			}).Warn("Event failed validation")
			return verdict
		}
	}

	return types.Pass("pipeline")
}

// completenessRule rejects events missing any required transfer field.
type completenessRule struct{}

func (r *completenessRule) Name() string { return "completeness" }

func (r *completenessRule) Check(_ context.Context, event *types.BridgeEvent) types.Verdict {
	if event.Amount == nil || event.From == (common.Address{}) || event.To == (common.Address{}) {
		return types.Fail(r.Name(), "malformed event")
	}

	return types.Pass(r.Name())
}

// minAmountRule enforces the configured minimum transfer amount.
type minAmountRule struct {
	min *big.Int
}

func (r *minAmountRule) Name() string { return "min-amount" }

func (r *minAmountRule) Check(_ context.Context, event *types.BridgeEvent) types.Verdict {
	if event.Amount.Cmp(r.min) < 0 {
		return types.Fail(r.Name(), "below threshold")
	}

	return types.Pass(r.Name())
}

// marketRule holds transfers back when the reference asset trades below the
// configured floor. Feed unavailability fails OPEN: a soft risk signal must
// not halt the bridge, so degradation is logged and the event passes.
type marketRule struct {
	feed   PriceSource
	floor  float64
	logger *logrus.Logger
}

func (r *marketRule) Name() string { return "market-condition" }

func (r *marketRule) Check(ctx context.Context, event *types.BridgeEvent) types.Verdict {
	price, err := r.feed.Price(ctx)
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"nonce": event.Nonce,
		}).WithError(err).Warn("Price feed degraded, approving event without market check")
		return types.Pass(r.Name())
	}

	if price < r.floor {
		return types.Fail(r.Name(), "market price below processing threshold")
	}

	return types.Pass(r.Name())
}
