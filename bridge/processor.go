package bridge

import (
	"context"

	"github.com/pkg/errors"

	bridgeerrors "github.com/crosslane/bridge-relay/common/errors"
	"github.com/crosslane/bridge-relay/common/types"
	"github.com/crosslane/bridge-relay/metrics"
)

// Validator is the validation pipeline surface. Implemented by
// validation.Pipeline.
type Validator interface {
	Validate(ctx context.Context, event *types.BridgeEvent) types.Verdict
}

// Relayer is the relay executor surface. Implemented by relay.Executor.
type Relayer interface {
	Relay(ctx context.Context, event *types.BridgeEvent) error
}

// Processor is the per-event pipeline stage handed to the poller: validate,
// then relay. Rejected events are terminal and never retried; relay errors
// propagate so the poller can distinguish connectivity loss from dropped
// actions.
type Processor struct {
	pipeline Validator
	executor Relayer
	metrics  *metrics.Metrics
}

// NewProcessor wires the validation pipeline to the relay executor.
func NewProcessor(pipeline Validator, executor Relayer, m *metrics.Metrics) *Processor {
	return &Processor{
		pipeline: pipeline,
		executor: executor,
		metrics:  m,
	}
}

// Handle runs one event through validate and relay.
func (p *Processor) Handle(ctx context.Context, event *types.BridgeEvent) error {
	verdict := p.pipeline.Validate(ctx, event)
	if !verdict.Passed {
		p.metrics.ValidationFailure()
		return nil
	}

	if err := p.executor.Relay(ctx, event); err != nil {
		if errors.Is(err, bridgeerrors.ErrSubmission) {
			p.metrics.SubmissionError()
		}
		return err
	}

	p.metrics.EventRelayed()
	return nil
}
