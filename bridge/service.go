package bridge

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/crosslane/bridge-relay/chainlink"
	"github.com/crosslane/bridge-relay/common/types"
	"github.com/crosslane/bridge-relay/config"
	"github.com/crosslane/bridge-relay/metrics"
	"github.com/crosslane/bridge-relay/oracle"
	"github.com/crosslane/bridge-relay/poller"
	"github.com/crosslane/bridge-relay/relay"
	"github.com/crosslane/bridge-relay/signer"
	"github.com/crosslane/bridge-relay/validation"
)

// Service owns the process lifecycle of one bridge direction: two chain
// links, the validation pipeline, the relay executor, and the event poller.
// Multiple services for different chain pairs are independent and may run in
// parallel; one validator identity maps to exactly one running service.
type Service struct {
	cfg     *config.Config
	logger  *logrus.Logger
	metrics *metrics.Metrics

	source *chainlink.ChainLink
	dest   *chainlink.ChainLink

	sourceContract *chainlink.BridgeContract
	destContract   *chainlink.BridgeContract
	executor       *relay.Executor
	processor      *Processor

	cancelMutex sync.Mutex
	cancel      context.CancelFunc
}

// New creates an unstarted bridge service from validated configuration.
func New(cfg *config.Config, m *metrics.Metrics, logger *logrus.Logger) *Service {
	return &Service{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		source:  chainlink.New(cfg.SourceRPC, cfg.SourceChainID, logger),
		dest:    chainlink.New(cfg.DestRPC, cfg.DestChainID, logger),
	}
}

// Run performs initial setup and drives the poll loop until Stop is called
// or the context is canceled. Setup failure at startup is unrecoverable and
// returned; failures after startup are handled by the poller's reconnection
// state.
func (s *Service) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	s.cancelMutex.Lock()
	s.cancel = cancel
	s.cancelMutex.Unlock()

	defer cancel()

	source, err := s.setup(runCtx)
	if err != nil {
		return errors.Wrap(err, "initial bridge setup failed")
	}

	eventPoller := poller.New(
		poller.Config{
			PollInterval:     s.cfg.PollInterval,
			ReconnectBackoff: s.cfg.ReconnectBackoff,
			MaxBackoff:       s.cfg.MaxBackoff,
			MaxBlockRange:    s.cfg.MaxBlockRange,
		},
		source,
		s.processor,
		s.setup,
		s.metrics,
		s.logger,
	)

	s.logger.WithFields(logrus.Fields{
		"sourceChainId": s.cfg.SourceChainID,
		"destChainId":   s.cfg.DestChainID,
		"event":         s.cfg.EventName,
		"contract":      s.cfg.SourceContract,
	}).Info("Bridge service started")

	return eventPoller.Run(runCtx)
}

// Stop signals the poll loop to exit. The in-flight event, if any, completes
// to a terminal state first.
func (s *Service) Stop() {
	s.cancelMutex.Lock()
	defer s.cancelMutex.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
}

// setup (re-)establishes both chain connections and, on first run, binds the
// contracts and builds the pipeline components. It is handed to the poller
// as the recovery action for the Reconnecting state: links are reconnected
// in place, so long-lived components keep their references.
func (s *Service) setup(ctx context.Context) (poller.EventSource, error) {
	if err := s.source.Connect(ctx); err != nil {
		return nil, errors.Wrap(err, "source chain")
	}

	if err := s.dest.Connect(ctx); err != nil {
		return nil, errors.Wrap(err, "destination chain")
	}

	if s.sourceContract == nil {
		bound, err := s.source.BindContract(common.HexToAddress(s.cfg.SourceContract), s.cfg.SourceABI)
		if err != nil {
			return nil, errors.Wrap(err, "failed to bind source bridge contract")
		}
		s.sourceContract = chainlink.NewBridgeContract(bound, s.cfg.EventName)
	}

	if s.destContract == nil {
		bound, err := s.dest.BindContract(common.HexToAddress(s.cfg.DestContract), s.cfg.DestABI)
		if err != nil {
			return nil, errors.Wrap(err, "failed to bind destination bridge contract")
		}
		s.destContract = chainlink.NewBridgeContract(bound, s.cfg.EventName)
	}

	if s.executor == nil {
		txSigner, err := signer.FromHex(s.cfg.ValidatorKey)
		if err != nil {
			return nil, err
		}

		s.executor = relay.NewExecutor(s.dest, s.destContract, txSigner, s.cfg.GasLimit, s.logger)

		feed := oracle.NewClient(s.cfg.OracleURL, s.cfg.OracleAsset, s.cfg.OracleTimeout, s.logger)
		pipeline := validation.NewPipeline(validation.Config{
			MinAmount:  s.cfg.MinAmount(),
			PriceFloor: s.cfg.PriceFloorUSD,
		}, feed, s.logger)

		s.processor = NewProcessor(pipeline, s.executor, s.metrics)
	}

	return &chainSource{link: s.source, contract: s.sourceContract}, nil
}

// chainSource adapts a source link and its bridge contract to the poller's
// event source.
type chainSource struct {
	link     *chainlink.ChainLink
	contract *chainlink.BridgeContract
}

func (c *chainSource) LatestBlock(ctx context.Context) int64 {
	return c.link.LatestBlock(ctx)
}

func (c *chainSource) FetchLockEvents(ctx context.Context, fromBlock, toBlock uint64) ([]types.BridgeEvent, error) {
	return c.contract.FetchLockEvents(ctx, fromBlock, toBlock)
}
