package relay

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	bridgeerrors "github.com/crosslane/bridge-relay/common/errors"
	"github.com/crosslane/bridge-relay/common/types"
	"github.com/crosslane/bridge-relay/signer"
)

// Destination is the destination-chain surface the executor needs: a
// connectivity probe plus the live transaction primitives. Implemented by
// chainlink.ChainLink.
type Destination interface {
	IsConnected(ctx context.Context) bool
	ChainID() uint64
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
}

// Contract is the destination bridge contract surface: the authoritative
// replay guard and the mint entry point. Implemented by
// chainlink.BridgeContract.
type Contract interface {
	Address() common.Address
	IsProcessed(ctx context.Context, nonce uint64) (bool, error)
	MintCalldata(req *types.RelayRequest) ([]byte, error)
}

// Executor converts a validated BridgeEvent into a destination-chain mint.
// Idempotency: running Relay twice with the same nonce produces exactly one
// on-chain mint. The on-chain processed-nonce predicate is authoritative; the
// local submitted set is only a fast path, since this process may restart or
// run duplicated.
type Executor struct {
	dest     Destination
	contract Contract
	signer   signer.Signer
	gasLimit uint64
	logger   *logrus.Logger

	submittedMutex sync.Mutex
	submitted      map[uint64]struct{}
}

// NewExecutor creates a relay executor with a fixed conservative gas limit.
func NewExecutor(dest Destination, contract Contract, txSigner signer.Signer, gasLimit uint64, logger *logrus.Logger) *Executor {
	return &Executor{
		dest:      dest,
		contract:  contract,
		signer:    txSigner,
		gasLimit:  gasLimit,
		logger:    logger,
		submitted: make(map[uint64]struct{}),
	}
}

// Relay submits the destination mint for a validated event. Gates, in order:
// destination connectivity, local recently-submitted set, on-chain replay
// guard, then construct/sign/submit. A replayed nonce is a no-op success.
// Connectivity failures leave the event unconsumed so the caller may retry;
// submission failures are surfaced loudly because the relayed action did not
// happen.
func (e *Executor) Relay(ctx context.Context, event *types.BridgeEvent) error {
	if !e.dest.IsConnected(ctx) {
		return errors.Wrapf(bridgeerrors.ErrDestinationUnavailable,
			"cannot relay nonce %d to chain %d", event.Nonce, e.dest.ChainID())
	}

	if e.alreadySubmitted(event.Nonce) {
		e.logger.WithField("nonce", event.Nonce).Debug("Nonce already submitted by this process, skipping")
		return nil
	}

	processed, err := e.contract.IsProcessed(ctx, event.Nonce)
	if err != nil {
		return errors.Wrapf(bridgeerrors.ErrDestinationUnavailable,
			"replay guard query for nonce %d failed: %v", event.Nonce, err)
	}
	if processed {
		e.logger.WithField("nonce", event.Nonce).Info("Nonce already processed on destination, skipping")
		e.markSubmitted(event.Nonce)
		return nil
	}

	req := types.RequestFromEvent(event)

	signedTx, err := e.buildAndSign(ctx, req)
	if err != nil {
		return err
	}

	if err := e.dest.SendTransaction(ctx, signedTx); err != nil {
		return errors.Wrapf(bridgeerrors.ErrSubmission,
			"broadcast for nonce %d failed: %v", event.Nonce, err)
	}

	e.markSubmitted(event.Nonce)

	e.logger.WithFields(logrus.Fields{
		"txHash":      signedTx.Hash().Hex(),
		"recipient":   req.Recipient.Hex(),
		"amount":      req.Amount.String(),
		"sourceNonce": req.SourceNonce,
		"chainId":     e.dest.ChainID(),
	}).Info("Relay transaction submitted")

	return nil
}

// buildAndSign constructs the unsigned mint transaction with live gas price
// and account nonce, then signs it with the validator credential. The gas
// price is sampled at submission time, never cached.
func (e *Executor) buildAndSign(ctx context.Context, req *types.RelayRequest) (*ethtypes.Transaction, error) {
	data, err := e.contract.MintCalldata(req)
	if err != nil {
		return nil, errors.Wrapf(bridgeerrors.ErrSubmission,
			"mint calldata for nonce %d failed: %v", req.SourceNonce, err)
	}

	accountNonce, err := e.dest.PendingNonceAt(ctx, e.signer.Address())
	if err != nil {
		return nil, errors.Wrapf(bridgeerrors.ErrSubmission,
			"account nonce query failed: %v", err)
	}

	gasPrice, err := e.dest.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.Wrapf(bridgeerrors.ErrSubmission,
			"gas price query failed: %v", err)
	}

	tx := ethtypes.NewTransaction(
		accountNonce,
		e.contract.Address(),
		big.NewInt(0),
		e.gasLimit,
		gasPrice,
		data,
	)

	chainID := new(big.Int).SetUint64(e.dest.ChainID())

	signedTx, err := e.signer.SignTx(tx, chainID)
	if err != nil {
		return nil, errors.Wrapf(bridgeerrors.ErrSubmission,
			"signing for nonce %d failed: %v", req.SourceNonce, err)
	}

	return signedTx, nil
}

func (e *Executor) alreadySubmitted(nonce uint64) bool {
	e.submittedMutex.Lock()
	defer e.submittedMutex.Unlock()

	_, ok := e.submitted[nonce]
	return ok
}

func (e *Executor) markSubmitted(nonce uint64) {
	e.submittedMutex.Lock()
	defer e.submittedMutex.Unlock()

	e.submitted[nonce] = struct{}{}
}
