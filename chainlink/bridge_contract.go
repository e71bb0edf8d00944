package chainlink

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	bridgeerrors "github.com/crosslane/bridge-relay/common/errors"
	"github.com/crosslane/bridge-relay/common/types"
)

// Lock events carry from and to as indexed topics, amount and nonce in the
// data section.
const lockEventTopics = 3

// BridgeContract wraps a BoundContract with the bridge-specific operations:
// decoding lock events on the source side, and the replay-guard predicate
// plus mint calldata on the destination side.
type BridgeContract struct {
	*BoundContract
	event string
}

// NewBridgeContract wraps a bound bridge contract and fixes the lock event
// name used for filtering and decoding.
func NewBridgeContract(contract *BoundContract, event string) *BridgeContract {
	return &BridgeContract{BoundContract: contract, event: event}
}

// FetchLockEvents returns the decoded lock events emitted by the contract in
// the inclusive block range, in log order.
func (b *BridgeContract) FetchLockEvents(ctx context.Context, fromBlock, toBlock uint64) ([]types.BridgeEvent, error) {
	logs, err := b.FilterLogs(ctx, b.event, fromBlock, toBlock)
	if err != nil {
		return nil, err
	}

	events := make([]types.BridgeEvent, 0, len(logs))
	for _, lg := range logs {
		event, err := b.ParseLockEvent(lg)
		if err != nil {
			// Malformed log entries are discarded here, not escalated:
			// the poller must keep draining the batch.
			b.link.logger.WithFields(logrus.Fields{
				"chainId": b.link.chainID,
				"txHash":  lg.TxHash.Hex(),
				"block":   lg.BlockNumber,
			}).WithError(err).Warn("Discarding undecodable log entry")
			continue
		}
		events = append(events, *event)
	}

	return events, nil
}

// ParseLockEvent decodes a raw log into a BridgeEvent.
func (b *BridgeContract) ParseLockEvent(lg ethtypes.Log) (*types.BridgeEvent, error) {
	if len(lg.Topics) < lockEventTopics {
		return nil, errors.Wrapf(bridgeerrors.ErrMalformedEvent,
			"log %s has %d topics, want %d", lg.TxHash, len(lg.Topics), lockEventTopics)
	}

	values, err := b.abi.Unpack(b.event, lg.Data)
	if err != nil {
		return nil, errors.Wrapf(bridgeerrors.ErrMalformedEvent, "log %s: %v", lg.TxHash, err)
	}
	if len(values) < 2 {
		return nil, errors.Wrapf(bridgeerrors.ErrMalformedEvent,
			"log %s decodes to %d values, want amount and nonce", lg.TxHash, len(values))
	}

	amount, ok := values[0].(*big.Int)
	if !ok {
		return nil, errors.Wrapf(bridgeerrors.ErrMalformedEvent, "log %s: amount is not uint256", lg.TxHash)
	}

	nonce, ok := values[1].(*big.Int)
	if !ok || !nonce.IsUint64() {
		return nil, errors.Wrapf(bridgeerrors.ErrMalformedEvent, "log %s: nonce is not a uint64-range uint256", lg.TxHash)
	}

	return &types.BridgeEvent{
		SourceChainID: b.link.chainID,
		SourceTxHash:  lg.TxHash,
		From:          common.BytesToAddress(lg.Topics[1].Bytes()),
		To:            common.BytesToAddress(lg.Topics[2].Bytes()),
		Amount:        amount,
		Nonce:         nonce.Uint64(),
		BlockNumber:   lg.BlockNumber,
		LogIndex:      lg.Index,
	}, nil
}

// IsProcessed queries the destination contract's processed-nonce predicate.
// This is the authoritative replay guard: a true result means the transfer
// has already been minted and must not be submitted again.
func (b *BridgeContract) IsProcessed(ctx context.Context, nonce uint64) (bool, error) {
	values, err := b.Call(ctx, "processedNonces", new(big.Int).SetUint64(nonce))
	if err != nil {
		return false, err
	}
	if len(values) != 1 {
		return false, errors.Errorf("processedNonces returned %d values, want 1", len(values))
	}

	processed, ok := values[0].(bool)
	if !ok {
		return false, errors.New("processedNonces did not return a bool")
	}

	return processed, nil
}

// MintCalldata encodes the destination mint entry point for a relay request.
func (b *BridgeContract) MintCalldata(req *types.RelayRequest) ([]byte, error) {
	return b.Pack("mint", req.Recipient, req.Amount, new(big.Int).SetUint64(req.SourceNonce))
}

func newBlockNumber(n uint64) *big.Int {
	return new(big.Int).SetUint64(n)
}
