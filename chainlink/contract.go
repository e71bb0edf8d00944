package chainlink

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	bridgeerrors "github.com/crosslane/bridge-relay/common/errors"
)

// BoundContract couples a contract address and its parsed ABI with the link
// to the chain the contract lives on. It is a thin call/pack/filter surface;
// domain semantics live in BridgeContract.
type BoundContract struct {
	link    *ChainLink
	address common.Address
	abi     abi.ABI
}

func newBoundContract(link *ChainLink, address common.Address, abiJSON string) (*BoundContract, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse contract ABI")
	}

	return &BoundContract{
		link:    link,
		address: address,
		abi:     parsed,
	}, nil
}

// Address returns the bound contract address.
func (b *BoundContract) Address() common.Address {
	return b.address
}

// Call executes a read-only contract method against the latest state and
// returns the unpacked outputs.
func (b *BoundContract) Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	client := b.link.currentClient()
	if client == nil {
		return nil, errors.WithStack(bridgeerrors.ErrNotConnected)
	}

	input, err := b.abi.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to pack call data for %s", method)
	}

	output, err := client.CallContract(ctx, ethereum.CallMsg{To: &b.address, Data: input}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "contract call %s failed", method)
	}

	values, err := b.abi.Unpack(method, output)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to unpack %s result", method)
	}

	return values, nil
}

// Pack encodes calldata for a state-changing contract method.
func (b *BoundContract) Pack(method string, args ...interface{}) ([]byte, error) {
	data, err := b.abi.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to pack call data for %s", method)
	}

	return data, nil
}

// EventID returns the topic hash of a named event in the bound ABI.
func (b *BoundContract) EventID(name string) (common.Hash, error) {
	ev, ok := b.abi.Events[name]
	if !ok {
		return common.Hash{}, errors.Errorf("event %s not found in contract ABI", name)
	}

	return ev.ID, nil
}

// FilterLogs fetches raw logs for a named event over an inclusive block range.
func (b *BoundContract) FilterLogs(ctx context.Context, event string, fromBlock, toBlock uint64) ([]ethtypes.Log, error) {
	client := b.link.currentClient()
	if client == nil {
		return nil, errors.WithStack(bridgeerrors.ErrNotConnected)
	}

	topic, err := b.EventID(event)
	if err != nil {
		return nil, err
	}

	query := ethereum.FilterQuery{
		FromBlock: newBlockNumber(fromBlock),
		ToBlock:   newBlockNumber(toBlock),
		Addresses: []common.Address{b.address},
		Topics:    [][]common.Hash{{topic}},
	}

	logs, err := client.FilterLogs(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to filter %s logs", event)
	}

	return logs, nil
}
