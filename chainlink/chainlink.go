package chainlink

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	bridgeerrors "github.com/crosslane/bridge-relay/common/errors"
)

// probeTimeout bounds the liveness probe issued by IsConnected.
const probeTimeout = 10 * time.Second

// ChainLink is a handle to a single blockchain node: connection lifecycle,
// latest-block query, and contract binding. It holds no business logic and
// performs no internal retries; retry policy belongs to the caller.
//
// All live reads go through raw-number RPCs (eth_chainId, eth_blockNumber,
// eth_getLogs) that never decode block headers, so proof-of-authority chains
// with non-standard extra-data fields are served without a header shim.
type ChainLink struct {
	rpcURL  string
	chainID uint64
	logger  *logrus.Logger

	clientMutex sync.RWMutex
	client      *ethclient.Client
}

// New creates an unconnected link to the given RPC endpoint. Connect must be
// called before any live operation.
func New(rpcURL string, chainID uint64, logger *logrus.Logger) *ChainLink {
	return &ChainLink{
		rpcURL:  rpcURL,
		chainID: chainID,
		logger:  logger,
	}
}

// Connect establishes the RPC session, replacing any existing one in place.
// The session is verified by querying the remote chain ID and checking it
// against the configured one. Any failure is reported as a connection error
// carrying the root cause.
func (c *ChainLink) Connect(ctx context.Context) error {
	client, err := ethclient.DialContext(ctx, c.rpcURL)
	if err != nil {
		return errors.Wrapf(bridgeerrors.ErrConnectionFailed, "chain %d at %s: %v", c.chainID, c.rpcURL, err)
	}

	remoteID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return errors.Wrapf(bridgeerrors.ErrConnectionFailed, "chain %d at %s: %v", c.chainID, c.rpcURL, err)
	}

	if remoteID.Uint64() != c.chainID {
		client.Close()
		return errors.Wrapf(bridgeerrors.ErrConnectionFailed,
			"chain id mismatch at %s: want %d, node reports %s", c.rpcURL, c.chainID, remoteID)
	}

	c.clientMutex.Lock()
	if c.client != nil {
		c.client.Close()
	}
	c.client = client
	c.clientMutex.Unlock()

	c.logger.WithFields(logrus.Fields{
		"chainId":     c.chainID,
		"latestBlock": c.LatestBlock(ctx),
	}).Info("Connected to chain")

	return nil
}

// IsConnected reports whether the link has a live session. It combines the
// cached client state with a block-number liveness probe.
func (c *ChainLink) IsConnected(ctx context.Context) bool {
	client := c.currentClient()
	if client == nil {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	_, err := client.BlockNumber(probeCtx)
	return err == nil
}

// LatestBlock returns the current head height, or -1 when not connected.
// It never returns an error.
func (c *ChainLink) LatestBlock(ctx context.Context) int64 {
	client := c.currentClient()
	if client == nil {
		return -1
	}

	head, err := client.BlockNumber(ctx)
	if err != nil {
		return -1
	}

	return int64(head)
}

// BindContract binds the given ABI to a contract address on this chain.
// It fails when the link is not connected.
func (c *ChainLink) BindContract(address common.Address, abiJSON string) (*BoundContract, error) {
	if c.currentClient() == nil {
		return nil, errors.Wrapf(bridgeerrors.ErrNotConnected, "cannot bind contract %s on chain %d", address, c.chainID)
	}

	return newBoundContract(c, address, abiJSON)
}

// ChainID returns the configured chain identifier.
func (c *ChainLink) ChainID() uint64 {
	return c.chainID
}

// PendingNonceAt returns the account transaction counter including pending
// transactions, sampled live from the node.
func (c *ChainLink) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	client := c.currentClient()
	if client == nil {
		return 0, errors.WithStack(bridgeerrors.ErrNotConnected)
	}

	return client.PendingNonceAt(ctx, account)
}

// SuggestGasPrice samples the current gas price from the node.
func (c *ChainLink) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	client := c.currentClient()
	if client == nil {
		return nil, errors.WithStack(bridgeerrors.ErrNotConnected)
	}

	return client.SuggestGasPrice(ctx)
}

// SendTransaction broadcasts a signed transaction to the node.
func (c *ChainLink) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	client := c.currentClient()
	if client == nil {
		return errors.WithStack(bridgeerrors.ErrNotConnected)
	}

	return client.SendTransaction(ctx, tx)
}

// Close releases the RPC session.
func (c *ChainLink) Close() {
	c.clientMutex.Lock()
	defer c.clientMutex.Unlock()

	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

func (c *ChainLink) currentClient() *ethclient.Client {
	c.clientMutex.RLock()
	defer c.clientMutex.RUnlock()
	return c.client
}
