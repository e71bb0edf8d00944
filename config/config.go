package config

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"

	bridgeerrors "github.com/crosslane/bridge-relay/common/errors"
)

// DefaultSourceABI describes the lock event watched on the source bridge
// contract.
const DefaultSourceABI = `[{
	"anonymous": false,
	"inputs": [
		{"indexed": true, "internalType": "address", "name": "from", "type": "address"},
		{"indexed": true, "internalType": "address", "name": "to", "type": "address"},
		{"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
		{"indexed": false, "internalType": "uint256", "name": "nonce", "type": "uint256"}
	],
	"name": "TokensLocked",
	"type": "event"
}]`

// DefaultDestABI describes the destination mint entry point and the
// processed-nonce replay guard.
const DefaultDestABI = `[{
	"inputs": [
		{"internalType": "address", "name": "recipient", "type": "address"},
		{"internalType": "uint256", "name": "amount", "type": "uint256"},
		{"internalType": "uint256", "name": "sourceNonce", "type": "uint256"}
	],
	"name": "mint",
	"outputs": [],
	"stateMutability": "nonpayable",
	"type": "function"
}, {
	"inputs": [
		{"internalType": "uint256", "name": "", "type": "uint256"}
	],
	"name": "processedNonces",
	"outputs": [
		{"internalType": "bool", "name": "", "type": "bool"}
	],
	"stateMutability": "view",
	"type": "function"
}]`

// Config is the structured configuration consumed by the bridge service,
// read from environment variables (optionally seeded from a .env file by the
// CLI). All fields are validated fail-fast at startup.
type Config struct {
	SourceRPC      string `envconfig:"SOURCE_RPC" required:"true"`
	SourceChainID  uint64 `envconfig:"SOURCE_CHAIN_ID" required:"true"`
	SourceContract string `envconfig:"SOURCE_BRIDGE_CONTRACT" required:"true"`
	SourceABI      string `envconfig:"SOURCE_BRIDGE_ABI"`

	DestRPC      string `envconfig:"DEST_RPC" required:"true"`
	DestChainID  uint64 `envconfig:"DEST_CHAIN_ID" required:"true"`
	DestContract string `envconfig:"DEST_BRIDGE_CONTRACT" required:"true"`
	DestABI      string `envconfig:"DEST_BRIDGE_ABI"`

	EventName        string        `envconfig:"EVENT_TO_LISTEN" default:"TokensLocked"`
	PollInterval     time.Duration `envconfig:"POLLING_INTERVAL" default:"12s"`
	ReconnectBackoff time.Duration `envconfig:"RECONNECT_BACKOFF" default:"15s"`
	MaxBackoff       time.Duration `envconfig:"MAX_RECONNECT_BACKOFF" default:"2m"`
	MaxBlockRange    uint64        `envconfig:"MAX_BLOCK_RANGE" default:"1000"`

	ValidatorAddress string `envconfig:"VALIDATOR_ADDRESS" required:"true"`
	ValidatorKey     string `envconfig:"VALIDATOR_PRIVATE_KEY" required:"true"`

	MinAmountWei string `envconfig:"MIN_TRANSFER_AMOUNT" default:"10000000000000000"`
	GasLimit     uint64 `envconfig:"RELAY_GAS_LIMIT" default:"200000"`

	OracleURL     string        `envconfig:"ORACLE_URL" default:"https://api.coingecko.com/api/v3/simple/price?ids=ethereum&vs_currencies=usd"`
	OracleAsset   string        `envconfig:"ORACLE_ASSET" default:"ethereum"`
	OracleTimeout time.Duration `envconfig:"ORACLE_TIMEOUT" default:"5s"`
	PriceFloorUSD float64       `envconfig:"PRICE_FLOOR_USD" default:"1000"`

	MetricsAddr string `envconfig:"METRICS_ADDR"`
}

// Load reads the configuration from the environment, applies the built-in
// ABI defaults, and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrapf(bridgeerrors.ErrInvalidConfig, "%v", err)
	}

	if cfg.SourceABI == "" {
		cfg.SourceABI = DefaultSourceABI
	}
	if cfg.DestABI == "" {
		cfg.DestABI = DefaultDestABI
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects placeholder and malformed values so that a misconfigured
// process exits at startup instead of failing mid-relay.
func (c *Config) Validate() error {
	for name, rpc := range map[string]string{"SOURCE_RPC": c.SourceRPC, "DEST_RPC": c.DestRPC} {
		if strings.Contains(rpc, "your_infura_id") {
			return errors.Wrapf(bridgeerrors.ErrInvalidConfig, "%s still contains the template placeholder", name)
		}
		if !strings.HasPrefix(rpc, "http://") && !strings.HasPrefix(rpc, "https://") &&
			!strings.HasPrefix(rpc, "ws://") && !strings.HasPrefix(rpc, "wss://") {
			return errors.Wrapf(bridgeerrors.ErrInvalidConfig, "%s is not an RPC URL: %q", name, rpc)
		}
	}

	for name, addr := range map[string]string{
		"SOURCE_BRIDGE_CONTRACT": c.SourceContract,
		"DEST_BRIDGE_CONTRACT":   c.DestContract,
		"VALIDATOR_ADDRESS":      c.ValidatorAddress,
	} {
		if !common.IsHexAddress(addr) {
			return errors.Wrapf(bridgeerrors.ErrInvalidConfig, "%s is not a valid address: %q", name, addr)
		}
	}

	privKey, err := crypto.HexToECDSA(strings.TrimPrefix(c.ValidatorKey, "0x"))
	if err != nil {
		return errors.Wrapf(bridgeerrors.ErrInvalidConfig, "VALIDATOR_PRIVATE_KEY does not parse: %v", err)
	}
	derived := crypto.PubkeyToAddress(privKey.PublicKey)
	if derived != common.HexToAddress(c.ValidatorAddress) {
		return errors.Wrapf(bridgeerrors.ErrInvalidConfig,
			"VALIDATOR_ADDRESS %s does not match the signing key's address %s", c.ValidatorAddress, derived)
	}

	sourceABI, err := abi.JSON(strings.NewReader(c.SourceABI))
	if err != nil {
		return errors.Wrapf(bridgeerrors.ErrInvalidConfig, "SOURCE_BRIDGE_ABI does not parse: %v", err)
	}
	if _, ok := sourceABI.Events[c.EventName]; !ok {
		return errors.Wrapf(bridgeerrors.ErrInvalidConfig, "SOURCE_BRIDGE_ABI has no %s event", c.EventName)
	}

	destABI, err := abi.JSON(strings.NewReader(c.DestABI))
	if err != nil {
		return errors.Wrapf(bridgeerrors.ErrInvalidConfig, "DEST_BRIDGE_ABI does not parse: %v", err)
	}
	for _, method := range []string{"mint", "processedNonces"} {
		if _, ok := destABI.Methods[method]; !ok {
			return errors.Wrapf(bridgeerrors.ErrInvalidConfig, "DEST_BRIDGE_ABI has no %s method", method)
		}
	}

	if _, ok := new(big.Int).SetString(c.MinAmountWei, 10); !ok {
		return errors.Wrapf(bridgeerrors.ErrInvalidConfig, "MIN_TRANSFER_AMOUNT is not a base-10 integer: %q", c.MinAmountWei)
	}

	for name, d := range map[string]time.Duration{
		"POLLING_INTERVAL":  c.PollInterval,
		"RECONNECT_BACKOFF": c.ReconnectBackoff,
		"ORACLE_TIMEOUT":    c.OracleTimeout,
	} {
		if d <= 0 {
			return errors.Wrapf(bridgeerrors.ErrInvalidConfig, "%s must be positive", name)
		}
	}

	if c.MaxBlockRange == 0 {
		return errors.Wrap(bridgeerrors.ErrInvalidConfig, "MAX_BLOCK_RANGE must be positive")
	}
	if c.GasLimit == 0 {
		return errors.Wrap(bridgeerrors.ErrInvalidConfig, "RELAY_GAS_LIMIT must be positive")
	}
	if c.SourceChainID == c.DestChainID {
		return errors.Wrap(bridgeerrors.ErrInvalidConfig, "source and destination chain IDs must differ")
	}

	return nil
}

// MinAmount returns the minimum relayable amount as a big integer. Validate
// must have succeeded first.
func (c *Config) MinAmount() *big.Int {
	amount, _ := new(big.Int).SetString(c.MinAmountWei, 10)
	return amount
}
