package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BridgeEvent is the canonical unit flowing through the relay pipeline.
// It is decoded once from a raw source-chain log and immutable afterwards.
// Nonce is the sole replay identity: two events with the same nonce must
// never both produce a destination action.
//
// Fields:
// - SourceChainID: the chain ID of the chain that emitted the event.
// - SourceTxHash: the hash of the transaction that emitted the event.
// - From: the address that locked the tokens on the source chain.
// - To: the recipient address on the destination chain.
// - Amount: the locked amount in the smallest on-chain unit.
// - Nonce: the per-transfer replay identifier assigned by the source contract.
// - BlockNumber: the block that included the event.
// - LogIndex: the index of the log within the block.
type BridgeEvent struct {
	SourceChainID uint64
	SourceTxHash  common.Hash
	From          common.Address
	To            common.Address
	Amount        *big.Int
	Nonce         uint64
	BlockNumber   uint64
	LogIndex      uint
}

// Verdict is the outcome of running a single validation rule, or of the
// whole pipeline (the verdict of the first failing rule).
type Verdict struct {
	Passed bool
	Rule   string
	Reason string
}

// Pass returns a passing verdict for the given rule.
func Pass(rule string) Verdict {
	return Verdict{Passed: true, Rule: rule}
}

// Fail returns a failing verdict for the given rule with a reason.
func Fail(rule, reason string) Verdict {
	return Verdict{Passed: false, Rule: rule, Reason: reason}
}

// ReconnectState tracks source connection degradation between polls.
// It is owned by the event poller and reset on any successful poll.
type ReconnectState struct {
	ConsecutiveFailures int
	LastSuccessfulPoll  time.Time
}
