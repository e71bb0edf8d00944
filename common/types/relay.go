package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RelayRequest is the destination-chain action derived 1:1 from a validated
// BridgeEvent. It is submitted at most once per SourceNonce; the destination
// contract's processed-nonce predicate is the authoritative replay guard.
type RelayRequest struct {
	Recipient   common.Address
	Amount      *big.Int
	SourceNonce uint64
}

// RequestFromEvent derives the destination action for a validated event.
func RequestFromEvent(event *BridgeEvent) *RelayRequest {
	return &RelayRequest{
		Recipient:   event.To,
		Amount:      event.Amount,
		SourceNonce: event.Nonce,
	}
}
