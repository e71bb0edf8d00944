package errors

import "github.com/pkg/errors"

var (
	ErrConnectionFailed       = errors.New("failed to establish chain connection")
	ErrNotConnected           = errors.New("not connected to chain")
	ErrDestinationUnavailable = errors.New("destination chain unavailable")
	ErrSubmission             = errors.New("transaction submission failed")
	ErrMalformedEvent         = errors.New("malformed bridge event")
	ErrOracleDegraded         = errors.New("price feed unavailable")
	ErrInvalidConfig          = errors.New("invalid bridge configuration")
)
