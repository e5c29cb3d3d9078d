// Package payment abstracts how a retirement is paid for. One interface,
// two implementations: the native-token provider pays from the signing
// wallet itself, the fiat provider holds and captures card funds through
// the gateway. The retirement service drives both through the same
// authorize / capture / refund sequence.
package payment

import (
	"context"
	"math/big"
)

// Authorization statuses.
const (
	StatusAuthorized = "authorized"
	StatusFailed     = "failed"
)

// Authorization is the outcome of an authorize call. A failed status is a
// normal result, not an error: errors are reserved for transport-level
// failures where the provider state is unknown.
type Authorization struct {
	ID      string
	Status  string
	Message string
}

// Receipt confirms captured funds.
type Receipt struct {
	AuthorizationID string
	AmountMicro     *big.Int
	Denom           string
	GatewayRef      string // provider-side reference, empty for native-token
}

// Provider is the payment surface the retirement service depends on.
type Provider interface {
	// Authorize reserves (or verifies) funds for the given on-chain
	// amount. metadata is attached to any provider-side object so Capture
	// can reconstruct the receipt without a fresh round trip.
	Authorize(ctx context.Context, amountMicro *big.Int, denom string, metadata map[string]string) (*Authorization, error)
	// Capture settles a previously authorized amount.
	Capture(ctx context.Context, authorizationID string) (*Receipt, error)
	// Refund releases a hold. Must be idempotent.
	Refund(ctx context.Context, authorizationID string) error
}
