package payment

import (
	"context"
	"fmt"
	"math/big"

	"github.com/rs/zerolog"

	"github.com/offsetpool/offsetpool/internal/gateway"
	"github.com/offsetpool/offsetpool/internal/utils"
)

// intentClient is the slice of the gateway client the fiat provider uses.
type intentClient interface {
	CreateManualCaptureIntent(ctx context.Context, amountCents int64, customerID, paymentMethodID string, metadata map[string]string) (*gateway.PaymentIntent, error)
	CapturePaymentIntent(ctx context.Context, id string) (*gateway.PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, id string) error
}

// StripeProvider holds fiat funds on the gateway with a manual-capture
// payment intent. The gateway works in minor fiat units; the chain works in
// micro-units of a USDC-equivalent denom. cents = ceil(micro / 10_000) so
// the card hold always covers the on-chain price. Any other denom cannot be
// priced in fiat and fails authorization outright.
type StripeProvider struct {
	client          intentClient
	customerID      string
	paymentMethodID string
	isUSDC          func(denom string) bool
	log             zerolog.Logger
}

// NewStripeProvider returns a fiat provider charging the stored payment
// method of one gateway customer.
func NewStripeProvider(client intentClient, customerID, paymentMethodID string, isUSDC func(string) bool, log zerolog.Logger) *StripeProvider {
	return &StripeProvider{
		client:          client,
		customerID:      customerID,
		paymentMethodID: paymentMethodID,
		isUSDC:          isUSDC,
		log:             log.With().Str("component", "payment-stripe").Logger(),
	}
}

// Authorize creates and confirms a manual-capture intent. The on-chain
// amount and denom ride along in the intent metadata so Capture can rebuild
// the receipt from the capture response alone.
func (p *StripeProvider) Authorize(ctx context.Context, amountMicro *big.Int, denom string, metadata map[string]string) (*Authorization, error) {
	if !p.isUSDC(denom) {
		return &Authorization{
			Status:  StatusFailed,
			Message: fmt.Sprintf("denom %s cannot be charged in fiat", denom),
		}, nil
	}
	cents := utils.MicroToCentsCeil(amountMicro)
	md := map[string]string{
		"onchain_amount_micro": amountMicro.String(),
		"onchain_denom":        denom,
	}
	for k, v := range metadata {
		md[k] = v
	}
	intent, err := p.client.CreateManualCaptureIntent(ctx, cents, p.customerID, p.paymentMethodID, md)
	if err != nil {
		if gateway.Retryable(err) {
			return nil, fmt.Errorf("stripe authorize: %w", err)
		}
		// 4xx: the charge itself was declined.
		return &Authorization{Status: StatusFailed, Message: err.Error()}, nil
	}
	switch intent.Status {
	case "requires_capture", "succeeded":
		return &Authorization{ID: intent.ID, Status: StatusAuthorized}, nil
	default:
		return &Authorization{
			ID:      intent.ID,
			Status:  StatusFailed,
			Message: fmt.Sprintf("payment intent ended in status %s", intent.Status),
		}, nil
	}
}

// Capture settles the hold and rebuilds the on-chain receipt from the
// intent metadata.
func (p *StripeProvider) Capture(ctx context.Context, authorizationID string) (*Receipt, error) {
	intent, err := p.client.CapturePaymentIntent(ctx, authorizationID)
	if err != nil {
		return nil, fmt.Errorf("stripe capture: %w", err)
	}
	amount := new(big.Int)
	if raw, ok := intent.Metadata["onchain_amount_micro"]; ok {
		if _, ok := amount.SetString(raw, 10); !ok {
			amount.SetInt64(0)
		}
	}
	if amount.Sign() == 0 {
		// Fall back to the fiat amount if the metadata was lost.
		amount = utils.CentsToMicro(intent.Amount)
	}
	denom := intent.Metadata["onchain_denom"]
	p.log.Info().Str("intent", intent.ID).Str("denom", denom).Msg("captured payment intent")
	return &Receipt{
		AuthorizationID: authorizationID,
		AmountMicro:     amount,
		Denom:           denom,
		GatewayRef:      intent.ID,
	}, nil
}

// Refund cancels the hold. The gateway treats canceling an already-canceled
// intent as an error; the client maps that case to success so retries are
// safe.
func (p *StripeProvider) Refund(ctx context.Context, authorizationID string) error {
	if err := p.client.CancelPaymentIntent(ctx, authorizationID); err != nil {
		return fmt.Errorf("stripe refund: %w", err)
	}
	return nil
}
