// Package retirement orchestrates a single on-chain retirement: pick
// orders, authorize payment, broadcast the buy, capture the funds, poll for
// the certificate. The public entry point never returns an error to its
// caller — every failure becomes a marketplace fallback the user can act
// on, and any payment hold is released before the failure is reported.
package retirement

import (
	"context"
	"fmt"
	"math/big"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	marketplacetypes "github.com/regen-network/regen-ledger/x/ecocredit/v3/marketplace/types/v1"
	"github.com/rs/zerolog"

	"github.com/offsetpool/offsetpool/internal/identity"
	"github.com/offsetpool/offsetpool/internal/ledger"
	"github.com/offsetpool/offsetpool/internal/model"
	"github.com/offsetpool/offsetpool/internal/payment"
	"github.com/offsetpool/offsetpool/internal/selector"
	"github.com/offsetpool/offsetpool/internal/utils"
)

// Result statuses.
const (
	StatusSuccess             = "success"
	StatusMarketplaceFallback = "marketplace_fallback"
)

var retirementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "offsetpool_retirements_total",
	Help: "Retirement executions by outcome.",
}, []string{"outcome"})

// Request describes one retirement.
type Request struct {
	CreditType      string
	Quantity        string // decimal credit quantity
	BeneficiaryName string
	Jurisdiction    string
	Reason          string
	Identity        identity.Attribution
	PrepaidUserID   uint64 // 0 when no prepaid balance is involved
}

// Result is a tagged union: Status selects which fields are meaningful.
type Result struct {
	Status                string `json:"status"`
	TxHash                string `json:"txHash,omitempty"`
	CreditsRetired        string `json:"creditsRetired,omitempty"`
	CostMicro             string `json:"costMicro,omitempty"`
	CostDenom             string `json:"costDenom,omitempty"`
	BlockHeight           int64  `json:"blockHeight,omitempty"`
	CertificateID         string `json:"certificateId,omitempty"`
	RemainingBalanceCents *int64 `json:"remainingBalanceCents,omitempty"`
	MarketplaceURL        string `json:"marketplaceUrl,omitempty"`
	Message               string `json:"message,omitempty"`
}

// PrepaidStore is the optional prepaid-balance collaborator. Implemented by
// the MySQL repo; nil disables the balance path.
type PrepaidStore interface {
	BalanceCents(ctx context.Context, userID uint64) (int64, error)
	DebitForRetirement(ctx context.Context, userID uint64, amountCents int64, txHash, creditClass, creditsRetired string) (remaining int64, err error)
}

// Notifier publishes a confirmation event after a successful retirement.
// Failures are logged and otherwise ignored.
type Notifier interface {
	RetirementConfirmed(ctx context.Context, txHash, quantity, reason string)
}

// Service executes retirements.
type Service struct {
	ledger         ledger.Client
	selector       *selector.Selector
	provider       payment.Provider
	prepaid        PrepaidStore // may be nil
	notifier       Notifier     // may be nil
	marketplaceURL string
	fiat           bool
	usdcDenom      string
	isUSDC         func(string) bool
	waitTimeout    time.Duration
	log            zerolog.Logger
}

// Options configures a Service.
type Options struct {
	Ledger         ledger.Client
	Selector       *selector.Selector
	Provider       payment.Provider
	Prepaid        PrepaidStore
	Notifier       Notifier
	MarketplaceURL string
	Fiat           bool   // provider charges fiat; bias selection toward USDC
	USDCDenom      string // preferred denom when Fiat is set
	IsUSDC         func(string) bool
	WaitTimeout    time.Duration
	Log            zerolog.Logger
}

// New returns a retirement service.
func New(o Options) *Service {
	if o.WaitTimeout == 0 {
		o.WaitTimeout = 90 * time.Second
	}
	if o.IsUSDC == nil {
		o.IsUSDC = func(string) bool { return false }
	}
	return &Service{
		ledger:         o.Ledger,
		selector:       o.Selector,
		provider:       o.Provider,
		prepaid:        o.Prepaid,
		notifier:       o.Notifier,
		marketplaceURL: o.MarketplaceURL,
		fiat:           o.Fiat,
		usdcDenom:      o.USDCDenom,
		isUSDC:         o.IsUSDC,
		waitTimeout:    o.WaitTimeout,
		log:            o.Log.With().Str("component", "retirement").Logger(),
	}
}

// ExecuteRetirement runs the full pipeline for one request. It always
// returns a renderable result; errors never escape.
func (s *Service) ExecuteRetirement(ctx context.Context, req Request) *Result {
	if !s.ledger.HasWallet() {
		return s.fallback("no signing wallet is configured; retire directly on the marketplace")
	}

	preferredDenom := ""
	if s.fiat {
		preferredDenom = s.usdcDenom
	}
	sel, err := s.selector.SelectBestOrders(ctx, req.CreditType, req.Quantity, preferredDenom)
	if err != nil {
		return s.fallback(fmt.Sprintf("could not load marketplace orders: %v", err))
	}
	if len(sel.Orders) == 0 {
		return s.fallback("no eligible sell orders are open right now")
	}
	if sel.InsufficientSupply {
		return s.fallback(fmt.Sprintf("only %s credits are available for automatic retirement", sel.TotalQuantity()))
	}

	// Prepaid precheck before any hold is placed.
	var costCents int64
	if req.PrepaidUserID != 0 && s.prepaid != nil {
		if !s.isUSDC(sel.PaymentDenom) {
			return s.fallback("prepaid balances can only pay USD-pegged orders")
		}
		costCents = utils.MicroToCentsCeil(sel.TotalCostMicro)
		balance, err := s.prepaid.BalanceCents(ctx, req.PrepaidUserID)
		if err != nil {
			return s.fallback(fmt.Sprintf("could not read prepaid balance: %v", err))
		}
		if balance < costCents {
			return s.fallback(fmt.Sprintf("prepaid balance of %d¢ does not cover the %d¢ cost", balance, costCents))
		}
	}

	reason := identity.AppendIdentityToReason(req.Reason, req.Identity)
	outcome, execErr := s.executeSelection(ctx, sel, req.Jurisdiction, reason)
	if execErr != nil {
		return s.fallback(execErr.Error())
	}

	// Debit the prepaid balance with the tx hash for the audit trail.
	var remaining *int64
	if req.PrepaidUserID != 0 && s.prepaid != nil {
		left, err := s.prepaid.DebitForRetirement(ctx, req.PrepaidUserID, costCents,
			outcome.TxHash, req.CreditType, sel.TotalQuantity())
		if err != nil {
			// The retirement is on chain; a debit failure is a books
			// problem, not a user problem.
			s.log.Error().Err(err).Str("tx_hash", outcome.TxHash).Msg("prepaid debit failed after broadcast")
		} else {
			remaining = &left
		}
	}

	if s.notifier != nil {
		s.notifier.RetirementConfirmed(ctx, outcome.TxHash, sel.TotalQuantity(), reason)
	}
	retirementsTotal.WithLabelValues("success").Inc()
	return &Result{
		Status:                StatusSuccess,
		TxHash:                outcome.TxHash,
		CreditsRetired:        sel.TotalQuantity(),
		CostMicro:             sel.TotalCostMicro.String(),
		CostDenom:             sel.PaymentDenom,
		BlockHeight:           outcome.Height,
		CertificateID:         outcome.CertificateID,
		RemainingBalanceCents: remaining,
	}
}

// Outcome is the successful end state of an executed selection.
type Outcome struct {
	TxHash        string
	Height        int64
	Receipt       *payment.Receipt
	CertificateID string
	Retirement    *model.Retirement
}

// ExecuteSelection runs authorize → broadcast → capture → poll for an
// already-built selection. The batch driver calls this directly with its
// budget-constrained order set. On any error the payment hold has already
// been released (or was never placed); after a successful broadcast the
// hold is never released even if later steps fail.
func (s *Service) ExecuteSelection(ctx context.Context, sel *selector.Selection, jurisdiction, reason string) (*Outcome, error) {
	return s.executeSelection(ctx, sel, jurisdiction, reason)
}

func (s *Service) executeSelection(ctx context.Context, sel *selector.Selection, jurisdiction, reason string) (*Outcome, error) {
	auth, err := s.provider.Authorize(ctx, sel.TotalCostMicro, sel.PaymentDenom, map[string]string{
		"reason": reason,
	})
	if err != nil {
		return nil, fmt.Errorf("payment authorization failed: %v", err)
	}
	if auth.Status != payment.StatusAuthorized {
		return nil, fmt.Errorf("payment was not authorized: %s", auth.Message)
	}

	msg := s.buildBuyDirect(sel, jurisdiction, reason)
	res, err := s.ledger.SignAndBroadcast(ctx, []sdk.Msg{msg})
	if err != nil {
		s.refund(ctx, auth.ID)
		return nil, fmt.Errorf("broadcast failed: %v", err)
	}
	if res.Code != 0 {
		s.refund(ctx, auth.ID)
		return nil, fmt.Errorf("transaction rejected on chain (code %d): %s", res.Code, res.RawLog)
	}

	outcome := &Outcome{TxHash: res.TxHash, Height: res.Height}

	receipt, err := s.provider.Capture(ctx, auth.ID)
	if err != nil {
		// The credits are retired; the hold stays for manual
		// reconciliation. Never refund after a successful broadcast.
		s.log.Error().Err(err).Str("tx_hash", res.TxHash).Str("authorization", auth.ID).
			Msg("capture failed after broadcast; hold retained for reconciliation")
	} else {
		outcome.Receipt = receipt
	}

	rec, err := s.ledger.WaitForRetirement(ctx, res.TxHash, s.waitTimeout)
	if err != nil {
		s.log.Warn().Err(err).Str("tx_hash", res.TxHash).Msg("indexer wait errored")
	}
	if rec != nil {
		outcome.CertificateID = rec.NodeID
		outcome.Retirement = rec
	}
	return outcome, nil
}

// buildBuyDirect shapes one buy-direct message covering every selected
// order. Auto-retire stays on so the purchase and the retirement are one
// atomic transaction.
func (s *Service) buildBuyDirect(sel *selector.Selection, jurisdiction, reason string) *marketplacetypes.MsgBuyDirect {
	orders := make([]*marketplacetypes.MsgBuyDirect_Order, 0, len(sel.Orders))
	for _, o := range sel.Orders {
		orders = append(orders, &marketplacetypes.MsgBuyDirect_Order{
			SellOrderId: o.Order.ID,
			Quantity:    o.Quantity(),
			BidPrice: &sdk.Coin{
				Denom:  sel.PaymentDenom,
				Amount: sdkmath.NewIntFromBigInt(new(big.Int).Set(o.Order.AskAmount)),
			},
			DisableAutoRetire:      false,
			RetirementJurisdiction: jurisdiction,
			RetirementReason:       reason,
		})
	}
	return &marketplacetypes.MsgBuyDirect{Buyer: s.ledger.Address(), Orders: orders}
}

// refund releases a hold on the failure path. A refund failure is logged
// and swallowed: the hold either expires on its own or is reconciled by an
// operator, and the caller already has a better error to report.
func (s *Service) refund(ctx context.Context, authorizationID string) {
	if err := s.provider.Refund(ctx, authorizationID); err != nil {
		s.log.Error().Err(err).Str("authorization", authorizationID).Msg("refund failed")
	}
}

func (s *Service) fallback(message string) *Result {
	retirementsTotal.WithLabelValues("fallback").Inc()
	s.log.Warn().Str("message", message).Msg("falling back to marketplace")
	return &Result{
		Status:         StatusMarketplaceFallback,
		MarketplaceURL: s.marketplaceURL,
		Message:        message,
	}
}
