package payment

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/rs/zerolog"

	"github.com/offsetpool/offsetpool/internal/ledger"
	"github.com/offsetpool/offsetpool/internal/utils"
)

// CryptoProvider pays from the same wallet that signs the ledger
// transaction. There is no hold to place: authorize only checks the
// balance, and the buy itself moves the funds, so capture and refund are
// no-ops. The authorization id is tracked locally so Capture can still
// produce a receipt for the audit trail.
type CryptoProvider struct {
	ledger ledger.Broadcaster
	log    zerolog.Logger

	mu    sync.Mutex
	holds map[string]Receipt
}

// NewCryptoProvider returns a native-token provider backed by the wallet.
func NewCryptoProvider(lc ledger.Broadcaster, log zerolog.Logger) *CryptoProvider {
	return &CryptoProvider{
		ledger: lc,
		log:    log.With().Str("component", "payment-crypto").Logger(),
		holds:  map[string]Receipt{},
	}
}

// Authorize verifies the wallet balance covers the amount. Nothing is
// reserved on chain; a concurrent spend can still fail the broadcast later,
// which the retirement service handles as a fallback.
func (p *CryptoProvider) Authorize(ctx context.Context, amountMicro *big.Int, denom string, metadata map[string]string) (*Authorization, error) {
	balance, err := p.ledger.BankBalance(ctx, denom)
	if err != nil {
		return nil, fmt.Errorf("crypto authorize: %w", err)
	}
	if balance.Cmp(amountMicro) < 0 {
		return &Authorization{
			Status: StatusFailed,
			Message: fmt.Sprintf("wallet balance %s %s is below required %s",
				balance, denom, amountMicro),
		}, nil
	}
	id, err := utils.RandomHex(16)
	if err != nil {
		return nil, err
	}
	id = "crypto_" + id
	p.mu.Lock()
	p.holds[id] = Receipt{AuthorizationID: id, AmountMicro: new(big.Int).Set(amountMicro), Denom: denom}
	p.mu.Unlock()
	return &Authorization{ID: id, Status: StatusAuthorized}, nil
}

// Capture is a no-op: the broadcast already moved the funds.
func (p *CryptoProvider) Capture(ctx context.Context, authorizationID string) (*Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.holds[authorizationID]
	if !ok {
		return nil, fmt.Errorf("crypto capture: unknown authorization %s", authorizationID)
	}
	delete(p.holds, authorizationID)
	return &r, nil
}

// Refund is a no-op: nothing was reserved.
func (p *CryptoProvider) Refund(ctx context.Context, authorizationID string) error {
	p.mu.Lock()
	delete(p.holds, authorizationID)
	p.mu.Unlock()
	return nil
}
