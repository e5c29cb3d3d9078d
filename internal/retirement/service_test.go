package retirement

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/rs/zerolog"

	"github.com/offsetpool/offsetpool/internal/ledger"
	"github.com/offsetpool/offsetpool/internal/model"
	"github.com/offsetpool/offsetpool/internal/payment"
	"github.com/offsetpool/offsetpool/internal/selector"
)

// fakeLedger scripts each downstream call so tests can inject faults at any
// step of the pipeline.
type fakeLedger struct {
	hasWallet    bool
	orders       []model.SellOrder
	ordersErr    error
	broadcast    *ledger.BroadcastResult
	broadcastErr error
	retirement   *model.Retirement
	waitErr      error
	balances     map[string]int64
}

func (f *fakeLedger) ListSellOrders(ctx context.Context) ([]model.SellOrder, error) {
	return f.orders, f.ordersErr
}
func (f *fakeLedger) ListCreditClasses(ctx context.Context) ([]model.CreditClass, error) {
	return []model.CreditClass{{ID: "C01", CreditTypeAbbrev: "C"}}, nil
}
func (f *fakeLedger) ListProjects(ctx context.Context) ([]model.Project, error) { return nil, nil }
func (f *fakeLedger) GetAllowedDenoms(ctx context.Context) ([]model.AllowedDenom, error) {
	return []model.AllowedDenom{{BankDenom: "uregen", DisplayDenom: "regen", Exponent: 6}}, nil
}
func (f *fakeLedger) GetRetirementByID(ctx context.Context, id string) (*model.Retirement, error) {
	return f.retirement, nil
}
func (f *fakeLedger) WaitForRetirement(ctx context.Context, txHash string, timeout time.Duration) (*model.Retirement, error) {
	return f.retirement, f.waitErr
}
func (f *fakeLedger) SignAndBroadcast(ctx context.Context, msgs []sdk.Msg) (*ledger.BroadcastResult, error) {
	return f.broadcast, f.broadcastErr
}
func (f *fakeLedger) BankBalance(ctx context.Context, denom string) (*big.Int, error) {
	return big.NewInt(f.balances[denom]), nil
}
func (f *fakeLedger) Address() string { return "regen1testaddress" }
func (f *fakeLedger) HasWallet() bool { return f.hasWallet }

// fakeProvider records the authorize/capture/refund sequence.
type fakeProvider struct {
	authorizeStatus string
	authorizeErr    error
	captureErr      error
	refundCalls     []string
	captureCalls    []string
}

func (p *fakeProvider) Authorize(ctx context.Context, amount *big.Int, denom string, md map[string]string) (*payment.Authorization, error) {
	if p.authorizeErr != nil {
		return nil, p.authorizeErr
	}
	status := p.authorizeStatus
	if status == "" {
		status = payment.StatusAuthorized
	}
	return &payment.Authorization{ID: "auth_1", Status: status, Message: "declined"}, nil
}
func (p *fakeProvider) Capture(ctx context.Context, id string) (*payment.Receipt, error) {
	p.captureCalls = append(p.captureCalls, id)
	if p.captureErr != nil {
		return nil, p.captureErr
	}
	return &payment.Receipt{AuthorizationID: id}, nil
}
func (p *fakeProvider) Refund(ctx context.Context, id string) error {
	p.refundCalls = append(p.refundCalls, id)
	return nil
}

func sellOrder(id uint64, ask int64, qty string) model.SellOrder {
	return model.SellOrder{
		ID:         id,
		BatchDenom: "C01-001-20200101-20210101-001",
		Quantity:   qty,
		AskAmount:  big.NewInt(ask),
		AskDenom:   "uregen",
	}
}

func newService(fl *fakeLedger, fp *fakeProvider) *Service {
	return New(Options{
		Ledger:         fl,
		Selector:       selector.New(fl, "uregen"),
		Provider:       fp,
		MarketplaceURL: "https://market.example/storefront",
		WaitTimeout:    time.Millisecond,
		Log:            zerolog.Nop(),
	})
}

func okLedger() *fakeLedger {
	return &fakeLedger{
		hasWallet: true,
		orders:    []model.SellOrder{sellOrder(1, 1000, "10")},
		broadcast: &ledger.BroadcastResult{Code: 0, TxHash: "ABC123", Height: 42},
		retirement: &model.Retirement{
			NodeID: "node-1", TxHash: "ABC123", Amount: "2.000000",
		},
	}
}

func TestExecuteRetirementSuccess(t *testing.T) {
	fl, fp := okLedger(), &fakeProvider{}
	res := newService(fl, fp).ExecuteRetirement(context.Background(), Request{
		Quantity: "2", Jurisdiction: "US", Reason: "offset travel",
	})
	if res.Status != StatusSuccess {
		t.Fatalf("status = %s (%s)", res.Status, res.Message)
	}
	if res.TxHash != "ABC123" || res.BlockHeight != 42 {
		t.Errorf("tx metadata off: %+v", res)
	}
	if res.CreditsRetired != "2.000000" {
		t.Errorf("credits retired = %s", res.CreditsRetired)
	}
	if res.CertificateID != "node-1" {
		t.Errorf("certificate id = %s", res.CertificateID)
	}
	if len(fp.captureCalls) != 1 {
		t.Errorf("capture calls = %d, want 1", len(fp.captureCalls))
	}
	if len(fp.refundCalls) != 0 {
		t.Errorf("refund called on success path")
	}
}

func TestBroadcastFailureRefundsHold(t *testing.T) {
	fl, fp := okLedger(), &fakeProvider{}
	fl.broadcast = nil
	fl.broadcastErr = errors.New("rpc unavailable")

	res := newService(fl, fp).ExecuteRetirement(context.Background(), Request{
		Quantity: "2", Jurisdiction: "US", Reason: "offset",
	})
	if res.Status != StatusMarketplaceFallback {
		t.Fatalf("status = %s", res.Status)
	}
	if !strings.Contains(res.Message, "rpc unavailable") {
		t.Errorf("fallback message lost the cause: %q", res.Message)
	}
	if len(fp.refundCalls) != 1 || fp.refundCalls[0] != "auth_1" {
		t.Errorf("refund calls = %v, want exactly [auth_1]", fp.refundCalls)
	}
	if len(fp.captureCalls) != 0 {
		t.Errorf("capture must not run after a failed broadcast")
	}
}

func TestOnChainRejectionRefundsHold(t *testing.T) {
	fl, fp := okLedger(), &fakeProvider{}
	fl.broadcast = &ledger.BroadcastResult{Code: 5, TxHash: "DEAD", RawLog: "insufficient funds"}

	res := newService(fl, fp).ExecuteRetirement(context.Background(), Request{Quantity: "2"})
	if res.Status != StatusMarketplaceFallback {
		t.Fatalf("status = %s", res.Status)
	}
	if len(fp.refundCalls) != 1 {
		t.Errorf("refund calls = %v", fp.refundCalls)
	}
}

func TestCaptureFailureAfterBroadcastKeepsHold(t *testing.T) {
	fl, fp := okLedger(), &fakeProvider{}
	fp.captureErr = errors.New("gateway down")

	res := newService(fl, fp).ExecuteRetirement(context.Background(), Request{Quantity: "2"})
	if res.Status != StatusSuccess {
		t.Fatalf("retirement is on chain; status = %s", res.Status)
	}
	if len(fp.refundCalls) != 0 {
		t.Error("hold must never be refunded after a successful broadcast")
	}
}

func TestIndexerLagOmitsCertificate(t *testing.T) {
	fl, fp := okLedger(), &fakeProvider{}
	fl.retirement = nil // indexer has not caught up

	res := newService(fl, fp).ExecuteRetirement(context.Background(), Request{Quantity: "2"})
	if res.Status != StatusSuccess {
		t.Fatalf("status = %s", res.Status)
	}
	if res.CertificateID != "" {
		t.Errorf("certificate id should be empty on indexer lag, got %s", res.CertificateID)
	}
	if res.TxHash == "" {
		t.Error("tx hash must still be reported so the caller can look it up later")
	}
}

// TestNeverRaises injects faults at every downstream step and asserts the
// service still answers with a tagged result.
func TestNeverRaises(t *testing.T) {
	faults := map[string]func(*fakeLedger, *fakeProvider){
		"no wallet":          func(fl *fakeLedger, fp *fakeProvider) { fl.hasWallet = false },
		"orders unavailable": func(fl *fakeLedger, fp *fakeProvider) { fl.ordersErr = errors.New("boom") },
		"no orders":          func(fl *fakeLedger, fp *fakeProvider) { fl.orders = nil },
		"short supply":       func(fl *fakeLedger, fp *fakeProvider) { fl.orders = []model.SellOrder{sellOrder(1, 10, "0.5")} },
		"authorize declined": func(fl *fakeLedger, fp *fakeProvider) { fp.authorizeStatus = payment.StatusFailed },
		"authorize errored":  func(fl *fakeLedger, fp *fakeProvider) { fp.authorizeErr = errors.New("gateway 500") },
		"broadcast errored":  func(fl *fakeLedger, fp *fakeProvider) { fl.broadcastErr = errors.New("rpc down"); fl.broadcast = nil },
		"tx rejected":        func(fl *fakeLedger, fp *fakeProvider) { fl.broadcast = &ledger.BroadcastResult{Code: 13} },
		"indexer errored":    func(fl *fakeLedger, fp *fakeProvider) { fl.waitErr = errors.New("indexer down") },
	}
	for name, inject := range faults {
		t.Run(name, func(t *testing.T) {
			fl, fp := okLedger(), &fakeProvider{}
			inject(fl, fp)
			res := newService(fl, fp).ExecuteRetirement(context.Background(), Request{Quantity: "2"})
			if res == nil {
				t.Fatal("nil result")
			}
			if res.Status != StatusSuccess && res.Status != StatusMarketplaceFallback {
				t.Fatalf("unexpected status %s", res.Status)
			}
			if res.Status == StatusMarketplaceFallback && res.MarketplaceURL == "" {
				t.Error("fallback without marketplace url")
			}
		})
	}
}
