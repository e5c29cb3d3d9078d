package selector

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/offsetpool/offsetpool/internal/model"
)

// fakeLedger satisfies ledger.Reader with fixed data.
type fakeLedger struct {
	orders  []model.SellOrder
	classes []model.CreditClass
	denoms  []model.AllowedDenom
}

func (f *fakeLedger) ListSellOrders(ctx context.Context) ([]model.SellOrder, error) {
	return f.orders, nil
}
func (f *fakeLedger) ListCreditClasses(ctx context.Context) ([]model.CreditClass, error) {
	return f.classes, nil
}
func (f *fakeLedger) ListProjects(ctx context.Context) ([]model.Project, error) { return nil, nil }
func (f *fakeLedger) GetAllowedDenoms(ctx context.Context) ([]model.AllowedDenom, error) {
	return f.denoms, nil
}
func (f *fakeLedger) GetRetirementByID(ctx context.Context, id string) (*model.Retirement, error) {
	return nil, nil
}
func (f *fakeLedger) WaitForRetirement(ctx context.Context, txHash string, timeout time.Duration) (*model.Retirement, error) {
	return nil, nil
}

func uregen() []model.AllowedDenom {
	return []model.AllowedDenom{{BankDenom: "uregen", DisplayDenom: "regen", Exponent: 6}}
}

func order(id uint64, ask int64, qty string) model.SellOrder {
	return model.SellOrder{
		ID:         id,
		BatchDenom: "C01-001-20200101-20210101-001",
		Quantity:   qty,
		AskAmount:  big.NewInt(ask),
		AskDenom:   "uregen",
	}
}

func TestSelectBestOrdersCheapestFirstFill(t *testing.T) {
	// Three orders at mixed prices; the fill must take the cheapest fully
	// and cap the take on the last order at exactly the target.
	fl := &fakeLedger{
		orders: []model.SellOrder{
			order(1, 2200, "2"),   // expensive
			order(2, 1000, "1"),   // cheapest
			order(3, 1500, "3"),   // mid
		},
		denoms: uregen(),
	}
	s := New(fl, "uregen")

	sel, err := s.SelectBestOrders(context.Background(), "", "3.5", "")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if sel.InsufficientSupply {
		t.Fatal("supply was sufficient")
	}
	if len(sel.Orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(sel.Orders))
	}
	if sel.Orders[0].Order.ID != 2 || sel.Orders[1].Order.ID != 3 {
		t.Errorf("wrong order ids: %d, %d", sel.Orders[0].Order.ID, sel.Orders[1].Order.ID)
	}
	if got := sel.Orders[0].Quantity(); got != "1.000000" {
		t.Errorf("first take = %s, want 1.000000", got)
	}
	if got := sel.Orders[1].Quantity(); got != "2.500000" {
		t.Errorf("second take = %s, want 2.500000", got)
	}
	if sel.TotalCostMicro.Cmp(big.NewInt(4750)) != 0 {
		t.Errorf("total cost = %s, want 4750", sel.TotalCostMicro)
	}
}

func TestSelectBestOrdersCheapestFirstProperty(t *testing.T) {
	// No unselected eligible order may be cheaper than any selected one.
	fl := &fakeLedger{
		orders: []model.SellOrder{
			order(1, 500, "1"),
			order(2, 300, "1"),
			order(3, 900, "1"),
			order(4, 700, "1"),
		},
		denoms: uregen(),
	}
	s := New(fl, "uregen")
	sel, err := s.SelectBestOrders(context.Background(), "", "2", "")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	selected := map[uint64]bool{}
	var maxSelected *big.Int
	for _, so := range sel.Orders {
		selected[so.Order.ID] = true
		if maxSelected == nil || so.Order.AskAmount.Cmp(maxSelected) > 0 {
			maxSelected = so.Order.AskAmount
		}
	}
	for _, o := range fl.orders {
		if !selected[o.ID] && o.AskAmount.Cmp(maxSelected) < 0 {
			t.Errorf("unselected order %d is cheaper than a selected order", o.ID)
		}
	}
}

func TestSelectBestOrdersInsufficientSupply(t *testing.T) {
	fl := &fakeLedger{orders: []model.SellOrder{order(1, 1000, "1")}, denoms: uregen()}
	s := New(fl, "uregen")
	sel, err := s.SelectBestOrders(context.Background(), "", "2", "")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if !sel.InsufficientSupply {
		t.Fatal("expected insufficient supply")
	}
	if got := sel.TotalQuantity(); got != "1.000000" {
		t.Errorf("partial fill = %s, want 1.000000", got)
	}
}

func TestSelectOrdersForBudgetNeverOverspends(t *testing.T) {
	fl := &fakeLedger{
		orders: []model.SellOrder{
			order(1, 1000, "1"),
			order(2, 2000, "5"),
		},
		denoms: uregen(),
	}
	s := New(fl, "uregen")

	sel, err := s.SelectOrdersForBudget(context.Background(), "", big.NewInt(3500), "")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if sel.TotalCostMicro.Cmp(big.NewInt(3500)) != 0 {
		t.Errorf("total cost = %s, want 3500", sel.TotalCostMicro)
	}
	if got := sel.TotalQuantity(); got != "2.250000" {
		t.Errorf("total quantity = %s, want 2.250000", got)
	}
	if sel.RemainingBudgetMicro.Sign() != 0 {
		t.Errorf("remaining budget = %s, want 0", sel.RemainingBudgetMicro)
	}
	if !sel.ExhaustedBudget {
		t.Error("expected exhausted budget")
	}
}

func TestSelectOrdersForBudgetBoundHolds(t *testing.T) {
	// Awkward prices that do not divide the budget evenly: the ceil on
	// per-order cost must never push the sum past the budget.
	fl := &fakeLedger{
		orders: []model.SellOrder{
			order(1, 333, "2.5"),
			order(2, 777, "4.2"),
			order(3, 1234, "10"),
		},
		denoms: uregen(),
	}
	s := New(fl, "uregen")
	for _, budget := range []int64{1, 999, 3500, 12345, 1_000_000} {
		sel, err := s.SelectOrdersForBudget(context.Background(), "", big.NewInt(budget), "")
		if err != nil {
			t.Fatalf("budget %d: %v", budget, err)
		}
		if sel.TotalCostMicro.Cmp(big.NewInt(budget)) > 0 {
			t.Errorf("budget %d overspent: cost %s", budget, sel.TotalCostMicro)
		}
		sum := big.NewInt(0)
		for _, so := range sel.Orders {
			sum.Add(sum, so.CostMicro)
		}
		if sum.Cmp(sel.TotalCostMicro) != 0 {
			t.Errorf("budget %d: per-order costs do not add up", budget)
		}
	}
}

func TestFilteringRules(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	future := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)

	disabled := order(1, 100, "1")
	disabled.DisableAutoRetire = true
	wrongDenom := order(2, 100, "1")
	wrongDenom.AskDenom = "uatom"
	expired := order(3, 100, "1")
	expired.Expiration = past
	live := order(4, 200, "1")
	live.Expiration = future
	bio := order(5, 100, "1")
	bio.BatchDenom = "BT01-001-20200101-20210101-001"

	fl := &fakeLedger{
		orders: []model.SellOrder{disabled, wrongDenom, expired, live, bio},
		classes: []model.CreditClass{
			{ID: "C01", CreditTypeAbbrev: "C"},
			{ID: "BT01", CreditTypeAbbrev: "BIO"},
		},
		denoms: uregen(),
	}
	s := New(fl, "uregen")

	sel, err := s.SelectBestOrders(context.Background(), "carbon", "10", "")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if len(sel.Orders) != 1 || sel.Orders[0].Order.ID != 4 {
		t.Fatalf("expected only order 4 to survive carbon filtering, got %+v", sel.Orders)
	}

	sel, err = s.SelectBestOrders(context.Background(), "biodiversity", "10", "")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if len(sel.Orders) != 1 || sel.Orders[0].Order.ID != 5 {
		t.Fatalf("expected only order 5 to survive biodiversity filtering, got %+v", sel.Orders)
	}
}

func TestDenomPreference(t *testing.T) {
	denoms := []model.AllowedDenom{
		{BankDenom: "uusdc", DisplayDenom: "usdc", Exponent: 6},
		{BankDenom: "uregen", DisplayDenom: "regen", Exponent: 6},
	}
	usdcOrder := order(1, 100, "1")
	usdcOrder.AskDenom = "uusdc"
	fl := &fakeLedger{orders: []model.SellOrder{usdcOrder, order(2, 100, "1")}, denoms: denoms}
	s := New(fl, "uregen")

	sel, err := s.SelectBestOrders(context.Background(), "", "1", "uusdc")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if sel.PaymentDenom != "uusdc" {
		t.Errorf("payment denom = %s, want uusdc", sel.PaymentDenom)
	}

	// Without a preference the native token wins.
	sel, err = s.SelectBestOrders(context.Background(), "", "1", "")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if sel.PaymentDenom != "uregen" {
		t.Errorf("payment denom = %s, want uregen", sel.PaymentDenom)
	}
}
