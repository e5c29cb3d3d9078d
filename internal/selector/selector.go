// Package selector picks marketplace sell orders for a retirement, either
// to cover a target credit quantity or to spend at most a fixed budget.
// Both entry points share one kernel: choose a payment denom, drop
// ineligible orders, sort cheapest first, then fill greedily. All
// arithmetic above the six-decimal quantity boundary uses big integers.
package selector

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/offsetpool/offsetpool/internal/ledger"
	"github.com/offsetpool/offsetpool/internal/model"
	"github.com/offsetpool/offsetpool/internal/utils"
)

// Credit types understood by the filter. "carbon" matches classes with
// credit-type abbreviation "C"; "biodiversity" matches everything else.
const (
	CreditTypeCarbon       = "carbon"
	CreditTypeBiodiversity = "biodiversity"
)

// ErrNoAllowedDenoms is returned when the marketplace accepts no payment
// denom at all.
var ErrNoAllowedDenoms = errors.New("selector: no allowed payment denoms")

// SelectedOrder is one order in a selection with the quantity taken from it.
type SelectedOrder struct {
	Order         model.SellOrder
	QuantityMicro *big.Int // micro-credits taken from this order
	CostMicro     *big.Int // ceil(ask * quantity / 1e6)
}

// Quantity renders the taken quantity as a six-decimal string.
func (s SelectedOrder) Quantity() string { return utils.FormatQuantityMicro(s.QuantityMicro) }

// Selection is the result of either entry point. InsufficientSupply is only
// meaningful for quantity mode; RemainingBudgetMicro and ExhaustedBudget
// only for budget mode.
type Selection struct {
	Orders               []SelectedOrder
	TotalQuantityMicro   *big.Int
	TotalCostMicro       *big.Int
	PaymentDenom         string
	DisplayDenom         string
	Exponent             uint32
	InsufficientSupply   bool
	RemainingBudgetMicro *big.Int
	ExhaustedBudget      bool
}

// TotalQuantity renders the selected quantity as a six-decimal string.
func (s *Selection) TotalQuantity() string { return utils.FormatQuantityMicro(s.TotalQuantityMicro) }

// Selector reads the marketplace through the ledger client.
type Selector struct {
	ledger      ledger.Reader
	nativeDenom string
	now         func() time.Time
}

// New returns a Selector. nativeDenom is preferred when the caller has no
// denom preference of its own.
func New(rd ledger.Reader, nativeDenom string) *Selector {
	return &Selector{ledger: rd, nativeDenom: nativeDenom, now: time.Now}
}

// SelectBestOrders selects the cheapest eligible orders that together can
// sell at least targetQuantity credits (a decimal string, up to six
// fractional digits). When supply runs out the partial selection is
// returned with InsufficientSupply set.
func (s *Selector) SelectBestOrders(ctx context.Context, creditType, targetQuantity, preferredDenom string) (*Selection, error) {
	targetMicro, err := utils.ParseQuantityMicro(targetQuantity)
	if err != nil {
		return nil, fmt.Errorf("selector: %w", err)
	}
	eligible, sel, err := s.prepare(ctx, creditType, preferredDenom)
	if err != nil {
		return nil, err
	}

	remaining := new(big.Int).Set(targetMicro)
	for _, o := range eligible {
		if remaining.Sign() <= 0 {
			break
		}
		avail, err := utils.ParseQuantityMicro(o.Quantity)
		if err != nil || avail.Sign() <= 0 {
			continue
		}
		take := avail
		if avail.Cmp(remaining) > 0 {
			take = new(big.Int).Set(remaining)
		}
		cost := utils.CeilDiv(new(big.Int).Mul(o.AskAmount, take), big.NewInt(1_000_000))
		sel.Orders = append(sel.Orders, SelectedOrder{Order: o, QuantityMicro: take, CostMicro: cost})
		sel.TotalQuantityMicro.Add(sel.TotalQuantityMicro, take)
		sel.TotalCostMicro.Add(sel.TotalCostMicro, cost)
		remaining.Sub(remaining, take)
	}
	sel.InsufficientSupply = remaining.Sign() > 0
	return sel, nil
}

// SelectOrdersForBudget selects the cheapest eligible orders whose total
// cost never exceeds budgetMicro. Per-order cost is rounded up, and the
// take is floored to what the remaining budget affords, so the budget bound
// holds exactly.
func (s *Selector) SelectOrdersForBudget(ctx context.Context, creditType string, budgetMicro *big.Int, preferredDenom string) (*Selection, error) {
	if budgetMicro == nil || budgetMicro.Sign() < 0 {
		return nil, errors.New("selector: budget must be non-negative")
	}
	eligible, sel, err := s.prepare(ctx, creditType, preferredDenom)
	if err != nil {
		return nil, err
	}

	remaining := new(big.Int).Set(budgetMicro)
	million := big.NewInt(1_000_000)
	for _, o := range eligible {
		if remaining.Sign() <= 0 {
			break
		}
		avail, err := utils.ParseQuantityMicro(o.Quantity)
		if err != nil || avail.Sign() <= 0 {
			continue
		}
		if o.AskAmount.Sign() <= 0 {
			continue
		}
		// floor(remaining * 1e6 / price): the most micro-credits the
		// budget still buys at this order's price.
		affordable := new(big.Int).Div(new(big.Int).Mul(remaining, million), o.AskAmount)
		if affordable.Sign() <= 0 {
			sel.ExhaustedBudget = true
			break
		}
		take := avail
		if affordable.Cmp(avail) < 0 {
			take = affordable
		}
		cost := utils.CeilDiv(new(big.Int).Mul(o.AskAmount, take), million)
		if cost.Cmp(remaining) > 0 {
			// Rounding up may nudge the cost past the budget at the
			// margin; shave one micro-credit to stay under.
			take = new(big.Int).Sub(take, big.NewInt(1))
			if take.Sign() <= 0 {
				sel.ExhaustedBudget = true
				break
			}
			cost = utils.CeilDiv(new(big.Int).Mul(o.AskAmount, take), million)
		}
		sel.Orders = append(sel.Orders, SelectedOrder{Order: o, QuantityMicro: take, CostMicro: cost})
		sel.TotalQuantityMicro.Add(sel.TotalQuantityMicro, take)
		sel.TotalCostMicro.Add(sel.TotalCostMicro, cost)
		remaining.Sub(remaining, cost)
	}
	if remaining.Sign() <= 0 {
		sel.ExhaustedBudget = true
	}
	sel.RemainingBudgetMicro = remaining
	return sel, nil
}

// prepare fetches market state, chooses the payment denom and returns the
// eligible orders sorted cheapest first.
func (s *Selector) prepare(ctx context.Context, creditType, preferredDenom string) ([]model.SellOrder, *Selection, error) {
	denoms, err := s.ledger.GetAllowedDenoms(ctx)
	if err != nil {
		return nil, nil, err
	}
	denom, err := chooseDenom(denoms, preferredDenom, s.nativeDenom)
	if err != nil {
		return nil, nil, err
	}
	orders, err := s.ledger.ListSellOrders(ctx)
	if err != nil {
		return nil, nil, err
	}
	classTypes, err := s.classTypes(ctx, creditType)
	if err != nil {
		return nil, nil, err
	}
	eligible := filterOrders(orders, creditType, classTypes, denom.BankDenom, s.now())
	sel := &Selection{
		Orders:             []SelectedOrder{},
		TotalQuantityMicro: big.NewInt(0),
		TotalCostMicro:     big.NewInt(0),
		PaymentDenom:       denom.BankDenom,
		DisplayDenom:       denom.DisplayDenom,
		Exponent:           denom.Exponent,
	}
	return eligible, sel, nil
}

// classTypes maps class id to credit-type abbreviation; only fetched when a
// credit-type filter is requested.
func (s *Selector) classTypes(ctx context.Context, creditType string) (map[string]string, error) {
	if creditType == "" {
		return nil, nil
	}
	classes, err := s.ledger.ListCreditClasses(ctx)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(classes))
	for _, c := range classes {
		m[c.ID] = c.CreditTypeAbbrev
	}
	return m, nil
}

// chooseDenom applies the preference chain: the caller's preferred denom if
// allowed, else the native token, else the first allowed denom.
func chooseDenom(allowed []model.AllowedDenom, preferred, native string) (model.AllowedDenom, error) {
	if len(allowed) == 0 {
		return model.AllowedDenom{}, ErrNoAllowedDenoms
	}
	if preferred != "" {
		for _, d := range allowed {
			if d.BankDenom == preferred {
				return d, nil
			}
		}
	}
	for _, d := range allowed {
		if d.BankDenom == native {
			return d, nil
		}
	}
	return allowed[0], nil
}

// filterOrders drops orders that cannot serve an automatic retirement and
// sorts the survivors by ascending ask price, original order preserved on
// ties.
func filterOrders(orders []model.SellOrder, creditType string, classTypes map[string]string, denom string, now time.Time) []model.SellOrder {
	var out []model.SellOrder
	for _, o := range orders {
		if o.DisableAutoRetire {
			continue
		}
		if o.AskDenom != denom {
			continue
		}
		if o.Expiration != "" {
			exp, err := time.Parse(time.RFC3339, o.Expiration)
			if err != nil || !exp.After(now) {
				continue
			}
		}
		if creditType != "" && !creditTypeMatches(creditType, classTypes[classIDOf(o.BatchDenom)]) {
			continue
		}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AskAmount.Cmp(out[j].AskAmount) < 0
	})
	return out
}

// classIDOf extracts the class id prefix from a batch denom like
// "C01-001-20200101-20210101-001".
func classIDOf(batchDenom string) string {
	if i := strings.IndexByte(batchDenom, '-'); i >= 0 {
		return batchDenom[:i]
	}
	return batchDenom
}

func creditTypeMatches(creditType, abbrev string) bool {
	if creditType == CreditTypeCarbon {
		return abbrev == "C"
	}
	// Anything that is not a carbon class counts as biodiversity.
	return abbrev != "" && abbrev != "C"
}
