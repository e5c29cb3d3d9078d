// Package batch turns one month of pooled contributions into on-chain
// retirements and splits the result back across contributors with exact,
// remainder-preserving integer arithmetic.
package batch

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/offsetpool/offsetpool/internal/model"
	"github.com/offsetpool/offsetpool/internal/utils"
)

// Allocate splits total across weights proportionally so the allocations
// sum to exactly total. Largest remainders get the leftover units;
// remainder ties break by larger weight, then by lower original index, so
// the split is deterministic and invariant under permutation of equal
// inputs. A non-positive total or weight sum allocates zero to everyone.
func Allocate(total *big.Int, weights []*big.Int) []*big.Int {
	n := len(weights)
	out := make([]*big.Int, n)
	for i := range out {
		out[i] = big.NewInt(0)
	}
	if n == 0 || total.Sign() <= 0 {
		return out
	}
	sumW := big.NewInt(0)
	for _, w := range weights {
		if w.Sign() > 0 {
			sumW.Add(sumW, w)
		}
	}
	if sumW.Sign() <= 0 {
		return out
	}

	type share struct {
		idx int
		rem *big.Int
	}
	allocated := big.NewInt(0)
	shares := make([]share, n)
	for i, w := range weights {
		if w.Sign() <= 0 {
			shares[i] = share{idx: i, rem: big.NewInt(0)}
			continue
		}
		raw := new(big.Int).Mul(total, w)
		base, rem := new(big.Int).QuoRem(raw, sumW, new(big.Int))
		out[i] = base
		allocated.Add(allocated, base)
		shares[i] = share{idx: i, rem: rem}
	}

	remainder := new(big.Int).Sub(total, allocated)
	sort.SliceStable(shares, func(a, b int) bool {
		if c := shares[a].rem.Cmp(shares[b].rem); c != 0 {
			return c > 0
		}
		if c := weights[shares[a].idx].Cmp(weights[shares[b].idx]); c != 0 {
			return c > 0
		}
		return shares[a].idx < shares[b].idx
	})
	one := big.NewInt(1)
	for i := 0; remainder.Sign() > 0 && i < n; i++ {
		out[shares[i].idx].Add(out[shares[i].idx], one)
		remainder.Sub(remainder, one)
	}

	// The allocations must reproduce the total exactly.
	check := big.NewInt(0)
	for _, a := range out {
		check.Add(check, a)
	}
	if check.Cmp(total) != 0 {
		panic(fmt.Sprintf("batch: allocation drifted: %s != %s", check, total))
	}
	return out
}

// buildAttributions splits the three batch totals — applied budget cents,
// cost micro and retired quantity micro — across the month's contributors
// weighted by what each paid. Each column of the result sums exactly to its
// total; SharePpm is a floored display value only.
func buildAttributions(contributors []model.ContributorTotal, budgetCents int64, costMicro, quantityMicro *big.Int, paymentDenom string) []model.ContributorAttribution {
	n := len(contributors)
	weights := make([]*big.Int, n)
	sumW := big.NewInt(0)
	for i, c := range contributors {
		weights[i] = big.NewInt(c.TotalUsdCents)
		if c.TotalUsdCents > 0 {
			sumW.Add(sumW, weights[i])
		}
	}

	budgetAlloc := Allocate(big.NewInt(budgetCents), weights)
	costAlloc := Allocate(costMicro, weights)
	qtyAlloc := Allocate(quantityMicro, weights)

	million := big.NewInt(1_000_000)
	out := make([]model.ContributorAttribution, n)
	for i, c := range contributors {
		ppm := int64(0)
		if sumW.Sign() > 0 && weights[i].Sign() > 0 {
			ppm = new(big.Int).Div(new(big.Int).Mul(weights[i], million), sumW).Int64()
		}
		out[i] = model.ContributorAttribution{
			UserID:                   c.UserID,
			SharePpm:                 ppm,
			ContributionUsdCents:     c.TotalUsdCents,
			AttributedBudgetUsdCents: budgetAlloc[i].Int64(),
			AttributedCostMicro:      costAlloc[i].String(),
			AttributedQuantity:       utils.FormatQuantityMicro(qtyAlloc[i]),
			PaymentDenom:             paymentDenom,
		}
	}
	return out
}
