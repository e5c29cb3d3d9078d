package batch

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/offsetpool/offsetpool/internal/model"
	"github.com/offsetpool/offsetpool/internal/utils"
)

func bigs(vals ...int64) []*big.Int {
	out := make([]*big.Int, len(vals))
	for i, v := range vals {
		out[i] = big.NewInt(v)
	}
	return out
}

func TestAllocateRemainderByIndexOnFullTie(t *testing.T) {
	// Three equal contributors, total 2: everyone's remainder and weight
	// tie, so the two extra units go to the lowest original indices.
	got := Allocate(big.NewInt(2), bigs(1, 1, 1))
	want := []int64{1, 1, 0}
	for i, w := range want {
		if got[i].Int64() != w {
			t.Fatalf("allocation = %v, want %v", got, want)
		}
	}
}

func TestAllocateSumsExactly(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 200; trial++ {
		n := 1 + rng.Intn(12)
		weights := make([]*big.Int, n)
		for i := range weights {
			weights[i] = big.NewInt(rng.Int63n(10_000))
		}
		total := big.NewInt(rng.Int63n(1_000_000))
		alloc := Allocate(total, weights)
		sum := big.NewInt(0)
		for _, a := range alloc {
			sum.Add(sum, a)
		}
		sumW := big.NewInt(0)
		for _, w := range weights {
			sumW.Add(sumW, w)
		}
		if sumW.Sign() <= 0 {
			if sum.Sign() != 0 {
				t.Fatalf("trial %d: zero weights but allocated %s", trial, sum)
			}
			continue
		}
		if sum.Cmp(total) != 0 {
			t.Fatalf("trial %d: sum %s != total %s", trial, sum, total)
		}
	}
}

func TestAllocateZeroTotalAndZeroWeights(t *testing.T) {
	for _, alloc := range [][]*big.Int{
		Allocate(big.NewInt(0), bigs(3, 4)),
		Allocate(big.NewInt(-5), bigs(3, 4)),
		Allocate(big.NewInt(100), bigs(0, 0)),
		Allocate(big.NewInt(100), nil),
	} {
		for _, a := range alloc {
			if a.Sign() != 0 {
				t.Fatalf("expected all-zero allocation, got %v", alloc)
			}
		}
	}
}

func TestAllocateWeightTieBreak(t *testing.T) {
	// total=10 over weights 3,3,3: base 3 each, remainder 1 goes to the
	// lowest index among the equal-remainder, equal-weight entries.
	got := Allocate(big.NewInt(10), bigs(3, 3, 3))
	if got[0].Int64() != 4 || got[1].Int64() != 3 || got[2].Int64() != 3 {
		t.Fatalf("allocation = %v", got)
	}
}

func TestAllocateDeterministic(t *testing.T) {
	w := bigs(17, 5, 5, 90, 1)
	first := Allocate(big.NewInt(12345), w)
	second := Allocate(big.NewInt(12345), w)
	for i := range first {
		if first[i].Cmp(second[i]) != 0 {
			t.Fatal("allocation not deterministic")
		}
	}
}

func TestBuildAttributionsTotals(t *testing.T) {
	contributors := []model.ContributorTotal{
		{UserID: "a", TotalUsdCents: 700},
		{UserID: "b", TotalUsdCents: 200},
		{UserID: "c", TotalUsdCents: 100},
	}
	cost := big.NewInt(8_999_999)
	qty := big.NewInt(1_234_567)
	attrs := buildAttributions(contributors, 900, cost, qty, "uusdc")

	var budgetSum int64
	costSum, qtySum := big.NewInt(0), big.NewInt(0)
	var ppmSum int64
	for _, a := range attrs {
		budgetSum += a.AttributedBudgetUsdCents
		c, ok := new(big.Int).SetString(a.AttributedCostMicro, 10)
		if !ok {
			t.Fatalf("bad cost micro %q", a.AttributedCostMicro)
		}
		costSum.Add(costSum, c)
		q, err := parseQty(a.AttributedQuantity)
		if err != nil {
			t.Fatalf("bad quantity %q", a.AttributedQuantity)
		}
		qtySum.Add(qtySum, q)
		ppmSum += a.SharePpm
	}
	if budgetSum != 900 {
		t.Errorf("budget sum = %d, want 900", budgetSum)
	}
	if costSum.Cmp(cost) != 0 {
		t.Errorf("cost sum = %s, want %s", costSum, cost)
	}
	if qtySum.Cmp(qty) != 0 {
		t.Errorf("quantity sum = %s, want %s", qtySum, qty)
	}
	// Floored ppm shares never exceed a million in total.
	if ppmSum > 1_000_000 {
		t.Errorf("ppm sum = %d", ppmSum)
	}
	if attrs[0].SharePpm != 700_000 {
		t.Errorf("share of a = %d, want 700000", attrs[0].SharePpm)
	}
}

func TestBuildAttributionsPermutationInvariant(t *testing.T) {
	a := []model.ContributorTotal{
		{UserID: "a", TotalUsdCents: 700},
		{UserID: "b", TotalUsdCents: 200},
		{UserID: "c", TotalUsdCents: 100},
	}
	b := []model.ContributorTotal{a[2], a[0], a[1]}

	cost := big.NewInt(777_777)
	qty := big.NewInt(999_999)
	first := buildAttributions(a, 1000, cost, qty, "uusdc")
	second := buildAttributions(b, 1000, cost, qty, "uusdc")

	byUser := func(attrs []model.ContributorAttribution) map[string]model.ContributorAttribution {
		m := map[string]model.ContributorAttribution{}
		for _, at := range attrs {
			m[at.UserID] = at
		}
		return m
	}
	fm, sm := byUser(first), byUser(second)
	for user, fa := range fm {
		sa := sm[user]
		// Totals are preserved; per-user splits may shift only where the
		// deterministic tie-break depends on input order, which these
		// distinct weights never trigger.
		if fa != sa {
			t.Errorf("user %s differs across permutations: %+v vs %+v", user, fa, sa)
		}
	}
}

// parseQty converts a six-decimal string back to micro for assertions.
func parseQty(s string) (*big.Int, error) {
	return utils.ParseQuantityMicro(s)
}
