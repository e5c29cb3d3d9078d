package batch

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/offsetpool/offsetpool/internal/model"
	"github.com/offsetpool/offsetpool/internal/retirement"
	"github.com/offsetpool/offsetpool/internal/selector"
	"github.com/offsetpool/offsetpool/internal/subsync"
)

type fakePool struct {
	totalCents   int64
	contributors []model.ContributorTotal
}

func (f *fakePool) MonthlySummary(month string) model.MonthlySummary {
	return model.MonthlySummary{Month: month, TotalUsdCents: f.totalCents, Contributors: f.contributors}
}
func (f *fakePool) MonthContributors(month string) []model.ContributorTotal {
	return f.contributors
}

type fakeOrders struct {
	sel *selector.Selection
	err error
}

func (f *fakeOrders) SelectOrdersForBudget(ctx context.Context, creditType string, budgetMicro *big.Int, preferredDenom string) (*selector.Selection, error) {
	return f.sel, f.err
}

type fakeExecutor struct {
	outcome *retirement.Outcome
	err     error
	calls   int
}

func (f *fakeExecutor) ExecuteSelection(ctx context.Context, sel *selector.Selection, jurisdiction, reason string) (*retirement.Outcome, error) {
	f.calls++
	return f.outcome, f.err
}

func usableSelection() *selector.Selection {
	return &selector.Selection{
		Orders: []selector.SelectedOrder{{
			Order:         model.SellOrder{ID: 1, AskAmount: big.NewInt(10_000)},
			QuantityMicro: big.NewInt(9_000_000),
			CostMicro:     big.NewInt(900_000),
		}},
		TotalQuantityMicro: big.NewInt(9_000_000),
		TotalCostMicro:     big.NewInt(900_000),
		PaymentDenom:       "uusdc",
		DisplayDenom:       "usdc",
		Exponent:           6,
	}
}

func newDriver(t *testing.T, p *fakePool, o *fakeOrders, e *fakeExecutor) *Driver {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "batches.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	recon, err := OpenReconStore(filepath.Join(t.TempDir(), "recon.json"))
	if err != nil {
		t.Fatalf("open recon store: %v", err)
	}
	return NewDriver(DriverOptions{
		Pool:           p,
		Orders:         o,
		Executor:       e,
		Store:          store,
		Recon:          recon,
		FeeBasisPoints: 1000, // 10%
		USDCDenom:      "uusdc",
		Jurisdiction:   "US",
		BaseReason:     "Monthly community pool retirement",
		Log:            zerolog.Nop(),
	})
}

func marchPool() *fakePool {
	return &fakePool{
		totalCents: 1000,
		contributors: []model.ContributorTotal{
			{UserID: "a", TotalUsdCents: 600},
			{UserID: "b", TotalUsdCents: 400},
		},
	}
}

func TestDryRunRecordsPlanWithoutBroadcast(t *testing.T) {
	e := &fakeExecutor{}
	d := newDriver(t, marchPool(), &fakeOrders{sel: usableSelection()}, e)

	exec, err := d.Run(context.Background(), RunInput{Month: "2026-03", DryRun: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if exec.Status != model.BatchSuccess || !exec.DryRun {
		t.Fatalf("exec: %+v", exec)
	}
	if e.calls != 0 {
		t.Error("dry run must not touch the chain")
	}
	// Fee of 10% off 1000¢.
	if exec.BudgetUsdCents != 900 {
		t.Errorf("budget = %d, want 900", exec.BudgetUsdCents)
	}
	if len(exec.Attributions) != 2 {
		t.Fatalf("attributions: %+v", exec.Attributions)
	}
	if exec.TxHash != "" {
		t.Error("dry run must not carry tx metadata")
	}
}

func TestLiveRunBlockedWithoutDryRun(t *testing.T) {
	e := &fakeExecutor{outcome: &retirement.Outcome{TxHash: "AA", Height: 7}}
	d := newDriver(t, marchPool(), &fakeOrders{sel: usableSelection()}, e)

	exec, err := d.Run(context.Background(), RunInput{Month: "2026-03"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if exec.Status != model.BatchBlocked {
		t.Fatalf("status = %s", exec.Status)
	}
	if e.calls != 0 {
		t.Error("blocked run must not broadcast")
	}
}

func TestLiveRunAfterDryRunSucceeds(t *testing.T) {
	e := &fakeExecutor{outcome: &retirement.Outcome{TxHash: "AA", Height: 7, CertificateID: "node-9"}}
	d := newDriver(t, marchPool(), &fakeOrders{sel: usableSelection()}, e)

	if _, err := d.Run(context.Background(), RunInput{Month: "2026-03", DryRun: true}); err != nil {
		t.Fatalf("dry run: %v", err)
	}
	exec, err := d.Run(context.Background(), RunInput{Month: "2026-03"})
	if err != nil {
		t.Fatalf("live run: %v", err)
	}
	if exec.Status != model.BatchSuccess || exec.DryRun {
		t.Fatalf("exec: %+v", exec)
	}
	if exec.TxHash != "AA" || exec.RetirementID != "node-9" {
		t.Errorf("tx metadata: %+v", exec)
	}
	if e.calls != 1 {
		t.Errorf("executor calls = %d", e.calls)
	}

	// Attribution columns must sum to the batch totals.
	var budget int64
	cost := big.NewInt(0)
	for _, a := range exec.Attributions {
		budget += a.AttributedBudgetUsdCents
		c, _ := new(big.Int).SetString(a.AttributedCostMicro, 10)
		cost.Add(cost, c)
	}
	if budget != exec.BudgetUsdCents {
		t.Errorf("attributed budget %d != %d", budget, exec.BudgetUsdCents)
	}
	if cost.String() != exec.SpentMicro {
		t.Errorf("attributed cost %s != %s", cost, exec.SpentMicro)
	}
}

func TestForceBypassesPreflight(t *testing.T) {
	e := &fakeExecutor{outcome: &retirement.Outcome{TxHash: "AA"}}
	d := newDriver(t, marchPool(), &fakeOrders{sel: usableSelection()}, e)

	exec, err := d.Run(context.Background(), RunInput{Month: "2026-03", Force: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if exec.Status != model.BatchSuccess {
		t.Fatalf("status = %s (%s)", exec.Status, exec.Reason)
	}
}

func TestExecutionFailureIsRecorded(t *testing.T) {
	e := &fakeExecutor{err: errors.New("broadcast failed: rpc down")}
	d := newDriver(t, marchPool(), &fakeOrders{sel: usableSelection()}, e)

	exec, err := d.Run(context.Background(), RunInput{Month: "2026-03", Force: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if exec.Status != model.BatchFailed {
		t.Fatalf("status = %s", exec.Status)
	}
	if exec.Reason == "" || len(exec.Attributions) != 0 {
		t.Errorf("failed exec must carry the error and no attributions: %+v", exec)
	}
	// The failed run is on the record.
	stored := d.store.ForMonth("2026-03", "")
	if len(stored) != 1 || stored[0].Status != model.BatchFailed {
		t.Errorf("stored: %+v", stored)
	}
}

func TestEmptySelectionFails(t *testing.T) {
	empty := usableSelection()
	empty.Orders = nil
	empty.TotalCostMicro = big.NewInt(0)
	empty.TotalQuantityMicro = big.NewInt(0)
	d := newDriver(t, marchPool(), &fakeOrders{sel: empty}, &fakeExecutor{})

	exec, err := d.Run(context.Background(), RunInput{Month: "2026-03", DryRun: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if exec.Status != model.BatchFailed || exec.Reason != "no eligible orders for budget" {
		t.Fatalf("exec: %+v", exec)
	}
}

func TestEmptyMonthFails(t *testing.T) {
	d := newDriver(t, &fakePool{}, &fakeOrders{sel: usableSelection()}, &fakeExecutor{})
	exec, err := d.Run(context.Background(), RunInput{Month: "2026-03", DryRun: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if exec.Status != model.BatchFailed {
		t.Fatalf("status = %s", exec.Status)
	}
}

func TestBadMonthRejected(t *testing.T) {
	d := newDriver(t, marchPool(), &fakeOrders{sel: usableSelection()}, &fakeExecutor{})
	if _, err := d.Run(context.Background(), RunInput{Month: "March 2026"}); err == nil {
		t.Fatal("expected validation error")
	}
}

type fakeSyncer struct {
	sum *model.SyncSummary
	err error
}

func (f *fakeSyncer) Sync(ctx context.Context, req subsync.Request) (*model.SyncSummary, error) {
	return f.sum, f.err
}

func TestReconcileRecordsPipeline(t *testing.T) {
	e := &fakeExecutor{}
	d := newDriver(t, marchPool(), &fakeOrders{sel: usableSelection()}, e)
	d.syncer = &fakeSyncer{sum: &model.SyncSummary{Synced: 2, Skipped: 1}}

	run, err := d.Reconcile(context.Background(), ReconcileInput{
		Month:         "2026-03",
		SyncScope:     model.SyncScopeAllCustomers,
		ExecutionMode: model.ExecutionModeDryRun,
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if run.Status != model.RunCompleted {
		t.Fatalf("run: %+v", run)
	}
	if run.BatchStatus != model.ExecutionModeDryRun {
		t.Errorf("batch status = %s", run.BatchStatus)
	}
	if run.Sync == nil || run.Sync.Synced != 2 {
		t.Errorf("sync summary lost: %+v", run.Sync)
	}
	if run.FinishedAt == "" {
		t.Error("run not finalized")
	}
}

func TestReconcileLiveBlockedWithoutPreflight(t *testing.T) {
	d := newDriver(t, marchPool(), &fakeOrders{sel: usableSelection()}, &fakeExecutor{})
	run, err := d.Reconcile(context.Background(), ReconcileInput{
		Month:         "2026-03",
		SyncScope:     model.SyncScopeNone,
		ExecutionMode: model.ExecutionModeLive,
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if run.Status != model.RunBlocked {
		t.Fatalf("status = %s", run.Status)
	}
}
