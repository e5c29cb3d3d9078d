package batch

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/offsetpool/offsetpool/internal/model"
	"github.com/offsetpool/offsetpool/internal/retirement"
	"github.com/offsetpool/offsetpool/internal/selector"
	"github.com/offsetpool/offsetpool/internal/subsync"
	"github.com/offsetpool/offsetpool/internal/utils"
)

// ErrInvalidRequest marks driver inputs the caller must fix.
var ErrInvalidRequest = errors.New("batch: invalid request")

var monthRe = regexp.MustCompile(`^\d{4}-\d{2}$`)

var executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "offsetpool_batch_executions_total",
	Help: "Monthly batch executions by status.",
}, []string{"status"})

// PoolReader is the slice of pool accounting the driver reads.
type PoolReader interface {
	MonthlySummary(month string) model.MonthlySummary
	MonthContributors(month string) []model.ContributorTotal
}

// OrderSource selects budget-constrained orders.
type OrderSource interface {
	SelectOrdersForBudget(ctx context.Context, creditType string, budgetMicro *big.Int, preferredDenom string) (*selector.Selection, error)
}

// Executor runs a prepared selection through the retirement pipeline.
type Executor interface {
	ExecuteSelection(ctx context.Context, sel *selector.Selection, jurisdiction, reason string) (*retirement.Outcome, error)
}

// Syncer optionally refreshes pool accounting from the gateway before a
// reconciliation run.
type Syncer interface {
	Sync(ctx context.Context, req subsync.Request) (*model.SyncSummary, error)
}

// Driver executes monthly batch retirements.
type Driver struct {
	pool         PoolReader
	orders       OrderSource
	executor     Executor
	store        *Store
	recon        *ReconStore
	syncer       Syncer // may be nil
	feeBps       int64
	usdcDenom    string
	jurisdiction string
	baseReason   string
	now          func() time.Time
	log          zerolog.Logger

	mu     sync.Mutex
	active map[string]bool // month|creditType with an execution in flight
}

// DriverOptions configures a Driver.
type DriverOptions struct {
	Pool           PoolReader
	Orders         OrderSource
	Executor       Executor
	Store          *Store
	Recon          *ReconStore
	Syncer         Syncer
	FeeBasisPoints int64
	USDCDenom      string
	Jurisdiction   string
	BaseReason     string
	Log            zerolog.Logger
}

// NewDriver returns a batch driver.
func NewDriver(o DriverOptions) *Driver {
	return &Driver{
		pool:         o.Pool,
		orders:       o.Orders,
		executor:     o.Executor,
		store:        o.Store,
		recon:        o.Recon,
		syncer:       o.Syncer,
		feeBps:       o.FeeBasisPoints,
		usdcDenom:    o.USDCDenom,
		jurisdiction: o.Jurisdiction,
		baseReason:   o.BaseReason,
		now:          time.Now,
		log:          o.Log.With().Str("component", "batch").Logger(),
		active:       map[string]bool{},
	}
}

// RunInput drives one batch execution.
type RunInput struct {
	Month         string
	CreditType    string
	DryRun        bool
	Reason        string
	PreflightOnly bool
	Force         bool
}

// Run computes the month's budget, selects orders under it, and either
// records the plan (dry run / preflight) or retires on chain and attributes
// the result. The returned execution is already persisted except for the
// "blocked: already in progress" case, which is rejected without a record.
func (d *Driver) Run(ctx context.Context, in RunInput) (*model.BatchExecution, error) {
	if !monthRe.MatchString(in.Month) {
		return nil, fmt.Errorf("%w: month must look like 2026-03", ErrInvalidRequest)
	}
	key := in.Month + "|" + in.CreditType
	d.mu.Lock()
	if d.active[key] {
		d.mu.Unlock()
		// Never two concurrent broadcasts for the same month and type.
		return &model.BatchExecution{
			Month:      in.Month,
			CreditType: in.CreditType,
			Status:     model.BatchBlocked,
			Reason:     "an execution for this month is already in progress",
			ExecutedAt: d.now().UTC().Format(time.RFC3339),
		}, nil
	}
	d.active[key] = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.active, key)
		d.mu.Unlock()
	}()

	exec, err := d.run(ctx, in)
	if exec != nil {
		executionsTotal.WithLabelValues(exec.Status).Inc()
	}
	return exec, err
}

func (d *Driver) run(ctx context.Context, in RunInput) (*model.BatchExecution, error) {
	id, err := utils.RandomHex(8)
	if err != nil {
		return nil, err
	}
	exec := model.BatchExecution{
		ID:              "batch_" + id,
		Month:           in.Month,
		CreditType:      in.CreditType,
		DryRun:          in.DryRun || in.PreflightOnly,
		SpentMicro:      "0",
		RetiredQuantity: "0.000000",
		ExecutedAt:      d.now().UTC().Format(time.RFC3339),
	}

	// Preflight gate: a live run needs a successful dry run on record for
	// the same month and credit type unless forced.
	if !exec.DryRun && !in.Force && !d.store.HasSuccessfulDryRun(in.Month, in.CreditType) {
		exec.Status = model.BatchBlocked
		exec.Reason = "live run requires a successful dry run for this month (or force)"
		return d.finish(exec)
	}

	summary := d.pool.MonthlySummary(in.Month)
	fee := summary.TotalUsdCents * d.feeBps / 10_000
	exec.BudgetUsdCents = summary.TotalUsdCents - fee
	if exec.BudgetUsdCents <= 0 {
		exec.Status = model.BatchFailed
		exec.Reason = "no contributions to retire for this month"
		return d.finish(exec)
	}

	// The pool budget is USD cents, so selection is pinned to the
	// USDC-equivalent denom where one cent is 10,000 micro-units.
	sel, err := d.orders.SelectOrdersForBudget(ctx, in.CreditType,
		utils.CentsToMicro(exec.BudgetUsdCents), d.usdcDenom)
	if err != nil {
		exec.Status = model.BatchFailed
		exec.Reason = fmt.Sprintf("order selection failed: %v", err)
		return d.finish(exec)
	}
	if sel.PaymentDenom != d.usdcDenom {
		exec.Status = model.BatchFailed
		exec.Reason = fmt.Sprintf("pool budget cannot be priced in %s", sel.PaymentDenom)
		return d.finish(exec)
	}
	if len(sel.Orders) == 0 {
		exec.Status = model.BatchFailed
		exec.Reason = "no eligible orders for budget"
		return d.finish(exec)
	}
	exec.SpentDenom = sel.PaymentDenom

	contributors := d.pool.MonthContributors(in.Month)

	if exec.DryRun {
		// Record the plan without touching the chain.
		exec.Status = model.BatchSuccess
		exec.SpentMicro = sel.TotalCostMicro.String()
		exec.RetiredQuantity = sel.TotalQuantity()
		exec.Attributions = buildAttributions(contributors, exec.BudgetUsdCents,
			sel.TotalCostMicro, sel.TotalQuantityMicro, sel.PaymentDenom)
		d.log.Info().Str("month", in.Month).Str("cost", exec.SpentMicro).
			Str("quantity", exec.RetiredQuantity).Msg("dry run recorded")
		return d.finish(exec)
	}

	reason := d.baseReason
	if in.Reason != "" {
		reason = in.Reason
	}
	outcome, err := d.executor.ExecuteSelection(ctx, sel, d.jurisdiction, reason)
	if err != nil {
		exec.Status = model.BatchFailed
		exec.Reason = err.Error()
		return d.finish(exec)
	}

	exec.Status = model.BatchSuccess
	exec.TxHash = outcome.TxHash
	exec.BlockHeight = outcome.Height
	exec.RetirementID = outcome.CertificateID
	exec.SpentMicro = sel.TotalCostMicro.String()
	exec.RetiredQuantity = sel.TotalQuantity()
	exec.Attributions = buildAttributions(contributors, exec.BudgetUsdCents,
		sel.TotalCostMicro, sel.TotalQuantityMicro, sel.PaymentDenom)
	d.log.Info().Str("month", in.Month).Str("tx_hash", exec.TxHash).
		Str("quantity", exec.RetiredQuantity).Int("contributors", len(exec.Attributions)).
		Msg("batch retirement executed")
	return d.finish(exec)
}

func (d *Driver) finish(exec model.BatchExecution) (*model.BatchExecution, error) {
	if err := d.store.Append(exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

// ReconcileInput drives a sync-then-batch pipeline.
type ReconcileInput struct {
	Month         string
	CreditType    string
	SyncScope     string // none | customer | all_customers
	CustomerID    string
	Email         string
	ExecutionMode string // dry_run | live
	PreflightOnly bool
	Force         bool
}

// Reconcile optionally syncs gateway invoices into the pool, then runs the
// batch in the requested mode, recording the whole pipeline as one
// ReconciliationRun.
func (d *Driver) Reconcile(ctx context.Context, in ReconcileInput) (*model.ReconciliationRun, error) {
	if !monthRe.MatchString(in.Month) {
		return nil, fmt.Errorf("%w: month must look like 2026-03", ErrInvalidRequest)
	}
	switch in.ExecutionMode {
	case model.ExecutionModeDryRun, model.ExecutionModeLive:
	default:
		return nil, fmt.Errorf("%w: executionMode must be dry_run or live", ErrInvalidRequest)
	}
	switch in.SyncScope {
	case model.SyncScopeNone, model.SyncScopeCustomer, model.SyncScopeAllCustomers:
	default:
		return nil, fmt.Errorf("%w: unknown syncScope %q", ErrInvalidRequest, in.SyncScope)
	}

	id, err := utils.RandomHex(8)
	if err != nil {
		return nil, err
	}
	run := model.ReconciliationRun{
		ID:            "recon_" + id,
		Month:         in.Month,
		CreditType:    in.CreditType,
		SyncScope:     in.SyncScope,
		ExecutionMode: in.ExecutionMode,
		PreflightOnly: in.PreflightOnly,
		Force:         in.Force,
		Status:        model.RunInProgress,
		StartedAt:     d.now().UTC().Format(time.RFC3339),
	}
	if err := d.recon.Upsert(run); err != nil {
		return nil, err
	}

	finish := func(status, message string) (*model.ReconciliationRun, error) {
		run.Status = status
		run.Message = message
		run.FinishedAt = d.now().UTC().Format(time.RFC3339)
		if err := d.recon.Upsert(run); err != nil {
			return nil, err
		}
		return &run, nil
	}

	if in.SyncScope != model.SyncScopeNone {
		if d.syncer == nil {
			return finish(model.RunFailed, "sync requested but no gateway is configured")
		}
		sum, err := d.syncer.Sync(ctx, subsync.Request{
			CustomerID:   in.CustomerID,
			Email:        in.Email,
			AllCustomers: in.SyncScope == model.SyncScopeAllCustomers,
			Month:        in.Month,
		})
		if err != nil {
			return finish(model.RunFailed, fmt.Sprintf("sync failed: %v", err))
		}
		run.Sync = sum
	}

	exec, err := d.Run(ctx, RunInput{
		Month:         in.Month,
		CreditType:    in.CreditType,
		DryRun:        in.ExecutionMode == model.ExecutionModeDryRun,
		PreflightOnly: in.PreflightOnly,
		Force:         in.Force,
	})
	if err != nil {
		return finish(model.RunFailed, fmt.Sprintf("batch failed: %v", err))
	}
	if exec.DryRun && exec.Status == model.BatchSuccess {
		run.BatchStatus = model.ExecutionModeDryRun
	} else {
		run.BatchStatus = exec.Status
	}
	switch exec.Status {
	case model.BatchSuccess:
		return finish(model.RunCompleted, "")
	case model.BatchBlocked:
		return finish(model.RunBlocked, exec.Reason)
	default:
		return finish(model.RunFailed, exec.Reason)
	}
}
