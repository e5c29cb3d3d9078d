package model

// BatchExecution records one monthly retirement run, whether it broadcast a
// transaction or stopped at a dry run. The driver persists each execution
// once, after the run ends, with its final status; "in_progress" is not
// written for batch executions.
//
// SpentMicro and RetiredQuantity are decimal strings: micro-units of
// SpentDenom and a 6-fractional-digit credit quantity respectively. They are
// produced from big-integer arithmetic and must never round-trip through
// floats.
type BatchExecution struct {
	ID              string                   `json:"id"`
	Month           string                   `json:"month"`
	CreditType      string                   `json:"creditType,omitempty"`
	DryRun          bool                     `json:"dryRun"`
	Status          string                   `json:"status"`
	Reason          string                   `json:"reason,omitempty"`
	BudgetUsdCents  int64                    `json:"budgetUsdCents"`
	SpentMicro      string                   `json:"spentMicro"`
	SpentDenom      string                   `json:"spentDenom"`
	RetiredQuantity string                   `json:"retiredQuantity"`
	Attributions    []ContributorAttribution `json:"attributions,omitempty"`
	TxHash          string                   `json:"txHash,omitempty"`
	BlockHeight     int64                    `json:"blockHeight,omitempty"`
	RetirementID    string                   `json:"retirementId,omitempty"`
	ExecutedAt      string                   `json:"executedAt"`
}

// Batch execution statuses.
const (
	BatchInProgress = "in_progress"
	BatchSuccess    = "success"
	BatchFailed     = "failed"
	BatchBlocked    = "blocked"
)

// ContributorAttribution is one contributor's slice of a batch execution.
// SharePpm is display-only; the three attributed totals are the
// authoritative split and each column sums exactly to the batch total.
type ContributorAttribution struct {
	UserID                   string `json:"userId"`
	SharePpm                 int64  `json:"sharePpm"`
	ContributionUsdCents     int64  `json:"contributionUsdCents"`
	AttributedBudgetUsdCents int64  `json:"attributedBudgetUsdCents"`
	AttributedCostMicro      string `json:"attributedCostMicro"`
	AttributedQuantity       string `json:"attributedQuantity"`
	PaymentDenom             string `json:"paymentDenom"`
}

// ReconciliationRun ties an optional gateway sync and a batch execution into
// one operator-visible record: what was synced, in which mode the batch ran,
// and how the run finished.
type ReconciliationRun struct {
	ID            string       `json:"id"`
	Month         string       `json:"month"`
	CreditType    string       `json:"creditType,omitempty"`
	SyncScope     string       `json:"syncScope"`
	ExecutionMode string       `json:"executionMode"`
	PreflightOnly bool         `json:"preflightOnly"`
	Force         bool         `json:"force"`
	Status        string       `json:"status"`
	BatchStatus   string       `json:"batchStatus,omitempty"`
	StartedAt     string       `json:"startedAt"`
	FinishedAt    string       `json:"finishedAt,omitempty"`
	Sync          *SyncSummary `json:"sync,omitempty"`
	Message       string       `json:"message,omitempty"`
}

// Reconciliation scopes, modes and statuses.
const (
	SyncScopeNone         = "none"
	SyncScopeCustomer     = "customer"
	SyncScopeAllCustomers = "all_customers"

	ExecutionModeDryRun = "dry_run"
	ExecutionModeLive   = "live"

	RunInProgress = "in_progress"
	RunCompleted  = "completed"
	RunFailed     = "failed"
	RunBlocked    = "blocked"
)

// SyncSummary reports the outcome of one subscription-invoice sync pass.
// Skipped counts invoices excluded by the month filter; Truncated is set
// when pagination stopped at the page cap with more data available.
type SyncSummary struct {
	Synced     int  `json:"synced"`
	Duplicates int  `json:"duplicates"`
	Skipped    int  `json:"skipped"`
	Pages      int  `json:"pages"`
	Truncated  bool `json:"truncated"`
}
