// Package dashboard builds read-only projections for beneficiaries: what a
// month retired, what one contributor funded, and the certificate view of a
// single retirement. Projections read from the stores and the ledger; they
// never write anywhere.
package dashboard

import (
	"context"
	"errors"

	"github.com/offsetpool/offsetpool/internal/batch"
	"github.com/offsetpool/offsetpool/internal/identity"
	"github.com/offsetpool/offsetpool/internal/ledger"
	"github.com/offsetpool/offsetpool/internal/model"
)

// ErrNotFound is returned when no certificate matches the lookup.
var ErrNotFound = errors.New("dashboard: not found")

// PoolReader is the slice of pool accounting the dashboard reads.
type PoolReader interface {
	MonthlySummary(month string) model.MonthlySummary
	UserSummary(identifier string) model.UserSummary
}

// Projection serves dashboard reads.
type Projection struct {
	pool    PoolReader
	batches *batch.Store
	ledger  ledger.Reader
}

// New returns a Projection.
func New(pool PoolReader, batches *batch.Store, rd ledger.Reader) *Projection {
	return &Projection{pool: pool, batches: batches, ledger: rd}
}

// MonthView pairs a month's pool summary with its batch executions.
type MonthView struct {
	Summary    model.MonthlySummary  `json:"summary"`
	Executions []model.BatchExecution `json:"executions"`
}

// Month returns the month view.
func (p *Projection) Month(month string) MonthView {
	var execs []model.BatchExecution
	for _, e := range p.batches.List() {
		if e.Month == month {
			execs = append(execs, e)
		}
	}
	return MonthView{Summary: p.pool.MonthlySummary(month), Executions: execs}
}

// UserView is one contributor's history plus every batch slice attributed
// to them.
type UserView struct {
	Summary      model.UserSummary `json:"summary"`
	Attributions []UserAttribution `json:"attributions"`
}

// UserAttribution is a contributor's slice of one executed batch.
type UserAttribution struct {
	BatchID     string                       `json:"batchId"`
	Month       string                       `json:"month"`
	TxHash      string                       `json:"txHash,omitempty"`
	DryRun      bool                         `json:"dryRun"`
	Attribution model.ContributorAttribution `json:"attribution"`
}

// User returns the contributor view for any accepted identifier form.
func (p *Projection) User(identifier string) UserView {
	summary := p.pool.UserSummary(identifier)
	view := UserView{Summary: summary, Attributions: []UserAttribution{}}
	for _, e := range p.batches.List() {
		if e.Status != model.BatchSuccess || e.DryRun {
			continue
		}
		for _, a := range e.Attributions {
			if a.UserID == summary.UserID {
				view.Attributions = append(view.Attributions, UserAttribution{
					BatchID:     e.ID,
					Month:       e.Month,
					TxHash:      e.TxHash,
					DryRun:      e.DryRun,
					Attribution: a,
				})
			}
		}
	}
	return view
}

// Certificate is the read model of one on-chain retirement with the
// beneficiary identity recovered from the reason tag.
type Certificate struct {
	ID               string                `json:"id"`
	Quantity         string                `json:"quantity"`
	BatchDenom       string                `json:"batchDenom"`
	Owner            string                `json:"owner"`
	Jurisdiction     string                `json:"jurisdiction"`
	Reason           string                `json:"reason"`
	BeneficiaryName  string                `json:"beneficiaryName,omitempty"`
	BeneficiaryEmail string                `json:"beneficiaryEmail,omitempty"`
	Identity         *identity.Attribution `json:"identity,omitempty"`
	Timestamp        string                `json:"timestamp"`
	TxHash           string                `json:"txHash"`
	BlockHeight      int64                 `json:"blockHeight"`
}

// Certificate looks a retirement up by indexer id or transaction hash and
// decodes the attributed reason.
func (p *Projection) Certificate(ctx context.Context, idOrTxHash string) (*Certificate, error) {
	rec, err := p.ledger.GetRetirementByID(ctx, idOrTxHash)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return certificateOf(rec), nil
}

func certificateOf(rec *model.Retirement) *Certificate {
	reason, attr := identity.ParseAttributedReason(rec.Reason)
	cert := &Certificate{
		ID:           rec.NodeID,
		Quantity:     rec.Amount,
		BatchDenom:   rec.BatchDenom,
		Owner:        rec.Owner,
		Jurisdiction: rec.Jurisdiction,
		Reason:       reason,
		Identity:     attr,
		Timestamp:    rec.Timestamp,
		TxHash:       rec.TxHash,
		BlockHeight:  rec.BlockHeight,
	}
	if attr != nil {
		cert.BeneficiaryName = attr.Name
		cert.BeneficiaryEmail = attr.Email
	}
	return cert
}
