// Package subsync pulls paid subscription invoices out of the payment
// gateway and records them as pool contributions. Replays are free: every
// invoice carries a globally unique external event id, so the pool dedupes
// whatever this package feeds it.
package subsync

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/offsetpool/offsetpool/internal/gateway"
	"github.com/offsetpool/offsetpool/internal/model"
	"github.com/offsetpool/offsetpool/internal/pool"
)

// InvoiceSource is the slice of the gateway client this service reads.
type InvoiceSource interface {
	FindCustomerByEmail(ctx context.Context, email string) (*gateway.Customer, error)
	ListPaidInvoices(ctx context.Context, customerID, cursor string, limit int) (*gateway.InvoicePage, error)
}

// Recorder is the slice of the pool store this service writes.
type Recorder interface {
	RecordContribution(in pool.RecordInput) (*pool.RecordResult, error)
}

// ErrInvalidRequest marks requests the caller must fix.
var ErrInvalidRequest = errors.New("subsync: invalid request")

const (
	defaultMaxPages = 10
	maxMaxPages     = 50
	pageSize        = 100
)

var monthRe = regexp.MustCompile(`^\d{4}-\d{2}$`)

// Request selects what to sync. At least one of CustomerID, Email or
// AllCustomers must identify the scope; AllCustomers wins over CustomerID,
// which wins over Email. Month optionally restricts the
// recorded contributions to one calendar month ("2026-03").
type Request struct {
	CustomerID   string
	Email        string
	AllCustomers bool
	Month        string
	MaxPages     int
}

// Service wires the gateway to pool accounting.
type Service struct {
	source InvoiceSource
	pool   Recorder
	tiers  map[string]string // gateway price id -> tier id
	log    zerolog.Logger
}

// New returns a sync service. tiers maps gateway price ids to tier ids;
// invoices with unknown prices record an empty tier.
func New(source InvoiceSource, rec Recorder, tiers map[string]string, log zerolog.Logger) *Service {
	return &Service{
		source: source,
		pool:   rec,
		tiers:  tiers,
		log:    log.With().Str("component", "subsync").Logger(),
	}
}

// Sync ingests invoices per the request and reports what happened.
func (s *Service) Sync(ctx context.Context, req Request) (*model.SyncSummary, error) {
	if req.Month != "" && !monthRe.MatchString(req.Month) {
		return nil, fmt.Errorf("%w: month must look like 2026-03", ErrInvalidRequest)
	}
	if !req.AllCustomers && req.CustomerID == "" && strings.TrimSpace(req.Email) == "" {
		return nil, fmt.Errorf("%w: customer id, email or allCustomers required", ErrInvalidRequest)
	}

	maxPages := req.MaxPages
	if maxPages == 0 {
		maxPages = defaultMaxPages
	}
	if maxPages < 1 {
		maxPages = 1
	}
	if maxPages > maxMaxPages {
		maxPages = maxMaxPages
	}

	customerID := req.CustomerID
	if !req.AllCustomers && customerID == "" {
		cust, err := s.source.FindCustomerByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
		if err != nil {
			return nil, fmt.Errorf("subsync: find customer: %w", err)
		}
		if cust == nil {
			return nil, fmt.Errorf("%w: no customer for email", ErrInvalidRequest)
		}
		customerID = cust.ID
	}
	if req.AllCustomers {
		customerID = "" // global invoice walk
	}

	summary := &model.SyncSummary{}
	cursor := ""
	for summary.Pages < maxPages {
		page, err := s.source.ListPaidInvoices(ctx, customerID, cursor, pageSize)
		if err != nil {
			return nil, fmt.Errorf("subsync: list invoices: %w", err)
		}
		summary.Pages++
		for _, inv := range page.Invoices {
			if err := s.record(inv, req.Month, summary); err != nil {
				return nil, err
			}
		}
		if !page.HasMore {
			return summary, nil
		}
		cursor = page.LastID
	}
	// Stopped at the page cap with data left behind.
	summary.Truncated = true
	s.log.Warn().Int("pages", summary.Pages).Msg("invoice walk truncated at page cap")
	return summary, nil
}

func (s *Service) record(inv gateway.Invoice, monthFilter string, summary *model.SyncSummary) error {
	if monthFilter != "" && !strings.HasPrefix(inv.PaidAt, monthFilter) {
		summary.Skipped++
		return nil
	}
	res, err := s.pool.RecordContribution(pool.RecordInput{
		CustomerID:      inv.CustomerID,
		AmountUsdCents:  inv.AmountPaidCents,
		ContributedAt:   inv.PaidAt,
		Source:          model.SourceSubscription,
		ExternalEventID: "stripe_invoice:" + inv.ID,
		TierID:          s.tiers[inv.PriceID],
		Metadata:        map[string]string{"invoice_id": inv.ID},
	})
	if err != nil {
		return fmt.Errorf("subsync: record invoice %s: %w", inv.ID, err)
	}
	if res.Duplicate {
		summary.Duplicates++
	} else {
		summary.Synced++
	}
	return nil
}
