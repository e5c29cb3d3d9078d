package subsync

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/offsetpool/offsetpool/internal/gateway"
	"github.com/offsetpool/offsetpool/internal/pool"
)

// fakeSource serves canned invoice pages.
type fakeSource struct {
	customers map[string]string // email -> id
	pages     []gateway.InvoicePage
	calls     int
}

func (f *fakeSource) FindCustomerByEmail(ctx context.Context, email string) (*gateway.Customer, error) {
	id, ok := f.customers[email]
	if !ok {
		return nil, nil
	}
	return &gateway.Customer{ID: id, Email: email}, nil
}

func (f *fakeSource) ListPaidInvoices(ctx context.Context, customerID, cursor string, limit int) (*gateway.InvoicePage, error) {
	if f.calls >= len(f.pages) {
		return &gateway.InvoicePage{}, nil
	}
	page := f.pages[f.calls]
	f.calls++
	return &page, nil
}

func newService(t *testing.T, src *fakeSource) (*Service, *pool.Store) {
	t.Helper()
	st, err := pool.Open(filepath.Join(t.TempDir(), "pool.json"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	return New(src, st, map[string]string{"price_basic": "tier_basic"}, zerolog.Nop()), st
}

func twoInvoicePages() []gateway.InvoicePage {
	return []gateway.InvoicePage{{
		Invoices: []gateway.Invoice{
			{ID: "in_march", CustomerID: "cus_1", AmountPaidCents: 300, PaidAt: "2026-03-15T00:00:00Z", PriceID: "price_basic"},
			{ID: "in_april", CustomerID: "cus_1", AmountPaidCents: 300, PaidAt: "2026-04-02T00:00:00Z", PriceID: "price_basic"},
		},
	}}
}

func TestSyncIdempotency(t *testing.T) {
	src := &fakeSource{customers: map[string]string{"ada@example.com": "cus_1"}, pages: twoInvoicePages()}
	svc, st := newService(t, src)
	req := Request{Email: "ada@example.com", Month: "2026-03"}

	first, err := svc.Sync(context.Background(), req)
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if first.Synced != 1 || first.Duplicates != 0 || first.Skipped != 1 {
		t.Fatalf("first sync summary: %+v", first)
	}

	src.calls = 0
	second, err := svc.Sync(context.Background(), req)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if second.Synced != 0 || second.Duplicates != 1 || second.Skipped != 1 {
		t.Fatalf("second sync summary: %+v", second)
	}

	if got := st.MonthlySummary("2026-03").TotalUsdCents; got != 300 {
		t.Errorf("month total = %d, want 300", got)
	}
}

func TestSyncWithoutMonthRecordsEveryInvoice(t *testing.T) {
	src := &fakeSource{customers: map[string]string{"ada@example.com": "cus_1"}, pages: twoInvoicePages()}
	svc, st := newService(t, src)
	if _, err := svc.Sync(context.Background(), Request{Email: "ada@example.com"}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	sum := st.UserSummary("customer:cus_1")
	if sum.ContributionCount != 2 {
		t.Fatalf("expected both invoices recorded, got %+v", sum)
	}
}

func TestSyncPagination(t *testing.T) {
	pages := []gateway.InvoicePage{
		{Invoices: []gateway.Invoice{{ID: "in_1", CustomerID: "cus_1", AmountPaidCents: 100, PaidAt: "2026-03-01T00:00:00Z"}}, HasMore: true, LastID: "in_1"},
		{Invoices: []gateway.Invoice{{ID: "in_2", CustomerID: "cus_2", AmountPaidCents: 100, PaidAt: "2026-03-02T00:00:00Z"}}, HasMore: true, LastID: "in_2"},
		{Invoices: []gateway.Invoice{{ID: "in_3", CustomerID: "cus_3", AmountPaidCents: 100, PaidAt: "2026-03-03T00:00:00Z"}}, HasMore: false},
	}

	t.Run("walks to the end", func(t *testing.T) {
		src := &fakeSource{pages: pages}
		svc, _ := newService(t, src)
		sum, err := svc.Sync(context.Background(), Request{AllCustomers: true})
		if err != nil {
			t.Fatalf("sync: %v", err)
		}
		if sum.Synced != 3 || sum.Pages != 3 || sum.Truncated {
			t.Fatalf("summary: %+v", sum)
		}
	})

	t.Run("truncates at page cap", func(t *testing.T) {
		src := &fakeSource{pages: pages}
		svc, _ := newService(t, src)
		sum, err := svc.Sync(context.Background(), Request{AllCustomers: true, MaxPages: 2})
		if err != nil {
			t.Fatalf("sync: %v", err)
		}
		if sum.Synced != 2 || sum.Pages != 2 || !sum.Truncated {
			t.Fatalf("summary: %+v", sum)
		}
	})
}

func TestSyncValidation(t *testing.T) {
	svc, _ := newService(t, &fakeSource{})
	if _, err := svc.Sync(context.Background(), Request{Month: "March"}); err == nil {
		t.Error("bad month accepted")
	}
	if _, err := svc.Sync(context.Background(), Request{}); err == nil {
		t.Error("empty scope accepted")
	}
	if _, err := svc.Sync(context.Background(), Request{Email: "ghost@example.com"}); err == nil {
		t.Error("unknown email accepted")
	}
}
