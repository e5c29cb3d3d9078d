package pool

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/offsetpool/offsetpool/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "pool.json"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func record(t *testing.T, s *Store, in RecordInput) *RecordResult {
	t.Helper()
	res, err := s.RecordContribution(in)
	if err != nil {
		t.Fatalf("record contribution: %v", err)
	}
	return res
}

func TestRecordContributionIdempotency(t *testing.T) {
	s := testStore(t)
	in := RecordInput{
		Email:           "ada@example.com",
		AmountUsdCents:  500,
		ContributedAt:   "2026-03-15T10:00:00Z",
		Source:          model.SourceSubscription,
		ExternalEventID: "stripe_invoice:in_123",
	}

	first := record(t, s, in)
	if first.Duplicate {
		t.Fatal("first insert flagged duplicate")
	}
	if first.Record.UserID != "email:ada@example.com" {
		t.Errorf("derived user id = %s", first.Record.UserID)
	}
	if first.Record.Month != "2026-03" {
		t.Errorf("month = %s", first.Record.Month)
	}

	second := record(t, s, in)
	if !second.Duplicate {
		t.Fatal("second insert not flagged duplicate")
	}
	if second.Record.ID != first.Record.ID {
		t.Errorf("duplicate returned a different record: %s vs %s", second.Record.ID, first.Record.ID)
	}
	if got := s.MonthlySummary("2026-03").TotalUsdCents; got != 500 {
		t.Errorf("month total after replay = %d, want 500", got)
	}
}

func TestRecordContributionValidation(t *testing.T) {
	s := testStore(t)
	cases := map[string]RecordInput{
		"no identity":  {AmountUsdCents: 100, ContributedAt: "2026-03-01T00:00:00Z", Source: model.SourceOneOff},
		"zero amount":  {Email: "a@b.co", AmountUsdCents: 0, ContributedAt: "2026-03-01T00:00:00Z", Source: model.SourceOneOff},
		"bad date":     {Email: "a@b.co", AmountUsdCents: 1, ContributedAt: "March 1st", Source: model.SourceOneOff},
		"bad source":   {Email: "a@b.co", AmountUsdCents: 1, ContributedAt: "2026-03-01T00:00:00Z", Source: "gift"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := s.RecordContribution(in); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestUserIDPrecedence(t *testing.T) {
	s := testStore(t)
	in := RecordInput{
		UserID: "u-1", CustomerID: "cus_9", Email: "x@y.co",
		AmountUsdCents: 100, ContributedAt: "2026-01-01T00:00:00Z", Source: model.SourceOneOff,
	}
	if got := record(t, s, in).Record.UserID; got != "u-1" {
		t.Errorf("explicit id lost: %s", got)
	}
	in.UserID = ""
	in.ExternalEventID = ""
	if got := record(t, s, in).Record.UserID; got != "customer:cus_9" {
		t.Errorf("customer id precedence: %s", got)
	}
	in.CustomerID = ""
	if got := record(t, s, in).Record.UserID; got != "email:x@y.co" {
		t.Errorf("email fallback: %s", got)
	}
}

func TestAggregatesAddUp(t *testing.T) {
	s := testStore(t)
	inputs := []RecordInput{
		{Email: "a@x.co", AmountUsdCents: 300, ContributedAt: "2026-03-01T00:00:00Z", Source: model.SourceSubscription},
		{Email: "a@x.co", AmountUsdCents: 200, ContributedAt: "2026-03-10T00:00:00Z", Source: model.SourceOneOff},
		{Email: "b@x.co", AmountUsdCents: 500, ContributedAt: "2026-03-20T00:00:00Z", Source: model.SourceOneOff},
		{Email: "a@x.co", AmountUsdCents: 900, ContributedAt: "2026-04-01T00:00:00Z", Source: model.SourceOneOff},
	}
	for _, in := range inputs {
		record(t, s, in)
	}

	sum := s.MonthlySummary("2026-03")
	if sum.TotalUsdCents != 1000 || sum.ContributionCount != 3 || sum.UniqueContributors != 2 {
		t.Fatalf("month summary off: %+v", sum)
	}
	var perContrib int64
	for _, c := range sum.Contributors {
		perContrib += c.TotalUsdCents
	}
	if perContrib != sum.TotalUsdCents {
		t.Errorf("per-contributor totals %d != month total %d", perContrib, sum.TotalUsdCents)
	}
	// Sorted descending.
	if sum.Contributors[0].UserID != "email:a@x.co" || sum.Contributors[0].TotalUsdCents != 500 {
		t.Errorf("contributor sort off: %+v", sum.Contributors)
	}

	user := s.UserSummary("a@x.co")
	if user.TotalUsdCents != 1400 || user.ContributionCount != 3 {
		t.Fatalf("user summary off: %+v", user)
	}
	if user.Months[0].Month != "2026-04" {
		t.Errorf("months not sorted desc: %+v", user.Months)
	}
	if user.LastContributedAt != "2026-04-01T00:00:00Z" {
		t.Errorf("last contribution = %s", user.LastContributedAt)
	}
}

func TestStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.json")
	s, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	record(t, s, RecordInput{
		Email: "a@x.co", AmountUsdCents: 250,
		ContributedAt: "2026-05-01T00:00:00Z", Source: model.SourceOneOff,
	})

	reopened, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := reopened.MonthlySummary("2026-05").TotalUsdCents; got != 250 {
		t.Errorf("reopened total = %d, want 250", got)
	}
}
