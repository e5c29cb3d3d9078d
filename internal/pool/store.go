// Package pool is the append-only contribution ledger. State is a single
// JSON document guarded by a mutex: every write is a read-modify-write that
// lands atomically via a temp-file rename, so concurrent recorders are
// serialized and a crash can never leave a half-written state file.
package pool

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/offsetpool/offsetpool/internal/model"
	"github.com/offsetpool/offsetpool/internal/statefile"
	"github.com/offsetpool/offsetpool/internal/utils"
)

// ErrInvalidInput marks contribution inputs the caller must fix. Handlers
// translate it to a 400.
var ErrInvalidInput = errors.New("pool: invalid input")

const stateVersion = 1

// state is the persisted document.
type state struct {
	Version       int                  `json:"version"`
	Contributions []model.Contribution `json:"contributions"`
}

// Store owns the contribution state file.
type Store struct {
	path string
	log  zerolog.Logger

	mu sync.Mutex
	st state
}

// Open loads (or initializes) the state file at path.
func Open(path string, log zerolog.Logger) (*Store, error) {
	s := &Store{path: path, log: log.With().Str("component", "pool").Logger()}
	s.st = state{Version: stateVersion}
	if err := statefile.Load(path, &s.st); err != nil {
		return nil, fmt.Errorf("pool: %w", err)
	}
	return s, nil
}

// RecordInput is the raw material for one contribution. At least one of
// UserID, CustomerID or Email must be non-empty; when several are set,
// UserID wins over CustomerID, which wins over Email.
type RecordInput struct {
	UserID          string
	CustomerID      string
	Email           string
	AmountUsdCents  int64
	ContributedAt   string
	Source          string
	ExternalEventID string
	TierID          string
	Metadata        map[string]string
}

// RecordResult is what a recorder gets back: the (possibly pre-existing)
// record plus fresh aggregates for the affected user and month.
type RecordResult struct {
	Record       model.Contribution
	Duplicate    bool
	UserSummary  model.UserSummary
	MonthSummary model.MonthlySummary
}

// RecordContribution validates, dedupes on ExternalEventID and appends.
// A duplicate returns the existing record unchanged with Duplicate set;
// nothing is written in that case.
func (s *Store) RecordContribution(in RecordInput) (*RecordResult, error) {
	userID := deriveUserID(in)
	if userID == "" {
		return nil, fmt.Errorf("%w: one of userId, customerId or email is required", ErrInvalidInput)
	}
	if in.AmountUsdCents <= 0 {
		return nil, fmt.Errorf("%w: amountUsdCents must be positive", ErrInvalidInput)
	}
	if _, err := time.Parse(time.RFC3339, in.ContributedAt); err != nil {
		return nil, fmt.Errorf("%w: contributedAt must be ISO-8601: %v", ErrInvalidInput, err)
	}
	switch in.Source {
	case model.SourceSubscription, model.SourceOneOff:
	default:
		return nil, fmt.Errorf("%w: unknown source %q", ErrInvalidInput, in.Source)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if in.ExternalEventID != "" {
		for _, c := range s.st.Contributions {
			if c.ExternalEventID == in.ExternalEventID {
				return &RecordResult{
					Record:       c,
					Duplicate:    true,
					UserSummary:  userSummaryLocked(s.st.Contributions, c.UserID),
					MonthSummary: monthlySummaryLocked(s.st.Contributions, c.Month),
				}, nil
			}
		}
	}

	id, err := utils.RandomHex(12)
	if err != nil {
		return nil, err
	}
	rec := model.Contribution{
		ID:              "contrib_" + id,
		UserID:          userID,
		AmountUsdCents:  in.AmountUsdCents,
		ContributedAt:   in.ContributedAt,
		Source:          in.Source,
		ExternalEventID: in.ExternalEventID,
		TierID:          in.TierID,
		Metadata:        in.Metadata,
		Month:           in.ContributedAt[:7],
	}
	s.st.Contributions = append(s.st.Contributions, rec)
	if err := s.persistLocked(); err != nil {
		// Roll the in-memory append back so memory and disk agree.
		s.st.Contributions = s.st.Contributions[:len(s.st.Contributions)-1]
		return nil, err
	}
	s.log.Info().Str("user", rec.UserID).Int64("cents", rec.AmountUsdCents).
		Str("month", rec.Month).Str("source", rec.Source).Msg("contribution recorded")
	return &RecordResult{
		Record:       rec,
		UserSummary:  userSummaryLocked(s.st.Contributions, rec.UserID),
		MonthSummary: monthlySummaryLocked(s.st.Contributions, rec.Month),
	}, nil
}

// MonthlySummary aggregates one month.
func (s *Store) MonthlySummary(month string) model.MonthlySummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return monthlySummaryLocked(s.st.Contributions, month)
}

// UserSummary aggregates one contributor's lifetime.
func (s *Store) UserSummary(identifier string) model.UserSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return userSummaryLocked(s.st.Contributions, resolveIdentifier(identifier))
}

// MonthContributors returns the per-contributor aggregates the batch driver
// uses as attribution weights.
func (s *Store) MonthContributors(month string) []model.ContributorTotal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return monthlySummaryLocked(s.st.Contributions, month).Contributors
}

// deriveUserID applies the identity precedence: explicit id, then customer
// id, then lowercased email.
func deriveUserID(in RecordInput) string {
	if v := strings.TrimSpace(in.UserID); v != "" {
		return v
	}
	if v := strings.TrimSpace(in.CustomerID); v != "" {
		return "customer:" + v
	}
	if v := strings.ToLower(strings.TrimSpace(in.Email)); v != "" {
		return "email:" + v
	}
	return ""
}

// resolveIdentifier lets callers look a user up by any of the id forms.
func resolveIdentifier(identifier string) string {
	id := strings.TrimSpace(identifier)
	if strings.Contains(id, "@") && !strings.HasPrefix(id, "email:") {
		return "email:" + strings.ToLower(id)
	}
	return id
}

// persistLocked writes the state atomically. Callers hold the mutex.
func (s *Store) persistLocked() error {
	if err := statefile.Save(s.path, &s.st); err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	return nil
}
