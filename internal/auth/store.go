// Package auth issues and verifies short-lived identity sessions: email
// codes, oauth state tokens and single-use recovery tokens. Email codes and
// recovery tokens are stored only as keyed hashes; the oauth state token is
// stored as issued, an HMAC-signed payload.
package auth

import (
	"errors"
	"fmt"
	"sync"

	"github.com/offsetpool/offsetpool/internal/model"
	"github.com/offsetpool/offsetpool/internal/statefile"
)

// ErrNotFound is returned when a session or token does not exist.
var ErrNotFound = errors.New("auth: not found")

const stateVersion = 1

type state struct {
	Version        int                   `json:"version"`
	Sessions       []model.AuthSession   `json:"sessions"`
	RecoveryTokens []model.RecoveryToken `json:"recoveryTokens"`
}

// Store owns the auth state file.
type Store struct {
	path string
	mu   sync.Mutex
	st   state
}

// OpenStore loads (or initializes) the auth state file.
func OpenStore(path string) (*Store, error) {
	s := &Store{path: path, st: state{Version: stateVersion}}
	if err := statefile.Load(path, &s.st); err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	return s, nil
}

// CreateSession appends a new session.
func (s *Store) CreateSession(sess model.AuthSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Sessions = append(s.st.Sessions, sess)
	return s.persistLocked()
}

// GetSession returns a session by id.
func (s *Store) GetSession(id string) (model.AuthSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.st.Sessions {
		if sess.ID == id {
			return sess, nil
		}
	}
	return model.AuthSession{}, ErrNotFound
}

// UpdateSession replaces a session by id.
func (s *Store) UpdateSession(sess model.AuthSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.st.Sessions {
		if cur.ID == sess.ID {
			s.st.Sessions[i] = sess
			return s.persistLocked()
		}
	}
	return ErrNotFound
}

// LatestVerifiedByEmail returns the most recently verified session for an
// email, or ErrNotFound.
func (s *Store) LatestVerifiedByEmail(email string) (model.AuthSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *model.AuthSession
	for i := range s.st.Sessions {
		sess := &s.st.Sessions[i]
		if sess.Status != model.SessionVerified || sess.BeneficiaryEmail != email {
			continue
		}
		if best == nil || (sess.VerifiedAt != nil && best.VerifiedAt != nil && sess.VerifiedAt.After(*best.VerifiedAt)) {
			best = sess
		}
	}
	if best == nil {
		return model.AuthSession{}, ErrNotFound
	}
	return *best, nil
}

// LinkUser binds a session to a user id, clearing any previous session
// linked to the same user.
func (s *Store) LinkUser(sessionID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for i := range s.st.Sessions {
		switch {
		case s.st.Sessions[i].ID == sessionID:
			s.st.Sessions[i].LinkedUserID = userID
			found = true
		case s.st.Sessions[i].LinkedUserID == userID:
			s.st.Sessions[i].LinkedUserID = ""
		}
	}
	if !found {
		return ErrNotFound
	}
	return s.persistLocked()
}

// CreateRecoveryToken appends a recovery token record.
func (s *Store) CreateRecoveryToken(tok model.RecoveryToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.RecoveryTokens = append(s.st.RecoveryTokens, tok)
	return s.persistLocked()
}

// RecoveryTokens returns a snapshot of every recovery token.
func (s *Store) RecoveryTokens() []model.RecoveryToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.RecoveryToken, len(s.st.RecoveryTokens))
	copy(out, s.st.RecoveryTokens)
	return out
}

// UpdateRecoveryToken replaces a token record by id.
func (s *Store) UpdateRecoveryToken(tok model.RecoveryToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.st.RecoveryTokens {
		if cur.ID == tok.ID {
			s.st.RecoveryTokens[i] = tok
			return s.persistLocked()
		}
	}
	return ErrNotFound
}

func (s *Store) persistLocked() error {
	if err := statefile.Save(s.path, &s.st); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	return nil
}
