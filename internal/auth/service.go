package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/offsetpool/offsetpool/internal/identity"
	"github.com/offsetpool/offsetpool/internal/model"
	"github.com/offsetpool/offsetpool/internal/utils"
)

// Verification failures callers are expected to handle.
var (
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrVerificationFailed = errors.New("auth: verification failed")
	ErrSessionLocked      = errors.New("auth: session locked")
	ErrSessionNotPending  = errors.New("auth: session is not pending")
	ErrRecoveryFailed     = errors.New("auth: recovery failed")
)

// Mailer delivers verification codes. Nil disables delivery (the code is
// then only reachable through logs in dev setups).
type Mailer interface {
	SendVerificationCode(ctx context.Context, email, code string) error
}

// Service implements the challenge/verify flows.
type Service struct {
	store       *Store
	secret      string
	providers   []string
	sessionTTL  time.Duration
	recoveryTTL time.Duration
	maxAttempts int
	mailer      Mailer
	now         func() time.Time
	log         zerolog.Logger
}

// Options configures a Service.
type Options struct {
	Store       *Store
	Secret      string
	Providers   []string // oauth provider allowlist
	SessionTTL  time.Duration
	RecoveryTTL time.Duration
	MaxAttempts int
	Mailer      Mailer
	Log         zerolog.Logger
}

// New returns an auth service.
func New(o Options) *Service {
	if o.SessionTTL == 0 {
		o.SessionTTL = 15 * time.Minute
	}
	if o.RecoveryTTL == 0 {
		o.RecoveryTTL = 72 * time.Hour
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 5
	}
	return &Service{
		store:       o.Store,
		secret:      o.Secret,
		providers:   o.Providers,
		sessionTTL:  o.SessionTTL,
		recoveryTTL: o.RecoveryTTL,
		maxAttempts: o.MaxAttempts,
		mailer:      o.Mailer,
		now:         time.Now,
		log:         o.Log.With().Str("component", "auth").Logger(),
	}
}

// GetSession reads a session, materializing expiry: a pending session past
// its deadline is persisted as expired before it is returned. Verified
// sessions never expire.
func (s *Service) GetSession(id string) (model.AuthSession, error) {
	sess, err := s.store.GetSession(id)
	if err != nil {
		return model.AuthSession{}, err
	}
	if sess.Status == model.SessionPending && !sess.ExpiresAt.After(s.now().UTC()) {
		sess.Status = model.SessionExpired
		if err := s.store.UpdateSession(sess); err != nil {
			return model.AuthSession{}, err
		}
	}
	return sess, nil
}

// --- email ------------------------------------------------------------------

// StartEmailAuth creates a pending session and sends a six-digit code to
// the address. Only the keyed hash of the code is stored.
func (s *Service) StartEmailAuth(ctx context.Context, email, name string) (model.AuthSession, error) {
	attr, err := identity.CaptureIdentity(identity.CaptureInput{Name: name, Email: email})
	if err != nil || attr.Method != identity.MethodEmail {
		return model.AuthSession{}, fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	}
	code, err := utils.RandomDigits(6)
	if err != nil {
		return model.AuthSession{}, err
	}
	id, err := utils.RandomHex(12)
	if err != nil {
		return model.AuthSession{}, err
	}
	now := s.now().UTC()
	sess := model.AuthSession{
		ID:                      "authsess_" + id,
		Method:                  model.AuthMethodEmail,
		Status:                  model.SessionPending,
		CreatedAt:               now,
		ExpiresAt:               now.Add(s.sessionTTL),
		BeneficiaryName:         attr.Name,
		BeneficiaryEmail:        attr.Email,
		EmailCodeHash:           utils.HashKeyed(s.secret, code, attr.Email),
		MaxVerificationAttempts: s.maxAttempts,
	}
	if err := s.store.CreateSession(sess); err != nil {
		return model.AuthSession{}, err
	}
	if s.mailer != nil {
		if err := s.mailer.SendVerificationCode(ctx, attr.Email, code); err != nil {
			s.log.Error().Err(err).Str("session", sess.ID).Msg("verification email failed")
		}
	}
	s.log.Info().Str("session", sess.ID).Msg("email auth started")
	return sess, nil
}

// VerifyEmailAuth checks a code in constant time. Every wrong code burns an
// attempt; exhausting the budget locks the session permanently.
func (s *Service) VerifyEmailAuth(sessionID, code string) (model.AuthSession, error) {
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return model.AuthSession{}, err
	}
	if sess.Status == model.SessionLocked {
		return sess, ErrSessionLocked
	}
	if sess.Status != model.SessionPending || sess.Method != model.AuthMethodEmail {
		return sess, ErrSessionNotPending
	}
	presented := utils.HashKeyed(s.secret, strings.TrimSpace(code), sess.BeneficiaryEmail)
	if !utils.ConstantTimeEquals(presented, sess.EmailCodeHash) {
		sess.VerificationAttempts++
		if sess.VerificationAttempts >= sess.MaxVerificationAttempts {
			sess.Status = model.SessionLocked
		}
		if err := s.store.UpdateSession(sess); err != nil {
			return model.AuthSession{}, err
		}
		if sess.Status == model.SessionLocked {
			return sess, ErrSessionLocked
		}
		return sess, ErrVerificationFailed
	}
	now := s.now().UTC()
	sess.Status = model.SessionVerified
	sess.VerifiedAt = &now
	if err := s.store.UpdateSession(sess); err != nil {
		return model.AuthSession{}, err
	}
	s.log.Info().Str("session", sess.ID).Msg("email auth verified")
	return sess, nil
}

// --- oauth ------------------------------------------------------------------

type statePayload struct {
	SID string `json:"sid"`
	Exp int64  `json:"exp"`
}

// StartOAuthAuth creates a pending session for an allowlisted provider and
// issues the signed state token the caller must thread through the external
// oauth dance.
func (s *Service) StartOAuthAuth(provider, email, name string) (model.AuthSession, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if !s.providerAllowed(provider) {
		return model.AuthSession{}, fmt.Errorf("%w: provider %q is not enabled", ErrInvalidInput, provider)
	}
	attr, err := identity.CaptureIdentity(identity.CaptureInput{Name: name, Email: email})
	if err != nil {
		return model.AuthSession{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	id, err := utils.RandomHex(12)
	if err != nil {
		return model.AuthSession{}, err
	}
	now := s.now().UTC()
	sess := model.AuthSession{
		ID:                      "authsess_" + id,
		Method:                  model.AuthMethodOAuth,
		Status:                  model.SessionPending,
		CreatedAt:               now,
		ExpiresAt:               now.Add(s.sessionTTL),
		BeneficiaryName:         attr.Name,
		BeneficiaryEmail:        attr.Email,
		AuthProvider:            provider,
		MaxVerificationAttempts: s.maxAttempts,
	}
	sess.OAuthStateToken = s.signState(statePayload{SID: sess.ID, Exp: sess.ExpiresAt.Unix()})
	if err := s.store.CreateSession(sess); err != nil {
		return model.AuthSession{}, err
	}
	s.log.Info().Str("session", sess.ID).Str("provider", provider).Msg("oauth auth started")
	return sess, nil
}

// VerifyOAuthAuth validates the returned state token and binds the
// provider subject to the session.
func (s *Service) VerifyOAuthAuth(sessionID, stateToken, provider, subject, email string) (model.AuthSession, error) {
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return model.AuthSession{}, err
	}
	if sess.Status != model.SessionPending || sess.Method != model.AuthMethodOAuth {
		return sess, ErrSessionNotPending
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider != sess.AuthProvider {
		return sess, fmt.Errorf("%w: provider mismatch", ErrVerificationFailed)
	}
	payload, ok := s.verifyState(stateToken)
	if !ok || payload.SID != sess.ID {
		return sess, fmt.Errorf("%w: bad state token", ErrVerificationFailed)
	}
	if payload.Exp <= s.now().UTC().Unix() {
		return sess, fmt.Errorf("%w: state token expired", ErrVerificationFailed)
	}
	if strings.TrimSpace(subject) == "" {
		return sess, fmt.Errorf("%w: subject required", ErrInvalidInput)
	}
	now := s.now().UTC()
	sess.AuthSubject = strings.TrimSpace(subject)
	if email != "" && sess.BeneficiaryEmail == "" {
		if attr, err := identity.CaptureIdentity(identity.CaptureInput{Email: email}); err == nil {
			sess.BeneficiaryEmail = attr.Email
		}
	}
	sess.Status = model.SessionVerified
	sess.VerifiedAt = &now
	if err := s.store.UpdateSession(sess); err != nil {
		return model.AuthSession{}, err
	}
	s.log.Info().Str("session", sess.ID).Msg("oauth auth verified")
	return sess, nil
}

func (s *Service) signState(p statePayload) string {
	raw, _ := json.Marshal(p)
	payload := base64.RawURLEncoding.EncodeToString(raw)
	return payload + "." + utils.HmacHex(s.secret, payload)
}

func (s *Service) verifyState(token string) (statePayload, bool) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return statePayload{}, false
	}
	if !utils.ConstantTimeEquals(utils.HmacHex(s.secret, parts[0]), parts[1]) {
		return statePayload{}, false
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return statePayload{}, false
	}
	var p statePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return statePayload{}, false
	}
	return p, true
}

func (s *Service) providerAllowed(provider string) bool {
	for _, p := range s.providers {
		if p == provider {
			return true
		}
	}
	return false
}

// --- recovery ---------------------------------------------------------------

// StartRecovery mints a single-use token for the most recent verified
// session of an email. The raw token is returned exactly once; only its
// keyed hash is stored.
func (s *Service) StartRecovery(email string) (token string, rec model.RecoveryToken, err error) {
	attr, err := identity.CaptureIdentity(identity.CaptureInput{Email: email})
	if err != nil || attr.Method != identity.MethodEmail {
		return "", model.RecoveryToken{}, fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	}
	sess, err := s.store.LatestVerifiedByEmail(attr.Email)
	if err != nil {
		return "", model.RecoveryToken{}, fmt.Errorf("%w: no verified session for that email", ErrRecoveryFailed)
	}
	hexPart, err := utils.RandomHex(32)
	if err != nil {
		return "", model.RecoveryToken{}, err
	}
	token = "recover_" + hexPart
	id, err := utils.RandomHex(12)
	if err != nil {
		return "", model.RecoveryToken{}, err
	}
	now := s.now().UTC()
	rec = model.RecoveryToken{
		ID:               "rectok_" + id,
		TokenHash:        utils.HashKeyed(s.secret, token),
		SessionID:        sess.ID,
		BeneficiaryEmail: attr.Email,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.recoveryTTL),
	}
	if err := s.store.CreateRecoveryToken(rec); err != nil {
		return "", model.RecoveryToken{}, err
	}
	s.log.Info().Str("session", sess.ID).Msg("recovery started")
	return token, rec, nil
}

// RecoverWithToken consumes a recovery token and creates a fresh verified
// session inheriting the source session's identity. A consumed or expired
// token always fails; consumption is permanent.
func (s *Service) RecoverWithToken(token string) (model.AuthSession, error) {
	presented := utils.HashKeyed(s.secret, strings.TrimSpace(token))
	var match *model.RecoveryToken
	for _, rec := range s.store.RecoveryTokens() {
		rec := rec
		if utils.ConstantTimeEquals(rec.TokenHash, presented) {
			match = &rec
			break
		}
	}
	if match == nil {
		return model.AuthSession{}, fmt.Errorf("%w: unknown token", ErrRecoveryFailed)
	}
	if match.ConsumedAt != nil {
		return model.AuthSession{}, fmt.Errorf("%w: token already used", ErrRecoveryFailed)
	}
	now := s.now().UTC()
	if !match.ExpiresAt.After(now) {
		return model.AuthSession{}, fmt.Errorf("%w: token expired", ErrRecoveryFailed)
	}
	source, err := s.store.GetSession(match.SessionID)
	if err != nil {
		return model.AuthSession{}, fmt.Errorf("%w: source session gone", ErrRecoveryFailed)
	}

	match.ConsumedAt = &now
	if err := s.store.UpdateRecoveryToken(*match); err != nil {
		return model.AuthSession{}, err
	}

	id, err := utils.RandomHex(12)
	if err != nil {
		return model.AuthSession{}, err
	}
	sess := model.AuthSession{
		ID:                      "authsess_" + id,
		Method:                  source.Method,
		Status:                  model.SessionVerified,
		CreatedAt:               now,
		ExpiresAt:               now.Add(s.sessionTTL),
		VerifiedAt:              &now,
		BeneficiaryName:         source.BeneficiaryName,
		BeneficiaryEmail:        source.BeneficiaryEmail,
		AuthProvider:            source.AuthProvider,
		AuthSubject:             source.AuthSubject,
		MaxVerificationAttempts: s.maxAttempts,
	}
	if err := s.store.CreateSession(sess); err != nil {
		return model.AuthSession{}, err
	}
	s.log.Info().Str("session", sess.ID).Str("source", source.ID).Msg("session recovered")
	return sess, nil
}

// LinkSessionToUser binds a verified session's identity to an opaque user
// id. A previous link for the same user is overwritten.
func (s *Service) LinkSessionToUser(sessionID, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: userId required", ErrInvalidInput)
	}
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return err
	}
	if sess.Status != model.SessionVerified {
		return fmt.Errorf("%w: only verified sessions can be linked", ErrInvalidInput)
	}
	return s.store.LinkUser(sessionID, userID)
}

// Identity returns the attribution carried by a verified session.
func (s *Service) Identity(sess model.AuthSession) identity.Attribution {
	attr, err := identity.CaptureIdentity(identity.CaptureInput{
		Name:     sess.BeneficiaryName,
		Email:    sess.BeneficiaryEmail,
		Provider: sess.AuthProvider,
		Subject:  sess.AuthSubject,
	})
	if err != nil {
		return identity.Attribution{Method: identity.MethodNone}
	}
	return attr
}
