package auth

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/offsetpool/offsetpool/internal/model"
)

// captureMailer remembers the last code sent.
type captureMailer struct {
	email string
	code  string
}

func (m *captureMailer) SendVerificationCode(ctx context.Context, email, code string) error {
	m.email, m.code = email, code
	return nil
}

func newTestService(t *testing.T) (*Service, *captureMailer) {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "auth.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	mailer := &captureMailer{}
	svc := New(Options{
		Store:       store,
		Secret:      "test-secret",
		Providers:   []string{"google", "github"},
		SessionTTL:  15 * time.Minute,
		RecoveryTTL: time.Hour,
		MaxAttempts: 3,
		Mailer:      mailer,
		Log:         zerolog.Nop(),
	})
	return svc, mailer
}

func verifiedEmailSession(t *testing.T, svc *Service, mailer *captureMailer, email string) model.AuthSession {
	t.Helper()
	sess, err := svc.StartEmailAuth(context.Background(), email, "Ada")
	if err != nil {
		t.Fatalf("start email auth: %v", err)
	}
	verified, err := svc.VerifyEmailAuth(sess.ID, mailer.code)
	if err != nil {
		t.Fatalf("verify email auth: %v", err)
	}
	return verified
}

func TestEmailAuthHappyPath(t *testing.T) {
	svc, mailer := newTestService(t)
	sess, err := svc.StartEmailAuth(context.Background(), "ADA@Example.com ", "Ada")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if sess.BeneficiaryEmail != "ada@example.com" {
		t.Errorf("email not normalized: %s", sess.BeneficiaryEmail)
	}
	if len(mailer.code) != 6 {
		t.Fatalf("code = %q", mailer.code)
	}
	if sess.EmailCodeHash == mailer.code {
		t.Fatal("raw code stored")
	}

	verified, err := svc.VerifyEmailAuth(sess.ID, mailer.code)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.Status != model.SessionVerified || verified.VerifiedAt == nil {
		t.Fatalf("session: %+v", verified)
	}
}

func TestEmailAuthAttemptsAndLock(t *testing.T) {
	svc, mailer := newTestService(t)
	sess, err := svc.StartEmailAuth(context.Background(), "ada@example.com", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := 1; i <= 2; i++ {
		got, err := svc.VerifyEmailAuth(sess.ID, "000000")
		if !errors.Is(err, ErrVerificationFailed) {
			t.Fatalf("attempt %d: err = %v", i, err)
		}
		if got.VerificationAttempts != i {
			t.Errorf("attempt count = %d, want %d", got.VerificationAttempts, i)
		}
	}
	// Third wrong attempt exhausts the budget.
	got, err := svc.VerifyEmailAuth(sess.ID, "000000")
	if !errors.Is(err, ErrSessionLocked) {
		t.Fatalf("expected lock, got %v", err)
	}
	if got.Status != model.SessionLocked {
		t.Fatalf("status = %s", got.Status)
	}

	// The right code is dead after lock.
	if _, err := svc.VerifyEmailAuth(sess.ID, mailer.code); !errors.Is(err, ErrSessionLocked) {
		t.Fatalf("locked session accepted a code: %v", err)
	}
}

func TestPendingSessionExpiresOnRead(t *testing.T) {
	svc, _ := newTestService(t)
	sess, err := svc.StartEmailAuth(context.Background(), "ada@example.com", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	svc.now = func() time.Time { return time.Now().Add(16 * time.Minute) }

	got, err := svc.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.SessionExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}
	// Materialized: a second read sees the persisted transition.
	stored, _ := svc.store.GetSession(sess.ID)
	if stored.Status != model.SessionExpired {
		t.Fatal("expiry not persisted")
	}
}

func TestVerifiedSessionNeverExpires(t *testing.T) {
	svc, mailer := newTestService(t)
	sess := verifiedEmailSession(t, svc, mailer, "ada@example.com")
	svc.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	got, err := svc.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.SessionVerified {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestOAuthFlow(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.StartOAuthAuth("facebook", "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("provider allowlist not enforced: %v", err)
	}

	sess, err := svc.StartOAuthAuth("google", "ada@example.com", "Ada")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if sess.OAuthStateToken == "" || !strings.Contains(sess.OAuthStateToken, ".") {
		t.Fatalf("state token = %q", sess.OAuthStateToken)
	}

	t.Run("provider mismatch rejected", func(t *testing.T) {
		if _, err := svc.VerifyOAuthAuth(sess.ID, sess.OAuthStateToken, "github", "sub-1", ""); err == nil {
			t.Fatal("mismatched provider accepted")
		}
	})

	t.Run("tampered state rejected", func(t *testing.T) {
		bad := sess.OAuthStateToken[:len(sess.OAuthStateToken)-2] + "xx"
		if _, err := svc.VerifyOAuthAuth(sess.ID, bad, "google", "sub-1", ""); err == nil {
			t.Fatal("tampered state accepted")
		}
	})

	verified, err := svc.VerifyOAuthAuth(sess.ID, sess.OAuthStateToken, "google", "sub-1", "")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.Status != model.SessionVerified || verified.AuthSubject != "sub-1" {
		t.Fatalf("session: %+v", verified)
	}
}

func TestRecoverySingleUse(t *testing.T) {
	svc, mailer := newTestService(t)
	verifiedEmailSession(t, svc, mailer, "ada@example.com")

	token, rec, err := svc.StartRecovery("ada@example.com")
	if err != nil {
		t.Fatalf("start recovery: %v", err)
	}
	if !strings.HasPrefix(token, "recover_") {
		t.Fatalf("token = %q", token)
	}
	if rec.TokenHash == token {
		t.Fatal("raw token stored")
	}

	recovered, err := svc.RecoverWithToken(token)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered.Status != model.SessionVerified || recovered.BeneficiaryEmail != "ada@example.com" {
		t.Fatalf("recovered session: %+v", recovered)
	}

	// Second use must fail permanently.
	if _, err := svc.RecoverWithToken(token); !errors.Is(err, ErrRecoveryFailed) {
		t.Fatalf("second use: %v", err)
	}
}

func TestRecoveryExpiredToken(t *testing.T) {
	svc, mailer := newTestService(t)
	verifiedEmailSession(t, svc, mailer, "ada@example.com")
	token, _, err := svc.StartRecovery("ada@example.com")
	if err != nil {
		t.Fatalf("start recovery: %v", err)
	}
	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := svc.RecoverWithToken(token); !errors.Is(err, ErrRecoveryFailed) {
		t.Fatalf("expired token: %v", err)
	}
}

func TestRecoveryRequiresVerifiedSession(t *testing.T) {
	svc, _ := newTestService(t)
	if _, _, err := svc.StartRecovery("ghost@example.com"); !errors.Is(err, ErrRecoveryFailed) {
		t.Fatalf("recovery for unknown email: %v", err)
	}
}

func TestLinkSessionOverwrites(t *testing.T) {
	svc, mailer := newTestService(t)
	first := verifiedEmailSession(t, svc, mailer, "ada@example.com")
	second := verifiedEmailSession(t, svc, mailer, "ada@example.com")

	if err := svc.LinkSessionToUser(first.ID, "user-1"); err != nil {
		t.Fatalf("link: %v", err)
	}
	if err := svc.LinkSessionToUser(second.ID, "user-1"); err != nil {
		t.Fatalf("relink: %v", err)
	}

	a, _ := svc.store.GetSession(first.ID)
	b, _ := svc.store.GetSession(second.ID)
	if a.LinkedUserID != "" {
		t.Error("old link not cleared")
	}
	if b.LinkedUserID != "user-1" {
		t.Error("new link missing")
	}
}
