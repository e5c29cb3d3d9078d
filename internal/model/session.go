package model

import "time"

// AuthSession is a short-lived identity-verification session. A session is
// created in status "pending" and leaves it exactly once: to "verified" on a
// successful code or state check, to "locked" when the attempt budget is
// exhausted, or to "expired" when the deadline passes. Expiry is derived
// from the wall clock and materialized whenever the session is read, so a
// pending session past its deadline is persisted as expired before it is
// returned.
//
// EmailCodeHash and OAuthStateToken are verification material: the code
// hash is a keyed SHA-256 digest and the state token is an HMAC-signed
// payload. The API strips both from the sessions it returns, except that
// the oauth start response carries the state token to the client. Verified
// sessions keep them only for audit.
type AuthSession struct {
	ID                      string     `json:"id"`
	Method                  string     `json:"method"`
	Status                  string     `json:"status"`
	CreatedAt               time.Time  `json:"createdAt"`
	ExpiresAt               time.Time  `json:"expiresAt"`
	VerifiedAt              *time.Time `json:"verifiedAt,omitempty"`
	BeneficiaryName         string     `json:"beneficiaryName,omitempty"`
	BeneficiaryEmail        string     `json:"beneficiaryEmail,omitempty"`
	AuthProvider            string     `json:"authProvider,omitempty"`
	AuthSubject             string     `json:"authSubject,omitempty"`
	EmailCodeHash           string     `json:"emailCodeHash,omitempty"`
	OAuthStateToken         string     `json:"oauthStateToken,omitempty"`
	VerificationAttempts    int        `json:"verificationAttempts"`
	MaxVerificationAttempts int        `json:"maxVerificationAttempts"`
	LinkedUserID            string     `json:"linkedUserId,omitempty"`
}

// Auth session methods and statuses.
const (
	AuthMethodEmail = "email"
	AuthMethodOAuth = "oauth"

	SessionPending  = "pending"
	SessionVerified = "verified"
	SessionExpired  = "expired"
	SessionLocked   = "locked"
)

// RecoveryToken lets a beneficiary regain a verified session after the
// original one is gone. Only the keyed hash of the token is stored. A set
// ConsumedAt means the token is permanently dead regardless of expiry.
type RecoveryToken struct {
	ID               string     `json:"id"`
	TokenHash        string     `json:"tokenHash"`
	SessionID        string     `json:"sessionId"`
	BeneficiaryEmail string     `json:"beneficiaryEmail"`
	CreatedAt        time.Time  `json:"createdAt"`
	ExpiresAt        time.Time  `json:"expiresAt"`
	ConsumedAt       *time.Time `json:"consumedAt,omitempty"`
}
