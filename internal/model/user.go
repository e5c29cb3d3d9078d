package model

import "time"

// User represents a prepaid-balance account as stored in the `users` table.
// Each field corresponds to a column. The raw API key is returned to the
// caller exactly once at creation; only a bcrypt hash plus a short lookup
// prefix are stored.
//
// Fields:
//  ID               – primary key identifier of the user.
//  Email            – unique email address, lowercased.
//  APIKeyPrefix     – first characters of the API key, used for lookup.
//  APIKeyHash       – bcrypt hash of the full API key.
//  BalanceCents     – prepaid balance in integer USD cents.
//  StripeCustomerID – gateway customer id, if the user came from a checkout.
//  CreatedAt        – timestamp of creation.
//  UpdatedAt        – timestamp of last update.
type User struct {
	ID               uint64    // users.id
	Email            string    // users.email
	APIKeyPrefix     string    // users.api_key_prefix
	APIKeyHash       string    // users.api_key_hash
	BalanceCents     int64     // users.balance_cents
	StripeCustomerID string    // users.stripe_customer_id
	CreatedAt        time.Time // users.created_at
	UpdatedAt        time.Time // users.updated_at
}

// Transaction is one prepaid-balance movement in the `transactions` table.
// Type is "topup" for checkout credits and "retirement" for debits; debits
// carry the on-chain context that consumed the balance.
//
// Fields:
//  ID               – primary key identifier.
//  UserID           – owner of the balance.
//  Type             – "topup" or "retirement".
//  AmountCents      – signed amount in cents (positive for topups).
//  Description      – human-readable line for statements.
//  StripeSessionID  – checkout session id for topups (nullable).
//  RetirementTxHash – ledger transaction hash for debits (nullable).
//  CreditClass      – credit class retired, for debits (nullable).
//  CreditsRetired   – decimal credit quantity retired (nullable).
//  CreatedAt        – timestamp of creation.
type Transaction struct {
	ID               uint64    // transactions.id
	UserID           uint64    // transactions.user_id
	Type             string    // transactions.type
	AmountCents      int64     // transactions.amount_cents
	Description      string    // transactions.description
	StripeSessionID  *string   // transactions.stripe_session_id (nullable)
	RetirementTxHash *string   // transactions.retirement_tx_hash (nullable)
	CreditClass      *string   // transactions.credit_class (nullable)
	CreditsRetired   *string   // transactions.credits_retired (nullable)
	CreatedAt        time.Time // transactions.created_at
}

// Transaction types.
const (
	TxnTopup      = "topup"
	TxnRetirement = "retirement"
)
