// Package prepaid is the MySQL-backed prepaid-balance store: users keyed by
// API key and email, and the transaction trail of topups and retirement
// debits. Balances only ever move inside a database transaction, and a
// debit succeeds only when the pre-image balance covers it.
package prepaid

import "errors"

// ErrNotFound is returned when no user matches the lookup. Handlers
// translate it into a 401 for API-key lookups and a 404 elsewhere.
var ErrNotFound = errors.New("prepaid: not found")

// ErrEmailExists is returned when a user with the same email already
// exists.
var ErrEmailExists = errors.New("prepaid: email already exists")

// ErrInsufficientBalance is returned when a debit would take a balance
// below zero. The balance is left untouched.
var ErrInsufficientBalance = errors.New("prepaid: insufficient balance")
