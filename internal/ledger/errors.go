// Package ledger talks to the ecological-credit chain: marketplace and
// credit-class reads over the node's REST endpoint, retirement lookups over
// the GraphQL indexer, and signed buy-direct broadcasts. It owns the single
// wallet handle; all sequence-sensitive operations are serialized here.
package ledger

import "errors"

// ErrUnavailable marks network failures and 5xx responses. Callers may
// retry with backoff.
var ErrUnavailable = errors.New("ledger unavailable")

// ErrRejected marks 4xx responses. The request itself is wrong and retrying
// will not help.
var ErrRejected = errors.New("ledger rejected request")

// ErrNoWallet is returned by signing operations when the client was built
// without a mnemonic.
var ErrNoWallet = errors.New("no wallet configured")
