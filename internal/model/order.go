package model

import "math/big"

// Read models fetched from the ledger and its indexer. None of these are
// owned or persisted by this process.

// SellOrder is one open marketplace order. AskAmount is the price per whole
// credit in micro-units of AskDenom and is kept as a big integer because
// prices on the ledger are unbounded.
type SellOrder struct {
	ID                uint64
	BatchDenom        string
	Quantity          string   // decimal credit quantity, up to 6 fractional digits
	AskAmount         *big.Int // micro-units of AskDenom per credit
	AskDenom          string
	DisableAutoRetire bool
	Expiration        string // RFC 3339, empty when the order never expires
}

// AllowedDenom is a bank denom the marketplace accepts as payment.
type AllowedDenom struct {
	BankDenom    string
	DisplayDenom string
	Exponent     uint32
}

// CreditClass is a class of ecological credits ("C01", "BT01", ...).
// CreditTypeAbbrev is "C" for carbon classes.
type CreditClass struct {
	ID               string
	Admin            string
	CreditTypeAbbrev string
}

// Project groups credit batches under a class and jurisdiction.
type Project struct {
	ID           string
	ClassID      string
	Jurisdiction string
	Metadata     string
}

// Retirement is an immutable retirement record read back from the indexer.
type Retirement struct {
	NodeID       string
	Amount       string
	BatchDenom   string
	Owner        string
	Jurisdiction string
	Reason       string
	Timestamp    string
	TxHash       string
	BlockHeight  int64
}
