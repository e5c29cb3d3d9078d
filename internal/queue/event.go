// Package queue defines message payloads exchanged over the message broker
// and the publisher/consumer around them.
package queue

// RetirementConfirmedEvent is published after a retirement is committed on
// chain. It contains enough information for downstream consumers to notify
// or render without querying the orchestrator.
type RetirementConfirmedEvent struct {
	TxHash         string `json:"tx_hash"`
	CreditsRetired string `json:"credits_retired"`
	Reason         string `json:"reason"`
	ConfirmedAt    string `json:"confirmed_at"`
}

// ContributionRecordedEvent is published for every new pool contribution.
// Duplicate-suppressed replays do not emit events.
type ContributionRecordedEvent struct {
	ContributionID string `json:"contribution_id"`
	UserID         string `json:"user_id"`
	AmountUsdCents int64  `json:"amount_usd_cents"`
	Month          string `json:"month"`
	Source         string `json:"source"`
	RecordedAt     string `json:"recorded_at"`
}

// Queue names.
const (
	RetirementConfirmedQueue  = "retirement.confirmed"
	ContributionRecordedQueue = "contribution.recorded"
)
