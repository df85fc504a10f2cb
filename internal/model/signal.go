package model

import "time"

// EventKind identifies a ledger event.
type EventKind string

const (
	EventDeposit         EventKind = "DEPOSIT"
	EventRewardDeposited EventKind = "REWARD_DEPOSITED"
	EventWithdraw        EventKind = "WITHDRAW"
)

// Share is one contributor's credit from a reward distribution.
type Share struct {
	Participant  string `json:"participant"`
	Contribution uint64 `json:"contribution"`
	Amount       uint64 `json:"amount"`
}

// Event is emitted after every committed ledger mutation.
// Seq is the commit sequence number, starting at 1. Period is zero for
// withdrawals.
type Event struct {
	ID          string    `json:"id"`
	Seq         uint64    `json:"seq"`
	Kind        EventKind `json:"kind"`
	Participant string    `json:"participant"`
	Period      uint64    `json:"period,omitempty"`
	Amount      uint64    `json:"amount"`
	Shares      []Share   `json:"shares,omitempty"`
	Remainder   uint64    `json:"remainder,omitempty"`
	At          time.Time `json:"at"`
}
