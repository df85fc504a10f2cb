package model

import "time"

// LedgerState is the persisted state of the pool ledger.
type LedgerState struct {
	CurrentPeriod uint64             `json:"current_period"`
	LastRewardAt  time.Time          `json:"last_reward_at"`
	Periods       map[uint64]*Period `json:"periods"`
	Balances      map[string]uint64  `json:"balances"`
	Totals        Totals             `json:"totals"`
	EventSeq      uint64             `json:"event_seq"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// NewLedgerState returns an empty ledger with period 1 open.
func NewLedgerState(now time.Time) *LedgerState {
	return &LedgerState{
		CurrentPeriod: 1,
		Periods:       map[uint64]*Period{1: NewPeriod(1, now)},
		Balances:      make(map[string]uint64),
	}
}

// Totals are running sums used to audit value conservation.
type Totals struct {
	Deposited     uint64 `json:"deposited"`
	Rewarded      uint64 `json:"rewarded"`
	Distributed   uint64 `json:"distributed"`
	Withdrawn     uint64 `json:"withdrawn"`
	Undistributed uint64 `json:"undistributed"`
}

// Period is one accounting window between two reward injections.
type Period struct {
	ID               uint64            `json:"id"`
	OpenedAt         time.Time         `json:"opened_at"`
	Contributors     []string          `json:"contributors"`
	Contributions    map[string]uint64 `json:"contributions"`
	TotalContributed uint64            `json:"total_contributed"`
	Reward           *RewardRecord     `json:"reward,omitempty"`
}

func NewPeriod(id uint64, openedAt time.Time) *Period {
	return &Period{
		ID:            id,
		OpenedAt:      openedAt,
		Contributors:  []string{},
		Contributions: make(map[string]uint64),
	}
}

// Closed reports whether a reward has been recorded for the period.
func (p *Period) Closed() bool { return p.Reward != nil }

// Clone returns a deep copy safe to hand out to readers.
func (p *Period) Clone() Period {
	c := *p
	c.Contributors = append([]string(nil), p.Contributors...)
	c.Contributions = make(map[string]uint64, len(p.Contributions))
	for k, v := range p.Contributions {
		c.Contributions[k] = v
	}
	if p.Reward != nil {
		r := *p.Reward
		c.Reward = &r
	}
	return c
}

// RewardRecord is the reward that closed a period.
type RewardRecord struct {
	Amount       uint64    `json:"amount"`
	Depositor    string    `json:"depositor"`
	At           time.Time `json:"at"`
	Distributed  uint64    `json:"distributed"`
	Remainder    uint64    `json:"remainder"`
	Contributors int       `json:"contributors"`
}
