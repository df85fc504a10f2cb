package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"RewardPool/internal/model"
)

// FormatEvent formats a committed ledger event into a Telegram message.
func FormatEvent(evt model.Event) string {
	var b strings.Builder
	switch evt.Kind {
	case model.EventDeposit:
		b.WriteString("📥 <b>Deposit</b>\n\n")
		b.WriteString(fmt.Sprintf("Participant: %s\n", html.EscapeString(evt.Participant)))
		b.WriteString(fmt.Sprintf("Amount: %d\n", evt.Amount))
		b.WriteString(fmt.Sprintf("Period: #%d\n", evt.Period))
	case model.EventRewardDeposited:
		b.WriteString(fmt.Sprintf("🎁 <b>Reward for period #%d</b>\n\n", evt.Period))
		b.WriteString(fmt.Sprintf("Depositor: %s\n", html.EscapeString(evt.Participant)))
		b.WriteString(fmt.Sprintf("Amount: %d\n", evt.Amount))
		if len(evt.Shares) == 0 {
			b.WriteString("No contributors, reward retained in the pool\n")
		} else {
			b.WriteString(fmt.Sprintf("Shares (%d):\n", len(evt.Shares)))
			for _, s := range evt.Shares {
				b.WriteString(fmt.Sprintf("  %s: %d (contributed %d)\n",
					html.EscapeString(s.Participant), s.Amount, s.Contribution))
			}
		}
		if evt.Remainder > 0 {
			b.WriteString(fmt.Sprintf("Undistributed: %d\n", evt.Remainder))
		}
	case model.EventWithdraw:
		b.WriteString("📤 <b>Withdraw</b>\n\n")
		b.WriteString(fmt.Sprintf("Participant: %s\n", html.EscapeString(evt.Participant)))
		b.WriteString(fmt.Sprintf("Amount: %d\n", evt.Amount))
	default:
		b.WriteString(fmt.Sprintf("%s %d\n", evt.Kind, evt.Amount))
	}
	b.WriteString(fmt.Sprintf("Time: %s", evt.At.Format("2006-01-02 15:04:05")))
	return b.String()
}

// PoolStatus is a point-in-time view of the pool used by the status message.
type PoolStatus struct {
	CurrentPeriod uint64
	Contributed   uint64
	Contributors  int
	LastRewardAt  time.Time
	NextRewardAt  time.Time
	Outstanding   uint64
	Totals        model.Totals
}

// FormatPoolStatus formats the pool summary for display.
func FormatPoolStatus(s PoolStatus) string {
	var b strings.Builder
	b.WriteString("📦 <b>Pool status</b>\n\n")
	b.WriteString(fmt.Sprintf("Open period: #%d (%d contributors, %d contributed)\n",
		s.CurrentPeriod, s.Contributors, s.Contributed))
	if s.LastRewardAt.IsZero() {
		b.WriteString("Last reward: never\n")
	} else {
		b.WriteString(fmt.Sprintf("Last reward: %s\n", s.LastRewardAt.Format("2006-01-02 15:04")))
		b.WriteString(fmt.Sprintf("Next reward eligible: %s\n", s.NextRewardAt.Format("2006-01-02 15:04")))
	}
	b.WriteString(fmt.Sprintf("\nDeposited: %d\n", s.Totals.Deposited))
	b.WriteString(fmt.Sprintf("Rewarded: %d\n", s.Totals.Rewarded))
	b.WriteString(fmt.Sprintf("Distributed: %d\n", s.Totals.Distributed))
	b.WriteString(fmt.Sprintf("Undistributed: %d\n", s.Totals.Undistributed))
	b.WriteString(fmt.Sprintf("Withdrawn: %d\n", s.Totals.Withdrawn))
	b.WriteString(fmt.Sprintf("Outstanding balances: %d", s.Outstanding))
	return b.String()
}

// FormatPeriod formats one accounting period.
func FormatPeriod(p model.Period) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🗓 <b>Period #%d</b>", p.ID))
	if p.Closed() {
		b.WriteString(" (closed)")
	}
	b.WriteString("\n\n")
	b.WriteString(fmt.Sprintf("Opened: %s\n", p.OpenedAt.Format("2006-01-02 15:04")))
	b.WriteString(fmt.Sprintf("Total contributed: %d\n", p.TotalContributed))
	for _, c := range p.Contributors {
		b.WriteString(fmt.Sprintf("  %s: %d\n", html.EscapeString(c), p.Contributions[c]))
	}
	if p.Reward != nil {
		b.WriteString(fmt.Sprintf("Reward: %d (distributed %d, remainder %d)\n",
			p.Reward.Amount, p.Reward.Distributed, p.Reward.Remainder))
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatBalance formats a participant's withdrawable balance.
func FormatBalance(participant string, balance uint64) string {
	return fmt.Sprintf("💰 %s can withdraw <b>%d</b>", html.EscapeString(participant), balance)
}
