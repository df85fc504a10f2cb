package ledger

import "RewardPool/internal/model"

// distribution is the planned outcome of splitting a reward over a period.
type distribution struct {
	shares      []model.Share
	distributed uint64
	remainder   uint64
}

// splitReward credits each contributor floor(reward*contribution/total), in
// registration order. The remainder stays in the pool. A period without
// contributors distributes nothing.
func splitReward(ot *overflowTracker, reward uint64, p *model.Period) distribution {
	if len(p.Contributors) == 0 || p.TotalContributed == 0 {
		return distribution{remainder: reward}
	}

	d := distribution{shares: make([]model.Share, 0, len(p.Contributors))}
	for _, c := range p.Contributors {
		contribution := p.Contributions[c]
		amount := ot.mulDiv(reward, contribution, p.TotalContributed)
		d.shares = append(d.shares, model.Share{
			Participant:  c,
			Contribution: contribution,
			Amount:       amount,
		})
		d.distributed = ot.add(d.distributed, amount)
	}
	d.remainder = ot.sub(reward, d.distributed)
	return d
}
