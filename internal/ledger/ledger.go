package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"RewardPool/internal/model"
)

// DefaultRewardInterval is the minimum time between two reward injections.
const DefaultRewardInterval = 7 * 24 * time.Hour

// Authorizer answers capability checks. Role storage lives outside the ledger.
type Authorizer interface {
	HasCapability(principal string, c model.Capability) bool
}

// Custodian moves value in and out of the pool. Receive is called while the
// ledger is locked and must not call back into it. Release is called after the
// balance has been zeroed and the lock released.
type Custodian interface {
	Receive(ctx context.Context, from string, amount uint64) error
	Release(ctx context.Context, to string, amount uint64) error
}

// EventSink receives every committed ledger event. Each event carries the
// commit sequence number assigned when its mutation was applied. A withdrawal
// is delivered only after its value is released, so delivery order can trail
// commit order; consumers that need the ledger order sort by Event.Seq.
type EventSink interface {
	Emit(ctx context.Context, evt model.Event)
}

// Config wires the ledger to its collaborators. Only Authorizer is required.
type Config struct {
	Authorizer     Authorizer
	Custodian      Custodian
	Store          Store
	Sink           EventSink
	Clock          clockwork.Clock
	RewardInterval time.Duration
	Logger         *slog.Logger
}

// Validate checks the required collaborators and limits.
func (cfg *Config) Validate() error {
	if cfg.Authorizer == nil {
		return errors.New("authorizer is required")
	}
	if cfg.RewardInterval < 0 {
		return errors.New("reward interval must not be negative")
	}
	return nil
}

// Ledger is the pooled-deposit reward ledger. All mutations are serialized by
// a single lock.
type Ledger struct {
	mu    sync.Mutex
	state *model.LedgerState

	auth     Authorizer
	custody  Custodian
	store    Store
	sink     EventSink
	clock    clockwork.Clock
	interval time.Duration
	log      *slog.Logger
}

// New creates a Ledger, loading state from the store if one is configured.
func New(cfg Config) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.RewardInterval == 0 {
		cfg.RewardInterval = DefaultRewardInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	l := &Ledger{
		auth:     cfg.Authorizer,
		custody:  cfg.Custodian,
		store:    cfg.Store,
		sink:     cfg.Sink,
		clock:    cfg.Clock,
		interval: cfg.RewardInterval,
		log:      cfg.Logger,
	}

	var state *model.LedgerState
	if l.store != nil {
		s, err := l.store.Load()
		if err != nil {
			return nil, fmt.Errorf("load ledger state: %w", err)
		}
		state = s
	}
	if state == nil || state.CurrentPeriod == 0 {
		state = model.NewLedgerState(l.clock.Now())
	}
	if state.Periods == nil {
		state.Periods = make(map[uint64]*model.Period)
	}
	if state.Balances == nil {
		state.Balances = make(map[string]uint64)
	}
	for _, p := range state.Periods {
		if p.Contributions == nil {
			p.Contributions = make(map[string]uint64)
		}
	}
	if _, ok := state.Periods[state.CurrentPeriod]; !ok {
		state.Periods[state.CurrentPeriod] = model.NewPeriod(state.CurrentPeriod, l.clock.Now())
	}
	l.state = state

	if err := l.save(); err != nil {
		return nil, fmt.Errorf("save ledger state: %w", err)
	}
	return l, nil
}

// Deposit records amount as participant's contribution to the current period
// and credits it to their withdrawable balance.
func (l *Ledger) Deposit(ctx context.Context, participant string, amount uint64) (model.Event, error) {
	if participant == "" {
		return model.Event{}, ErrInvalidParticipant
	}
	if amount == 0 {
		return model.Event{}, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	period := l.state.Periods[l.state.CurrentPeriod]

	var ot overflowTracker
	contribution := ot.add(period.Contributions[participant], amount)
	total := ot.add(period.TotalContributed, amount)
	balance := ot.add(l.state.Balances[participant], amount)
	deposited := ot.add(l.state.Totals.Deposited, amount)
	seq := ot.add(l.state.EventSeq, 1)
	if ot.overflowed {
		return model.Event{}, l.integrityError("deposit", participant, amount)
	}

	if l.custody != nil {
		if err := l.custody.Receive(ctx, participant, amount); err != nil {
			return model.Event{}, fmt.Errorf("receive deposit: %w", err)
		}
	}

	if _, ok := period.Contributions[participant]; !ok {
		period.Contributors = append(period.Contributors, participant)
	}
	period.Contributions[participant] = contribution
	period.TotalContributed = total
	l.state.Balances[participant] = balance
	l.state.Totals.Deposited = deposited
	l.state.EventSeq = seq

	l.persist()

	evt := l.newEvent(seq, model.EventDeposit, participant, amount)
	evt.Period = period.ID
	l.log.Info("deposit recorded", "participant", participant, "period", period.ID, "amount", amount)
	l.emit(ctx, evt)
	return evt, nil
}

// DepositReward distributes amount pro rata over the current period's
// contributors and closes the period. The caller must hold REWARD_DEPOSITOR
// and at least the reward interval must have passed since the previous reward.
func (l *Ledger) DepositReward(ctx context.Context, depositor string, amount uint64) (model.Event, error) {
	if !l.auth.HasCapability(depositor, model.CapRewardDepositor) {
		return model.Event{}, ErrUnauthorized
	}
	if amount == 0 {
		return model.Event{}, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if last := l.state.LastRewardAt; !last.IsZero() && now.Sub(last) < l.interval {
		return model.Event{}, &RateLimitError{LastRewardAt: last, NextEligible: last.Add(l.interval)}
	}

	period := l.state.Periods[l.state.CurrentPeriod]

	var ot overflowTracker
	d := splitReward(&ot, amount, period)
	balances := make([]uint64, len(d.shares))
	for i, s := range d.shares {
		balances[i] = ot.add(l.state.Balances[s.Participant], s.Amount)
	}
	totals := l.state.Totals
	totals.Rewarded = ot.add(totals.Rewarded, amount)
	totals.Distributed = ot.add(totals.Distributed, d.distributed)
	totals.Undistributed = ot.add(totals.Undistributed, d.remainder)
	next := ot.add(period.ID, 1)
	seq := ot.add(l.state.EventSeq, 1)
	if ot.overflowed {
		return model.Event{}, l.integrityError("reward", depositor, amount)
	}

	if l.custody != nil {
		if err := l.custody.Receive(ctx, depositor, amount); err != nil {
			return model.Event{}, fmt.Errorf("receive reward: %w", err)
		}
	}

	for i, s := range d.shares {
		l.state.Balances[s.Participant] = balances[i]
	}
	period.Reward = &model.RewardRecord{
		Amount:       amount,
		Depositor:    depositor,
		At:           now,
		Distributed:  d.distributed,
		Remainder:    d.remainder,
		Contributors: len(d.shares),
	}
	l.state.Totals = totals
	l.state.CurrentPeriod = next
	l.state.Periods[next] = model.NewPeriod(next, now)
	l.state.LastRewardAt = now
	l.state.EventSeq = seq

	l.persist()

	evt := l.newEvent(seq, model.EventRewardDeposited, depositor, amount)
	evt.Period = period.ID
	evt.Shares = d.shares
	evt.Remainder = d.remainder
	if len(d.shares) == 0 {
		l.log.Warn("reward deposited into empty period, retained in pool", "depositor", depositor, "period", period.ID, "amount", amount)
	} else {
		l.log.Info("reward distributed", "depositor", depositor, "period", period.ID, "amount", amount,
			"contributors", len(d.shares), "remainder", d.remainder)
	}
	l.emit(ctx, evt)
	return evt, nil
}

// Withdraw pays out participant's entire balance. The balance is zeroed and
// the event sequenced before value is released, so a re-entrant call observes
// zero and fails. If the release fails the balance is restored and the
// sequence number is left unused.
func (l *Ledger) Withdraw(ctx context.Context, participant string) (model.Event, error) {
	l.mu.Lock()
	amount := l.state.Balances[participant]
	if amount == 0 {
		l.mu.Unlock()
		return model.Event{}, ErrNothingToWithdraw
	}
	var ot overflowTracker
	withdrawn := ot.add(l.state.Totals.Withdrawn, amount)
	seq := ot.add(l.state.EventSeq, 1)
	if ot.overflowed {
		l.mu.Unlock()
		return model.Event{}, l.integrityError("withdraw", participant, amount)
	}
	l.state.Balances[participant] = 0
	l.state.Totals.Withdrawn = withdrawn
	l.state.EventSeq = seq
	l.persist()
	evt := l.newEvent(seq, model.EventWithdraw, participant, amount)
	l.mu.Unlock()

	if l.custody != nil {
		if err := l.custody.Release(ctx, participant, amount); err != nil {
			l.restore(participant, amount)
			return model.Event{}, fmt.Errorf("release withdrawal: %w", err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.log.Info("withdrawal paid", "participant", participant, "amount", amount)
	l.emit(ctx, evt)
	return evt, nil
}

func (l *Ledger) restore(participant string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ot overflowTracker
	balance := ot.add(l.state.Balances[participant], amount)
	withdrawn := ot.sub(l.state.Totals.Withdrawn, amount)
	if ot.overflowed {
		l.log.Error("cannot restore balance after failed release", "participant", participant, "amount", amount)
		return
	}
	l.state.Balances[participant] = balance
	l.state.Totals.Withdrawn = withdrawn
	l.persist()
	l.log.Warn("withdrawal reverted", "participant", participant, "amount", amount)
}

// CurrentPeriod returns the id of the open period.
func (l *Ledger) CurrentPeriod() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.CurrentPeriod
}

// ContributionOf returns what participant deposited during period.
func (l *Ledger) ContributionOf(period uint64, participant string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.state.Periods[period]
	if !ok {
		return 0, ErrUnknownPeriod
	}
	return p.Contributions[participant], nil
}

// TotalContributed returns the sum of all deposits made during period.
func (l *Ledger) TotalContributed(period uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.state.Periods[period]
	if !ok {
		return 0, ErrUnknownPeriod
	}
	return p.TotalContributed, nil
}

// RewardOf returns the reward that closed period. ok is false while the
// period is still open.
func (l *Ledger) RewardOf(period uint64) (amount uint64, ok bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, found := l.state.Periods[period]
	if !found {
		return 0, false, ErrUnknownPeriod
	}
	if p.Reward == nil {
		return 0, false, nil
	}
	return p.Reward.Amount, true, nil
}

// Period returns a copy of the period record.
func (l *Ledger) Period(id uint64) (model.Period, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.state.Periods[id]
	if !ok {
		return model.Period{}, ErrUnknownPeriod
	}
	return p.Clone(), nil
}

// WithdrawableBalance returns what participant can withdraw right now.
func (l *Ledger) WithdrawableBalance(participant string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Balances[participant]
}

// LastRewardTimestamp is zero until the first reward.
func (l *Ledger) LastRewardTimestamp() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.LastRewardAt
}

// NextRewardAt returns the earliest time the next reward is accepted.
func (l *Ledger) NextRewardAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.LastRewardAt.IsZero() {
		return time.Time{}
	}
	return l.state.LastRewardAt.Add(l.interval)
}

// RewardInterval returns the configured minimum time between rewards.
func (l *Ledger) RewardInterval() time.Duration { return l.interval }

// Totals returns the running value sums.
func (l *Ledger) Totals() model.Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Totals
}

// Outstanding returns the sum of all withdrawable balances.
func (l *Ledger) Outstanding() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.outstanding()
}

func (l *Ledger) outstanding() (uint64, error) {
	var ot overflowTracker
	var sum uint64
	for _, b := range l.state.Balances {
		sum = ot.add(sum, b)
	}
	if ot.overflowed {
		return 0, ErrIntegrity
	}
	return sum, nil
}

// CheckConservation verifies that balances plus withdrawals equal deposits
// plus distributed rewards, and that every reward is either distributed or
// retained.
func (l *Ledger) CheckConservation() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := l.state.Totals
	outstanding, err := l.outstanding()
	if err != nil {
		return err
	}

	var ot overflowTracker
	held := ot.add(outstanding, t.Withdrawn)
	credited := ot.add(t.Deposited, t.Distributed)
	rewards := ot.add(t.Distributed, t.Undistributed)
	if ot.overflowed {
		return ErrIntegrity
	}
	if held != credited {
		return fmt.Errorf("%w: balances %d + withdrawn %d != deposited %d + distributed %d",
			ErrIntegrity, outstanding, t.Withdrawn, t.Deposited, t.Distributed)
	}
	if rewards != t.Rewarded {
		return fmt.Errorf("%w: distributed %d + undistributed %d != rewarded %d",
			ErrIntegrity, t.Distributed, t.Undistributed, t.Rewarded)
	}
	return nil
}

func (l *Ledger) newEvent(seq uint64, kind model.EventKind, participant string, amount uint64) model.Event {
	return model.Event{
		ID:          uuid.NewString(),
		Seq:         seq,
		Kind:        kind,
		Participant: participant,
		Amount:      amount,
		At:          l.clock.Now(),
	}
}

// emit detaches from the caller's cancellation: the mutation is already
// committed, so its event must reach every sink.
func (l *Ledger) emit(ctx context.Context, evt model.Event) {
	if l.sink != nil {
		l.sink.Emit(context.WithoutCancel(ctx), evt)
	}
}

func (l *Ledger) integrityError(op, participant string, amount uint64) error {
	l.log.Error("arithmetic overflow, operation rejected", "op", op, "participant", participant, "amount", amount)
	return fmt.Errorf("%s: %w", op, ErrIntegrity)
}

// persist saves state after a committed mutation. The mutation stands even if
// the write fails; the next successful save catches up.
func (l *Ledger) persist() {
	if err := l.save(); err != nil {
		l.log.Error("failed to save ledger state", "error", err)
	}
}

func (l *Ledger) save() error {
	if l.store == nil {
		return nil
	}
	l.state.UpdatedAt = l.clock.Now()
	return l.store.Save(l.state)
}
