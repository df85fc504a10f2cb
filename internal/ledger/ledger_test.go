package ledger

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RewardPool/internal/model"
)

const team = "team"

type staticAuth map[string]bool

func (a staticAuth) HasCapability(principal string, c model.Capability) bool {
	return c == model.CapRewardDepositor && a[principal]
}

type recordingSink struct {
	mu     sync.Mutex
	events []model.Event
}

func (s *recordingSink) Emit(_ context.Context, evt model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *recordingSink) kinds() []model.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.EventKind, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Kind)
	}
	return out
}

type fixture struct {
	ledger *Ledger
	clock  *clockwork.FakeClock
	sink   *recordingSink
}

func newFixture(t *testing.T, opts ...func(*Config)) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	sink := &recordingSink{}
	cfg := Config{
		Authorizer: staticAuth{team: true},
		Sink:       sink,
		Clock:      clock,
	}
	for _, o := range opts {
		o(&cfg)
	}
	l, err := New(cfg)
	require.NoError(t, err)
	return &fixture{ledger: l, clock: clock, sink: sink}
}

func (f *fixture) deposit(t *testing.T, who string, amount uint64) {
	t.Helper()
	_, err := f.ledger.Deposit(context.Background(), who, amount)
	require.NoError(t, err)
}

func (f *fixture) reward(t *testing.T, amount uint64) model.Event {
	t.Helper()
	evt, err := f.ledger.DepositReward(context.Background(), team, amount)
	require.NoError(t, err)
	f.clock.Advance(DefaultRewardInterval)
	return evt
}

func (f *fixture) withdraw(t *testing.T, who string) uint64 {
	t.Helper()
	evt, err := f.ledger.Withdraw(context.Background(), who)
	require.NoError(t, err)
	return evt.Amount
}

func TestLedger_SinglePeriodSplit(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "A", 100)
	f.deposit(t, "B", 300)

	total, err := f.ledger.TotalContributed(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), total)

	evt := f.reward(t, 200)
	assert.Equal(t, uint64(1), evt.Period)
	assert.Equal(t, []model.Share{
		{Participant: "A", Contribution: 100, Amount: 50},
		{Participant: "B", Contribution: 300, Amount: 150},
	}, evt.Shares)

	assert.Equal(t, uint64(150), f.ledger.WithdrawableBalance("A"))
	assert.Equal(t, uint64(450), f.ledger.WithdrawableBalance("B"))

	assert.Equal(t, uint64(150), f.withdraw(t, "A"))
	assert.Equal(t, uint64(450), f.withdraw(t, "B"))
	assert.Zero(t, f.ledger.WithdrawableBalance("A"))
	assert.Zero(t, f.ledger.WithdrawableBalance("B"))

	_, err = f.ledger.Withdraw(context.Background(), "A")
	require.ErrorIs(t, err, ErrNothingToWithdraw)
	_, err = f.ledger.Withdraw(context.Background(), "B")
	require.ErrorIs(t, err, ErrNothingToWithdraw)

	require.NoError(t, f.ledger.CheckConservation())
	assert.Equal(t, []model.EventKind{
		model.EventDeposit, model.EventDeposit, model.EventRewardDeposited,
		model.EventWithdraw, model.EventWithdraw,
	}, f.sink.kinds())
}

func TestLedger_RewardsOnlyReachContributorsOfThatPeriod(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "A", 100)
	f.reward(t, 200)
	assert.Equal(t, uint64(300), f.ledger.WithdrawableBalance("A"))
	assert.Equal(t, uint64(2), f.ledger.CurrentPeriod())

	f.deposit(t, "A", 100)
	f.deposit(t, "B", 300)
	f.reward(t, 200)

	assert.Equal(t, uint64(450), f.ledger.WithdrawableBalance("A"))
	assert.Equal(t, uint64(450), f.ledger.WithdrawableBalance("B"))

	c, err := f.ledger.ContributionOf(1, "A")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), c)
	c, err = f.ledger.ContributionOf(1, "B")
	require.NoError(t, err)
	assert.Zero(t, c)

	r, ok, err := f.ledger.RewardOf(2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(200), r)

	_, ok, err = f.ledger.RewardOf(3)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.ledger.CheckConservation())
}

func TestLedger_EmptyPeriodRewardIsRetained(t *testing.T) {
	f := newFixture(t)

	evt := f.reward(t, 500)
	assert.Empty(t, evt.Shares)
	assert.Equal(t, uint64(500), evt.Remainder)
	assert.Equal(t, uint64(2), f.ledger.CurrentPeriod())

	p, err := f.ledger.Period(1)
	require.NoError(t, err)
	require.NotNil(t, p.Reward)
	assert.Equal(t, uint64(500), p.Reward.Amount)
	assert.Zero(t, p.Reward.Distributed)

	totals := f.ledger.Totals()
	assert.Equal(t, uint64(500), totals.Rewarded)
	assert.Equal(t, uint64(500), totals.Undistributed)

	out, err := f.ledger.Outstanding()
	require.NoError(t, err)
	assert.Zero(t, out)
	require.NoError(t, f.ledger.CheckConservation())
}

func TestLedger_RewardGateBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.DepositReward(ctx, team, 10)
	require.NoError(t, err)
	last := f.ledger.LastRewardTimestamp()
	assert.Equal(t, f.clock.Now(), last)

	f.clock.Advance(DefaultRewardInterval - time.Second)
	_, err = f.ledger.DepositReward(ctx, team, 10)
	require.ErrorIs(t, err, ErrRateLimited)
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, last.Add(DefaultRewardInterval), rl.NextEligible)
	assert.Equal(t, uint64(2), f.ledger.CurrentPeriod())

	f.clock.Advance(time.Second)
	_, err = f.ledger.DepositReward(ctx, team, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), f.ledger.CurrentPeriod())
}

func TestLedger_GateIgnoresIntermediateDeposits(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.RewardInterval = time.Hour })
	ctx := context.Background()

	_, err := f.ledger.DepositReward(ctx, team, 10)
	require.NoError(t, err)
	f.clock.Advance(30 * time.Minute)
	f.deposit(t, "A", 5)
	f.clock.Advance(29 * time.Minute)

	_, err = f.ledger.DepositReward(ctx, team, 10)
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, uint64(5), f.ledger.WithdrawableBalance("A"))
}

func TestLedger_PeriodMonotonicity(t *testing.T) {
	f := newFixture(t)
	prev := f.ledger.CurrentPeriod()
	assert.Equal(t, uint64(1), prev)
	for i := 0; i < 5; i++ {
		f.deposit(t, "A", 10)
		assert.Equal(t, prev, f.ledger.CurrentPeriod())
		f.reward(t, 7)
		assert.Equal(t, prev+1, f.ledger.CurrentPeriod())
		prev++
	}
}

func TestLedger_ContributionsAccumulateWithinPeriod(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "A", 10)
	f.deposit(t, "B", 20)
	f.deposit(t, "A", 15)

	p, err := f.ledger.Period(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, p.Contributors)
	assert.Equal(t, uint64(25), p.Contributions["A"])
	assert.Equal(t, uint64(45), p.TotalContributed)
}

func TestLedger_PreconditionFailuresLeaveStateUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "A", 100)
	before := f.ledger.Totals()

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"zero deposit", func() error { _, err := f.ledger.Deposit(ctx, "A", 0); return err }, ErrInvalidAmount},
		{"anonymous deposit", func() error { _, err := f.ledger.Deposit(ctx, "", 5); return err }, ErrInvalidParticipant},
		{"zero reward", func() error { _, err := f.ledger.DepositReward(ctx, team, 0); return err }, ErrInvalidAmount},
		{"reward without capability", func() error { _, err := f.ledger.DepositReward(ctx, "A", 50); return err }, ErrUnauthorized},
		{"withdraw empty", func() error { _, err := f.ledger.Withdraw(ctx, "nobody"); return err }, ErrNothingToWithdraw},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.call(), tt.want)
			assert.Equal(t, before, f.ledger.Totals())
			assert.Equal(t, uint64(1), f.ledger.CurrentPeriod())
			assert.Equal(t, uint64(100), f.ledger.WithdrawableBalance("A"))
		})
	}
}

func TestLedger_UnknownPeriod(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.ContributionOf(9, "A")
	require.ErrorIs(t, err, ErrUnknownPeriod)
	_, err = f.ledger.TotalContributed(9)
	require.ErrorIs(t, err, ErrUnknownPeriod)
	_, _, err = f.ledger.RewardOf(9)
	require.ErrorIs(t, err, ErrUnknownPeriod)
}

func TestLedger_OverflowIsRejected(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "A", math.MaxUint64-1)

	_, err := f.ledger.Deposit(context.Background(), "A", 2)
	require.ErrorIs(t, err, ErrIntegrity)
	assert.Equal(t, uint64(math.MaxUint64-1), f.ledger.WithdrawableBalance("A"))

	total, err := f.ledger.TotalContributed(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64-1), total)
}

func TestSplitReward(t *testing.T) {
	tests := []struct {
		name          string
		reward        uint64
		contributions []uint64
		want          []uint64
	}{
		{"even", 200, []uint64{100, 300}, []uint64{50, 150}},
		{"sole contributor", 200, []uint64{100}, []uint64{200}},
		{"thirds", 100, []uint64{1, 1, 1}, []uint64{33, 33, 33}},
		{"dust contributor", 10, []uint64{1, 999}, []uint64{0, 9}},
		{"large values", math.MaxUint64, []uint64{math.MaxUint64 / 2, math.MaxUint64 / 2}, []uint64{math.MaxUint64 / 2, math.MaxUint64 / 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := model.NewPeriod(1, time.Time{})
			for i, c := range tt.contributions {
				id := string(rune('a' + i))
				p.Contributors = append(p.Contributors, id)
				p.Contributions[id] = c
				p.TotalContributed += c
			}

			var ot overflowTracker
			d := splitReward(&ot, tt.reward, p)
			require.False(t, ot.overflowed)
			require.Len(t, d.shares, len(tt.want))

			var sum uint64
			for i, s := range d.shares {
				assert.Equal(t, tt.want[i], s.Amount, "share %d", i)
				sum += s.Amount
			}
			assert.Equal(t, sum, d.distributed)
			assert.Equal(t, tt.reward-sum, d.remainder)
			assert.Less(t, d.remainder, uint64(len(tt.contributions)))
		})
	}
}

type reentrantCustodian struct {
	ledger *Ledger
	err    error
	paid   uint64
}

func (c *reentrantCustodian) Receive(context.Context, string, uint64) error { return nil }

func (c *reentrantCustodian) Release(ctx context.Context, to string, amount uint64) error {
	c.paid += amount
	if c.err == nil {
		_, c.err = c.ledger.Withdraw(ctx, to)
	}
	return nil
}

func TestLedger_ReentrantWithdrawObservesZero(t *testing.T) {
	cust := &reentrantCustodian{}
	f := newFixture(t, func(c *Config) { c.Custodian = cust })
	cust.ledger = f.ledger

	f.deposit(t, "A", 100)
	assert.Equal(t, uint64(100), f.withdraw(t, "A"))

	require.ErrorIs(t, cust.err, ErrNothingToWithdraw)
	assert.Equal(t, uint64(100), cust.paid)
	require.NoError(t, f.ledger.CheckConservation())
}

type failingCustodian struct {
	failRelease bool
	failReceive bool
}

func (c *failingCustodian) Receive(context.Context, string, uint64) error {
	if c.failReceive {
		return errors.New("transfer rejected")
	}
	return nil
}

func (c *failingCustodian) Release(context.Context, string, uint64) error {
	if c.failRelease {
		return errors.New("transfer rejected")
	}
	return nil
}

func TestLedger_FailedReleaseRestoresBalance(t *testing.T) {
	cust := &failingCustodian{failRelease: true}
	f := newFixture(t, func(c *Config) { c.Custodian = cust })
	f.deposit(t, "A", 100)

	_, err := f.ledger.Withdraw(context.Background(), "A")
	require.Error(t, err)
	assert.Equal(t, uint64(100), f.ledger.WithdrawableBalance("A"))
	assert.Zero(t, f.ledger.Totals().Withdrawn)
	assert.NotContains(t, f.sink.kinds(), model.EventWithdraw)

	cust.failRelease = false
	assert.Equal(t, uint64(100), f.withdraw(t, "A"))
}

func TestLedger_FailedReceiveChangesNothing(t *testing.T) {
	cust := &failingCustodian{failReceive: true}
	f := newFixture(t, func(c *Config) { c.Custodian = cust })

	_, err := f.ledger.Deposit(context.Background(), "A", 100)
	require.Error(t, err)
	assert.Zero(t, f.ledger.WithdrawableBalance("A"))

	_, err = f.ledger.DepositReward(context.Background(), team, 100)
	require.Error(t, err)
	assert.Equal(t, uint64(1), f.ledger.CurrentPeriod())
	assert.True(t, f.ledger.LastRewardTimestamp().IsZero())
	assert.Empty(t, f.sink.kinds())
}

func TestLedger_RepeatedDepositRewardCycles(t *testing.T) {
	for _, n := range []int{1, 2, 10} {
		f := newFixture(t)
		for i := 0; i < n; i++ {
			f.deposit(t, "A", 1000)
			f.reward(t, 2000)
			f.deposit(t, "B", 3000)
			f.reward(t, 2000)
		}
		assert.Equal(t, uint64(3000*n), f.withdraw(t, "A"), "iterations %d", n)
		assert.Equal(t, uint64(5000*n), f.withdraw(t, "B"), "iterations %d", n)
		require.NoError(t, f.ledger.CheckConservation())
	}
}

func TestLedger_ConservationUnderRandomOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(7, 11))
	participants := []string{"A", "B", "C", "D", "E"}

	var paidOut uint64
	for i := 0; i < 2000; i++ {
		who := participants[rng.IntN(len(participants))]
		switch op := rng.IntN(10); {
		case op < 6:
			f.deposit(t, who, rng.Uint64N(10_000)+1)
		case op < 8:
			f.clock.Advance(DefaultRewardInterval)
			_, err := f.ledger.DepositReward(ctx, team, rng.Uint64N(5_000)+1)
			require.NoError(t, err)
		default:
			evt, err := f.ledger.Withdraw(ctx, who)
			if errors.Is(err, ErrNothingToWithdraw) {
				continue
			}
			require.NoError(t, err)
			paidOut += evt.Amount
		}
		require.NoError(t, f.ledger.CheckConservation(), "after op %d", i)
	}

	totals := f.ledger.Totals()
	out, err := f.ledger.Outstanding()
	require.NoError(t, err)
	assert.Equal(t, totals.Withdrawn, paidOut)
	assert.Equal(t, totals.Deposited+totals.Rewarded, paidOut+out+totals.Undistributed)
}

func TestLedger_StatePersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "ledger.json")
	store := NewFileStore(path)
	f := newFixture(t, func(c *Config) { c.Store = store })

	f.deposit(t, "A", 100)
	f.deposit(t, "B", 300)
	f.reward(t, 200)
	f.deposit(t, "A", 40)

	reopened, err := New(Config{
		Authorizer: staticAuth{team: true},
		Store:      store,
		Clock:      f.clock,
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(2), reopened.CurrentPeriod())
	assert.Equal(t, uint64(190), reopened.WithdrawableBalance("A"))
	assert.Equal(t, uint64(450), reopened.WithdrawableBalance("B"))
	assert.Equal(t, f.ledger.LastRewardTimestamp().Unix(), reopened.LastRewardTimestamp().Unix())
	c, err := reopened.ContributionOf(2, "A")
	require.NoError(t, err)
	assert.Equal(t, uint64(40), c)
	require.NoError(t, reopened.CheckConservation())

	_, err = reopened.Deposit(context.Background(), "C", 60)
	require.NoError(t, err)
	p, err := reopened.Period(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, p.Contributors)
}

func TestConfig_Validate(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	_, err = New(Config{Authorizer: staticAuth{}, RewardInterval: -time.Second})
	require.Error(t, err)
}

type depositingCustodian struct {
	ledger *Ledger
	err    error
}

func (c *depositingCustodian) Receive(context.Context, string, uint64) error { return nil }

func (c *depositingCustodian) Release(ctx context.Context, _ string, _ uint64) error {
	if c.err == nil && c.ledger.WithdrawableBalance("B") == 0 {
		_, c.err = c.ledger.Deposit(ctx, "B", 7)
	}
	return nil
}

func TestLedger_EventsCarryCommitSequence(t *testing.T) {
	cust := &depositingCustodian{}
	f := newFixture(t, func(c *Config) { c.Custodian = cust })
	cust.ledger = f.ledger

	f.deposit(t, "A", 100)
	assert.Equal(t, uint64(100), f.withdraw(t, "A"))
	require.NoError(t, cust.err)

	// The withdrawal commits before the deposit made during its release, but
	// is delivered after it.
	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	require.Len(t, f.sink.events, 3)
	got := make(map[model.EventKind][]uint64)
	for _, e := range f.sink.events {
		got[e.Kind] = append(got[e.Kind], e.Seq)
	}
	assert.Equal(t, []uint64{1, 3}, got[model.EventDeposit])
	assert.Equal(t, []uint64{2}, got[model.EventWithdraw])
	assert.Equal(t, model.EventWithdraw, f.sink.events[2].Kind)
}

func TestLedger_FailedReleaseLeavesSequenceGap(t *testing.T) {
	cust := &failingCustodian{failRelease: true}
	f := newFixture(t, func(c *Config) { c.Custodian = cust })
	f.deposit(t, "A", 100)

	_, err := f.ledger.Withdraw(context.Background(), "A")
	require.Error(t, err)
	cust.failRelease = false

	evt, err := f.ledger.Withdraw(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), evt.Seq)
}

type ctxSink struct {
	errs []error
}

func (s *ctxSink) Emit(ctx context.Context, _ model.Event) { s.errs = append(s.errs, ctx.Err()) }

func TestLedger_EmitIgnoresCallerCancellation(t *testing.T) {
	sink := &ctxSink{}
	f := newFixture(t, func(c *Config) { c.Sink = sink })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.ledger.Deposit(ctx, "A", 5)
	require.NoError(t, err)
	_, err = f.ledger.Withdraw(ctx, "A")
	require.NoError(t, err)

	assert.Equal(t, []error{nil, nil}, sink.errs)
}
