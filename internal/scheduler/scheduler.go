package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"

	"RewardPool/internal/ledger"
	"RewardPool/internal/notifier"
	"RewardPool/internal/recorder"
)

const (
	notifyRetries = 3
	historyLimit  = 5
)

// Messenger delivers operator messages.
type Messenger interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// RewardJob configures the scheduled reward injection.
type RewardJob struct {
	Cron      string
	Amount    uint64
	Depositor string
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron      *cron.Cron
	Ledger    *ledger.Ledger
	Messenger Messenger
	Recorder  recorder.Recorder
	Ctx       context.Context

	log *slog.Logger
}

// NewScheduler creates a new Scheduler. msg may be nil when notifications are disabled.
func NewScheduler(ctx context.Context, l *ledger.Ledger, msg Messenger, rec recorder.Recorder, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	return &Scheduler{
		Cron:      cron.New(cron.WithSeconds()),
		Ledger:    l,
		Messenger: msg,
		Recorder:  rec,
		Ctx:       ctx,
		log:       log,
	}
}

// RegisterAll registers the reward and summary tasks. The reward task is
// skipped when no amount is configured.
func (s *Scheduler) RegisterAll(reward RewardJob, summaryCron string) error {
	if reward.Amount > 0 {
		if _, err := s.Cron.AddFunc(reward.Cron, func() { s.rewardTask(reward) }); err != nil {
			return fmt.Errorf("register reward task: %w", err)
		}
		s.log.Info("scheduled reward registered", "cron", reward.Cron, "amount", reward.Amount, "depositor", reward.Depositor)
	}
	if summaryCron != "" {
		if _, err := s.Cron.AddFunc(summaryCron, s.summaryTask); err != nil {
			return fmt.Errorf("register summary task: %w", err)
		}
	}
	return nil
}

// AddJob registers an auxiliary periodic function.
func (s *Scheduler) AddJob(spec string, fn func()) error {
	if _, err := s.Cron.AddFunc(spec, fn); err != nil {
		return fmt.Errorf("register job %q: %w", spec, err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info("scheduler started")
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) rewardTask(job RewardJob) {
	s.log.Info("running scheduled reward", "amount", job.Amount)
	evt, err := s.Ledger.DepositReward(s.Ctx, job.Depositor, job.Amount)
	var rl *ledger.RateLimitError
	switch {
	case errors.As(err, &rl):
		s.log.Info("scheduled reward skipped, interval not elapsed", "next_eligible", rl.NextEligible)
	case err != nil:
		s.log.Error("scheduled reward failed", "error", err)
		s.trySend(fmt.Sprintf("❌ Scheduled reward failed: %v", err))
	default:
		s.log.Info("scheduled reward deposited", "period", evt.Period, "shares", len(evt.Shares), "remainder", evt.Remainder)
	}
}

func (s *Scheduler) summaryTask() {
	s.log.Info("running summary task")
	if err := s.Ledger.CheckConservation(); err != nil {
		s.log.Error("conservation check failed", "error", err)
		s.trySend(fmt.Sprintf("🚨 <b>Ledger integrity alert</b>\n\n%v", err))
	}
	s.trySend(notifier.FormatPoolStatus(s.Status()))
}

// Status collects the pool summary from the ledger.
func (s *Scheduler) Status() notifier.PoolStatus {
	st := notifier.PoolStatus{
		CurrentPeriod: s.Ledger.CurrentPeriod(),
		LastRewardAt:  s.Ledger.LastRewardTimestamp(),
		NextRewardAt:  s.Ledger.NextRewardAt(),
		Totals:        s.Ledger.Totals(),
	}
	if p, err := s.Ledger.Period(st.CurrentPeriod); err == nil {
		st.Contributed = p.TotalContributed
		st.Contributors = len(p.Contributors)
	}
	if out, err := s.Ledger.Outstanding(); err == nil {
		st.Outstanding = out
	}
	return st
}

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return usage
	}
	switch fields[0] {
	case "/totals", "/status":
		return notifier.FormatPoolStatus(s.Status())
	case "/period":
		id := s.Ledger.CurrentPeriod()
		if len(fields) > 1 {
			n, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				return "Usage: /period [id]"
			}
			id = n
		}
		p, err := s.Ledger.Period(id)
		if err != nil {
			return fmt.Sprintf("Period #%d does not exist", id)
		}
		return notifier.FormatPeriod(p)
	case "/balance":
		if len(fields) < 2 {
			return "Usage: /balance <participant>"
		}
		return notifier.FormatBalance(fields[1], s.Ledger.WithdrawableBalance(fields[1]))
	case "/history":
		if len(fields) < 2 {
			return "Usage: /history <participant>"
		}
		return s.history(fields[1])
	default:
		return usage
	}
}

const usage = "Available commands:\n• /totals\n• /period [id]\n• /balance &lt;participant&gt;\n• /history &lt;participant&gt;"

func (s *Scheduler) history(participant string) string {
	events, err := s.Recorder.ListEvents(s.Ctx, recorder.EventFilter{Participant: participant, Limit: historyLimit})
	if err != nil {
		s.log.Error("list events", "participant", participant, "error", err)
		return "History is unavailable"
	}
	if len(events) == 0 {
		return "No recorded activity"
	}
	parts := make([]string, 0, len(events))
	for _, evt := range events {
		parts = append(parts, notifier.FormatEvent(evt))
	}
	return strings.Join(parts, "\n\n")
}

func (s *Scheduler) trySend(text string) {
	if s.Messenger == nil {
		return
	}
	if err := s.Messenger.SendWithRetry(s.Ctx, text, notifyRetries); err != nil {
		s.log.Error("send notification", "error", err)
	}
}

var _ Messenger = (*notifier.TelegramNotifier)(nil)
