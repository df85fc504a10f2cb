package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"RewardPool/internal/access"
	"RewardPool/internal/api"
	"RewardPool/internal/config"
	"RewardPool/internal/custody"
	"RewardPool/internal/ledger"
	"RewardPool/internal/logger"
	"RewardPool/internal/metrics"
	"RewardPool/internal/notifier"
	"RewardPool/internal/recorder"
	"RewardPool/internal/scheduler"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const metricsRefreshCron = "*/15 * * * * *"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	defaultConfig := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		defaultConfig = v
	}
	configFlag := flag.String("config", defaultConfig, "Path to the YAML config file")
	envFileFlag := flag.String("env-file", ".env", "Optional dotenv file loaded before reading the environment")
	verboseFlag := flag.Bool("verbose", false, "Enable debug logging, overriding log.level")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 15*time.Second, "Maximum time to wait for in-flight requests during shutdown")
	flag.Parse()

	if err := godotenv.Load(*envFileFlag); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load env file: %w", err)
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	level, err := logger.ParseLevel(cfg.Log.Level, *verboseFlag)
	if err != nil {
		return err
	}
	log := logger.New(level)
	slog.SetDefault(log)
	log.Info("reward pool starting", "version", version, "commit", commit, "date", date, "log_level", level)
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	policy, err := access.NewPolicy(cfg.Access.Admins, cfg.Access.RewardDepositors)
	if err != nil {
		return fmt.Errorf("init access policy: %w", err)
	}

	var rec recorder.Recorder
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath, log)
		if err != nil {
			log.Warn("init sqlite recorder failed, using noop", "error", err)
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sr
		}
	} else {
		rec = recorder.NewNoopRecorder()
	}
	defer rec.Close()

	var tn *notifier.TelegramNotifier
	sinks := ledger.MultiSink{recorder.NewSink(rec, log)}
	metricsSink := metrics.NewSink(nil)
	sinks = append(sinks, metricsSink)
	var tgSink *notifier.Sink
	if cfg.TelegramEnabled() {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy, log)
		tgSink = notifier.NewSink(tn, log)
		sinks = append(sinks, tgSink)
	}

	vault := custody.NewVault(nil, log)
	l, err := ledger.New(ledger.Config{
		Authorizer:     policy,
		Custodian:      vault,
		Store:          ledger.NewFileStore(cfg.Ledger.StateFile),
		Sink:           sinks,
		RewardInterval: cfg.Ledger.RewardInterval,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}
	if err := l.CheckConservation(); err != nil {
		return fmt.Errorf("ledger state check: %w", err)
	}
	// Vault holdings are process-local; seed them from the restored ledger.
	out, err := l.Outstanding()
	if err != nil {
		return fmt.Errorf("ledger state check: %w", err)
	}
	if held := out + l.Totals().Undistributed; held > 0 {
		if err := vault.Receive(context.Background(), "restore", held); err != nil {
			return fmt.Errorf("seed vault: %w", err)
		}
	}
	metricsSink.Attach(l)
	log.Info("ledger ready",
		"period", l.CurrentPeriod(),
		"last_reward", l.LastRewardTimestamp(),
		"state_file", cfg.Ledger.StateFile,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var msg scheduler.Messenger
	if tn != nil {
		msg = tn
	}
	sched := scheduler.NewScheduler(ctx, l, msg, rec, log)
	if err := sched.RegisterAll(scheduler.RewardJob{
		Cron:      cfg.Schedule.RewardCron,
		Amount:    cfg.Reward.AutoAmount,
		Depositor: cfg.Reward.Depositor,
	}, cfg.Schedule.SummaryCron); err != nil {
		return fmt.Errorf("register cron tasks: %w", err)
	}
	if err := sched.AddJob(metricsRefreshCron, metricsSink.Refresh); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	server := api.NewServer(api.Config{
		ListenAddr:  cfg.HTTP.ListenAddr,
		Ledger:      l,
		Roles:       policy,
		Recorder:    rec,
		RateLimiter: api.NewRateLimiter(cfg.HTTP.RatePerMin, cfg.HTTP.Burst),
		Logger:      log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, stopping", "timeout", *shutdownTimeoutFlag)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeoutFlag)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if tn != nil {
		g.Go(func() error {
			tgSink.Run(gctx)
			return nil
		})
		g.Go(func() error {
			tn.StartPolling(gctx, sched.HandleCommand)
			return nil
		})
		log.Info("telegram notifications enabled")
	}

	log.Info("reward pool is running", "addr", cfg.HTTP.ListenAddr)
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("reward pool stopped")
	return nil
}
