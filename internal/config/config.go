package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Ledger struct {
		StateFile      string        `yaml:"state_file"`
		RewardInterval time.Duration `yaml:"reward_interval"`
	} `yaml:"ledger"`
	Access struct {
		Admins           []string `yaml:"admins"`
		RewardDepositors []string `yaml:"reward_depositors"`
	} `yaml:"access"`
	HTTP struct {
		ListenAddr string `yaml:"listen_addr"`
		RatePerMin int    `yaml:"rate_per_min"`
		Burst      int    `yaml:"burst"`
	} `yaml:"http"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Schedule struct {
		RewardCron  string `yaml:"reward_cron"`
		SummaryCron string `yaml:"summary_cron"`
	} `yaml:"schedule"`
	Reward struct {
		AutoAmount uint64 `yaml:"auto_amount"`
		Depositor  string `yaml:"depositor"`
	} `yaml:"reward"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("LEDGER_STATE_FILE"); v != "" {
		cfg.Ledger.StateFile = v
	}
	if v := os.Getenv("REWARD_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("parse REWARD_INTERVAL: %w", err)
		}
		cfg.Ledger.RewardInterval = d
	}
	if v := os.Getenv("POOL_ADMINS"); v != "" {
		cfg.Access.Admins = splitList(v)
	}
	if v := os.Getenv("POOL_REWARD_DEPOSITORS"); v != "" {
		cfg.Access.RewardDepositors = splitList(v)
	}
	if v := os.Getenv("HTTP_LISTEN_ADDR"); v != "" {
		cfg.HTTP.ListenAddr = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("CRON_REWARD"); v != "" {
		cfg.Schedule.RewardCron = v
	}
	if v := os.Getenv("REWARD_AUTO_AMOUNT"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse REWARD_AUTO_AMOUNT: %w", err)
		}
		cfg.Reward.AutoAmount = n
	}
	if v := os.Getenv("REWARD_DEPOSITOR"); v != "" {
		cfg.Reward.Depositor = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}

	// Defaults
	if cfg.Ledger.StateFile == "" {
		cfg.Ledger.StateFile = "data/ledger_state.json"
	}
	if cfg.Ledger.RewardInterval == 0 {
		cfg.Ledger.RewardInterval = 7 * 24 * time.Hour
	}
	if cfg.HTTP.ListenAddr == "" {
		cfg.HTTP.ListenAddr = ":8080"
	}
	if cfg.HTTP.RatePerMin == 0 {
		cfg.HTTP.RatePerMin = 120
	}
	if cfg.HTTP.Burst == 0 {
		cfg.HTTP.Burst = 20
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/reward_pool.db"
	}
	if cfg.Schedule.RewardCron == "" {
		cfg.Schedule.RewardCron = "0 0 12 * * 1"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Schedule.SummaryCron == "" {
		cfg.Schedule.SummaryCron = "0 0 9 * * *"
	}

	return cfg, nil
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if len(c.Access.Admins) == 0 {
		return fmt.Errorf("access.admins requires at least one principal")
	}
	if c.Ledger.RewardInterval < 0 {
		return fmt.Errorf("ledger.reward_interval must not be negative")
	}
	if c.HTTP.RatePerMin < 0 || c.HTTP.Burst < 0 {
		return fmt.Errorf("http.rate_per_min and http.burst must not be negative")
	}
	if c.Reward.AutoAmount > 0 && c.Reward.Depositor == "" {
		return fmt.Errorf("reward.depositor is required when reward.auto_amount is set")
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together")
	}
	return nil
}

// TelegramEnabled reports whether notifications should be sent.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
