package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	rcron "github.com/robfig/cron/v3"
	"github.com/stellarlinkco/stashbot/internal/bus"
	"github.com/tidwall/jsonc"
)

// cronParser accepts the same expressions as the scheduler: six fields with
// seconds first, or a descriptor.
var cronParser = rcron.NewParser(rcron.Second | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor)

const (
	DefaultBufSize       = 100
	DefaultWindowDays    = 7
	DefaultTopN          = 3
	DefaultScanLimit     = 50
	DefaultNoticeSeconds = 4
	DefaultTimeZone      = "UTC"
	DefaultStorageDriver = "json"
)

// DefaultStashRoles are the ranks allowed to deposit and withdraw.
var DefaultStashRoles = []string{"Two Bar", "One Bar", "Three Stripes Circle", "Two Stripe", "One Stripe"}

// DefaultLeaderRoles may query, reset and rank work stats.
var DefaultLeaderRoles = []string{"Two Bar", "One Bar"}

type Config struct {
	Channels ChannelsConfig `json:"channels"`
	Stash    StashConfig    `json:"stash"`
	Work     WorkConfig     `json:"work"`
	Roles    RolesConfig    `json:"roles"`
	Storage  StorageConfig  `json:"storage"`
	Board    BoardConfig    `json:"board"`
	Cron     CronConfig     `json:"cron"`
}

type ChannelsConfig struct {
	Discord  DiscordConfig  `json:"discord"`
	Telegram TelegramConfig `json:"telegram"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
	// Roles grants role names to Telegram usernames, which have no roles of their own.
	Roles map[string][]string `json:"roles,omitempty"`
}

// StashConfig addresses are "platform:chatID"; a bare id is a Discord channel.
type StashConfig struct {
	BoardChannel    string   `json:"boardChannel"`
	CommandChannels []string `json:"commandChannels"`
	DepositLog      string   `json:"depositLog"`
	WithdrawLog     string   `json:"withdrawLog"`
}

type WorkConfig struct {
	BoardChannel   string   `json:"boardChannel"`
	ReportChannels []string `json:"reportChannels"`
	Log            string   `json:"log"`
	WindowDays     int      `json:"windowDays"`
	TopN           int      `json:"topN"`
}

type RolesConfig struct {
	Stash   []string `json:"stash"`
	Workers []string `json:"workers"`
	Leaders []string `json:"leaders"`
}

type StorageConfig struct {
	Driver string `json:"driver"` // json, yaml or sqlite
	Dir    string `json:"dir"`
	DBPath string `json:"dbPath,omitempty"`
}

type BoardConfig struct {
	ScanLimit     int    `json:"scanLimit"`
	TimeZone      string `json:"timeZone"`
	NoticeSeconds int    `json:"noticeSeconds"`
}

type CronConfig struct {
	Jobs []JobConfig `json:"jobs"`
}

type JobConfig struct {
	Name   string `json:"name"`
	Expr   string `json:"expr"`   // six-field cron expression, seconds first
	Action string `json:"action"` // refresh-boards or post-top
	Target string `json:"target,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Work: WorkConfig{
			WindowDays: DefaultWindowDays,
			TopN:       DefaultTopN,
		},
		Roles: RolesConfig{
			Stash:   append([]string(nil), DefaultStashRoles...),
			Leaders: append([]string(nil), DefaultLeaderRoles...),
		},
		Storage: StorageConfig{
			Driver: DefaultStorageDriver,
			Dir:    filepath.Join(ConfigDir(), "data"),
		},
		Board: BoardConfig{
			ScanLimit:     DefaultScanLimit,
			TimeZone:      DefaultTimeZone,
			NoticeSeconds: DefaultNoticeSeconds,
		},
	}
}

func ConfigDir() string {
	if dir := os.Getenv("STASHBOT_HOME"); dir != "" {
		return dir
	}
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".stashbot")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if token := os.Getenv("TOKEN"); token != "" && cfg.Channels.Discord.Token == "" {
		cfg.Channels.Discord.Token = token
	}
	if token := os.Getenv("STASHBOT_DISCORD_TOKEN"); token != "" {
		cfg.Channels.Discord.Token = token
	}
	if token := os.Getenv("STASHBOT_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if driver := os.Getenv("STASHBOT_STORAGE_DRIVER"); driver != "" {
		cfg.Storage.Driver = driver
	}
	if dir := os.Getenv("STASHBOT_DATA_DIR"); dir != "" {
		cfg.Storage.Dir = dir
	}
	if dbPath := os.Getenv("STASHBOT_DB_PATH"); dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}
	if days := os.Getenv("STASHBOT_WINDOW_DAYS"); days != "" {
		if parsed, err := strconv.Atoi(days); err == nil {
			cfg.Work.WindowDays = parsed
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Storage.Driver == "" {
		c.Storage.Driver = DefaultStorageDriver
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = filepath.Join(ConfigDir(), "data")
	}
	if c.Work.WindowDays < 0 {
		c.Work.WindowDays = DefaultWindowDays
	}
	if c.Work.TopN <= 0 {
		c.Work.TopN = DefaultTopN
	}
	if c.Board.ScanLimit <= 0 {
		c.Board.ScanLimit = DefaultScanLimit
	}
	if c.Board.TimeZone == "" {
		c.Board.TimeZone = DefaultTimeZone
	}
	if c.Board.NoticeSeconds <= 0 {
		c.Board.NoticeSeconds = DefaultNoticeSeconds
	}
	// Work reports fall back to the stash ranks when no worker roles are set.
	if len(c.Roles.Workers) == 0 {
		c.Roles.Workers = append([]string(nil), c.Roles.Stash...)
	}
}

// Validate checks every configured address and job.
func (c *Config) Validate() error {
	check := func(field, value string) error {
		if value == "" {
			return nil
		}
		if _, err := bus.ParseAddress(value); err != nil {
			return fmt.Errorf("config %s: %w", field, err)
		}
		return nil
	}
	fields := map[string]string{
		"stash.boardChannel": c.Stash.BoardChannel,
		"stash.depositLog":   c.Stash.DepositLog,
		"stash.withdrawLog":  c.Stash.WithdrawLog,
		"work.boardChannel":  c.Work.BoardChannel,
		"work.log":           c.Work.Log,
	}
	for field, value := range fields {
		if err := check(field, value); err != nil {
			return err
		}
	}
	for _, v := range c.Stash.CommandChannels {
		if err := check("stash.commandChannels", v); err != nil {
			return err
		}
	}
	for _, v := range c.Work.ReportChannels {
		if err := check("work.reportChannels", v); err != nil {
			return err
		}
	}
	for _, job := range c.Cron.Jobs {
		switch job.Action {
		case "refresh-boards":
		case "post-top":
			if strings.TrimSpace(job.Target) == "" {
				return fmt.Errorf("config cron job %q: post-top needs a target", job.Name)
			}
			if err := check("cron.jobs.target", job.Target); err != nil {
				return err
			}
		default:
			return fmt.Errorf("config cron job %q: unknown action %q", job.Name, job.Action)
		}
		if strings.TrimSpace(job.Expr) == "" {
			return fmt.Errorf("config cron job %q: expr is required", job.Name)
		}
		if _, err := cronParser.Parse(job.Expr); err != nil {
			return fmt.Errorf("config cron job %q: %w", job.Name, err)
		}
	}
	return nil
}

// Address parses a configured address, returning the zero Address for "".
func Address(s string) bus.Address {
	addr, err := bus.ParseAddress(s)
	if err != nil {
		return bus.Address{}
	}
	return addr
}

// Addresses parses a list of configured addresses, skipping invalid ones.
func Addresses(list []string) []bus.Address {
	out := make([]bus.Address, 0, len(list))
	for _, s := range list {
		if addr := Address(s); !addr.IsZero() {
			out = append(out, addr)
		}
	}
	return out
}

// Location resolves the board time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Board.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
