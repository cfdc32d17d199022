// Package config defines the configuration shared by every dialogbot
// deployment and loads it from YAML, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds Telegram bot related settings.
type TelegramConfig struct {
	Token string `yaml:"token" envconfig:"BOT_TOKEN"`
	// TokenParam names an SSM parameter holding the token when Token is empty.
	TokenParam string `yaml:"token_param" envconfig:"BOT_TOKEN_PARAM"`
	AdminID    int64  `yaml:"admin_id" envconfig:"TELEGRAM_ADMIN_ID"`
	RunMode    string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
	// SendRetries bounds transport retries per outbound call.
	SendRetries int `yaml:"send_retries" envconfig:"TELEGRAM_SEND_RETRIES"`
	// SendBackoffMS is the linear backoff step between retries.
	SendBackoffMS int `yaml:"send_backoff_ms" envconfig:"TELEGRAM_SEND_BACKOFF_MS"`
	// ButtonsPerRow lays scenario buttons out in rows of this size; 0 -> one per row.
	ButtonsPerRow int `yaml:"buttons_per_row" envconfig:"TELEGRAM_BUTTONS_PER_ROW"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

// DialogConfig tunes the dialog engine.
type DialogConfig struct {
	BotID        string `yaml:"bot_id" envconfig:"DIALOG_BOT_ID"`
	ScenarioPath string `yaml:"scenario_path" envconfig:"DIALOG_SCENARIO_PATH"`
	// WatchScenario reloads the scenario file when it changes on disk.
	WatchScenario bool `yaml:"watch_scenario" envconfig:"DIALOG_WATCH_SCENARIO"`
	// DuplicateWindowMS is the duplicate suppression window.
	DuplicateWindowMS int `yaml:"duplicate_window_ms" envconfig:"DIALOG_DUPLICATE_WINDOW_MS"`
	// RatePerMinute caps inputs per user in a sliding minute.
	RatePerMinute int `yaml:"rate_per_minute" envconfig:"DIALOG_RATE_PER_MINUTE"`
	// MaxAutoChain bounds the number of steps one auto-transition chain may visit.
	MaxAutoChain int `yaml:"max_auto_chain" envconfig:"DIALOG_MAX_AUTO_CHAIN"`
	// SerializeChats processes turns of one chat one at a time.
	SerializeChats *bool  `yaml:"serialize_chats" envconfig:"DIALOG_SERIALIZE_CHATS"`
	HelpText       string `yaml:"help_text"`
}

// RedisConfig points at the shared cache used by the input validator.
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
	Prefix   string `yaml:"prefix" envconfig:"REDIS_PREFIX"`
}

// StorageConfig selects the dialog state backend.
type StorageConfig struct {
	Backend     string `yaml:"backend" envconfig:"STORAGE_BACKEND"`
	SQLitePath  string `yaml:"sqlite_path" envconfig:"STORAGE_SQLITE_PATH"`
	DynamoTable string `yaml:"dynamo_table" envconfig:"STORAGE_DYNAMO_TABLE"`
}

// AWSConfig holds optional AWS settings.
type AWSConfig struct {
	Region string `yaml:"region" envconfig:"AWS_REGION"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// BackendPostgres stores dialog state in PostgreSQL.
	BackendPostgres = "postgres"
	// BackendSQLite stores dialog state in a local SQLite file.
	BackendSQLite = "sqlite"
	// BackendDynamo stores dialog state in a DynamoDB table.
	BackendDynamo = "dynamodb"
	// BackendMemory keeps dialog state in process memory.
	BackendMemory = "memory"
)

const (
	// UpdateCallback identifies callback updates for rate limit exclusions.
	UpdateCallback = "callback"
	// UpdateMessage identifies message updates for rate limit exclusions.
	UpdateMessage = "message"
)

const (
	defaultDuplicateWindowMS = 2000
	defaultRatePerMinute     = 30
	defaultMaxAutoChain      = 25
	defaultSendRetries       = 3
	defaultSendBackoffMS     = 500
)

// RateLimitConfig holds settings for the transport flood guard.
// ExcludeUpdates accepts update types to bypass limiting:
// - "callback": Telegram callback button presses
// - "message": standard text messages
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

// Config aggregates the configuration that belongs to the reusable core.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Dialog    DialogConfig    `yaml:"dialog"`
	Redis     RedisConfig     `yaml:"redis"`
	Storage   StorageConfig   `yaml:"storage"`
	AWS       AWSConfig       `yaml:"aws"`
}

// LoadDotEnv loads the first readable .env file among paths. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		err := godotenv.Load(p)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// Decode reads a YAML file into out and applies environment overrides.
func Decode(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := envconfig.Process("", out); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	if err := Decode(path, &cfg); err != nil {
		return nil, err
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ErrInvalid wraps every validation failure reported by Normalize.
var ErrInvalid = errors.New("invalid config")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...)
}

// Normalize validates cfg and fills in defaults, section by section.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return invalid("nil config")
	}
	for _, step := range []func(*Config) error{
		normalizeTelegram,
		normalizeRateLimit,
		func(c *Config) error { return normalizeDialog(&c.Dialog) },
		normalizeStorage,
	} {
		if err := step(cfg); err != nil {
			return err
		}
	}
	return nil
}

func normalizeTelegram(cfg *Config) error {
	tg := &cfg.Telegram
	if tg.Token == "" && strings.TrimSpace(tg.TokenParam) == "" {
		return invalid("telegram.token or telegram.token_param is required")
	}
	if tg.SendRetries <= 0 {
		tg.SendRetries = defaultSendRetries
	}
	if tg.SendBackoffMS <= 0 {
		tg.SendBackoffMS = defaultSendBackoffMS
	}

	mode := strings.ToLower(strings.TrimSpace(tg.RunMode))
	switch mode {
	case "", "polling", RunModeLongpoll:
		if tg.LongPollTimeoutSeconds < 0 {
			return invalid("telegram.longpoll_timeout_seconds must be >= 0")
		}
		mode = RunModeLongpoll
	case RunModeWebhook:
		wh := cfg.Webhook
		switch {
		case strings.TrimSpace(wh.URL) == "":
			return invalid("webhook.url is required in webhook mode")
		case strings.TrimSpace(wh.Listen) == "":
			return invalid("webhook.listen is required in webhook mode")
		case wh.Port <= 0:
			return invalid("webhook.port must be > 0 in webhook mode")
		}
	default:
		return invalid("telegram.run_mode %q; allowed: webhook, longpoll", tg.RunMode)
	}
	tg.RunMode = mode
	return nil
}

func normalizeRateLimit(cfg *Config) error {
	kinds := cfg.RateLimit.ExcludeUpdates
	for i, v := range kinds {
		switch kind := strings.ToLower(strings.TrimSpace(v)); kind {
		case "":
		case UpdateCallback, UpdateMessage:
			kinds[i] = kind
		default:
			return invalid("rate_limit.exclude_updates value %q; allowed: callback, message", v)
		}
	}
	return nil
}

func normalizeDialog(d *DialogConfig) error {
	if strings.TrimSpace(d.ScenarioPath) == "" {
		return invalid("dialog.scenario_path is required")
	}
	d.BotID = strings.TrimSpace(d.BotID)
	if d.BotID == "" {
		d.BotID = "default"
	}
	if d.DuplicateWindowMS <= 0 {
		d.DuplicateWindowMS = defaultDuplicateWindowMS
	}
	if d.RatePerMinute <= 0 {
		d.RatePerMinute = defaultRatePerMinute
	}
	if d.MaxAutoChain <= 0 {
		d.MaxAutoChain = defaultMaxAutoChain
	}
	if d.SerializeChats == nil {
		on := true
		d.SerializeChats = &on
	}
	return nil
}

func normalizeStorage(cfg *Config) error {
	backend := strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if backend == "" {
		backend = BackendPostgres
	}
	switch backend {
	case BackendPostgres, BackendMemory:
	case BackendSQLite:
		if strings.TrimSpace(cfg.Storage.SQLitePath) == "" {
			cfg.Storage.SQLitePath = "dialogbot.db"
		}
	case BackendDynamo:
		if strings.TrimSpace(cfg.Storage.DynamoTable) == "" {
			return invalid("storage.dynamo_table is required for the dynamodb backend")
		}
	default:
		return invalid("storage.backend %q; allowed: postgres, sqlite, dynamodb, memory", cfg.Storage.Backend)
	}
	cfg.Storage.Backend = backend
	return nil
}

// SerializeEnabled reports whether same-chat turns are serialized.
func (d DialogConfig) SerializeEnabled() bool {
	return d.SerializeChats == nil || *d.SerializeChats
}
