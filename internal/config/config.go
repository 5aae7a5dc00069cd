// Package config assembles RumiPet's runtime configuration.
//
// Values come from four layers, each overriding the previous one: built-in defaults, an
// optional TOML file, environment variables (a .env file is loaded first when present),
// and command line flags that were explicitly set.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/BTreeMap/RumiPet/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for RumiPet state data
	DefaultStateDir = "/var/lib/rumipet"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "rumipet.db"
	// DefaultConfigFileName is looked up in the state directory when no config path is given
	DefaultConfigFileName = "rumipet.toml"
	// DefaultAPIAddr is the default HTTP listen address
	DefaultAPIAddr = ":8080"
	// DefaultInactivitySchedule re-checks the inactivity penalty shortly after midnight
	DefaultInactivitySchedule = "5 0 * * *"
	// DefaultChatPruneSchedule prunes old chat history once an hour
	DefaultChatPruneSchedule = "0 * * * *"
	// DefaultChatRetentionDays is how long chat messages are kept
	DefaultChatRetentionDays = 7
)

// Environment variable names.
const (
	EnvConfigFile  = "RUMIPET_CONFIG"
	EnvStateDir    = "RUMIPET_STATE_DIR"
	EnvDatabaseURL = "DATABASE_URL"
	EnvMusicDir    = "RUMIPET_MUSIC_DIR"
	EnvAPIAddr     = "API_ADDR"
	EnvLogLevel    = "RUMIPET_LOG_LEVEL"
	EnvDebug       = "RUMIPET_DEBUG"
	EnvOpenAIKey   = "OPENAI_API_KEY"
	EnvOpenAIModel = "OPENAI_MODEL"
	EnvChatDays    = "RUMIPET_CHAT_RETENTION_DAYS"
)

var (
	// ErrInvalidLogLevel is returned for log levels slog does not know.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidRetention is returned when the chat retention is not positive.
	ErrInvalidRetention = errors.New("chat retention must be at least one day")
)

// Config is the complete runtime configuration.
type Config struct {
	StateDir    string `toml:"state_dir"`
	DatabaseURL string `toml:"database_url"`
	MusicDir    string `toml:"music_dir"`
	APIAddr     string `toml:"api_addr"`
	LogLevel    string `toml:"log_level"`
	Debug       bool   `toml:"debug"`

	OpenAI   OpenAIConfig   `toml:"openai"`
	Schedule ScheduleConfig `toml:"schedule"`
	Chat     ChatConfig     `toml:"chat"`
	Playback PlaybackConfig `toml:"playback"`
}

// OpenAIConfig configures the chat companion backend.
type OpenAIConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Temperature float64 `toml:"temperature"`
	MaxTokens   int64   `toml:"max_tokens"`
}

// ScheduleConfig holds cron expressions for background jobs.
type ScheduleConfig struct {
	InactivityCheck string `toml:"inactivity_check"`
	ChatPrune       string `toml:"chat_prune"`
}

// ChatConfig configures chat history retention.
type ChatConfig struct {
	RetentionDays int `toml:"retention_days"`
}

// PlaybackConfig configures the playback engine.
type PlaybackConfig struct {
	// PollIntervalMs is how often playback progress is sampled.
	PollIntervalMs int `toml:"poll_interval_ms"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		StateDir: DefaultStateDir,
		APIAddr:  DefaultAPIAddr,
		LogLevel: "info",
		Schedule: ScheduleConfig{
			InactivityCheck: DefaultInactivitySchedule,
			ChatPrune:       DefaultChatPruneSchedule,
		},
		Chat:     ChatConfig{RetentionDays: DefaultChatRetentionDays},
		Playback: PlaybackConfig{PollIntervalMs: 500},
	}
}

// Parse decodes TOML data on top of base. Keys absent from data keep base's values.
func Parse(data []byte, base Config) (Config, error) {
	cfg := base
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return base, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// LoadFile reads a TOML file on top of base. A missing file is not an error.
func LoadFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("Config.LoadFile: no config file, using defaults", "path", path)
		return base, nil
	}
	if err != nil {
		return base, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg, err := Parse(data, base)
	if err != nil {
		return base, fmt.Errorf("%s: %w", path, err)
	}
	slog.Debug("Config.LoadFile: config file loaded", "path", path)
	return cfg, nil
}

// Load builds the configuration from defaults, the config file and the environment.
// An empty path falls back to $RUMIPET_CONFIG and then to rumipet.toml in the state dir.
// Flags are applied separately with ApplyFlags once they have been parsed.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	cfg := Default()
	if dir := os.Getenv(EnvStateDir); dir != "" {
		cfg.StateDir = dir
	}
	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path == "" {
		path = filepath.Join(cfg.StateDir, DefaultConfigFileName)
	}

	cfg, err := LoadFile(path, cfg)
	if err != nil {
		return cfg, err
	}
	ApplyEnv(&cfg)
	return cfg, nil
}

// ApplyEnv overrides cfg with any RumiPet environment variables that are set.
func ApplyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(EnvStateDir, &cfg.StateDir)
	setString(EnvDatabaseURL, &cfg.DatabaseURL)
	setString(EnvMusicDir, &cfg.MusicDir)
	setString(EnvAPIAddr, &cfg.APIAddr)
	setString(EnvLogLevel, &cfg.LogLevel)
	setString(EnvOpenAIKey, &cfg.OpenAI.APIKey)
	setString(EnvOpenAIModel, &cfg.OpenAI.Model)
	cfg.Debug = util.ParseBoolEnv(EnvDebug, cfg.Debug)
	cfg.Chat.RetentionDays = util.ParseIntEnv(EnvChatDays, cfg.Chat.RetentionDays)

	slog.Debug("environment variables loaded",
		"RUMIPET_STATE_DIR", cfg.StateDir,
		"DATABASE_URL_SET", cfg.DatabaseURL != "",
		"RUMIPET_MUSIC_DIR", cfg.MusicDir,
		"API_ADDR", cfg.APIAddr,
		"OPENAI_API_KEY_SET", cfg.OpenAI.APIKey != "",
		"RUMIPET_DEBUG", cfg.Debug)
}

// Flag names shared by the commands.
const (
	FlagConfig    = "config"
	FlagStateDir  = "state-dir"
	FlagDBDSN     = "db-dsn"
	FlagMusicDir  = "music-dir"
	FlagAPIAddr   = "api-addr"
	FlagLogLevel  = "log-level"
	FlagDebug     = "debug"
	FlagOpenAIKey = "openai-api-key"
)

// RegisterFlags defines the configuration flags on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String(FlagConfig, "", "path to the TOML config file (overrides $RUMIPET_CONFIG)")
	fs.String(FlagStateDir, "", "state directory for RumiPet data (overrides $RUMIPET_STATE_DIR)")
	fs.String(FlagDBDSN, "", "database DSN, a SQLite path or a PostgreSQL URL (overrides $DATABASE_URL)")
	fs.String(FlagMusicDir, "", "directory scanned for audio files (overrides $RUMIPET_MUSIC_DIR)")
	fs.String(FlagAPIAddr, "", "API server address (overrides $API_ADDR)")
	fs.String(FlagLogLevel, "", "log level: debug, info, warn or error (overrides $RUMIPET_LOG_LEVEL)")
	fs.Bool(FlagDebug, false, "write GenAI request/response dumps to the state directory")
	fs.String(FlagOpenAIKey, "", "OpenAI API key (overrides $OPENAI_API_KEY)")
}

// ApplyFlags copies every explicitly set flag from fs into cfg.
func ApplyFlags(fs *pflag.FlagSet, cfg *Config) error {
	strs := map[string]*string{
		FlagStateDir:  &cfg.StateDir,
		FlagDBDSN:     &cfg.DatabaseURL,
		FlagMusicDir:  &cfg.MusicDir,
		FlagAPIAddr:   &cfg.APIAddr,
		FlagLogLevel:  &cfg.LogLevel,
		FlagOpenAIKey: &cfg.OpenAI.APIKey,
	}
	for name, dst := range strs {
		if fs.Lookup(name) == nil || !fs.Changed(name) {
			continue
		}
		v, err := fs.GetString(name)
		if err != nil {
			return fmt.Errorf("flag --%s: %w", name, err)
		}
		*dst = v
	}
	if fs.Lookup(FlagDebug) != nil && fs.Changed(FlagDebug) {
		v, err := fs.GetBool(FlagDebug)
		if err != nil {
			return fmt.Errorf("flag --%s: %w", FlagDebug, err)
		}
		cfg.Debug = v
	}
	return nil
}

// DSN returns the database DSN, defaulting to a SQLite file in the state directory.
// The special value "memory" selects the in-memory store and yields "".
func (c Config) DSN() string {
	switch c.DatabaseURL {
	case "memory":
		return ""
	case "":
		return filepath.Join(c.StateDir, DefaultDBFileName)
	default:
		return c.DatabaseURL
	}
}

// ChatRetention returns the chat retention as a duration.
func (c Config) ChatRetention() time.Duration {
	return time.Duration(c.Chat.RetentionDays) * 24 * time.Hour
}

// PollInterval returns the playback progress poll interval.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Playback.PollIntervalMs) * time.Millisecond
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
	return lvl, nil
}

// Validate checks the values that cannot be defaulted safely.
func (c Config) Validate() error {
	if c.StateDir == "" {
		return errors.New("state directory must not be empty")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.Chat.RetentionDays < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidRetention, c.Chat.RetentionDays)
	}
	if c.Playback.PollIntervalMs <= 0 {
		return fmt.Errorf("playback poll interval must be positive, got %dms", c.Playback.PollIntervalMs)
	}
	return nil
}
