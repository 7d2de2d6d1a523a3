// Package config loads bot settings from defaults, .env files, ROSTERBOT_*
// environment variables and an optional YAML file, in that order.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"rosterbot/internal/ranking"
	dbconfig "rosterbot/pkg/database"
)

const envPrefix = "ROSTERBOT_"

// Cooldown backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	Env       string          `yaml:"-"`
	Bot       BotConfig       `yaml:"bot"`
	Limits    LimitsConfig    `yaml:"limits"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	Ranking   ranking.Config  `yaml:"ranking"`
	Cooldown  CooldownConfig  `yaml:"cooldown"`
	Database  DatabaseConfig  `yaml:"database"`
	HTTP      HTTPConfig      `yaml:"http"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Log       LogConfig       `yaml:"log"`
}

type BotConfig struct {
	AdminIDs         []string `yaml:"admin_ids"`
	WelcomeChannelID string   `yaml:"welcome_channel_id"`
}

type LimitsConfig struct {
	RefreshCooldown      time.Duration `yaml:"refresh_cooldown"`
	ButtonCooldown       time.Duration `yaml:"button_cooldown"`
	MaxFailures          int           `yaml:"max_failures_per_hour"`
	FailureWindow        time.Duration `yaml:"failure_window"`
	MaxOpenSessions      int           `yaml:"max_open_sessions"`
	InteractionLimit     int           `yaml:"interaction_limit"`
	SessionMaxAge        time.Duration `yaml:"session_max_age"`
	PlatformTimeout      time.Duration `yaml:"platform_timeout"`
	CompletedMarkerTTL   time.Duration `yaml:"completed_marker_ttl"`
	MaxCharactersPerUser int           `yaml:"max_characters_per_user"`
	ProfileListCap       int           `yaml:"profile_list_cap"`
	ProfilePrefix        string        `yaml:"profile_prefix"`
}

type SweeperConfig struct {
	Interval      time.Duration `yaml:"interval"`
	ReclaimMemory bool          `yaml:"reclaim_memory"`
}

type CooldownConfig struct {
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
}

type DatabaseConfig struct {
	Path           string        `yaml:"path"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxConnections int           `yaml:"max_connections"`
}

type HTTPConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `yaml:"ping_interval"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	BufferSize   int           `yaml:"buffer_size"`
	RelayToken   string        `yaml:"relay_token"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the settings the bot runs with when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Env: "development",
		Limits: LimitsConfig{
			RefreshCooldown:      300 * time.Second,
			ButtonCooldown:       30 * time.Second,
			MaxFailures:          5,
			FailureWindow:        time.Hour,
			MaxOpenSessions:      50,
			InteractionLimit:     20,
			SessionMaxAge:        600 * time.Second,
			PlatformTimeout:      300 * time.Second,
			CompletedMarkerTTL:   60 * time.Second,
			MaxCharactersPerUser: 4,
			ProfileListCap:       10,
			ProfilePrefix:        "https://raider.io/characters/",
		},
		Sweeper: SweeperConfig{
			Interval: 300 * time.Second,
		},
		Ranking: ranking.DefaultConfig(),
		Cooldown: CooldownConfig{
			Backend:   BackendMemory,
			RedisAddr: "localhost:6379",
			KeyPrefix: "rosterbot",
		},
		Database: DatabaseConfig{
			Path:           "./data/rosterbot.db",
			Timeout:        5 * time.Second,
			MaxConnections: 10,
		},
		HTTP: HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Validate rejects settings the bot cannot run with.
func (c *Config) Validate() error {
	l := c.Limits
	switch {
	case l.RefreshCooldown <= 0 || l.ButtonCooldown <= 0:
		return errors.New("cooldown windows must be positive")
	case l.MaxFailures <= 0 || l.FailureWindow <= 0:
		return errors.New("failure threshold and window must be positive")
	case l.MaxOpenSessions <= 0:
		return errors.New("max open sessions must be positive")
	case l.InteractionLimit <= 0:
		return errors.New("interaction limit must be positive")
	case l.SessionMaxAge <= 0 || l.PlatformTimeout <= 0 || l.CompletedMarkerTTL <= 0:
		return errors.New("session timeouts must be positive")
	case l.MaxCharactersPerUser <= 0:
		return errors.New("max characters per user must be positive")
	case l.ProfileListCap <= 0:
		return errors.New("profile list cap must be positive")
	case !strings.HasPrefix(l.ProfilePrefix, "https://"):
		return fmt.Errorf("profile prefix %q must be an https URL", l.ProfilePrefix)
	}

	if c.Sweeper.Interval <= 0 {
		return errors.New("sweeper interval must be positive")
	}
	if c.Ranking.BaseURL == "" {
		return errors.New("ranking base url cannot be empty")
	}
	if c.Ranking.Timeout <= 0 {
		return errors.New("ranking timeout must be positive")
	}

	switch c.Cooldown.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Cooldown.RedisAddr == "" {
			return errors.New("redis cooldown backend needs redis_addr")
		}
	default:
		return fmt.Errorf("unknown cooldown backend %q", c.Cooldown.Backend)
	}

	if err := c.StoreConfig().Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}

	ws := c.WebSocket
	if ws.PingInterval <= 0 || ws.ReadTimeout <= 0 || ws.WriteTimeout <= 0 {
		return errors.New("WebSocket timeouts must be positive")
	}
	if ws.PingInterval >= ws.ReadTimeout {
		return errors.New("WebSocket ping interval must be shorter than the read timeout")
	}
	if ws.BufferSize <= 0 {
		return errors.New("WebSocket buffer size must be positive")
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("log format %q must be json or text", c.Log.Format)
	}
	return nil
}

// StoreConfig converts the database section to the store's configuration.
func (c *Config) StoreConfig() *dbconfig.Config {
	store := dbconfig.DefaultConfig()
	store.DatabasePath = c.Database.Path
	store.BusyTimeout = c.Database.Timeout
	store.MaxConnections = c.Database.MaxConnections
	return store
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// Load builds the configuration and validates it.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	cfg.Env = getenv("ENV", cfg.Env)

	loadEnvFile(".env." + cfg.Env)
	loadEnvFile(".env")

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if path := os.Getenv(envPrefix + "CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile reads a YAML file over the defaults without consulting the
// environment.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.applyFile(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides fields from ROSTERBOT_* variables. Unparseable values
// are reported rather than silently ignored.
func (c *Config) applyEnv() error {
	e := &envReader{}

	if ids := e.str("ADMIN_IDS"); ids != "" {
		c.Bot.AdminIDs = splitList(ids)
	}
	e.setStr("WELCOME_CHANNEL_ID", &c.Bot.WelcomeChannelID)

	e.setDur("REFRESH_COOLDOWN", &c.Limits.RefreshCooldown)
	e.setDur("BUTTON_COOLDOWN", &c.Limits.ButtonCooldown)
	e.setInt("MAX_FAILURES_PER_HOUR", &c.Limits.MaxFailures)
	e.setDur("FAILURE_WINDOW", &c.Limits.FailureWindow)
	e.setInt("MAX_OPEN_SESSIONS", &c.Limits.MaxOpenSessions)
	e.setInt("INTERACTION_LIMIT", &c.Limits.InteractionLimit)
	e.setDur("SESSION_MAX_AGE", &c.Limits.SessionMaxAge)
	e.setDur("PLATFORM_TIMEOUT", &c.Limits.PlatformTimeout)
	e.setDur("COMPLETED_MARKER_TTL", &c.Limits.CompletedMarkerTTL)
	e.setInt("MAX_CHARACTERS_PER_USER", &c.Limits.MaxCharactersPerUser)
	e.setInt("PROFILE_LIST_CAP", &c.Limits.ProfileListCap)
	e.setStr("PROFILE_PREFIX", &c.Limits.ProfilePrefix)

	e.setDur("SWEEPER_INTERVAL", &c.Sweeper.Interval)
	e.setBool("SWEEPER_RECLAIM_MEMORY", &c.Sweeper.ReclaimMemory)

	e.setStr("RANKING_BASE_URL", &c.Ranking.BaseURL)
	e.setDur("RANKING_TIMEOUT", &c.Ranking.Timeout)
	e.setStr("RANKING_SEASON_FIELD", &c.Ranking.SeasonField)

	e.setStr("COOLDOWN_BACKEND", &c.Cooldown.Backend)
	e.setStr("REDIS_ADDR", &c.Cooldown.RedisAddr)
	e.setStr("REDIS_PASSWORD", &c.Cooldown.RedisPassword)
	e.setInt("REDIS_DB", &c.Cooldown.RedisDB)
	e.setStr("COOLDOWN_KEY_PREFIX", &c.Cooldown.KeyPrefix)

	e.setStr("DATABASE_PATH", &c.Database.Path)
	e.setDur("DATABASE_TIMEOUT", &c.Database.Timeout)
	e.setInt("DATABASE_MAX_CONNECTIONS", &c.Database.MaxConnections)

	e.setStr("HTTP_HOST", &c.HTTP.Host)
	e.setInt("HTTP_PORT", &c.HTTP.Port)
	e.setDur("HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout)
	e.setDur("HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout)

	e.setDur("WEBSOCKET_PING_INTERVAL", &c.WebSocket.PingInterval)
	e.setDur("WEBSOCKET_READ_TIMEOUT", &c.WebSocket.ReadTimeout)
	e.setDur("WEBSOCKET_WRITE_TIMEOUT", &c.WebSocket.WriteTimeout)
	e.setInt("WEBSOCKET_BUFFER_SIZE", &c.WebSocket.BufferSize)
	e.setStr("RELAY_TOKEN", &c.WebSocket.RelayToken)

	e.setStr("LOG_LEVEL", &c.Log.Level)
	e.setStr("LOG_FORMAT", &c.Log.Format)

	return errors.Join(e.errs...)
}

type envReader struct {
	errs []error
}

func (e *envReader) str(name string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + name))
}

func (e *envReader) setStr(name string, dst *string) {
	if v := e.str(name); v != "" {
		*dst = v
	}
}

func (e *envReader) setInt(name string, dst *int) {
	v := e.str(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
		return
	}
	*dst = n
}

func (e *envReader) setDur(name string, dst *time.Duration) {
	v := e.str(name)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
		return
	}
	*dst = d
}

func (e *envReader) setBool(name string, dst *bool) {
	v := e.str(name)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
		return
	}
	*dst = b
}

// loadEnvFile parses a KEY=VALUE file and sets any keys not already present
// in the environment.
func loadEnvFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, val)
		}
	}
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", s, err)
	}
	return level, nil
}

// NewLogger builds the process logger described by the log section.
func NewLogger(cfg LogConfig, w io.Writer) *slog.Logger {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
