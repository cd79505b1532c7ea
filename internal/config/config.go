package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the application's merged configuration. Loaded
// default -> file -> file -> environment -> CLI flag, matching the
// teacher's layered-precedence convention (internal/common/config.go).
type Config struct {
	Environment string `toml:"environment"`

	Server    ServerConfig    `toml:"server"`
	Storage   StorageConfig   `toml:"storage"`
	Browser   BrowserConfig   `toml:"browser"`
	Queue     QueueConfig     `toml:"queue"`
	Vault     VaultConfig     `toml:"vault"`
	Recovery  RecoveryConfig  `toml:"recovery"`
	Logging   LoggingConfig   `toml:"logging"`
	Auth      AuthConfig      `toml:"auth"`
	DevMode   bool            `toml:"dev_mode"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// AuthToken binds one bearer token to a principal (spec §6 bearer-token
// auth). Operator-managed: provisioned via the config file, not a
// self-service signup flow.
type AuthToken struct {
	Token   string `toml:"token"`
	UserID  string `toml:"user_id"`
	IsAdmin bool   `toml:"is_admin"`
}

// AuthConfig lists every valid bearer token for this deployment.
type AuthConfig struct {
	Tokens []AuthToken `toml:"tokens"`
}

type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BrowserConfig configures the chromedp pool (spec §4.2).
type BrowserConfig struct {
	MaxInstances       int           `toml:"max_instances"`
	Visible            bool          `toml:"visible"`
	UserAgent          string        `toml:"user_agent"`
	ViewportWidth      int           `toml:"viewport_width"`
	ViewportHeight     int           `toml:"viewport_height"`
	NavigationTimeout  time.Duration `toml:"navigation_timeout"`
	IdleSessionTTL      time.Duration `toml:"idle_session_ttl"`
}

// QueueConfig configures the job queue and resource manager (spec §4.8, §4.9).
type QueueConfig struct {
	MaxConcurrentJobs int           `toml:"max_concurrent_jobs"`
	TickInterval      time.Duration `toml:"tick_interval"`
	PurgeAfter        time.Duration `toml:"purge_after"`

	CapacitySessions int     `toml:"capacity_sessions"`
	CapacityMemoryMB int     `toml:"capacity_memory_mb"`
	CapacityCPU      float64 `toml:"capacity_cpu"`
}

// VaultConfig configures the credential vault (spec §4.1).
type VaultConfig struct {
	KDFIterations int `toml:"kdf_iterations"`
}

// RecoveryConfig holds circuit-breaker and recent-error settings (spec
// §4.7). The recovery engine does not read these fields: its breakers
// trip after a fixed 10 consecutive failures and stay open for a fixed
// 5 minutes, and its recent-error buffer holds a fixed 1000 entries,
// the same values as the defaults below.
type RecoveryConfig struct {
	CircuitBreakerThreshold int           `toml:"circuit_breaker_threshold"`
	CircuitBreakerCooldown  time.Duration `toml:"circuit_breaker_cooldown"`
	RecentErrorsCap         int           `toml:"recent_errors_cap"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the built-in baseline configuration, overridden in
// order by each subsequent file passed to Load.
func Default() *Config {
	return &Config{
		Environment: "development",
		Server:      ServerConfig{Host: "0.0.0.0", Port: 8080},
		Storage:     StorageConfig{Badger: BadgerConfig{Path: "./data/dispatcher.db"}},
		Browser: BrowserConfig{
			MaxInstances:      5,
			Visible:           false,
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
			ViewportWidth:     1366,
			ViewportHeight:    768,
			NavigationTimeout: 30 * time.Second,
			IdleSessionTTL:    20 * time.Minute,
		},
		Queue: QueueConfig{
			MaxConcurrentJobs: 3,
			TickInterval:      5 * time.Second,
			PurgeAfter:        24 * time.Hour,
			CapacitySessions:  5,
			CapacityMemoryMB:  4096,
			CapacityCPU:       4.0,
		},
		Vault: VaultConfig{KDFIterations: 100_000},
		Recovery: RecoveryConfig{
			CircuitBreakerThreshold: 10,
			CircuitBreakerCooldown:  5 * time.Minute,
			RecentErrorsCap:         1000,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load builds a Config from defaults, then each TOML file in order,
// then environment variable overrides (spec §6 Environment).
func Load(paths ...string) (*Config, error) {
	cfg := Default()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DISPATCHER_SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("DISPATCHER_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("BROWSER_VISIBLE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Browser.Visible = b
		}
	}
	if v := os.Getenv("MAX_CONCURRENT_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.MaxConcurrentJobs = n
		}
	}
	if v := os.Getenv("DEV_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DevMode = b
		}
	}
}

// MasterKey reads the required credential-vault master secret. Its
// absence is a startup error (spec §4.1).
func MasterKey() (string, error) {
	key := os.Getenv("MASTER_KEY")
	if key == "" {
		return "", fmt.Errorf("MASTER_KEY environment variable is not set; a secure master key is required for credential encryption")
	}
	return key, nil
}
