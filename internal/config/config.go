// Package config loads service configuration from built-in defaults, an
// optional YAML file and environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// PathEnvVar overrides the config file location.
const PathEnvVar = "CFGVAULT_CONFIG"

const envPrefix = "CFGVAULT_"

var DefaultPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/cfgvault/config.yaml",
}

// legacyEnv keeps the unprefixed variables the service has always honoured.
var legacyEnv = map[string]string{
	"HTTP_ADDR":    "http.addr",
	"LOG_LEVEL":    "log.level",
	"DATABASE_URL": "database.url",
}

type Config struct {
	HTTP       HTTPConfig       `koanf:"http"`
	Log        LogConfig        `koanf:"log"`
	Database   DatabaseConfig   `koanf:"database"`
	Archive    ArchiveConfig    `koanf:"archive"`
	TLS        TLSConfig        `koanf:"tls"`
	Poll       PollConfig       `koanf:"poll"`
	Controller ControllerConfig `koanf:"controller"`
	Restconf   RestconfConfig   `koanf:"restconf"`
	Breaker    BreakerConfig    `koanf:"breaker"`
	Scheduler  SchedulerConfig  `koanf:"scheduler"`
}

type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

type LogConfig struct {
	Level string `koanf:"level"`
	// Format is json or console.
	Format string `koanf:"format"`
}

type DatabaseConfig struct {
	URL      string `koanf:"url"`
	MaxConns int32  `koanf:"max_conns"`
}

// ArchiveConfig holds the secret used to encrypt controller config exports
// and the directory downloaded archives are spooled to.
type ArchiveConfig struct {
	Password string `koanf:"password"`
	SpoolDir string `koanf:"spool_dir"`
}

type TLSConfig struct {
	CAFile             string `koanf:"ca_file"`
	InsecureSkipVerify bool   `koanf:"insecure_skip_verify"`
}

// PollConfig bounds how long an export task is polled before giving up.
type PollConfig struct {
	Delay       time.Duration `koanf:"delay"`
	MaxDelay    time.Duration `koanf:"max_delay"`
	MaxAttempts int           `koanf:"max_attempts"`
	Backoff     bool          `koanf:"backoff"`
}

type ControllerConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

type RestconfConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

type BreakerConfig struct {
	MaxFailures uint32        `koanf:"max_failures"`
	OpenTimeout time.Duration `koanf:"open_timeout"`
}

type SchedulerConfig struct {
	Tick time.Duration `koanf:"tick"`
}

func Defaults() Config {
	return Config{
		HTTP:     HTTPConfig{Addr: ":8081"},
		Log:      LogConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{MaxConns: 16},
		Archive:  ArchiveConfig{SpoolDir: "Backups"},
		Poll: PollConfig{
			Delay:       time.Second,
			MaxDelay:    10 * time.Second,
			MaxAttempts: 120,
		},
		Controller: ControllerConfig{Timeout: 30 * time.Second},
		Restconf:   RestconfConfig{Timeout: 5 * time.Second},
		Breaker:    BreakerConfig{MaxFailures: 5, OpenTimeout: 30 * time.Second},
		Scheduler:  SchedulerConfig{Tick: time.Second},
	}
}

// Load layers defaults, the first config file found and the environment.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", legacyKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if err := k.Load(env.Provider(envPrefix, ".", prefixedKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func findFile() string {
	if p := strings.TrimSpace(os.Getenv(PathEnvVar)); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func legacyKey(key string) string {
	return legacyEnv[key]
}

// prefixedKey maps CFGVAULT_POLL_MAX_ATTEMPTS to poll.max_attempts.
func prefixedKey(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	if key == "config" {
		return ""
	}
	section, rest, ok := strings.Cut(key, "_")
	if !ok || rest == "" {
		return ""
	}
	return section + "." + rest
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Database.URL) == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, errors.New("database.max_conns must be positive"))
	}
	if c.Archive.Password == "" {
		errs = append(errs, errors.New("archive.password is required"))
	}
	if strings.TrimSpace(c.Archive.SpoolDir) == "" {
		errs = append(errs, errors.New("archive.spool_dir is required"))
	}
	if c.Poll.Delay <= 0 {
		errs = append(errs, errors.New("poll.delay must be positive"))
	}
	if c.Poll.MaxAttempts <= 0 {
		errs = append(errs, errors.New("poll.max_attempts must be positive"))
	}
	if c.Poll.Backoff && c.Poll.MaxDelay < c.Poll.Delay {
		errs = append(errs, errors.New("poll.max_delay must not be below poll.delay"))
	}
	if f := strings.ToLower(c.Log.Format); f != "json" && f != "console" {
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	if c.Scheduler.Tick <= 0 {
		errs = append(errs, errors.New("scheduler.tick must be positive"))
	}
	if c.Breaker.MaxFailures == 0 {
		errs = append(errs, errors.New("breaker.max_failures must be positive"))
	}
	return errors.Join(errs...)
}
