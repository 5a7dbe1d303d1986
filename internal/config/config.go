package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/subosito/gotenv"
)

const (
	DefaultAuthScheme       = "Token"
	DefaultHTTPTimeout      = 2 * time.Minute
	DefaultRetryAttempts    = 3
	DefaultRetryDelay       = 2 * time.Second
	DefaultConnectionString = "."
	DefaultDatabase         = "lsmirror"
	DefaultSyncInterval     = 10 * time.Minute
	DefaultImagesInterval   = 6 * time.Hour
	DefaultImageWorkers     = 8
	DefaultDownloadTimeout  = 30 * time.Second
	DefaultLogLevel         = "debug"
	DefaultLogFile          = "lsmirror.log"
	DefaultLogMaxSizeMB     = 50
	DefaultLogMaxBackups    = 5
	DefaultLogMaxAgeDays    = 30
	DefaultLeaseTTL         = 30 * time.Minute

	configFileName           = ".lsmirror.toml"
	configDirEnvKey          = "LSMIRROR_CONFIG_DIR"
	trustProjectConfigEnvKey = "LSMIRROR_TRUST_PROJECT_CONFIG"
	envFileEnvKey            = "LSMIRROR_ENV_FILE"
	defaultEnvFile           = ".env"
)

// SourceConfig describes the remote annotation service.
type SourceConfig struct {
	Host          string        `toml:"host"`
	Token         string        `toml:"token"`
	AuthScheme    string        `toml:"auth_scheme"`
	HTTPTimeout   time.Duration `toml:"http_timeout"`
	RetryAttempts int           `toml:"retry_attempts"`
	RetryDelay    time.Duration `toml:"retry_delay"`
}

// FilesConfig describes the static file server that exposes task images.
type FilesConfig struct {
	Host string `toml:"host"`
}

// StoreConfig locates the snapshot store. ConnectionString is the directory that
// holds the database files.
type StoreConfig struct {
	ConnectionString string `toml:"connection_string"`
	Database         string `toml:"database"`
}

// SyncConfig controls the reconciliation schedule.
type SyncConfig struct {
	Interval   time.Duration `toml:"interval"`
	RunOnStart bool          `toml:"run_on_start"`
	JSONMin    bool          `toml:"json_min"`
}

// ImagesConfig controls the image backfill schedule and download pool.
type ImagesConfig struct {
	Interval        time.Duration `toml:"interval"`
	Workers         int           `toml:"workers"`
	DownloadTimeout time.Duration `toml:"download_timeout"`
}

// LogConfig controls the log level and the rotating log file.
type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// CoordConfig enables cross-process job leases in Redis. An empty RedisAddr
// disables coordination.
type CoordConfig struct {
	RedisAddr     string        `toml:"redis_addr"`
	RedisPassword string        `toml:"redis_password"`
	RedisDB       int           `toml:"redis_db"`
	LeaseTTL      time.Duration `toml:"lease_ttl"`
}

// Config defines runtime configuration for lsmirror.
type Config struct {
	Projects                 []string     `toml:"projects"`
	Source                   SourceConfig `toml:"source"`
	Files                    FilesConfig  `toml:"files"`
	Store                    StoreConfig  `toml:"store"`
	Sync                     SyncConfig   `toml:"sync"`
	Images                   ImagesConfig `toml:"images"`
	Log                      LogConfig    `toml:"log"`
	Coord                    CoordConfig  `toml:"coord"`
	TrustedProjectConfigPath string       `toml:"-"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		Source: SourceConfig{
			AuthScheme:    DefaultAuthScheme,
			HTTPTimeout:   DefaultHTTPTimeout,
			RetryAttempts: DefaultRetryAttempts,
			RetryDelay:    DefaultRetryDelay,
		},
		Store: StoreConfig{
			ConnectionString: DefaultConnectionString,
			Database:         DefaultDatabase,
		},
		Sync: SyncConfig{
			Interval:   DefaultSyncInterval,
			RunOnStart: true,
		},
		Images: ImagesConfig{
			Interval:        DefaultImagesInterval,
			Workers:         DefaultImageWorkers,
			DownloadTimeout: DefaultDownloadTimeout,
		},
		Log: LogConfig{
			Level:      DefaultLogLevel,
			File:       DefaultLogFile,
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
		},
		Coord: CoordConfig{
			LeaseTTL: DefaultLeaseTTL,
		},
	}
}

func loadFile(path string, cfg *Config) error {
	_, err := loadFileIfExists(path, cfg)
	return err
}

func loadFileIfExists(path string, cfg *Config) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return false, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return true, nil
}

func overrideConfigPath() (string, bool) {
	dir := strings.TrimSpace(os.Getenv(configDirEnvKey))
	if dir == "" {
		return "", false
	}
	return filepath.Join(dir, configFileName), true
}

func trustProjectConfig() bool {
	raw := strings.TrimSpace(os.Getenv(trustProjectConfigEnvKey))
	if raw == "" {
		return false
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return value
}

// GlobalPath returns the path to the global config file.
func GlobalPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configFileName), nil
}

// ProjectPath returns the path to the project config file.
func ProjectPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, configFileName), nil
}

// Load reads config from trusted files, the .env file and the environment.
func Load() (*Config, error) {
	cfg := Default()

	if overridePath, ok := overrideConfigPath(); ok {
		if err := loadFile(overridePath, &cfg); err != nil {
			return nil, err
		}
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			if err := loadFile(filepath.Join(home, configFileName), &cfg); err != nil {
				return nil, err
			}
		}

		if trustProjectConfig() {
			if cwd, err := os.Getwd(); err == nil {
				projectPath := filepath.Join(cwd, configFileName)
				loaded, err := loadFileIfExists(projectPath, &cfg)
				if err != nil {
					return nil, err
				}
				if loaded {
					cfg.TrustedProjectConfigPath = projectPath
				}
			}
		}
	}

	if err := loadDotEnv(envFilePath()); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	cfg.normalize()

	return &cfg, nil
}

func envFilePath() string {
	if path := strings.TrimSpace(os.Getenv(envFileEnvKey)); path != "" {
		return path
	}
	return defaultEnvFile
}

// loadDotEnv exports variables from a dotenv file without overriding variables
// already present in the environment.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("LS_HOST")); v != "" {
		cfg.Source.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("TOKEN")); v != "" {
		cfg.Source.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("SRV_HOST")); v != "" {
		cfg.Files.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("DB_CONNECTION_STRING")); v != "" {
		cfg.Store.ConnectionString = v
	}
	if v := strings.TrimSpace(os.Getenv("DB_NAME")); v != "" {
		cfg.Store.Database = v
	}
	if v := strings.TrimSpace(os.Getenv("PROJECTS_ID")); v != "" {
		cfg.Projects = SplitCSV(v)
	}
	if v := strings.TrimSpace(os.Getenv("LSMIRROR_LOG_FILE")); v != "" {
		cfg.Log.File = v
	}
	if v := strings.TrimSpace(os.Getenv("LSMIRROR_REDIS_ADDR")); v != "" {
		cfg.Coord.RedisAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("LSMIRROR_REDIS_PASSWORD")); v != "" {
		cfg.Coord.RedisPassword = v
	}
	if v := strings.TrimSpace(os.Getenv("LSMIRROR_HTTP_TIMEOUT")); v != "" {
		if d, ok := parseDuration(v); ok {
			cfg.Source.HTTPTimeout = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("LSMIRROR_IMAGE_WORKERS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Images.Workers = n
		}
	}
}

// Validate checks the settings every job needs.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Source.Host) == "" {
		errs = append(errs, errors.New("source.host is required (LS_HOST)"))
	}
	if strings.TrimSpace(c.Files.Host) == "" {
		errs = append(errs, errors.New("files.host is required (SRV_HOST)"))
	}
	if strings.TrimSpace(c.Store.Database) == "" {
		errs = append(errs, errors.New("store.database is required (DB_NAME)"))
	}
	return errors.Join(errs...)
}

// DBPath returns the SQLite file backing the snapshot store.
func (c *Config) DBPath() string {
	return filepath.Join(c.Store.ConnectionString, c.Store.Database+".db")
}

// SplitCSV splits a comma-separated list, dropping blanks.
func SplitCSV(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func parseDuration(value string) (time.Duration, bool) {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d, true
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second, true
	}
	return 0, false
}

func (c *Config) normalize() {
	c.Source.Host = strings.TrimRight(strings.TrimSpace(c.Source.Host), "/")
	c.Files.Host = strings.TrimRight(strings.TrimSpace(c.Files.Host), "/")
	if strings.TrimSpace(c.Source.AuthScheme) == "" {
		c.Source.AuthScheme = DefaultAuthScheme
	}
	if c.Source.HTTPTimeout <= 0 {
		c.Source.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.Source.RetryAttempts <= 0 {
		c.Source.RetryAttempts = 1
	}
	if c.Source.RetryDelay <= 0 {
		c.Source.RetryDelay = DefaultRetryDelay
	}
	if strings.TrimSpace(c.Store.ConnectionString) == "" {
		c.Store.ConnectionString = DefaultConnectionString
	}
	if c.Sync.Interval <= 0 {
		c.Sync.Interval = DefaultSyncInterval
	}
	if c.Images.Interval <= 0 {
		c.Images.Interval = DefaultImagesInterval
	}
	if c.Images.Workers <= 0 {
		c.Images.Workers = DefaultImageWorkers
	}
	if c.Images.DownloadTimeout <= 0 {
		c.Images.DownloadTimeout = DefaultDownloadTimeout
	}
	if c.Coord.LeaseTTL <= 0 {
		c.Coord.LeaseTTL = DefaultLeaseTTL
	}
	c.Projects = SplitCSV(strings.Join(c.Projects, ","))
}
