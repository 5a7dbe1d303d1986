package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

var allowedKeys = []string{
	"projects",
	"source.host",
	"source.token",
	"source.auth_scheme",
	"source.http_timeout",
	"source.retry_attempts",
	"source.retry_delay",
	"files.host",
	"store.connection_string",
	"store.database",
	"sync.interval",
	"sync.run_on_start",
	"sync.json_min",
	"images.interval",
	"images.workers",
	"images.download_timeout",
	"log.level",
	"log.file",
	"log.max_size_mb",
	"log.max_backups",
	"log.max_age_days",
	"coord.redis_addr",
	"coord.redis_password",
	"coord.redis_db",
	"coord.lease_ttl",
}

// AllowedKeys returns the set of valid config keys.
func AllowedKeys() []string {
	return allowedKeys
}

// IsAllowedKey checks if a key is a valid config key.
func IsAllowedKey(key string) bool {
	for _, k := range allowedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Get returns the value of a config key. Secrets are masked.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "projects":
		return strings.Join(c.Projects, ","), nil
	case "source.host":
		return c.Source.Host, nil
	case "source.token":
		return mask(c.Source.Token), nil
	case "source.auth_scheme":
		return c.Source.AuthScheme, nil
	case "source.http_timeout":
		return c.Source.HTTPTimeout.String(), nil
	case "source.retry_attempts":
		return strconv.Itoa(c.Source.RetryAttempts), nil
	case "source.retry_delay":
		return c.Source.RetryDelay.String(), nil
	case "files.host":
		return c.Files.Host, nil
	case "store.connection_string":
		return c.Store.ConnectionString, nil
	case "store.database":
		return c.Store.Database, nil
	case "sync.interval":
		return c.Sync.Interval.String(), nil
	case "sync.run_on_start":
		return strconv.FormatBool(c.Sync.RunOnStart), nil
	case "sync.json_min":
		return strconv.FormatBool(c.Sync.JSONMin), nil
	case "images.interval":
		return c.Images.Interval.String(), nil
	case "images.workers":
		return strconv.Itoa(c.Images.Workers), nil
	case "images.download_timeout":
		return c.Images.DownloadTimeout.String(), nil
	case "log.level":
		return c.Log.Level, nil
	case "log.file":
		return c.Log.File, nil
	case "log.max_size_mb":
		return strconv.Itoa(c.Log.MaxSizeMB), nil
	case "log.max_backups":
		return strconv.Itoa(c.Log.MaxBackups), nil
	case "log.max_age_days":
		return strconv.Itoa(c.Log.MaxAgeDays), nil
	case "coord.redis_addr":
		return c.Coord.RedisAddr, nil
	case "coord.redis_password":
		return mask(c.Coord.RedisPassword), nil
	case "coord.redis_db":
		return strconv.Itoa(c.Coord.RedisDB), nil
	case "coord.lease_ttl":
		return c.Coord.LeaseTTL.String(), nil
	default:
		return "", fmt.Errorf("unknown key: %s", key)
	}
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

// SetKey reads the TOML file at path, sets key=value, and writes it back.
func SetKey(path, key, value string) error {
	if !IsAllowedKey(key) {
		return fmt.Errorf("unknown key: %s", key)
	}

	data := make(map[string]any)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &data); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	parsedValue, err := parseSetValue(key, value)
	if err != nil {
		return err
	}
	if err := setNestedKey(data, strings.Split(key, "."), parsedValue); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(data)
}

func parseSetValue(key, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch key {
	case "source.retry_attempts", "images.workers", "log.max_size_mb", "log.max_backups", "log.max_age_days":
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return int64(parsed), nil
	case "coord.redis_db":
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("%s must be a non-negative integer", key)
		}
		return int64(parsed), nil
	case "sync.run_on_start", "sync.json_min":
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s must be true or false", key)
		}
		return parsed, nil
	case "source.http_timeout", "source.retry_delay", "sync.interval", "images.interval", "images.download_timeout", "coord.lease_ttl":
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive duration (e.g. 10m)", key)
		}
		return parsed.String(), nil
	case "projects":
		return SplitCSV(value), nil
	default:
		return value, nil
	}
}

func setNestedKey(data map[string]any, parts []string, value any) error {
	if len(parts) == 0 {
		return fmt.Errorf("invalid config key")
	}
	if len(parts) == 1 {
		data[parts[0]] = value
		return nil
	}
	childRaw, ok := data[parts[0]]
	if !ok {
		child := map[string]any{}
		data[parts[0]] = child
		return setNestedKey(child, parts[1:], value)
	}
	child, ok := childRaw.(map[string]any)
	if !ok {
		return fmt.Errorf("cannot set nested key %q", strings.Join(parts, "."))
	}
	return setNestedKey(child, parts[1:], value)
}
