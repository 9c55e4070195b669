package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig mirrors Config for the TOML overlay.  Durations are strings
// in Go syntax or bare seconds.
type fileConfig struct {
	Env string `toml:"env"`

	Source struct {
		URL           string `toml:"url"`
		SpreadsheetID string `toml:"spreadsheet_id"`
		MagicPrefix   string `toml:"magic_prefix"`
		PollInterval  string `toml:"poll_interval"`
		RetryInterval string `toml:"retry_interval"`
		MaxAttempts   int    `toml:"max_attempts"`
		CursorPolicy  string `toml:"cursor_policy"`
	} `toml:"source"`

	Decrypt struct {
		PrivateKeyPath string `toml:"private_key_path"`
		PrivateKey     string `toml:"private_key"`
		Padding        string `toml:"padding"`
	} `toml:"decrypt"`

	Canvas struct {
		Host               string `toml:"host"`
		APIKey             string `toml:"api_key"`
		Comment            string `toml:"comment"`
		Timeout            string `toml:"timeout"`
		RosterCacheSeconds int    `toml:"roster_cache_seconds"`
	} `toml:"canvas"`

	State struct {
		CursorPath string `toml:"cursor_path"`
		AuditPath  string `toml:"audit_path"`
		DBPath     string `toml:"db_path"`
	} `toml:"state"`

	Audit struct {
		RetentionDays      int `toml:"retention_days"`
		PruneIntervalHours int `toml:"prune_interval_hours"`
	} `toml:"audit"`

	Server struct {
		HTTPAddr string `toml:"http_addr"`
		GRPCAddr string `toml:"grpc_addr"`
	} `toml:"server"`

	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
}

// ApplyFile overlays the TOML file at path on cfg.  Only keys present in
// the file override cfg.
func ApplyFile(cfg Config, path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config file %s: unknown keys %v", path, undecoded)
	}

	str := func(dst *string, v string, key ...string) {
		if meta.IsDefined(key...) {
			*dst = strings.TrimSpace(v)
		}
	}
	lower := func(dst *string, v string, key ...string) {
		if meta.IsDefined(key...) {
			*dst = strings.ToLower(strings.TrimSpace(v))
		}
	}
	num := func(dst *int, v int, key ...string) {
		if meta.IsDefined(key...) {
			*dst = v
		}
	}
	dur := func(dst *time.Duration, v string, key ...string) error {
		if !meta.IsDefined(key...) {
			return nil
		}
		d, err := parseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", strings.Join(key, "."), err)
		}
		*dst = d
		return nil
	}

	lower(&cfg.Env, raw.Env, "env")

	str(&cfg.SourceURL, raw.Source.URL, "source", "url")
	str(&cfg.SpreadsheetID, raw.Source.SpreadsheetID, "source", "spreadsheet_id")
	str(&cfg.MagicPrefix, raw.Source.MagicPrefix, "source", "magic_prefix")
	if err := dur(&cfg.PollInterval, raw.Source.PollInterval, "source", "poll_interval"); err != nil {
		return Config{}, err
	}
	if err := dur(&cfg.FetchRetryInterval, raw.Source.RetryInterval, "source", "retry_interval"); err != nil {
		return Config{}, err
	}
	num(&cfg.FetchMaxAttempts, raw.Source.MaxAttempts, "source", "max_attempts")
	lower(&cfg.CursorPolicy, raw.Source.CursorPolicy, "source", "cursor_policy")

	str(&cfg.PrivateKeyPath, raw.Decrypt.PrivateKeyPath, "decrypt", "private_key_path")
	if meta.IsDefined("decrypt", "private_key") {
		cfg.PrivateKeyPEM = raw.Decrypt.PrivateKey
	}
	lower(&cfg.RSAPadding, raw.Decrypt.Padding, "decrypt", "padding")

	str(&cfg.CanvasHost, raw.Canvas.Host, "canvas", "host")
	str(&cfg.CanvasAPIKey, raw.Canvas.APIKey, "canvas", "api_key")
	str(&cfg.Comment, raw.Canvas.Comment, "canvas", "comment")
	if err := dur(&cfg.HTTPTimeout, raw.Canvas.Timeout, "canvas", "timeout"); err != nil {
		return Config{}, err
	}
	if meta.IsDefined("canvas", "roster_cache_seconds") {
		cfg.RosterCacheTTL = time.Duration(raw.Canvas.RosterCacheSeconds) * time.Second
	}

	str(&cfg.CursorPath, raw.State.CursorPath, "state", "cursor_path")
	str(&cfg.AuditPath, raw.State.AuditPath, "state", "audit_path")
	str(&cfg.DBPath, raw.State.DBPath, "state", "db_path")

	num(&cfg.AuditRetentionDays, raw.Audit.RetentionDays, "audit", "retention_days")
	num(&cfg.PruneIntervalHours, raw.Audit.PruneIntervalHours, "audit", "prune_interval_hours")

	if meta.IsDefined("server", "http_addr") {
		cfg.HTTPAddr = listenAddr(raw.Server.HTTPAddr)
	}
	if meta.IsDefined("server", "grpc_addr") {
		cfg.GRPCAddr = listenAddr(raw.Server.GRPCAddr)
	}

	lower(&cfg.LogLevel, raw.Log.Level, "log", "level")
	lower(&cfg.LogFormat, raw.Log.Format, "log", "format")

	cfg.ConfigFile = path
	return cfg, nil
}
