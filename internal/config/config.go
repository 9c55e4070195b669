package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env string // "dev" | "prod"

	// Intake
	SourceURL          string
	SpreadsheetID      string
	MagicPrefix        string
	PollInterval       time.Duration
	FetchRetryInterval time.Duration
	FetchMaxAttempts   int // 0 = retry until shutdown
	CursorPolicy       string

	// Decryption
	PrivateKeyPath string
	PrivateKeyPEM  string
	RSAPadding     string // "pkcs1v15" | "oaep"

	// Grading host
	CanvasHost     string
	CanvasAPIKey   string
	Comment        string
	HTTPTimeout    time.Duration
	RosterCacheTTL time.Duration // 0 = look up every time

	// State
	CursorPath string
	AuditPath  string
	DBPath     string

	// Audit mirror retention
	AuditRetentionDays int // 0 = keep forever
	PruneIntervalHours int

	// Status endpoints; empty disables.
	HTTPAddr string
	GRPCAddr string

	LogLevel  string
	LogFormat string // "console" | "json"; empty follows Env

	// ConfigFile is an optional TOML overlay.
	ConfigFile string
}

func FromEnv() Config {
	env := strings.ToLower(getenvDefault("GRADEBRIDGE_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	return Config{
		Env: env,

		SourceURL:          strings.TrimSpace(os.Getenv("GRADEBRIDGE_SOURCE_URL")),
		SpreadsheetID:      strings.TrimSpace(os.Getenv("GRADEBRIDGE_SPREADSHEET_ID")),
		MagicPrefix:        getenvDefault("GRADEBRIDGE_MAGIC_PREFIX", "magic"),
		PollInterval:       getenvDuration("GRADEBRIDGE_POLL_INTERVAL", 60*time.Second),
		FetchRetryInterval: getenvDuration("GRADEBRIDGE_FETCH_RETRY_INTERVAL", 30*time.Second),
		FetchMaxAttempts:   getenvInt("GRADEBRIDGE_FETCH_MAX_ATTEMPTS", 0),
		CursorPolicy:       strings.ToLower(getenvDefault("GRADEBRIDGE_CURSOR_POLICY", "process_all")),

		PrivateKeyPath: strings.TrimSpace(os.Getenv("GRADEBRIDGE_PRIVATE_KEY_PATH")),
		PrivateKeyPEM:  os.Getenv("GRADEBRIDGE_PRIVATE_KEY"),
		RSAPadding:     strings.ToLower(getenvDefault("GRADEBRIDGE_RSA_PADDING", "pkcs1v15")),

		CanvasHost:     strings.TrimSpace(os.Getenv("GRADEBRIDGE_CANVAS_HOST")),
		CanvasAPIKey:   strings.TrimSpace(os.Getenv("GRADEBRIDGE_CANVAS_API_KEY")),
		Comment:        getenvDefault("GRADEBRIDGE_COMMENT", "Submitted files"),
		HTTPTimeout:    getenvDuration("GRADEBRIDGE_HTTP_TIMEOUT", 30*time.Second),
		RosterCacheTTL: time.Duration(getenvInt("GRADEBRIDGE_ROSTER_CACHE_SECONDS", 0)) * time.Second,

		CursorPath: getenvDefault("GRADEBRIDGE_CURSOR_PATH", "./data/cursor.txt"),
		AuditPath:  getenvDefault("GRADEBRIDGE_AUDIT_PATH", "./data/audit.jsonl"),
		DBPath:     getenvDefault("GRADEBRIDGE_DB_PATH", "./data/gradebridge.db"),

		AuditRetentionDays: getenvInt("GRADEBRIDGE_AUDIT_RETENTION_DAYS", 90),
		PruneIntervalHours: getenvInt("GRADEBRIDGE_PRUNE_INTERVAL_HOURS", 6),

		HTTPAddr: listenAddr(getenvDefault("GRADEBRIDGE_HTTP_ADDR", ":8080")),
		GRPCAddr: listenAddr(os.Getenv("GRADEBRIDGE_GRPC_ADDR")),

		LogLevel:  strings.ToLower(getenvDefault("GRADEBRIDGE_LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(strings.TrimSpace(os.Getenv("GRADEBRIDGE_LOG_FORMAT"))),

		ConfigFile: strings.TrimSpace(os.Getenv("GRADEBRIDGE_CONFIG_FILE")),
	}
}

// Load reads the environment and applies the TOML overlay named by
// GRADEBRIDGE_CONFIG_FILE, if any.
func Load() (Config, error) {
	cfg := FromEnv()
	if cfg.ConfigFile == "" {
		return cfg, nil
	}
	return ApplyFile(cfg, cfg.ConfigFile)
}

// LogOutput is the effective log format: LogFormat when set, otherwise
// JSON in prod and the console writer in dev.
func (c Config) LogOutput() string {
	if c.LogFormat != "" {
		return c.LogFormat
	}
	if c.Env == "prod" {
		return "json"
	}
	return "console"
}

// Validate reports every missing or inconsistent setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.SourceURL == "" && c.SpreadsheetID == "" {
		errs = append(errs, errors.New("GRADEBRIDGE_SOURCE_URL or GRADEBRIDGE_SPREADSHEET_ID is required"))
	}
	if c.PrivateKeyPath == "" && strings.TrimSpace(c.PrivateKeyPEM) == "" {
		errs = append(errs, errors.New("GRADEBRIDGE_PRIVATE_KEY_PATH or GRADEBRIDGE_PRIVATE_KEY is required"))
	}
	if c.CanvasHost == "" {
		errs = append(errs, errors.New("GRADEBRIDGE_CANVAS_HOST is required"))
	}
	if c.CanvasAPIKey == "" {
		errs = append(errs, errors.New("GRADEBRIDGE_CANVAS_API_KEY is required"))
	}
	if c.CursorPath == "" {
		errs = append(errs, errors.New("GRADEBRIDGE_CURSOR_PATH is required"))
	}
	if c.AuditPath == "" {
		errs = append(errs, errors.New("GRADEBRIDGE_AUDIT_PATH is required"))
	}
	switch c.Env {
	case "dev", "prod":
	default:
		errs = append(errs, fmt.Errorf("GRADEBRIDGE_ENV: unknown value %q", c.Env))
	}
	switch c.RSAPadding {
	case "pkcs1v15", "oaep":
	default:
		errs = append(errs, fmt.Errorf("GRADEBRIDGE_RSA_PADDING: unknown value %q", c.RSAPadding))
	}
	switch c.CursorPolicy {
	case "process_all", "skip_all":
	default:
		errs = append(errs, fmt.Errorf("GRADEBRIDGE_CURSOR_POLICY: unknown value %q", c.CursorPolicy))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("GRADEBRIDGE_POLL_INTERVAL must be positive"))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("GRADEBRIDGE_HTTP_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// listenAddr maps "off" and "none" to the empty (disabled) address.
func listenAddr(v string) string {
	v = strings.TrimSpace(v)
	switch strings.ToLower(v) {
	case "off", "none", "disabled":
		return ""
	}
	return v
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// getenvDuration accepts Go duration syntax ("90s") or bare seconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := parseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}
