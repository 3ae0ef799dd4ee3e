package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Transport security modes for the IMAP connection.
const (
	SecurityTLS      = "tls"
	SecurityStartTLS = "starttls"
	SecurityNone     = "none"
)

// Lock backends.
const (
	LockBackendFile     = "file"
	LockBackendPostgres = "postgres"
)

// IMAPConfig holds the mailbox connection settings.
type IMAPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Security string `mapstructure:"security" yaml:"security"`
	Username string `mapstructure:"username" yaml:"username"`

	// Password may be left empty, in which case it is read from the
	// system keyring.
	Password string `mapstructure:"password" yaml:"password"`

	// Mailbox is the label being archived. It must name a dedicated
	// mailbox, never the default inbox.
	Mailbox string `mapstructure:"mailbox" yaml:"mailbox"`

	// BatchSize bounds how many UIDs one search returns.
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`

	// IdleTimeoutSec bounds a single IDLE wait.
	IdleTimeoutSec int `mapstructure:"idle_timeout_sec" yaml:"idle_timeout_sec"`
}

// Addr returns host:port, defaulting the port from the security mode.
func (c IMAPConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = 993
		if c.Security != SecurityTLS {
			port = 143
		}
	}
	return c.Host + ":" + strconv.Itoa(port)
}

// SyncConfig controls the sync runner.
type SyncConfig struct {
	// MaxCycles stops the runner after this many loop iterations.
	// Zero means run until stopped.
	MaxCycles int `mapstructure:"max_cycles" yaml:"max_cycles"`

	// FetchRate is the maximum number of fetches per second. Zero
	// disables pacing.
	FetchRate  float64 `mapstructure:"fetch_rate" yaml:"fetch_rate"`
	FetchBurst int     `mapstructure:"fetch_burst" yaml:"fetch_burst"`

	SubjectFallback bool `mapstructure:"subject_fallback" yaml:"subject_fallback"`
	TrustDate       bool `mapstructure:"trust_date" yaml:"trust_date"`
}

// LockConfig selects the single-instance lock backend.
type LockConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	Dir     string `mapstructure:"dir" yaml:"dir"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

// StoreConfig locates the archive database.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// ArchiveConfig holds ingestion settings.
type ArchiveConfig struct {
	// OwnDomain is excluded from recipient links. Defaults to the domain
	// of the IMAP username.
	OwnDomain string `mapstructure:"own_domain" yaml:"own_domain"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level           string `mapstructure:"level" yaml:"level"`
	Format          string `mapstructure:"format" yaml:"format"`
	RedactAddresses bool   `mapstructure:"redact_addresses" yaml:"redact_addresses"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Config is the top-level application configuration.
type Config struct {
	IMAP    IMAPConfig    `mapstructure:"imap" yaml:"imap"`
	Sync    SyncConfig    `mapstructure:"sync" yaml:"sync"`
	Lock    LockConfig    `mapstructure:"lock" yaml:"lock"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Archive ArchiveConfig `mapstructure:"archive" yaml:"archive"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// OwnDomain returns the configured own domain or the username's domain.
func (c *Config) OwnDomain() string {
	if c.Archive.OwnDomain != "" {
		return strings.ToLower(c.Archive.OwnDomain)
	}
	if at := strings.LastIndexByte(c.IMAP.Username, '@'); at >= 0 {
		return strings.ToLower(c.IMAP.Username[at+1:])
	}
	return ""
}

// ConfigError reports an invalid or missing configuration value.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error (%s): %s", e.Field, e.Message)
}

// IsConfigError reports whether err (or any error in its chain) is a ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// placeholderLabels are values left over from sample configs.
var placeholderLabels = map[string]bool{
	"changeme":   true,
	"label":      true,
	"mailbox":    true,
	"your-label": true,
	"todo":       true,
	"xxx":        true,
}

// ValidateMailbox rejects an empty label, the default inbox and
// placeholder values.
func ValidateMailbox(label string) error {
	l := strings.TrimSpace(label)
	switch {
	case l == "":
		return &ConfigError{Field: "imap.mailbox", Message: "a mailbox label is required"}
	case strings.EqualFold(l, "INBOX"):
		return &ConfigError{Field: "imap.mailbox", Message: "refusing to archive the default inbox"}
	case placeholderLabels[strings.ToLower(l)],
		strings.HasPrefix(l, "<") && strings.HasSuffix(l, ">"),
		strings.HasPrefix(l, "{{") && strings.HasSuffix(l, "}}"):
		return &ConfigError{Field: "imap.mailbox", Message: fmt.Sprintf("%q looks like a placeholder", l)}
	}
	return nil
}

// Validate checks the settings required to run a sync.
func (c *Config) Validate() error {
	if err := ValidateMailbox(c.IMAP.Mailbox); err != nil {
		return err
	}
	if c.IMAP.Host == "" {
		return &ConfigError{Field: "imap.host", Message: "host is required"}
	}
	if c.IMAP.Username == "" {
		return &ConfigError{Field: "imap.username", Message: "username is required"}
	}
	switch c.IMAP.Security {
	case SecurityTLS, SecurityStartTLS, SecurityNone:
	default:
		return &ConfigError{Field: "imap.security", Message: fmt.Sprintf("unknown security mode %q", c.IMAP.Security)}
	}
	if c.IMAP.BatchSize <= 0 {
		return &ConfigError{Field: "imap.batch_size", Message: "must be positive"}
	}
	if c.IMAP.IdleTimeoutSec <= 0 {
		return &ConfigError{Field: "imap.idle_timeout_sec", Message: "must be positive"}
	}
	if c.Sync.MaxCycles < 0 {
		return &ConfigError{Field: "sync.max_cycles", Message: "must not be negative"}
	}
	switch c.Lock.Backend {
	case LockBackendFile:
	case LockBackendPostgres:
		if c.Lock.DSN == "" {
			return &ConfigError{Field: "lock.dsn", Message: "required for the postgres lock backend"}
		}
	default:
		return &ConfigError{Field: "lock.backend", Message: fmt.Sprintf("unknown lock backend %q", c.Lock.Backend)}
	}
	return nil
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailsync/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailsync", "config.yaml")
}

// defaultDataDir returns ~/.local/share/mailsync.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "mailsync")
}

// setDefaults registers every key so environment overrides apply even
// when the file omits a section.
func setDefaults(v *viper.Viper) {
	v.SetDefault("imap.host", "")
	v.SetDefault("imap.port", 0)
	v.SetDefault("imap.security", SecurityTLS)
	v.SetDefault("imap.username", "")
	v.SetDefault("imap.password", "")
	v.SetDefault("imap.mailbox", "")
	v.SetDefault("imap.batch_size", 100)
	v.SetDefault("imap.idle_timeout_sec", 25*60)

	v.SetDefault("sync.max_cycles", 0)
	v.SetDefault("sync.fetch_rate", 0)
	v.SetDefault("sync.fetch_burst", 1)
	v.SetDefault("sync.subject_fallback", true)
	v.SetDefault("sync.trust_date", false)

	v.SetDefault("lock.backend", LockBackendFile)
	v.SetDefault("lock.dir", filepath.Join(os.TempDir(), "mailsync"))
	v.SetDefault("lock.dsn", "")

	v.SetDefault("store.path", filepath.Join(defaultDataDir(), "archive.db"))
	v.SetDefault("archive.own_domain", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.redact_addresses", false)

	v.SetDefault("metrics.addr", "")
}

// LoadConfig reads configuration from the given YAML file path using
// Viper, overlaid with MAILSYNC_* environment variables. A missing file is
// not an error; defaults and the environment still apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MAILSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed. The password is never written.
func SaveConfig(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	imapCfg := cfg.IMAP
	imapCfg.Password = ""

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("imap", imapCfg)
	v.Set("sync", cfg.Sync)
	v.Set("lock", cfg.Lock)
	v.Set("store", cfg.Store)
	v.Set("archive", cfg.Archive)
	v.Set("log", cfg.Log)
	v.Set("metrics", cfg.Metrics)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
