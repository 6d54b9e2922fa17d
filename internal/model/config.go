package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// TLS modes for the SMTP connection.
const (
	TLSAuto     = "auto"
	TLSImplicit = "implicit"
	TLSStartTLS = "starttls"
	TLSNone     = "none"
)

// SMTPConfig holds the static settings of one SMTP account. It is never
// mutated after the manager is constructed.
type SMTPConfig struct {
	// User is the SASL login name. Empty disables authentication.
	User string `mapstructure:"user" yaml:"user"`

	// Pass is normally loaded from the keyring rather than the file.
	Pass string `mapstructure:"password" yaml:"-"`

	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`

	// Name is the display name used in the From header.
	Name string `mapstructure:"name" yaml:"name"`

	// Address is the sender address used for MAIL FROM.
	Address string `mapstructure:"address" yaml:"address"`

	// Connect keeps one SMTP session open across actions instead of
	// dialing for each one.
	Connect bool `mapstructure:"connect" yaml:"connect"`

	// TimeoutMs bounds dialing and every SMTP command.
	TimeoutMs int64 `mapstructure:"timeout_ms" yaml:"timeout_ms"`

	// TLS is one of auto, implicit, starttls, none.
	TLS string `mapstructure:"tls" yaml:"tls"`
}

// Timeout returns TimeoutMs as a duration.
func (c SMTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Addr returns host:port.
func (c SMTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IMAPConfig enables copying delivered messages into a Sent mailbox.
type IMAPConfig struct {
	Host       string `mapstructure:"host" yaml:"host"`
	Port       int    `mapstructure:"port" yaml:"port"`
	User       string `mapstructure:"user" yaml:"user"`
	Pass       string `mapstructure:"password" yaml:"-"`
	SentFolder string `mapstructure:"sent_folder" yaml:"sent_folder"`

	// TLS is one of auto, implicit, starttls, none. Auto means implicit on
	// port 993 and STARTTLS elsewhere.
	TLS string `mapstructure:"tls" yaml:"tls"`

	// TimeoutMs bounds one copy from dial to logout.
	TimeoutMs int64 `mapstructure:"timeout_ms" yaml:"timeout_ms"`
}

// Timeout returns TimeoutMs as a duration.
func (c IMAPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Addr returns host:port.
func (c IMAPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Enabled reports whether an IMAP host is configured.
func (c IMAPConfig) Enabled() bool {
	return c.Host != ""
}

// StoreConfig locates the result journal.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig holds logging preferences.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	SMTP  SMTPConfig  `mapstructure:"smtp" yaml:"smtp"`
	IMAP  IMAPConfig  `mapstructure:"imap" yaml:"imap"`
	Store StoreConfig `mapstructure:"store" yaml:"store"`
	Log   LogConfig   `mapstructure:"log" yaml:"log"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/smtpq/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "smtpq", "config.yaml")
}

// defaultStorePath returns ~/.config/smtpq/journal.db.
func defaultStorePath() string {
	return filepath.Join(filepath.Dir(DefaultConfigPath()), "journal.db")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("smtp.user", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.name", "")
	v.SetDefault("smtp.address", "")
	v.SetDefault("smtp.connect", false)
	v.SetDefault("smtp.timeout_ms", 30000)
	v.SetDefault("smtp.tls", TLSAuto)
	v.SetDefault("imap.host", "")
	v.SetDefault("imap.port", 993)
	v.SetDefault("imap.user", "")
	v.SetDefault("imap.password", "")
	v.SetDefault("imap.sent_folder", "Sent")
	v.SetDefault("imap.tls", TLSAuto)
	v.SetDefault("imap.timeout_ms", 30000)
	v.SetDefault("store.path", defaultStorePath())
	v.SetDefault("log.level", "info")
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Values can be overridden with SMTPQ_* environment variables, e.g.
// SMTPQ_SMTP_HOST. A missing file yields the defaults.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SMTPQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); !ok {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.IMAP.User == "" {
		cfg.IMAP.User = cfg.SMTP.User
	}
	if cfg.SMTP.Address == "" && strings.Contains(cfg.SMTP.User, "@") {
		cfg.SMTP.Address = cfg.SMTP.User
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *AppConfig) Validate() error {
	if c.SMTP.Port < 0 || c.SMTP.Port > 65535 {
		return fmt.Errorf("smtp.port %d out of range", c.SMTP.Port)
	}
	if c.SMTP.TimeoutMs < 0 {
		return fmt.Errorf("smtp.timeout_ms must not be negative")
	}
	if err := validTLS("smtp.tls", c.SMTP.TLS); err != nil {
		return err
	}
	if c.IMAP.TimeoutMs < 0 {
		return fmt.Errorf("imap.timeout_ms must not be negative")
	}
	if c.IMAP.TLS != "" {
		if err := validTLS("imap.tls", c.IMAP.TLS); err != nil {
			return err
		}
	}
	return nil
}

func validTLS(key, mode string) error {
	switch mode {
	case TLSAuto, TLSImplicit, TLSStartTLS, TLSNone:
		return nil
	}
	return fmt.Errorf("%s %q: want auto, implicit, starttls or none", key, mode)
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed. Passwords are never written.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("smtp", map[string]any{
		"user":       cfg.SMTP.User,
		"host":       cfg.SMTP.Host,
		"port":       cfg.SMTP.Port,
		"name":       cfg.SMTP.Name,
		"address":    cfg.SMTP.Address,
		"connect":    cfg.SMTP.Connect,
		"timeout_ms": cfg.SMTP.TimeoutMs,
		"tls":        cfg.SMTP.TLS,
	})
	v.Set("imap", map[string]any{
		"host":        cfg.IMAP.Host,
		"port":        cfg.IMAP.Port,
		"user":        cfg.IMAP.User,
		"sent_folder": cfg.IMAP.SentFolder,
		"tls":         cfg.IMAP.TLS,
		"timeout_ms":  cfg.IMAP.TimeoutMs,
	})
	v.Set("store", map[string]any{"path": cfg.Store.Path})
	v.Set("log", map[string]any{"level": cfg.Log.Level})

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
