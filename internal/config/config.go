package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/phishguard/phishguard/internal/artifact"
)

// Secrets that may come from the environment or a .env file instead of the
// config file.
const (
	EnvIMAPPassword = "PHISHGUARD_IMAP_PASSWORD"
	EnvSMTPPassword = "PHISHGUARD_SMTP_PASSWORD"
	EnvModelURL     = "PHISHGUARD_MODEL_ENDPOINT"
)

const (
	defaultPort           = 8080
	defaultModelTimeoutMs = 10000
	defaultWatchSec       = 60
	defaultRateLimit      = 120
)

func checkFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %04o; should be 0600", path, perm)
	}
	return nil
}

type Config struct {
	Artifacts ArtifactConfig `yaml:"artifacts"`
	Model     ModelConfig    `yaml:"model"`
	Lexicon   string         `yaml:"lexicon,omitempty"` // override for the embedded keyword lexicon
	Inbox     InboxConfig    `yaml:"inbox,omitempty"`
	History   HistoryConfig  `yaml:"history,omitempty"`
	Server    ServerConfig   `yaml:"server,omitempty"`
	Alert     AlertConfig    `yaml:"alert,omitempty"`
	Log       LogConfig      `yaml:"log,omitempty"`
}

// ArtifactConfig locates the fitted-model artifacts.
type ArtifactConfig struct {
	Dir   string         `yaml:"dir"`
	Files artifact.Files `yaml:"files,omitempty"`
}

// ModelConfig selects the inference engine.
type ModelConfig struct {
	Engine    string `yaml:"engine"`               // "linear" or "remote"
	Path      string `yaml:"path,omitempty"`       // linear model JSON
	Endpoint  string `yaml:"endpoint,omitempty"`   // remote model server URL
	InputName string `yaml:"input_name,omitempty"` // default "float_input"
	TimeoutMs int    `yaml:"timeout_ms,omitempty"`
}

func (m ModelConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutMs) * time.Millisecond
}

// InboxConfig holds IMAP settings for scanning a mailbox
type InboxConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Provider         string `yaml:"provider"`          // "gmail", "outlook", "imap"
	Server           string `yaml:"server"`            // e.g., "imap.gmail.com"
	Port             int    `yaml:"port"`              // e.g., 993
	Email            string `yaml:"email"`             // Email address to scan
	Password         string `yaml:"password"`          // App password (not main password)
	Folder           string `yaml:"folder"`            // Folder to scan (default: "INBOX")
	Quarantine       bool   `yaml:"quarantine"`        // Move phishing messages out of the inbox
	QuarantineFolder string `yaml:"quarantine_folder"` // default: "Phishing"
	WatchIntervalSec int    `yaml:"watch_interval_sec"`
}

// HistoryConfig locates the scan history database.
type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days,omitempty"` // 0 keeps every scan
}

type ServerConfig struct {
	Host      string `yaml:"host"`       // default: "127.0.0.1"
	Port      int    `yaml:"port"`       // default: 8080
	RateLimit int    `yaml:"rate_limit"` // API requests per minute per client
}

// AlertConfig sends a notification for every phishing verdict from inbox scans.
type AlertConfig struct {
	Enabled bool       `yaml:"enabled"`
	From    string     `yaml:"from"`
	To      string     `yaml:"to"`
	SMTP    SMTPConfig `yaml:"smtp,omitempty"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	UseTLS   bool   `yaml:"use_tls"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console or json
}

func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".phishguard")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func Load(path string) (*Config, error) {
	if err := checkFilePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: %v\n", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

// LoadEnvFile loads KEY=value pairs from a .env file into the process
// environment without overriding variables that are already set. A missing
// file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Artifacts.Dir == "" {
		c.Artifacts.Dir = filepath.Join(DefaultDir(), "artifacts")
	}
	def := artifact.DefaultFiles()
	if c.Artifacts.Files.Vocabulary == "" {
		c.Artifacts.Files.Vocabulary = def.Vocabulary
	}
	if c.Artifacts.Files.Weights == "" {
		c.Artifacts.Files.Weights = def.Weights
	}
	if c.Artifacts.Files.Schema == "" {
		c.Artifacts.Files.Schema = def.Schema
	}
	if c.Artifacts.Files.Selector == "" {
		c.Artifacts.Files.Selector = def.Selector
	}

	if c.Model.Engine == "" {
		c.Model.Engine = "linear"
	}
	if c.Model.Engine == "linear" && c.Model.Path == "" {
		c.Model.Path = filepath.Join(c.Artifacts.Dir, "linear_svc_model.json")
	}
	if c.Model.InputName == "" {
		c.Model.InputName = "float_input"
	}
	if c.Model.TimeoutMs == 0 {
		c.Model.TimeoutMs = defaultModelTimeoutMs
	}

	// Set inbox defaults
	if c.Inbox.Folder == "" {
		c.Inbox.Folder = "INBOX"
	}
	if c.Inbox.QuarantineFolder == "" {
		c.Inbox.QuarantineFolder = "Phishing"
	}
	if c.Inbox.WatchIntervalSec == 0 {
		c.Inbox.WatchIntervalSec = defaultWatchSec
	}
	if c.Inbox.Provider == "gmail" && c.Inbox.Server == "" {
		c.Inbox.Server = "imap.gmail.com"
		c.Inbox.Port = 993
	}
	if c.Inbox.Provider == "outlook" && c.Inbox.Server == "" {
		c.Inbox.Server = "outlook.office365.com"
		c.Inbox.Port = 993
	}

	if c.History.Path == "" {
		c.History.Path = filepath.Join(DefaultDir(), "history.db")
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = defaultRateLimit
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvIMAPPassword); v != "" {
		c.Inbox.Password = v
	}
	if v := os.Getenv(EnvSMTPPassword); v != "" {
		c.Alert.SMTP.Password = v
	}
	if v := os.Getenv(EnvModelURL); v != "" {
		c.Model.Endpoint = v
	}
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

func (c *Config) Validate() error {
	if c.Artifacts.Dir == "" {
		return fmt.Errorf("artifacts: dir is required")
	}
	switch c.Model.Engine {
	case "linear":
		if c.Model.Path == "" {
			return fmt.Errorf("model: path is required for the linear engine")
		}
	case "remote":
		if c.Model.Endpoint == "" {
			return fmt.Errorf("model: endpoint is required for the remote engine")
		}
	default:
		return fmt.Errorf("model: unknown engine %q (linear or remote)", c.Model.Engine)
	}
	if c.Model.TimeoutMs < 0 {
		return fmt.Errorf("model: timeout_ms must not be negative")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log: unknown format %q (console or json)", c.Log.Format)
	}
	if c.History.RetentionDays < 0 {
		return fmt.Errorf("history: retention_days must not be negative")
	}
	if c.Alert.Enabled {
		if c.Alert.From == "" || c.Alert.To == "" {
			return fmt.Errorf("alert: from and to are required")
		}
		if c.Alert.SMTP.Host == "" {
			return fmt.Errorf("alert.smtp: host is required")
		}
		if c.Alert.SMTP.Port == 0 {
			return fmt.Errorf("alert.smtp: port is required")
		}
		if c.Alert.SMTP.Username != "" && !c.Alert.SMTP.UseTLS {
			return fmt.Errorf("alert.smtp: use_tls is required when username is set")
		}
	}
	return nil
}

// ValidateInbox validates inbox configuration (only called when inbox scanning is used)
func (c *Config) ValidateInbox() error {
	if !c.Inbox.Enabled {
		return fmt.Errorf("inbox: scanning is not enabled in config")
	}
	if c.Inbox.Email == "" {
		return fmt.Errorf("inbox: email address is required")
	}
	if c.Inbox.Password == "" {
		return fmt.Errorf("inbox: password (app password) is required, or set %s", EnvIMAPPassword)
	}
	if c.Inbox.Server == "" {
		return fmt.Errorf("inbox: IMAP server is required")
	}
	if c.Inbox.Port == 0 {
		return fmt.Errorf("inbox: IMAP port is required")
	}
	return nil
}
