package config

import (
	"fmt"
	"net"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store modes for the attachment content store.
const (
	StoreModeDigest   = "digest"
	StoreModeFilename = "filename"
)

// Mail authentication methods.
const (
	AuthPassword = "password"
	AuthOAuth2   = "oauth2"
)

const envPrefix = "MAIL_CHAT_BRIDGE"

// reservedSections are top-level sections that never describe an account.
var reservedSections = map[string]bool{
	"log":     true,
	"server":  true,
	"journal": true,
	"runtime": true,
	"default": true,
}

// Config holds all configuration for the application
type Config struct {
	Log      LogConfig       `mapstructure:"log"`
	Server   ServerConfig    `mapstructure:"server"`
	Journal  JournalConfig   `mapstructure:"journal"`
	Runtime  RuntimeConfig   `mapstructure:"runtime"`
	Accounts []AccountConfig `mapstructure:"-"`
}

// LogConfig holds root logger and per-account log file settings
type LogConfig struct {
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// ServerConfig holds the optional status HTTP server configuration
type ServerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// JournalConfig holds the delivery journal database configuration
type JournalConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// RuntimeConfig holds process level settings
type RuntimeConfig struct {
	PidFile string `mapstructure:"pid_file"`
}

// AccountConfig is the resolved configuration of one mail account and its
// chat destination. It is passed by value and never mutated once loaded.
type AccountConfig struct {
	Name           string           `mapstructure:"-"`
	Enabled        bool             `mapstructure:"enabled"`
	Mail           MailConfig       `mapstructure:",squash"`
	Chat           ChatConfig       `mapstructure:",squash"`
	Store          StoreConfig      `mapstructure:",squash"`
	Fields         FieldPolicy      `mapstructure:",squash"`
	Attachments    AttachmentPolicy `mapstructure:",squash"`
	PollInterval   int              `mapstructure:"sleep"`
	Classification string           `mapstructure:"classification"`
	LogFile        string           `mapstructure:"log_file"`
}

// MailConfig holds IMAP connection settings
type MailConfig struct {
	Server            string        `mapstructure:"server"`
	Port              int           `mapstructure:"port"`
	Username          string        `mapstructure:"username"`
	Password          string        `mapstructure:"password"`
	SSL               bool          `mapstructure:"ssl"`
	StartTLS          bool          `mapstructure:"starttls"`
	TLSSkipVerify     bool          `mapstructure:"tls_skip_verify"`
	Mailbox           string        `mapstructure:"mailbox"`
	Auth              string        `mapstructure:"auth"`
	OAuthClientID     string        `mapstructure:"oauth_client_id"`
	OAuthClientSecret string        `mapstructure:"oauth_client_secret"`
	OAuthRefreshToken string        `mapstructure:"oauth_refresh_token"`
	OAuthTokenURL     string        `mapstructure:"oauth_token_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// ChatConfig holds the chat backend settings
type ChatConfig struct {
	ServerURL   string        `mapstructure:"mt_server_url"`
	APIPath     string        `mapstructure:"mt_api_path"`
	ChannelID   string        `mapstructure:"mt_channel_id"`
	BearerToken string        `mapstructure:"mt_bearer"`
	RateLimit   float64       `mapstructure:"mt_rate_limit"`
	Timeout     time.Duration `mapstructure:"http_timeout"`
}

// StoreConfig holds the content store location and keying policy
type StoreConfig struct {
	WorkingDir string `mapstructure:"workingdir"`
	DataFolder string `mapstructure:"data_folder"`
	Mode       string `mapstructure:"store_mode"`
}

// FieldPolicy selects which message fields are included in a chat post
type FieldPolicy struct {
	Subject     bool `mapstructure:"mail_subject"`
	Sender      bool `mapstructure:"mail_sender"`
	Recipient   bool `mapstructure:"mail_recipient"`
	Date        bool `mapstructure:"mail_date"`
	MessageID   bool `mapstructure:"mail_message_id"`
	Headers     bool `mapstructure:"mail_headers"`
	BodyPlain   bool `mapstructure:"mail_body_plain"`
	BodyHTML    bool `mapstructure:"mail_body_html"`
	Attachments bool `mapstructure:"mail_attachments"`
}

// AttachmentPolicy controls which attachments are relayed.
// MaxCount of zero disables the cap.
type AttachmentPolicy struct {
	MaxCount     int      `mapstructure:"max_attachments"`
	ExcludeTypes []string `mapstructure:"exclude_types"`
}

// Load reads the configuration file at path. INI files hold one section per
// account; YAML and TOML files hold one top-level map per account.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".conf", ".cfg", "":
		v.SetConfigType("ini")
	}

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	accounts, err := loadAccounts(v)
	if err != nil {
		return nil, err
	}
	cfg.Accounts = accounts

	return &cfg, nil
}

// setDefaults sets default values for the global sections
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.host", "localhost")
	v.SetDefault("journal.port", 3306)

	v.SetDefault("runtime.pid_file", "/tmp/mail-chat-bridge.pid")
}

// setAccountDefaults sets default values for a single account section
func setAccountDefaults(v *viper.Viper) {
	v.SetDefault("enabled", true)
	v.SetDefault("mailbox", "INBOX")
	v.SetDefault("auth", AuthPassword)
	v.SetDefault("timeout", "30s")

	v.SetDefault("mt_api_path", "/api/v4")
	v.SetDefault("http_timeout", "30s")

	v.SetDefault("store_mode", StoreModeDigest)
	v.SetDefault("sleep", 60)

	v.SetDefault("mail_subject", true)
	v.SetDefault("mail_sender", true)
	v.SetDefault("mail_date", true)
	v.SetDefault("mail_attachments", true)

	v.SetDefault("max_attachments", 5)
	v.SetDefault("exclude_types", []string{"image/"})
}

// loadAccounts turns every non-reserved top-level section into an account,
// ordered by section name.
func loadAccounts(v *viper.Viper) ([]AccountConfig, error) {
	var names []string
	for key, value := range v.AllSettings() {
		if reservedSections[key] {
			continue
		}
		if _, ok := value.(map[string]interface{}); !ok {
			continue
		}
		names = append(names, key)
	}
	sort.Strings(names)

	accounts := make([]AccountConfig, 0, len(names))
	for _, name := range names {
		sub := v.Sub(name)
		if sub == nil {
			continue
		}
		setAccountDefaults(sub)

		var acc AccountConfig
		if err := sub.Unmarshal(&acc); err != nil {
			return nil, fmt.Errorf("error unmarshaling account %q: %w", name, err)
		}
		acc.Name = name
		if acc.Mail.Port == 0 {
			acc.Mail.Port = 143
			if acc.Mail.SSL {
				acc.Mail.Port = 993
			}
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Enabled && c.Server.Port == "" {
		return fmt.Errorf("server port is required when the status server is enabled")
	}

	if c.Journal.Enabled {
		if c.Journal.Host == "" || c.Journal.User == "" || c.Journal.DBName == "" {
			return fmt.Errorf("journal host, user, and dbname are required")
		}
	}

	if len(c.Accounts) == 0 {
		return fmt.Errorf("no account sections configured")
	}

	for _, acc := range c.Accounts {
		if err := acc.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// EnabledAccounts returns the accounts that should be started
func (c *Config) EnabledAccounts() []AccountConfig {
	var out []AccountConfig
	for _, acc := range c.Accounts {
		if acc.Enabled {
			out = append(out, acc)
		}
	}
	return out
}

// Validate validates a single account
func (a AccountConfig) Validate() error {
	if a.Mail.Server == "" || a.Mail.Username == "" {
		return fmt.Errorf("account %s: server and username are required", a.Name)
	}
	if a.Mail.SSL && a.Mail.StartTLS {
		return fmt.Errorf("account %s: ssl and starttls are mutually exclusive", a.Name)
	}

	switch a.Mail.Auth {
	case AuthPassword:
		if a.Mail.Password == "" {
			return fmt.Errorf("account %s: password is required", a.Name)
		}
	case AuthOAuth2:
		if a.Mail.OAuthClientID == "" || a.Mail.OAuthRefreshToken == "" {
			return fmt.Errorf("account %s: oauth_client_id and oauth_refresh_token are required for oauth2", a.Name)
		}
	default:
		return fmt.Errorf("account %s: unknown auth method %q", a.Name, a.Mail.Auth)
	}

	if a.Chat.ServerURL == "" || a.Chat.ChannelID == "" || a.Chat.BearerToken == "" {
		return fmt.Errorf("account %s: mt_server_url, mt_channel_id, and mt_bearer are required", a.Name)
	}
	if a.Chat.RateLimit < 0 {
		return fmt.Errorf("account %s: mt_rate_limit must not be negative", a.Name)
	}

	if a.Store.WorkingDir == "" {
		return fmt.Errorf("account %s: workingdir is required", a.Name)
	}
	if a.Store.Mode != StoreModeDigest && a.Store.Mode != StoreModeFilename {
		return fmt.Errorf("account %s: store_mode must be %q or %q", a.Name, StoreModeDigest, StoreModeFilename)
	}

	if a.PollInterval <= 0 {
		return fmt.Errorf("account %s: sleep must be greater than 0", a.Name)
	}
	if a.Attachments.MaxCount < 0 {
		return fmt.Errorf("account %s: max_attachments must not be negative", a.Name)
	}

	return nil
}

// Address returns the host:port of the IMAP server
func (m MailConfig) Address() string {
	return net.JoinHostPort(m.Server, strconv.Itoa(m.Port))
}

// APIBase returns the chat API root, e.g. https://chat.example.com/api/v4
func (c ChatConfig) APIBase() string {
	return strings.TrimRight(c.ServerURL, "/") + "/" + strings.Trim(c.APIPath, "/")
}

// Dir returns the directory attachments are persisted to
func (s StoreConfig) Dir() string {
	return filepath.Join(s.WorkingDir, s.DataFolder)
}

// PollDuration returns the configured poll interval
func (a AccountConfig) PollDuration() time.Duration {
	return time.Duration(a.PollInterval) * time.Second
}

// LogPath returns the per-account log file path, resolved against the
// working directory when relative. Empty means no dedicated log file.
func (a AccountConfig) LogPath() string {
	if a.LogFile == "" || filepath.IsAbs(a.LogFile) {
		return a.LogFile
	}
	return filepath.Join(a.Store.WorkingDir, a.LogFile)
}

// GetDSN returns the journal database connection string
func (c *JournalConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}
