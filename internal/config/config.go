package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	// Cache settings
	CachePath         string
	SearchResultLimit int
	DetailCacheSize   int
	FlushInterval     time.Duration
	LogLevel          string

	// Offline storage quota
	QuotaMaxBytes         int64
	QuotaThresholdPercent float64

	// Priming
	PrimeOnStart   bool
	PrimeBatchSize int
	PrimeFolders   []string
	ContactsFolder string

	// Optimistic mutations
	UndoWindow    time.Duration
	AutosaveDelay time.Duration
	Offline       bool

	Folders FolderNames

	// Accounts
	Accounts []AccountConfig
}

// FolderNames maps the special folders to mailbox names on the server
type FolderNames struct {
	Inbox   string
	Trash   string
	Spam    string
	Archive string
	Outbox  string
	Drafts  string
	Sent    string
}

// AccountConfig holds configuration for a single email account
type AccountConfig struct {
	Name    string
	Address string

	// IMAP settings
	IMAPHost     string
	IMAPPort     int
	IMAPUsername string
	IMAPPassword string

	// SMTP settings
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
}

// FromAddress is the address mail is sent from
func (a *AccountConfig) FromAddress() string {
	if a.Address != "" {
		return a.Address
	}
	return a.SMTPUsername
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		CachePath:             getEnv("CACHE_PATH", "/data/mailsync.db"),
		SearchResultLimit:     getEnvInt("SEARCH_RESULT_LIMIT", 100),
		DetailCacheSize:       getEnvInt("DETAIL_CACHE_SIZE", 500),
		FlushInterval:         getEnvDuration("FLUSH_INTERVAL", 5*time.Second),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		QuotaMaxBytes:         getEnvInt64("QUOTA_MAX_BYTES", 512<<20),
		QuotaThresholdPercent: getEnvFloat("QUOTA_THRESHOLD_PERCENT", 25),
		PrimeOnStart:          getEnvBool("PRIME_ON_START", true),
		PrimeBatchSize:        getEnvInt("PRIME_BATCH_SIZE", 6),
		PrimeFolders:          getEnvList("PRIME_FOLDERS", []string{"INBOX", "Sent", "Drafts"}),
		ContactsFolder:        getEnv("CONTACTS_FOLDER", "Sent"),
		UndoWindow:            getEnvDuration("UNDO_WINDOW", 10*time.Second),
		AutosaveDelay:         getEnvDuration("AUTOSAVE_DELAY", 3*time.Second),
		Offline:               getEnvBool("OFFLINE", false),
		Folders: FolderNames{
			Inbox:   getEnv("INBOX_FOLDER", "INBOX"),
			Trash:   getEnv("TRASH_FOLDER", "Trash"),
			Spam:    getEnv("SPAM_FOLDER", "Junk"),
			Archive: getEnv("ARCHIVE_FOLDER", "Archive"),
			Outbox:  getEnv("OUTBOX_FOLDER", "Outbox"),
			Drafts:  getEnv("DRAFTS_FOLDER", "Drafts"),
			Sent:    getEnv("SENT_FOLDER", "Sent"),
		},
	}

	// Load accounts
	accounts, err := loadAccounts()
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}

	if len(accounts) == 0 {
		return nil, fmt.Errorf("no email accounts configured")
	}

	cfg.Accounts = accounts
	return cfg, nil
}

// loadAccounts loads email account configurations from environment variables
func loadAccounts() ([]AccountConfig, error) {
	// Single account configuration takes precedence
	if hasSingleAccount() {
		account, err := loadAccount("", "single account")
		if err != nil {
			return nil, err
		}
		if account.Name == "" {
			account.Name = "default"
		}
		return []AccountConfig{*account}, nil
	}

	// Load multiple accounts (ACCOUNT_1_*, ACCOUNT_2_*, etc.)
	var accounts []AccountConfig
	for num := 1; ; num++ {
		prefix := fmt.Sprintf("ACCOUNT_%d_", num)
		if getEnv(prefix+"NAME", "") == "" {
			break
		}
		account, err := loadAccount(prefix, fmt.Sprintf("account %d", num))
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}

	if len(accounts) == 0 {
		return nil, fmt.Errorf("no accounts found in environment variables")
	}

	return accounts, nil
}

// hasSingleAccount checks if single account configuration exists
func hasSingleAccount() bool {
	return getEnv("IMAP_HOST", "") != "" && getEnv("SMTP_HOST", "") != ""
}

// loadAccount loads the account whose variables start with prefix
func loadAccount(prefix, label string) (*AccountConfig, error) {
	acc := &AccountConfig{
		Name:         getEnv(prefix+"NAME", getEnv(prefix+"ACCOUNT_NAME", "")),
		Address:      getEnv(prefix+"EMAIL_ADDRESS", ""),
		IMAPHost:     getEnv(prefix+"IMAP_HOST", ""),
		IMAPPort:     getEnvInt(prefix+"IMAP_PORT", 993),
		IMAPUsername: getEnv(prefix+"IMAP_USERNAME", ""),
		IMAPPassword: getEnv(prefix+"IMAP_PASSWORD", ""),
		SMTPHost:     getEnv(prefix+"SMTP_HOST", ""),
		SMTPPort:     getEnvInt(prefix+"SMTP_PORT", 587),
		SMTPUsername: getEnv(prefix+"SMTP_USERNAME", ""),
		SMTPPassword: getEnv(prefix+"SMTP_PASSWORD", ""),
	}

	if acc.IMAPHost == "" || acc.SMTPHost == "" {
		return nil, fmt.Errorf("%s: IMAP_HOST and SMTP_HOST are required", label)
	}

	if acc.IMAPUsername == "" || acc.SMTPUsername == "" {
		return nil, fmt.Errorf("%s: IMAP_USERNAME and SMTP_USERNAME are required", label)
	}

	if acc.IMAPPassword == "" || acc.SMTPPassword == "" {
		return nil, fmt.Errorf("%s: IMAP_PASSWORD and SMTP_PASSWORD are required", label)
	}

	return acc, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("10s") or a plain number of seconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty items
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// GetAccountByName finds an account by name
func (c *Config) GetAccountByName(name string) (*AccountConfig, error) {
	for i := range c.Accounts {
		if c.Accounts[i].Name == name {
			return &c.Accounts[i], nil
		}
	}
	return nil, fmt.Errorf("account not found: %s", name)
}

// GetDefaultAccount returns the first account (or default account if named "default")
func (c *Config) GetDefaultAccount() *AccountConfig {
	if len(c.Accounts) == 0 {
		return nil
	}

	for i := range c.Accounts {
		if c.Accounts[i].Name == "default" {
			return &c.Accounts[i]
		}
	}

	return &c.Accounts[0]
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.CachePath == "" {
		return fmt.Errorf("CACHE_PATH is required")
	}

	if c.SearchResultLimit < 1 || c.SearchResultLimit > 1000 {
		return fmt.Errorf("SEARCH_RESULT_LIMIT must be between 1 and 1000")
	}

	if c.QuotaMaxBytes <= 0 {
		return fmt.Errorf("QUOTA_MAX_BYTES must be positive")
	}

	if c.QuotaThresholdPercent <= 0 || c.QuotaThresholdPercent > 100 {
		return fmt.Errorf("QUOTA_THRESHOLD_PERCENT must be in (0, 100]")
	}

	if c.PrimeBatchSize < 1 || c.PrimeBatchSize > 50 {
		return fmt.Errorf("PRIME_BATCH_SIZE must be between 1 and 50")
	}

	if c.UndoWindow <= 0 {
		return fmt.Errorf("UNDO_WINDOW must be positive")
	}

	if c.AutosaveDelay <= 0 {
		return fmt.Errorf("AUTOSAVE_DELAY must be positive")
	}

	if c.Folders.Inbox == "" || c.Folders.Drafts == "" || c.Folders.Sent == "" {
		return fmt.Errorf("INBOX_FOLDER, DRAFTS_FOLDER and SENT_FOLDER are required")
	}

	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account must be configured")
	}

	// Validate each account
	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if acc.IMAPHost == "" {
			return fmt.Errorf("account %s: IMAP_HOST is required", acc.Name)
		}
		if acc.SMTPHost == "" {
			return fmt.Errorf("account %s: SMTP_HOST is required", acc.Name)
		}
		if acc.IMAPPort < 1 || acc.IMAPPort > 65535 {
			return fmt.Errorf("account %s: invalid IMAP_PORT", acc.Name)
		}
		if acc.SMTPPort < 1 || acc.SMTPPort > 65535 {
			return fmt.Errorf("account %s: invalid SMTP_PORT", acc.Name)
		}
	}

	return nil
}

// AccountNames returns a list of all account names
func (c *Config) AccountNames() []string {
	names := make([]string, len(c.Accounts))
	for i := range c.Accounts {
		names[i] = c.Accounts[i].Name
	}
	return names
}
