package email

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/config"
)

// Manager manages the configured accounts
type Manager struct {
	accounts    map[string]*Account
	defaultName string
	logger      *logrus.Logger
}

// NewManager creates an Account per configured account
func NewManager(cfg *config.Config, logger *logrus.Logger) (*Manager, error) {
	if len(cfg.Accounts) == 0 {
		return nil, fmt.Errorf("no email accounts configured")
	}

	m := &Manager{
		accounts:    make(map[string]*Account, len(cfg.Accounts)),
		defaultName: cfg.GetDefaultAccount().Name,
		logger:      logger,
	}
	for i := range cfg.Accounts {
		accCfg := &cfg.Accounts[i]
		if _, dup := m.accounts[accCfg.Name]; dup {
			return nil, fmt.Errorf("duplicate account name: %s", accCfg.Name)
		}
		m.accounts[accCfg.Name] = NewAccount(accCfg, cfg.Folders, cfg.Offline, logger)
	}

	if cfg.Offline {
		logger.Warn("Offline mode: no server calls will be made")
	}
	return m, nil
}

// GetAccount returns an account by name; an empty name selects the default
func (m *Manager) GetAccount(name string) (*Account, error) {
	if name == "" {
		name = m.defaultName
	}
	account, ok := m.accounts[name]
	if !ok {
		return nil, fmt.Errorf("account not found: %s", name)
	}
	return account, nil
}

// DefaultAccount returns the account the cache is kept for
func (m *Manager) DefaultAccount() *Account {
	return m.accounts[m.defaultName]
}

// ListAccounts returns all account names
func (m *Manager) ListAccounts() []string {
	names := make([]string, 0, len(m.accounts))
	for name := range m.accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes all account connections
func (m *Manager) Close() error {
	var firstErr error
	for name, account := range m.accounts {
		if err := account.Close(); err != nil {
			m.logger.WithError(err).WithField("account", name).Warn("Failed to close account")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
