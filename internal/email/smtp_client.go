package email

import (
	"crypto/tls"
	"fmt"
	"net/smtp"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/config"
)

// SMTPClient wraps an SMTP client
type SMTPClient struct {
	config *config.AccountConfig
	logger *logrus.Logger
}

// NewSMTPClient creates a new SMTP client
func NewSMTPClient(cfg *config.AccountConfig, logger *logrus.Logger) *SMTPClient {
	if logger == nil {
		logger = logrus.New()
	}
	return &SMTPClient{config: cfg, logger: logger}
}

// dial opens a session: implicit TLS on port 465, STARTTLS otherwise
func (c *SMTPClient) dial() (*smtp.Client, error) {
	addr := fmt.Sprintf("%s:%d", c.config.SMTPHost, c.config.SMTPPort)
	tlsConfig := &tls.Config{ServerName: c.config.SMTPHost}

	if c.config.SMTPPort == 465 {
		conn, err := tls.Dial("tcp", addr, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		client, err := smtp.NewClient(conn, c.config.SMTPHost)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create SMTP client: %w", err)
		}
		return client, nil
	}

	client, err := smtp.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if err := client.StartTLS(tlsConfig); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to start TLS: %w", err)
	}
	return client, nil
}

// Send delivers an already composed message to the given recipients
func (c *SMTPClient) Send(recipients []string, raw []byte) error {
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients")
	}

	client, err := c.dial()
	if err != nil {
		return err
	}
	defer client.Close()

	if c.config.SMTPPassword != "" {
		auth := smtp.PlainAuth("", c.config.SMTPUsername, c.config.SMTPPassword, c.config.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	if err := client.Mail(c.config.SMTPUsername); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}

	for _, to := range recipients {
		if err := client.Rcpt(to); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", to, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to send data command: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"account":    c.config.Name,
		"recipients": len(recipients),
		"bytes":      len(raw),
	}).Debug("Message handed to SMTP server")

	return client.Quit()
}
