// Package notify delivers one-time codes to transaction recipients. Delivery
// is a best-effort collaborator: a failed send never fails the initiating
// operation (the override flow is the escalation path when delivery breaks).
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mailgun/mailgun-go/v4"
	"github.com/username/crewledger/backend/src/config"
	"github.com/username/crewledger/backend/src/logger"
)

// Notifier sends a freshly issued OTP to its recipient.
type Notifier interface {
	SendOTP(recipientAddress, recipientName, code string, expiresAt time.Time) error
}

// NewNotifier picks the provider configured in config.Cfg, falling back to the
// log-only mock when configuration is incomplete.
func NewNotifier() Notifier {
	if config.Cfg == nil {
		logger.L.Error("Configuration (config.Cfg) is nil. Notifier will default to mock.")
		return &MockNotifier{}
	}

	provider := strings.ToLower(config.Cfg.NotifierProvider)
	logger.L.Info("Initializing notifier", "provider", provider)

	switch provider {
	case "mailgun":
		if config.Cfg.MailgunDomain == "" || config.Cfg.MailgunPrivateAPIKey == "" || config.Cfg.SenderEmail == "" {
			logger.L.Warn("Mailgun configuration incomplete (Domain, API Key, or SenderEmail missing). Falling back to MockNotifier.")
			return &MockNotifier{}
		}
		mg := mailgun.NewMailgun(config.Cfg.MailgunDomain, config.Cfg.MailgunPrivateAPIKey)
		logger.L.Info("Mailgun client initialized", "domain", config.Cfg.MailgunDomain)
		return &MailgunNotifier{
			mg:          mg,
			senderEmail: config.Cfg.SenderEmail,
			senderName:  config.Cfg.SenderName,
		}
	default:
		logger.L.Info("Defaulting to MockNotifier.")
		return &MockNotifier{}
	}
}

// MailgunNotifier delivers codes through the Mailgun API.
type MailgunNotifier struct {
	mg          *mailgun.MailgunImpl
	senderEmail string
	senderName  string
}

func (n *MailgunNotifier) SendOTP(recipientAddress, recipientName, code string, expiresAt time.Time) error {
	sender := fmt.Sprintf("%s <%s>", n.senderName, n.senderEmail)
	subject := "Your confirmation code"
	body := fmt.Sprintf("Hi %s,\n\nYour confirmation code is %s. It expires at %s.\n\nIf you did not expect this code, contact your supervisor.",
		recipientName, code, expiresAt.Format(time.RFC1123))

	message := mailgun.NewMessage(sender, subject, body, recipientAddress)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, id, err := n.mg.Send(ctx, message)
	if err != nil {
		logger.L.Error("Failed to send OTP via Mailgun", "recipient", recipientAddress, "error", err)
		return fmt.Errorf("mailgun send failed: %w", err)
	}
	logger.L.Info("OTP sent via Mailgun", "recipient", recipientAddress, "messageID", id, "response", resp)
	return nil
}

// MockNotifier logs the would-be delivery. Used in development and tests.
type MockNotifier struct{}

func (n *MockNotifier) SendOTP(recipientAddress, recipientName, code string, expiresAt time.Time) error {
	logger.L.Info("MOCK NOTIFY: would send OTP",
		"recipient", recipientAddress,
		"recipientName", recipientName,
		"code", code,
		"expiresAt", expiresAt.Format(time.RFC3339))
	return nil
}
