// Package email provides the outbound email providers and templates.
package email

import (
	"context"
	"fmt"

	"github.com/loomshop/loomshop/internal/db"
)

// Provider sends a single email and reports the provider-assigned message id.
// The message id is what the notification ledger stores, so implementations
// must only return one when the provider accepted the message.
type Provider interface {
	SendEmail(ctx context.Context, email *Email) (string, error)
	ValidateAPIKey(ctx context.Context) error
}

type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

type Config struct {
	Provider string
	APIKey   string
	From     string
	Domain   string // For Mailgun
}

func NewProvider(config Config) (Provider, error) {
	switch config.Provider {
	case "postmark":
		return NewPostmarkProvider(config.APIKey, config.From), nil
	case "mailgun":
		return NewMailgunProvider(config.APIKey, config.Domain, config.From), nil
	case "resend":
		return NewResendProvider(config.APIKey, config.From), nil
	default:
		return nil, fmt.Errorf("EMAIL_PROVIDER must be either 'postmark', 'mailgun', or 'resend'")
	}
}

// NewProviderFromSettings builds a provider from the stored admin settings,
// falling back to the static config for any field the settings leave blank.
// Settings.EmailAPIKey must already be decrypted by the settings store.
func NewProviderFromSettings(settings *db.AdminSettings, fallback Config) (Provider, error) {
	cfg := fallback
	if settings != nil {
		if settings.EmailProvider != "" {
			cfg.Provider = settings.EmailProvider
		}
		if settings.EmailAPIKey != "" {
			cfg.APIKey = settings.EmailAPIKey
		}
		if settings.EmailFrom != "" {
			cfg.From = settings.EmailFrom
		}
		if settings.EmailDomain != "" {
			cfg.Domain = settings.EmailDomain
		}
	}
	return NewProvider(cfg)
}
