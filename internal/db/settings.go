package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loomshop/loomshop/internal/crypto"
)

// AdminSettings is the single admin configuration document. The email API
// key is encrypted at rest; EmailAPIKey carries the decrypted value in
// memory only.
type AdminSettings struct {
	NotifyEmails          []string `json:"notifyEmails,omitempty"`
	ShippingFlatRateCents *int64   `json:"shippingFlatRate,omitempty"`
	EmailProvider         string   `json:"emailProvider,omitempty"`
	EmailFrom             string   `json:"emailFrom,omitempty"`
	EmailDomain           string   `json:"emailDomain,omitempty"`
	EmailAPIKeyEncrypted  string   `json:"emailApiKey,omitempty"`

	EmailAPIKey string `json:"-"`
}

const adminSettingsID = "admin"

// SettingsStore owns the config/admin document.
type SettingsStore struct {
	pool      *pgxpool.Pool
	encryptor crypto.Encryptor
}

func NewSettingsStore(pool *pgxpool.Pool, encryptor crypto.Encryptor) (*SettingsStore, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	return &SettingsStore{pool: pool, encryptor: encryptor}, nil
}

// Get returns the admin settings document, or an empty document when none
// has been written yet.
func (s *SettingsStore) Get(ctx context.Context) (*AdminSettings, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM admin_config WHERE id = $1`, adminSettingsID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return &AdminSettings{}, nil
	}
	if err != nil {
		return nil, err
	}

	var settings AdminSettings
	if err := json.Unmarshal(doc, &settings); err != nil {
		return nil, fmt.Errorf("failed to decode admin settings: %w", err)
	}

	if settings.EmailAPIKeyEncrypted != "" {
		plaintext, err := s.encryptor.Decrypt(settings.EmailAPIKeyEncrypted)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt email API key: %w", err)
		}
		settings.EmailAPIKey = plaintext
	}

	return &settings, nil
}

// Put writes the admin settings document, encrypting the email API key if a
// plaintext one was provided.
func (s *SettingsStore) Put(ctx context.Context, settings *AdminSettings) error {
	if settings == nil {
		return fmt.Errorf("settings are required")
	}

	if settings.EmailAPIKey != "" {
		ciphertext, err := s.encryptor.Encrypt(settings.EmailAPIKey)
		if err != nil {
			return fmt.Errorf("failed to encrypt email API key: %w", err)
		}
		settings.EmailAPIKeyEncrypted = ciphertext
	}

	doc, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode admin settings: %w", err)
	}

	query := `
		INSERT INTO admin_config (id, doc, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()
	`
	_, err = s.pool.Exec(ctx, query, adminSettingsID, doc)
	return err
}
