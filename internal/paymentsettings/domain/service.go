package domain

import (
	"context"
	"errors"
	"time"

	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
	"gorm.io/gorm"
)

type Repository interface {
	GetSetting(ctx context.Context, db *gorm.DB, key string) (*Setting, error)
	UpsertSetting(ctx context.Context, db *gorm.DB, setting *Setting) error
	ListCredentials(ctx context.Context, db *gorm.DB) ([]ProviderCredentials, error)
	FindCredentials(ctx context.Context, db *gorm.DB, provider string) (*ProviderCredentials, error)
	UpsertCredentials(ctx context.Context, db *gorm.DB, creds *ProviderCredentials) error
}

// CredentialsView is the masked form of stored credentials returned over HTTP.
type CredentialsView struct {
	Provider         paymentdomain.ProviderID `json:"provider"`
	Configured       bool                     `json:"configured"`
	APIKey           string                   `json:"api_key,omitempty"`
	SecretKey        string                   `json:"secret_key,omitempty"`
	BaseURL          string                   `json:"base_url,omitempty"`
	WebhookURL       string                   `json:"webhook_url,omitempty"`
	WebhookSecretSet bool                     `json:"webhook_secret_set"`
	UpdatedAt        *time.Time               `json:"updated_at,omitempty"`
}

var (
	ErrInvalidCredentials   = errors.New("invalid_credentials")
	ErrEncryptionKeyMissing = errors.New("encryption_key_missing")
	ErrDecryptFailed        = errors.New("decrypt_failed")
)
