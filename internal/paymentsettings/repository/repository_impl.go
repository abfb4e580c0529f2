package repository

import (
	"context"

	"github.com/smallbiznis/paygate/internal/paymentsettings/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) GetSetting(ctx context.Context, db *gorm.DB, key string) (*domain.Setting, error) {
	var item domain.Setting
	err := db.WithContext(ctx).Raw(
		`SELECT setting_key, setting_value, updated_at
		 FROM payment_settings
		 WHERE setting_key = ?
		 LIMIT 1`,
		key,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.Key == "" {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) UpsertSetting(ctx context.Context, db *gorm.DB, setting *domain.Setting) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_settings (setting_key, setting_value, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (setting_key)
		 DO UPDATE SET setting_value = EXCLUDED.setting_value,
			updated_at = EXCLUDED.updated_at`,
		setting.Key,
		setting.Value,
		setting.UpdatedAt,
	).Error
}

func (r *repo) ListCredentials(ctx context.Context, db *gorm.DB) ([]domain.ProviderCredentials, error) {
	var items []domain.ProviderCredentials
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, config, created_at, updated_at
		 FROM payment_provider_credentials
		 ORDER BY provider`,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindCredentials(ctx context.Context, db *gorm.DB, provider string) (*domain.ProviderCredentials, error) {
	var item domain.ProviderCredentials
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, config, created_at, updated_at
		 FROM payment_provider_credentials
		 WHERE provider = ?
		 LIMIT 1`,
		provider,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) UpsertCredentials(ctx context.Context, db *gorm.DB, creds *domain.ProviderCredentials) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_provider_credentials (
			id, provider, config, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (provider)
		DO UPDATE SET config = EXCLUDED.config,
			updated_at = EXCLUDED.updated_at`,
		creds.ID,
		creds.Provider,
		creds.Config,
		creds.CreatedAt,
		creds.UpdatedAt,
	).Error
}
