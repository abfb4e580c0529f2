package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paygate/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const transactionColumns = `id, provider, order_id, status, amount, currency, sale_id,
			metadata, created_at, updated_at, completed_at`

func (r *repo) FindTransaction(ctx context.Context, db *gorm.DB, provider string, orderID string) (*domain.PaymentTransaction, error) {
	var item domain.PaymentTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+`
		 FROM payment_transactions
		 WHERE provider = ? AND order_id = ?
		 LIMIT 1`,
		provider,
		orderID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindLatestTransaction(ctx context.Context, db *gorm.DB, orderID string) (*domain.PaymentTransaction, error) {
	var item domain.PaymentTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+`
		 FROM payment_transactions
		 WHERE order_id = ?
		 ORDER BY updated_at DESC, id DESC
		 LIMIT 1`,
		orderID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, tx *domain.PaymentTransaction) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_transactions (
			id, provider, order_id, status, amount, currency, sale_id,
			metadata, created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, order_id) DO NOTHING`,
		tx.ID,
		tx.Provider,
		tx.OrderID,
		string(tx.Status),
		tx.Amount,
		tx.Currency,
		tx.SaleID,
		tx.Metadata,
		tx.CreatedAt,
		tx.UpdatedAt,
		tx.CompletedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateTransactionStatus writes next only while the stored status still equals from.
func (r *repo) UpdateTransactionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from paymentdomain.PaymentStatus, next *domain.PaymentTransaction) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_transactions
		 SET status = ?, amount = ?, currency = ?, sale_id = ?, metadata = ?,
			updated_at = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		string(next.Status),
		next.Amount,
		next.Currency,
		next.SaleID,
		next.Metadata,
		next.UpdatedAt,
		next.CompletedAt,
		id,
		string(from),
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertWebhook(ctx context.Context, db *gorm.DB, webhook *domain.PaymentWebhook) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_webhooks (
			id, provider, payload, processed, state, reason, order_id,
			status, dedupe_key, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		webhook.ID,
		webhook.Provider,
		webhook.Payload,
		webhook.Processed,
		string(webhook.State),
		webhook.Reason,
		webhook.OrderID,
		webhook.Status,
		webhook.DedupeKey,
		webhook.ReceivedAt,
		webhook.ProcessedAt,
	).Error
}

func (r *repo) FindWebhook(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentWebhook, error) {
	var item domain.PaymentWebhook
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, payload, processed, state, reason, order_id,
			status, dedupe_key, received_at, processed_at
		 FROM payment_webhooks
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) UpdateWebhook(ctx context.Context, db *gorm.DB, id snowflake.ID, update domain.WebhookUpdate, processedAt *time.Time) (bool, error) {
	processed := update.State == domain.WebhookStateProcessed || update.State == domain.WebhookStateDuplicate
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_webhooks
		 SET state = ?,
			processed = ?,
			reason = COALESCE(?, reason),
			order_id = COALESCE(?, order_id),
			status = COALESCE(?, status),
			dedupe_key = COALESCE(?, dedupe_key),
			processed_at = ?
		 WHERE id = ?`,
		string(update.State),
		processed,
		nullable(update.Reason),
		nullable(update.OrderID),
		nullable(update.Status),
		nullable(update.DedupeKey),
		processedAt,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertDeliveryKey(ctx context.Context, db *gorm.DB, key string, webhookID snowflake.ID, createdAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_webhook_keys (dedupe_key, webhook_id, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (dedupe_key) DO NOTHING`,
		key,
		webhookID,
		createdAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) DeleteDeliveryKey(ctx context.Context, db *gorm.DB, key string) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM payment_webhook_keys WHERE dedupe_key = ?`,
		key,
	).Error
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
