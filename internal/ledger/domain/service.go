package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
	"gorm.io/gorm"
)

var (
	ErrInvalidProvider  = errors.New("invalid_provider")
	ErrInvalidOrderID   = errors.New("invalid_order_id")
	ErrInvalidStatus    = errors.New("invalid_status")
	ErrInvalidDedupeKey = errors.New("invalid_dedupe_key")
	ErrWebhookNotFound  = errors.New("webhook_not_found")
	ErrConcurrentUpdate = errors.New("concurrent_update")
)

type UpsertOutcome string

const (
	OutcomeCreated   UpsertOutcome = "created"
	OutcomeUpdated   UpsertOutcome = "updated"
	OutcomeUnchanged UpsertOutcome = "unchanged"
)

// TransactionUpsert is one observation of an order's status.
type TransactionUpsert struct {
	Provider   paymentdomain.ProviderID
	OrderID    string
	Status     paymentdomain.PaymentStatus
	Amount     decimal.Decimal
	Currency   string
	SaleID     string
	Metadata   map[string]any
	ObservedAt time.Time
}

type WebhookUpdate struct {
	State     WebhookState
	Reason    string
	OrderID   string
	Status    string
	DedupeKey string
}

// Service is the transaction ledger used by checkout, polling and webhooks.
type Service interface {
	UpsertTransaction(ctx context.Context, req TransactionUpsert) (*PaymentTransaction, UpsertOutcome, error)
	GetTransaction(ctx context.Context, provider paymentdomain.ProviderID, orderID string) (*PaymentTransaction, error)
	GetTransactionByOrderID(ctx context.Context, orderID string) (*PaymentTransaction, error)
	RecordWebhook(ctx context.Context, provider string, payload []byte) (*PaymentWebhook, error)
	GetWebhook(ctx context.Context, id snowflake.ID) (*PaymentWebhook, error)
	ClaimDeliveryKey(ctx context.Context, key string, webhookID snowflake.ID) (bool, error)
	ReleaseDeliveryKey(ctx context.Context, key string) error
	MarkWebhook(ctx context.Context, id snowflake.ID, update WebhookUpdate) error
}

type Repository interface {
	FindTransaction(ctx context.Context, db *gorm.DB, provider string, orderID string) (*PaymentTransaction, error)
	FindLatestTransaction(ctx context.Context, db *gorm.DB, orderID string) (*PaymentTransaction, error)
	InsertTransaction(ctx context.Context, db *gorm.DB, tx *PaymentTransaction) (bool, error)
	UpdateTransactionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from paymentdomain.PaymentStatus, next *PaymentTransaction) (bool, error)
	InsertWebhook(ctx context.Context, db *gorm.DB, webhook *PaymentWebhook) error
	FindWebhook(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentWebhook, error)
	UpdateWebhook(ctx context.Context, db *gorm.DB, id snowflake.ID, update WebhookUpdate, processedAt *time.Time) (bool, error)
	InsertDeliveryKey(ctx context.Context, db *gorm.DB, key string, webhookID snowflake.ID, createdAt time.Time) (bool, error)
	DeleteDeliveryKey(ctx context.Context, db *gorm.DB, key string) error
}
