package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
	"gorm.io/datatypes"
)

// PaymentTransaction is the local record of one provider order.
type PaymentTransaction struct {
	ID          snowflake.ID                `gorm:"primaryKey" json:"id"`
	Provider    string                      `gorm:"type:text;not null;uniqueIndex:ux_payment_transactions_provider_order,priority:1" json:"provider"`
	OrderID     string                      `gorm:"type:text;not null;index;uniqueIndex:ux_payment_transactions_provider_order,priority:2" json:"order_id"`
	Status      paymentdomain.PaymentStatus `gorm:"type:text;not null" json:"status"`
	Amount      decimal.Decimal             `gorm:"type:numeric(20,4);not null;default:0" json:"amount"`
	Currency    string                      `gorm:"type:text;not null" json:"currency"`
	SaleID      *string                     `gorm:"type:text;index" json:"sale_id,omitempty"`
	Metadata    datatypes.JSON              `json:"metadata,omitempty"`
	CreatedAt   time.Time                   `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time                   `gorm:"not null" json:"updated_at"`
	CompletedAt *time.Time                  `json:"completed_at,omitempty"`
}

// TableName sets the database table name.
func (PaymentTransaction) TableName() string { return "payment_transactions" }

type WebhookState string

const (
	WebhookStateReceived    WebhookState = "received"
	WebhookStateProcessed   WebhookState = "processed"
	WebhookStateDuplicate   WebhookState = "duplicate"
	WebhookStateNeedsReview WebhookState = "needs_review"
	WebhookStateFailed      WebhookState = "failed"
)

// PaymentWebhook stores every inbound delivery verbatim.
type PaymentWebhook struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	Provider    string       `gorm:"type:text;not null" json:"provider"`
	Payload     string       `gorm:"type:text;not null" json:"payload"`
	Processed   bool         `gorm:"not null;default:false" json:"processed"`
	State       WebhookState `gorm:"type:text;not null;index" json:"state"`
	Reason      *string      `gorm:"type:text" json:"reason,omitempty"`
	OrderID     *string      `gorm:"type:text;index" json:"order_id,omitempty"`
	Status      *string      `gorm:"type:text" json:"status,omitempty"`
	DedupeKey   *string      `gorm:"type:text" json:"dedupe_key,omitempty"`
	ReceivedAt  time.Time    `gorm:"not null" json:"received_at"`
	ProcessedAt *time.Time   `json:"processed_at,omitempty"`
}

// TableName sets the database table name.
func (PaymentWebhook) TableName() string { return "payment_webhooks" }

// WebhookDeliveryKey marks a (provider, order, status, timestamp) tuple as applied.
type WebhookDeliveryKey struct {
	DedupeKey string       `gorm:"column:dedupe_key;primaryKey;type:text"`
	WebhookID snowflake.ID `gorm:"not null"`
	CreatedAt time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (WebhookDeliveryKey) TableName() string { return "payment_webhook_keys" }
