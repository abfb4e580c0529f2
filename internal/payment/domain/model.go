package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ProviderID identifies a payment backend.
type ProviderID string

const (
	ProviderZenoPay     ProviderID = "zenopay"
	ProviderPayPal      ProviderID = "paypal"
	ProviderStripe      ProviderID = "stripe"
	ProviderFlutterwave ProviderID = "flutterwave"
	ProviderBeem        ProviderID = "beem"
	ProviderMock        ProviderID = "mock"
)

var knownProviders = []ProviderID{
	ProviderZenoPay,
	ProviderPayPal,
	ProviderStripe,
	ProviderFlutterwave,
	ProviderBeem,
	ProviderMock,
}

// KnownProviders lists every provider id the orchestration layer understands.
func KnownProviders() []ProviderID {
	return append([]ProviderID(nil), knownProviders...)
}

// ParseProviderID normalizes raw into a known provider id.
func ParseProviderID(raw string) (ProviderID, error) {
	value := ProviderID(strings.ToLower(strings.TrimSpace(raw)))
	for _, id := range knownProviders {
		if id == value {
			return id, nil
		}
	}
	return "", ErrInvalidProvider
}

func (p ProviderID) String() string { return string(p) }

// PaymentStatus is the canonical payment outcome.
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "PENDING"
	StatusSuccess   PaymentStatus = "SUCCESS"
	StatusFailed    PaymentStatus = "FAILED"
	StatusCancelled PaymentStatus = "CANCELLED"
	StatusUnknown   PaymentStatus = "UNKNOWN"
)

// IsTerminal reports whether no further legitimate transition exists.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ParsePaymentStatus accepts canonical names only; anything else is UNKNOWN.
func ParsePaymentStatus(raw string) PaymentStatus {
	switch PaymentStatus(strings.ToUpper(strings.TrimSpace(raw))) {
	case StatusPending:
		return StatusPending
	case StatusSuccess:
		return StatusSuccess
	case StatusFailed:
		return StatusFailed
	case StatusCancelled:
		return StatusCancelled
	default:
		return StatusUnknown
	}
}

const DefaultCurrency = "TZS"

// OrderData describes a checkout attempt.
type OrderData struct {
	OrderID    string          `json:"order_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency,omitempty"`
	BuyerName  string          `json:"buyer_name,omitempty"`
	BuyerEmail string          `json:"buyer_email,omitempty"`
	BuyerPhone string          `json:"buyer_phone,omitempty"`
	SaleID     string          `json:"sale_id,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
}

// Normalize trims fields and applies the default currency.
func (o OrderData) Normalize() OrderData {
	o.OrderID = strings.TrimSpace(o.OrderID)
	o.Currency = strings.ToUpper(strings.TrimSpace(o.Currency))
	if o.Currency == "" {
		o.Currency = DefaultCurrency
	}
	o.BuyerName = strings.TrimSpace(o.BuyerName)
	o.BuyerEmail = strings.TrimSpace(o.BuyerEmail)
	o.BuyerPhone = strings.TrimSpace(o.BuyerPhone)
	o.SaleID = strings.TrimSpace(o.SaleID)
	return o
}

// Validate checks the local invariants of an order.
func (o OrderData) Validate() error {
	if !o.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if len(o.Currency) != 3 {
		return ErrInvalidCurrency
	}
	return nil
}

// MobileMoneyEmail is the placeholder buyer email used when only a phone number is known.
func MobileMoneyEmail(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}
	return phone + "@mobile.money"
}

// OrderResult is the outcome of creating an order.
type OrderResult struct {
	Success  bool           `json:"success"`
	Provider ProviderID     `json:"provider"`
	OrderID  string         `json:"order_id,omitempty"`
	Message  string         `json:"message"`
	Raw      map[string]any `json:"raw,omitempty"`
	Err      error          `json:"-"`
}

const (
	ResultSuccess = "SUCCESS"
	ResultFail    = "FAIL"
)

// StatusOrder is a point-in-time snapshot of a remote order.
type StatusOrder struct {
	OrderID    string          `json:"order_id"`
	Status     PaymentStatus   `json:"status"`
	RawStatus  string          `json:"raw_status"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency,omitempty"`
	BuyerName  string          `json:"buyer_name,omitempty"`
	BuyerEmail string          `json:"buyer_email,omitempty"`
	BuyerPhone string          `json:"buyer_phone,omitempty"`
	Reference  string          `json:"reference,omitempty"`
	Channel    string          `json:"channel,omitempty"`
	CreatedAt  *time.Time      `json:"created_at,omitempty"`
	UpdatedAt  *time.Time      `json:"updated_at,omitempty"`
}

// StatusResult is the outcome of a remote status lookup.
type StatusResult struct {
	Success  bool           `json:"success"`
	Result   string         `json:"result"`
	Provider ProviderID     `json:"provider"`
	Orders   []StatusOrder  `json:"orders"`
	Count    int            `json:"count"`
	Message  string         `json:"message"`
	Raw      map[string]any `json:"raw,omitempty"`
	Err      error          `json:"-"`
}

// Find returns the snapshot for orderID, falling back to the only order present.
func (r StatusResult) Find(orderID string) (StatusOrder, bool) {
	for _, order := range r.Orders {
		if order.OrderID == orderID {
			return order, true
		}
	}
	if len(r.Orders) == 1 && r.Orders[0].OrderID == "" {
		return r.Orders[0], true
	}
	return StatusOrder{}, false
}

// Credentials are scoped to a single provider.
type Credentials struct {
	APIKey        string `json:"api_key,omitempty"`
	SecretKey     string `json:"secret_key,omitempty"`
	BaseURL       string `json:"base_url,omitempty"`
	WebhookURL    string `json:"webhook_url,omitempty"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

// IsZero reports whether no field is set.
func (c Credentials) IsZero() bool {
	return c == Credentials{}
}

// Merge returns c with empty fields taken from fallback.
func (c Credentials) Merge(fallback Credentials) Credentials {
	if c.APIKey == "" {
		c.APIKey = fallback.APIKey
	}
	if c.SecretKey == "" {
		c.SecretKey = fallback.SecretKey
	}
	if c.BaseURL == "" {
		c.BaseURL = fallback.BaseURL
	}
	if c.WebhookURL == "" {
		c.WebhookURL = fallback.WebhookURL
	}
	if c.WebhookSecret == "" {
		c.WebhookSecret = fallback.WebhookSecret
	}
	return c
}

// ProviderKind groups providers by how money moves.
type ProviderKind string

const (
	KindMobileMoney   ProviderKind = "mobile_money"
	KindCardProcessor ProviderKind = "card_processor"
	KindWallet        ProviderKind = "wallet"
	KindBankTransfer  ProviderKind = "bank_transfer"
)

type Fees struct {
	Percentage decimal.Decimal `json:"percentage"`
	Fixed      decimal.Decimal `json:"fixed"`
}

type Limits struct {
	MinAmount decimal.Decimal `json:"min_amount"`
	MaxAmount decimal.Decimal `json:"max_amount"`
}

// ProviderDescriptor is the static catalog entry of a provider.
type ProviderDescriptor struct {
	ID              ProviderID   `json:"id"`
	DisplayName     string       `json:"display_name"`
	Kind            ProviderKind `json:"kind"`
	SupportsPush    bool         `json:"supports_push"`
	SupportsWebhook bool         `json:"supports_webhook"`
	Fees            Fees         `json:"fees"`
	Limits          Limits       `json:"limits"`
}

// Fee returns the processing fee charged on amount.
func (d ProviderDescriptor) Fee(amount decimal.Decimal) decimal.Decimal {
	pct := amount.Mul(d.Fees.Percentage).Div(decimal.NewFromInt(100))
	return pct.Add(d.Fees.Fixed).Round(2)
}

// CheckLimits reports ErrAmountOutOfRange when amount falls outside the descriptor limits.
// Zero limits are treated as unbounded.
func (d ProviderDescriptor) CheckLimits(amount decimal.Decimal) error {
	if !d.Limits.MinAmount.IsZero() && amount.LessThan(d.Limits.MinAmount) {
		return ErrAmountOutOfRange
	}
	if !d.Limits.MaxAmount.IsZero() && amount.GreaterThan(d.Limits.MaxAmount) {
		return ErrAmountOutOfRange
	}
	return nil
}

// PushRequest triggers a USSD prompt on the customer's handset.
type PushRequest struct {
	OrderID      string          `json:"order_id"`
	Phone        string          `json:"phone"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency,omitempty"`
	CustomerName string          `json:"customer_name,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	SessionTag   string          `json:"session_tag,omitempty"`
}

// PushAck is the outcome of a USSD trigger call.
type PushAck struct {
	Accepted bool           `json:"accepted"`
	Message  string         `json:"message"`
	Raw      map[string]any `json:"raw,omitempty"`
	Err      error          `json:"-"`
}

// WebhookNotification is a provider webhook reduced to canonical fields.
type WebhookNotification struct {
	Provider  ProviderID
	OrderID   string
	Status    PaymentStatus
	RawStatus string
	Timestamp string
	Amount    decimal.Decimal
	Currency  string
	EventID   string
}
