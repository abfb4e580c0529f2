package flutterwave

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paygate/internal/payment/domain"
	"github.com/smallbiznis/paygate/internal/payment/providers/httpclient"
	"go.uber.org/zap"
)

const DefaultBaseURL = "https://api.flutterwave.com"

var statuses = domain.StatusTable{
	"successful": domain.StatusSuccess,
	"completed":  domain.StatusSuccess,
	"pending":    domain.StatusPending,
	"new":        domain.StatusPending,
	"failed":     domain.StatusFailed,
	"error":      domain.StatusFailed,
	"cancelled":  domain.StatusCancelled,
}

type Provider struct {
	client *httpclient.Client
}

func New(cfg httpclient.Config, log *zap.Logger, opts ...httpclient.Option) *Provider {
	opts = append([]httpclient.Option{httpclient.WithLogger(log)}, opts...)
	return &Provider{client: httpclient.New(domain.ProviderFlutterwave, cfg, opts...)}
}

func (p *Provider) ID() domain.ProviderID { return domain.ProviderFlutterwave }

func (p *Provider) Descriptor() domain.ProviderDescriptor {
	return domain.ProviderDescriptor{
		ID:              domain.ProviderFlutterwave,
		DisplayName:     "Flutterwave",
		Kind:            domain.KindCardProcessor,
		SupportsWebhook: true,
		Fees:            domain.Fees{Percentage: decimal.RequireFromString("2.9"), Fixed: decimal.Zero},
		Limits:          domain.Limits{MinAmount: decimal.NewFromInt(100), MaxAmount: decimal.NewFromInt(5000000)},
	}
}

func (p *Provider) MapStatus(raw string) domain.PaymentStatus { return statuses.Map(raw) }

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type transaction struct {
	ID        int64       `json:"id"`
	TxRef     string      `json:"tx_ref"`
	FlwRef    string      `json:"flw_ref"`
	Amount    json.Number `json:"amount"`
	Currency  string      `json:"currency"`
	Status    string      `json:"status"`
	CreatedAt string      `json:"created_at"`
	Customer  struct {
		Name        string `json:"name"`
		Email       string `json:"email"`
		PhoneNumber string `json:"phone_number"`
	} `json:"customer"`
	PaymentType string `json:"payment_type"`
}

// CreateOrder opens a hosted payment. The caller's order id becomes tx_ref,
// which is also the key for status lookups.
func (p *Provider) CreateOrder(ctx context.Context, data domain.OrderData, creds domain.Credentials) domain.OrderResult {
	result := domain.OrderResult{Provider: domain.ProviderFlutterwave}
	if err := checkCredentials(creds); err != nil {
		result.Message, result.Err = err.Error(), err
		return result
	}
	data = data.Normalize()
	txRef := data.OrderID
	if txRef == "" {
		txRef = "FLW-" + uuid.NewString()
	}
	email := data.BuyerEmail
	if email == "" {
		email = domain.MobileMoneyEmail(data.BuyerPhone)
	}

	body := map[string]any{
		"tx_ref":       txRef,
		"amount":       data.Amount.String(),
		"currency":     data.Currency,
		"redirect_url": creds.WebhookURL,
		"customer": map[string]string{
			"email":       email,
			"phonenumber": data.BuyerPhone,
			"name":        data.BuyerName,
		},
		"meta": data.Metadata,
	}
	resp, err := p.client.Do(ctx, "create_order", httpclient.Request{
		Method: http.MethodPost,
		URL:    httpclient.JoinURL(baseURL(creds), "/v3/payments"),
		JSON:   body,
		Bearer: creds.SecretKey,
	})
	result.Raw = resp.Map()
	if err != nil {
		result.Message, result.Err = err.Error(), err
		return result
	}

	var decoded envelope
	if err := resp.Decode(&decoded); err != nil {
		verr := domain.VendorError(domain.ProviderFlutterwave, "create_order", "unreadable response")
		result.Message, result.Err = verr.Error(), verr
		return result
	}
	if !strings.EqualFold(decoded.Status, "success") {
		verr := domain.VendorError(domain.ProviderFlutterwave, "create_order", decoded.Message)
		result.Message, result.Err = decoded.Message, verr
		return result
	}

	result.Success = true
	result.OrderID = txRef
	result.Message = decoded.Message
	return result
}

func (p *Provider) CheckStatus(ctx context.Context, orderID string, creds domain.Credentials) domain.StatusResult {
	result := domain.StatusResult{Provider: domain.ProviderFlutterwave, Result: domain.ResultFail, Orders: []domain.StatusOrder{}}
	if err := checkCredentials(creds); err != nil {
		result.Message, result.Err = err.Error(), err
		return result
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		err := domain.ValidationError(domain.ProviderFlutterwave, "check_status", domain.ErrInvalidOrderID)
		result.Message, result.Err = err.Error(), err
		return result
	}

	query := url.Values{"tx_ref": []string{orderID}}
	resp, err := p.client.Do(ctx, "check_status", httpclient.Request{
		Method: http.MethodGet,
		URL:    httpclient.JoinURL(baseURL(creds), "/v3/transactions/verify_by_reference") + "?" + query.Encode(),
		Bearer: creds.SecretKey,
	})
	result.Raw = resp.Map()
	if err != nil {
		result.Message, result.Err = err.Error(), err
		return result
	}

	var decoded envelope
	var tx transaction
	if err := resp.Decode(&decoded); err != nil || json.Unmarshal(decoded.Data, &tx) != nil {
		verr := domain.VendorError(domain.ProviderFlutterwave, "check_status", "unreadable response")
		result.Message, result.Err = verr.Error(), verr
		return result
	}

	snapshot := toStatusOrder(tx, orderID)
	result.Orders = append(result.Orders, snapshot)
	result.Count = 1
	result.Success = true
	result.Result = domain.ResultSuccess
	result.Message = decoded.Message
	return result
}

func toStatusOrder(tx transaction, fallbackRef string) domain.StatusOrder {
	amount, _ := decimal.NewFromString(tx.Amount.String())
	order := domain.StatusOrder{
		OrderID:    tx.TxRef,
		Status:     statuses.Map(tx.Status),
		RawStatus:  tx.Status,
		Amount:     amount,
		Currency:   tx.Currency,
		BuyerName:  tx.Customer.Name,
		BuyerEmail: tx.Customer.Email,
		BuyerPhone: tx.Customer.PhoneNumber,
		Reference:  tx.FlwRef,
		Channel:    tx.PaymentType,
	}
	if order.OrderID == "" {
		order.OrderID = fallbackRef
	}
	if created, err := time.Parse(time.RFC3339, tx.CreatedAt); err == nil {
		created = created.UTC()
		order.CreatedAt = &created
	}
	return order
}

// ParseWebhook validates the verif-hash header against the configured webhook
// secret and maps charge.completed events.
func (p *Provider) ParseWebhook(payload []byte, headers http.Header, creds domain.Credentials) (domain.WebhookNotification, error) {
	if secret := strings.TrimSpace(creds.WebhookSecret); secret != "" {
		got := strings.TrimSpace(headers.Get("verif-hash"))
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			return domain.WebhookNotification{}, domain.ErrInvalidSignature
		}
	}

	var evt struct {
		Event string      `json:"event"`
		Data  transaction `json:"data"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		return domain.WebhookNotification{}, domain.ErrInvalidPayload
	}
	if !strings.HasPrefix(strings.ToLower(evt.Event), "charge.") {
		return domain.WebhookNotification{}, domain.ErrEventIgnored
	}
	if strings.TrimSpace(evt.Data.TxRef) == "" {
		return domain.WebhookNotification{}, domain.ErrInvalidPayload
	}

	order := toStatusOrder(evt.Data, "")
	return domain.WebhookNotification{
		Provider:  domain.ProviderFlutterwave,
		OrderID:   order.OrderID,
		Status:    order.Status,
		RawStatus: order.RawStatus,
		Timestamp: evt.Data.CreatedAt,
		Amount:    order.Amount,
		Currency:  order.Currency,
		EventID:   order.Reference,
	}, nil
}

func checkCredentials(creds domain.Credentials) error {
	if strings.TrimSpace(creds.SecretKey) == "" {
		return domain.ConfigurationError(domain.ProviderFlutterwave, "credentials", "secret key is not configured")
	}
	return nil
}

func baseURL(creds domain.Credentials) string {
	if base := strings.TrimSpace(creds.BaseURL); base != "" {
		return base
	}
	return DefaultBaseURL
}

var (
	_ domain.Provider      = (*Provider)(nil)
	_ domain.WebhookParser = (*Provider)(nil)
)
