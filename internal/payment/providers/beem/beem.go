package beem

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paygate/internal/payment/domain"
	"github.com/smallbiznis/paygate/internal/payment/providers/httpclient"
	"go.uber.org/zap"
)

const DefaultBaseURL = "https://checkout.beem.africa"

var statuses = domain.StatusTable{
	"success":   domain.StatusSuccess,
	"completed": domain.StatusSuccess,
	"paid":      domain.StatusSuccess,
	"pending":   domain.StatusPending,
	"initiated": domain.StatusPending,
	"failed":    domain.StatusFailed,
	"expired":   domain.StatusFailed,
	"cancelled": domain.StatusCancelled,
}

// Provider uses the Beem Africa checkout API with basic auth (api key, secret key).
type Provider struct {
	client *httpclient.Client
}

func New(cfg httpclient.Config, log *zap.Logger, opts ...httpclient.Option) *Provider {
	opts = append([]httpclient.Option{httpclient.WithLogger(log)}, opts...)
	return &Provider{client: httpclient.New(domain.ProviderBeem, cfg, opts...)}
}

func (p *Provider) ID() domain.ProviderID { return domain.ProviderBeem }

func (p *Provider) Descriptor() domain.ProviderDescriptor {
	return domain.ProviderDescriptor{
		ID:              domain.ProviderBeem,
		DisplayName:     "Beem Checkout",
		Kind:            domain.KindMobileMoney,
		SupportsWebhook: true,
		Fees:            domain.Fees{Percentage: decimal.RequireFromString("1.5"), Fixed: decimal.Zero},
		Limits:          domain.Limits{MinAmount: decimal.NewFromInt(100), MaxAmount: decimal.NewFromInt(1000000)},
	}
}

func (p *Provider) MapStatus(raw string) domain.PaymentStatus { return statuses.Map(raw) }

type checkoutResponse struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id"`
	Reference     string `json:"reference_number"`
	URL           string `json:"url"`
}

func (p *Provider) CreateOrder(ctx context.Context, data domain.OrderData, creds domain.Credentials) domain.OrderResult {
	result := domain.OrderResult{Provider: domain.ProviderBeem}
	if err := checkCredentials(creds); err != nil {
		result.Message, result.Err = err.Error(), err
		return result
	}
	data = data.Normalize()
	reference := data.OrderID
	if reference == "" {
		reference = "BEEM-" + uuid.NewString()
	}

	body := map[string]any{
		"amount":           data.Amount.String(),
		"transaction_id":   uuid.NewString(),
		"reference_number": reference,
		"mobile":           strings.TrimPrefix(data.BuyerPhone, "+"),
		"sendSource":       true,
	}
	resp, err := p.client.Do(ctx, "create_order", httpclient.Request{
		Method:    http.MethodPost,
		URL:       httpclient.JoinURL(baseURL(creds), "/v1/checkout"),
		JSON:      body,
		BasicUser: creds.APIKey,
		BasicPass: creds.SecretKey,
	})
	result.Raw = resp.Map()
	if err != nil {
		result.Message, result.Err = err.Error(), err
		return result
	}

	var decoded checkoutResponse
	if err := resp.Decode(&decoded); err != nil {
		verr := domain.VendorError(domain.ProviderBeem, "create_order", "unreadable response")
		result.Message, result.Err = verr.Error(), verr
		return result
	}
	if decoded.Status != "" && statuses.Map(decoded.Status) == domain.StatusFailed {
		verr := domain.VendorError(domain.ProviderBeem, "create_order", decoded.Message)
		result.Message, result.Err = decoded.Message, verr
		return result
	}

	result.Success = true
	result.OrderID = reference
	result.Message = "checkout created"
	if decoded.Message != "" {
		result.Message = decoded.Message
	}
	return result
}

type statusResponse struct {
	Reference     string      `json:"reference_number"`
	TransactionID string      `json:"transaction_id"`
	Status        string      `json:"status"`
	Amount        json.Number `json:"amount"`
	Mobile        string      `json:"msisdn"`
	Timestamp     string      `json:"timestamp"`
}

func (p *Provider) CheckStatus(ctx context.Context, orderID string, creds domain.Credentials) domain.StatusResult {
	result := domain.StatusResult{Provider: domain.ProviderBeem, Result: domain.ResultFail, Orders: []domain.StatusOrder{}}
	if err := checkCredentials(creds); err != nil {
		result.Message, result.Err = err.Error(), err
		return result
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		err := domain.ValidationError(domain.ProviderBeem, "check_status", domain.ErrInvalidOrderID)
		result.Message, result.Err = err.Error(), err
		return result
	}

	query := url.Values{"reference": []string{orderID}}
	resp, err := p.client.Do(ctx, "check_status", httpclient.Request{
		Method:    http.MethodGet,
		URL:       httpclient.JoinURL(baseURL(creds), "/v1/checkout/status") + "?" + query.Encode(),
		BasicUser: creds.APIKey,
		BasicPass: creds.SecretKey,
	})
	result.Raw = resp.Map()
	if err != nil {
		result.Message, result.Err = err.Error(), err
		return result
	}

	var decoded statusResponse
	if err := resp.Decode(&decoded); err != nil {
		verr := domain.VendorError(domain.ProviderBeem, "check_status", "unreadable response")
		result.Message, result.Err = verr.Error(), verr
		return result
	}

	amount, _ := decimal.NewFromString(decoded.Amount.String())
	result.Orders = append(result.Orders, domain.StatusOrder{
		OrderID:    orderID,
		Status:     statuses.Map(decoded.Status),
		RawStatus:  decoded.Status,
		Amount:     amount,
		Currency:   domain.DefaultCurrency,
		BuyerPhone: decoded.Mobile,
		Reference:  decoded.TransactionID,
		Channel:    "mobile_money",
	})
	result.Count = 1
	result.Success = true
	result.Result = domain.ResultSuccess
	result.Message = "status retrieved"
	return result
}

// ParseWebhook maps the checkout callback body.
func (p *Provider) ParseWebhook(payload []byte, headers http.Header, creds domain.Credentials) (domain.WebhookNotification, error) {
	var body statusResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return domain.WebhookNotification{}, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(body.Reference) == "" || strings.TrimSpace(body.Status) == "" {
		return domain.WebhookNotification{}, domain.ErrInvalidPayload
	}
	amount, _ := decimal.NewFromString(body.Amount.String())
	return domain.WebhookNotification{
		Provider:  domain.ProviderBeem,
		OrderID:   strings.TrimSpace(body.Reference),
		Status:    statuses.Map(body.Status),
		RawStatus: body.Status,
		Timestamp: body.Timestamp,
		Amount:    amount,
		Currency:  domain.DefaultCurrency,
		EventID:   body.TransactionID,
	}, nil
}

func checkCredentials(creds domain.Credentials) error {
	if strings.TrimSpace(creds.APIKey) == "" || strings.TrimSpace(creds.SecretKey) == "" {
		return domain.ConfigurationError(domain.ProviderBeem, "credentials", "api key and secret key are required")
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
