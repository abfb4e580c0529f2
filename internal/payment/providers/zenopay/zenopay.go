package zenopay

import (
	"context"
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

const (
	DefaultBaseURL = "https://zenoapi.com"

	createPath = "/api/payments/mobile_money_tanzania"
	statusPath = "/api/payments/order-status"
)

var statuses = domain.StatusTable{
	"completed":  domain.StatusSuccess,
	"success":    domain.StatusSuccess,
	"successful": domain.StatusSuccess,
	"pending":    domain.StatusPending,
	"processing": domain.StatusPending,
	"initiated":  domain.StatusPending,
	"failed":     domain.StatusFailed,
	"failure":    domain.StatusFailed,
	"rejected":   domain.StatusFailed,
	"cancelled":  domain.StatusCancelled,
	"canceled":   domain.StatusCancelled,
}

// Provider talks to the ZenoPay mobile money API. Order creation sends the
// USSD prompt, so TriggerPush and CreateOrder share one request.
type Provider struct {
	client *httpclient.Client
}

func New(cfg httpclient.Config, log *zap.Logger, opts ...httpclient.Option) *Provider {
	opts = append([]httpclient.Option{httpclient.WithLogger(log)}, opts...)
	return &Provider{client: httpclient.New(domain.ProviderZenoPay, cfg, opts...)}
}

func (p *Provider) ID() domain.ProviderID { return domain.ProviderZenoPay }

func (p *Provider) Descriptor() domain.ProviderDescriptor {
	return domain.ProviderDescriptor{
		ID:              domain.ProviderZenoPay,
		DisplayName:     "ZenoPay Mobile Money",
		Kind:            domain.KindMobileMoney,
		SupportsPush:    true,
		SupportsWebhook: true,
		Fees:            domain.Fees{Percentage: decimal.RequireFromString("1.5"), Fixed: decimal.Zero},
		Limits:          domain.Limits{MinAmount: decimal.NewFromInt(100), MaxAmount: decimal.NewFromInt(1000000)},
	}
}

func (p *Provider) MapStatus(raw string) domain.PaymentStatus { return statuses.Map(raw) }

type createRequest struct {
	OrderID    string `json:"order_id"`
	BuyerEmail string `json:"buyer_email"`
	BuyerName  string `json:"buyer_name"`
	BuyerPhone string `json:"buyer_phone"`
	Amount     string `json:"amount"`
	WebhookURL string `json:"webhook_url,omitempty"`
	Metadata   any    `json:"metadata,omitempty"`
}

type createResponse struct {
	Status     string `json:"status"`
	ResultCode string `json:"resultcode"`
	Message    string `json:"message"`
	OrderID    string `json:"order_id"`
}

func (p *Provider) CreateOrder(ctx context.Context, data domain.OrderData, creds domain.Credentials) domain.OrderResult {
	result := domain.OrderResult{Provider: domain.ProviderZenoPay}
	if err := checkCredentials(creds); err != nil {
		result.Message, result.Err = err.Error(), err
		return result
	}

	data = data.Normalize()
	if data.BuyerPhone == "" {
		err := domain.ValidationError(domain.ProviderZenoPay, "create_order", domain.ErrInvalidPhone)
		result.Message, result.Err = "buyer phone is required", err
		return result
	}
	if data.OrderID == "" {
		data.OrderID = uuid.NewString()
	}
	email := data.BuyerEmail
	if email == "" {
		email = domain.MobileMoneyEmail(data.BuyerPhone)
	}

	body := createRequest{
		OrderID:    data.OrderID,
		BuyerEmail: email,
		BuyerName:  data.BuyerName,
		BuyerPhone: data.BuyerPhone,
		Amount:     data.Amount.String(),
		WebhookURL: creds.WebhookURL,
	}
	if len(data.Metadata) > 0 {
		body.Metadata = data.Metadata
	}
	return p.send(ctx, "create_order", body, creds)
}

// TriggerPush sends the USSD prompt for an order id chosen by the caller.
func (p *Provider) TriggerPush(ctx context.Context, req domain.PushRequest, creds domain.Credentials) domain.PushAck {
	order := domain.OrderData{
		OrderID:    req.OrderID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		BuyerName:  req.CustomerName,
		BuyerPhone: req.Phone,
		Metadata: map[string]any{
			"payment_method": "ussd_popup",
			"session_tag":    req.SessionTag,
			"timestamp":      req.Timestamp.UTC().Format(time.RFC3339),
		},
	}
	result := p.CreateOrder(ctx, order, creds)
	return domain.PushAck{
		Accepted: result.Success,
		Message:  result.Message,
		Raw:      result.Raw,
		Err:      result.Err,
	}
}

func (p *Provider) send(ctx context.Context, op string, body createRequest, creds domain.Credentials) domain.OrderResult {
	result := domain.OrderResult{Provider: domain.ProviderZenoPay}
	resp, err := p.client.Do(ctx, op, httpclient.Request{
		Method: http.MethodPost,
		URL:    httpclient.JoinURL(baseURL(creds), createPath),
		Header: http.Header{"x-api-key": []string{creds.APIKey}},
		JSON:   body,
	})
	result.Raw = resp.Map()
	if err != nil {
		result.Message, result.Err = err.Error(), err
		return result
	}

	var decoded createResponse
	if err := resp.Decode(&decoded); err != nil {
		verr := domain.VendorError(domain.ProviderZenoPay, op, "unreadable response")
		result.Message, result.Err = verr.Error(), verr
		return result
	}
	if !strings.EqualFold(decoded.Status, "success") {
		msg := decoded.Message
		if msg == "" {
			msg = "order rejected"
		}
		verr := domain.VendorError(domain.ProviderZenoPay, op, msg)
		result.Message, result.Err = msg, verr
		return result
	}

	result.Success = true
	result.OrderID = firstNonEmpty(decoded.OrderID, body.OrderID)
	result.Message = firstNonEmpty(decoded.Message, "order created")
	return result
}

type statusResponse struct {
	Reference  string        `json:"reference"`
	ResultCode string        `json:"resultcode"`
	Result     string        `json:"result"`
	Message    string        `json:"message"`
	Data       []statusOrder `json:"data"`
}

type statusOrder struct {
	OrderID       string          `json:"order_id"`
	CreationDate  string          `json:"creation_date"`
	Amount        json.Number     `json:"amount"`
	PaymentStatus string          `json:"payment_status"`
	TransID       string          `json:"transid"`
	Channel       string          `json:"channel"`
	Reference     string          `json:"reference"`
	MSISDN        string          `json:"msisdn"`
	Metadata      json.RawMessage `json:"metadata"`
}

func (p *Provider) CheckStatus(ctx context.Context, orderID string, creds domain.Credentials) domain.StatusResult {
	result := domain.StatusResult{Provider: domain.ProviderZenoPay, Result: domain.ResultFail, Orders: []domain.StatusOrder{}}
	if err := checkCredentials(creds); err != nil {
		result.Message, result.Err = err.Error(), err
		return result
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		err := domain.ValidationError(domain.ProviderZenoPay, "check_status", domain.ErrInvalidOrderID)
		result.Message, result.Err = err.Error(), err
		return result
	}

	query := url.Values{"order_id": []string{orderID}}
	resp, err := p.client.Do(ctx, "check_status", httpclient.Request{
		Method: http.MethodGet,
		URL:    httpclient.JoinURL(baseURL(creds), statusPath) + "?" + query.Encode(),
		Header: http.Header{"x-api-key": []string{creds.APIKey}},
	})
	result.Raw = resp.Map()
	if err != nil {
		result.Message, result.Err = err.Error(), err
		return result
	}

	var decoded statusResponse
	if err := resp.Decode(&decoded); err != nil {
		verr := domain.VendorError(domain.ProviderZenoPay, "check_status", "unreadable response")
		result.Message, result.Err = verr.Error(), verr
		return result
	}

	for _, item := range decoded.Data {
		amount, _ := decimal.NewFromString(item.Amount.String())
		order := domain.StatusOrder{
			OrderID:    firstNonEmpty(item.OrderID, orderID),
			Status:     statuses.Map(item.PaymentStatus),
			RawStatus:  item.PaymentStatus,
			Amount:     amount,
			Currency:   domain.DefaultCurrency,
			BuyerPhone: item.MSISDN,
			Reference:  firstNonEmpty(item.Reference, item.TransID),
			Channel:    item.Channel,
		}
		if created, ok := parseTime(item.CreationDate); ok {
			order.CreatedAt = &created
		}
		result.Orders = append(result.Orders, order)
	}
	result.Count = len(result.Orders)
	result.Success = strings.EqualFold(decoded.Result, domain.ResultSuccess) && result.Count > 0
	result.Result = domain.ResultLabel(result.Success)
	result.Message = firstNonEmpty(decoded.Message, "status retrieved")
	if !result.Success && result.Err == nil {
		result.Err = domain.VendorError(domain.ProviderZenoPay, "check_status", result.Message)
	}
	return result
}

type webhookPayload struct {
	OrderID       string      `json:"order_id"`
	PaymentStatus string      `json:"payment_status"`
	Reference     string      `json:"reference"`
	Amount        json.Number `json:"amount"`
	Timestamp     string      `json:"timestamp"`
}

// ParseWebhook handles the order-completion callback. ZenoPay echoes the api
// key in x-api-key; when a key is configured the header must match.
func (p *Provider) ParseWebhook(payload []byte, headers http.Header, creds domain.Credentials) (domain.WebhookNotification, error) {
	if creds.APIKey != "" {
		if got := strings.TrimSpace(headers.Get("x-api-key")); got != "" && got != creds.APIKey {
			return domain.WebhookNotification{}, domain.ErrInvalidSignature
		}
	}

	var body webhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return domain.WebhookNotification{}, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(body.OrderID) == "" || strings.TrimSpace(body.PaymentStatus) == "" {
		return domain.WebhookNotification{}, domain.ErrInvalidPayload
	}

	amount, _ := decimal.NewFromString(body.Amount.String())
	return domain.WebhookNotification{
		Provider:  domain.ProviderZenoPay,
		OrderID:   strings.TrimSpace(body.OrderID),
		Status:    statuses.Map(body.PaymentStatus),
		RawStatus: body.PaymentStatus,
		Timestamp: strings.TrimSpace(body.Timestamp),
		Amount:    amount,
		Currency:  domain.DefaultCurrency,
		EventID:   body.Reference,
	}, nil
}

func checkCredentials(creds domain.Credentials) error {
	if strings.TrimSpace(creds.APIKey) == "" {
		return domain.ConfigurationError(domain.ProviderZenoPay, "credentials", "api key is not configured")
	}
	return nil
}

func baseURL(creds domain.Credentials) string {
	if base := strings.TrimSpace(creds.BaseURL); base != "" {
		return base
	}
	return DefaultBaseURL
}

func parseTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

var (
	_ domain.PushProvider  = (*Provider)(nil)
	_ domain.WebhookParser = (*Provider)(nil)
	_ domain.StatusMapper  = (*Provider)(nil)
)
