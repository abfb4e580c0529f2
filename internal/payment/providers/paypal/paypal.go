package paypal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paygate/internal/payment/domain"
	"github.com/smallbiznis/paygate/internal/payment/providers/httpclient"
	"go.uber.org/zap"
)

const DefaultBaseURL = "https://api-m.sandbox.paypal.com"

var statuses = domain.StatusTable{
	"created":               domain.StatusPending,
	"saved":                 domain.StatusPending,
	"approved":              domain.StatusPending,
	"payer_action_required": domain.StatusPending,
	"pending":               domain.StatusPending,
	"completed":             domain.StatusSuccess,
	"voided":                domain.StatusCancelled,
	"declined":              domain.StatusFailed,
	"failed":                domain.StatusFailed,
	"denied":                domain.StatusFailed,
}

var eventStatuses = map[string]domain.PaymentStatus{
	"checkout.order.completed":  domain.StatusSuccess,
	"checkout.order.approved":   domain.StatusPending,
	"checkout.order.voided":     domain.StatusCancelled,
	"payment.capture.completed": domain.StatusSuccess,
	"payment.capture.pending":   domain.StatusPending,
	"payment.capture.denied":    domain.StatusFailed,
	"payment.capture.declined":  domain.StatusFailed,
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// Provider creates PayPal checkout orders. Access tokens are cached per client id.
type Provider struct {
	client *httpclient.Client

	mu     sync.Mutex
	tokens map[string]cachedToken
	now    func() time.Time
}

func New(cfg httpclient.Config, log *zap.Logger, opts ...httpclient.Option) *Provider {
	opts = append([]httpclient.Option{httpclient.WithLogger(log)}, opts...)
	return &Provider{
		client: httpclient.New(domain.ProviderPayPal, cfg, opts...),
		tokens: map[string]cachedToken{},
		now:    time.Now,
	}
}

func (p *Provider) ID() domain.ProviderID { return domain.ProviderPayPal }

func (p *Provider) Descriptor() domain.ProviderDescriptor {
	return domain.ProviderDescriptor{
		ID:              domain.ProviderPayPal,
		DisplayName:     "PayPal",
		Kind:            domain.KindWallet,
		SupportsWebhook: true,
		Fees:            domain.Fees{Percentage: decimal.RequireFromString("3.4"), Fixed: decimal.Zero},
	}
}

func (p *Provider) MapStatus(raw string) domain.PaymentStatus { return statuses.Map(raw) }

func (p *Provider) token(ctx context.Context, creds domain.Credentials) (string, error) {
	p.mu.Lock()
	cached, ok := p.tokens[creds.APIKey]
	p.mu.Unlock()
	if ok && p.now().Before(cached.expiresAt) {
		return cached.value, nil
	}

	form := url.Values{"grant_type": []string{"client_credentials"}}
	resp, err := p.client.Do(ctx, "oauth_token", httpclient.Request{
		Method:    http.MethodPost,
		URL:       httpclient.JoinURL(baseURL(creds), "/v1/oauth2/token"),
		Form:      form,
		BasicUser: creds.APIKey,
		BasicPass: creds.SecretKey,
	})
	if err != nil {
		return "", err
	}

	var decoded struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := resp.Decode(&decoded); err != nil || decoded.AccessToken == "" {
		return "", domain.VendorError(domain.ProviderPayPal, "oauth_token", "access token missing")
	}

	ttl := time.Duration(decoded.ExpiresIn)*time.Second - time.Minute
	if ttl <= 0 {
		ttl = time.Minute
	}
	p.mu.Lock()
	p.tokens[creds.APIKey] = cachedToken{value: decoded.AccessToken, expiresAt: p.now().Add(ttl)}
	p.mu.Unlock()
	return decoded.AccessToken, nil
}

type amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type purchaseUnit struct {
	ReferenceID string `json:"reference_id,omitempty"`
	CustomID    string `json:"custom_id,omitempty"`
	Amount      amount `json:"amount"`
}

type order struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	CreateTime    string         `json:"create_time"`
	UpdateTime    string         `json:"update_time"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
	Payer         struct {
		EmailAddress string `json:"email_address"`
	} `json:"payer"`
}

func (p *Provider) CreateOrder(ctx context.Context, data domain.OrderData, creds domain.Credentials) domain.OrderResult {
	result := domain.OrderResult{Provider: domain.ProviderPayPal}
	if err := checkCredentials(creds); err != nil {
		result.Message, result.Err = err.Error(), err
		return result
	}
	data = data.Normalize()

	token, err := p.token(ctx, creds)
	if err != nil {
		result.Message, result.Err = err.Error(), err
		return result
	}

	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []purchaseUnit{{
			ReferenceID: data.OrderID,
			CustomID:    data.SaleID,
			Amount:      amount{CurrencyCode: data.Currency, Value: data.Amount.StringFixed(2)},
		}},
	}
	resp, err := p.client.Do(ctx, "create_order", httpclient.Request{
		Method: http.MethodPost,
		URL:    httpclient.JoinURL(baseURL(creds), "/v2/checkout/orders"),
		JSON:   body,
		Bearer: token,
	})
	result.Raw = resp.Map()
	if err != nil {
		result.Message, result.Err = err.Error(), err
		return result
	}

	var created order
	if err := resp.Decode(&created); err != nil || created.ID == "" {
		verr := domain.VendorError(domain.ProviderPayPal, "create_order", "unreadable response")
		result.Message, result.Err = verr.Error(), verr
		return result
	}

	result.Success = true
	result.OrderID = created.ID
	result.Message = "checkout order created"
	return result
}

func (p *Provider) CheckStatus(ctx context.Context, orderID string, creds domain.Credentials) domain.StatusResult {
	result := domain.StatusResult{Provider: domain.ProviderPayPal, Result: domain.ResultFail, Orders: []domain.StatusOrder{}}
	if err := checkCredentials(creds); err != nil {
		result.Message, result.Err = err.Error(), err
		return result
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		err := domain.ValidationError(domain.ProviderPayPal, "check_status", domain.ErrInvalidOrderID)
		result.Message, result.Err = err.Error(), err
		return result
	}

	token, err := p.token(ctx, creds)
	if err != nil {
		result.Message, result.Err = err.Error(), err
		return result
	}

	resp, err := p.client.Do(ctx, "check_status", httpclient.Request{
		Method: http.MethodGet,
		URL:    httpclient.JoinURL(baseURL(creds), "/v2/checkout/orders/"+url.PathEscape(orderID)),
		Bearer: token,
	})
	result.Raw = resp.Map()
	if err != nil {
		result.Message, result.Err = err.Error(), err
		return result
	}

	var found order
	if err := resp.Decode(&found); err != nil || found.ID == "" {
		verr := domain.VendorError(domain.ProviderPayPal, "check_status", "unreadable response")
		result.Message, result.Err = verr.Error(), verr
		return result
	}

	snapshot := domain.StatusOrder{
		OrderID:    found.ID,
		Status:     statuses.Map(found.Status),
		RawStatus:  found.Status,
		BuyerEmail: found.Payer.EmailAddress,
		Channel:    "paypal",
	}
	if len(found.PurchaseUnits) > 0 {
		unit := found.PurchaseUnits[0]
		snapshot.Amount, _ = decimal.NewFromString(unit.Amount.Value)
		snapshot.Currency = unit.Amount.CurrencyCode
		snapshot.Reference = unit.ReferenceID
	}
	if ts, err := time.Parse(time.RFC3339, found.CreateTime); err == nil {
		ts = ts.UTC()
		snapshot.CreatedAt = &ts
	}
	if ts, err := time.Parse(time.RFC3339, found.UpdateTime); err == nil {
		ts = ts.UTC()
		snapshot.UpdatedAt = &ts
	}

	result.Orders = append(result.Orders, snapshot)
	result.Count = 1
	result.Success = true
	result.Result = domain.ResultSuccess
	result.Message = "status retrieved"
	return result
}

type webhookEvent struct {
	ID         string `json:"id"`
	EventType  string `json:"event_type"`
	CreateTime string `json:"create_time"`
	Resource   struct {
		ID                string `json:"id"`
		Status            string `json:"status"`
		Amount            amount `json:"amount"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

// ParseWebhook maps checkout order and capture events. Capture events refer to
// their order through supplementary_data.related_ids.order_id.
func (p *Provider) ParseWebhook(payload []byte, headers http.Header, creds domain.Credentials) (domain.WebhookNotification, error) {
	var evt webhookEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return domain.WebhookNotification{}, domain.ErrInvalidPayload
	}
	if evt.ID == "" || evt.Resource.ID == "" {
		return domain.WebhookNotification{}, domain.ErrInvalidPayload
	}
	status, ok := eventStatuses[strings.ToLower(strings.TrimSpace(evt.EventType))]
	if !ok {
		return domain.WebhookNotification{}, domain.ErrEventIgnored
	}

	orderID := evt.Resource.ID
	if related := evt.Resource.SupplementaryData.RelatedIDs.OrderID; related != "" {
		orderID = related
	}
	value, _ := decimal.NewFromString(evt.Resource.Amount.Value)
	return domain.WebhookNotification{
		Provider:  domain.ProviderPayPal,
		OrderID:   orderID,
		Status:    status,
		RawStatus: evt.EventType,
		Timestamp: evt.CreateTime,
		Amount:    value,
		Currency:  evt.Resource.Amount.CurrencyCode,
		EventID:   evt.ID,
	}, nil
}

func checkCredentials(creds domain.Credentials) error {
	if strings.TrimSpace(creds.APIKey) == "" || strings.TrimSpace(creds.SecretKey) == "" {
		return domain.ConfigurationError(domain.ProviderPayPal, "credentials", "client id and secret are required")
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
