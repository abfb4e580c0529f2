package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paygate/internal/payment/domain"
	"github.com/smallbiznis/paygate/internal/payment/providers/httpclient"
	"go.uber.org/zap"
)

const DefaultBaseURL = "https://api.stripe.com"

var statuses = domain.StatusTable{
	"succeeded":               domain.StatusSuccess,
	"processing":              domain.StatusPending,
	"requires_payment_method": domain.StatusPending,
	"requires_confirmation":   domain.StatusPending,
	"requires_action":         domain.StatusPending,
	"requires_capture":        domain.StatusPending,
	"canceled":                domain.StatusCancelled,
	"payment_failed":          domain.StatusFailed,
}

var eventStatuses = map[string]domain.PaymentStatus{
	"payment_intent.succeeded":      domain.StatusSuccess,
	"payment_intent.payment_failed": domain.StatusFailed,
	"payment_intent.canceled":       domain.StatusCancelled,
	"payment_intent.processing":     domain.StatusPending,
}

// zeroDecimal lists currencies Stripe expects in major units.
var zeroDecimal = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {}, "KRW": {}, "MGA": {},
	"PYG": {}, "RWF": {}, "UGX": {}, "VND": {}, "VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

type Provider struct {
	client *httpclient.Client
}

func New(cfg httpclient.Config, log *zap.Logger, opts ...httpclient.Option) *Provider {
	opts = append([]httpclient.Option{httpclient.WithLogger(log)}, opts...)
	return &Provider{client: httpclient.New(domain.ProviderStripe, cfg, opts...)}
}

func (p *Provider) ID() domain.ProviderID { return domain.ProviderStripe }

func (p *Provider) Descriptor() domain.ProviderDescriptor {
	return domain.ProviderDescriptor{
		ID:              domain.ProviderStripe,
		DisplayName:     "Stripe",
		Kind:            domain.KindCardProcessor,
		SupportsWebhook: true,
		Fees:            domain.Fees{Percentage: decimal.RequireFromString("2.5"), Fixed: decimal.NewFromInt(50)},
		Limits:          domain.Limits{MinAmount: decimal.NewFromInt(100), MaxAmount: decimal.NewFromInt(2000000)},
	}
}

func (p *Provider) MapStatus(raw string) domain.PaymentStatus { return statuses.Map(raw) }

type paymentIntent struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Created      int64             `json:"created"`
	ReceiptEmail string            `json:"receipt_email"`
	Metadata     map[string]string `json:"metadata"`
}

func (p *Provider) CreateOrder(ctx context.Context, data domain.OrderData, creds domain.Credentials) domain.OrderResult {
	result := domain.OrderResult{Provider: domain.ProviderStripe}
	if err := checkCredentials(creds); err != nil {
		result.Message, result.Err = err.Error(), err
		return result
	}
	data = data.Normalize()

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(MinorUnits(data.Amount, data.Currency), 10))
	form.Set("currency", strings.ToLower(data.Currency))
	if data.BuyerEmail != "" {
		form.Set("receipt_email", data.BuyerEmail)
	}
	if data.OrderID != "" {
		form.Set("metadata[order_reference]", data.OrderID)
	}
	if data.SaleID != "" {
		form.Set("metadata[sale_id]", data.SaleID)
	}

	resp, err := p.client.Do(ctx, "create_order", httpclient.Request{
		Method: http.MethodPost,
		URL:    httpclient.JoinURL(baseURL(creds), "/v1/payment_intents"),
		Form:   form,
		Bearer: creds.SecretKey,
	})
	result.Raw = resp.Map()
	if err != nil {
		result.Message, result.Err = err.Error(), err
		return result
	}

	var intent paymentIntent
	if err := resp.Decode(&intent); err != nil || intent.ID == "" {
		verr := domain.VendorError(domain.ProviderStripe, "create_order", "unreadable response")
		result.Message, result.Err = verr.Error(), verr
		return result
	}

	result.Success = true
	result.OrderID = intent.ID
	result.Message = "payment intent created"
	return result
}

func (p *Provider) CheckStatus(ctx context.Context, orderID string, creds domain.Credentials) domain.StatusResult {
	result := domain.StatusResult{Provider: domain.ProviderStripe, Result: domain.ResultFail, Orders: []domain.StatusOrder{}}
	if err := checkCredentials(creds); err != nil {
		result.Message, result.Err = err.Error(), err
		return result
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		err := domain.ValidationError(domain.ProviderStripe, "check_status", domain.ErrInvalidOrderID)
		result.Message, result.Err = err.Error(), err
		return result
	}

	resp, err := p.client.Do(ctx, "check_status", httpclient.Request{
		Method: http.MethodGet,
		URL:    httpclient.JoinURL(baseURL(creds), "/v1/payment_intents/"+url.PathEscape(orderID)),
		Bearer: creds.SecretKey,
	})
	result.Raw = resp.Map()
	if err != nil {
		result.Message, result.Err = err.Error(), err
		return result
	}

	var intent paymentIntent
	if err := resp.Decode(&intent); err != nil {
		verr := domain.VendorError(domain.ProviderStripe, "check_status", "unreadable response")
		result.Message, result.Err = verr.Error(), verr
		return result
	}

	currency := strings.ToUpper(intent.Currency)
	created := time.Unix(intent.Created, 0).UTC()
	result.Orders = append(result.Orders, domain.StatusOrder{
		OrderID:    intent.ID,
		Status:     statuses.Map(intent.Status),
		RawStatus:  intent.Status,
		Amount:     MajorUnits(intent.Amount, currency),
		Currency:   currency,
		BuyerEmail: intent.ReceiptEmail,
		Reference:  intent.Metadata["order_reference"],
		Channel:    "card",
		CreatedAt:  &created,
	})
	result.Count = 1
	result.Success = true
	result.Result = domain.ResultSuccess
	result.Message = "status retrieved"
	return result
}

type event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseWebhook verifies the Stripe-Signature header when a webhook secret is
// configured and reduces payment_intent events to canonical fields.
func (p *Provider) ParseWebhook(payload []byte, headers http.Header, creds domain.Credentials) (domain.WebhookNotification, error) {
	if secret := strings.TrimSpace(creds.WebhookSecret); secret != "" {
		if err := Verify(secret, payload, headers.Get("Stripe-Signature")); err != nil {
			return domain.WebhookNotification{}, err
		}
	}

	var evt event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return domain.WebhookNotification{}, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(evt.ID) == "" {
		return domain.WebhookNotification{}, domain.ErrInvalidPayload
	}
	status, ok := eventStatuses[strings.TrimSpace(evt.Type)]
	if !ok {
		return domain.WebhookNotification{}, domain.ErrEventIgnored
	}

	var intent paymentIntent
	if err := json.Unmarshal(evt.Data.Object, &intent); err != nil || intent.ID == "" {
		return domain.WebhookNotification{}, domain.ErrInvalidPayload
	}

	currency := strings.ToUpper(intent.Currency)
	return domain.WebhookNotification{
		Provider:  domain.ProviderStripe,
		OrderID:   intent.ID,
		Status:    status,
		RawStatus: evt.Type,
		Timestamp: strconv.FormatInt(evt.Created, 10),
		Amount:    MajorUnits(intent.Amount, currency),
		Currency:  currency,
		EventID:   evt.ID,
	}, nil
}

// Verify checks a Stripe-Signature header against payload.
func Verify(secret string, payload []byte, header string) error {
	timestamp, signatures, err := parseSignature(strings.TrimSpace(header))
	if err != nil {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%s.%s", timestamp, string(payload))))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return domain.ErrInvalidSignature
}

func parseSignature(header string) (string, []string, error) {
	var timestamp string
	signatures := []string{}
	for _, part := range strings.Split(header, ",") {
		keyValue := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		switch strings.TrimSpace(keyValue[0]) {
		case "t":
			timestamp = strings.TrimSpace(keyValue[1])
		case "v1":
			signatures = append(signatures, strings.TrimSpace(keyValue[1]))
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

// MinorUnits converts amount into the integer unit Stripe expects for currency.
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	if _, ok := zeroDecimal[strings.ToUpper(currency)]; ok {
		return amount.Round(0).IntPart()
	}
	return amount.Shift(2).Round(0).IntPart()
}

// MajorUnits is the inverse of MinorUnits.
func MajorUnits(amount int64, currency string) decimal.Decimal {
	if _, ok := zeroDecimal[strings.ToUpper(currency)]; ok {
		return decimal.NewFromInt(amount)
	}
	return decimal.New(amount, -2)
}

func checkCredentials(creds domain.Credentials) error {
	if strings.TrimSpace(creds.SecretKey) == "" {
		return domain.ConfigurationError(domain.ProviderStripe, "credentials", "secret key is not configured")
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
	_ domain.StatusMapper  = (*Provider)(nil)
)
