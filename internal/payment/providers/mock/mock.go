package mock

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paygate/internal/payment/domain"
)

var statuses = domain.StatusTable{
	"pending":   domain.StatusPending,
	"completed": domain.StatusSuccess,
	"success":   domain.StatusSuccess,
	"failed":    domain.StatusFailed,
	"cancelled": domain.StatusCancelled,
}

var defaultSequence = []string{"completed"}

type order struct {
	data   domain.OrderData
	step   int
	script []string
}

// Provider is an in-process backend with scripted status sequences. It needs
// no credentials and never performs I/O.
type Provider struct {
	mu       sync.Mutex
	orders   map[string]*order
	scripts  map[string][]string
	fallback []string
	now      func() time.Time
	pushes   []domain.PushRequest
}

type Option func(*Provider)

// WithDefaultSequence sets the raw status sequence for orders without a script.
func WithDefaultSequence(seq ...string) Option {
	return func(p *Provider) {
		if len(seq) > 0 {
			p.fallback = append([]string(nil), seq...)
		}
	}
}

// WithStatusSequence scripts the raw statuses returned for orderID. The last
// value repeats once the sequence is exhausted.
func WithStatusSequence(orderID string, seq ...string) Option {
	return func(p *Provider) {
		p.scripts[orderID] = append([]string(nil), seq...)
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

func New(opts ...Option) *Provider {
	p := &Provider{
		orders:   map[string]*order{},
		scripts:  map[string][]string{},
		fallback: defaultSequence,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) ID() domain.ProviderID { return domain.ProviderMock }

func (p *Provider) Descriptor() domain.ProviderDescriptor {
	return domain.ProviderDescriptor{
		ID:              domain.ProviderMock,
		DisplayName:     "Mock Provider",
		Kind:            domain.KindMobileMoney,
		SupportsPush:    true,
		SupportsWebhook: true,
		Fees:            domain.Fees{Percentage: decimal.Zero, Fixed: decimal.Zero},
	}
}

func (p *Provider) MapStatus(raw string) domain.PaymentStatus { return statuses.Map(raw) }

// Script replaces the status sequence of orderID at runtime.
func (p *Provider) Script(orderID string, seq ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[orderID] = append([]string(nil), seq...)
	if o, ok := p.orders[orderID]; ok {
		o.script = p.scripts[orderID]
		o.step = 0
	}
}

// Pushes returns the push requests received so far.
func (p *Provider) Pushes() []domain.PushRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.PushRequest(nil), p.pushes...)
}

func (p *Provider) CreateOrder(ctx context.Context, data domain.OrderData, creds domain.Credentials) domain.OrderResult {
	result := domain.OrderResult{Provider: domain.ProviderMock}
	data = data.Normalize()
	if err := data.Validate(); err != nil {
		verr := domain.ValidationError(domain.ProviderMock, "create_order", err)
		result.Message, result.Err = verr.Error(), verr
		return result
	}
	if data.OrderID == "" {
		data.OrderID = "MOCK-" + ulid.Make().String()
	}

	p.mu.Lock()
	p.register(data)
	p.mu.Unlock()

	result.Success = true
	result.OrderID = data.OrderID
	result.Message = "mock order created"
	result.Raw = map[string]any{"order_id": data.OrderID, "amount": data.Amount.String(), "currency": data.Currency}
	return result
}

func (p *Provider) TriggerPush(ctx context.Context, req domain.PushRequest, creds domain.Credentials) domain.PushAck {
	if strings.TrimSpace(req.Phone) == "" {
		err := domain.ValidationError(domain.ProviderMock, "trigger_push", domain.ErrInvalidPhone)
		return domain.PushAck{Message: err.Error(), Err: err}
	}
	p.mu.Lock()
	p.pushes = append(p.pushes, req)
	p.register(domain.OrderData{
		OrderID:    req.OrderID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		BuyerName:  req.CustomerName,
		BuyerPhone: req.Phone,
	}.Normalize())
	p.mu.Unlock()
	return domain.PushAck{Accepted: true, Message: "mock push sent", Raw: map[string]any{"order_id": req.OrderID}}
}

// register must be called with p.mu held.
func (p *Provider) register(data domain.OrderData) {
	script, ok := p.scripts[data.OrderID]
	if !ok {
		script = p.fallback
	}
	if existing, ok := p.orders[data.OrderID]; ok {
		existing.data = data
		return
	}
	p.orders[data.OrderID] = &order{data: data, script: script}
}

func (p *Provider) CheckStatus(ctx context.Context, orderID string, creds domain.Credentials) domain.StatusResult {
	result := domain.StatusResult{Provider: domain.ProviderMock, Result: domain.ResultFail, Orders: []domain.StatusOrder{}}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		err := domain.ValidationError(domain.ProviderMock, "check_status", domain.ErrInvalidOrderID)
		result.Message, result.Err = err.Error(), err
		return result
	}

	p.mu.Lock()
	o, ok := p.orders[orderID]
	if !ok {
		script, scripted := p.scripts[orderID]
		if !scripted {
			p.mu.Unlock()
			err := domain.VendorError(domain.ProviderMock, "check_status", "order not found")
			result.Message, result.Err = "order not found", err
			return result
		}
		o = &order{data: domain.OrderData{OrderID: orderID, Currency: domain.DefaultCurrency}, script: script}
		p.orders[orderID] = o
	}
	raw := next(o)
	data := o.data
	p.mu.Unlock()

	now := p.now().UTC()
	result.Orders = append(result.Orders, domain.StatusOrder{
		OrderID:    orderID,
		Status:     statuses.Map(raw),
		RawStatus:  raw,
		Amount:     data.Amount,
		Currency:   data.Currency,
		BuyerName:  data.BuyerName,
		BuyerPhone: data.BuyerPhone,
		Channel:    "mock",
		UpdatedAt:  &now,
	})
	result.Count = 1
	result.Success = true
	result.Result = domain.ResultSuccess
	result.Message = "status retrieved"
	result.Raw = map[string]any{"order_id": orderID, "payment_status": raw}
	return result
}

func next(o *order) string {
	if len(o.script) == 0 {
		return defaultSequence[0]
	}
	idx := o.step
	if idx >= len(o.script) {
		idx = len(o.script) - 1
	} else {
		o.step++
	}
	return o.script[idx]
}

// ParseWebhook accepts a generic body with orderId|order_id,
// status|payment_status and timestamp.
func (p *Provider) ParseWebhook(payload []byte, headers http.Header, creds domain.Credentials) (domain.WebhookNotification, error) {
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return domain.WebhookNotification{}, domain.ErrInvalidPayload
	}
	orderID := stringField(body, "orderId", "order_id")
	raw := stringField(body, "status", "payment_status")
	if orderID == "" || raw == "" {
		return domain.WebhookNotification{}, domain.ErrInvalidPayload
	}
	amount, _ := decimal.NewFromString(stringField(body, "amount"))
	return domain.WebhookNotification{
		Provider:  domain.ProviderMock,
		OrderID:   orderID,
		Status:    statuses.Map(raw),
		RawStatus: raw,
		Timestamp: stringField(body, "timestamp"),
		Amount:    amount,
		Currency:  stringField(body, "currency"),
		EventID:   stringField(body, "event_id", "id"),
	}, nil
}

func stringField(body map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := body[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return decimal.NewFromFloat(v).String()
		case json.Number:
			return v.String()
		}
	}
	return ""
}

var (
	_ domain.PushProvider  = (*Provider)(nil)
	_ domain.WebhookParser = (*Provider)(nil)
)
