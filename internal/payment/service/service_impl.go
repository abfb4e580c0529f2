package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/paygate/internal/config"
	ledgerdomain "github.com/smallbiznis/paygate/internal/ledger/domain"
	obscontext "github.com/smallbiznis/paygate/internal/observability/context"
	obsmetrics "github.com/smallbiznis/paygate/internal/observability/metrics"
	"github.com/smallbiznis/paygate/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const remoteLookupFailed = "remote lookup failed"

// Settings is the persisted part of provider selection and credentials.
type Settings interface {
	ActiveProvider() (paymentdomain.ProviderID, bool)
	SetActiveProvider(ctx context.Context, id paymentdomain.ProviderID) error
	EffectiveCredentials(id paymentdomain.ProviderID) paymentdomain.Credentials
	IsConfigured(id paymentdomain.ProviderID) bool
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Registry   *adapters.Registry
	Settings   Settings
	Ledger     ledgerdomain.Service
	Cfg        config.Config
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service routes checkout calls to the active provider and keeps the ledger
// in step with every result.
type Service struct {
	log        *zap.Logger
	registry   *adapters.Registry
	settings   Settings
	ledger     ledgerdomain.Service
	obsMetrics *obsmetrics.Metrics

	mu     sync.RWMutex
	active paymentdomain.ProviderID

	lookups singleflight.Group
}

// CatalogEntry is a provider descriptor with selection state.
type CatalogEntry struct {
	paymentdomain.ProviderDescriptor
	Active     bool `json:"active"`
	Configured bool `json:"configured"`
}

func NewService(p Params) *Service {
	s := &Service{
		log:        p.Log.Named("payment.service"),
		registry:   p.Registry,
		settings:   p.Settings,
		ledger:     p.Ledger,
		obsMetrics: p.ObsMetrics,
	}
	s.active = s.resolveDefault(p.Cfg.Payments.DefaultProvider)
	if s.active == "" {
		s.log.Warn("no payment provider registered")
	} else {
		s.log.Info("active payment provider resolved", zap.String("provider", string(s.active)))
	}
	return s
}

// resolveDefault picks persisted, then env, then zenopay, then mock. The first
// registered candidate wins.
func (s *Service) resolveDefault(envDefault string) paymentdomain.ProviderID {
	candidates := make([]paymentdomain.ProviderID, 0, 4)
	if s.settings != nil {
		if persisted, ok := s.settings.ActiveProvider(); ok {
			candidates = append(candidates, persisted)
		}
	}
	if id, err := paymentdomain.ParseProviderID(envDefault); err == nil {
		candidates = append(candidates, id)
	} else if strings.TrimSpace(envDefault) != "" {
		s.log.Warn("ignoring unknown default provider", zap.String("value", envDefault))
	}
	candidates = append(candidates, paymentdomain.ProviderZenoPay, paymentdomain.ProviderMock)

	for _, id := range candidates {
		if s.registry.Has(id) {
			return id
		}
	}
	return ""
}

// SetActiveProvider persists id and makes it the target of later calls.
func (s *Service) SetActiveProvider(ctx context.Context, id paymentdomain.ProviderID) error {
	parsed, err := paymentdomain.ParseProviderID(string(id))
	if err != nil {
		return err
	}
	if !s.registry.Has(parsed) {
		return paymentdomain.ErrProviderNotConfigured
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings != nil {
		if err := s.settings.SetActiveProvider(ctx, parsed); err != nil {
			return err
		}
	}
	previous := s.active
	s.active = parsed
	s.log.Info("active payment provider switched",
		zap.String("from", string(previous)),
		zap.String("to", string(parsed)),
	)
	return nil
}

func (s *Service) ActiveProvider() paymentdomain.ProviderID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// ProviderInstance returns the implementation of the active provider.
func (s *Service) ProviderInstance() (paymentdomain.Provider, error) {
	active := s.ActiveProvider()
	if active == "" {
		return nil, paymentdomain.ErrProviderNotConfigured
	}
	return s.registry.Provider(active)
}

// PushProvider returns id's implementation if it can trigger USSD pushes.
func (s *Service) PushProvider(id paymentdomain.ProviderID) (paymentdomain.PushProvider, error) {
	return s.registry.PushProvider(id)
}

// Credentials resolves the effective credentials of id.
func (s *Service) Credentials(id paymentdomain.ProviderID) paymentdomain.Credentials {
	if s.settings == nil {
		return paymentdomain.Credentials{}
	}
	return s.settings.EffectiveCredentials(id)
}

func (s *Service) resolveCredentials(id paymentdomain.ProviderID, creds *paymentdomain.Credentials) paymentdomain.Credentials {
	if creds != nil {
		return *creds
	}
	return s.Credentials(id)
}

func (s *Service) CreateOrder(ctx context.Context, data paymentdomain.OrderData, creds *paymentdomain.Credentials) paymentdomain.OrderResult {
	return s.CreateOrderWith(ctx, s.ActiveProvider(), data, creds)
}

// CreateOrderWith creates an order against id and records it as PENDING.
func (s *Service) CreateOrderWith(ctx context.Context, id paymentdomain.ProviderID, data paymentdomain.OrderData, creds *paymentdomain.Credentials) paymentdomain.OrderResult {
	provider, err := s.lookup(id)
	if err != nil {
		s.log.Error("create order without provider", zap.String("provider", string(id)), zap.Error(err))
		return paymentdomain.OrderResult{Provider: id, Message: err.Error(), Err: err}
	}
	id = provider.ID()
	ctx = obscontext.WithProvider(ctx, string(id))

	data = data.Normalize()
	desc := provider.Descriptor()
	if err := desc.CheckLimits(data.Amount); err != nil {
		verr := paymentdomain.ValidationError(id, "create_order", err)
		s.recordOrder(ctx, id, verr)
		return paymentdomain.OrderResult{Provider: id, Message: verr.Error(), Err: verr}
	}
	if desc.Kind == paymentdomain.KindMobileMoney && data.BuyerEmail == "" {
		data.BuyerEmail = paymentdomain.MobileMoneyEmail(data.BuyerPhone)
	}

	start := time.Now()
	result := provider.CreateOrder(ctx, data, s.resolveCredentials(id, creds))
	s.obsMetrics.ObserveProviderCall(ctx, string(id), "create_order", time.Since(start))
	result.Provider = id
	s.recordOrder(ctx, id, result.Err)

	if !result.Success {
		s.log.Warn("payment order rejected",
			zap.String("provider", string(id)),
			zap.String("kind", string(paymentdomain.KindOf(result.Err))),
			zap.String("message", result.Message),
		)
		return result
	}

	_, _, lerr := s.ledger.UpsertTransaction(ctx, ledgerdomain.TransactionUpsert{
		Provider: id,
		OrderID:  result.OrderID,
		Status:   paymentdomain.StatusPending,
		Amount:   data.Amount,
		Currency: data.Currency,
		SaleID:   data.SaleID,
		Metadata: data.Metadata,
	})
	if lerr != nil {
		s.log.Error("record created order", zap.String("provider", string(id)), zap.String("order_id", result.OrderID), zap.Error(lerr))
	}
	s.log.Info("payment order created", zap.String("provider", string(id)), zap.String("order_id", result.OrderID))
	return result
}

func (s *Service) CheckStatus(ctx context.Context, orderID string, creds *paymentdomain.Credentials) paymentdomain.StatusResult {
	return s.CheckStatusWith(ctx, s.ActiveProvider(), orderID, creds)
}

// CheckStatusWith queries id and reconciles each returned order into the ledger.
func (s *Service) CheckStatusWith(ctx context.Context, id paymentdomain.ProviderID, orderID string, creds *paymentdomain.Credentials) paymentdomain.StatusResult {
	provider, err := s.lookup(id)
	if err != nil {
		return paymentdomain.StatusResult{Provider: id, Result: paymentdomain.ResultFail, Orders: []paymentdomain.StatusOrder{}, Message: err.Error(), Err: err}
	}
	id = provider.ID()
	ctx = obscontext.WithOrderID(obscontext.WithProvider(ctx, string(id)), orderID)

	start := time.Now()
	result := provider.CheckStatus(ctx, orderID, s.resolveCredentials(id, creds))
	s.obsMetrics.ObserveProviderCall(ctx, string(id), "check_status", time.Since(start))
	result.Provider = id
	s.obsMetrics.RecordStatusCheck(ctx, string(id), result.Result)

	if result.Success {
		s.Reconcile(ctx, id, result)
	}
	return result
}

// Reconcile applies every order of a status result to the ledger.
func (s *Service) Reconcile(ctx context.Context, id paymentdomain.ProviderID, result paymentdomain.StatusResult) {
	for _, order := range result.Orders {
		if strings.TrimSpace(order.OrderID) == "" {
			continue
		}
		_, _, err := s.ledger.UpsertTransaction(ctx, ledgerdomain.TransactionUpsert{
			Provider: id,
			OrderID:  order.OrderID,
			Status:   order.Status,
			Amount:   order.Amount,
			Currency: order.Currency,
		})
		if err != nil {
			s.log.Error("reconcile status", zap.String("provider", string(id)), zap.String("order_id", order.OrderID), zap.Error(err))
		}
	}
}

// StatusCheck is the status endpoint flow. Concurrent lookups of the same
// order share one vendor call. A failed lookup falls back to the ledger.
func (s *Service) StatusCheck(ctx context.Context, orderID string) (paymentdomain.StatusResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return paymentdomain.StatusResult{}, paymentdomain.ErrInvalidOrderID
	}
	active := s.ActiveProvider()
	if active == "" {
		return paymentdomain.StatusResult{}, paymentdomain.ErrProviderNotConfigured
	}

	value, _, _ := s.lookups.Do(string(active)+"|"+orderID, func() (any, error) {
		return s.CheckStatusWith(context.WithoutCancel(ctx), active, orderID, nil), nil
	})
	result := value.(paymentdomain.StatusResult)
	if result.Success {
		return result, nil
	}
	if paymentdomain.KindOf(result.Err) == "" && result.Err != nil {
		return result, result.Err
	}

	local, err := s.ledger.GetTransactionByOrderID(ctx, orderID)
	if err != nil || local == nil {
		return result, nil
	}
	return paymentdomain.StatusResult{
		Success:  false,
		Result:   paymentdomain.ResultFail,
		Provider: paymentdomain.ProviderID(local.Provider),
		Orders:   []paymentdomain.StatusOrder{statusOrderFromTransaction(local)},
		Count:    1,
		Message:  remoteLookupFailed + ": " + result.Message,
		Err:      result.Err,
	}, nil
}

func statusOrderFromTransaction(tx *ledgerdomain.PaymentTransaction) paymentdomain.StatusOrder {
	createdAt := tx.CreatedAt
	updatedAt := tx.UpdatedAt
	return paymentdomain.StatusOrder{
		OrderID:   tx.OrderID,
		Status:    tx.Status,
		RawStatus: string(tx.Status),
		Amount:    tx.Amount,
		Currency:  tx.Currency,
		Channel:   "ledger",
		CreatedAt: &createdAt,
		UpdatedAt: &updatedAt,
	}
}

// Catalog lists registered providers with their selection state.
func (s *Service) Catalog() []CatalogEntry {
	active := s.ActiveProvider()
	descriptors := s.registry.Descriptors()
	out := make([]CatalogEntry, 0, len(descriptors))
	for _, desc := range descriptors {
		configured := desc.ID == paymentdomain.ProviderMock
		if s.settings != nil && s.settings.IsConfigured(desc.ID) {
			configured = true
		}
		out = append(out, CatalogEntry{
			ProviderDescriptor: desc,
			Active:             desc.ID == active,
			Configured:         configured,
		})
	}
	return out
}

func (s *Service) lookup(id paymentdomain.ProviderID) (paymentdomain.Provider, error) {
	if id == "" {
		return nil, paymentdomain.ErrProviderNotConfigured
	}
	return s.registry.Provider(id)
}

func (s *Service) recordOrder(ctx context.Context, id paymentdomain.ProviderID, err error) {
	outcome := "success"
	if err != nil {
		outcome = string(paymentdomain.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	s.obsMetrics.RecordPaymentOrder(ctx, string(id), outcome)
}
