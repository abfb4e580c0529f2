package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paygate/internal/clock"
	"github.com/smallbiznis/paygate/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/paygate/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxUpsertAttempts = 5

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Repo           domain.Repository
	Clock          clock.Clock                `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics        `optional:"true"`
	PaymentMetrics *obsmetrics.PaymentMetrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	repo           domain.Repository
	clock          clock.Clock
	obsMetrics     *obsmetrics.Metrics
	paymentMetrics *obsmetrics.PaymentMetrics
}

func NewService(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("ledger.service"),
		genID:          p.GenID,
		repo:           p.Repo,
		clock:          clk,
		obsMetrics:     p.ObsMetrics,
		paymentMetrics: p.PaymentMetrics,
	}
}

// UpsertTransaction records an observation under the monotonic status rule.
// Concurrent writers race on compare-and-set, the loser re-reads and retries.
func (s *Service) UpsertTransaction(ctx context.Context, req domain.TransactionUpsert) (*domain.PaymentTransaction, domain.UpsertOutcome, error) {
	provider := strings.TrimSpace(string(req.Provider))
	if provider == "" {
		return nil, "", domain.ErrInvalidProvider
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return nil, "", domain.ErrInvalidOrderID
	}
	observed := paymentdomain.ParsePaymentStatus(string(req.Status))

	observedAt := req.ObservedAt.UTC()
	if req.ObservedAt.IsZero() {
		observedAt = s.clock.Now().UTC()
	}

	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		existing, err := s.repo.FindTransaction(ctx, s.db, provider, orderID)
		if err != nil {
			s.paymentMetrics.IncLedgerError(obsmetrics.LedgerOpUpsertTransaction, err)
			return nil, "", err
		}

		if existing == nil {
			row, err := s.newTransaction(provider, orderID, observed, req)
			if err != nil {
				return nil, "", err
			}
			inserted, err := s.repo.InsertTransaction(ctx, s.db, row)
			if err != nil {
				s.paymentMetrics.IncLedgerError(obsmetrics.LedgerOpUpsertTransaction, err)
				return nil, "", err
			}
			if !inserted {
				continue
			}
			s.recordTransition(ctx, provider, "", row.Status)
			return row, domain.OutcomeCreated, nil
		}

		next, changed := domain.Resolve(existing.Status, observed)
		if !changed {
			return existing, domain.OutcomeUnchanged, nil
		}

		updated := *existing
		updated.Status = next
		updated.UpdatedAt = observedAt
		if next.IsTerminal() {
			completedAt := observedAt
			updated.CompletedAt = &completedAt
		} else {
			updated.CompletedAt = nil
		}
		if updated.Amount.IsZero() && req.Amount.IsPositive() {
			updated.Amount = req.Amount
		}
		if updated.SaleID == nil && strings.TrimSpace(req.SaleID) != "" {
			saleID := strings.TrimSpace(req.SaleID)
			updated.SaleID = &saleID
		}
		if len(req.Metadata) > 0 {
			merged, err := mergeMetadata(existing.Metadata, req.Metadata)
			if err != nil {
				return nil, "", err
			}
			updated.Metadata = merged
		}

		ok, err := s.repo.UpdateTransactionStatus(ctx, s.db, existing.ID, existing.Status, &updated)
		if err != nil {
			s.paymentMetrics.IncLedgerError(obsmetrics.LedgerOpUpsertTransaction, err)
			return nil, "", err
		}
		if !ok {
			continue
		}
		s.recordTransition(ctx, provider, existing.Status, next)
		s.log.Info("payment transaction status changed",
			zap.String("provider", provider),
			zap.String("order_id", orderID),
			zap.String("from", string(existing.Status)),
			zap.String("to", string(next)),
		)
		return &updated, domain.OutcomeUpdated, nil
	}

	s.log.Warn("payment transaction upsert gave up", zap.String("provider", provider), zap.String("order_id", orderID))
	return nil, "", domain.ErrConcurrentUpdate
}

func (s *Service) newTransaction(provider, orderID string, observed paymentdomain.PaymentStatus, req domain.TransactionUpsert) (*domain.PaymentTransaction, error) {
	now := s.clock.Now().UTC()
	status := domain.InitialStatus(observed)
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = paymentdomain.DefaultCurrency
	}
	metadata, err := mergeMetadata(nil, req.Metadata)
	if err != nil {
		return nil, err
	}

	row := &domain.PaymentTransaction{
		ID:        s.genID.Generate(),
		Provider:  provider,
		OrderID:   orderID,
		Status:    status,
		Amount:    req.Amount,
		Currency:  currency,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if saleID := strings.TrimSpace(req.SaleID); saleID != "" {
		row.SaleID = &saleID
	}
	if status.IsTerminal() {
		completedAt := now
		row.CompletedAt = &completedAt
	}
	return row, nil
}

func (s *Service) recordTransition(ctx context.Context, provider string, from, to paymentdomain.PaymentStatus) {
	if s.obsMetrics == nil {
		return
	}
	fromLabel := string(from)
	if fromLabel == "" {
		fromLabel = "NONE"
	}
	s.obsMetrics.RecordTransactionTransition(ctx, provider, fromLabel, string(to))
}

func (s *Service) GetTransaction(ctx context.Context, provider paymentdomain.ProviderID, orderID string) (*domain.PaymentTransaction, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, domain.ErrInvalidOrderID
	}
	return s.repo.FindTransaction(ctx, s.db, string(provider), orderID)
}

// GetTransactionByOrderID returns the most recently updated transaction for orderID
// across providers.
func (s *Service) GetTransactionByOrderID(ctx context.Context, orderID string) (*domain.PaymentTransaction, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, domain.ErrInvalidOrderID
	}
	return s.repo.FindLatestTransaction(ctx, s.db, orderID)
}

// RecordWebhook stores the raw payload as received, valid JSON or not.
func (s *Service) RecordWebhook(ctx context.Context, provider string, payload []byte) (*domain.PaymentWebhook, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = "unknown"
	}
	webhook := &domain.PaymentWebhook{
		ID:         s.genID.Generate(),
		Provider:   provider,
		Payload:    string(payload),
		State:      domain.WebhookStateReceived,
		ReceivedAt: s.clock.Now().UTC(),
	}
	if err := s.repo.InsertWebhook(ctx, s.db, webhook); err != nil {
		s.paymentMetrics.IncLedgerError(obsmetrics.LedgerOpRecordWebhook, err)
		return nil, fmt.Errorf("record webhook: %w", err)
	}
	return webhook, nil
}

func (s *Service) GetWebhook(ctx context.Context, id snowflake.ID) (*domain.PaymentWebhook, error) {
	return s.repo.FindWebhook(ctx, s.db, id)
}

// ClaimDeliveryKey reports false when key was already claimed by an earlier delivery.
func (s *Service) ClaimDeliveryKey(ctx context.Context, key string, webhookID snowflake.ID) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, domain.ErrInvalidDedupeKey
	}
	claimed, err := s.repo.InsertDeliveryKey(ctx, s.db, key, webhookID, s.clock.Now().UTC())
	if err != nil {
		s.paymentMetrics.IncLedgerError(obsmetrics.LedgerOpClaimKey, err)
		return false, err
	}
	return claimed, nil
}

func (s *Service) ReleaseDeliveryKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrInvalidDedupeKey
	}
	return s.repo.DeleteDeliveryKey(ctx, s.db, key)
}

func (s *Service) MarkWebhook(ctx context.Context, id snowflake.ID, update domain.WebhookUpdate) error {
	now := s.clock.Now().UTC()
	at := &now
	if update.State == domain.WebhookStateReceived {
		at = nil
	}
	ok, err := s.repo.UpdateWebhook(ctx, s.db, id, update, at)
	if err != nil {
		s.paymentMetrics.IncLedgerError(obsmetrics.LedgerOpMarkWebhook, err)
		return err
	}
	if !ok {
		return domain.ErrWebhookNotFound
	}
	return nil
}

func mergeMetadata(existing datatypes.JSON, extra map[string]any) (datatypes.JSON, error) {
	if len(extra) == 0 {
		return existing, nil
	}
	merged := map[string]any{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &merged); err != nil {
			merged = map[string]any{}
		}
	}
	for key, value := range extra {
		merged[key] = value
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return datatypes.JSON(raw), nil
}
