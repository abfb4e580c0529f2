package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/paygate/internal/ledger/domain"
	"github.com/smallbiznis/paygate/internal/notify"
	obscontext "github.com/smallbiznis/paygate/internal/observability/context"
	obsmetrics "github.com/smallbiznis/paygate/internal/observability/metrics"
	"github.com/smallbiznis/paygate/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
	"github.com/smallbiznis/paygate/internal/paymentsettings/masking"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	reasonUnregistered   = "unregistered provider"
	reasonNoParser       = "provider does not accept webhooks"
	reasonInvalidJSON    = "payload is not valid json"
	reasonInvalidPayload = "unrecognized payload"
	reasonBadSignature   = "invalid signature"
	reasonIgnored        = "event ignored"
)

// ProviderResolver supplies the active provider and its credentials.
type ProviderResolver interface {
	ActiveProvider() paymentdomain.ProviderID
	Credentials(id paymentdomain.ProviderID) paymentdomain.Credentials
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Registry   *adapters.Registry
	Providers  ProviderResolver
	Ledger     ledgerdomain.Service
	Notifier   notify.Notifier     `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Receipt acknowledges a delivery. It is returned for every stored payload.
type Receipt struct {
	WebhookID snowflake.ID              `json:"webhook_id"`
	Provider  string                    `json:"provider"`
	State     ledgerdomain.WebhookState `json:"state"`
	Duplicate bool                      `json:"duplicate"`
	Reason    string                    `json:"reason,omitempty"`
}

type Service struct {
	log        *zap.Logger
	registry   *adapters.Registry
	providers  ProviderResolver
	ledger     ledgerdomain.Service
	notifier   notify.Notifier
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		log:        p.Log.Named("payment.webhook"),
		registry:   p.Registry,
		providers:  p.Providers,
		ledger:     p.Ledger,
		notifier:   p.Notifier,
		obsMetrics: p.ObsMetrics,
	}
}

// Ingest stores payload, applies it to the ledger at most once and reports
// what happened. Only a failure to store the raw payload is returned as an error.
func (s *Service) Ingest(ctx context.Context, hint string, payload []byte, headers http.Header) (Receipt, error) {
	name, id, registered := s.resolveProvider(hint, payload)
	ctx = obscontext.WithProvider(ctx, name)

	record, err := s.ledger.RecordWebhook(ctx, name, payload)
	if err != nil {
		s.log.Error("store webhook payload", zap.String("provider", name), zap.Error(err))
		return Receipt{}, err
	}
	receipt := Receipt{WebhookID: record.ID, Provider: record.Provider, State: ledgerdomain.WebhookStateReceived}

	log := s.log.With(
		zap.String("provider", record.Provider),
		zap.Int64("webhook_id", record.ID.Int64()),
	)
	log.Debug("webhook received", zap.Any("headers", masking.MaskHeaders(headers)), zap.Int("bytes", len(payload)))

	if !registered {
		return s.finish(ctx, log, receipt, ledgerdomain.WebhookUpdate{State: ledgerdomain.WebhookStateNeedsReview, Reason: reasonUnregistered}), nil
	}
	if !json.Valid(payload) {
		return s.finish(ctx, log, receipt, ledgerdomain.WebhookUpdate{State: ledgerdomain.WebhookStateNeedsReview, Reason: reasonInvalidJSON}), nil
	}

	provider, err := s.registry.Provider(id)
	if err != nil {
		return s.finish(ctx, log, receipt, ledgerdomain.WebhookUpdate{State: ledgerdomain.WebhookStateNeedsReview, Reason: reasonUnregistered}), nil
	}
	parser, ok := provider.(paymentdomain.WebhookParser)
	if !ok {
		return s.finish(ctx, log, receipt, ledgerdomain.WebhookUpdate{State: ledgerdomain.WebhookStateNeedsReview, Reason: reasonNoParser}), nil
	}

	note, err := parser.ParseWebhook(payload, headers, s.credentials(id))
	switch {
	case errors.Is(err, paymentdomain.ErrEventIgnored):
		return s.finish(ctx, log, receipt, ledgerdomain.WebhookUpdate{State: ledgerdomain.WebhookStateProcessed, Reason: reasonIgnored}), nil
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return s.finish(ctx, log, receipt, ledgerdomain.WebhookUpdate{State: ledgerdomain.WebhookStateNeedsReview, Reason: reasonBadSignature}), nil
	case err != nil:
		return s.finish(ctx, log, receipt, ledgerdomain.WebhookUpdate{State: ledgerdomain.WebhookStateNeedsReview, Reason: reasonInvalidPayload + ": " + err.Error()}), nil
	}
	if strings.TrimSpace(note.OrderID) == "" {
		return s.finish(ctx, log, receipt, ledgerdomain.WebhookUpdate{State: ledgerdomain.WebhookStateNeedsReview, Reason: reasonInvalidPayload}), nil
	}

	ctx = obscontext.WithOrderID(ctx, note.OrderID)
	log = log.With(zap.String("order_id", note.OrderID), zap.String("status", string(note.Status)))
	update := ledgerdomain.WebhookUpdate{
		OrderID:   note.OrderID,
		Status:    string(note.Status),
		DedupeKey: DedupeKey(id, note.OrderID, note.Status, note.Timestamp),
	}

	claimed, err := s.ledger.ClaimDeliveryKey(ctx, update.DedupeKey, record.ID)
	if err != nil {
		log.Error("claim webhook delivery", zap.Error(err))
		update.State, update.Reason = ledgerdomain.WebhookStateFailed, "claim delivery: "+err.Error()
		return s.finish(ctx, log, receipt, update), nil
	}
	if !claimed {
		update.State = ledgerdomain.WebhookStateDuplicate
		receipt.Duplicate = true
		return s.finish(ctx, log, receipt, update), nil
	}

	tx, outcome, err := s.ledger.UpsertTransaction(ctx, ledgerdomain.TransactionUpsert{
		Provider: id,
		OrderID:  note.OrderID,
		Status:   note.Status,
		Amount:   note.Amount,
		Currency: note.Currency,
	})
	if err != nil {
		if rerr := s.ledger.ReleaseDeliveryKey(ctx, update.DedupeKey); rerr != nil {
			log.Error("release webhook delivery", zap.Error(rerr))
		}
		log.Error("apply webhook", zap.Error(err))
		update.State, update.Reason = ledgerdomain.WebhookStateFailed, err.Error()
		return s.finish(ctx, log, receipt, update), nil
	}

	update.State = ledgerdomain.WebhookStateProcessed
	receipt = s.finish(ctx, log, receipt, update)

	if outcome != ledgerdomain.OutcomeUnchanged && tx != nil && tx.Status.IsTerminal() && s.notifier != nil {
		s.notifier.Notify(ctx, notify.Event{
			Type:     notify.EventTypeFor(tx.Status),
			Provider: string(id),
			OrderID:  tx.OrderID,
			Status:   string(tx.Status),
			Message:  "confirmed by webhook",
		})
	}
	return receipt, nil
}

// finish persists the final state of a delivery. A failed mark is logged and
// the delivery is still acknowledged.
func (s *Service) finish(ctx context.Context, log *zap.Logger, receipt Receipt, update ledgerdomain.WebhookUpdate) Receipt {
	if err := s.ledger.MarkWebhook(ctx, receipt.WebhookID, update); err != nil {
		log.Error("mark webhook", zap.String("state", string(update.State)), zap.Error(err))
	}
	receipt.State = update.State
	receipt.Reason = update.Reason

	switch update.State {
	case ledgerdomain.WebhookStateNeedsReview:
		log.Warn("webhook needs review", zap.String("reason", update.Reason))
	case ledgerdomain.WebhookStateDuplicate:
		log.Info("duplicate webhook delivery")
	case ledgerdomain.WebhookStateProcessed:
		log.Info("webhook processed")
	}
	s.obsMetrics.RecordWebhook(ctx, receipt.Provider, string(update.State))
	return receipt
}

// resolveProvider picks the URL hint, then the body's provider field, then
// the active provider. registered is false when the chosen name is not served.
func (s *Service) resolveProvider(hint string, payload []byte) (string, paymentdomain.ProviderID, bool) {
	name := strings.ToLower(strings.TrimSpace(hint))
	if name == "" {
		var body struct {
			Provider string `json:"provider"`
		}
		if err := json.Unmarshal(payload, &body); err == nil {
			name = strings.ToLower(strings.TrimSpace(body.Provider))
		}
	}
	if name == "" && s.providers != nil {
		name = string(s.providers.ActiveProvider())
	}
	if name == "" {
		return "unknown", "", false
	}

	id, err := paymentdomain.ParseProviderID(name)
	if err != nil || !s.registry.Has(id) {
		return name, "", false
	}
	return name, id, true
}

func (s *Service) credentials(id paymentdomain.ProviderID) paymentdomain.Credentials {
	if s.providers == nil {
		return paymentdomain.Credentials{}
	}
	return s.providers.Credentials(id)
}

// DedupeKey identifies a delivery by provider, order, canonical status and
// the provider's event timestamp.
func DedupeKey(provider paymentdomain.ProviderID, orderID string, status paymentdomain.PaymentStatus, timestamp string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		string(provider),
		strings.TrimSpace(orderID),
		string(status),
		strings.TrimSpace(timestamp),
	}, "|")))
	return hex.EncodeToString(sum[:])
}
