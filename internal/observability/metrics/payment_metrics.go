package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	ReasonDeadlineExceeded     = "deadline_exceeded"
	ReasonDBLockTimeout        = "db_lock_timeout"
	ReasonSerializationFailure = "serialization_failure"
	ReasonUniqueViolation      = "unique_violation"
	ReasonDB                   = "db"
	ReasonUnknown              = "unknown"
)

const (
	LedgerOpUpsertTransaction = "upsert_transaction"
	LedgerOpRecordWebhook     = "record_webhook"
	LedgerOpClaimKey          = "claim_delivery_key"
	LedgerOpMarkWebhook       = "mark_webhook"
)

// PaymentMetrics captures USSD push and ledger health signals.
type PaymentMetrics struct {
	pushOutcomes     *prometheus.CounterVec
	pollAttempts     *prometheus.HistogramVec
	sessionDuration  *prometheus.HistogramVec
	inFlight         prometheus.Gauge
	triggerFailures  *prometheus.CounterVec
	ledgerErrors     *prometheus.CounterVec
	guardRejections  *prometheus.CounterVec
	outcomeCounters  map[string]map[string]prometheus.Counter
	ledgerErrorCount map[string]map[string]prometheus.Counter
}

var (
	paymentMetricsOnce sync.Once
	paymentMetrics     *PaymentMetrics
)

// Payments returns the singleton payment metrics registered on the default registerer.
func Payments() *PaymentMetrics {
	return PaymentsWithConfig(Config{})
}

// PaymentsWithConfig returns the singleton payment metrics using config labels.
func PaymentsWithConfig(cfg Config) *PaymentMetrics {
	paymentMetricsOnce.Do(func() {
		paymentMetrics = NewPaymentMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return paymentMetrics
}

// NewPaymentMetrics registers a fresh set of collectors on registerer.
func NewPaymentMetrics(registerer prometheus.Registerer, cfg Config) *PaymentMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "paygate"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	pushOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "paygate_ussd_push_outcomes_total",
		Help:        "USSD push sessions by provider and terminal state.",
		ConstLabels: constLabels,
	}, []string{"provider", "state"})
	pollAttempts := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "paygate_ussd_poll_attempts",
		Help:        "Status polls needed before a USSD push session ended.",
		Buckets:     []float64{0, 1, 2, 3, 5, 8, 13, 21, 34, 60},
		ConstLabels: constLabels,
	}, []string{"provider", "state"})
	sessionDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "paygate_ussd_session_duration_seconds",
		Help:        "Wall time from trigger to terminal state.",
		Buckets:     []float64{1, 5, 10, 20, 30, 60, 120, 180, 300, 600},
		ConstLabels: constLabels,
	}, []string{"provider", "state"})
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "paygate_ussd_sessions_in_flight",
		Help:        "USSD push sessions currently waiting for confirmation.",
		ConstLabels: constLabels,
	})
	triggerFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "paygate_ussd_trigger_failures_total",
		Help:        "USSD trigger failures by error kind.",
		ConstLabels: constLabels,
	}, []string{"provider", "kind"})
	ledgerErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "paygate_ledger_errors_total",
		Help:        "Ledger write failures by operation and low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"op", "reason"})
	guardRejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "paygate_ussd_guard_rejections_total",
		Help:        "Push requests rejected because the order already had a live session.",
		ConstLabels: constLabels,
	}, []string{"provider"})

	registerer.MustRegister(
		pushOutcomes,
		pollAttempts,
		sessionDuration,
		inFlight,
		triggerFailures,
		ledgerErrors,
		guardRejections,
	)

	ledgerErrorCount := map[string]map[string]prometheus.Counter{}
	reasons := []string{
		ReasonDeadlineExceeded,
		ReasonDBLockTimeout,
		ReasonSerializationFailure,
		ReasonUniqueViolation,
		ReasonDB,
		ReasonUnknown,
	}
	for _, op := range []string{
		LedgerOpUpsertTransaction,
		LedgerOpRecordWebhook,
		LedgerOpClaimKey,
		LedgerOpMarkWebhook,
	} {
		opCounters := map[string]prometheus.Counter{}
		for _, reason := range reasons {
			opCounters[reason] = ledgerErrors.WithLabelValues(op, reason)
		}
		ledgerErrorCount[op] = opCounters
	}

	return &PaymentMetrics{
		pushOutcomes:     pushOutcomes,
		pollAttempts:     pollAttempts,
		sessionDuration:  sessionDuration,
		inFlight:         inFlight,
		triggerFailures:  triggerFailures,
		ledgerErrors:     ledgerErrors,
		guardRejections:  guardRejections,
		outcomeCounters:  map[string]map[string]prometheus.Counter{},
		ledgerErrorCount: ledgerErrorCount,
	}
}

// ObservePushOutcome records a finished push session.
func (m *PaymentMetrics) ObservePushOutcome(provider, state string, attempts int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.pushOutcomes.WithLabelValues(provider, state).Inc()
	m.pollAttempts.WithLabelValues(provider, state).Observe(float64(attempts))
	if elapsed < 0 {
		elapsed = 0
	}
	m.sessionDuration.WithLabelValues(provider, state).Observe(elapsed.Seconds())
}

func (m *PaymentMetrics) IncInFlight() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *PaymentMetrics) DecInFlight() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}

// IncTriggerFailure counts a push that never reached the handset.
func (m *PaymentMetrics) IncTriggerFailure(provider, kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = ReasonUnknown
	}
	m.triggerFailures.WithLabelValues(provider, kind).Inc()
}

func (m *PaymentMetrics) IncGuardRejection(provider string) {
	if m == nil {
		return
	}
	m.guardRejections.WithLabelValues(provider).Inc()
}

// IncLedgerError increments ledger errors by operation and classified reason.
func (m *PaymentMetrics) IncLedgerError(op string, err error) {
	if m == nil || err == nil {
		return
	}
	reason := ClassifyDBReason(err)
	if opCounters, ok := m.ledgerErrorCount[op]; ok {
		if counter, ok := opCounters[reason]; ok {
			counter.Inc()
			return
		}
	}
	m.ledgerErrors.WithLabelValues(op, reason).Inc()
}

// ClassifyDBReason maps persistence errors to low-cardinality reasons.
func ClassifyDBReason(err error) string {
	if err == nil {
		return ReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ReasonDeadlineExceeded
	}
	if hasPGCode(err, "55P03") {
		return ReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return ReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return ReasonUniqueViolation
	}
	if isDBError(err) {
		return ReasonDB
	}
	return ReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidField) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) ||
		errors.Is(err, gorm.ErrUnsupportedDriver) ||
		errors.Is(err, gorm.ErrInvalidValue) ||
		errors.Is(err, gorm.ErrNotImplemented) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
