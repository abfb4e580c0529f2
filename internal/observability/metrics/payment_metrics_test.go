package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifyDBReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: ReasonDeadlineExceeded,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: ReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  &pgconn.PgError{Code: "40001"},
			want: ReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: ReasonUniqueViolation,
		},
		{
			name: "other_pg",
			err:  &pgconn.PgError{Code: "42P01"},
			want: ReasonDB,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: ReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyDBReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestObservePushOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewPaymentMetrics(registry, Config{ServiceName: "paygate", Environment: "test"})

	m.IncInFlight()
	m.ObservePushOutcome("mock", "COMPLETED", 3, 15*time.Second)
	m.DecInFlight()
	m.IncLedgerError(LedgerOpUpsertTransaction, &pgconn.PgError{Code: "40001"})

	if got := testutil.ToFloat64(m.pushOutcomes.WithLabelValues("mock", "COMPLETED")); got != 1 {
		t.Fatalf("expected 1 completed outcome, got %v", got)
	}
	if got := testutil.ToFloat64(m.inFlight); got != 0 {
		t.Fatalf("expected no sessions in flight, got %v", got)
	}
	if got := testutil.ToFloat64(m.ledgerErrors.WithLabelValues(LedgerOpUpsertTransaction, ReasonSerializationFailure)); got != 1 {
		t.Fatalf("expected 1 ledger error, got %v", got)
	}
}
