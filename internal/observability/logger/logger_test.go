package logger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/paygate/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestWithContextAddsPaymentFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithOrderID(ctx, "ORD-7")
	WithContext(ctx, base).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "ORD-7", fields["order_id"])
	_, hasProvider := fields["provider"]
	assert.False(t, hasProvider)
}

func TestGinMiddlewareSetsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.GET("/health", func(c *gin.Context) {
		assert.Equal(t, "abc", obscontext.RequestIDFromContext(c.Request.Context()))
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "abc")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-Id"))
}

func TestStatementShape(t *testing.T) {
	op, table := statementShape("INSERT INTO payment_webhooks VALUES (?)")
	assert.Equal(t, "INSERT", op)
	assert.Equal(t, "payment_webhooks", table)

	op, table = statementShape(`UPDATE "payment_transactions" SET status = ? WHERE order_id = ?`)
	assert.Equal(t, "UPDATE", op)
	assert.Equal(t, "payment_transactions", table)

	op, table = statementShape("WITH x AS (SELECT 1) SELECT * FROM x")
	assert.Equal(t, "SELECT", op)
	assert.Equal(t, "x", table)

	op, table = statementShape("")
	assert.Equal(t, "UNKNOWN", op)
	assert.Empty(t, table)
}

func TestGormLoggerSkipsRecordNotFound(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	l := NewGormLogger(DefaultGormLoggerConfig())
	sql := func() (string, int64) { return "SELECT * FROM payment_transactions", 0 }
	l.Trace(context.Background(), time.Now(), sql, gormlogger.ErrRecordNotFound)
	assert.Equal(t, 0, logs.Len())

	l.Trace(context.Background(), time.Now(), sql, errors.New("disk full"))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "payment_transactions", logs.All()[0].ContextMap()["table"])
}

func TestRequestLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, requestLevel(http.MethodGet, "/api/payments/ussd/:order_id", http.StatusOK, ""))
	assert.Equal(t, zapcore.InfoLevel, requestLevel(http.MethodGet, "/api/payments/ussd/:order_id", http.StatusNotFound, "not_found"))
	assert.Equal(t, zapcore.DebugLevel, requestLevel(http.MethodPost, "/webhooks/:provider", http.StatusBadRequest, "validation_error"))
	assert.Equal(t, zapcore.InfoLevel, requestLevel(http.MethodPost, "/api/payments/ussd", http.StatusAccepted, ""))
	assert.Equal(t, zapcore.ErrorLevel, requestLevel(http.MethodPost, "/api/payments/orders", http.StatusBadGateway, "provider_error"))
}
