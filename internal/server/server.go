package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/smallbiznis/paygate/internal/config"
	"github.com/smallbiznis/paygate/internal/observability"
	obslogger "github.com/smallbiznis/paygate/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paygate/internal/observability/metrics"
	obstracing "github.com/smallbiznis/paygate/internal/observability/tracing"
	paymentservice "github.com/smallbiznis/paygate/internal/payment/service"
	"github.com/smallbiznis/paygate/internal/payment/webhook"
	settingsservice "github.com/smallbiznis/paygate/internal/paymentsettings/service"
	"github.com/smallbiznis/paygate/internal/ussd"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

// newCORS answers preflight requests before they reach gin.
func newCORS(origins []string) *cors.Cors {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         600,
	})
}

// Handler wraps the engine with CORS handling.
func Handler(cfg config.Config, r *gin.Engine) http.Handler {
	return newCORS(cfg.CORSAllowedOrigins).Handler(r)
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           Handler(cfg, r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Params struct {
	fx.In

	Engine     *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	PaymentSvc *paymentservice.Service
	WebhookSvc *webhook.Service
	USSD       *ussd.Engine
	Settings   *settingsservice.Store
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	paymentSvc *paymentservice.Service
	webhookSvc *webhook.Service
	ussd       *ussd.Engine
	settings   *settingsservice.Store
}

func NewServer(p Params) *Server {
	return &Server{
		engine:     p.Engine,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.server"),
		paymentSvc: p.PaymentSvc,
		webhookSvc: p.WebhookSvc,
		ussd:       p.USSD,
		settings:   p.Settings,
	}
}

func (s *Server) RegisterRoutes() {
	r := s.engine

	r.POST("/webhooks", s.HandlePaymentWebhook)
	r.POST("/webhooks/:provider", s.HandlePaymentWebhook)

	api := r.Group("/api")
	api.POST("/payments/orders", s.CreatePaymentOrder)
	api.GET("/payments/:order_id/status", s.GetPaymentStatus)
	api.POST("/payments/ussd", s.StartUSSDPush)
	api.GET("/payments/ussd/:order_id", s.GetUSSDSession)
	api.DELETE("/payments/ussd/:order_id", s.CancelUSSDSession)

	api.GET("/payment-providers", s.ListPaymentProviderCatalog)
	api.GET("/payment-settings/active", s.GetActivePaymentProvider)
	api.PUT("/payment-settings/active", s.SetActivePaymentProvider)
	api.PUT("/payment-settings/credentials/:provider", s.UpdatePaymentProviderCredentials)
}

func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	return payload.Type, validationErrorCode(err)
}
