package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
)

type setActiveProviderRequest struct {
	Provider string `json:"provider"`
}

type updateCredentialsRequest struct {
	APIKey        string `json:"api_key"`
	SecretKey     string `json:"secret_key"`
	BaseURL       string `json:"base_url"`
	WebhookURL    string `json:"webhook_url"`
	WebhookSecret string `json:"webhook_secret"`
}

func (s *Server) ListPaymentProviderCatalog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": s.paymentSvc.Catalog()})
}

func (s *Server) GetActivePaymentProvider(c *gin.Context) {
	active := s.paymentSvc.ActiveProvider()
	if active == "" {
		AbortWithError(c, paymentdomain.ErrProviderNotConfigured)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"provider":    active,
		"credentials": s.settings.CredentialsView(active),
	})
}

func (s *Server) SetActivePaymentProvider(c *gin.Context) {
	var req setActiveProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	id, err := paymentdomain.ParseProviderID(req.Provider)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.paymentSvc.SetActiveProvider(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"provider": s.paymentSvc.ActiveProvider()})
}

func (s *Server) UpdatePaymentProviderCredentials(c *gin.Context) {
	id, err := paymentdomain.ParseProviderID(strings.TrimSpace(c.Param("provider")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req updateCredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	view, err := s.settings.SetCredentials(c.Request.Context(), id, paymentdomain.Credentials{
		APIKey:        req.APIKey,
		SecretKey:     req.SecretKey,
		BaseURL:       req.BaseURL,
		WebhookURL:    req.WebhookURL,
		WebhookSecret: req.WebhookSecret,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"credentials": view})
}
