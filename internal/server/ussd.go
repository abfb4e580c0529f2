package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	obslogger "github.com/smallbiznis/paygate/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
)

type startUSSDRequest struct {
	Provider     string          `json:"provider"`
	OrderID      string          `json:"order_id"`
	Phone        string          `json:"phone"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	CustomerName string          `json:"customer_name"`
}

// StartUSSDPush triggers the prompt and returns while polling continues.
func (s *Server) StartUSSDPush(c *gin.Context) {
	var req startUSSDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var id paymentdomain.ProviderID
	if strings.TrimSpace(req.Provider) != "" {
		parsed, err := paymentdomain.ParseProviderID(req.Provider)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		id = parsed
		c.Set(obslogger.ProviderKey, string(id))
	}

	session, err := s.ussd.StartWith(c.Request.Context(), id, paymentdomain.PushRequest{
		OrderID:      req.OrderID,
		Phone:        req.Phone,
		Amount:       req.Amount,
		Currency:     req.Currency,
		CustomerName: req.CustomerName,
	}, nil)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"session": session.Snapshot()})
}

func (s *Server) GetUSSDSession(c *gin.Context) {
	session, err := s.ussd.Session(c.Param("order_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session.Snapshot()})
}

func (s *Server) CancelUSSDSession(c *gin.Context) {
	session, err := s.ussd.Cancel(c.Param("order_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session.Snapshot()})
}
