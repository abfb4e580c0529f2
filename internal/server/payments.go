package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	obslogger "github.com/smallbiznis/paygate/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
)

type createOrderRequest struct {
	Provider   string          `json:"provider"`
	OrderID    string          `json:"order_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	BuyerName  string          `json:"buyer_name"`
	BuyerEmail string          `json:"buyer_email"`
	BuyerPhone string          `json:"buyer_phone"`
	SaleID     string          `json:"sale_id"`
	Metadata   map[string]any  `json:"metadata"`
}

func (s *Server) CreatePaymentOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	id := s.paymentSvc.ActiveProvider()
	if strings.TrimSpace(req.Provider) != "" {
		parsed, err := paymentdomain.ParseProviderID(req.Provider)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		id = parsed
	}
	c.Set(obslogger.ProviderKey, string(id))

	result := s.paymentSvc.CreateOrderWith(c.Request.Context(), id, paymentdomain.OrderData{
		OrderID:    req.OrderID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		BuyerName:  req.BuyerName,
		BuyerEmail: req.BuyerEmail,
		BuyerPhone: req.BuyerPhone,
		SaleID:     req.SaleID,
		Metadata:   req.Metadata,
	}, nil)
	if !result.Success {
		if result.Err == nil {
			result.Err = paymentdomain.VendorError(id, "create_order", result.Message)
		}
		AbortWithError(c, result.Err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"order": result})
}

func (s *Server) GetPaymentStatus(c *gin.Context) {
	orderID := strings.TrimSpace(c.Param("order_id"))
	result, err := s.paymentSvc.StatusCheck(c.Request.Context(), orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if result.Orders == nil {
		result.Orders = []paymentdomain.StatusOrder{}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  result.Success,
		"result":   result.Result,
		"provider": result.Provider,
		"orders":   result.Orders,
		"count":    result.Count,
		"message":  result.Message,
	})
}
