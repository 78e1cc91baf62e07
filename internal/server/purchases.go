package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	purchasedomain "github.com/smallbiznis/promptmart/internal/purchase/domain"
)

type refundOrderRequest struct {
	RevokeLicense bool `json:"revoke_license"`
}

func (s *Server) CreatePurchase(c *gin.Context) {
	var req purchasedomain.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if key := strings.TrimSpace(c.GetHeader("Idempotency-Key")); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}

	result, err := s.purchaseSvc.SettlePurchase(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	switch {
	case result.Pending:
		status = http.StatusAccepted
	case result.Replayed:
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"data": result})
}

func (s *Server) GetOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	order, err := s.purchaseSvc.GetOrder(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) RefundOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req refundOrderRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	order, err := s.purchaseSvc.RefundOrder(c.Request.Context(), purchasedomain.RefundRequest{
		OrderID:       id,
		RevokeLicense: req.RevokeLicense,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) GetLicense(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		AbortWithError(c, newValidationError("key", "invalid_key", "invalid key"))
		return
	}

	license, err := s.purchaseSvc.GetLicense(c.Request.Context(), key)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"license": license,
		"active":  license.Active(),
	}})
}
