package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	payoutdomain "github.com/smallbiznis/promptmart/internal/payout/domain"
)

type setDestinationRequest struct {
	Destination string `json:"destination"`
}

func (s *Server) SetPayoutDestination(c *gin.Context) {
	ownerID, ok := pathID(c, "owner_id")
	if !ok {
		return
	}
	var req setDestinationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	destination, err := s.payoutSvc.SetDestination(c.Request.Context(), payoutdomain.SetDestinationRequest{
		OwnerID:     ownerID,
		Provider:    strings.TrimSpace(c.Param("provider")),
		Destination: strings.TrimSpace(req.Destination),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": destination})
}

func (s *Server) RunPayoutBatch(c *gin.Context) {
	var req payoutdomain.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.payoutSvc.RunPayoutBatch(c.Request.Context(), payoutdomain.RunRequest{
		Provider: strings.TrimSpace(req.Provider),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Batch == nil {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"data": result})
}

func (s *Server) GetPayoutBatch(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	result, err := s.payoutSvc.GetPayoutBatchStatus(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
