package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/promptmart/internal/ledger/domain"
	rewardsdomain "github.com/smallbiznis/promptmart/internal/rewards/domain"
)

type grantRequest struct {
	Source    ledgerdomain.Source `json:"source"`
	Reference string              `json:"reference"`
}

func parseAsset(value string) (ledgerdomain.Asset, bool) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return ledgerdomain.AssetCredits, true
	}
	asset := ledgerdomain.Asset(trimmed)
	return asset, asset.Valid()
}

func (s *Server) accountKey(c *gin.Context) (ledgerdomain.AccountKey, bool) {
	ownerID, ok := pathID(c, "owner_id")
	if !ok {
		return ledgerdomain.AccountKey{}, false
	}
	asset, ok := parseAsset(c.Query("asset"))
	if !ok {
		AbortWithError(c, newValidationError("asset", "invalid_asset", "invalid asset"))
		return ledgerdomain.AccountKey{}, false
	}
	return ledgerdomain.AccountKey{OwnerID: ownerID, Asset: asset}, true
}

func (s *Server) GetBalance(c *gin.Context) {
	key, ok := s.accountKey(c)
	if !ok {
		return
	}

	balance, err := s.ledgerSvc.GetBalance(c.Request.Context(), key)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"owner_id": key.OwnerID.String(),
		"asset":    key.Asset,
		"balance":  balance,
	}})
}

func (s *Server) ListTransactions(c *gin.Context) {
	key, ok := s.accountKey(c)
	if !ok {
		return
	}
	var query struct {
		PageToken string `form:"page_token"`
		PageSize  string `form:"page_size"`
		Order     string `form:"order"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	pageSize, err := parseOptionalInt(query.PageSize)
	if err != nil || pageSize < 0 {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page_size"))
		return
	}

	resp, err := s.ledgerSvc.ListTransactions(c.Request.Context(), ledgerdomain.ListTransactionsRequest{
		Key:        key,
		PageToken:  strings.TrimSpace(query.PageToken),
		PageSize:   pageSize,
		Descending: strings.EqualFold(strings.TrimSpace(query.Order), "desc"),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetDailyStatus(c *gin.Context) {
	ownerID, ok := pathID(c, "owner_id")
	if !ok {
		return
	}

	status, err := s.rewardsSvc.DailyStatus(c.Request.Context(), ownerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": status})
}

func (s *Server) ClaimDaily(c *gin.Context) {
	ownerID, ok := pathID(c, "owner_id")
	if !ok {
		return
	}

	result, err := s.rewardsSvc.ClaimDaily(c.Request.Context(), ownerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) Grant(c *gin.Context) {
	ownerID, ok := pathID(c, "owner_id")
	if !ok {
		return
	}
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	txn, err := s.rewardsSvc.Grant(c.Request.Context(), rewardsdomain.GrantRequest{
		OwnerID:   ownerID,
		Source:    ledgerdomain.Source(strings.TrimSpace(string(req.Source))),
		Reference: strings.TrimSpace(req.Reference),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": txn})
}
