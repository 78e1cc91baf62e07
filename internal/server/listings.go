package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	listingdomain "github.com/smallbiznis/promptmart/internal/listing/domain"
)

type listingResponse struct {
	*listingdomain.Listing
	Content   string `json:"content"`
	Purchased bool   `json:"purchased"`
}

func (s *Server) CreateListing(c *gin.Context) {
	var req listingdomain.CreateListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Title = strings.TrimSpace(req.Title)

	listing, err := s.listingSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": listingResponse{
		Listing:   listing,
		Content:   listing.Content,
		Purchased: true,
	}})
}

// GetListing returns the listing with its preview. Sellers and license
// holders named by buyer_id receive the full content.
func (s *Server) GetListing(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	buyerID, ok := parseOptionalSnowflakeID(c.Query("buyer_id"))
	if !ok {
		AbortWithError(c, newValidationError("buyer_id", "invalid_buyer_id", "invalid buyer_id"))
		return
	}

	ctx := c.Request.Context()
	listing, err := s.listingSvc.Get(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	hasAccess := buyerID != 0 && buyerID == listing.SellerID
	if buyerID != 0 && !hasAccess {
		hasAccess, err = s.purchaseSvc.HasAccess(ctx, buyerID, listing.ID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"data": listingResponse{
		Listing:   listing,
		Content:   s.listingSvc.PreviewContent(listing, hasAccess),
		Purchased: hasAccess,
	}})
}

func (s *Server) ArchiveListing(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	listing, err := s.listingSvc.Archive(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": listing})
}
