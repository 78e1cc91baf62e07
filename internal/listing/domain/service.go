package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type CreateListingRequest struct {
	SellerID          snowflake.ID `json:"seller_id"`
	Title             string       `json:"title"`
	Content           string       `json:"content"`
	PriceCents        *int64       `json:"price_cents"`
	CreditPrice       *int64       `json:"credit_price"`
	AcceptsMoney      bool         `json:"accepts_money"`
	AcceptsCredits    bool         `json:"accepts_credits"`
	PreviewPercentage int          `json:"preview_percentage"`
}

type Service interface {
	Create(ctx context.Context, req CreateListingRequest) (*Listing, error)
	Get(ctx context.Context, id snowflake.ID) (*Listing, error)
	Archive(ctx context.Context, id snowflake.ID) (*Listing, error)
	// RecordSale bumps the sales counter inside the caller's transaction.
	RecordSale(ctx context.Context, tx *gorm.DB, id snowflake.ID) error
	PreviewContent(listing *Listing, hasAccess bool) string
}

var (
	ErrInvalidSeller  = errors.New("invalid_seller")
	ErrInvalidTitle   = errors.New("invalid_title")
	ErrInvalidContent = errors.New("invalid_content")
	ErrInvalidPrice   = errors.New("invalid_price")
	ErrInvalidPreview = errors.New("invalid_preview_percentage")
	ErrNotFound       = errors.New("not_found")
)
