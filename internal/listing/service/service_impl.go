package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/promptmart/internal/clock"
	"github.com/smallbiznis/promptmart/internal/listing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxTitleLength = 200

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
	clock clock.Clock
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("listing.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: p.Clock,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateListingRequest) (*domain.Listing, error) {
	if req.SellerID == 0 {
		return nil, domain.ErrInvalidSeller
	}
	title := strings.TrimSpace(req.Title)
	if title == "" || len(title) > maxTitleLength {
		return nil, domain.ErrInvalidTitle
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, domain.ErrInvalidContent
	}
	if req.PreviewPercentage < 0 || req.PreviewPercentage > 100 {
		return nil, domain.ErrInvalidPreview
	}
	if err := validatePricing(req); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	id := s.genID.Generate()
	listing := &domain.Listing{
		ID:                id,
		SellerID:          req.SellerID,
		Title:             title,
		Slug:              buildSlug(title, id),
		Content:           req.Content,
		AcceptsMoney:      req.AcceptsMoney,
		AcceptsCredits:    req.AcceptsCredits,
		PreviewPercentage: req.PreviewPercentage,
		Status:            domain.StatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	// Prices for methods that are not accepted are dropped.
	if req.AcceptsMoney {
		listing.PriceCents = req.PriceCents
	}
	if req.AcceptsCredits {
		listing.CreditPrice = req.CreditPrice
	}

	if err := s.repo.Insert(ctx, s.db, listing); err != nil {
		return nil, err
	}

	s.log.Info("listing created",
		zap.String("listing_id", listing.ID.String()),
		zap.String("seller_id", listing.SellerID.String()),
	)
	return listing, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Listing, error) {
	listing, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, domain.ErrNotFound
	}
	return listing, nil
}

func (s *Service) Archive(ctx context.Context, id snowflake.ID) (*domain.Listing, error) {
	ok, err := s.repo.UpdateStatus(ctx, s.db, id, domain.StatusArchived)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *Service) RecordSale(ctx context.Context, tx *gorm.DB, id snowflake.ID) error {
	return s.repo.IncrementSales(ctx, tx, id)
}

// PreviewContent returns the leading preview fraction of the content, or
// all of it when the viewer holds a license.
func (s *Service) PreviewContent(listing *domain.Listing, hasAccess bool) string {
	if listing == nil {
		return ""
	}
	if hasAccess || listing.PreviewPercentage >= 100 {
		return listing.Content
	}
	runes := []rune(listing.Content)
	visible := len(runes) * listing.PreviewPercentage / 100
	return string(runes[:visible])
}

func validatePricing(req domain.CreateListingRequest) error {
	if !req.AcceptsMoney && !req.AcceptsCredits {
		return domain.ErrInvalidPrice
	}
	if req.AcceptsMoney && (req.PriceCents == nil || *req.PriceCents <= 0) {
		return domain.ErrInvalidPrice
	}
	if req.AcceptsCredits && (req.CreditPrice == nil || *req.CreditPrice <= 0) {
		return domain.ErrInvalidPrice
	}
	return nil
}

func buildSlug(title string, id snowflake.ID) string {
	suffix := strconv.FormatInt(id.Int64(), 36)
	base := slug.Make(title)
	if base == "" {
		return suffix
	}
	return base + "-" + suffix
}
