package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/promptmart/internal/listing/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, listing *domain.Listing) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO listings (
			id, seller_id, title, slug, content, price_cents, credit_price,
			accepts_money, accepts_credits, preview_percentage, sales_count,
			status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		listing.ID,
		listing.SellerID,
		listing.Title,
		listing.Slug,
		listing.Content,
		listing.PriceCents,
		listing.CreditPrice,
		listing.AcceptsMoney,
		listing.AcceptsCredits,
		listing.PreviewPercentage,
		listing.SalesCount,
		listing.Status,
		listing.CreatedAt,
		listing.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Listing, error) {
	var listing domain.Listing
	err := db.WithContext(ctx).Raw(
		`SELECT id, seller_id, title, slug, content, price_cents, credit_price,
		        accepts_money, accepts_credits, preview_percentage, sales_count,
		        status, created_at, updated_at
		 FROM listings WHERE id = ?`,
		id,
	).Scan(&listing).Error
	if err != nil {
		return nil, err
	}
	if listing.ID == 0 {
		return nil, nil
	}
	return &listing, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.Status) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE listings SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) IncrementSales(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE listings SET sales_count = sales_count + 1 WHERE id = ?`,
		id,
	).Error
}
