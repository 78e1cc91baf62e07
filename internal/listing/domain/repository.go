package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, listing *Listing) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Listing, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status) (bool, error)
	IncrementSales(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}
