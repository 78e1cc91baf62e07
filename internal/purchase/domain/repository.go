package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type AttemptUpdate struct {
	State            AttemptState
	Amount           *int64
	Provider         *string
	ProviderChargeID *string
	FailureReason    *string
	OrderID          *snowflake.ID
	UpdatedAt        time.Time
}

type Repository interface {
	InsertOrder(ctx context.Context, db *gorm.DB, order *Order) error
	FindOrderByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	FindOrderByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*Order, error)
	MarkOrderRefunded(ctx context.Context, db *gorm.DB, id snowflake.ID, refundedAt time.Time) (bool, error)

	InsertLicense(ctx context.Context, db *gorm.DB, license *License) error
	FindLicenseByKey(ctx context.Context, db *gorm.DB, key string) (*License, error)
	FindLicenseByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*License, error)
	FindActiveLicense(ctx context.Context, db *gorm.DB, buyerID, listingID snowflake.ID) (*License, error)
	RevokeLicense(ctx context.Context, db *gorm.DB, orderID snowflake.ID, revokedAt time.Time) error

	InsertAttempt(ctx context.Context, db *gorm.DB, attempt *Attempt) (bool, error)
	FindAttemptByKey(ctx context.Context, db *gorm.DB, key string) (*Attempt, error)
	FindAttemptByCharge(ctx context.Context, db *gorm.DB, provider, chargeID string) (*Attempt, error)
	UpdateAttempt(ctx context.Context, db *gorm.DB, id snowflake.ID, update AttemptUpdate) error
	// ReopenAttempt moves an attempt back to initiated only while it is
	// still in state from and, when staleBefore is set, last updated no
	// later than staleBefore. It reports false when another caller got
	// there first.
	ReopenAttempt(ctx context.Context, db *gorm.DB, id snowflake.ID, from AttemptState, staleBefore, now time.Time) (bool, error)
}
