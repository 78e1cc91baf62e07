package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type EntryUpdate struct {
	Status            EntryStatus
	Attempts          int
	ProviderReference *string
	FailureReason     *string
	ProviderPayload   []byte

	// ReleaseWindow clears the window key so the earnings become eligible
	// for a later batch.
	ReleaseWindow bool
	SettledAt     *time.Time
	UpdatedAt     time.Time
}

type Repository interface {
	UpsertDestination(ctx context.Context, db *gorm.DB, destination *Destination) error
	FindDestination(ctx context.Context, db *gorm.DB, ownerID snowflake.ID, provider string) (*Destination, error)
	ListDestinations(ctx context.Context, db *gorm.DB, provider string, afterOwnerID snowflake.ID, limit int) ([]Destination, error)

	EnsureWatermark(ctx context.Context, db *gorm.DB, ownerID snowflake.ID, now time.Time) error
	FindWatermark(ctx context.Context, db *gorm.DB, ownerID snowflake.ID) (snowflake.ID, error)
	// AdvanceWatermark moves the watermark only if it still equals from.
	AdvanceWatermark(ctx context.Context, db *gorm.DB, ownerID, from, to snowflake.ID, now time.Time) (bool, error)

	InsertBatch(ctx context.Context, db *gorm.DB, batch *Batch) error
	FindBatch(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Batch, error)
	UpdateBatch(ctx context.Context, db *gorm.DB, batch *Batch) error

	// InsertEntry reports false when another entry holds the window.
	InsertEntry(ctx context.Context, db *gorm.DB, entry *Entry) (bool, error)
	FindEntry(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Entry, error)
	FindEntryByProviderReference(ctx context.Context, db *gorm.DB, reference string) (*Entry, error)
	ListEntries(ctx context.Context, db *gorm.DB, batchID snowflake.ID) ([]Entry, error)
	UpdateEntry(ctx context.Context, db *gorm.DB, id snowflake.ID, update EntryUpdate) error
}
