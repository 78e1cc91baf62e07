package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type BatchStatus string

const (
	BatchStatusPending         BatchStatus = "pending"
	BatchStatusProcessing      BatchStatus = "processing"
	BatchStatusCompleted       BatchStatus = "completed"
	BatchStatusPartiallyFailed BatchStatus = "partially_failed"
	BatchStatusFailed          BatchStatus = "failed"
)

type EntryStatus string

const (
	EntryStatusPending    EntryStatus = "pending"
	// EntryStatusProcessing waits for a provider callback.
	EntryStatusProcessing EntryStatus = "processing"
	EntryStatusSuccess    EntryStatus = "success"
	EntryStatusFailed     EntryStatus = "failed"
)

// Destination is where a seller receives payouts from one provider:
// a connected account id or a payout email.
type Destination struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	OwnerID     snowflake.ID `gorm:"not null;uniqueIndex:ux_payout_destinations_owner_provider,priority:1" json:"owner_id"`
	Provider    string       `gorm:"type:text;not null;uniqueIndex:ux_payout_destinations_owner_provider,priority:2;index" json:"provider"`
	Destination string       `gorm:"type:text;not null" json:"destination"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Destination) TableName() string { return "payout_destinations" }

// Watermark marks the last seller transaction already paid out.
type Watermark struct {
	OwnerID                  snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"owner_id"`
	PaidThroughTransactionID snowflake.ID `gorm:"not null;default:0" json:"paid_through_transaction_id"`
	UpdatedAt                time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Watermark) TableName() string { return "payout_watermarks" }

type Batch struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	Provider          string       `gorm:"type:text;not null;index" json:"provider"`
	Status            BatchStatus  `gorm:"type:text;not null" json:"status"`
	ProviderReference string       `gorm:"type:text;not null;uniqueIndex" json:"provider_reference"`
	Currency          string       `gorm:"type:text;not null" json:"currency"`
	EntryCount        int          `gorm:"not null;default:0" json:"entry_count"`
	TotalCents        int64        `gorm:"not null;default:0" json:"total_cents"`
	SucceededCount    int          `gorm:"not null;default:0" json:"succeeded_count"`
	FailedCount       int          `gorm:"not null;default:0" json:"failed_count"`
	CreatedAt         time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time    `gorm:"not null" json:"updated_at"`
	CompletedAt       *time.Time   `json:"completed_at,omitempty"`
}

// TableName sets the database table name.
func (Batch) TableName() string { return "payout_batches" }

// Entry pays one seller for one earnings window: the seller's
// transactions with ids in (WatermarkStart, WatermarkEnd].
type Entry struct {
	ID                snowflake.ID   `gorm:"primaryKey" json:"id"`
	BatchID           snowflake.ID   `gorm:"not null;index" json:"batch_id"`
	SellerID          snowflake.ID   `gorm:"not null;index" json:"seller_id"`
	AccountID         snowflake.ID   `gorm:"not null" json:"account_id"`
	Destination       string         `gorm:"type:text;not null" json:"destination"`
	AmountCents       int64          `gorm:"not null" json:"amount_cents"`
	Currency          string         `gorm:"type:text;not null" json:"currency"`
	WatermarkStart    snowflake.ID   `gorm:"not null" json:"watermark_start"`
	WatermarkEnd      snowflake.ID   `gorm:"not null" json:"watermark_end"`
	WindowKey         *string        `gorm:"type:text;uniqueIndex" json:"-"`
	Status            EntryStatus    `gorm:"type:text;not null" json:"status"`
	Attempts          int            `gorm:"not null;default:0" json:"attempts"`
	ProviderReference *string        `gorm:"type:text;index" json:"provider_reference,omitempty"`
	FailureReason     *string        `gorm:"type:text" json:"failure_reason,omitempty"`
	ProviderPayload   datatypes.JSON `json:"provider_payload,omitempty"`
	CreatedAt         time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"not null" json:"updated_at"`
	SettledAt         *time.Time     `json:"settled_at,omitempty"`
}

// TableName sets the database table name.
func (Entry) TableName() string { return "payout_entries" }

// WindowKey identifies a seller's earnings window. A non-failed entry
// holds it so the same window is never paid twice.
func WindowKey(sellerID, watermarkStart snowflake.ID) string {
	return sellerID.String() + ":" + watermarkStart.String()
}

func (e Entry) Terminal() bool {
	return e.Status == EntryStatusSuccess || e.Status == EntryStatusFailed
}
