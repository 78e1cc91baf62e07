package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	listingdomain "github.com/smallbiznis/promptmart/internal/listing/domain"
)

type OrderStatus string

const (
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusRefunded  OrderStatus = "refunded"
)

// Order is a settled purchase. Split amounts are in the unit of the
// payment method: cents for money, credits for credits.
type Order struct {
	ID                snowflake.ID                `gorm:"primaryKey" json:"id"`
	ListingID         snowflake.ID                `gorm:"not null;index" json:"listing_id"`
	BuyerID           snowflake.ID                `gorm:"not null;index" json:"buyer_id"`
	SellerID          snowflake.ID                `gorm:"not null;index" json:"seller_id"`
	PaymentMethod     listingdomain.PaymentMethod `gorm:"type:text;not null" json:"payment_method"`
	AmountCents       *int64                      `json:"amount_cents,omitempty"`
	CreditAmount      *int64                      `json:"credit_amount,omitempty"`
	CommissionCents   int64                       `gorm:"not null" json:"commission_cents"`
	ProcessorFeeCents int64                       `gorm:"not null" json:"processor_fee_cents"`
	SellerNetCents    int64                       `gorm:"not null" json:"seller_net_cents"`
	Status            OrderStatus                 `gorm:"type:text;not null" json:"status"`
	IdempotencyKey    string                      `gorm:"type:text;not null;uniqueIndex" json:"idempotency_key"`
	Provider          *string                     `gorm:"type:text" json:"provider,omitempty"`
	ProviderChargeID  *string                     `gorm:"type:text" json:"provider_charge_id,omitempty"`
	CreatedAt         time.Time                   `gorm:"not null" json:"created_at"`
	RefundedAt        *time.Time                  `json:"refunded_at,omitempty"`
}

// TableName sets the database table name.
func (Order) TableName() string { return "orders" }

// Amount is the gross sale amount in the order's unit.
func (o Order) Amount() int64 {
	if o.PaymentMethod == listingdomain.PaymentMethodCredits && o.CreditAmount != nil {
		return *o.CreditAmount
	}
	if o.AmountCents != nil {
		return *o.AmountCents
	}
	return 0
}

type License struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	LicenseKey string       `gorm:"type:text;not null;uniqueIndex" json:"license_key"`
	OrderID    snowflake.ID `gorm:"not null;uniqueIndex" json:"order_id"`
	BuyerID    snowflake.ID `gorm:"not null;index:idx_licenses_buyer_listing,priority:1" json:"buyer_id"`
	ListingID  snowflake.ID `gorm:"not null;index:idx_licenses_buyer_listing,priority:2" json:"listing_id"`
	IssuedAt   time.Time    `gorm:"not null" json:"issued_at"`
	RevokedAt  *time.Time   `json:"revoked_at,omitempty"`
}

// TableName sets the database table name.
func (License) TableName() string { return "licenses" }

func (l License) Active() bool {
	return l.RevokedAt == nil
}

// AttemptState tracks a purchase through settlement.
type AttemptState string

const (
	AttemptInitiated AttemptState = "initiated"
	AttemptPriced    AttemptState = "priced"
	AttemptReserved  AttemptState = "reserved"
	AttemptCommitted AttemptState = "committed"
	AttemptCompleted AttemptState = "completed"
	AttemptFailed    AttemptState = "failed"
)

func (s AttemptState) Terminal() bool {
	return s == AttemptCompleted || s == AttemptFailed
}

// Attempt is the durable record of one idempotency key. It lets a late
// provider confirmation settle a purchase that timed out.
type Attempt struct {
	ID               snowflake.ID                `gorm:"primaryKey" json:"id"`
	IdempotencyKey   string                      `gorm:"type:text;not null;uniqueIndex" json:"idempotency_key"`
	BuyerID          snowflake.ID                `gorm:"not null" json:"buyer_id"`
	ListingID        snowflake.ID                `gorm:"not null" json:"listing_id"`
	PaymentMethod    listingdomain.PaymentMethod `gorm:"type:text;not null" json:"payment_method"`
	Amount           int64                       `gorm:"not null;default:0" json:"amount"`
	State            AttemptState                `gorm:"type:text;not null" json:"state"`
	Provider         *string                     `gorm:"type:text" json:"provider,omitempty"`
	ProviderChargeID *string                     `gorm:"type:text;index" json:"provider_charge_id,omitempty"`
	FailureReason    *string                     `gorm:"type:text" json:"failure_reason,omitempty"`
	OrderID          *snowflake.ID               `json:"order_id,omitempty"`
	CreatedAt        time.Time                   `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time                   `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Attempt) TableName() string { return "purchase_attempts" }

func (a Attempt) Matches(buyerID, listingID snowflake.ID, method listingdomain.PaymentMethod) bool {
	return a.BuyerID == buyerID && a.ListingID == listingID && a.PaymentMethod == method
}
