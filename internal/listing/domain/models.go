package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

type PaymentMethod string

const (
	PaymentMethodMoney   PaymentMethod = "money"
	PaymentMethodCredits PaymentMethod = "credits"
)

// Listing is a sellable prompt. At least one payment method is accepted
// and every accepted method carries a positive price.
type Listing struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	SellerID          snowflake.ID `gorm:"not null;index" json:"seller_id"`
	Title             string       `gorm:"type:text;not null" json:"title"`
	Slug              string       `gorm:"type:text;not null;uniqueIndex" json:"slug"`
	Content           string       `gorm:"type:text;not null" json:"-"`
	PriceCents        *int64       `json:"price_cents,omitempty"`
	CreditPrice       *int64       `json:"credit_price,omitempty"`
	AcceptsMoney      bool         `gorm:"not null;default:false" json:"accepts_money"`
	AcceptsCredits    bool         `gorm:"not null;default:false" json:"accepts_credits"`
	PreviewPercentage int          `gorm:"not null;default:0" json:"preview_percentage"`
	SalesCount        int64        `gorm:"not null;default:0" json:"sales_count"`
	Status            Status       `gorm:"type:text;not null" json:"status"`
	CreatedAt         time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Listing) TableName() string { return "listings" }

// PriceFor returns the price for method and whether the method is accepted.
func (l Listing) PriceFor(method PaymentMethod) (int64, bool) {
	switch method {
	case PaymentMethodMoney:
		if l.AcceptsMoney && l.PriceCents != nil && *l.PriceCents > 0 {
			return *l.PriceCents, true
		}
	case PaymentMethodCredits:
		if l.AcceptsCredits && l.CreditPrice != nil && *l.CreditPrice > 0 {
			return *l.CreditPrice, true
		}
	}
	return 0, false
}

func (l Listing) Active() bool {
	return l.Status == StatusActive
}
