package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	listingdomain "github.com/smallbiznis/promptmart/internal/listing/domain"
)

type SettleRequest struct {
	BuyerID        snowflake.ID                `json:"buyer_id"`
	ListingID      snowflake.ID                `json:"listing_id"`
	PaymentMethod  listingdomain.PaymentMethod `json:"payment_method"`
	IdempotencyKey string                      `json:"idempotency_key"`

	// BuyerToken is the processor payment method reference; money path only.
	BuyerToken string `json:"buyer_token,omitempty"`
}

type SettleResult struct {
	Order   *Order   `json:"order"`
	License *License `json:"license"`

	// Replayed is true when the key matched an existing order.
	Replayed bool `json:"replayed"`

	// Pending is set when the processor confirms the charge later; Order
	// is nil until the confirmation arrives.
	Pending     bool   `json:"pending"`
	CheckoutURL string `json:"checkout_url,omitempty"`
}

// ConfirmedCharge is a provider-side confirmation arriving after the
// synchronous purchase call returned.
type ConfirmedCharge struct {
	Provider         string
	IdempotencyKey   string
	ProviderChargeID string
	AmountCents      int64
}

type RefundRequest struct {
	OrderID       snowflake.ID `json:"order_id"`
	RevokeLicense bool         `json:"revoke_license"`
}

type Service interface {
	SettlePurchase(ctx context.Context, req SettleRequest) (*SettleResult, error)
	SettleConfirmedCharge(ctx context.Context, charge ConfirmedCharge) (*SettleResult, error)
	FailPendingCharge(ctx context.Context, provider, idempotencyKey, reason string) error
	RefundOrder(ctx context.Context, req RefundRequest) (*Order, error)
	GetOrder(ctx context.Context, id snowflake.ID) (*Order, error)
	GetLicense(ctx context.Context, key string) (*License, error)
	HasAccess(ctx context.Context, buyerID, listingID snowflake.ID) (bool, error)
}

var (
	ErrInvalidBuyer           = errors.New("invalid_buyer")
	ErrInvalidPaymentMethod   = errors.New("invalid_payment_method")
	ErrInvalidIdempotencyKey  = errors.New("invalid_idempotency_key")
	ErrListingUnavailable     = errors.New("listing_unavailable")
	ErrSelfPurchase           = errors.New("self_purchase")
	ErrPaymentDeclined        = errors.New("payment_declined")
	ErrPaymentPending         = errors.New("payment_pending")
	ErrIdempotencyKeyConflict = errors.New("idempotency_key_conflict")
	ErrDuplicateSettlement    = errors.New("duplicate_settlement")
	ErrProcessorNotConfigured = errors.New("processor_not_configured")
	ErrChargeMismatch         = errors.New("charge_mismatch")
	ErrOrderNotFound          = errors.New("order_not_found")
	ErrOrderAlreadyRefunded   = errors.New("order_already_refunded")
	ErrLicenseNotFound        = errors.New("license_not_found")
	ErrAttemptNotFound        = errors.New("attempt_not_found")
)
