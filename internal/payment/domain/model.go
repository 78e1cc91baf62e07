package domain

//go:generate mockgen -source=model.go -destination=../mocks/mock_model.go -package=mocks

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:1"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:2"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
	// FailedAttempts counts deliveries whose apply step returned an error.
	FailedAttempts int    `json:"failed_attempts" gorm:"not null;default:0"`
	LastError      string `json:"last_error,omitempty" gorm:"type:text"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	EventTypeChargeSucceeded = "charge_succeeded"
	EventTypeChargeFailed    = "charge_failed"
	EventTypePayoutSucceeded = "payout_succeeded"
	EventTypePayoutFailed    = "payout_failed"
)

// Event is the canonical provider event parsed by adapters.
type Event struct {
	Provider        string
	ProviderEventID string
	Type            string

	// IdempotencyKey is the purchase key the charge was created with.
	IdempotencyKey   string
	ProviderChargeID string
	AmountCents      int64
	Currency         string

	PayoutReference string
	PayoutEntryID   snowflake.ID
	FailureReason   string
	OccurredAt      time.Time
	RawPayload      []byte
}

type ChargeStatus string

const (
	ChargeStatusSucceeded ChargeStatus = "succeeded"
	// ChargeStatusPending means the provider confirms asynchronously.
	ChargeStatusPending   ChargeStatus = "pending"
	ChargeStatusDeclined  ChargeStatus = "declined"
)

type ChargeRequest struct {
	AmountCents    int64
	Currency       string
	BuyerToken     string
	IdempotencyKey string
	Description    string
	Metadata       map[string]string
}

type ChargeResult struct {
	Status           ChargeStatus
	ProviderChargeID string
	DeclineReason    string
	// CheckoutURL is set when the buyer must complete the payment elsewhere.
	CheckoutURL string
}

// Charger takes money from a buyer.
type Charger interface {
	Provider() string
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

type PayoutItem struct {
	EntryID     snowflake.ID
	Destination string
	AmountCents int64
	Currency    string
}

type PayoutItemStatus string

const (
	PayoutItemSucceeded PayoutItemStatus = "succeeded"
	PayoutItemPending   PayoutItemStatus = "pending"
	PayoutItemFailed    PayoutItemStatus = "failed"
)

type PayoutItemResult struct {
	EntryID           snowflake.ID
	Status            PayoutItemStatus
	ProviderReference string
	FailureReason     string
	// Payload is the provider's response for this item, kept on the entry.
	Payload []byte
}

// PayoutProvider sends money to sellers. A returned error wrapping
// ErrProviderUnavailable may be retried; any other error is terminal for
// the whole call.
type PayoutProvider interface {
	Provider() string
	Payout(ctx context.Context, batchReference string, items []PayoutItem) ([]PayoutItemResult, error)
}

// WebhookAdapter verifies and parses provider callbacks.
type WebhookAdapter interface {
	Provider() string
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*Event, error)
}
