package mollie

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/VictorAvelar/mollie-api-go/v4/mollie"
	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/promptmart/internal/payment/domain"
)

const providerName = "mollie"

type Config struct {
	APIKey      string
	Testing     bool
	WebhookURL  string
	RedirectURL string
	// BaseURL overrides the API endpoint; empty uses api.mollie.com.
	BaseURL string
}

// Adapter charges buyers through hosted Mollie checkouts. Payments are
// confirmed asynchronously: the webhook only carries the payment id, so
// the status is fetched back from the API.
type Adapter struct {
	client      *mollie.Client
	webhookURL  string
	redirectURL string
}

func New(cfg Config) (*Adapter, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	mollieConfig := mollie.NewAPITestingConfig(true)
	if !cfg.Testing || strings.HasPrefix(apiKey, "live_") {
		mollieConfig = mollie.NewAPIConfig(true)
	}
	client, err := mollie.NewClient(nil, mollieConfig)
	if err != nil {
		return nil, fmt.Errorf("create mollie client: %w", err)
	}
	if err := client.WithAuthenticationValue(apiKey); err != nil {
		return nil, fmt.Errorf("set mollie api key: %w", err)
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		parsed, err := url.Parse(strings.TrimRight(base, "/") + "/")
		if err != nil {
			return nil, paymentdomain.ErrInvalidConfig
		}
		client.BaseURL = parsed
	}

	return &Adapter{
		client:      client,
		webhookURL:  strings.TrimSpace(cfg.WebhookURL),
		redirectURL: strings.TrimSpace(cfg.RedirectURL),
	}, nil
}

func (a *Adapter) Provider() string {
	return providerName
}

func (a *Adapter) Charge(ctx context.Context, req paymentdomain.ChargeRequest) (*paymentdomain.ChargeResult, error) {
	if req.AmountCents <= 0 {
		return nil, paymentdomain.ErrProviderRejected
	}

	metadata := map[string]any{}
	for key, value := range req.Metadata {
		metadata[key] = value
	}
	metadata["idempotency_key"] = req.IdempotencyKey

	_, payment, err := a.client.Payments.Create(ctx, mollie.CreatePayment{
		Amount:      Amount(req.AmountCents, req.Currency),
		Description: req.Description,
		RedirectURL: a.redirectURL,
		WebhookURL:  a.webhookURL,
		Metadata:    metadata,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrProviderUnavailable, err)
	}

	result := &paymentdomain.ChargeResult{ProviderChargeID: payment.ID}
	switch payment.Status {
	case "paid":
		result.Status = paymentdomain.ChargeStatusSucceeded
	case "failed", "canceled", "expired":
		result.Status = paymentdomain.ChargeStatusDeclined
		result.DeclineReason = payment.Status
	default:
		result.Status = paymentdomain.ChargeStatusPending
		if payment.Links.Checkout != nil {
			result.CheckoutURL = payment.Links.Checkout.Href
		}
	}
	return result, nil
}

// Verify accepts only well-formed payment callbacks. Authenticity comes
// from Parse reading the payment back from the API.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if _, err := paymentID(payload); err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.Event, error) {
	id, err := paymentID(payload)
	if err != nil {
		return nil, err
	}

	_, payment, err := a.client.Payments.Get(ctx, id, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrProviderUnavailable, err)
	}

	var eventType string
	switch payment.Status {
	case "paid":
		eventType = paymentdomain.EventTypeChargeSucceeded
	case "failed", "canceled", "expired":
		eventType = paymentdomain.EventTypeChargeFailed
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	amount, currency, err := Cents(payment.Amount)
	if err != nil {
		return nil, paymentdomain.ErrInvalidEvent
	}
	// The same callback arrives for every status change.
	return &paymentdomain.Event{
		Provider:         providerName,
		ProviderEventID:  payment.ID + ":" + payment.Status,
		Type:             eventType,
		IdempotencyKey:   metadataString(payment.Metadata, "idempotency_key"),
		ProviderChargeID: payment.ID,
		AmountCents:      amount,
		Currency:         currency,
		FailureReason:    failureReason(eventType, payment.Status),
		OccurredAt:       time.Now().UTC(),
		RawPayload:       payload,
	}, nil
}

func paymentID(payload []byte) (string, error) {
	values, err := url.ParseQuery(strings.TrimSpace(string(payload)))
	if err != nil {
		return "", paymentdomain.ErrInvalidPayload
	}
	id := strings.TrimSpace(values.Get("id"))
	if !strings.HasPrefix(id, "tr_") {
		return "", paymentdomain.ErrInvalidPayload
	}
	return id, nil
}

func failureReason(eventType, status string) string {
	if eventType != paymentdomain.EventTypeChargeFailed {
		return ""
	}
	return "mollie_" + status
}

func metadataString(metadata any, key string) string {
	values, ok := metadata.(map[string]any)
	if !ok {
		return ""
	}
	value, _ := values[key].(string)
	return strings.TrimSpace(value)
}

// Amount converts minor units to Mollie's decimal string amount.
func Amount(cents int64, currency string) *mollie.Amount {
	return &mollie.Amount{
		Value:    decimal.New(cents, -2).StringFixed(2),
		Currency: strings.ToUpper(currency),
	}
}

// Cents converts a Mollie amount back to minor units.
func Cents(amount *mollie.Amount) (int64, string, error) {
	if amount == nil {
		return 0, "", errors.New("missing amount")
	}
	value, err := decimal.NewFromString(amount.Value)
	if err != nil {
		return 0, "", err
	}
	return value.Shift(2).IntPart(), strings.ToUpper(amount.Currency), nil
}
