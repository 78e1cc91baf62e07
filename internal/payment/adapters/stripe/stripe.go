package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/promptmart/internal/payment/domain"
	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

const (
	providerName       = "stripe"
	signatureTolerance = 5 * time.Minute
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	// BaseURL overrides the API endpoint; empty uses api.stripe.com.
	BaseURL string
}

// Adapter charges buyers with PaymentIntents, pays sellers with Connect
// transfers and verifies signed webhooks.
type Adapter struct {
	api           *client.API
	webhookSecret string
}

func New(cfg Config) (*Adapter, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	var backends *stripeapi.Backends
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		backend := stripeapi.GetBackendWithConfig(stripeapi.APIBackend, &stripeapi.BackendConfig{
			URL:               stripeapi.String(base),
			MaxNetworkRetries: stripeapi.Int64(0),
			LeveledLogger:     &stripeapi.LeveledLogger{Level: stripeapi.LevelNull},
		})
		backends = &stripeapi.Backends{API: backend, Connect: backend, Uploads: backend}
	}

	api := &client.API{}
	api.Init(secret, backends)
	return &Adapter{
		api:           api,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
	}, nil
}

func (a *Adapter) Provider() string {
	return providerName
}

func (a *Adapter) Charge(ctx context.Context, req paymentdomain.ChargeRequest) (*paymentdomain.ChargeResult, error) {
	if req.AmountCents <= 0 || strings.TrimSpace(req.BuyerToken) == "" {
		return nil, paymentdomain.ErrProviderRejected
	}

	params := &stripeapi.PaymentIntentParams{
		Amount:        stripeapi.Int64(req.AmountCents),
		Currency:      stripeapi.String(strings.ToLower(req.Currency)),
		PaymentMethod: stripeapi.String(req.BuyerToken),
		Confirm:       stripeapi.Bool(true),
		AutomaticPaymentMethods: &stripeapi.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripeapi.Bool(true),
			AllowRedirects: stripeapi.String("never"),
		},
	}
	if req.Description != "" {
		params.Description = stripeapi.String(req.Description)
	}
	for key, value := range req.Metadata {
		params.AddMetadata(key, value)
	}
	params.Context = ctx
	params.SetIdempotencyKey("purchase:" + req.IdempotencyKey)

	intent, err := a.api.PaymentIntents.New(params)
	if err != nil {
		var stripeErr *stripeapi.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripeapi.ErrorTypeCard {
			result := &paymentdomain.ChargeResult{
				Status:        paymentdomain.ChargeStatusDeclined,
				DeclineReason: declineReason(stripeErr),
			}
			if stripeErr.PaymentIntent != nil {
				result.ProviderChargeID = stripeErr.PaymentIntent.ID
			}
			return result, nil
		}
		return nil, classify(err)
	}

	result := &paymentdomain.ChargeResult{ProviderChargeID: intent.ID}
	switch intent.Status {
	case stripeapi.PaymentIntentStatusSucceeded:
		result.Status = paymentdomain.ChargeStatusSucceeded
	case stripeapi.PaymentIntentStatusProcessing, stripeapi.PaymentIntentStatusRequiresAction:
		result.Status = paymentdomain.ChargeStatusPending
	default:
		result.Status = paymentdomain.ChargeStatusDeclined
		result.DeclineReason = string(intent.Status)
		if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
			result.DeclineReason = intent.LastPaymentError.Msg
		}
	}
	return result, nil
}

// Payout sends one Connect transfer per item. Every transfer carries an
// idempotency key derived from the batch and entry, so a retried call
// never transfers twice.
func (a *Adapter) Payout(ctx context.Context, batchReference string, items []paymentdomain.PayoutItem) ([]paymentdomain.PayoutItemResult, error) {
	results := make([]paymentdomain.PayoutItemResult, 0, len(items))
	for _, item := range items {
		params := &stripeapi.TransferParams{
			Amount:        stripeapi.Int64(item.AmountCents),
			Currency:      stripeapi.String(strings.ToLower(item.Currency)),
			Destination:   stripeapi.String(item.Destination),
			TransferGroup: stripeapi.String(batchReference),
		}
		params.AddMetadata("payout_entry_id", item.EntryID.String())
		params.Context = ctx
		params.SetIdempotencyKey(fmt.Sprintf("payout:%s:%s", batchReference, item.EntryID))

		transfer, err := a.api.Transfers.New(params)
		if err != nil {
			classified := classify(err)
			if errors.Is(classified, paymentdomain.ErrProviderUnavailable) {
				return nil, classified
			}
			results = append(results, paymentdomain.PayoutItemResult{
				EntryID:       item.EntryID,
				Status:        paymentdomain.PayoutItemFailed,
				FailureReason: failureMessage(err),
			})
			continue
		}
		payload, _ := json.Marshal(transfer)
		results = append(results, paymentdomain.PayoutItemResult{
			EntryID:           item.EntryID,
			Status:            paymentdomain.PayoutItemSucceeded,
			ProviderReference: transfer.ID,
			Payload:           payload,
		})
	}
	return results, nil
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return paymentdomain.ErrInvalidConfig
	}
	signature := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if signature == "" {
		return paymentdomain.ErrInvalidSignature
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, signature, a.webhookSecret, signatureTolerance); err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.Event, error) {
	var event stripeapi.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" || event.Data == nil {
		return nil, paymentdomain.ErrInvalidEvent
	}

	var eventType string
	switch event.Type {
	case "payment_intent.succeeded":
		eventType = paymentdomain.EventTypeChargeSucceeded
	case "payment_intent.payment_failed", "payment_intent.canceled":
		eventType = paymentdomain.EventTypeChargeFailed
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	var intent stripeapi.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(intent.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	amount := intent.AmountReceived
	if amount <= 0 {
		amount = intent.Amount
	}
	parsed := &paymentdomain.Event{
		Provider:         providerName,
		ProviderEventID:  event.ID,
		Type:             eventType,
		IdempotencyKey:   strings.TrimSpace(intent.Metadata["idempotency_key"]),
		ProviderChargeID: intent.ID,
		AmountCents:      amount,
		Currency:         strings.ToUpper(string(intent.Currency)),
		OccurredAt:       unixTime(event.Created),
		RawPayload:       payload,
	}
	if intent.LastPaymentError != nil {
		parsed.FailureReason = declineReason(intent.LastPaymentError)
	}
	return parsed, nil
}

// classify maps transport and server failures to ErrProviderUnavailable
// and everything else to ErrProviderRejected.
func classify(err error) error {
	var stripeErr *stripeapi.Error
	if !errors.As(err, &stripeErr) {
		return fmt.Errorf("%w: %v", paymentdomain.ErrProviderUnavailable, err)
	}
	if stripeErr.HTTPStatusCode >= http.StatusInternalServerError || stripeErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s", paymentdomain.ErrProviderUnavailable, failureMessage(err))
	}
	return fmt.Errorf("%w: %s", paymentdomain.ErrProviderRejected, failureMessage(err))
}

func declineReason(err *stripeapi.Error) string {
	if err.DeclineCode != "" {
		return string(err.DeclineCode)
	}
	if err.Code != "" {
		return string(err.Code)
	}
	return err.Msg
}

func failureMessage(err error) string {
	var stripeErr *stripeapi.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Code != "" {
			return string(stripeErr.Code)
		}
		return stripeErr.Msg
	}
	return err.Error()
}

func unixTime(value int64) time.Time {
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}
