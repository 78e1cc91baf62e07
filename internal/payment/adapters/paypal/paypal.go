package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/promptmart/internal/payment/domain"
)

const (
	providerName   = "paypal"
	defaultBaseURL = "https://api-m.sandbox.paypal.com"
	requestTimeout = 15 * time.Second
	tokenLeeway    = time.Minute
)

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	WebhookID    string
	HTTPClient   *http.Client
}

// Adapter pays sellers through the PayPal Payouts API. Items are accepted
// asynchronously and settled by PAYMENT.PAYOUTS-ITEM webhooks.
type Adapter struct {
	baseURL      string
	clientID     string
	clientSecret string
	webhookID    string
	httpClient   *http.Client

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

func New(cfg Config) (*Adapter, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Adapter{
		baseURL:      baseURL,
		clientID:     strings.TrimSpace(cfg.ClientID),
		clientSecret: strings.TrimSpace(cfg.ClientSecret),
		webhookID:    strings.TrimSpace(cfg.WebhookID),
		httpClient:   httpClient,
	}, nil
}

func (a *Adapter) Provider() string {
	return providerName
}

type money struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type payoutItem struct {
	RecipientType string `json:"recipient_type"`
	Amount        money  `json:"amount"`
	Receiver      string `json:"receiver"`
	SenderItemID  string `json:"sender_item_id"`
	Note          string `json:"note,omitempty"`
}

type batchHeader struct {
	SenderBatchID string `json:"sender_batch_id,omitempty"`
	EmailSubject  string `json:"email_subject,omitempty"`
	PayoutBatchID string `json:"payout_batch_id,omitempty"`
	BatchStatus   string `json:"batch_status,omitempty"`
}

type payoutRequest struct {
	SenderBatchHeader batchHeader  `json:"sender_batch_header"`
	Items             []payoutItem `json:"items"`
}

type payoutResponse struct {
	BatchHeader batchHeader `json:"batch_header"`
}

type apiError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Payout submits the items as one PayPal batch. The sender batch id is
// derived from the batch reference and first entry so a retried call is
// rejected as a duplicate instead of paying twice.
func (a *Adapter) Payout(ctx context.Context, batchReference string, items []paymentdomain.PayoutItem) ([]paymentdomain.PayoutItemResult, error) {
	if len(items) == 0 {
		return []paymentdomain.PayoutItemResult{}, nil
	}

	var req payoutRequest
	req.SenderBatchHeader.SenderBatchID = fmt.Sprintf("%s-%s", batchReference, items[0].EntryID)
	req.SenderBatchHeader.EmailSubject = "You have a payout"
	for _, item := range items {
		req.Items = append(req.Items, payoutItem{
			RecipientType: "EMAIL",
			Amount: money{
				Value:    decimal.New(item.AmountCents, -2).StringFixed(2),
				Currency: strings.ToUpper(item.Currency),
			},
			Receiver:     item.Destination,
			SenderItemID: item.EntryID.String(),
			Note:         "Marketplace earnings",
		})
	}

	var resp payoutResponse
	status, apiErr, err := a.do(ctx, http.MethodPost, "/v1/payments/payouts", req, &resp)
	if err != nil {
		return nil, err
	}

	results := make([]paymentdomain.PayoutItemResult, 0, len(items))
	switch {
	case status < 300:
		payload, _ := json.Marshal(resp.BatchHeader)
		for _, item := range items {
			results = append(results, paymentdomain.PayoutItemResult{
				EntryID:           item.EntryID,
				Status:            paymentdomain.PayoutItemPending,
				ProviderReference: resp.BatchHeader.PayoutBatchID,
				Payload:           payload,
			})
		}
	case apiErr.Name == "USER_BUSINESS_ERROR" && strings.Contains(apiErr.Message, "already"):
		// The batch was accepted by an earlier call; webhooks settle it.
		for _, item := range items {
			results = append(results, paymentdomain.PayoutItemResult{
				EntryID: item.EntryID,
				Status:  paymentdomain.PayoutItemPending,
			})
		}
	default:
		reason := apiErr.Name
		if reason == "" {
			reason = fmt.Sprintf("http_%d", status)
		}
		payload, _ := json.Marshal(apiErr)
		for _, item := range items {
			results = append(results, paymentdomain.PayoutItemResult{
				EntryID:       item.EntryID,
				Status:        paymentdomain.PayoutItemFailed,
				FailureReason: reason,
				Payload:       payload,
			})
		}
	}
	return results, nil
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.webhookID == "" {
		return paymentdomain.ErrInvalidConfig
	}
	transmissionID := headers.Get("Paypal-Transmission-Id")
	signature := headers.Get("Paypal-Transmission-Sig")
	if transmissionID == "" || signature == "" {
		return paymentdomain.ErrInvalidSignature
	}

	body := map[string]any{
		"auth_algo":         headers.Get("Paypal-Auth-Algo"),
		"cert_url":          headers.Get("Paypal-Cert-Url"),
		"transmission_id":   transmissionID,
		"transmission_sig":  signature,
		"transmission_time": headers.Get("Paypal-Transmission-Time"),
		"webhook_id":        a.webhookID,
		"webhook_event":     json.RawMessage(payload),
	}
	var resp struct {
		VerificationStatus string `json:"verification_status"`
	}
	status, _, err := a.do(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", body, &resp)
	if err != nil {
		return err
	}
	if status >= 300 || resp.VerificationStatus != "SUCCESS" {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

type webhookEvent struct {
	ID         string          `json:"id"`
	EventType  string          `json:"event_type"`
	CreateTime time.Time       `json:"create_time"`
	Resource   webhookResource `json:"resource"`
}

type webhookResource struct {
	PayoutItemID      string           `json:"payout_item_id"`
	TransactionStatus string           `json:"transaction_status"`
	PayoutItem        webhookItemField `json:"payout_item"`
	Errors            apiError         `json:"errors"`
}

type webhookItemField struct {
	SenderItemID string `json:"sender_item_id"`
	Amount       money  `json:"amount"`
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.Event, error) {
	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	var eventType string
	switch event.EventType {
	case "PAYMENT.PAYOUTS-ITEM.SUCCEEDED":
		eventType = paymentdomain.EventTypePayoutSucceeded
	case "PAYMENT.PAYOUTS-ITEM.FAILED",
		"PAYMENT.PAYOUTS-ITEM.BLOCKED",
		"PAYMENT.PAYOUTS-ITEM.DENIED",
		"PAYMENT.PAYOUTS-ITEM.RETURNED",
		"PAYMENT.PAYOUTS-ITEM.REFUNDED",
		"PAYMENT.PAYOUTS-ITEM.CANCELED":
		eventType = paymentdomain.EventTypePayoutFailed
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	entryID, err := snowflake.ParseString(strings.TrimSpace(event.Resource.PayoutItem.SenderItemID))
	if err != nil {
		return nil, paymentdomain.ErrInvalidEvent
	}

	parsed := &paymentdomain.Event{
		Provider:        providerName,
		ProviderEventID: event.ID,
		Type:            eventType,
		PayoutReference: event.Resource.PayoutItemID,
		PayoutEntryID:   entryID,
		OccurredAt:      event.CreateTime.UTC(),
		RawPayload:      payload,
	}
	if value, err := decimal.NewFromString(event.Resource.PayoutItem.Amount.Value); err == nil {
		parsed.AmountCents = value.Shift(2).IntPart()
		parsed.Currency = strings.ToUpper(event.Resource.PayoutItem.Amount.Currency)
	}
	if eventType == paymentdomain.EventTypePayoutFailed {
		parsed.FailureReason = event.Resource.Errors.Name
		if parsed.FailureReason == "" {
			parsed.FailureReason = event.Resource.TransactionStatus
		}
	}
	return parsed, nil
}

// do sends an authenticated JSON request. Transport failures and 5xx or
// 429 responses wrap ErrProviderUnavailable; other statuses are returned
// with the decoded error body.
func (a *Adapter) do(ctx context.Context, method, path string, body any, out any) (int, apiError, error) {
	token, err := a.token(ctx)
	if err != nil {
		return 0, apiError{}, err
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return 0, apiError{}, err
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return 0, apiError{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, apiError{}, fmt.Errorf("%w: %v", paymentdomain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, apiError{}, fmt.Errorf("%w: %v", paymentdomain.ErrProviderUnavailable, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return resp.StatusCode, apiError{}, fmt.Errorf("%w: paypal status %d", paymentdomain.ErrProviderUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		var apiErr apiError
		_ = json.Unmarshal(raw, &apiErr)
		return resp.StatusCode, apiErr, nil
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, apiError{}, paymentdomain.ErrInvalidPayload
		}
	}
	return resp.StatusCode, apiError{}, nil
}

func (a *Adapter) token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.accessToken != "" && time.Now().Before(a.expiresAt) {
		return a.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(a.clientID, a.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", paymentdomain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return "", fmt.Errorf("%w: paypal token status %d", paymentdomain.ErrProviderUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: paypal token status %d", paymentdomain.ErrProviderRejected, resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.AccessToken == "" {
		return "", errors.New("paypal token response invalid")
	}
	a.accessToken = body.AccessToken
	a.expiresAt = time.Now().Add(time.Duration(body.ExpiresIn)*time.Second - tokenLeeway)
	return a.accessToken, nil
}
