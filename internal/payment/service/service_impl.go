package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/promptmart/internal/clock"
	obsmetrics "github.com/smallbiznis/promptmart/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/promptmart/internal/payment/domain"
	payoutdomain "github.com/smallbiznis/promptmart/internal/payout/domain"
	purchasedomain "github.com/smallbiznis/promptmart/internal/purchase/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       paymentdomain.Repository
	Purchases  purchasedomain.Service
	Payouts    payoutdomain.Service
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service applies verified provider events to purchases and payouts.
// Each provider event id is applied at most once.
type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       paymentdomain.Repository
	purchases  purchasedomain.Service
	payouts    payoutdomain.Service
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		purchases:  p.Purchases,
		payouts:    p.Payouts,
		clock:      p.Clock,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) ProcessEvent(ctx context.Context, event *paymentdomain.Event) error {
	if err := validateEvent(event); err != nil {
		return err
	}

	now := s.clock.Now()
	received := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         storedPayload(event.RawPayload),
		ReceivedAt:      now,
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
		if err != nil {
			return err
		}
		if stored == nil {
			return paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			s.log.Debug("provider event already processed",
				zap.String("provider", event.Provider),
				zap.String("provider_event_id", event.ProviderEventID),
			)
			return nil
		}
	}

	if err := s.apply(ctx, event); err != nil {
		if recErr := s.repo.RecordFailure(ctx, s.db, stored.ID, err.Error()); recErr != nil {
			s.log.Warn("failed to record provider event failure",
				zap.String("provider", event.Provider),
				zap.String("provider_event_id", event.ProviderEventID),
				zap.Error(recErr),
			)
		}
		return err
	}
	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, s.clock.Now()); err != nil {
		return err
	}
	if inserted {
		s.obsMetrics.RecordWebhookEvent(ctx, event.Provider, event.Type)
	}
	return nil
}

func validateEvent(event *paymentdomain.Event) error {
	if event == nil {
		return paymentdomain.ErrInvalidEvent
	}
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	if event.Provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	event.ProviderEventID = strings.TrimSpace(event.ProviderEventID)
	if event.ProviderEventID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	switch event.Type {
	case paymentdomain.EventTypeChargeSucceeded, paymentdomain.EventTypeChargeFailed:
		if strings.TrimSpace(event.IdempotencyKey) == "" && strings.TrimSpace(event.ProviderChargeID) == "" {
			return paymentdomain.ErrInvalidEvent
		}
	case paymentdomain.EventTypePayoutSucceeded, paymentdomain.EventTypePayoutFailed:
		if event.PayoutEntryID == 0 && strings.TrimSpace(event.PayoutReference) == "" {
			return paymentdomain.ErrInvalidEvent
		}
	default:
		return paymentdomain.ErrInvalidEvent
	}
	return nil
}

func (s *Service) apply(ctx context.Context, event *paymentdomain.Event) error {
	var err error
	switch event.Type {
	case paymentdomain.EventTypeChargeSucceeded:
		_, err = s.purchases.SettleConfirmedCharge(ctx, purchasedomain.ConfirmedCharge{
			Provider:         event.Provider,
			IdempotencyKey:   event.IdempotencyKey,
			ProviderChargeID: event.ProviderChargeID,
			AmountCents:      event.AmountCents,
		})
	case paymentdomain.EventTypeChargeFailed:
		err = s.purchases.FailPendingCharge(ctx, event.Provider, event.IdempotencyKey, failureReason(event))
	case paymentdomain.EventTypePayoutSucceeded, paymentdomain.EventTypePayoutFailed:
		_, err = s.payouts.HandleProviderUpdate(ctx, payoutdomain.ProviderUpdate{
			Provider:          event.Provider,
			EntryID:           event.PayoutEntryID,
			ProviderReference: event.PayoutReference,
			Succeeded:         event.Type == paymentdomain.EventTypePayoutSucceeded,
			FailureReason:     failureReason(event),
			Payload:           storedPayload(event.RawPayload),
		})
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, purchasedomain.ErrAttemptNotFound), errors.Is(err, payoutdomain.ErrEntryNotFound):
		s.log.Warn("provider event has no local counterpart",
			zap.String("provider", event.Provider),
			zap.String("provider_event_id", event.ProviderEventID),
			zap.String("type", event.Type),
		)
		return nil
	default:
		s.log.Error("apply provider event",
			zap.String("provider", event.Provider),
			zap.String("provider_event_id", event.ProviderEventID),
			zap.String("type", event.Type),
			zap.Error(err),
		)
		return err
	}
}

func failureReason(event *paymentdomain.Event) string {
	if reason := strings.TrimSpace(event.FailureReason); reason != "" {
		return reason
	}
	return event.Type
}

// storedPayload keeps non-JSON bodies, such as form callbacks, as a JSON
// string.
func storedPayload(raw []byte) datatypes.JSON {
	if len(raw) == 0 {
		return datatypes.JSON("{}")
	}
	if json.Valid(raw) {
		return datatypes.JSON(raw)
	}
	wrapped, _ := json.Marshal(map[string]string{"raw": string(raw)})
	return datatypes.JSON(wrapped)
}
