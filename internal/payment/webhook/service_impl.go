package webhook

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/smallbiznis/promptmart/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/promptmart/internal/payment/domain"
	paymentservice "github.com/smallbiznis/promptmart/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const maxPayloadBytes = 1 << 20

type Params struct {
	fx.In

	Log        *zap.Logger
	PaymentSvc *paymentservice.Service
	Adapters   *adapters.Registry
}

type Service struct {
	log        *zap.Logger
	paymentSvc *paymentservice.Service
	adapters   *adapters.Registry
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		log:        p.Log.Named("payment.webhook"),
		paymentSvc: p.PaymentSvc,
		adapters:   p.Adapters,
	}
}

func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	if len(payload) == 0 || len(payload) > maxPayloadBytes {
		return paymentdomain.ErrInvalidPayload
	}

	adapter, err := s.adapters.WebhookAdapter(provider)
	if err != nil {
		return err
	}
	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("webhook verification failed", zap.String("provider", provider), zap.Error(err))
		return err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			return nil
		}
		return err
	}
	event.Provider = provider
	if event.RawPayload == nil {
		event.RawPayload = payload
	}
	return s.paymentSvc.ProcessEvent(ctx, event)
}
