package payment

import (
	"github.com/smallbiznis/promptmart/internal/config"
	"github.com/smallbiznis/promptmart/internal/payment/adapters"
	"github.com/smallbiznis/promptmart/internal/payment/adapters/mollie"
	"github.com/smallbiznis/promptmart/internal/payment/adapters/paypal"
	"github.com/smallbiznis/promptmart/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/promptmart/internal/payment/domain"
	"github.com/smallbiznis/promptmart/internal/payment/repository"
	paymentservice "github.com/smallbiznis/promptmart/internal/payment/service"
	"github.com/smallbiznis/promptmart/internal/payment/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(NewRegistry),
	fx.Provide(NewCharger),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)

// NewRegistry registers every provider whose credentials are configured.
func NewRegistry(cfg config.Config, log *zap.Logger) *adapters.Registry {
	registry := adapters.NewRegistry()

	if cfg.Stripe.SecretKey != "" {
		adapter, err := stripe.New(stripe.Config{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
		})
		if err != nil {
			log.Warn("stripe adapter disabled", zap.Error(err))
		} else {
			registry.Register(adapter)
		}
	}
	if cfg.Mollie.APIKey != "" {
		adapter, err := mollie.New(mollie.Config{
			APIKey:      cfg.Mollie.APIKey,
			Testing:     cfg.Mollie.Testing,
			WebhookURL:  cfg.Mollie.WebhookURL,
			RedirectURL: cfg.Mollie.RedirectURL,
		})
		if err != nil {
			log.Warn("mollie adapter disabled", zap.Error(err))
		} else {
			registry.Register(adapter)
		}
	}
	if cfg.PayPal.ClientID != "" {
		adapter, err := paypal.New(paypal.Config{
			BaseURL:      cfg.PayPal.BaseURL,
			ClientID:     cfg.PayPal.ClientID,
			ClientSecret: cfg.PayPal.ClientSecret,
			WebhookID:    cfg.PayPal.WebhookID,
		})
		if err != nil {
			log.Warn("paypal adapter disabled", zap.Error(err))
		} else {
			registry.Register(adapter)
		}
	}
	return registry
}

// NewCharger selects the money processor used for purchases. It returns
// nil when the processor is not configured; money purchases then fail
// with processor_not_configured.
func NewCharger(cfg config.Config, registry *adapters.Registry, log *zap.Logger) paymentdomain.Charger {
	charger, err := registry.Charger(cfg.MoneyProcessor)
	if err != nil {
		log.Warn("money processor not configured", zap.String("processor", cfg.MoneyProcessor))
		return nil
	}
	return charger
}
