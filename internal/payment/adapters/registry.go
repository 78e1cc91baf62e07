package adapters

import (
	"strings"

	"github.com/smallbiznis/promptmart/internal/payment/domain"
)

// Registry indexes provider adapters by name. One adapter value may
// serve several roles.
type Registry struct {
	chargers map[string]domain.Charger
	payouts  map[string]domain.PayoutProvider
	webhooks map[string]domain.WebhookAdapter
}

func NewRegistry(components ...any) *Registry {
	registry := &Registry{
		chargers: map[string]domain.Charger{},
		payouts:  map[string]domain.PayoutProvider{},
		webhooks: map[string]domain.WebhookAdapter{},
	}
	for _, component := range components {
		registry.Register(component)
	}
	return registry
}

func (r *Registry) Register(component any) {
	if component == nil {
		return
	}
	if c, ok := component.(domain.Charger); ok {
		if name := normalize(c.Provider()); name != "" {
			r.chargers[name] = c
		}
	}
	if p, ok := component.(domain.PayoutProvider); ok {
		if name := normalize(p.Provider()); name != "" {
			r.payouts[name] = p
		}
	}
	if w, ok := component.(domain.WebhookAdapter); ok {
		if name := normalize(w.Provider()); name != "" {
			r.webhooks[name] = w
		}
	}
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	provider = normalize(provider)
	_, charger := r.chargers[provider]
	_, payout := r.payouts[provider]
	_, webhook := r.webhooks[provider]
	return charger || payout || webhook
}

func (r *Registry) Charger(provider string) (domain.Charger, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	c, ok := r.chargers[normalize(provider)]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return c, nil
}

func (r *Registry) PayoutProvider(provider string) (domain.PayoutProvider, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	p, ok := r.payouts[normalize(provider)]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return p, nil
}

func (r *Registry) WebhookAdapter(provider string) (domain.WebhookAdapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	w, ok := r.webhooks[normalize(provider)]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return w, nil
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
