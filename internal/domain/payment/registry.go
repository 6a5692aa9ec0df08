package payment

import (
	"fmt"
	"sort"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
)

// ProviderFor maps an order payment method to the provider that collects it.
// Offline methods have no provider.
func ProviderFor(m order.PaymentMethod) (Provider, bool) {
	switch m {
	case order.MethodCard, order.MethodCreditCard:
		return ProviderStripe, true
	case order.MethodPayPal:
		return ProviderPayPal, true
	}
	return "", false
}

// Registry holds the configured gateways. It is built once at startup and passed in.
type Registry struct {
	gateways map[Provider]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[Provider]Gateway, len(gateways))}
	for _, g := range gateways {
		if g != nil {
			r.gateways[g.Provider()] = g
		}
	}
	return r
}

func (r *Registry) Gateway(p Provider) (Gateway, error) {
	if g, ok := r.gateways[p]; ok {
		return g, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, p)
}

func (r *Registry) ForMethod(m order.PaymentMethod) (Gateway, error) {
	p, ok := ProviderFor(m)
	if !ok {
		return nil, fmt.Errorf("%w: payment method %q is settled offline", ErrUnsupportedProvider, m)
	}
	return r.Gateway(p)
}

func (r *Registry) Providers() []Provider {
	out := make([]Provider, 0, len(r.gateways))
	for p := range r.gateways {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
