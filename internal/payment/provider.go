// Package payment abstracts the upstream payment gateways the checkout
// talks to. Providers are registered by handle; the order stores only the
// handle so gateways can be reconfigured without touching orders.
package payment

import (
	"context"

	"github.com/noah-isme/backend-market/internal/money"
)

// ChargeRequest captures everything a provider needs to take a payment.
type ChargeRequest struct {
	OrderNumber string
	Amount      money.Money
	Currency    string
	// Reference is an idempotency key; providers must treat a repeated
	// reference as the same charge.
	Reference string
}

// ChargeResult is the normalized provider response.
type ChargeResult struct {
	// Reference is the provider-side transaction id.
	Reference string
	Paid      bool
	Message   string
}

// Provider abstracts the operations required from an upstream payment
// gateway.
type Provider interface {
	Handle() string
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

// Registry maps gateway handles to providers.
type Registry map[string]Provider

// Register adds a provider under its handle.
func (r Registry) Register(p Provider) {
	r[p.Handle()] = p
}

// Lookup returns the provider for a handle, or nil.
func (r Registry) Lookup(handle string) Provider {
	return r[handle]
}
