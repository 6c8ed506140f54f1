package billing

import (
	"context"
	"fmt"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/subscription"
)

// Provider pushes user-initiated subscription changes back to the billing provider.
type Provider interface {
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionRef string, cancel bool) error
}

// StripeProvider implements Provider using the Stripe API.
type StripeProvider struct {
	apiKey string
}

// NewStripeProvider creates a StripeProvider with the given API key.
func NewStripeProvider(apiKey string) *StripeProvider {
	stripe.Key = apiKey
	return &StripeProvider{apiKey: apiKey}
}

// SetCancelAtPeriodEnd toggles renewal on a Stripe subscription. The resulting
// customer.subscription.updated webhook is what the ledger acts on.
func (p *StripeProvider) SetCancelAtPeriodEnd(_ context.Context, subscriptionRef string, cancel bool) error {
	if subscriptionRef == "" {
		return fmt.Errorf("billing: no stripe subscription linked")
	}
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(cancel),
	}
	if _, err := subscription.Update(subscriptionRef, params); err != nil {
		return fmt.Errorf("billing: update stripe subscription: %w", err)
	}
	return nil
}
