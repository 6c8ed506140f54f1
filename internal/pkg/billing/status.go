package billing

import (
	"strconv"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/ManuelReschke/LeadLedger/app/models"
)

// statusFromStripe maps a Stripe subscription status onto the ledger's closed
// set. ok is false for statuses the ledger does not track (trialing, paused).
func statusFromStripe(status stripe.SubscriptionStatus) (models.SubscriptionStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(string(status))) {
	case "active":
		return models.SubscriptionStatusActive, true
	case "past_due", "unpaid":
		return models.SubscriptionStatusPastDue, true
	case "canceled":
		return models.SubscriptionStatusCanceled, true
	case "incomplete":
		return models.SubscriptionStatusIncomplete, true
	case "incomplete_expired":
		return models.SubscriptionStatusIncompleteExpired, true
	default:
		return "", false
	}
}

// isBillingFailure reports statuses that only mark the subscriber, never freeze.
func isBillingFailure(status models.SubscriptionStatus) bool {
	switch status {
	case models.SubscriptionStatusPastDue, models.SubscriptionStatusIncomplete, models.SubscriptionStatusIncompleteExpired:
		return true
	default:
		return false
	}
}

// parseAccountID reads the account id we attach to checkout sessions and
// subscriptions as client_reference_id or metadata.
func parseAccountID(raw string) (uint, bool) {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint(v), true
}
