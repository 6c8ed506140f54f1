package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuelReschke/LeadLedger/app/models"
)

var billingFailureTargets = map[models.SubscriptionStatus]bool{
	models.SubscriptionStatusPastDue:           true,
	models.SubscriptionStatusIncomplete:        true,
	models.SubscriptionStatusIncompleteExpired: true,
}

var billingFailureSources = map[models.SubscriptionStatus]bool{
	models.SubscriptionStatusInactive:   true,
	models.SubscriptionStatusActive:     true,
	models.SubscriptionStatusPastDue:    true,
	models.SubscriptionStatusIncomplete: true,
}

// MarkBillingStatus records a payment problem reported by the provider at
// eventAt. It never freezes credits; trial, canceled and expired rows keep their
// status. An event older than the newest applied one returns ErrStaleEvent.
func (s *Service) MarkBillingStatus(ctx context.Context, accountID uint, status models.SubscriptionStatus, eventAt time.Time) (*models.Subscriber, error) {
	if !billingFailureTargets[status] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	sub, _, err := s.apply(ctx, accountID, false, models.LedgerKindStatus, func(tx Tx, sub *models.Subscriber, m *mutation) error {
		if sub.StaleBillingEvent(eventAt) {
			return fmt.Errorf("%s for account %d: %w", status, accountID, ErrStaleEvent)
		}
		if sub.Status == status || !billingFailureSources[sub.Status] {
			m.skip = true
			return nil
		}
		sub.Status = status
		sub.TouchBillingEvent(eventAt)
		m.actor = "billing"
		return nil
	})
	return sub, err
}

// ScheduleCancel stops renewal at the end of the paid period. Credits stay
// spendable until the provider reports the subscription deleted.
func (s *Service) ScheduleCancel(ctx context.Context, accountID uint) (*models.Subscriber, error) {
	sub, _, err := s.apply(ctx, accountID, false, models.LedgerKindCancel, func(tx Tx, sub *models.Subscriber, m *mutation) error {
		if !sub.HasPaidPlan() {
			return ErrNoActiveSubscription
		}
		if sub.CancelAtPeriodEnd && !sub.AutoRenew {
			m.skip = true
			return nil
		}
		sub.AutoRenew = false
		sub.CancelAtPeriodEnd = true
		m.actor = "user"
		return nil
	})
	return sub, err
}

// ToggleAutoRenew flips auto-renew for a paid subscription.
func (s *Service) ToggleAutoRenew(ctx context.Context, accountID uint) (*models.Subscriber, error) {
	sub, _, err := s.apply(ctx, accountID, false, models.LedgerKindAutoRenew, func(tx Tx, sub *models.Subscriber, m *mutation) error {
		if !sub.HasPaidPlan() {
			return ErrNoActiveSubscription
		}
		sub.AutoRenew = !sub.AutoRenew
		sub.CancelAtPeriodEnd = !sub.AutoRenew
		m.actor = "user"
		m.meta["auto_renew"] = sub.AutoRenew
		return nil
	})
	return sub, err
}

// SetAutoRenew mirrors the provider's cancel-at-period-end flag. eventAt orders
// provider updates; the zero time applies unconditionally.
func (s *Service) SetAutoRenew(ctx context.Context, accountID uint, on bool, eventAt time.Time) (*models.Subscriber, error) {
	sub, _, err := s.apply(ctx, accountID, false, models.LedgerKindAutoRenew, func(tx Tx, sub *models.Subscriber, m *mutation) error {
		if sub.StaleBillingEvent(eventAt) {
			return fmt.Errorf("auto-renew for account %d: %w", accountID, ErrStaleEvent)
		}
		if !sub.HasPaidPlan() || (sub.AutoRenew == on && sub.CancelAtPeriodEnd == !on) {
			m.skip = true
			return nil
		}
		sub.AutoRenew = on
		sub.CancelAtPeriodEnd = !on
		sub.TouchBillingEvent(eventAt)
		m.actor = "billing"
		m.meta["auto_renew"] = on
		return nil
	})
	return sub, err
}
