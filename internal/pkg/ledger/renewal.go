package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuelReschke/LeadLedger/app/models"
)

// Renewal describes one successful billing period reported by the provider.
type Renewal struct {
	AccountID uint `validate:"required"`
	// PlanID selects the plan being paid for. When nil the current plan is kept.
	PlanID *uint
	// Credits overrides the plan's credits. Zero means "use the plan".
	Credits     int `validate:"gte=0"`
	PeriodStart *time.Time
	PeriodEnd   *time.Time

	CustomerRef     string
	SubscriptionRef string
	EventID         string
	// EventAt is when the provider created the event. Zero skips ordering checks.
	EventAt time.Time
	Actor   string
}

// ApplyRenewal adds a period's credits on top of the current balance. A pending
// freeze is resolved first, so restored credits and the new grant compound.
// Renewing a canceled subscription reactivates it and turns auto-renew back on.
//
// A renewal older than the newest applied provider event still grants its
// credits, keeps status and plan, and only moves the period dates forward. On a
// canceled row it is refused with ErrStaleEvent, as is a period that ended
// before the freeze.
func (s *Service) ApplyRenewal(ctx context.Context, r Renewal) (*models.Subscriber, error) {
	if r.Credits < 0 {
		return nil, fmt.Errorf("renewal credits %d: %w", r.Credits, ErrInvalidAmount)
	}
	sub, _, err := s.apply(ctx, r.AccountID, true, models.LedgerKindRenewal, func(tx Tx, sub *models.Subscriber, m *mutation) error {
		stale := sub.StaleBillingEvent(r.EventAt)
		if sub.Status == models.SubscriptionStatusCanceled && (stale || endedBeforeFreeze(sub, r.PeriodEnd)) {
			return fmt.Errorf("renewal of account %d: %w", sub.AccountID, ErrStaleEvent)
		}

		var plan *models.Plan
		planID := r.PlanID
		if planID == nil {
			planID = sub.PlanID
		}
		if planID != nil {
			p, err := tx.GetPlan(*planID)
			if err != nil {
				return fmt.Errorf("plan %d: %w", *planID, err)
			}
			plan = p
		}

		credits := r.Credits
		if credits == 0 && plan != nil {
			credits = plan.Credits
		}

		prior := sub.Status
		if prior == models.SubscriptionStatusCanceled {
			m.kind = models.LedgerKindReactivation
		}
		m.actor = actorOr(r.Actor, "billing")
		if r.EventID != "" {
			m.meta["event_id"] = r.EventID
		}

		s.resolveFreeze(sub, m)

		sub.CurrentCredits += credits
		m.meta["credits"] = credits
		sub.TouchBillingEvent(r.EventAt)

		start := m.now
		if r.PeriodStart != nil {
			start = r.PeriodStart.UTC()
		}
		end := start.Add(s.cfg.RenewalPeriod)
		if r.PeriodEnd != nil {
			end = r.PeriodEnd.UTC()
		}

		if stale {
			// a late invoice for an earlier period only moves dates forward
			m.meta["stale"] = true
			if sub.SubscriptionRenewDate == nil || end.After(*sub.SubscriptionRenewDate) {
				sub.SubscriptionStartDate = &start
				sub.SubscriptionRenewDate = &end
			}
		} else {
			sub.Status = models.SubscriptionStatusActive
			sub.SubscriptionStartDate = &start
			sub.SubscriptionRenewDate = &end
			if prior != models.SubscriptionStatusActive && prior != models.SubscriptionStatusPastDue {
				sub.AutoRenew = true
				sub.CancelAtPeriodEnd = false
			}
			if plan != nil {
				id := plan.ID
				sub.PlanID = &id
				sub.MaxSeats = max(plan.MaxSeats, sub.SeatsUsed)
				m.meta["plan_id"] = plan.ID
				grantFirstTierAddOns(sub, plan, m)
			}
		}
		if r.CustomerRef != "" {
			sub.BillingCustomerRef = r.CustomerRef
		}
		if r.SubscriptionRef != "" {
			sub.BillingSubscriptionRef = r.SubscriptionRef
		}

		n := Notification{
			Kind:      NotifyRenewed,
			AccountID: sub.AccountID,
			Credits:   credits,
			Balance:   sub.CurrentCredits,
			Date:      &end,
		}
		if plan != nil {
			n.PlanName = plan.Name
		}
		m.notify(n)
		return nil
	})
	return sub, err
}

// endedBeforeFreeze reports whether a paid period closed before the current
// freeze began, meaning the payment belongs to the subscription that ended.
func endedBeforeFreeze(sub *models.Subscriber, periodEnd *time.Time) bool {
	return sub.FrozenAt != nil && periodEnd != nil && !periodEnd.After(*sub.FrozenAt)
}

// LinkBilling stores the provider's customer and subscription references.
func (s *Service) LinkBilling(ctx context.Context, accountID uint, customerRef, subscriptionRef string) (*models.Subscriber, error) {
	sub, _, err := s.apply(ctx, accountID, true, models.LedgerKindBillingLink, func(tx Tx, sub *models.Subscriber, m *mutation) error {
		changed := false
		if customerRef != "" && customerRef != sub.BillingCustomerRef {
			sub.BillingCustomerRef = customerRef
			changed = true
		}
		if subscriptionRef != "" && subscriptionRef != sub.BillingSubscriptionRef {
			sub.BillingSubscriptionRef = subscriptionRef
			changed = true
		}
		m.skip = !changed
		m.actor = "billing"
		return nil
	})
	return sub, err
}

func actorOr(actor, def string) string {
	if actor == "" {
		return def
	}
	return actor
}
