package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuelReschke/LeadLedger/app/models"
)

// Freeze moves the spendable balance into the frozen bucket when a paid
// subscription ends at eventAt. Only active or past_due subscribers are frozen;
// anything else, including an already frozen row, is left alone. An end reported
// before the newest applied provider event returns ErrStaleEvent.
func (s *Service) Freeze(ctx context.Context, accountID uint, eventAt time.Time) (*models.Subscriber, error) {
	sub, _, err := s.apply(ctx, accountID, false, models.LedgerKindFreeze, func(tx Tx, sub *models.Subscriber, m *mutation) error {
		if sub.StaleBillingEvent(eventAt) {
			return fmt.Errorf("freeze of account %d: %w", accountID, ErrStaleEvent)
		}
		if sub.IsFrozen() {
			m.skip = true
			return nil
		}
		if sub.Status != models.SubscriptionStatusActive && sub.Status != models.SubscriptionStatusPastDue {
			m.skip = true
			return nil
		}
		now := m.now
		sub.FrozenCredits = sub.CurrentCredits
		sub.CurrentCredits = 0
		sub.FrozenAt = &now
		sub.Status = models.SubscriptionStatusCanceled
		sub.AutoRenew = false
		sub.CancelAtPeriodEnd = false
		sub.PlanID = nil
		sub.TouchBillingEvent(eventAt)
		m.actor = "billing"

		if sub.FrozenCredits > 0 {
			deadline := now.Add(s.cfg.RestoreWindow)
			m.notify(Notification{
				Kind:      NotifyFrozen,
				AccountID: sub.AccountID,
				Credits:   sub.FrozenCredits,
				Balance:   sub.CurrentCredits,
				Date:      &deadline,
			})
		}
		return nil
	})
	return sub, err
}

// Restore resolves a pending freeze outside of a renewal. Without a pending
// freeze it is a no-op.
func (s *Service) Restore(ctx context.Context, accountID uint, actor string) (*models.Subscriber, error) {
	sub, _, err := s.apply(ctx, accountID, false, models.LedgerKindRestore, func(tx Tx, sub *models.Subscriber, m *mutation) error {
		m.actor = actorOr(actor, "admin")
		if !s.resolveFreeze(sub, m) {
			m.skip = true
		}
		return nil
	})
	return sub, err
}

// resolveFreeze credits the frozen bucket back inside the restore window and
// forfeits it after. Clearing frozen_at is what makes this happen once per episode.
func (s *Service) resolveFreeze(sub *models.Subscriber, m *mutation) bool {
	if !sub.IsFrozen() {
		return false
	}
	frozen := sub.FrozenCredits
	kind := models.LedgerKindForfeit
	notice := NotifyForfeited
	if m.now.Sub(*sub.FrozenAt) <= s.cfg.RestoreWindow {
		sub.CurrentCredits += frozen
		kind = models.LedgerKindRestore
		notice = NotifyRestored
	}
	sub.FrozenCredits = 0
	sub.FrozenAt = nil

	m.checkpoint(kind, sub, map[string]interface{}{"frozen_credits": frozen})
	if frozen > 0 {
		m.notify(Notification{
			Kind:      notice,
			AccountID: sub.AccountID,
			Credits:   frozen,
			Balance:   sub.CurrentCredits,
		})
	}
	return true
}
