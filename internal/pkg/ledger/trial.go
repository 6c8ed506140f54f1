package ledger

import (
	"context"

	"github.com/ManuelReschke/LeadLedger/app/models"
)

// GrantTrial issues the introductory credits once per account. Accounts that
// already claimed a trial or ever held a paid plan get their row back unchanged.
func (s *Service) GrantTrial(ctx context.Context, accountID uint) (*models.Subscriber, error) {
	sub, _, err := s.apply(ctx, accountID, true, models.LedgerKindTrialGrant, func(tx Tx, sub *models.Subscriber, m *mutation) error {
		if sub.TrialClaimed || sub.HasPaidPlan() || sub.HasPaidHistory() {
			m.skip = true
			return nil
		}
		expires := m.now.Add(s.cfg.TrialDuration)
		sub.CurrentCredits = s.cfg.TrialCredits
		sub.TrialCreditsGranted = s.cfg.TrialCredits
		sub.TrialCreditsExpiresAt = &expires
		sub.TrialClaimed = true
		sub.Status = models.SubscriptionStatusTrial
		m.actor = "verification"

		m.notify(Notification{
			Kind:      NotifyTrialGranted,
			AccountID: sub.AccountID,
			Credits:   s.cfg.TrialCredits,
			Balance:   sub.CurrentCredits,
			Date:      &expires,
		})
		return nil
	})
	return sub, err
}
