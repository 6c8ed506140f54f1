package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/ManuelReschke/LeadLedger/app/models"
)

// Adjustment is a manual correction made by an operator.
type Adjustment struct {
	AccountID uint   `validate:"required"`
	Delta     int    `validate:"required"`
	Reason    string `validate:"required,max=255"`
	Actor     string `validate:"required,max=100"`
}

// AdjustCredits applies an audited correction to the spendable balance. It
// refuses to push the balance below zero.
func (s *Service) AdjustCredits(ctx context.Context, a Adjustment) (*models.Subscriber, error) {
	if a.Delta == 0 {
		return nil, fmt.Errorf("%w: delta must not be zero", ErrInvalidAdjustment)
	}
	if strings.TrimSpace(a.Reason) == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrInvalidAdjustment)
	}
	sub, _, err := s.apply(ctx, a.AccountID, false, models.LedgerKindAdjustment, func(tx Tx, sub *models.Subscriber, m *mutation) error {
		if sub.CurrentCredits+a.Delta < 0 {
			return fmt.Errorf("%w: balance %d cannot absorb %d", ErrInvalidAdjustment, sub.CurrentCredits, a.Delta)
		}
		sub.CurrentCredits += a.Delta
		m.reason = strings.TrimSpace(a.Reason)
		m.actor = actorOr(a.Actor, "admin")
		return nil
	})
	return sub, err
}
