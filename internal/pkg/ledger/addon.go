package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuelReschke/LeadLedger/app/models"
	"github.com/ManuelReschke/LeadLedger/internal/pkg/entitlements"
)

// AddOnGrant credits an add-on pool. Grants are trusted and skip the tier check.
type AddOnGrant struct {
	AccountID uint                   `validate:"required"`
	Type      entitlements.AddOnType `validate:"required,oneof=stay_active bonus boost"`
	Amount    int                    `validate:"gt=0"`
	Seats     int                    `validate:"gte=0"`
	Actor     string
	Reason    string
}

// Redemption is what a redeemed pool paid out. Seats are an instruction for an
// administrator to activate; they are not added to max_seats.
type Redemption struct {
	Type    entitlements.AddOnType `json:"type"`
	Credits int                    `json:"credits"`
	Seats   int                    `json:"seats"`
	Balance int                    `json:"balance"`
}

func (s *Service) GrantAddOn(ctx context.Context, g AddOnGrant) (*models.Subscriber, error) {
	if g.Amount <= 0 || g.Seats < 0 {
		return nil, fmt.Errorf("add-on grant amount=%d seats=%d: %w", g.Amount, g.Seats, ErrInvalidAmount)
	}
	if g.Seats > 0 && g.Type != entitlements.AddOnBoost {
		return nil, fmt.Errorf("seats only apply to %s: %w", entitlements.AddOnBoost, ErrInvalidAmount)
	}
	if _, err := entitlements.ParseAddOnType(string(g.Type)); err != nil {
		return nil, err
	}
	sub, _, err := s.apply(ctx, g.AccountID, false, models.LedgerKindAddOnGrant, func(tx Tx, sub *models.Subscriber, m *mutation) error {
		addToPool(sub, g.Type, g.Amount, g.Seats)
		m.actor = actorOr(g.Actor, "admin")
		m.reason = g.Reason
		m.meta["type"] = g.Type
		m.meta["amount"] = g.Amount
		if g.Seats > 0 {
			m.meta["seats"] = g.Seats
		}
		return nil
	})
	return sub, err
}

// RedeemAddOn moves a pool into the spendable balance. The plan flag is checked
// before the pool, so a user on the wrong tier always hears about the tier.
func (s *Service) RedeemAddOn(ctx context.Context, accountID uint, t entitlements.AddOnType) (*Redemption, error) {
	var out Redemption
	_, _, err := s.apply(ctx, accountID, false, models.LedgerKindAddOnRedeem, func(tx Tx, sub *models.Subscriber, m *mutation) error {
		if !sub.HasPaidPlan() {
			return ErrTierMismatch
		}
		plan, err := tx.GetPlan(*sub.PlanID)
		if err != nil {
			return fmt.Errorf("plan %d: %w", *sub.PlanID, err)
		}
		if !entitlements.Allowed(plan, t) {
			return ErrTierMismatch
		}

		credits, seats := poolOf(sub, t)
		if credits <= 0 && seats <= 0 {
			return ErrEmptyPool
		}
		sub.CurrentCredits += credits
		now := m.now
		clearPool(sub, t, &now)

		m.actor = "user"
		m.meta["type"] = t
		m.meta["credits"] = credits
		if seats > 0 {
			m.meta["seats"] = seats
		}
		out = Redemption{Type: t, Credits: credits, Seats: seats, Balance: sub.CurrentCredits}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func addToPool(sub *models.Subscriber, t entitlements.AddOnType, credits, seats int) {
	switch t {
	case entitlements.AddOnStayActive:
		sub.StayActivePool += credits
	case entitlements.AddOnBonus:
		sub.BonusPool += credits
	case entitlements.AddOnBoost:
		sub.BoostPoolCredits += credits
		sub.BoostPoolSeats += seats
	}
}

func poolOf(sub *models.Subscriber, t entitlements.AddOnType) (credits, seats int) {
	switch t {
	case entitlements.AddOnStayActive:
		return sub.StayActivePool, 0
	case entitlements.AddOnBonus:
		return sub.BonusPool, 0
	case entitlements.AddOnBoost:
		return sub.BoostPoolCredits, sub.BoostPoolSeats
	}
	return 0, 0
}

func clearPool(sub *models.Subscriber, t entitlements.AddOnType, now *time.Time) {
	switch t {
	case entitlements.AddOnStayActive:
		sub.StayActivePool = 0
		sub.LastStayActiveRedemption = now
	case entitlements.AddOnBonus:
		sub.BonusPool = 0
		sub.LastBonusRedemption = now
	case entitlements.AddOnBoost:
		sub.BoostPoolCredits = 0
		sub.BoostPoolSeats = 0
		sub.LastBoostRedemption = now
	}
}

// grantFirstTierAddOns fills the pools a tier ships with the first time an
// account lands on that tier.
func grantFirstTierAddOns(sub *models.Subscriber, plan *models.Plan, m *mutation) {
	slot := sub.FirstSubscriptionAt(plan.Tier)
	if slot == nil || *slot != nil {
		return
	}
	now := m.now
	*slot = &now
	var granted []entitlements.AddOnType
	for _, t := range entitlements.AddOnTypes {
		if !entitlements.Allowed(plan, t) {
			continue
		}
		credits, seats := entitlements.DefaultGrant(t)
		addToPool(sub, t, credits, seats)
		granted = append(granted, t)
	}
	m.meta["first_tier"] = plan.Tier
	if len(granted) > 0 {
		m.meta["add_ons_granted"] = granted
	}
}
