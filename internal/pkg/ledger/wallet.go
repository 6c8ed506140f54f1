package ledger

import (
	"context"
	"time"

	"github.com/ManuelReschke/LeadLedger/app/models"
)

// Wallet is the read-only projection shown to account holders.
type Wallet struct {
	AccountID             uint                      `json:"account_id"`
	Status                models.SubscriptionStatus `json:"subscription_status"`
	PlanName              string                    `json:"plan_name,omitempty"`
	PlanTier              models.PlanTier           `json:"plan_tier,omitempty"`
	CurrentCredits        int                       `json:"current_credits"`
	TotalSpent            int                       `json:"total_spent"`
	FrozenCredits         int                       `json:"frozen_credits"`
	FrozenAt              *time.Time                `json:"frozen_at,omitempty"`
	AutoRenew             bool                      `json:"auto_renew"`
	CancelAtPeriodEnd     bool                      `json:"cancel_at_period_end"`
	SubscriptionRenewDate *time.Time                `json:"subscription_renew_date,omitempty"`
	TrialCreditsExpiresAt *time.Time                `json:"trial_credits_expires_at,omitempty"`
	SeatsUsed             int                       `json:"seats_used"`
	MaxSeats              int                       `json:"max_seats"`
	StayActivePool        int                       `json:"stay_active_pool"`
	BonusPool             int                       `json:"bonus_pool"`
	BoostPoolCredits      int                       `json:"boost_pool_credits"`
	BoostPoolSeats        int                       `json:"boost_pool_seats"`
}

func (s *Service) Wallet(ctx context.Context, accountID uint) (*Wallet, error) {
	sub, err := s.store.GetSubscriber(ctx, accountID)
	if err != nil {
		return nil, err
	}
	w := &Wallet{
		AccountID:             sub.AccountID,
		Status:                sub.Status,
		CurrentCredits:        sub.CurrentCredits,
		TotalSpent:            sub.TotalSpent,
		FrozenCredits:         sub.FrozenCredits,
		FrozenAt:              sub.FrozenAt,
		AutoRenew:             sub.AutoRenew,
		CancelAtPeriodEnd:     sub.CancelAtPeriodEnd,
		SubscriptionRenewDate: sub.SubscriptionRenewDate,
		TrialCreditsExpiresAt: sub.TrialCreditsExpiresAt,
		SeatsUsed:             sub.SeatsUsed,
		MaxSeats:              sub.MaxSeats,
		StayActivePool:        sub.StayActivePool,
		BonusPool:             sub.BonusPool,
		BoostPoolCredits:      sub.BoostPoolCredits,
		BoostPoolSeats:        sub.BoostPoolSeats,
	}
	if sub.PlanID != nil {
		if plan, err := s.store.GetPlan(ctx, *sub.PlanID); err == nil {
			w.PlanName = plan.Name
			w.PlanTier = plan.Tier
		}
	}
	return w, nil
}
