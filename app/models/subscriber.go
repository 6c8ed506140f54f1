package models

import (
	"fmt"
	"time"
)

// SubscriptionStatus is the closed set of lifecycle states a Subscriber can be in.
type SubscriptionStatus string

const (
	SubscriptionStatusInactive          SubscriptionStatus = "inactive"
	SubscriptionStatusTrial             SubscriptionStatus = "trial"
	SubscriptionStatusTrialExpired      SubscriptionStatus = "trial_expired"
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
)

var subscriptionStatuses = map[SubscriptionStatus]struct{}{
	SubscriptionStatusInactive:          {},
	SubscriptionStatusTrial:             {},
	SubscriptionStatusTrialExpired:      {},
	SubscriptionStatusActive:            {},
	SubscriptionStatusPastDue:           {},
	SubscriptionStatusCanceled:          {},
	SubscriptionStatusIncomplete:        {},
	SubscriptionStatusIncompleteExpired: {},
}

// Valid reports whether s is one of the known statuses.
func (s SubscriptionStatus) Valid() bool {
	_, ok := subscriptionStatuses[s]
	return ok
}

// ParseSubscriptionStatus maps a raw string onto the closed status set.
func ParseSubscriptionStatus(raw string) (SubscriptionStatus, error) {
	s := SubscriptionStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown subscription status %q", raw)
	}
	return s, nil
}

// Subscriber holds every credit, seat and lifecycle counter of one billing account.
// Sub-users share the Subscriber of their owning account.
type Subscriber struct {
	ID        uint  `gorm:"primaryKey" json:"id"`
	AccountID uint  `gorm:"not null;uniqueIndex:ux_subscribers_account" json:"account_id"`
	PlanID    *uint `gorm:"index" json:"plan_id,omitempty"`
	Plan      *Plan `gorm:"foreignKey:PlanID" json:"plan,omitempty"`

	CurrentCredits int `gorm:"not null;default:0" json:"current_credits"`
	TotalSpent     int `gorm:"not null;default:0" json:"total_spent"`
	SeatsUsed      int `gorm:"not null;default:1" json:"seats_used"`
	MaxSeats       int `gorm:"not null;default:1" json:"max_seats"`

	Status                SubscriptionStatus `gorm:"type:varchar(32);not null;default:'inactive';index:idx_subscribers_status_trial,priority:1" json:"subscription_status"`
	AutoRenew             bool               `gorm:"not null;default:false" json:"auto_renew"`
	CancelAtPeriodEnd     bool               `gorm:"not null;default:false" json:"cancel_at_period_end"`
	SubscriptionStartDate *time.Time         `gorm:"type:timestamp;default:null" json:"subscription_start_date,omitempty"`
	SubscriptionRenewDate *time.Time         `gorm:"type:timestamp;default:null" json:"subscription_renew_date,omitempty"`

	TrialCreditsGranted   int        `gorm:"not null;default:0" json:"trial_credits_granted"`
	TrialCreditsExpiresAt *time.Time `gorm:"type:timestamp;default:null;index:idx_subscribers_status_trial,priority:2" json:"trial_credits_expires_at,omitempty"`
	TrialClaimed          bool       `gorm:"not null;default:false" json:"trial_claimed"`

	FrozenCredits int        `gorm:"not null;default:0" json:"frozen_credits"`
	FrozenAt      *time.Time `gorm:"type:timestamp;default:null" json:"frozen_at,omitempty"`

	StayActivePool   int `gorm:"not null;default:0" json:"stay_active_pool"`
	BonusPool        int `gorm:"not null;default:0" json:"bonus_pool"`
	BoostPoolCredits int `gorm:"not null;default:0" json:"boost_pool_credits"`
	BoostPoolSeats   int `gorm:"not null;default:0" json:"boost_pool_seats"`

	LastStayActiveRedemption *time.Time `gorm:"type:timestamp;default:null" json:"last_stay_active_redemption,omitempty"`
	LastBonusRedemption      *time.Time `gorm:"type:timestamp;default:null" json:"last_bonus_redemption,omitempty"`
	LastBoostRedemption      *time.Time `gorm:"type:timestamp;default:null" json:"last_boost_redemption,omitempty"`

	FirstStarterSubscriptionAt      *time.Time `gorm:"type:timestamp;default:null" json:"-"`
	FirstProfessionalSubscriptionAt *time.Time `gorm:"type:timestamp;default:null" json:"-"`
	FirstEnterpriseSubscriptionAt   *time.Time `gorm:"type:timestamp;default:null" json:"-"`

	BillingCustomerRef     string `gorm:"type:varchar(191);default:'';index" json:"billing_customer_ref"`
	BillingSubscriptionRef string `gorm:"type:varchar(191);default:'';index" json:"billing_subscription_ref"`
	// BillingEventAt is the creation time of the newest provider event applied to this row.
	BillingEventAt *time.Time `gorm:"type:timestamp;default:null" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// HasPaidPlan reports whether a paid plan is attached.
func (s *Subscriber) HasPaidPlan() bool {
	return s.PlanID != nil
}

// HasPaidHistory reports whether the account ever started a paid tier.
func (s *Subscriber) HasPaidHistory() bool {
	return s.FirstStarterSubscriptionAt != nil ||
		s.FirstProfessionalSubscriptionAt != nil ||
		s.FirstEnterpriseSubscriptionAt != nil
}

// IsFrozen reports whether a freeze episode is awaiting its restore decision.
func (s *Subscriber) IsFrozen() bool {
	return s.FrozenAt != nil
}

// FirstSubscriptionAt returns the pointer that tracks the first subscription to tier.
// Custom plans have no first-time bookkeeping and return nil.
func (s *Subscriber) FirstSubscriptionAt(tier PlanTier) **time.Time {
	switch tier {
	case PlanTierStarter:
		return &s.FirstStarterSubscriptionAt
	case PlanTierProfessional:
		return &s.FirstProfessionalSubscriptionAt
	case PlanTierEnterprise:
		return &s.FirstEnterpriseSubscriptionAt
	}
	return nil
}

// StaleBillingEvent reports whether a provider event created at is older than the
// newest one already applied. A zero at is never stale.
func (s *Subscriber) StaleBillingEvent(at time.Time) bool {
	return !at.IsZero() && s.BillingEventAt != nil && at.Before(*s.BillingEventAt)
}

// TouchBillingEvent advances BillingEventAt to at when at is newer.
func (s *Subscriber) TouchBillingEvent(at time.Time) {
	if at.IsZero() || (s.BillingEventAt != nil && !at.After(*s.BillingEventAt)) {
		return
	}
	t := at.UTC()
	s.BillingEventAt = &t
}

// Clone returns a deep copy, including time pointers.
func (s *Subscriber) Clone() *Subscriber {
	if s == nil {
		return nil
	}
	c := *s
	c.Plan = nil
	if s.PlanID != nil {
		id := *s.PlanID
		c.PlanID = &id
	}
	for _, p := range []**time.Time{
		&c.SubscriptionStartDate, &c.SubscriptionRenewDate, &c.TrialCreditsExpiresAt, &c.FrozenAt,
		&c.LastStayActiveRedemption, &c.LastBonusRedemption, &c.LastBoostRedemption,
		&c.FirstStarterSubscriptionAt, &c.FirstProfessionalSubscriptionAt, &c.FirstEnterpriseSubscriptionAt,
		&c.BillingEventAt,
	} {
		if *p != nil {
			t := **p
			*p = &t
		}
	}
	return &c
}
