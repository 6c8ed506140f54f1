package models

import (
	"strings"
	"time"
)

// PlanTier is the closed set of plan tiers.
type PlanTier string

const (
	PlanTierStarter      PlanTier = "starter"
	PlanTierProfessional PlanTier = "professional"
	PlanTierEnterprise   PlanTier = "enterprise"
	PlanTierCustom       PlanTier = "custom"
)

// NormalizePlanTier maps free-form tier names onto a known tier. Unknown input yields custom.
func NormalizePlanTier(raw string) PlanTier {
	switch PlanTier(strings.ToLower(strings.TrimSpace(raw))) {
	case PlanTierStarter:
		return PlanTierStarter
	case PlanTierProfessional, "pro":
		return PlanTierProfessional
	case PlanTierEnterprise:
		return PlanTierEnterprise
	default:
		return PlanTierCustom
	}
}

// Plan is a purchasable subscription tier.
type Plan struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	Name               string    `gorm:"type:varchar(100);not null" json:"name" validate:"required,max=100"`
	Tier               PlanTier  `gorm:"type:varchar(32);not null;index" json:"tier" validate:"oneof=starter professional enterprise custom"`
	Credits            int       `gorm:"not null;default:0" json:"credits" validate:"gte=0"`
	MaxSeats           int       `gorm:"not null;default:1" json:"max_seats" validate:"gte=1"`
	PriceCents         int       `gorm:"not null;default:0" json:"price_cents" validate:"gte=0"`
	StripePriceID      string    `gorm:"type:varchar(191);default:'';index" json:"stripe_price_id"`
	HasStayActiveBonus bool      `gorm:"not null;default:false" json:"has_stay_active_bonus"`
	HasBonusCredits    bool      `gorm:"not null;default:false" json:"has_bonus_credits"`
	HasBoostPack       bool      `gorm:"not null;default:false" json:"has_boost_pack"`
	IsActive           bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
