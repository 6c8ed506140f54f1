package entitlements

import (
	"fmt"
	"strings"

	"github.com/ManuelReschke/LeadLedger/app/models"
)

// AddOnType names one of the three add-on pools.
type AddOnType string

const (
	AddOnStayActive AddOnType = "stay_active"
	AddOnBonus      AddOnType = "bonus"
	AddOnBoost      AddOnType = "boost"
)

// Default first-time grants per add-on pool.
const (
	StayActiveCredits = 30
	BonusCredits      = 50
	BoostCredits      = 100
	BoostSeats        = 1
)

// AddOnTypes lists every pool in a stable order.
var AddOnTypes = []AddOnType{AddOnStayActive, AddOnBonus, AddOnBoost}

// ParseAddOnType accepts the canonical names plus the legacy aliases used by older clients.
func ParseAddOnType(raw string) (AddOnType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "stay_active", "stay-active", "stay_active_bonus":
		return AddOnStayActive, nil
	case "bonus", "bonus_credits":
		return AddOnBonus, nil
	case "boost", "boost_pack":
		return AddOnBoost, nil
	}
	return "", fmt.Errorf("unknown add-on type %q", raw)
}

// Allowed reports whether a plan carries the flag for t. A nil plan allows nothing.
func Allowed(plan *models.Plan, t AddOnType) bool {
	if plan == nil {
		return false
	}
	switch t {
	case AddOnStayActive:
		return plan.HasStayActiveBonus
	case AddOnBonus:
		return plan.HasBonusCredits
	case AddOnBoost:
		return plan.HasBoostPack
	}
	return false
}

// DefaultGrant returns the credits and seats granted for t the first time an
// account subscribes to a tier that carries it.
func DefaultGrant(t AddOnType) (credits, seats int) {
	switch t {
	case AddOnStayActive:
		return StayActiveCredits, 0
	case AddOnBonus:
		return BonusCredits, 0
	case AddOnBoost:
		return BoostCredits, BoostSeats
	}
	return 0, 0
}

// TierDefaults returns the add-on flags a tier ships with when a plan is seeded.
func TierDefaults(tier models.PlanTier) (stayActive, bonus, boost bool) {
	switch tier {
	case models.PlanTierStarter:
		return true, false, false
	case models.PlanTierProfessional:
		return true, true, false
	case models.PlanTierEnterprise:
		return true, true, true
	default:
		return false, false, false
	}
}
