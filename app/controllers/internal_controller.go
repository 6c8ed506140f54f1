package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/LeadLedger/app/repository"
	"github.com/ManuelReschke/LeadLedger/internal/pkg/ledger"
)

// InternalController serves calls from other services, guarded by the internal token.
type InternalController struct {
	ledger   *ledger.Service
	accounts repository.AccountRepository
}

func NewInternalController(svc *ledger.Service, accounts repository.AccountRepository) *InternalController {
	return &InternalController{ledger: svc, accounts: accounts}
}

// HandleTrialClaim grants the one-time trial once the verification service has
// approved the account. Repeated claims return the current state unchanged.
func (ic *InternalController) HandleTrialClaim(c *fiber.Ctx) error {
	accountID, err := parseIDParam(c, "id")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", "Invalid account id")
	}
	if ic.accounts != nil {
		ok, err := ic.accounts.Exists(accountID)
		if err != nil {
			log.Errorf("[API] Account lookup for %d failed: %v", accountID, err)
			return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Account lookup failed")
		}
		if !ok {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Account not found")
		}
	}

	sub, err := ic.ledger.GrantTrial(c.UserContext(), accountID)
	if err != nil {
		return ledgerError(c, err)
	}
	return c.JSON(fiber.Map{
		"account_id":               sub.AccountID,
		"subscription_status":      sub.Status,
		"current_credits":          sub.CurrentCredits,
		"trial_credits_expires_at": sub.TrialCreditsExpiresAt,
	})
}
