package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/LeadLedger/app/repository"
	"github.com/ManuelReschke/LeadLedger/internal/pkg/billing"
	"github.com/ManuelReschke/LeadLedger/internal/pkg/entitlements"
	"github.com/ManuelReschke/LeadLedger/internal/pkg/ledger"
	"github.com/ManuelReschke/LeadLedger/internal/pkg/usercontext"
)

const jobsPerPage = 25

// LedgerController serves the account holder's wallet, unlock and add-on routes.
// Every route acts on the caller's billing account, so team members spend from
// their owner's wallet.
type LedgerController struct {
	ledger   *ledger.Service
	provider billing.Provider
	jobs     repository.JobRepository
	plans    repository.PlanRepository
}

func NewLedgerController(svc *ledger.Service, provider billing.Provider, jobs repository.JobRepository, plans repository.PlanRepository) *LedgerController {
	return &LedgerController{ledger: svc, provider: provider, jobs: jobs, plans: plans}
}

// HandleWallet returns the balance projection.
func (lc *LedgerController) HandleWallet(c *fiber.Ctx) error {
	w, err := lc.ledger.Wallet(c.UserContext(), usercontext.GetBillingAccountID(c))
	if err != nil {
		return ledgerError(c, err)
	}
	return c.JSON(w)
}

// HandleEntries returns the newest journal rows, ?limit= up to 500.
func (lc *LedgerController) HandleEntries(c *fiber.Ctx) error {
	entries, err := lc.ledger.Entries(c.UserContext(), usercontext.GetBillingAccountID(c), c.QueryInt("limit", 50))
	if err != nil {
		return ledgerError(c, err)
	}
	return c.JSON(fiber.Map{"entries": entries})
}

func (lc *LedgerController) HandleListPlans(c *fiber.Ctx) error {
	plans, err := lc.plans.ListActive()
	if err != nil {
		log.Errorf("[API] Failed to list plans: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load plans")
	}
	return c.JSON(fiber.Map{"plans": plans})
}

// HandleListJobs lists posted jobs, newest first.
func (lc *LedgerController) HandleListJobs(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	jobs, err := lc.jobs.ListPosted((page-1)*jobsPerPage, jobsPerPage)
	if err != nil {
		log.Errorf("[API] Failed to list jobs: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load jobs")
	}
	total, err := lc.jobs.CountPosted()
	if err != nil {
		log.Errorf("[API] Failed to count jobs: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load jobs")
	}
	return c.JSON(fiber.Map{
		"jobs":     jobs,
		"page":     page,
		"per_page": jobsPerPage,
		"total":    total,
	})
}

// HandleUnlockJob charges the job's credit cost once. Repeats return the
// original unlock with 200; the first unlock answers 201.
func (lc *LedgerController) HandleUnlockJob(c *fiber.Ctx) error {
	jobID, err := parseIDParam(c, "id")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", "Invalid job id")
	}
	u, err := lc.ledger.UnlockJob(c.UserContext(), usercontext.GetBillingAccountID(c), jobID)
	if err != nil {
		return ledgerError(c, err)
	}
	status := fiber.StatusCreated
	if u.AlreadyUnlocked {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(u)
}

func (lc *LedgerController) HandleRedeemAddOn(c *fiber.Ctx) error {
	t, err := entitlements.ParseAddOnType(c.Params("type"))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	}
	r, err := lc.ledger.RedeemAddOn(c.UserContext(), usercontext.GetBillingAccountID(c), t)
	if err != nil {
		return ledgerError(c, err)
	}
	return c.JSON(r)
}

// HandleScheduleCancel stops renewal at period end, locally first and then at
// the provider. Both steps are idempotent so a failed sync can simply be retried.
func (lc *LedgerController) HandleScheduleCancel(c *fiber.Ctx) error {
	accountID := usercontext.GetBillingAccountID(c)
	sub, err := lc.ledger.ScheduleCancel(c.UserContext(), accountID)
	if err != nil {
		return ledgerError(c, err)
	}
	if err := lc.syncProvider(c, sub.BillingSubscriptionRef, true); err != nil {
		log.Errorf("[API] Cancel sync failed for account %d: %v", accountID, err)
		return errorJSON(c, fiber.StatusBadGateway, "billing_sync_failed", "Could not reach the billing provider, please retry")
	}
	return c.JSON(fiber.Map{
		"auto_renew":           sub.AutoRenew,
		"cancel_at_period_end": sub.CancelAtPeriodEnd,
	})
}

// HandleToggleAutoRenew flips auto-renew and mirrors it to the provider. If the
// provider refuses, the local flag is put back.
func (lc *LedgerController) HandleToggleAutoRenew(c *fiber.Ctx) error {
	ctx := c.UserContext()
	accountID := usercontext.GetBillingAccountID(c)
	sub, err := lc.ledger.ToggleAutoRenew(ctx, accountID)
	if err != nil {
		return ledgerError(c, err)
	}
	if err := lc.syncProvider(c, sub.BillingSubscriptionRef, !sub.AutoRenew); err != nil {
		log.Errorf("[API] Auto-renew sync failed for account %d: %v", accountID, err)
		if _, rerr := lc.ledger.SetAutoRenew(ctx, accountID, !sub.AutoRenew, time.Time{}); rerr != nil {
			log.Errorf("[API] Reverting auto-renew for account %d failed: %v", accountID, rerr)
		}
		return errorJSON(c, fiber.StatusBadGateway, "billing_sync_failed", "Could not reach the billing provider, please retry")
	}
	return c.JSON(fiber.Map{
		"auto_renew":           sub.AutoRenew,
		"cancel_at_period_end": sub.CancelAtPeriodEnd,
	})
}

// syncProvider is a no-op for subscriptions not linked to the provider, such
// as plans assigned by an operator.
func (lc *LedgerController) syncProvider(c *fiber.Ctx, subscriptionRef string, cancel bool) error {
	if lc.provider == nil || subscriptionRef == "" {
		return nil
	}
	return lc.provider.SetCancelAtPeriodEnd(c.UserContext(), subscriptionRef, cancel)
}
