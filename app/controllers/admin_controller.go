package controllers

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/LeadLedger/app/models"
	"github.com/ManuelReschke/LeadLedger/app/repository"
	"github.com/ManuelReschke/LeadLedger/internal/pkg/entitlements"
	"github.com/ManuelReschke/LeadLedger/internal/pkg/ledger"
	"github.com/ManuelReschke/LeadLedger/internal/pkg/sweeper"
	"github.com/ManuelReschke/LeadLedger/internal/pkg/usercontext"
)

// ============================================================================
// ADMIN CONTROLLER
// ============================================================================

// SweeperTrigger runs a named sweeper once.
type SweeperTrigger interface {
	Trigger(ctx context.Context, name string) (sweeper.Stats, error)
}

type AdminController struct {
	ledger   *ledger.Service
	sweepers SweeperTrigger
	jobs     repository.JobRepository
}

func NewAdminController(svc *ledger.Service, sweepers SweeperTrigger, jobs repository.JobRepository) *AdminController {
	return &AdminController{ledger: svc, sweepers: sweepers, jobs: jobs}
}

type grantAddOnRequest struct {
	Type   string `json:"type" validate:"required"`
	Amount int    `json:"amount" validate:"gt=0"`
	Seats  int    `json:"seats" validate:"gte=0"`
	Reason string `json:"reason" validate:"max=255"`
}

type adjustCreditsRequest struct {
	Delta  int    `json:"delta" validate:"required"`
	Reason string `json:"reason" validate:"required,max=255"`
}

type createJobRequest struct {
	Title        string `json:"title" validate:"required,max=255"`
	Description  string `json:"description"`
	PermitNumber string `json:"permit_number" validate:"max=100"`
	City         string `json:"city" validate:"max=100"`
	State        string `json:"state" validate:"max=50"`
	ProjectValue int64  `json:"project_value" validate:"gte=0"`
	CreditCost   int    `json:"credit_cost" validate:"gte=1"`
}

func adminActor(c *fiber.Ctx) string {
	return fmt.Sprintf("admin:%d", usercontext.GetAccountID(c))
}

func (ac *AdminController) HandleWallet(c *fiber.Ctx) error {
	accountID, err := parseIDParam(c, "id")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", "Invalid account id")
	}
	w, err := ac.ledger.Wallet(c.UserContext(), accountID)
	if err != nil {
		return ledgerError(c, err)
	}
	return c.JSON(w)
}

func (ac *AdminController) HandleEntries(c *fiber.Ctx) error {
	accountID, err := parseIDParam(c, "id")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", "Invalid account id")
	}
	entries, err := ac.ledger.Entries(c.UserContext(), accountID, c.QueryInt("limit", 100))
	if err != nil {
		return ledgerError(c, err)
	}
	return c.JSON(fiber.Map{"entries": entries})
}

// HandleGrantAddOn credits an add-on pool. Admin grants skip the tier check.
func (ac *AdminController) HandleGrantAddOn(c *fiber.Ctx) error {
	accountID, err := parseIDParam(c, "id")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", "Invalid account id")
	}
	var req grantAddOnRequest
	if ok, err := bindBody(c, &req); !ok {
		return err
	}
	t, err := entitlements.ParseAddOnType(req.Type)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	}

	sub, err := ac.ledger.GrantAddOn(c.UserContext(), ledger.AddOnGrant{
		AccountID: accountID,
		Type:      t,
		Amount:    req.Amount,
		Seats:     req.Seats,
		Actor:     adminActor(c),
		Reason:    req.Reason,
	})
	if err != nil {
		return ledgerError(c, err)
	}
	return c.JSON(sub)
}

// HandleAdjustCredits applies a signed manual correction to the balance.
func (ac *AdminController) HandleAdjustCredits(c *fiber.Ctx) error {
	accountID, err := parseIDParam(c, "id")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", "Invalid account id")
	}
	var req adjustCreditsRequest
	if ok, err := bindBody(c, &req); !ok {
		return err
	}

	sub, err := ac.ledger.AdjustCredits(c.UserContext(), ledger.Adjustment{
		AccountID: accountID,
		Delta:     req.Delta,
		Reason:    req.Reason,
		Actor:     adminActor(c),
	})
	if err != nil {
		return ledgerError(c, err)
	}
	return c.JSON(sub)
}

// HandleRestore settles a pending freeze now. Inside the restore window the
// frozen credits come back; after it they are forfeited.
func (ac *AdminController) HandleRestore(c *fiber.Ctx) error {
	accountID, err := parseIDParam(c, "id")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", "Invalid account id")
	}
	sub, err := ac.ledger.Restore(c.UserContext(), accountID, adminActor(c))
	if err != nil {
		return ledgerError(c, err)
	}
	return c.JSON(sub)
}

// HandleRunSweeper runs one sweeper synchronously and reports its counts.
func (ac *AdminController) HandleRunSweeper(c *fiber.Ctx) error {
	name := c.Params("name")
	stats, err := ac.sweepers.Trigger(c.UserContext(), name)
	switch {
	case errors.Is(err, sweeper.ErrUnknownSweeper):
		return errorJSON(c, fiber.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, sweeper.ErrBusy), errors.Is(err, sweeper.ErrLocked):
		return errorJSON(c, fiber.StatusConflict, "sweeper_busy", err.Error())
	case err != nil:
		log.Errorf("[API] Manual run of %s failed: %v", name, err)
		return errorJSON(c, fiber.StatusInternalServerError, "sweeper_failed", err.Error())
	}
	log.Infof("[API] %s ran sweeper %s: %+v", adminActor(c), name, stats)
	return c.JSON(fiber.Map{"sweeper": name, "stats": stats})
}

// ============================================================================
// JOB REVIEW
// ============================================================================

func (ac *AdminController) HandleCreateJob(c *fiber.Ctx) error {
	var req createJobRequest
	if ok, err := bindBody(c, &req); !ok {
		return err
	}
	job := &models.Job{
		Title:        req.Title,
		Description:  req.Description,
		PermitNumber: req.PermitNumber,
		City:         req.City,
		State:        req.State,
		ProjectValue: req.ProjectValue,
		CreditCost:   req.CreditCost,
	}
	if err := ac.jobs.Create(job); err != nil {
		log.Errorf("[API] Failed to create job: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to create job")
	}
	return c.Status(fiber.StatusCreated).JSON(job)
}

// HandlePostJob approves a pending job; from now on it can be unlocked and
// its retention period runs.
func (ac *AdminController) HandlePostJob(c *fiber.Ctx) error {
	jobID, err := parseIDParam(c, "id")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", "Invalid job id")
	}
	job, err := ac.jobs.MarkPosted(jobID, ac.ledger.Now())
	if err != nil {
		return ledgerError(c, err)
	}
	return c.JSON(job)
}

func (ac *AdminController) HandleDeclineJob(c *fiber.Ctx) error {
	jobID, err := parseIDParam(c, "id")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", "Invalid job id")
	}
	job, err := ac.jobs.MarkDeclined(jobID)
	if err != nil {
		return ledgerError(c, err)
	}
	return c.JSON(job)
}
