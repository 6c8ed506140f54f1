package controllers

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/LeadLedger/app/models"
	"github.com/ManuelReschke/LeadLedger/internal/pkg/ledger"
)

var validate = validator.New()

var errInvalidID = errors.New("invalid id")

func errorJSON(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error":   code,
		"message": message,
	})
}

// ledgerError maps ledger sentinels onto status codes. Insufficient credits and
// a tier mismatch get distinct codes so clients can show the right prompt.
func ledgerError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ledger.ErrInsufficientCredits):
		return errorJSON(c, fiber.StatusPaymentRequired, "insufficient_credits", "Not enough credits for this action")
	case errors.Is(err, ledger.ErrTierMismatch):
		return errorJSON(c, fiber.StatusForbidden, "tier_mismatch", "This add-on is not included in your plan")
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return errorJSON(c, fiber.StatusNotFound, "not_found", "Not found")
	case errors.Is(err, ledger.ErrEmptyPool):
		return errorJSON(c, fiber.StatusConflict, "empty_pool", "Nothing left to redeem")
	case errors.Is(err, ledger.ErrJobUnavailable), errors.Is(err, models.ErrJobNotPending):
		return errorJSON(c, fiber.StatusConflict, "job_unavailable", err.Error())
	case errors.Is(err, ledger.ErrNoActiveSubscription):
		return errorJSON(c, fiber.StatusConflict, "no_subscription", "No active paid subscription")
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidAdjustment),
		errors.Is(err, ledger.ErrInvalidStatus):
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	}
	log.Errorf("[API] Ledger operation failed on %s %s: %v", c.Method(), c.Path(), err)
	return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Ledger operation failed")
}

func parseIDParam(c *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, errInvalidID
	}
	return uint(id), nil
}

// bindBody parses and validates a JSON body. It writes the 400 response itself
// and returns false when the body is unusable.
func bindBody(c *fiber.Ctx, out interface{}) (bool, error) {
	if err := c.BodyParser(out); err != nil {
		return false, errorJSON(c, fiber.StatusBadRequest, "invalid_request", "Malformed request body")
	}
	if err := validate.Struct(out); err != nil {
		return false, errorJSON(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	}
	return true, nil
}
