package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/LeadLedger/internal/pkg/billing"
)

// WebhookHandler processes a raw provider delivery.
type WebhookHandler interface {
	HandleStripeWebhook(ctx context.Context, payload []byte, signature string) (*billing.WebhookResult, error)
}

type BillingController struct {
	webhooks WebhookHandler
}

func NewBillingController(webhooks WebhookHandler) *BillingController {
	return &BillingController{webhooks: webhooks}
}

// HandleStripeWebhook answers 400 for a bad signature, 500 when processing
// failed so Stripe redelivers, and 200 for processed, duplicate and ignored events.
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	payload := append([]byte(nil), c.Body()...)
	signature := c.Get("Stripe-Signature")
	if signature == "" {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_signature", "Missing Stripe-Signature header")
	}

	res, err := bc.webhooks.HandleStripeWebhook(c.UserContext(), payload, signature)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			log.Warnf("[Billing] Rejected webhook with invalid signature: %v", err)
			return errorJSON(c, fiber.StatusBadRequest, "invalid_signature", "Invalid webhook signature")
		}
		if res != nil {
			log.Errorf("[Billing] Webhook %s (%s) failed on attempt %d: %v", res.EventID, res.EventType, res.Attempt, err)
		} else {
			log.Errorf("[Billing] Webhook could not be recorded: %v", err)
		}
		return errorJSON(c, fiber.StatusInternalServerError, "processing_failed", "Webhook processing failed")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"received": true,
		"event_id": res.EventID,
		"outcome":  res.Outcome,
	})
}
