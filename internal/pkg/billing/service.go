package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"gorm.io/gorm"

	"github.com/ManuelReschke/LeadLedger/app/models"
	"github.com/ManuelReschke/LeadLedger/internal/pkg/metrics"
)

// Service turns verified provider webhooks into ledger calls. It owns the
// seen-set of event ids; nothing behind it deduplicates again.
type Service struct {
	repo   Repository
	ledger Ledger
	cfg    Config
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository, l Ledger, cfg Config) *Service {
	return &Service{repo: repo, ledger: l, cfg: cfg}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, l Ledger, cfg Config) *Service {
	return NewService(NewRepository(db), l, cfg)
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	_ = ctx
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
		Attempts:        1,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, accountID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	var account *uint
	if accountID != 0 {
		account = &accountID
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, account, errMsg)
}

// HandleStripeWebhook verifies the Stripe-Signature header, records the event
// id and forwards the event to the ledger at most once. A delivery whose
// earlier attempt failed is dispatched again; one that is still in flight or
// already succeeded is reported as a duplicate.
func (s *Service) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.cfg.WebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                s.cfg.SignatureTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		log.Warnf("[Billing] Rejected Stripe webhook: %v", err)
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "invalid_signature").Inc()
		return nil, errors.Join(ErrInvalidSignature, err)
	}

	eventType := string(event.Type)
	start := time.Now()
	defer func() {
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	res := &WebhookResult{EventID: event.ID, EventType: eventType}
	created, stored, err := s.RecordWebhookEvent(ctx, WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: event.ID,
		EventType:       eventType,
		PayloadJSON:     string(payload),
		SignatureValid:  true,
	})
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(eventType, "error").Inc()
		return nil, err
	}
	res.Attempt = stored.Attempts

	if !created {
		if stored.ProcessingError == "" {
			log.Infof("[Billing] Duplicate Stripe event %s (%s)", event.ID, eventType)
			res.Outcome = OutcomeDuplicate
			metrics.WebhookEventsTotal.WithLabelValues(eventType, string(res.Outcome)).Inc()
			return res, nil
		}
		claimed, err := s.repo.ClaimWebhookRetry(stored.ID, stored.Attempts)
		if err != nil {
			metrics.WebhookEventsTotal.WithLabelValues(eventType, "error").Inc()
			return nil, err
		}
		if !claimed {
			res.Outcome = OutcomeDuplicate
			metrics.WebhookEventsTotal.WithLabelValues(eventType, string(res.Outcome)).Inc()
			return res, nil
		}
		res.Attempt = stored.Attempts + 1
		log.Infof("[Billing] Retrying Stripe event %s (%s), attempt %d", event.ID, eventType, res.Attempt)
	}

	accountID, outcome, derr := s.dispatch(ctx, &event)
	res.AccountID = accountID
	res.Outcome = outcome
	if derr != nil {
		res.Outcome = OutcomeFailed
		log.Errorf("[Billing] Stripe event %s (%s) failed: %v", event.ID, eventType, derr)
	}
	if err := s.MarkWebhookProcessed(ctx, stored.ID, accountID, derr); err != nil {
		log.Errorf("[Billing] Failed to mark Stripe event %s processed: %v", event.ID, err)
		if derr == nil {
			derr = err
		}
	}
	metrics.WebhookEventsTotal.WithLabelValues(eventType, string(res.Outcome)).Inc()
	return res, derr
}

func (s *Service) dispatch(ctx context.Context, event *stripe.Event) (uint, Outcome, error) {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		return s.onCheckoutCompleted(ctx, event)
	case stripe.EventTypeInvoicePaid:
		return s.onInvoicePaid(ctx, event)
	case stripe.EventTypeInvoicePaymentFailed:
		return s.onInvoiceFailed(ctx, event)
	case stripe.EventTypeCustomerSubscriptionUpdated:
		return s.onSubscriptionUpdated(ctx, event)
	case stripe.EventTypeCustomerSubscriptionDeleted:
		return s.onSubscriptionDeleted(ctx, event)
	default:
		// invoice.payment_succeeded arrives next to invoice.paid for the same
		// invoice, so it is ignored along with everything we do not use.
		return 0, OutcomeIgnored, nil
	}
}
