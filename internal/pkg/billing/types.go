package billing

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/LeadLedger/app/models"
	"github.com/ManuelReschke/LeadLedger/internal/pkg/ledger"
)

var (
	ErrInvalidSignature  = errors.New("invalid webhook signature")
	ErrUnresolvedAccount = errors.New("webhook does not resolve to an account")
	ErrUnknownPrice      = errors.New("no active plan for price")
)

// Ledger is the part of the ledger the webhook adapter drives.
type Ledger interface {
	ApplyRenewal(ctx context.Context, r ledger.Renewal) (*models.Subscriber, error)
	Freeze(ctx context.Context, accountID uint, eventAt time.Time) (*models.Subscriber, error)
	MarkBillingStatus(ctx context.Context, accountID uint, status models.SubscriptionStatus, eventAt time.Time) (*models.Subscriber, error)
	SetAutoRenew(ctx context.Context, accountID uint, on bool, eventAt time.Time) (*models.Subscriber, error)
	LinkBilling(ctx context.Context, accountID uint, customerRef, subscriptionRef string) (*models.Subscriber, error)
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}

// Outcome tells the HTTP layer what happened to a delivery.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeFailed    Outcome = "failed"
)

// WebhookResult describes one handled delivery.
type WebhookResult struct {
	EventID   string
	EventType string
	Outcome   Outcome
	AccountID uint
	Attempt   int
}
