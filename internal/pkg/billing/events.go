package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	stripe "github.com/stripe/stripe-go/v82"

	"github.com/ManuelReschke/LeadLedger/app/models"
	"github.com/ManuelReschke/LeadLedger/internal/pkg/ledger"
)

// invoiceObject pins the invoice fields we read. Stripe moved the subscription
// and price references between API versions, so both layouts are accepted.
type invoiceObject struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription string            `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []invoiceLine `json:"data"`
	} `json:"lines"`
}

type invoiceLine struct {
	Period struct {
		Start int64 `json:"start"`
		End   int64 `json:"end"`
	} `json:"period"`
	Price *struct {
		ID string `json:"id"`
	} `json:"price"`
	Pricing *struct {
		PriceDetails *struct {
			Price string `json:"price"`
		} `json:"price_details"`
	} `json:"pricing"`
}

func (inv *invoiceObject) subscriptionRef() string {
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription != "" {
		return inv.Parent.SubscriptionDetails.Subscription
	}
	return inv.Subscription
}

func (inv *invoiceObject) metadata() map[string]string {
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		return inv.Parent.SubscriptionDetails.Metadata
	}
	return nil
}

// line returns the first line that carries a price.
func (inv *invoiceObject) line() (*invoiceLine, string) {
	for i := range inv.Lines.Data {
		l := &inv.Lines.Data[i]
		if l.Pricing != nil && l.Pricing.PriceDetails != nil && l.Pricing.PriceDetails.Price != "" {
			return l, l.Pricing.PriceDetails.Price
		}
		if l.Price != nil && l.Price.ID != "" {
			return l, l.Price.ID
		}
	}
	return nil, ""
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// eventTime is when Stripe created the event. Deliveries are not ordered, so the
// ledger compares this against the newest event it already applied.
func eventTime(event *stripe.Event) time.Time {
	if event.Created <= 0 {
		return time.Time{}
	}
	return time.Unix(event.Created, 0).UTC()
}

// settle maps a ledger result onto a delivery outcome. Events the ledger refused
// as out of order are acknowledged so Stripe stops retrying them.
func settle(event *stripe.Event, accountID uint, err error) (uint, Outcome, error) {
	switch {
	case err == nil:
		return accountID, OutcomeProcessed, nil
	case errors.Is(err, ledger.ErrStaleEvent):
		log.Infof("[Billing] Ignoring out-of-order Stripe event %s (%s): %v", event.ID, event.Type, err)
		return accountID, OutcomeIgnored, nil
	}
	return accountID, OutcomeFailed, err
}

func decode(event *stripe.Event, v interface{}) error {
	if event.Data == nil {
		return fmt.Errorf("billing: %s event without data", event.Type)
	}
	if err := json.Unmarshal(event.Data.Raw, v); err != nil {
		return fmt.Errorf("billing: parse %s event: %w", event.Type, err)
	}
	return nil
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

// resolveAccount finds the account an event belongs to: explicit metadata
// first, then the stored subscription and customer references.
func (s *Service) resolveAccount(meta map[string]string, subscriptionRef, customerRef string) (uint, error) {
	if id, ok := parseAccountID(meta["account_id"]); ok {
		return id, nil
	}
	if subscriptionRef != "" {
		id, err := s.repo.FindAccountIDBySubscriptionRef(subscriptionRef)
		if err == nil {
			return id, nil
		}
		if !isNotFound(err) {
			return 0, err
		}
	}
	if customerRef != "" {
		id, err := s.repo.FindAccountIDByCustomerRef(customerRef)
		if err == nil {
			return id, nil
		}
		if !isNotFound(err) {
			return 0, err
		}
	}
	return 0, fmt.Errorf("%w (customer %q, subscription %q)", ErrUnresolvedAccount, customerRef, subscriptionRef)
}

func (s *Service) onCheckoutCompleted(ctx context.Context, event *stripe.Event) (uint, Outcome, error) {
	var session stripe.CheckoutSession
	if err := decode(event, &session); err != nil {
		return 0, OutcomeFailed, err
	}
	subRef := ""
	if session.Subscription != nil {
		subRef = session.Subscription.ID
	}
	accountID, ok := parseAccountID(session.ClientReferenceID)
	if !ok {
		id, err := s.resolveAccount(session.Metadata, subRef, customerID(session.Customer))
		if err != nil {
			return 0, OutcomeFailed, err
		}
		accountID = id
	}
	if _, err := s.ledger.LinkBilling(ctx, accountID, customerID(session.Customer), subRef); err != nil {
		return accountID, OutcomeFailed, err
	}
	return accountID, OutcomeProcessed, nil
}

func (s *Service) onInvoicePaid(ctx context.Context, event *stripe.Event) (uint, Outcome, error) {
	var inv invoiceObject
	if err := decode(event, &inv); err != nil {
		return 0, OutcomeFailed, err
	}
	subRef := inv.subscriptionRef()
	if subRef == "" {
		// one-off invoices do not renew anything
		return 0, OutcomeIgnored, nil
	}
	accountID, err := s.resolveAccount(inv.metadata(), subRef, inv.Customer)
	if err != nil {
		return 0, OutcomeFailed, err
	}

	r := ledger.Renewal{
		AccountID:       accountID,
		CustomerRef:     inv.Customer,
		SubscriptionRef: subRef,
		EventID:         event.ID,
		EventAt:         eventTime(event),
		Actor:           "stripe",
	}
	line, priceID := inv.line()
	if line != nil {
		r.PeriodStart = unixPtr(line.Period.Start)
		r.PeriodEnd = unixPtr(line.Period.End)
	}
	if priceID != "" {
		plan, err := s.repo.FindPlanByStripePrice(priceID)
		if err != nil {
			if isNotFound(err) {
				return accountID, OutcomeFailed, fmt.Errorf("%w %q", ErrUnknownPrice, priceID)
			}
			return accountID, OutcomeFailed, err
		}
		r.PlanID = &plan.ID
	}
	_, err = s.ledger.ApplyRenewal(ctx, r)
	return settle(event, accountID, err)
}

func (s *Service) onInvoiceFailed(ctx context.Context, event *stripe.Event) (uint, Outcome, error) {
	var inv invoiceObject
	if err := decode(event, &inv); err != nil {
		return 0, OutcomeFailed, err
	}
	subRef := inv.subscriptionRef()
	if subRef == "" {
		return 0, OutcomeIgnored, nil
	}
	accountID, err := s.resolveAccount(inv.metadata(), subRef, inv.Customer)
	if err != nil {
		return 0, OutcomeFailed, err
	}
	_, err = s.ledger.MarkBillingStatus(ctx, accountID, models.SubscriptionStatusPastDue, eventTime(event))
	return settle(event, accountID, err)
}

func (s *Service) onSubscriptionUpdated(ctx context.Context, event *stripe.Event) (uint, Outcome, error) {
	var sub stripe.Subscription
	if err := decode(event, &sub); err != nil {
		return 0, OutcomeFailed, err
	}
	accountID, err := s.resolveAccount(sub.Metadata, sub.ID, customerID(sub.Customer))
	if err != nil {
		return 0, OutcomeFailed, err
	}

	at := eventTime(event)
	status, known := statusFromStripe(sub.Status)
	switch {
	case !known:
		return accountID, OutcomeIgnored, nil
	case isBillingFailure(status):
		if _, err := s.ledger.MarkBillingStatus(ctx, accountID, status, at); err != nil {
			return settle(event, accountID, err)
		}
	case status == models.SubscriptionStatusCanceled:
		_, err = s.ledger.Freeze(ctx, accountID, at)
		return settle(event, accountID, err)
	}
	_, err = s.ledger.SetAutoRenew(ctx, accountID, !sub.CancelAtPeriodEnd, at)
	return settle(event, accountID, err)
}

func (s *Service) onSubscriptionDeleted(ctx context.Context, event *stripe.Event) (uint, Outcome, error) {
	var sub stripe.Subscription
	if err := decode(event, &sub); err != nil {
		return 0, OutcomeFailed, err
	}
	accountID, err := s.resolveAccount(sub.Metadata, sub.ID, customerID(sub.Customer))
	if err != nil {
		return 0, OutcomeFailed, err
	}
	_, err = s.ledger.Freeze(ctx, accountID, eventTime(event))
	return settle(event, accountID, err)
}
