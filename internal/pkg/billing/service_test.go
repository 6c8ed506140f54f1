package billing

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/LeadLedger/app/models"
	"github.com/ManuelReschke/LeadLedger/internal/pkg/ledger"
)

const testSecret = "whsec_test"

type fixture struct {
	svc    *Service
	ledger *ledger.Service
	db     *gorm.DB
	plan   *models.Plan
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "billing.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Plan{},
		&models.Subscriber{},
		&models.Job{},
		&models.UnlockRecord{},
		&models.LedgerEntry{},
		&models.BillingWebhookEvent{},
	))

	plan := &models.Plan{Name: "Professional", Tier: models.PlanTierProfessional, Credits: 200, MaxSeats: 3, StripePriceID: "price_pro", HasStayActiveBonus: true, HasBonusCredits: true, IsActive: true}
	require.NoError(t, db.Create(plan).Error)

	l := ledger.NewService(ledger.NewGormStore(db), ledger.DefaultConfig())
	cfg := Config{WebhookSecret: testSecret, SignatureTolerance: 5 * time.Minute}
	return &fixture{svc: NewServiceFromDB(db, l, cfg), ledger: l, db: db, plan: plan}
}

func signed(payload string) ([]byte, string) {
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: []byte(payload),
		Secret:  testSecret,
	})
	return sp.Payload, sp.Header
}

func (f *fixture) deliver(t *testing.T, payload string) (*WebhookResult, error) {
	t.Helper()
	body, header := signed(payload)
	return f.svc.HandleStripeWebhook(context.Background(), body, header)
}

func eventJSON(id, typ, object string) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"data":{"object":%s}}`, id, typ, object)
}

// eventAt is eventJSON with Stripe's creation timestamp set.
func eventAt(id, typ string, created int64, object string) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"created":%d,"data":{"object":%s}}`, id, typ, created, object)
}

func checkoutJSON(accountID uint, customer, sub string) string {
	return fmt.Sprintf(`{"id":"cs_1","object":"checkout.session","client_reference_id":"%d","customer":%q,"subscription":%q,"mode":"subscription"}`, accountID, customer, sub)
}

func invoiceJSON(customer, sub, price string) string {
	return fmt.Sprintf(`{
		"id":"in_1","object":"invoice","customer":%q,
		"parent":{"subscription_details":{"subscription":%q,"metadata":{}}},
		"lines":{"data":[{"period":{"start":1767225600,"end":1769904000},"pricing":{"price_details":{"price":%q}}}]}
	}`, customer, sub, price)
}

func invoiceForPeriod(id, customer, sub, price string, start, end time.Time) string {
	return fmt.Sprintf(`{
		"id":%q,"object":"invoice","customer":%q,
		"parent":{"subscription_details":{"subscription":%q,"metadata":{}}},
		"lines":{"data":[{"period":{"start":%d,"end":%d},"pricing":{"price_details":{"price":%q}}}]}
	}`, id, customer, sub, start.Unix(), end.Unix(), price)
}

func subscriptionJSON(id, customer, status string, cancelAtPeriodEnd bool) string {
	return fmt.Sprintf(`{"id":%q,"object":"subscription","customer":%q,"status":%q,"cancel_at_period_end":%t,"metadata":{}}`, id, customer, status, cancelAtPeriodEnd)
}

func (f *fixture) subscriber(t *testing.T, accountID uint) *models.Subscriber {
	t.Helper()
	sub, err := f.ledger.Store().GetSubscriber(context.Background(), accountID)
	require.NoError(t, err)
	return sub
}

func (f *fixture) subscribe(t *testing.T, accountID uint) {
	t.Helper()
	_, err := f.deliver(t, eventJSON("evt_checkout", "checkout.session.completed", checkoutJSON(accountID, "cus_1", "sub_1")))
	require.NoError(t, err)
	_, err = f.deliver(t, eventJSON("evt_paid", "invoice.paid", invoiceJSON("cus_1", "sub_1", "price_pro")))
	require.NoError(t, err)
}

func TestCheckoutThenInvoicePaidRenews(t *testing.T) {
	f := newFixture(t)

	res, err := f.deliver(t, eventJSON("evt_checkout", "checkout.session.completed", checkoutJSON(7, "cus_1", "sub_1")))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Equal(t, uint(7), res.AccountID)

	sub := f.subscriber(t, 7)
	assert.Equal(t, "cus_1", sub.BillingCustomerRef)
	assert.Equal(t, "sub_1", sub.BillingSubscriptionRef)
	assert.Equal(t, 0, sub.CurrentCredits)

	res, err = f.deliver(t, eventJSON("evt_paid", "invoice.paid", invoiceJSON("cus_1", "sub_1", "price_pro")))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)

	sub = f.subscriber(t, 7)
	assert.Equal(t, 200, sub.CurrentCredits)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.PlanID)
	assert.Equal(t, f.plan.ID, *sub.PlanID)
	require.NotNil(t, sub.SubscriptionRenewDate)
	assert.Equal(t, time.Unix(1769904000, 0).UTC(), sub.SubscriptionRenewDate.UTC())
}

func TestDuplicateEventIsForwardedOnce(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, 7)

	res, err := f.deliver(t, eventJSON("evt_paid", "invoice.paid", invoiceJSON("cus_1", "sub_1", "price_pro")))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Equal(t, 200, f.subscriber(t, 7).CurrentCredits)

	var count int64
	require.NoError(t, f.db.Model(&models.BillingWebhookEvent{}).Where("provider_event_id = ?", "evt_paid").Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestInvalidSignatureIsRejected(t *testing.T) {
	f := newFixture(t)
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: []byte(eventJSON("evt_forged", "invoice.paid", invoiceJSON("cus_1", "sub_1", "price_pro"))),
		Secret:  "whsec_other",
	})

	_, err := f.svc.HandleStripeWebhook(context.Background(), sp.Payload, sp.Header)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	var count int64
	require.NoError(t, f.db.Model(&models.BillingWebhookEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestFailedDeliveryIsRetried(t *testing.T) {
	f := newFixture(t)
	paid := eventJSON("evt_early", "invoice.paid", invoiceJSON("cus_9", "sub_9", "price_pro"))

	res, err := f.deliver(t, paid)
	assert.ErrorIs(t, err, ErrUnresolvedAccount)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	var stored models.BillingWebhookEvent
	require.NoError(t, f.db.Where("provider_event_id = ?", "evt_early").First(&stored).Error)
	assert.NotEmpty(t, stored.ProcessingError)
	assert.False(t, stored.Handled())

	_, err = f.deliver(t, eventJSON("evt_checkout", "checkout.session.completed", checkoutJSON(9, "cus_9", "sub_9")))
	require.NoError(t, err)

	res, err = f.deliver(t, paid)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Equal(t, 2, res.Attempt)
	assert.Equal(t, 200, f.subscriber(t, 9).CurrentCredits)

	require.NoError(t, f.db.Where("provider_event_id = ?", "evt_early").First(&stored).Error)
	assert.True(t, stored.Handled())
	assert.Equal(t, 2, stored.Attempts)
	require.NotNil(t, stored.AccountID)
	assert.Equal(t, uint(9), *stored.AccountID)

	res, err = f.deliver(t, paid)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Equal(t, 200, f.subscriber(t, 9).CurrentCredits)
}

func TestPaymentFailedMarksPastDueWithoutFreezing(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, 7)

	_, err := f.deliver(t, eventJSON("evt_failed", "invoice.payment_failed", invoiceJSON("cus_1", "sub_1", "price_pro")))
	require.NoError(t, err)

	sub := f.subscriber(t, 7)
	assert.Equal(t, models.SubscriptionStatusPastDue, sub.Status)
	assert.Equal(t, 200, sub.CurrentCredits)
	assert.Zero(t, sub.FrozenCredits)
}

func TestSubscriptionDeletedFreezes(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, 7)

	_, err := f.deliver(t, eventJSON("evt_deleted", "customer.subscription.deleted", subscriptionJSON("sub_1", "cus_1", "canceled", false)))
	require.NoError(t, err)

	sub := f.subscriber(t, 7)
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
	assert.Equal(t, 0, sub.CurrentCredits)
	assert.Equal(t, 200, sub.FrozenCredits)
	assert.NotNil(t, sub.FrozenAt)
	assert.False(t, sub.AutoRenew)
}

func TestSubscriptionUpdatedMirrorsCancelAtPeriodEnd(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, 7)

	_, err := f.deliver(t, eventJSON("evt_upd_1", "customer.subscription.updated", subscriptionJSON("sub_1", "cus_1", "active", true)))
	require.NoError(t, err)
	sub := f.subscriber(t, 7)
	assert.False(t, sub.AutoRenew)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, 200, sub.CurrentCredits)

	_, err = f.deliver(t, eventJSON("evt_upd_2", "customer.subscription.updated", subscriptionJSON("sub_1", "cus_1", "past_due", false)))
	require.NoError(t, err)
	sub = f.subscriber(t, 7)
	assert.Equal(t, models.SubscriptionStatusPastDue, sub.Status)
	assert.True(t, sub.AutoRenew)
}

func TestUnusedEventsAreIgnored(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, 7)

	res, err := f.deliver(t, eventJSON("evt_succ", "invoice.payment_succeeded", invoiceJSON("cus_1", "sub_1", "price_pro")))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)

	res, err = f.deliver(t, eventJSON("evt_cust", "customer.created", `{"id":"cus_2","object":"customer"}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)

	assert.Equal(t, 200, f.subscriber(t, 7).CurrentCredits)
}

func TestInvoiceWithUnknownPriceFails(t *testing.T) {
	f := newFixture(t)
	_, err := f.deliver(t, eventJSON("evt_checkout", "checkout.session.completed", checkoutJSON(7, "cus_1", "sub_1")))
	require.NoError(t, err)

	_, err = f.deliver(t, eventJSON("evt_paid", "invoice.paid", invoiceJSON("cus_1", "sub_1", "price_gone")))
	assert.ErrorIs(t, err, ErrUnknownPrice)
	assert.Equal(t, 0, f.subscriber(t, 7).CurrentCredits)
}

func TestRecordWebhookEventHashesMissingID(t *testing.T) {
	f := newFixture(t)
	created, ev, err := f.svc.RecordWebhookEvent(context.Background(), WebhookEventInput{
		Provider:    "Stripe",
		EventType:   "ping",
		PayloadJSON: `{"ping":true}`,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.BillingProviderStripe, ev.Provider)
	assert.Contains(t, ev.ProviderEventID, "hash:")

	created, _, err = f.svc.RecordWebhookEvent(context.Background(), WebhookEventInput{
		Provider:    "stripe",
		EventType:   "ping",
		PayloadJSON: `{"ping":true}`,
	})
	require.NoError(t, err)
	assert.False(t, created)
}

func TestOlderPaymentFailureDoesNotUndoPayment(t *testing.T) {
	f := newFixture(t)
	_, err := f.deliver(t, eventJSON("evt_checkout", "checkout.session.completed", checkoutJSON(7, "cus_1", "sub_1")))
	require.NoError(t, err)
	_, err = f.deliver(t, eventAt("evt_paid", "invoice.paid", 3000, invoiceJSON("cus_1", "sub_1", "price_pro")))
	require.NoError(t, err)

	res, err := f.deliver(t, eventAt("evt_failed_old", "invoice.payment_failed", 2000, invoiceJSON("cus_1", "sub_1", "price_pro")))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)

	sub := f.subscriber(t, 7)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, 200, sub.CurrentCredits)

	res, err = f.deliver(t, eventAt("evt_failed_new", "invoice.payment_failed", 4000, invoiceJSON("cus_1", "sub_1", "price_pro")))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Equal(t, models.SubscriptionStatusPastDue, f.subscriber(t, 7).Status)
}

func TestLateInvoicePaidGrantsCreditsWithoutClearingNewerFailure(t *testing.T) {
	f := newFixture(t)
	_, err := f.deliver(t, eventJSON("evt_checkout", "checkout.session.completed", checkoutJSON(7, "cus_1", "sub_1")))
	require.NoError(t, err)
	_, err = f.deliver(t, eventAt("evt_paid_a", "invoice.paid", 3000, invoiceJSON("cus_1", "sub_1", "price_pro")))
	require.NoError(t, err)
	_, err = f.deliver(t, eventAt("evt_failed", "invoice.payment_failed", 4000, invoiceJSON("cus_1", "sub_1", "price_pro")))
	require.NoError(t, err)

	res, err := f.deliver(t, eventAt("evt_paid_b", "invoice.paid", 3500, invoiceJSON("cus_1", "sub_1", "price_pro")))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)

	sub := f.subscriber(t, 7)
	assert.Equal(t, 400, sub.CurrentCredits)
	assert.Equal(t, models.SubscriptionStatusPastDue, sub.Status)
}

func TestOlderSubscriptionUpdateDoesNotRestoreAutoRenew(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, 7)

	_, err := f.deliver(t, eventAt("evt_upd_new", "customer.subscription.updated", 5000, subscriptionJSON("sub_1", "cus_1", "active", true)))
	require.NoError(t, err)

	res, err := f.deliver(t, eventAt("evt_upd_old", "customer.subscription.updated", 4000, subscriptionJSON("sub_1", "cus_1", "active", false)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)

	sub := f.subscriber(t, 7)
	assert.False(t, sub.AutoRenew)
	assert.True(t, sub.CancelAtPeriodEnd)

	var ev models.BillingWebhookEvent
	require.NoError(t, f.db.Where("provider_event_id = ?", "evt_upd_old").First(&ev).Error)
	assert.NotNil(t, ev.ProcessedAt)
	assert.Empty(t, ev.ProcessingError)
}

func TestLateInvoicePaidDoesNotReviveDeletedSubscription(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, 7)

	_, err := f.deliver(t, eventAt("evt_deleted", "customer.subscription.deleted", 9000, subscriptionJSON("sub_1", "cus_1", "canceled", false)))
	require.NoError(t, err)

	res, err := f.deliver(t, eventAt("evt_paid_late", "invoice.paid", 8000, invoiceJSON("cus_1", "sub_1", "price_pro")))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)

	sub := f.subscriber(t, 7)
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
	assert.Equal(t, 0, sub.CurrentCredits)
	assert.Equal(t, 200, sub.FrozenCredits)
	assert.NotNil(t, sub.FrozenAt)
	assert.False(t, sub.AutoRenew)
}

func TestInvoicePaidForPeriodEndedBeforeFreezeIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, 7)
	_, err := f.deliver(t, eventJSON("evt_deleted", "customer.subscription.deleted", subscriptionJSON("sub_1", "cus_1", "canceled", false)))
	require.NoError(t, err)

	frozenAt := *f.subscriber(t, 7).FrozenAt
	old := invoiceForPeriod("in_old", "cus_1", "sub_1", "price_pro", frozenAt.Add(-60*24*time.Hour), frozenAt.Add(-time.Hour))
	res, err := f.deliver(t, eventJSON("evt_paid_old", "invoice.paid", old))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Equal(t, models.SubscriptionStatusCanceled, f.subscriber(t, 7).Status)

	fresh := invoiceForPeriod("in_new", "cus_1", "sub_2", "price_pro", frozenAt, frozenAt.Add(30*24*time.Hour))
	res, err = f.deliver(t, eventJSON("evt_paid_new", "invoice.paid", fresh))
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)

	sub := f.subscriber(t, 7)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, 400, sub.CurrentCredits)
	assert.True(t, sub.AutoRenew)
	assert.Equal(t, "sub_2", sub.BillingSubscriptionRef)
}
