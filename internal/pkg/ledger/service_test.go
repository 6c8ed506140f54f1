package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/LeadLedger/app/models"
	"github.com/ManuelReschke/LeadLedger/internal/pkg/entitlements"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) kinds() []NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []NotificationKind
	for _, n := range r.sent {
		out = append(out, n.Kind)
	}
	return out
}

type fixture struct {
	svc      *Service
	store    *MemoryStore
	clock    *testClock
	notifier *recordingNotifier
	starter  *models.Plan
	pro      *models.Plan
	ent      *models.Plan
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := NewMemoryStore()
	clock := &testClock{t: t0}
	notifier := &recordingNotifier{}
	f := &fixture{
		store:    store,
		clock:    clock,
		notifier: notifier,
		svc:      NewService(store, DefaultConfig(), WithClock(clock.Now), WithNotifier(notifier)),
	}
	f.starter = store.PutPlan(&models.Plan{Name: "Starter", Tier: models.PlanTierStarter, Credits: 100, MaxSeats: 1, HasStayActiveBonus: true})
	f.pro = store.PutPlan(&models.Plan{Name: "Professional", Tier: models.PlanTierProfessional, Credits: 200, MaxSeats: 3, HasStayActiveBonus: true, HasBonusCredits: true})
	f.ent = store.PutPlan(&models.Plan{Name: "Enterprise", Tier: models.PlanTierEnterprise, Credits: 500, MaxSeats: 10, HasStayActiveBonus: true, HasBonusCredits: true, HasBoostPack: true})
	return f
}

func (f *fixture) postedJob(cost int) *models.Job {
	posted := f.clock.Now()
	return f.store.PutJob(&models.Job{Title: "Kitchen remodel", CreditCost: cost, ReviewStatus: models.ReviewStatusPosted, PostedAt: &posted})
}

func (f *fixture) activeSubscriber(t *testing.T, accountID uint, plan *models.Plan, credits int) *models.Subscriber {
	t.Helper()
	sub, err := f.svc.ApplyRenewal(context.Background(), Renewal{AccountID: accountID, PlanID: &plan.ID, Credits: credits})
	require.NoError(t, err)
	return sub
}

func (f *fixture) get(t *testing.T, accountID uint) *models.Subscriber {
	t.Helper()
	sub, err := f.store.GetSubscriber(context.Background(), accountID)
	require.NoError(t, err)
	return sub
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.RestoreWindow = 0
	assert.Error(t, cfg.Validate())
}

func TestGrantTrial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.svc.GrantTrial(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 140, sub.CurrentCredits)
	assert.Equal(t, 140, sub.TrialCreditsGranted)
	assert.True(t, sub.TrialClaimed)
	assert.Equal(t, models.SubscriptionStatusTrial, sub.Status)
	require.NotNil(t, sub.TrialCreditsExpiresAt)
	assert.Equal(t, t0.Add(14*24*time.Hour), *sub.TrialCreditsExpiresAt)
	assert.Equal(t, []NotificationKind{NotifyTrialGranted}, f.notifier.kinds())
}

func TestGrantTrialIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.GrantTrial(ctx, 1)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	second, err := f.svc.GrantTrial(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, first, f.get(t, 1))
	assert.Len(t, f.notifier.kinds(), 1)

	entries, err := f.svc.Entries(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestGrantTrialSkipsPaidAccounts(t *testing.T) {
	f := newFixture(t)
	f.activeSubscriber(t, 1, f.starter, 0)

	sub, err := f.svc.GrantTrial(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, sub.TrialClaimed)
	assert.Equal(t, 100, sub.CurrentCredits)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
}

func TestTrialLifecycleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GrantTrial(ctx, 1)
	require.NoError(t, err)

	f.clock.Advance(15 * 24 * time.Hour)
	now := f.clock.Now()
	ids, err := f.store.ListExpiredTrials(ctx, now, 0, 500)
	require.NoError(t, err)
	assert.Equal(t, []uint{1}, ids)

	res, err := f.svc.ExpireTrials(ctx, now, ids)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	sub := f.get(t, 1)
	assert.Equal(t, 0, sub.CurrentCredits)
	assert.Equal(t, models.SubscriptionStatusTrialExpired, sub.Status)

	again, err := f.svc.GrantTrial(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, again.CurrentCredits)
}

func TestTrialNotExpiredBeforeDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.GrantTrial(ctx, 1)
	require.NoError(t, err)

	now := t0.Add(14*24*time.Hour - time.Second)
	ids, err := f.store.ListExpiredTrials(ctx, now, 0, 500)
	require.NoError(t, err)
	assert.Empty(t, ids)

	res, err := f.svc.ExpireTrials(ctx, now, []uint{1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 140, f.get(t, 1).CurrentCredits)
}

func TestMidTrialUpgradeScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GrantTrial(ctx, 1)
	require.NoError(t, err)
	job := f.postedJob(50)
	_, err = f.svc.UnlockJob(ctx, 1, job.ID)
	require.NoError(t, err)

	f.clock.Advance(5 * 24 * time.Hour)
	sub, err := f.svc.ApplyRenewal(ctx, Renewal{AccountID: 1, PlanID: &f.pro.ID})
	require.NoError(t, err)
	assert.Equal(t, 290, sub.CurrentCredits)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)

	f.clock.Advance(10 * 24 * time.Hour)
	now := f.clock.Now()
	ids, err := f.store.ListExpiredTrials(ctx, now, 0, 500)
	require.NoError(t, err)
	assert.Empty(t, ids)

	res, err := f.svc.ExpireTrials(ctx, now, []uint{1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 290, f.get(t, 1).CurrentCredits)
}

func TestRenewalRollsOver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activeSubscriber(t, 1, f.starter, 0)

	end := t0.Add(30 * 24 * time.Hour)
	sub, err := f.svc.ApplyRenewal(ctx, Renewal{AccountID: 1, Credits: 100, PeriodEnd: &end})
	require.NoError(t, err)
	assert.Equal(t, 200, sub.CurrentCredits)
	assert.Equal(t, end, *sub.SubscriptionRenewDate)
	assert.Equal(t, f.starter.ID, *sub.PlanID)
}

func TestRenewalRejectsNegativeCredits(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ApplyRenewal(context.Background(), Renewal{AccountID: 1, Credits: -5})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestRenewalUnknownPlan(t *testing.T) {
	f := newFixture(t)
	missing := uint(999)
	_, err := f.svc.ApplyRenewal(context.Background(), Renewal{AccountID: 1, PlanID: &missing})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.store.GetSubscriber(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRenewalSetsSeatsAndFirstTierAddOns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub := f.activeSubscriber(t, 1, f.ent, 0)
	assert.Equal(t, 10, sub.MaxSeats)
	assert.Equal(t, 30, sub.StayActivePool)
	assert.Equal(t, 50, sub.BonusPool)
	assert.Equal(t, 100, sub.BoostPoolCredits)
	assert.Equal(t, 1, sub.BoostPoolSeats)
	assert.NotNil(t, sub.FirstEnterpriseSubscriptionAt)

	again, err := f.svc.ApplyRenewal(ctx, Renewal{AccountID: 1})
	require.NoError(t, err)
	assert.Equal(t, 30, again.StayActivePool)
	assert.Equal(t, 1000, again.CurrentCredits)
}

func TestStarterOnlyGetsStayActive(t *testing.T) {
	f := newFixture(t)
	sub := f.activeSubscriber(t, 1, f.starter, 0)
	assert.Equal(t, 30, sub.StayActivePool)
	assert.Equal(t, 0, sub.BonusPool)
	assert.Equal(t, 0, sub.BoostPoolCredits)
}

func TestFreezeAndRestoreWithinWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activeSubscriber(t, 1, f.starter, 150)

	sub, err := f.svc.Freeze(ctx, 1, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 150, sub.FrozenCredits)
	assert.Equal(t, 0, sub.CurrentCredits)
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
	assert.False(t, sub.AutoRenew)
	assert.Nil(t, sub.PlanID)
	require.NotNil(t, sub.FrozenAt)

	f.clock.Advance(10 * 24 * time.Hour)
	sub, err = f.svc.ApplyRenewal(ctx, Renewal{AccountID: 1, PlanID: &f.starter.ID, Credits: 200})
	require.NoError(t, err)
	assert.Equal(t, 350, sub.CurrentCredits)
	assert.Equal(t, 0, sub.FrozenCredits)
	assert.Nil(t, sub.FrozenAt)
	assert.True(t, sub.AutoRenew)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)

	restored, err := f.svc.Restore(ctx, 1, "ops")
	require.NoError(t, err)
	assert.Equal(t, 350, restored.CurrentCredits)

	entries, err := f.svc.Entries(ctx, 1, 10)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(entries), 3)
	assert.Equal(t, models.LedgerKindReactivation, entries[0].Kind)
	assert.Equal(t, models.LedgerKindRestore, entries[1].Kind)
	assert.Equal(t, 150, entries[1].Delta)
	assert.Equal(t, models.LedgerKindFreeze, entries[2].Kind)

	assert.Contains(t, f.notifier.kinds(), NotifyFrozen)
	assert.Contains(t, f.notifier.kinds(), NotifyRestored)
}

func TestLapseAndLateReactivationScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutSubscriber(&models.Subscriber{AccountID: 1, CurrentCredits: 150, Status: models.SubscriptionStatusActive, PlanID: &f.starter.ID, SeatsUsed: 1, MaxSeats: 1})

	sub, err := f.svc.Freeze(ctx, 1, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 150, sub.FrozenCredits)
	assert.Equal(t, 0, sub.CurrentCredits)

	f.clock.Advance(35 * 24 * time.Hour)
	sub, err = f.svc.ApplyRenewal(ctx, Renewal{AccountID: 1, PlanID: &f.starter.ID, Credits: 200})
	require.NoError(t, err)
	assert.Equal(t, 200, sub.CurrentCredits)
	assert.Equal(t, 0, sub.FrozenCredits)
	assert.Nil(t, sub.FrozenAt)
	assert.Contains(t, f.notifier.kinds(), NotifyForfeited)

	sub, err = f.svc.ApplyRenewal(ctx, Renewal{AccountID: 1, Credits: 10})
	require.NoError(t, err)
	assert.Equal(t, 210, sub.CurrentCredits)
}

func TestFreezeIsNoOpWhenFrozenOrNotPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GrantTrial(ctx, 1)
	require.NoError(t, err)
	sub, err := f.svc.Freeze(ctx, 1, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 140, sub.CurrentCredits)
	assert.Nil(t, sub.FrozenAt)

	f.activeSubscriber(t, 2, f.starter, 40)
	first, err := f.svc.Freeze(ctx, 2, time.Time{})
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	second, err := f.svc.Freeze(ctx, 2, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = f.svc.Freeze(ctx, 99, time.Time{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPastDueDoesNotFreeze(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activeSubscriber(t, 1, f.starter, 0)

	sub, err := f.svc.MarkBillingStatus(ctx, 1, models.SubscriptionStatusPastDue, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPastDue, sub.Status)
	assert.Equal(t, 100, sub.CurrentCredits)
	assert.Nil(t, sub.FrozenAt)

	sub, err = f.svc.Freeze(ctx, 1, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 100, sub.FrozenCredits)
}

func TestFreezeOfEmptyBalanceSendsNoMail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutSubscriber(&models.Subscriber{AccountID: 1, Status: models.SubscriptionStatusActive, PlanID: &f.starter.ID, SeatsUsed: 1, MaxSeats: 1})

	sub, err := f.svc.Freeze(ctx, 1, time.Time{})
	require.NoError(t, err)
	require.NotNil(t, sub.FrozenAt)

	f.clock.Advance(24 * time.Hour)
	sub, err = f.svc.Restore(ctx, 1, "ops")
	require.NoError(t, err)
	assert.Nil(t, sub.FrozenAt)

	assert.NotContains(t, f.notifier.kinds(), NotifyFrozen)
	assert.NotContains(t, f.notifier.kinds(), NotifyRestored)

	entries, err := f.svc.Entries(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.LedgerKindRestore, entries[0].Kind)
	assert.Equal(t, models.LedgerKindFreeze, entries[1].Kind)
}

func TestProviderEventsAppliedInCreationOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := func(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

	_, err := f.svc.ApplyRenewal(ctx, Renewal{AccountID: 1, PlanID: &f.pro.ID, EventAt: at(3000)})
	require.NoError(t, err)

	_, err = f.svc.MarkBillingStatus(ctx, 1, models.SubscriptionStatusPastDue, at(2000))
	assert.ErrorIs(t, err, ErrStaleEvent)
	_, err = f.svc.SetAutoRenew(ctx, 1, false, at(2500))
	assert.ErrorIs(t, err, ErrStaleEvent)
	_, err = f.svc.Freeze(ctx, 1, at(2999))
	assert.ErrorIs(t, err, ErrStaleEvent)

	sub := f.get(t, 1)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.True(t, sub.AutoRenew)
	assert.Equal(t, 200, sub.CurrentCredits)
	assert.Equal(t, at(3000), *sub.BillingEventAt)

	sub, err = f.svc.SetAutoRenew(ctx, 1, false, at(4000))
	require.NoError(t, err)
	assert.False(t, sub.AutoRenew)

	sub, err = f.svc.Freeze(ctx, 1, at(5000))
	require.NoError(t, err)
	assert.Equal(t, 200, sub.FrozenCredits)

	_, err = f.svc.ApplyRenewal(ctx, Renewal{AccountID: 1, PlanID: &f.pro.ID, EventAt: at(4500)})
	assert.ErrorIs(t, err, ErrStaleEvent)
	sub = f.get(t, 1)
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
	assert.Equal(t, 0, sub.CurrentCredits)

	// untimed calls come from people, not the provider, and always apply
	sub, err = f.svc.SetAutoRenew(ctx, 1, true, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, at(5000), *sub.BillingEventAt)
}

func TestRenewalForPeriodEndedBeforeFreezeIsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activeSubscriber(t, 1, f.starter, 150)

	_, err := f.svc.Freeze(ctx, 1, time.Time{})
	require.NoError(t, err)

	end := f.clock.Now().Add(-time.Hour)
	_, err = f.svc.ApplyRenewal(ctx, Renewal{AccountID: 1, PlanID: &f.starter.ID, PeriodEnd: &end})
	assert.ErrorIs(t, err, ErrStaleEvent)

	sub := f.get(t, 1)
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
	assert.Equal(t, 150, sub.FrozenCredits)
}

func TestMarkBillingStatusLeavesTrialAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.GrantTrial(ctx, 1)
	require.NoError(t, err)

	sub, err := f.svc.MarkBillingStatus(ctx, 1, models.SubscriptionStatusIncomplete, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusTrial, sub.Status)

	_, err = f.svc.MarkBillingStatus(ctx, 1, models.SubscriptionStatusActive, time.Time{})
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestScheduleCancelAndToggleAutoRenew(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GrantTrial(ctx, 1)
	require.NoError(t, err)
	_, err = f.svc.ScheduleCancel(ctx, 1)
	assert.ErrorIs(t, err, ErrNoActiveSubscription)
	_, err = f.svc.ToggleAutoRenew(ctx, 1)
	assert.ErrorIs(t, err, ErrNoActiveSubscription)

	f.activeSubscriber(t, 2, f.pro, 0)
	sub, err := f.svc.ScheduleCancel(ctx, 2)
	require.NoError(t, err)
	assert.False(t, sub.AutoRenew)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, 200, sub.CurrentCredits)
	assert.Nil(t, sub.FrozenAt)

	sub, err = f.svc.ToggleAutoRenew(ctx, 2)
	require.NoError(t, err)
	assert.True(t, sub.AutoRenew)
	assert.False(t, sub.CancelAtPeriodEnd)

	sub, err = f.svc.SetAutoRenew(ctx, 2, true, time.Time{})
	require.NoError(t, err)
	assert.True(t, sub.AutoRenew)
}

func TestAddOnTierGating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activeSubscriber(t, 1, f.pro, 0)

	_, err := f.svc.GrantAddOn(ctx, AddOnGrant{AccountID: 1, Type: entitlements.AddOnBoost, Amount: 100, Seats: 1})
	require.NoError(t, err)

	_, err = f.svc.RedeemAddOn(ctx, 1, entitlements.AddOnBoost)
	assert.ErrorIs(t, err, ErrTierMismatch)
	sub := f.get(t, 1)
	assert.Equal(t, 100, sub.BoostPoolCredits)
	assert.Equal(t, 1, sub.BoostPoolSeats)
	assert.Equal(t, 200, sub.CurrentCredits)

	red, err := f.svc.RedeemAddOn(ctx, 1, entitlements.AddOnBonus)
	require.NoError(t, err)
	assert.Equal(t, 50, red.Credits)
	assert.Equal(t, 250, red.Balance)

	_, err = f.svc.RedeemAddOn(ctx, 1, entitlements.AddOnBonus)
	assert.ErrorIs(t, err, ErrEmptyPool)
	assert.NotNil(t, f.get(t, 1).LastBonusRedemption)
}

func TestAddOnPreservedUntilUpgrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activeSubscriber(t, 1, f.pro, 0)
	_, err := f.svc.GrantAddOn(ctx, AddOnGrant{AccountID: 1, Type: entitlements.AddOnBoost, Amount: 40, Seats: 2})
	require.NoError(t, err)

	_, err = f.svc.ApplyRenewal(ctx, Renewal{AccountID: 1, PlanID: &f.ent.ID})
	require.NoError(t, err)

	red, err := f.svc.RedeemAddOn(ctx, 1, entitlements.AddOnBoost)
	require.NoError(t, err)
	assert.Equal(t, 140, red.Credits)
	assert.Equal(t, 3, red.Seats)

	sub := f.get(t, 1)
	assert.Equal(t, 0, sub.BoostPoolCredits)
	assert.Equal(t, 0, sub.BoostPoolSeats)
	assert.Equal(t, 10, sub.MaxSeats)
}

func TestRedeemWithoutPlanIsTierMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.GrantTrial(ctx, 1)
	require.NoError(t, err)
	_, err = f.svc.GrantAddOn(ctx, AddOnGrant{AccountID: 1, Type: entitlements.AddOnStayActive, Amount: 30})
	require.NoError(t, err)

	_, err = f.svc.RedeemAddOn(ctx, 1, entitlements.AddOnStayActive)
	assert.ErrorIs(t, err, ErrTierMismatch)
	assert.Equal(t, 30, f.get(t, 1).StayActivePool)
}

func TestGrantAddOnValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GrantAddOn(ctx, AddOnGrant{AccountID: 1, Type: entitlements.AddOnBonus, Amount: 0})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.svc.GrantAddOn(ctx, AddOnGrant{AccountID: 1, Type: entitlements.AddOnBonus, Amount: 5, Seats: 1})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.svc.GrantAddOn(ctx, AddOnGrant{AccountID: 1, Type: entitlements.AddOnBonus, Amount: 5})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnlockJobIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activeSubscriber(t, 1, f.starter, 0)
	job := f.postedJob(5)

	first, err := f.svc.UnlockJob(ctx, 1, job.ID)
	require.NoError(t, err)
	assert.False(t, first.AlreadyUnlocked)
	assert.Equal(t, 95, first.Balance)

	second, err := f.svc.UnlockJob(ctx, 1, job.ID)
	require.NoError(t, err)
	assert.True(t, second.AlreadyUnlocked)
	assert.Equal(t, first.Record.ID, second.Record.ID)

	sub := f.get(t, 1)
	assert.Equal(t, 95, sub.CurrentCredits)
	assert.Equal(t, 5, sub.TotalSpent)
	assert.Equal(t, 1, f.store.UnlockCount(1))
}

func TestUnlockSurvivesJobCleanup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activeSubscriber(t, 1, f.starter, 0)
	job := f.postedJob(5)
	_, err := f.svc.UnlockJob(ctx, 1, job.ID)
	require.NoError(t, err)

	res, err := f.svc.PurgeJobs(ctx, t0.Add(8*24*time.Hour), []uint{job.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.False(t, f.store.HasJob(job.ID))

	again, err := f.svc.UnlockJob(ctx, 1, job.ID)
	require.NoError(t, err)
	assert.True(t, again.AlreadyUnlocked)
	assert.JSONEq(t, string(job.Snapshot()), string(again.Record.JobSnapshot))
}

func TestInsufficientBalanceScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutSubscriber(&models.Subscriber{AccountID: 1, CurrentCredits: 3, Status: models.SubscriptionStatusActive, SeatsUsed: 1, MaxSeats: 1})
	job := f.postedJob(5)

	_, err := f.svc.UnlockJob(ctx, 1, job.ID)
	assert.ErrorIs(t, err, ErrInsufficientCredits)
	assert.Equal(t, 3, f.get(t, 1).CurrentCredits)
	assert.Equal(t, 0, f.store.UnlockCount(1))
}

func TestUnlockPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activeSubscriber(t, 1, f.starter, 0)

	_, err := f.svc.UnlockJob(ctx, 1, 12345)
	assert.ErrorIs(t, err, ErrNotFound)

	pending := f.store.PutJob(&models.Job{Title: "Pending", CreditCost: 1, ReviewStatus: models.ReviewStatusPending})
	_, err = f.svc.UnlockJob(ctx, 1, pending.ID)
	assert.ErrorIs(t, err, ErrJobUnavailable)

	_, err = f.svc.UnlockJob(ctx, 42, f.postedJob(1).ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 100, f.get(t, 1).CurrentCredits)
}

func TestConcurrentUnlocksDebitOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activeSubscriber(t, 1, f.starter, 0)
	job := f.postedJob(7)

	var wg sync.WaitGroup
	ids := make(chan uint, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := f.svc.UnlockJob(ctx, 1, job.ID)
			if assert.NoError(t, err) {
				ids <- u.Record.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[uint]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1)
	assert.Equal(t, 93, f.get(t, 1).CurrentCredits)
}

func TestConcurrentRenewalsAccumulate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activeSubscriber(t, 1, f.starter, 0)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ApplyRenewal(ctx, Renewal{AccountID: 1, Credits: 10})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 200, f.get(t, 1).CurrentCredits)
}

func TestAdjustCredits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activeSubscriber(t, 1, f.starter, 0)

	_, err := f.svc.AdjustCredits(ctx, Adjustment{AccountID: 1, Delta: -101, Reason: "chargeback", Actor: "ops"})
	assert.ErrorIs(t, err, ErrInvalidAdjustment)
	_, err = f.svc.AdjustCredits(ctx, Adjustment{AccountID: 1, Delta: 5, Reason: " ", Actor: "ops"})
	assert.ErrorIs(t, err, ErrInvalidAdjustment)
	_, err = f.svc.AdjustCredits(ctx, Adjustment{AccountID: 1, Delta: 0, Reason: "noop", Actor: "ops"})
	assert.ErrorIs(t, err, ErrInvalidAdjustment)

	sub, err := f.svc.AdjustCredits(ctx, Adjustment{AccountID: 1, Delta: -100, Reason: "chargeback", Actor: "ops"})
	require.NoError(t, err)
	assert.Equal(t, 0, sub.CurrentCredits)

	entries, err := f.svc.Entries(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.LedgerKindAdjustment, entries[0].Kind)
	assert.Equal(t, -100, entries[0].Delta)
	assert.Equal(t, "chargeback", entries[0].Reason)
	assert.Equal(t, "ops", entries[0].Actor)
}

func TestExpireTrialsIsolatesBadRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []uint{1, 2, 3} {
		_, err := f.svc.GrantTrial(ctx, id)
		require.NoError(t, err)
	}
	bad := f.get(t, 2)
	bad.BonusPool = -1
	f.store.PutSubscriber(bad)

	now := t0.Add(15 * 24 * time.Hour)
	res, err := f.svc.ExpireTrials(ctx, now, []uint{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, uint(2), res.Failures[0].ID)
	assert.ErrorIs(t, res.Failures[0].Err, ErrInvariant)

	assert.Equal(t, models.SubscriptionStatusTrialExpired, f.get(t, 1).Status)
	assert.Equal(t, models.SubscriptionStatusTrial, f.get(t, 2).Status)
	assert.Equal(t, 140, f.get(t, 2).CurrentCredits)
	assert.Equal(t, models.SubscriptionStatusTrialExpired, f.get(t, 3).Status)
}

func TestJobRetentionScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.postedJob(1)
	pending := f.store.PutJob(&models.Job{Title: "p", CreditCost: 1, ReviewStatus: models.ReviewStatusPending})
	declined := f.store.PutJob(&models.Job{Title: "d", CreditCost: 1, ReviewStatus: models.ReviewStatusDeclined, PostedAt: &t0})
	undated := f.store.PutJob(&models.Job{Title: "u", CreditCost: 1, ReviewStatus: models.ReviewStatusPosted})
	retention := 7 * 24 * time.Hour

	early := t0.Add(6*24*time.Hour + 23*time.Hour)
	ids, err := f.store.ListStaleJobs(ctx, early.Add(-retention), 0, 500)
	require.NoError(t, err)
	assert.Empty(t, ids)

	late := t0.Add(7*24*time.Hour + time.Hour)
	ids, err = f.store.ListStaleJobs(ctx, late.Add(-retention), 0, 500)
	require.NoError(t, err)
	assert.Equal(t, []uint{job.ID}, ids)

	res, err := f.svc.PurgeJobs(ctx, late.Add(-retention), []uint{job.ID, pending.ID, declined.ID, undated.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 3, res.Skipped)
	assert.False(t, f.store.HasJob(job.ID))
	assert.True(t, f.store.HasJob(pending.ID))
	assert.True(t, f.store.HasJob(declined.ID))
	assert.True(t, f.store.HasJob(undated.ID))
}

func TestWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activeSubscriber(t, 1, f.pro, 0)

	w, err := f.svc.Wallet(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 200, w.CurrentCredits)
	assert.Equal(t, "Professional", w.PlanName)
	assert.Equal(t, models.PlanTierProfessional, w.PlanTier)
	assert.Equal(t, 50, w.BonusPool)

	_, err = f.svc.Wallet(ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLinkBilling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.svc.LinkBilling(ctx, 1, "cus_1", "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", sub.BillingCustomerRef)
	assert.Equal(t, "sub_1", sub.BillingSubscriptionRef)
	assert.Equal(t, models.SubscriptionStatusInactive, sub.Status)

	_, err = f.svc.LinkBilling(ctx, 1, "cus_1", "")
	require.NoError(t, err)
	entries, err := f.svc.Entries(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCanceledContextAborts(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.GrantTrial(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
