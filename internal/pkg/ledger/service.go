package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"

	"github.com/ManuelReschke/LeadLedger/app/models"
	"github.com/ManuelReschke/LeadLedger/internal/pkg/metrics"
)

// Service owns every Subscriber mutation. Each exported operation locks exactly
// one account row, mutates it, checks the invariants and journals the change in
// the same transaction; logs, metrics and notifications follow the commit.
type Service struct {
	store    Store
	cfg      Config
	now      func() time.Time
	notifier Notifier
}

type Option func(*Service)

// WithNotifier sets the collaborator that receives post-commit notifications.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, cfg Config, opts ...Option) *Service {
	s := &Service{
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the constants the service was built with.
func (s *Service) Config() Config {
	return s.cfg
}

// Store exposes the underlying store to the sweepers.
func (s *Service) Store() Store {
	return s.store
}

// Now returns the service clock in UTC.
func (s *Service) Now() time.Time {
	return s.now().UTC()
}

// mutation collects what one operation did to one Subscriber.
type mutation struct {
	kind    models.LedgerEntryKind
	reason  string
	actor   string
	meta    map[string]interface{}
	now     time.Time
	skip    bool
	mark    *models.Subscriber
	entries []models.LedgerEntry
	notices []Notification
}

func newMutation(kind models.LedgerEntryKind, now time.Time, sub *models.Subscriber) *mutation {
	return &mutation{
		kind: kind,
		now:  now,
		meta: map[string]interface{}{},
		mark: sub.Clone(),
	}
}

func (m *mutation) notify(n Notification) {
	m.notices = append(m.notices, n)
}

// checkpoint journals everything since the previous checkpoint as one entry.
func (m *mutation) checkpoint(kind models.LedgerEntryKind, sub *models.Subscriber, meta map[string]interface{}) {
	entry := models.LedgerEntry{
		AccountID:     sub.AccountID,
		Kind:          kind,
		Delta:         sub.CurrentCredits - m.mark.CurrentCredits,
		CreditsBefore: m.mark.CurrentCredits,
		CreditsAfter:  sub.CurrentCredits,
		FrozenBefore:  m.mark.FrozenCredits,
		FrozenAfter:   sub.FrozenCredits,
		StatusBefore:  m.mark.Status,
		StatusAfter:   sub.Status,
		Reason:        m.reason,
		Actor:         m.actor,
		CreatedAt:     m.now,
	}
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			entry.Metadata = datatypes.JSON(b)
		}
	}
	m.entries = append(m.entries, entry)
	m.mark = sub.Clone()
}

func (m *mutation) changed(sub *models.Subscriber) bool {
	a, b := m.mark.Clone(), sub.Clone()
	a.UpdatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	return !reflect.DeepEqual(a, b)
}

type mutateFunc func(tx Tx, sub *models.Subscriber, m *mutation) error

// apply is the single write path for Subscriber rows.
func (s *Service) apply(ctx context.Context, accountID uint, ensure bool, kind models.LedgerEntryKind, fn mutateFunc) (*models.Subscriber, *mutation, error) {
	var (
		out *models.Subscriber
		m   *mutation
	)
	err := s.store.Atomic(ctx, func(tx Tx) error {
		var (
			sub *models.Subscriber
			err error
		)
		if ensure {
			sub, err = tx.EnsureSubscriber(accountID)
		} else {
			sub, err = tx.LockSubscriber(accountID)
		}
		if err != nil {
			return err
		}
		m = newMutation(kind, s.Now(), sub)
		if err := s.mutate(tx, sub, m, fn); err != nil {
			return err
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	s.record(ctx, m)
	return out, m, nil
}

// mutate runs fn against a locked row and persists the result with its journal.
func (s *Service) mutate(tx Tx, sub *models.Subscriber, m *mutation, fn mutateFunc) error {
	if err := fn(tx, sub, m); err != nil {
		return err
	}
	if m.skip {
		return nil
	}
	if len(m.entries) == 0 || m.changed(sub) {
		m.checkpoint(m.kind, sub, m.meta)
	}
	if err := checkInvariants(sub); err != nil {
		return err
	}
	if err := tx.SaveSubscriber(sub); err != nil {
		return err
	}
	for i := range m.entries {
		if err := tx.AppendEntry(&m.entries[i]); err != nil {
			return err
		}
	}
	return nil
}

func checkInvariants(sub *models.Subscriber) error {
	switch {
	case sub.CurrentCredits < 0:
		return fmt.Errorf("%w: account %d current_credits=%d", ErrInvariant, sub.AccountID, sub.CurrentCredits)
	case sub.FrozenCredits < 0:
		return fmt.Errorf("%w: account %d frozen_credits=%d", ErrInvariant, sub.AccountID, sub.FrozenCredits)
	case sub.FrozenAt == nil && sub.FrozenCredits > 0:
		return fmt.Errorf("%w: account %d frozen credits without frozen_at", ErrInvariant, sub.AccountID)
	case sub.SeatsUsed > sub.MaxSeats:
		return fmt.Errorf("%w: account %d seats_used=%d > max_seats=%d", ErrInvariant, sub.AccountID, sub.SeatsUsed, sub.MaxSeats)
	case !sub.Status.Valid():
		return fmt.Errorf("%w: account %d status %q", ErrInvariant, sub.AccountID, sub.Status)
	case sub.StayActivePool < 0 || sub.BonusPool < 0 || sub.BoostPoolCredits < 0 || sub.BoostPoolSeats < 0:
		return fmt.Errorf("%w: account %d negative add-on pool", ErrInvariant, sub.AccountID)
	}
	return nil
}

// record runs the post-commit side effects. Nothing here can fail the operation.
func (s *Service) record(ctx context.Context, m *mutation) {
	if m == nil || m.skip {
		return
	}
	for _, e := range m.entries {
		log.Infow("[Ledger] mutation",
			"account_id", e.AccountID,
			"kind", e.Kind,
			"credits_before", e.CreditsBefore,
			"credits_after", e.CreditsAfter,
			"frozen_before", e.FrozenBefore,
			"frozen_after", e.FrozenAfter,
			"status_before", e.StatusBefore,
			"status_after", e.StatusAfter,
			"actor", e.Actor,
		)
		metrics.LedgerMutationsTotal.WithLabelValues(string(e.Kind)).Inc()
		switch {
		case e.Delta > 0:
			metrics.LedgerCreditsTotal.WithLabelValues(string(e.Kind), "in").Add(float64(e.Delta))
		case e.Delta < 0:
			metrics.LedgerCreditsTotal.WithLabelValues(string(e.Kind), "out").Add(float64(-e.Delta))
		}
	}
	if s.notifier == nil {
		return
	}
	for _, n := range m.notices {
		if err := s.notifier.Notify(ctx, n); err != nil {
			log.Errorf("[Ledger] Failed to enqueue %s notification for account %d: %v", n.Kind, n.AccountID, err)
		}
	}
}

// Entries returns the newest journal rows of an account.
func (s *Service) Entries(ctx context.Context, accountID uint, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.ListEntries(ctx, accountID, limit)
}
