package ledger

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/LeadLedger/app/models"
)

type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a ledger store backed by GORM. Subscriber rows are locked
// with SELECT ... FOR UPDATE, so only operations on the same account serialize.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

func (s *gormStore) GetSubscriber(ctx context.Context, accountID uint) (*models.Subscriber, error) {
	var sub models.Subscriber
	if err := s.db.WithContext(ctx).Where("account_id = ?", accountID).First(&sub).Error; err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

func (s *gormStore) GetPlan(ctx context.Context, planID uint) (*models.Plan, error) {
	var plan models.Plan
	if err := s.db.WithContext(ctx).First(&plan, planID).Error; err != nil {
		return nil, notFound(err)
	}
	return &plan, nil
}

func (s *gormStore) ListEntries(ctx context.Context, accountID uint, limit int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (s *gormStore) ListExpiredTrials(ctx context.Context, now time.Time, afterAccountID uint, limit int) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.Subscriber{}).
		Where("status = ? AND trial_credits_expires_at IS NOT NULL AND trial_credits_expires_at <= ? AND plan_id IS NULL AND account_id > ?",
			models.SubscriptionStatusTrial, now, afterAccountID).
		Order("account_id ASC").
		Limit(limit).
		Pluck("account_id", &ids).Error
	return ids, err
}

func (s *gormStore) ListStaleJobs(ctx context.Context, cutoff time.Time, afterJobID uint, limit int) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.Job{}).
		Where("review_status = ? AND posted_at IS NOT NULL AND posted_at <= ? AND id > ?",
			models.ReviewStatusPosted, cutoff, afterJobID).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) LockSubscriber(accountID uint) (*models.Subscriber, error) {
	var sub models.Subscriber
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ?", accountID).
		First(&sub).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

func (t *gormTx) EnsureSubscriber(accountID uint) (*models.Subscriber, error) {
	fresh := &models.Subscriber{
		AccountID: accountID,
		Status:    models.SubscriptionStatusInactive,
		SeatsUsed: 1,
		MaxSeats:  1,
	}
	err := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		DoNothing: true,
	}).Create(fresh).Error
	if err != nil {
		return nil, err
	}
	return t.LockSubscriber(accountID)
}

func (t *gormTx) SaveSubscriber(sub *models.Subscriber) error {
	return t.db.Omit(clause.Associations).Save(sub).Error
}

func (t *gormTx) GetPlan(planID uint) (*models.Plan, error) {
	var plan models.Plan
	if err := t.db.First(&plan, planID).Error; err != nil {
		return nil, notFound(err)
	}
	return &plan, nil
}

func (t *gormTx) ReadJob(jobID uint) (*models.Job, error) {
	var job models.Job
	if err := t.db.Clauses(clause.Locking{Strength: "SHARE"}).First(&job, jobID).Error; err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

func (t *gormTx) LockJob(jobID uint) (*models.Job, error) {
	var job models.Job
	if err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&job, jobID).Error; err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

func (t *gormTx) DeleteJob(jobID uint) error {
	return t.db.Delete(&models.Job{}, jobID).Error
}

func (t *gormTx) FindUnlock(accountID, jobID uint) (*models.UnlockRecord, error) {
	var rec models.UnlockRecord
	err := t.db.Where("account_id = ? AND job_id = ?", accountID, jobID).First(&rec).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (t *gormTx) CreateUnlock(rec *models.UnlockRecord) error {
	return t.db.Create(rec).Error
}

func (t *gormTx) AppendEntry(entry *models.LedgerEntry) error {
	return t.db.Create(entry).Error
}

func (t *gormTx) Isolated(fn func(tx Tx) error) error {
	// Nested transactions run as savepoints.
	return t.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
