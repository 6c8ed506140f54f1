package ledger

import (
	"context"
	"time"

	"github.com/ManuelReschke/LeadLedger/app/models"
)

// Store is the persistence boundary of the ledger. Every Subscriber mutation runs
// inside Atomic and reads the row through a Tx lock first.
type Store interface {
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	GetSubscriber(ctx context.Context, accountID uint) (*models.Subscriber, error)
	GetPlan(ctx context.Context, planID uint) (*models.Plan, error)
	ListEntries(ctx context.Context, accountID uint, limit int) ([]models.LedgerEntry, error)

	// ListExpiredTrials returns up to limit account ids after afterAccountID, ascending,
	// whose trial ended at or before now and that hold no paid plan.
	ListExpiredTrials(ctx context.Context, now time.Time, afterAccountID uint, limit int) ([]uint, error)
	// ListStaleJobs returns up to limit posted job ids after afterJobID, ascending,
	// whose posted_at is at or before cutoff.
	ListStaleJobs(ctx context.Context, cutoff time.Time, afterJobID uint, limit int) ([]uint, error)
}

// Tx is a single transaction. Row locks taken through it are held until it ends.
type Tx interface {
	// LockSubscriber reads the row for update. Missing rows yield ErrNotFound.
	LockSubscriber(accountID uint) (*models.Subscriber, error)
	// EnsureSubscriber creates an inactive row when none exists, then locks it.
	EnsureSubscriber(accountID uint) (*models.Subscriber, error)
	SaveSubscriber(sub *models.Subscriber) error

	GetPlan(planID uint) (*models.Plan, error)

	// ReadJob reads the job with a shared lock so cleanup cannot delete it mid-unlock.
	ReadJob(jobID uint) (*models.Job, error)
	// LockJob reads the job for update.
	LockJob(jobID uint) (*models.Job, error)
	DeleteJob(jobID uint) error

	FindUnlock(accountID, jobID uint) (*models.UnlockRecord, error)
	CreateUnlock(rec *models.UnlockRecord) error

	AppendEntry(entry *models.LedgerEntry) error

	// Isolated runs fn in a savepoint. An error rolls back only fn's writes.
	Isolated(fn func(tx Tx) error) error
}
