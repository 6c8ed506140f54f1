package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/LeadLedger/app/models"
)

// RowFailure is a row that was rolled back inside an otherwise committed batch.
type RowFailure struct {
	ID  uint
	Err error
}

// BatchResult summarizes one chunk processed by a sweeper.
type BatchResult struct {
	Applied  int
	Skipped  int
	Failures []RowFailure
}

func trialExpired(sub *models.Subscriber, now time.Time) bool {
	return sub.Status == models.SubscriptionStatusTrial &&
		sub.TrialCreditsExpiresAt != nil &&
		!sub.TrialCreditsExpiresAt.After(now) &&
		!sub.HasPaidPlan()
}

func jobStale(job *models.Job, cutoff time.Time) bool {
	return job.ReviewStatus == models.ReviewStatusPosted &&
		job.PostedAt != nil &&
		!job.PostedAt.After(cutoff)
}

// ExpireTrials zeroes the given accounts' trial credits in one transaction.
// Every row is re-checked under its lock and runs in its own savepoint, so an
// account that upgraded meanwhile is skipped and a bad row only rolls back itself.
func (s *Service) ExpireTrials(ctx context.Context, now time.Time, accountIDs []uint) (BatchResult, error) {
	var (
		res  BatchResult
		done []*mutation
	)
	err := s.store.Atomic(ctx, func(tx Tx) error {
		res, done = BatchResult{}, nil
		for _, id := range accountIDs {
			if err := ctx.Err(); err != nil {
				return err
			}
			var m *mutation
			err := tx.Isolated(func(itx Tx) error {
				sub, err := itx.LockSubscriber(id)
				if err != nil {
					return err
				}
				m = newMutation(models.LedgerKindTrialExpiry, now, sub)
				return s.mutate(itx, sub, m, func(_ Tx, sub *models.Subscriber, m *mutation) error {
					if !trialExpired(sub, now) {
						m.skip = true
						return nil
					}
					m.actor = "sweeper"
					m.meta["expired_credits"] = sub.CurrentCredits
					sub.CurrentCredits = 0
					sub.Status = models.SubscriptionStatusTrialExpired
					return nil
				})
			})
			switch {
			case errors.Is(err, ErrNotFound) || (err == nil && m.skip):
				res.Skipped++
			case err != nil:
				log.Errorf("[Ledger] Trial expiry failed for account %d: %v", id, err)
				res.Failures = append(res.Failures, RowFailure{ID: id, Err: err})
			default:
				res.Applied++
				done = append(done, m)
			}
		}
		return nil
	})
	if err != nil {
		return BatchResult{}, err
	}
	for _, m := range done {
		s.record(ctx, m)
	}
	return res, nil
}

// PurgeJobs deletes posted jobs whose retention ended at cutoff. Pending,
// declined and undated jobs are never touched.
func (s *Service) PurgeJobs(ctx context.Context, cutoff time.Time, jobIDs []uint) (BatchResult, error) {
	var res BatchResult
	err := s.store.Atomic(ctx, func(tx Tx) error {
		res = BatchResult{}
		for _, id := range jobIDs {
			if err := ctx.Err(); err != nil {
				return err
			}
			skipped := false
			err := tx.Isolated(func(itx Tx) error {
				job, err := itx.LockJob(id)
				if err != nil {
					return err
				}
				if !jobStale(job, cutoff) {
					skipped = true
					return nil
				}
				return itx.DeleteJob(id)
			})
			switch {
			case errors.Is(err, ErrNotFound) || (err == nil && skipped):
				res.Skipped++
			case err != nil:
				log.Errorf("[Ledger] Job cleanup failed for job %d: %v", id, err)
				res.Failures = append(res.Failures, RowFailure{ID: id, Err: err})
			default:
				res.Applied++
			}
		}
		return nil
	})
	if err != nil {
		return BatchResult{}, err
	}
	return res, nil
}
