package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuelReschke/LeadLedger/app/models"
	"github.com/ManuelReschke/LeadLedger/internal/pkg/metrics"
)

// Unlock is the outcome of UnlockJob.
type Unlock struct {
	Record          *models.UnlockRecord `json:"record"`
	AlreadyUnlocked bool                 `json:"already_unlocked"`
	Balance         int                  `json:"balance"`
}

// UnlockJob charges the job's credit cost and records the unlock in one
// transaction. Repeating the call returns the existing record without charging,
// even after the job itself has been cleaned up.
func (s *Service) UnlockJob(ctx context.Context, accountID, jobID uint) (*Unlock, error) {
	var out Unlock
	_, _, err := s.apply(ctx, accountID, false, models.LedgerKindUnlock, func(tx Tx, sub *models.Subscriber, m *mutation) error {
		existing, err := tx.FindUnlock(accountID, jobID)
		if err == nil {
			out = Unlock{Record: existing, AlreadyUnlocked: true, Balance: sub.CurrentCredits}
			m.skip = true
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		job, err := tx.ReadJob(jobID)
		if err != nil {
			return fmt.Errorf("job %d: %w", jobID, err)
		}
		if job.ReviewStatus != models.ReviewStatusPosted {
			return fmt.Errorf("job %d is %s: %w", jobID, job.ReviewStatus, ErrJobUnavailable)
		}
		if job.CreditCost < 1 {
			return fmt.Errorf("job %d credit cost %d: %w", jobID, job.CreditCost, ErrInvalidAmount)
		}
		if sub.CurrentCredits < job.CreditCost {
			return ErrInsufficientCredits
		}

		sub.CurrentCredits -= job.CreditCost
		sub.TotalSpent += job.CreditCost
		rec := &models.UnlockRecord{
			AccountID:    accountID,
			JobID:        jobID,
			CreditsSpent: job.CreditCost,
			JobSnapshot:  job.Snapshot(),
			UnlockedAt:   m.now,
		}
		if err := tx.CreateUnlock(rec); err != nil {
			return err
		}

		m.actor = "user"
		m.meta["job_id"] = jobID
		m.meta["credit_cost"] = job.CreditCost
		out = Unlock{Record: rec, Balance: sub.CurrentCredits}
		return nil
	})
	metrics.UnlocksTotal.WithLabelValues(unlockOutcome(&out, err)).Inc()
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func unlockOutcome(u *Unlock, err error) string {
	switch {
	case err == nil && u.AlreadyUnlocked:
		return "already_unlocked"
	case err == nil:
		return "unlocked"
	case errors.Is(err, ErrInsufficientCredits):
		return "insufficient_credits"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrJobUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
