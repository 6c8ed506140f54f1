package sweeper

import (
	"context"
	"time"

	"github.com/ManuelReschke/LeadLedger/internal/pkg/ledger"
)

const (
	NameTrialExpiry = "trial_expiry"
	NameJobCleanup  = "job_cleanup"
)

// Stats summarizes one sweep.
type Stats struct {
	Chunks  int `json:"chunks"`
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func (s *Stats) add(res ledger.BatchResult) {
	s.Chunks++
	s.Applied += res.Applied
	s.Skipped += res.Skipped
	s.Failed += len(res.Failures)
}

// Sweeper is one time-driven pass over the ledger.
type Sweeper interface {
	Name() string
	RunOnce(ctx context.Context, now time.Time) (Stats, error)
}

type pager struct {
	chunkSize    int
	chunkTimeout time.Duration
}

// run pages through candidate ids in ascending order. Each chunk is listed and
// applied under its own deadline; the cursor only lives for this run, so a
// restarted sweep simply re-scans.
func (p pager) run(ctx context.Context, list func(ctx context.Context, after uint, limit int) ([]uint, error), apply func(ctx context.Context, ids []uint) (ledger.BatchResult, error)) (Stats, error) {
	var (
		stats Stats
		after uint
	)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		cctx, cancel := context.WithTimeout(ctx, p.chunkTimeout)
		ids, err := list(cctx, after, p.chunkSize)
		if err != nil {
			cancel()
			return stats, err
		}
		if len(ids) == 0 {
			cancel()
			return stats, nil
		}
		res, err := apply(cctx, ids)
		cancel()
		if err != nil {
			return stats, err
		}
		stats.add(res)
		after = ids[len(ids)-1]
		if len(ids) < p.chunkSize {
			return stats, nil
		}
	}
}

// TrialExpiry zeroes trials whose expiry passed without a paid plan.
type TrialExpiry struct {
	svc   *ledger.Service
	pager pager
}

func NewTrialExpiry(svc *ledger.Service, cfg Config) *TrialExpiry {
	return &TrialExpiry{svc: svc, pager: pager{chunkSize: cfg.ChunkSize, chunkTimeout: cfg.ChunkTimeout}}
}

func (s *TrialExpiry) Name() string { return NameTrialExpiry }

func (s *TrialExpiry) RunOnce(ctx context.Context, now time.Time) (Stats, error) {
	store := s.svc.Store()
	return s.pager.run(ctx,
		func(ctx context.Context, after uint, limit int) ([]uint, error) {
			return store.ListExpiredTrials(ctx, now, after, limit)
		},
		func(ctx context.Context, ids []uint) (ledger.BatchResult, error) {
			return s.svc.ExpireTrials(ctx, now, ids)
		})
}

// JobCleanup deletes posted jobs once their retention window is over.
type JobCleanup struct {
	svc       *ledger.Service
	retention time.Duration
	pager     pager
}

func NewJobCleanup(svc *ledger.Service, cfg Config) *JobCleanup {
	return &JobCleanup{svc: svc, retention: cfg.JobRetention, pager: pager{chunkSize: cfg.ChunkSize, chunkTimeout: cfg.ChunkTimeout}}
}

func (s *JobCleanup) Name() string { return NameJobCleanup }

func (s *JobCleanup) RunOnce(ctx context.Context, now time.Time) (Stats, error) {
	store := s.svc.Store()
	cutoff := now.Add(-s.retention)
	return s.pager.run(ctx,
		func(ctx context.Context, after uint, limit int) ([]uint, error) {
			return store.ListStaleJobs(ctx, cutoff, after, limit)
		},
		func(ctx context.Context, ids []uint) (ledger.BatchResult, error) {
			return s.svc.PurgeJobs(ctx, cutoff, ids)
		})
}
