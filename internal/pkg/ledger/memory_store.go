package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ManuelReschke/LeadLedger/app/models"
)

type unlockKey struct {
	accountID uint
	jobID     uint
}

// MemoryStore is an in-process Store. Each transaction holds per-account and
// per-job locks until it ends and publishes its staged writes in one step, so
// it gives the same isolation as the GORM store for a single process.
type MemoryStore struct {
	mu           sync.Mutex
	nextID       uint
	subscribers  map[uint]*models.Subscriber
	plans        map[uint]*models.Plan
	jobs         map[uint]*models.Job
	unlocks      map[unlockKey]*models.UnlockRecord
	entries      []models.LedgerEntry
	accountLocks map[uint]*sync.Mutex
	jobLocks     map[uint]*sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subscribers:  make(map[uint]*models.Subscriber),
		plans:        make(map[uint]*models.Plan),
		jobs:         make(map[uint]*models.Job),
		unlocks:      make(map[unlockKey]*models.UnlockRecord),
		accountLocks: make(map[uint]*sync.Mutex),
		jobLocks:     make(map[uint]*sync.RWMutex),
	}
}

func (s *MemoryStore) id() uint {
	s.nextID++
	return s.nextID
}

// PutPlan stores a plan, assigning an id when it has none.
func (s *MemoryStore) PutPlan(plan *models.Plan) *models.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	if plan.ID == 0 {
		plan.ID = s.id()
	}
	c := *plan
	s.plans[plan.ID] = &c
	return plan
}

// PutJob stores a job, assigning an id when it has none.
func (s *MemoryStore) PutJob(job *models.Job) *models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == 0 {
		job.ID = s.id()
	}
	c := *job
	s.jobs[job.ID] = &c
	return job
}

// PutSubscriber stores a subscriber as-is, bypassing the ledger operations.
func (s *MemoryStore) PutSubscriber(sub *models.Subscriber) *models.Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == 0 {
		sub.ID = s.id()
	}
	s.subscribers[sub.AccountID] = sub.Clone()
	return sub
}

// HasJob reports whether the job is still stored.
func (s *MemoryStore) HasJob(jobID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[jobID]
	return ok
}

// UnlockCount returns how many unlock records exist for an account.
func (s *MemoryStore) UnlockCount(accountID uint) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.unlocks {
		if k.accountID == accountID {
			n++
		}
	}
	return n
}

func (s *MemoryStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		s:        s,
		accounts: make(map[uint]*sync.Mutex),
		jobs:     make(map[uint]heldJob),
		stage:    newMemStage(),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	s.commit(tx.stage)
	return nil
}

func (s *MemoryStore) commit(st *memStage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for accountID, sub := range st.subs {
		s.subscribers[accountID] = sub
	}
	for jobID := range st.deleted {
		delete(s.jobs, jobID)
	}
	for k, rec := range st.unlocks {
		s.unlocks[k] = rec
	}
	for _, e := range st.entries {
		e.ID = s.id()
		s.entries = append(s.entries, e)
	}
}

func (s *MemoryStore) GetSubscriber(ctx context.Context, accountID uint) (*models.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscribers[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	return sub.Clone(), nil
}

func (s *MemoryStore) GetPlan(ctx context.Context, planID uint) (*models.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.plans[planID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *plan
	return &c, nil
}

func (s *MemoryStore) ListEntries(ctx context.Context, accountID uint, limit int) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LedgerEntry
	for i := len(s.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.entries[i].AccountID == accountID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) ListExpiredTrials(ctx context.Context, now time.Time, afterAccountID uint, limit int) ([]uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uint
	for accountID, sub := range s.subscribers {
		if accountID > afterAccountID && trialExpired(sub, now) {
			ids = append(ids, accountID)
		}
	}
	return page(ids, limit), nil
}

func (s *MemoryStore) ListStaleJobs(ctx context.Context, cutoff time.Time, afterJobID uint, limit int) ([]uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uint
	for jobID, job := range s.jobs {
		if jobID > afterJobID && jobStale(job, cutoff) {
			ids = append(ids, jobID)
		}
	}
	return page(ids, limit), nil
}

func page(ids []uint, limit int) []uint {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}

type memStage struct {
	subs    map[uint]*models.Subscriber
	deleted map[uint]bool
	unlocks map[unlockKey]*models.UnlockRecord
	entries []models.LedgerEntry
}

func newMemStage() *memStage {
	return &memStage{
		subs:    make(map[uint]*models.Subscriber),
		deleted: make(map[uint]bool),
		unlocks: make(map[unlockKey]*models.UnlockRecord),
	}
}

func (st *memStage) clone() *memStage {
	c := newMemStage()
	for k, v := range st.subs {
		c.subs[k] = v.Clone()
	}
	for k, v := range st.deleted {
		c.deleted[k] = v
	}
	for k, v := range st.unlocks {
		c.unlocks[k] = v
	}
	c.entries = append(c.entries, st.entries...)
	return c
}

type heldJob struct {
	lock      *sync.RWMutex
	exclusive bool
}

type memTx struct {
	s        *MemoryStore
	accounts map[uint]*sync.Mutex
	jobs     map[uint]heldJob
	stage    *memStage
}

func (t *memTx) release() {
	for _, m := range t.accounts {
		m.Unlock()
	}
	for _, h := range t.jobs {
		if h.exclusive {
			h.lock.Unlock()
		} else {
			h.lock.RUnlock()
		}
	}
}

func (t *memTx) lockAccount(accountID uint) {
	if _, ok := t.accounts[accountID]; ok {
		return
	}
	t.s.mu.Lock()
	m, ok := t.s.accountLocks[accountID]
	if !ok {
		m = &sync.Mutex{}
		t.s.accountLocks[accountID] = m
	}
	t.s.mu.Unlock()

	m.Lock()
	t.accounts[accountID] = m
}

func (t *memTx) lockJob(jobID uint, exclusive bool) {
	if _, ok := t.jobs[jobID]; ok {
		return
	}
	t.s.mu.Lock()
	m, ok := t.s.jobLocks[jobID]
	if !ok {
		m = &sync.RWMutex{}
		t.s.jobLocks[jobID] = m
	}
	t.s.mu.Unlock()

	if exclusive {
		m.Lock()
	} else {
		m.RLock()
	}
	t.jobs[jobID] = heldJob{lock: m, exclusive: exclusive}
}

func (t *memTx) LockSubscriber(accountID uint) (*models.Subscriber, error) {
	t.lockAccount(accountID)
	if sub, ok := t.stage.subs[accountID]; ok {
		return sub.Clone(), nil
	}
	t.s.mu.Lock()
	sub, ok := t.s.subscribers[accountID]
	t.s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return sub.Clone(), nil
}

func (t *memTx) EnsureSubscriber(accountID uint) (*models.Subscriber, error) {
	sub, err := t.LockSubscriber(accountID)
	if !errors.Is(err, ErrNotFound) {
		return sub, err
	}
	t.s.mu.Lock()
	fresh := &models.Subscriber{
		ID:        t.s.id(),
		AccountID: accountID,
		Status:    models.SubscriptionStatusInactive,
		SeatsUsed: 1,
		MaxSeats:  1,
	}
	t.s.mu.Unlock()
	t.stage.subs[accountID] = fresh
	return fresh.Clone(), nil
}

func (t *memTx) SaveSubscriber(sub *models.Subscriber) error {
	t.lockAccount(sub.AccountID)
	t.stage.subs[sub.AccountID] = sub.Clone()
	return nil
}

func (t *memTx) GetPlan(planID uint) (*models.Plan, error) {
	return t.s.GetPlan(context.Background(), planID)
}

func (t *memTx) readJob(jobID uint, exclusive bool) (*models.Job, error) {
	t.lockJob(jobID, exclusive)
	if t.stage.deleted[jobID] {
		return nil, ErrNotFound
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	job, ok := t.s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *job
	return &c, nil
}

func (t *memTx) ReadJob(jobID uint) (*models.Job, error) {
	return t.readJob(jobID, false)
}

func (t *memTx) LockJob(jobID uint) (*models.Job, error) {
	return t.readJob(jobID, true)
}

func (t *memTx) DeleteJob(jobID uint) error {
	t.lockJob(jobID, true)
	t.stage.deleted[jobID] = true
	return nil
}

func (t *memTx) FindUnlock(accountID, jobID uint) (*models.UnlockRecord, error) {
	k := unlockKey{accountID: accountID, jobID: jobID}
	if rec, ok := t.stage.unlocks[k]; ok {
		c := *rec
		return &c, nil
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	rec, ok := t.s.unlocks[k]
	if !ok {
		return nil, ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (t *memTx) CreateUnlock(rec *models.UnlockRecord) error {
	if _, err := t.FindUnlock(rec.AccountID, rec.JobID); err == nil {
		return errDuplicateUnlock
	}
	t.s.mu.Lock()
	rec.ID = t.s.id()
	t.s.mu.Unlock()
	c := *rec
	t.stage.unlocks[unlockKey{accountID: rec.AccountID, jobID: rec.JobID}] = &c
	return nil
}

func (t *memTx) AppendEntry(entry *models.LedgerEntry) error {
	t.stage.entries = append(t.stage.entries, *entry)
	return nil
}

func (t *memTx) Isolated(fn func(tx Tx) error) error {
	saved := t.stage.clone()
	if err := fn(t); err != nil {
		t.stage = saved
		return err
	}
	return nil
}
