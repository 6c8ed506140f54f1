package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/LeadLedger/internal/pkg/metrics"
)

var (
	ErrBusy           = errors.New("sweep already running")
	ErrLocked         = errors.New("sweep lease held by another instance")
	ErrUnknownSweeper = errors.New("unknown sweeper")
)

// Locker hands out a lease that only one process can hold at a time.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

type runner struct {
	sweeper  Sweeper
	interval time.Duration
	busy     atomic.Bool
}

// Manager owns the sweeper loops. Each sweeper ticks on its own interval; a tick
// that fires while the previous run is still going is dropped.
type Manager struct {
	cfg     Config
	locker  Locker
	now     func() time.Time
	runners map[string]*runner
	order   []string

	cancel  context.CancelFunc
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

type Option func(*Manager)

// WithLocker makes runs take a Redis lease first so only one replica sweeps.
func WithLocker(l Locker) Option {
	return func(m *Manager) { m.locker = l }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:     cfg,
		now:     time.Now,
		runners: make(map[string]*runner),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a sweeper. It must be called before Start.
func (m *Manager) Register(s Sweeper, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runners[s.Name()]; !ok {
		m.order = append(m.order, s.Name())
	}
	m.runners[s.Name()] = &runner{sweeper: s, interval: interval}
}

// Start launches one loop per registered sweeper.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	m.stopCh = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true
	log.Info("[Sweeper Manager] Starting sweepers")

	for _, name := range m.order {
		r := m.runners[name]
		m.wg.Add(1)
		go m.loop(ctx, r, m.stopCh)
	}

	log.Info("[Sweeper Manager] Started successfully")
}

// Stop signals the loops, cancels in-flight runs and waits for them to return.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	log.Info("[Sweeper Manager] Stopping sweepers...")
	close(m.stopCh)
	m.cancel()
	m.running = false
	m.mu.Unlock()

	m.wg.Wait()
	log.Info("[Sweeper Manager] Stopped successfully")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Trigger runs a sweeper once, synchronously (admin use).
func (m *Manager) Trigger(ctx context.Context, name string) (Stats, error) {
	m.mu.Lock()
	r, ok := m.runners[name]
	m.mu.Unlock()
	if !ok {
		return Stats{}, fmt.Errorf("%w: %s", ErrUnknownSweeper, name)
	}
	return m.run(ctx, r)
}

func (m *Manager) loop(ctx context.Context, r *runner, stopCh chan struct{}) {
	defer m.wg.Done()
	name := r.sweeper.Name()
	log.Infof("[Sweeper Manager] Started %s worker (interval: %s)", name, r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	if m.cfg.RunOnStart {
		m.spawn(ctx, r)
	}
	for {
		select {
		case <-stopCh:
			log.Infof("[Sweeper Manager] %s worker stopping", name)
			return
		case <-ticker.C:
			m.spawn(ctx, r)
		}
	}
}

func (m *Manager) spawn(ctx context.Context, r *runner) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_, _ = m.run(ctx, r)
	}()
}

func (m *Manager) run(ctx context.Context, r *runner) (stats Stats, err error) {
	name := r.sweeper.Name()
	if !r.busy.CompareAndSwap(false, true) {
		log.Infof("[Sweeper Manager] %s still running, skipping tick", name)
		metrics.SweeperRunsTotal.WithLabelValues(name, "overlap").Inc()
		return Stats{}, ErrBusy
	}
	defer r.busy.Store(false)

	if m.locker != nil {
		release, ok, lerr := m.locker.TryLock(ctx, "sweeper:"+name, m.cfg.LockTTL)
		if lerr != nil {
			log.Errorf("[Sweeper Manager] %s lease error: %v", name, lerr)
			metrics.SweeperRunsTotal.WithLabelValues(name, "error").Inc()
			return Stats{}, lerr
		}
		if !ok {
			log.Infof("[Sweeper Manager] %s lease held elsewhere, skipping", name)
			metrics.SweeperRunsTotal.WithLabelValues(name, "locked").Inc()
			return Stats{}, ErrLocked
		}
		defer release()
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s panicked: %v", name, p)
		}
		metrics.SweeperRunDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		metrics.SweeperRowsTotal.WithLabelValues(name, "applied").Add(float64(stats.Applied))
		metrics.SweeperRowsTotal.WithLabelValues(name, "skipped").Add(float64(stats.Skipped))
		metrics.SweeperRowsTotal.WithLabelValues(name, "failed").Add(float64(stats.Failed))
		if err != nil {
			log.Errorf("[Sweeper Manager] %s failed after %d chunks: %v", name, stats.Chunks, err)
			metrics.SweeperRunsTotal.WithLabelValues(name, "error").Inc()
			return
		}
		log.Infof("[Sweeper Manager] %s done: applied=%d skipped=%d failed=%d chunks=%d in %s",
			name, stats.Applied, stats.Skipped, stats.Failed, stats.Chunks, time.Since(start))
		metrics.SweeperRunsTotal.WithLabelValues(name, "ok").Inc()
	}()

	return r.sweeper.RunOnce(ctx, m.now().UTC())
}
