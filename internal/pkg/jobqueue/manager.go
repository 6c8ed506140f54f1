package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/LeadLedger/internal/pkg/metrics"
)

// Manager runs the notification queue and reports its depth.
type Manager struct {
	queue         *Queue
	depthInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
	mu            sync.Mutex
	running       bool
}

func NewManager(queue *Queue) *Manager {
	return &Manager{
		queue:         queue,
		depthInterval: 15 * time.Second,
		stopCh:        make(chan struct{}),
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	m.wg.Add(1)
	go m.depthWorker(m.stopCh)

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) depthWorker(stopCh chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.depthInterval)
	defer ticker.Stop()

	m.reportDepth()
	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Depth worker stopping")
			return
		case <-ticker.C:
			m.reportDepth()
		}
	}
}

func (m *Manager) reportDepth() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if n, err := m.queue.GetQueueSize(ctx); err == nil {
		metrics.NotificationQueueDepth.WithLabelValues("pending").Set(float64(n))
	} else {
		log.Errorf("[JobQueue Manager] Queue size error: %v", err)
	}
	if n, err := m.queue.GetProcessingSize(ctx); err == nil {
		metrics.NotificationQueueDepth.WithLabelValues("processing").Set(float64(n))
	}
}
