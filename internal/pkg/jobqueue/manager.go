package jobqueue

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/sponsorrun/SponsorRun/internal/pkg/env"
)

// Manager manages the global job queue and background tasks
type Manager struct {
	queue           *Queue
	retentionTicker *time.Ticker
	stopCh          chan struct{}
	wg              sync.WaitGroup
	mu              sync.Mutex
	running         bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// Setup wires the global manager with its collaborators. Must be called once
// before GetManager.
func Setup(processor WebhookProcessor, retention RetentionStore) *Manager {
	managerOnce.Do(func() {
		workerCount := env.GetEnvInt("JOB_WORKERS", 5)
		globalManager = &Manager{
			queue:  NewQueue(workerCount, processor, retention),
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// EnqueueWebhookProcess dispatches background fulfillment for an ingested
// event. Failures fall back to logging only; the durable event row stays in
// processing until the stuck sweeper or a manual replay picks it up.
func (m *Manager) EnqueueWebhookProcess(eventID string) {
	payload := WebhookProcessJobPayload{EventID: eventID}
	if _, err := m.queue.EnqueueJob(JobTypeWebhookProcess, payload.ToMap()); err != nil {
		log.Errorf("[JobQueue Manager] Failed to enqueue webhook job for event %s: %v", eventID, err)
	}
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

	// Periodic event-log retention sweep; 0 days disables it.
	retentionDays := env.GetEnvInt("WEBHOOK_RETENTION_DAYS", 0)
	if retentionDays > 0 {
		m.retentionTicker = time.NewTicker(24 * time.Hour)
		m.wg.Add(1)
		go m.retentionWorker(retentionDays)
	}

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

	if m.retentionTicker != nil {
		m.retentionTicker.Stop()
	}

	close(m.stopCh)
	m.running = false

	m.wg.Wait()
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// retentionWorker periodically enqueues an event-log retention sweep.
func (m *Manager) retentionWorker(daysToKeep int) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started retention worker (keep %d days)", daysToKeep)

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Retention worker stopping")
			return
		case <-m.retentionTicker.C:
			payload := RetentionSweepJobPayload{DaysToKeep: daysToKeep}
			if _, err := m.queue.EnqueueJob(JobTypeRetentionSweep, payload.ToMap()); err != nil {
				log.Errorf("[JobQueue Manager] Failed to enqueue retention sweep: %v", err)
			}
		}
	}
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
