package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/upb/tma-auth-gateway/models"
	"github.com/upb/tma-auth-gateway/repositories"
)

// AuditEvent represents an event to be audited
type AuditEvent struct {
	Log *models.AuditLog
}

// Request carries the transport metadata recorded with every event
type Request struct {
	ID        string
	IPAddress string
	UserAgent string
}

// AuditService handles asynchronous audit logging. Workers write events in
// batches of up to BatchSize.
type AuditService struct {
	auditRepo   repositories.AuditRepository
	logger      *zap.Logger
	eventChan   chan *AuditEvent
	workerCount int
	bufferSize  int
	batchSize   int
	wg          sync.WaitGroup
	started     bool
	stopped     bool
	mu          sync.RWMutex
	dropped     atomic.Int64
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
	BatchSize   int // Max events written per round trip
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1000,
		WorkerCount: 2,
		BatchSize:   50,
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(auditRepo repositories.AuditRepository, logger *zap.Logger, config Config) *AuditService {
	if config.BatchSize < 1 {
		config.BatchSize = 1
	}

	return &AuditService{
		auditRepo:   auditRepo,
		logger:      logger,
		eventChan:   make(chan *AuditEvent, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		batchSize:   config.BatchSize,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize),
		zap.Int("batch_size", s.batchSize))

	return nil
}

// Stop gracefully stops the audit service.
// Waits for all pending events to be processed.
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service not running")
	}
	s.stopped = true
	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))
	close(s.eventChan)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// LogEvent queues an event without blocking. The event is dropped when the
// buffer is full.
func (s *AuditService) LogEvent(event *AuditEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.stopped {
		return fmt.Errorf("audit service not running")
	}

	select {
	case s.eventChan <- event:
		return nil
	default:
		s.dropped.Add(1)
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("action", string(event.Log.Action)))
		return fmt.Errorf("audit event buffer full")
	}
}

// worker drains the channel, grouping whatever is already queued into one batch
func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	batch := make([]*models.AuditLog, 0, s.batchSize)
	for event := range s.eventChan {
		batch = append(batch[:0], event.Log)

	fill:
		for len(batch) < s.batchSize {
			select {
			case next, ok := <-s.eventChan:
				if !ok {
					break fill
				}
				batch = append(batch, next.Log)
			default:
				break fill
			}
		}

		if err := s.processBatch(batch); err != nil {
			s.logger.Error("failed to process audit events",
				zap.Int("worker_id", id),
				zap.Int("count", len(batch)),
				zap.Error(err))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

func (s *AuditService) processBatch(batch []*models.AuditLog) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.auditRepo.InsertBatch(ctx, batch); err != nil {
		return fmt.Errorf("failed to insert audit logs: %w", err)
	}
	return nil
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Dropped:       s.dropped.Load(),
		Started:       s.started && !s.stopped,
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Dropped       int64
	Started       bool
}

// Convenience methods for the login exchange

// LogVerified records a payload that passed signature verification
func (s *AuditService) LogVerified(req Request, externalID int64) error {
	log := models.NewAuditLog(models.AuditActionVerified)
	log.ExternalID = &externalID
	log.WithRequest(req.ID, req.IPAddress, req.UserAgent)
	return s.LogEvent(&AuditEvent{Log: log})
}

// LogRejected records a payload rejected with the given error kind
func (s *AuditService) LogRejected(req Request, kind string) error {
	log := models.NewAuditLog(models.AuditActionRejected).WithErrorKind(kind)
	log.WithRequest(req.ID, req.IPAddress, req.UserAgent)
	return s.LogEvent(&AuditEvent{Log: log})
}

// LogAccountCreated records a first login
func (s *AuditService) LogAccountCreated(req Request, subject string, externalID int64) error {
	log := models.NewAuditLog(models.AuditActionAccountCreated).WithSubject(subject, externalID)
	log.WithRequest(req.ID, req.IPAddress, req.UserAgent)
	return s.LogEvent(&AuditEvent{Log: log})
}

// LogTokenIssued records a successful exchange
func (s *AuditService) LogTokenIssued(req Request, subject string, externalID int64, created bool) error {
	log := models.NewAuditLog(models.AuditActionTokenIssued).WithSubject(subject, externalID)
	log.WithRequest(req.ID, req.IPAddress, req.UserAgent)
	log.WithDetails(map[string]interface{}{"created": created})
	return s.LogEvent(&AuditEvent{Log: log})
}

// LogUpstreamFailed records a provisioning or issuance failure
func (s *AuditService) LogUpstreamFailed(req Request, kind string, externalID int64) error {
	log := models.NewAuditLog(models.AuditActionUpstreamFailed).WithErrorKind(kind)
	log.ExternalID = &externalID
	log.WithRequest(req.ID, req.IPAddress, req.UserAgent)
	return s.LogEvent(&AuditEvent{Log: log})
}
