package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const cleanupTimeout = 5 * time.Minute

// DeliveredCleaner deletes delivered submissions older than a cutoff
type DeliveredCleaner interface {
	CleanupDelivered(ctx context.Context, cutoff time.Time) (int64, error)
}

// SchedulerService runs periodic housekeeping on a cron schedule
type SchedulerService struct {
	cron      *cron.Cron
	cleaner   DeliveredCleaner
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	running bool
}

// NewSchedulerService parses schedule (standard five-field cron, UTC) and
// prepares the cleanup job. A retention of zero disables cleanup.
func NewSchedulerService(schedule string, retention time.Duration, cleaner DeliveredCleaner, logger *zap.Logger) (*SchedulerService, error) {
	s := &SchedulerService{
		cron:      cron.New(cron.WithLocation(time.UTC)),
		cleaner:   cleaner,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
	if retention <= 0 {
		return s, nil
	}
	if _, err := s.cron.AddFunc(schedule, s.runCleanup); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins running scheduled jobs. Calling it twice has no effect.
func (s *SchedulerService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop prevents new runs and waits for a running job to finish
func (s *SchedulerService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// CleanupDelivered removes delivered submissions older than the retention period
func (s *SchedulerService) CleanupDelivered(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.retention)
	return s.cleaner.CleanupDelivered(ctx, cutoff)
}

func (s *SchedulerService) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic in cleanup job", zap.Any("panic", r))
		}
	}()

	start := time.Now()
	n, err := s.CleanupDelivered(ctx)
	if err != nil {
		s.logger.Error("Cleanup of delivered submissions failed", zap.Error(err))
		return
	}
	s.logger.Info("Cleaned up delivered submissions",
		zap.Int64("deleted", n),
		zap.Duration("retention", s.retention),
		zap.Duration("took", time.Since(start)))
}
