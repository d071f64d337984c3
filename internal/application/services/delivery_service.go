package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ideinstein/leadbridge/internal/application/mapping"
	"github.com/ideinstein/leadbridge/internal/domain"
	"github.com/ideinstein/leadbridge/internal/infrastructure/crm"
	"github.com/ideinstein/leadbridge/internal/infrastructure/database"
	"github.com/ideinstein/leadbridge/internal/infrastructure/persistence"
	"github.com/ideinstein/leadbridge/pkg/constants"
	appErrors "github.com/ideinstein/leadbridge/pkg/errors"
)

// batchTimeout bounds one pass over the pending queue
const batchTimeout = 2 * time.Minute

// CRMWriter is the part of the CRM client the worker needs
type CRMWriter interface {
	InsertRecord(ctx context.Context, module string, record crm.Record) (string, error)
	UpsertRecord(ctx context.Context, module string, record crm.Record, dupFields []string) (string, string, error)
	AddNote(ctx context.Context, module, recordID, title, content string) error
}

// RecordMapper turns a stored submission into a CRM record
type RecordMapper interface {
	Map(sub *domain.Submission) (*mapping.Result, error)
}

// DeliveryOptions tune the worker
type DeliveryOptions struct {
	Interval     time.Duration
	BatchSize    int
	MaxAttempts  int
	RetryBackoff time.Duration
}

// DeliveryService drains the submission queue into the CRM.
// Each row is claimed inside its own transaction with SKIP LOCKED, so
// several replicas can run the worker against the same table.
type DeliveryService struct {
	conn   *database.Connection
	repo   *persistence.SubmissionRepository
	crm    CRMWriter
	mapper RecordMapper
	opts   DeliveryOptions
	logger *zap.Logger
	now    func() time.Time

	// Worker control
	wake      chan struct{}
	stopCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewDeliveryService creates a new DeliveryService
func NewDeliveryService(conn *database.Connection, repo *persistence.SubmissionRepository, client CRMWriter, mapper RecordMapper, opts DeliveryOptions, logger *zap.Logger) *DeliveryService {
	if opts.BatchSize <= 0 {
		opts.BatchSize = constants.DefaultDeliveryBatch
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = constants.DefaultMaxDeliveryAttempt
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = constants.DefaultRetryBackoff
	}
	return &DeliveryService{
		conn:   conn,
		repo:   repo,
		crm:    client,
		mapper: mapper,
		opts:   opts,
		logger: logger,
		now:    time.Now,
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
}

// Notify asks the worker to run before its next tick. It never blocks.
func (s *DeliveryService) Notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// StartWorker starts the background loop. Calling it again has no effect.
func (s *DeliveryService) StartWorker() {
	s.startOnce.Do(func() {
		interval := s.opts.Interval
		if interval <= 0 {
			interval = constants.DefaultDeliveryInterval
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			s.logger.Info("Delivery worker started", zap.Duration("interval", interval))

			for {
				select {
				case <-s.stopCh:
					s.logger.Info("Delivery worker stopping")
					return
				case <-ticker.C:
				case <-s.wake:
				}
				s.runBatch()
			}
		}()
	})
}

// StopWorker stops the loop and waits for the batch in progress
func (s *DeliveryService) StopWorker() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
	s.logger.Info("Delivery worker stopped")
}

func (s *DeliveryService) runBatch() {
	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	if _, err := s.ProcessPending(ctx); err != nil {
		s.logger.Warn("Delivery worker error", zap.Error(err))
	}
}

// ProcessPending delivers up to one batch of due submissions and reports
// how many were delivered.
func (s *DeliveryService) ProcessPending(ctx context.Context) (int, error) {
	ids, err := s.repo.GetPendingIDs(ctx, s.now().UTC(), s.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		s.logger.Debug("Processing pending submissions", zap.Int("count", len(ids)))
	}

	delivered := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		ok, err := s.deliverOne(ctx, id)
		if err != nil {
			s.logger.Warn("Failed to process submission", zap.String("submission_id", id), zap.Error(err))
			continue
		}
		if ok {
			delivered++
		}
	}
	return delivered, nil
}

// deliverOne claims a submission, sends it and records the outcome in one transaction
func (s *DeliveryService) deliverOne(ctx context.Context, id string) (bool, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sub, err := s.repo.Claim(ctx, tx, id)
	if err != nil {
		return false, err
	}
	if sub == nil {
		// Delivered, failed or held by another worker
		return false, nil
	}
	log := s.logger.With(zap.String("submission_id", sub.ID), zap.String("form", string(sub.FormType)))

	result, err := s.mapper.Map(sub)
	if err != nil {
		return false, s.recordFailure(ctx, tx, sub, err, log)
	}

	recordID, err := s.send(ctx, result)
	if err != nil {
		return false, s.recordFailure(ctx, tx, sub, err, log)
	}

	// The record exists now; a failed note must not cause a second record on retry
	if content := noteContent(result.Note, sub.Attachments); content != "" {
		if err := s.crm.AddNote(ctx, result.Module, recordID, result.NoteTitle, content); err != nil {
			log.Warn("Failed to attach note to CRM record", zap.String("crm_record_id", recordID), zap.Error(err))
		}
	}

	if err := s.repo.MarkDelivered(ctx, tx, sub.ID, recordID); err != nil {
		return false, fmt.Errorf("failed to mark as delivered: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	log.Info("Submission delivered",
		zap.String("module", result.Module),
		zap.String("crm_record_id", recordID),
		zap.Int("attempt", sub.RetryCount+1))
	return true, nil
}

func (s *DeliveryService) send(ctx context.Context, result *mapping.Result) (string, error) {
	if len(result.DuplicateCheckFields) > 0 {
		id, _, err := s.crm.UpsertRecord(ctx, result.Module, result.Record, result.DuplicateCheckFields)
		return id, err
	}
	return s.crm.InsertRecord(ctx, result.Module, result.Record)
}

// recordFailure parks permanent failures and schedules a retry for transient ones
func (s *DeliveryService) recordFailure(ctx context.Context, tx *sql.Tx, sub *domain.Submission, cause error, log *zap.Logger) error {
	msg := cause.Error()
	attempt := sub.RetryCount + 1

	switch {
	case appErrors.IsPermanent(cause):
		log.Error("Submission rejected, not retrying", zap.Error(cause))
		if err := s.repo.MarkFailed(ctx, tx, sub.ID, msg); err != nil {
			return fmt.Errorf("failed to mark as failed: %w", err)
		}
	case attempt >= s.opts.MaxAttempts:
		log.Error("Submission failed after max attempts", zap.Int("attempts", attempt), zap.Error(cause))
		if err := s.repo.MarkFailed(ctx, tx, sub.ID, fmt.Sprintf("max attempts exceeded: %s", msg)); err != nil {
			return fmt.Errorf("failed to mark as failed: %w", err)
		}
	default:
		next := s.now().UTC().Add(s.backoff(attempt))
		log.Warn("Submission delivery failed, will retry",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.opts.MaxAttempts),
			zap.Time("next_attempt", next),
			zap.Error(cause))
		if err := s.repo.IncrementRetry(ctx, tx, sub.ID, attempt, msg, next); err != nil {
			return fmt.Errorf("failed to update retry count: %w", err)
		}
	}
	return tx.Commit()
}

// backoff doubles the delay after every failed attempt
func (s *DeliveryService) backoff(attempt int) time.Duration {
	d := s.opts.RetryBackoff
	for i := 1; i < attempt && d < constants.MaxRetryBackoff; i++ {
		d *= 2
	}
	if d > constants.MaxRetryBackoff {
		d = constants.MaxRetryBackoff
	}
	return d
}

func noteContent(note string, attachments []domain.Attachment) string {
	if len(attachments) == 0 {
		return note
	}

	var b strings.Builder
	if note != "" {
		b.WriteString(note)
		b.WriteString("\n\n")
	}
	b.WriteString("Attachments:\n")
	for _, a := range attachments {
		fmt.Fprintf(&b, "- %s (%s, %d bytes)", a.Name, a.ContentType, a.Size)
		if a.URL != "" {
			b.WriteString(": ")
			b.WriteString(a.URL)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
