package services

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ideinstein/leadbridge/internal/domain"
	"github.com/ideinstein/leadbridge/internal/infrastructure/persistence"
	"github.com/ideinstein/leadbridge/internal/infrastructure/storage"
	"github.com/ideinstein/leadbridge/pkg/constants"
	appErrors "github.com/ideinstein/leadbridge/pkg/errors"
	"github.com/ideinstein/leadbridge/pkg/utils"
)

// maxParallelUploads bounds concurrent document-storage uploads per request
const maxParallelUploads = 3

// SubmissionRepository is the storage the lead and delivery services share
type SubmissionRepository interface {
	Enqueue(ctx context.Context, exec persistence.Executor, s *domain.Submission) error
	Get(ctx context.Context, id string) (*domain.Submission, error)
	List(ctx context.Context, status domain.SubmissionStatus, limit int) ([]*domain.Submission, error)
	Requeue(ctx context.Context, id string) (bool, error)
}

// Notifier is told when new work is queued
type Notifier interface {
	Notify()
}

// Upload is a file posted with a form, opened lazily so it can be streamed
type Upload struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// LeadRequest is one validated form post
type LeadRequest struct {
	Form       domain.Form
	Files      []Upload
	RemoteAddr string
	UserAgent  string
}

// LeadOptions tune submission acceptance
type LeadOptions struct {
	MaxUploadBytes int64
	MaxAttachments int
	MinFillTime    time.Duration
}

// LeadService accepts form submissions and queues them for CRM delivery
type LeadService struct {
	db       persistence.Executor
	repo     SubmissionRepository
	store    storage.DocumentStore
	notifier Notifier
	opts     LeadOptions
	logger   *zap.Logger
	now      func() time.Time
}

// NewLeadService creates a new LeadService
func NewLeadService(db persistence.Executor, repo SubmissionRepository, store storage.DocumentStore, opts LeadOptions, logger *zap.Logger) *LeadService {
	return &LeadService{
		db:     db,
		repo:   repo,
		store:  store,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// SetNotifier registers who to wake after a submission is queued
func (s *LeadService) SetNotifier(n Notifier) {
	s.notifier = n
}

// Submit screens a form post for bots, stores its attachments and queues it.
// Spam is reported as *SpamError and nothing is stored.
func (s *LeadService) Submit(ctx context.Context, req LeadRequest) (*domain.Submission, error) {
	formType := req.Form.Type()
	if err := s.checkSpam(req.Form.Meta()); err != nil {
		s.logger.Info("Submission rejected as spam",
			zap.String("form", string(formType)),
			zap.String("reason", err.Reason),
			zap.String("remote_addr", req.RemoteAddr))
		return nil, err
	}

	if len(req.Files) > s.opts.MaxAttachments {
		return nil, appErrors.NewValidationError("files", fmt.Sprintf("at most %d files can be attached", s.opts.MaxAttachments))
	}

	attachments, err := s.uploadAll(ctx, req.Files)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sub := &domain.Submission{
		ID:               utils.GenerateID(),
		FormType:         formType,
		Payload:          req.Form.Fields(),
		Attachments:      attachments,
		Status:           domain.StatusPending,
		RemoteAddr:       req.RemoteAddr,
		UserAgent:        req.UserAgent,
		CreatedDate:      now,
		LastModifiedDate: now,
	}

	if err := s.repo.Enqueue(ctx, s.db, sub); err != nil {
		if len(attachments) > 0 {
			s.logger.Error("Submission lost after attachments were stored",
				zap.String("form", string(formType)),
				zap.Any("attachments", attachments),
				zap.Error(err))
		}
		return nil, err
	}

	s.logger.Info("Submission queued",
		zap.String("submission_id", sub.ID),
		zap.String("form", string(formType)),
		zap.Int("attachments", len(attachments)))

	if s.notifier != nil {
		s.notifier.Notify()
	}
	return sub, nil
}

func (s *LeadService) checkSpam(meta domain.Tracking) *appErrors.SpamError {
	if meta.Website != "" {
		return appErrors.NewSpamError("honeypot filled")
	}
	started := meta.StartedTime()
	if !started.IsZero() && s.opts.MinFillTime > 0 {
		if elapsed := s.now().Sub(started); elapsed >= 0 && elapsed < s.opts.MinFillTime {
			return appErrors.NewSpamError(fmt.Sprintf("form completed in %s", elapsed.Round(time.Millisecond)))
		}
	}
	return nil
}

// uploadAll validates and stores files concurrently; results keep the posted order
func (s *LeadService) uploadAll(ctx context.Context, files []Upload) ([]domain.Attachment, error) {
	if len(files) == 0 {
		return nil, nil
	}

	attachments := make([]domain.Attachment, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelUploads)

	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			att, err := s.upload(gctx, f)
			if err != nil {
				return err
			}
			attachments[i] = att
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return attachments, nil
}

func (s *LeadService) upload(ctx context.Context, f Upload) (domain.Attachment, error) {
	rc, err := f.Open()
	if err != nil {
		return domain.Attachment{}, appErrors.NewInternalError("failed to open upload", err)
	}
	defer rc.Close()

	doc, err := storage.Sniff(f.Name, rc, f.Size, s.opts.MaxUploadBytes)
	if err != nil {
		return domain.Attachment{}, err
	}
	return s.store.Upload(ctx, doc)
}

// Get returns one submission
func (s *LeadService) Get(ctx context.Context, id string) (*domain.Submission, error) {
	if !utils.IsValidUUID(id) {
		return nil, appErrors.NewNotFoundError("submission", id)
	}
	return s.repo.Get(ctx, id)
}

// List returns recent submissions, optionally filtered by status
func (s *LeadService) List(ctx context.Context, status string, limit int) ([]*domain.Submission, error) {
	st := domain.SubmissionStatus(status)
	if status != "" && !st.Valid() {
		return nil, appErrors.NewValidationError(constants.ParamStatus, "unknown status: "+status)
	}
	if limit <= 0 {
		limit = constants.DefaultLimit
	}
	if limit > constants.DefaultMaxLimit {
		limit = constants.DefaultMaxLimit
	}
	return s.repo.List(ctx, st, limit)
}

// Retry moves a failed submission back to pending with a fresh attempt budget
func (s *LeadService) Retry(ctx context.Context, id string) (*domain.Submission, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != domain.StatusFailed {
		return nil, appErrors.NewConflictError("submission", "only failed submissions can be retried, status is "+string(sub.Status))
	}

	ok, err := s.repo.Requeue(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, appErrors.NewConflictError("submission", "submission changed while retrying")
	}

	s.logger.Info("Submission requeued", zap.String("submission_id", id))
	if s.notifier != nil {
		s.notifier.Notify()
	}
	return s.repo.Get(ctx, id)
}
