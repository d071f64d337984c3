package services

import (
	"go.uber.org/zap"

	"github.com/ideinstein/leadbridge/internal/config"
	"github.com/ideinstein/leadbridge/internal/infrastructure/database"
	"github.com/ideinstein/leadbridge/internal/infrastructure/persistence"
	"github.com/ideinstein/leadbridge/internal/infrastructure/storage"
	"github.com/ideinstein/leadbridge/pkg/auth"
)

// Dependencies are the infrastructure pieces the services are built on
type Dependencies struct {
	Conn   *database.Connection
	CRM    CRMWriter
	Store  storage.DocumentStore
	Mapper RecordMapper
}

// ServiceManager wires all services together
type ServiceManager struct {
	Repo      *persistence.SubmissionRepository
	Leads     *LeadService
	Delivery  *DeliveryService
	Scheduler *SchedulerService
	Auth      *AuthService // nil when no admin account is configured
}

// NewServiceManager creates every service from cfg and deps
func NewServiceManager(cfg *config.Config, deps Dependencies, logger *zap.Logger) (*ServiceManager, error) {
	sm := &ServiceManager{
		Repo: persistence.NewSubmissionRepository(deps.Conn.DB()),
	}

	sm.Leads = NewLeadService(deps.Conn.DB(), sm.Repo, deps.Store, LeadOptions{
		MaxUploadBytes: cfg.MaxUploadBytes,
		MaxAttachments: cfg.MaxAttachments,
		MinFillTime:    cfg.MinFillTime,
	}, logger.Named("leads"))

	sm.Delivery = NewDeliveryService(deps.Conn, sm.Repo, deps.CRM, deps.Mapper, DeliveryOptions{
		Interval:     cfg.DeliveryInterval,
		BatchSize:    cfg.DeliveryBatch,
		MaxAttempts:  cfg.MaxDeliveryAttempt,
		RetryBackoff: cfg.RetryBackoff,
	}, logger.Named("delivery"))
	sm.Leads.SetNotifier(sm.Delivery)

	scheduler, err := NewSchedulerService(cfg.CleanupSchedule, cfg.Retention, sm.Repo, logger.Named("scheduler"))
	if err != nil {
		return nil, err
	}
	sm.Scheduler = scheduler

	if cfg.AdminEnabled() {
		issuer := auth.NewTokenIssuer(cfg.Admin.JWTSecret, cfg.Admin.TokenTTL)
		sm.Auth = NewAuthService(cfg.Admin.Email, cfg.Admin.PasswordHash, issuer, logger.Named("auth"))
	}
	return sm, nil
}

// Start launches the background workers
func (sm *ServiceManager) Start() {
	sm.Delivery.StartWorker()
	sm.Scheduler.Start()
}

// Stop halts the background workers and waits for in-flight work
func (sm *ServiceManager) Stop() {
	sm.Scheduler.Stop()
	sm.Delivery.StopWorker()
}
