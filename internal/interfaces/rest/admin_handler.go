package rest

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ideinstein/leadbridge/internal/domain"
	"github.com/ideinstein/leadbridge/pkg/constants"
	appErrors "github.com/ideinstein/leadbridge/pkg/errors"
)

// SubmissionAdmin is the operator view of the submission queue
type SubmissionAdmin interface {
	List(ctx context.Context, status string, limit int) ([]*domain.Submission, error)
	Get(ctx context.Context, id string) (*domain.Submission, error)
	Retry(ctx context.Context, id string) (*domain.Submission, error)
}

// CRMPinger checks CRM credentials
type CRMPinger interface {
	Ping(ctx context.Context) (string, error)
}

// AdminHandler serves the operator endpoints
type AdminHandler struct {
	submissions SubmissionAdmin
	crm         CRMPinger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(submissions SubmissionAdmin, crm CRMPinger) *AdminHandler {
	return &AdminHandler{submissions: submissions, crm: crm}
}

// ListSubmissions handles GET /api/admin/submissions?status=&limit=
func (h *AdminHandler) ListSubmissions(c *gin.Context) {
	limit := 0
	if raw := c.Query(constants.ParamLimit); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			RespondAppError(c, appErrors.NewValidationError(constants.ParamLimit, "must be a non-negative integer"))
			return
		}
		limit = n
	}

	subs, err := h.submissions.List(c.Request.Context(), c.Query(constants.ParamStatus), limit)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{constants.ResponseSubmissions: subs})
}

// GetSubmission handles GET /api/admin/submissions/:id
func (h *AdminHandler) GetSubmission(c *gin.Context) {
	sub, err := h.submissions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{constants.ResponseSubmission: sub})
}

// RetrySubmission handles POST /api/admin/submissions/:id/retry
func (h *AdminHandler) RetrySubmission(c *gin.Context) {
	sub, err := h.submissions.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{constants.ResponseSubmission: sub})
}

// PingCRM handles GET /api/admin/crm/ping
func (h *AdminHandler) PingCRM(c *gin.Context) {
	org, err := h.crm.Ping(c.Request.Context())
	if err != nil {
		RespondAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "organization": org})
}
