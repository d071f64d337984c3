package rest

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/ideinstein/leadbridge/internal/application/services"
	"github.com/ideinstein/leadbridge/internal/domain"
	"github.com/ideinstein/leadbridge/pkg/constants"
	appErrors "github.com/ideinstein/leadbridge/pkg/errors"
	"github.com/ideinstein/leadbridge/pkg/utils"
)

const (
	// multipartOverhead covers the text fields and part headers of a quote post
	multipartOverhead = 1 << 20
	// multipartMemory is how much of a quote post is buffered before spilling to disk
	multipartMemory = 8 << 20
	filesField      = "files"
)

var acceptedMessages = map[domain.FormType]string{
	domain.FormContact:      "Thank you for your message. We will get back to you shortly.",
	domain.FormConsultation: "Thank you. We will confirm your consultation by email.",
	domain.FormNewsletter:   "Thank you for subscribing.",
	domain.FormQuote:        "Thank you. Our engineers will prepare your quote.",
}

// LeadSubmitter accepts website form posts
type LeadSubmitter interface {
	Submit(ctx context.Context, req services.LeadRequest) (*domain.Submission, error)
}

// FormHandler serves the public website forms
type FormHandler struct {
	leads     LeadSubmitter
	bodyLimit int64
}

// NewFormHandler creates a FormHandler. The multipart body limit allows every
// attachment at its maximum size plus the form fields.
func NewFormHandler(leads LeadSubmitter, maxUploadBytes int64, maxAttachments int) *FormHandler {
	files := int64(maxAttachments)
	if files < 1 {
		files = 1
	}
	return &FormHandler{
		leads:     leads,
		bodyLimit: maxUploadBytes*files + multipartOverhead,
	}
}

// SubmitContact handles POST /api/forms/contact
func (h *FormHandler) SubmitContact(c *gin.Context) {
	var form domain.ContactForm
	if !BindJSON(c, &form) {
		return
	}
	h.submit(c, &form, nil)
}

// SubmitConsultation handles POST /api/forms/consultation
func (h *FormHandler) SubmitConsultation(c *gin.Context) {
	var form domain.ConsultationForm
	if !BindJSON(c, &form) {
		return
	}
	h.submit(c, &form, nil)
}

// SubmitNewsletter handles POST /api/forms/newsletter
func (h *FormHandler) SubmitNewsletter(c *gin.Context) {
	var form domain.NewsletterForm
	if !BindJSON(c, &form) {
		return
	}
	h.submit(c, &form, nil)
}

// SubmitQuote handles POST /api/forms/quote (multipart/form-data with optional "files")
func (h *FormHandler) SubmitQuote(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.bodyLimit)

	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			RespondAppError(c, appErrors.NewTooLargeError("request body", tooLarge.Limit))
			return
		}
		RespondAppError(c, appErrors.NewValidationError("body", err.Error()))
		return
	}
	defer func() { _ = c.Request.MultipartForm.RemoveAll() }()

	var form domain.QuoteForm
	if err := c.ShouldBindWith(&form, binding.FormMultipart); err != nil {
		respondBindError(c, err)
		return
	}

	var files []services.Upload
	for _, fh := range c.Request.MultipartForm.File[filesField] {
		fh := fh
		files = append(files, services.Upload{
			Name: fh.Filename,
			Size: fh.Size,
			Open: func() (io.ReadCloser, error) { return fh.Open() },
		})
	}
	h.submit(c, &form, files)
}

func (h *FormHandler) submit(c *gin.Context, form domain.Form, files []services.Upload) {
	sub, err := h.leads.Submit(c.Request.Context(), services.LeadRequest{
		Form:       form,
		Files:      files,
		RemoteAddr: c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})

	var id string
	switch {
	case appErrors.IsSpam(err):
		// Bots get the same answer as people
		id = utils.GenerateID()
	case err != nil:
		RespondAppError(c, err)
		return
	default:
		id = sub.ID
	}

	c.JSON(http.StatusAccepted, gin.H{
		constants.FieldMessage:      acceptedMessages[form.Type()],
		constants.FieldSubmissionID: id,
	})
}
