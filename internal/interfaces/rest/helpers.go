package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ideinstein/leadbridge/internal/interfaces/middleware"
	"github.com/ideinstein/leadbridge/pkg/constants"
	appErrors "github.com/ideinstein/leadbridge/pkg/errors"
)

// RespondAppError sends a standardised JSON error response using pkg/errors.
// Server-side failures answer with a generic message; details stay in the log.
func RespondAppError(c *gin.Context, err error) {
	respondError(c, err, false)
}

// RespondAdminError is RespondAppError for authenticated admin routes,
// where upstream error details help the operator.
func RespondAdminError(c *gin.Context, err error) {
	respondError(c, err, true)
}

func respondError(c *gin.Context, err error, detailed bool) {
	code := appErrors.GetHTTPStatus(err)
	message := err.Error()

	if code >= http.StatusInternalServerError {
		middleware.Logger(c, zap.L()).Error("Request failed",
			zap.Int("status", code),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		var appErr appErrors.AppError
		if !detailed || !errors.As(err, &appErr) {
			message = genericMessage(code)
		}
	}

	c.JSON(code, envelope(message, appErrors.GetErrorCode(err), nil))
}

func genericMessage(code int) string {
	if code == http.StatusBadGateway {
		return "upstream service unavailable, please try again later"
	}
	return "internal server error"
}

// BindJSON binds JSON and returns true if successful. If failed, it sends bad request error.
func BindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		respondBindError(c, err)
		return false
	}
	return true
}

// respondBindError reports validation failures per field under "data"
func respondBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		RespondAppError(c, appErrors.NewValidationError("body", err.Error()))
		return
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = describeRule(fe)
	}
	verr := appErrors.NewValidationError(verrs[0].Field(), fields[verrs[0].Field()])
	c.JSON(verr.HTTPStatus(), envelope(verr.Error(), verr.Code(), fields))
}

func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "notblank":
		return "must not be blank"
	case "email":
		return "must be a valid email address"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "upcoming_date":
		return "must be a date (YYYY-MM-DD) within the next year"
	case "clock_time":
		return "must be a time of day (HH:MM)"
	case "timezone":
		return "must be an IANA time zone"
	}
	return "failed the " + fe.Tag() + " check"
}

func envelope(message, code string, data any) gin.H {
	return gin.H{
		constants.ResponseError: message,
		constants.FieldMessage:  message,
		"code":                  code,
		"data":                  data,
	}
}
