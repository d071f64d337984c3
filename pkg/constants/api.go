package constants

// HTTP and API constants
const (
	// Content types
	ContentTypeJSON      = "application/json"
	ContentTypeMultipart = "multipart/form-data"

	// HTTP Headers
	HeaderContentType   = "Content-Type"
	HeaderAuthorization = "Authorization"
	HeaderXRequestID    = "X-Request-ID"

	// Auth
	BearerPrefix = "Bearer "

	// Response Keys
	ResponseError       = "error"
	ResponseSubmission  = "submission"
	ResponseSubmissions = "submissions"
	ResponseToken       = "token"
	FieldMessage        = "message"
	FieldSubmissionID   = "submission_id"
)

// Query parameter constants
const (
	ParamLimit  = "limit"
	ParamStatus = "status"

	DefaultLimit    = 50
	DefaultMaxLimit = 500
)

// Context Keys
const (
	ContextKeyAdmin     = "admin"
	ContextKeyRequestID = "request_id"
	ContextKeyLogger    = "logger"
)
