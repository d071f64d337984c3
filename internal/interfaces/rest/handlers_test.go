package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ideinstein/leadbridge/internal/application/services"
	"github.com/ideinstein/leadbridge/internal/domain"
	"github.com/ideinstein/leadbridge/pkg/auth"
	appErrors "github.com/ideinstein/leadbridge/pkg/errors"
)

const submissionID = "6f1c2d1e-8a4b-4f7e-9a65-0b0d8c6f2e11"

// MockLeadSubmitter is a mock implementation of LeadSubmitter
type MockLeadSubmitter struct {
	mock.Mock
}

func (m *MockLeadSubmitter) Submit(ctx context.Context, req services.LeadRequest) (*domain.Submission, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Submission), args.Error(1)
}

// MockSubmissionAdmin is a mock implementation of SubmissionAdmin
type MockSubmissionAdmin struct {
	mock.Mock
}

func (m *MockSubmissionAdmin) List(ctx context.Context, status string, limit int) ([]*domain.Submission, error) {
	args := m.Called(ctx, status, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Submission), args.Error(1)
}

func (m *MockSubmissionAdmin) Get(ctx context.Context, id string) (*domain.Submission, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Submission), args.Error(1)
}

func (m *MockSubmissionAdmin) Retry(ctx context.Context, id string) (*domain.Submission, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Submission), args.Error(1)
}

// MockCRMPinger is a mock implementation of CRMPinger
type MockCRMPinger struct {
	mock.Mock
}

func (m *MockCRMPinger) Ping(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// MockAuthenticator is a mock implementation of Authenticator
type MockAuthenticator struct {
	mock.Mock
}

func (m *MockAuthenticator) Login(email, password, ip string) (*services.LoginResult, error) {
	args := m.Called(email, password, ip)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.LoginResult), args.Error(1)
}

type stubPinger struct{ err error }

func (p stubPinger) PingContext(ctx context.Context) error { return p.err }

type envelopeBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Code    string            `json:"code"`
	Data    map[string]string `json:"data"`
}

func init() {
	gin.SetMode(gin.TestMode)
}

func postJSON(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func formRouter(leads LeadSubmitter) (*gin.Engine, *FormHandler) {
	h := NewFormHandler(leads, 1<<20, 2)
	router := gin.New()
	router.POST("/api/forms/contact", h.SubmitContact)
	router.POST("/api/forms/consultation", h.SubmitConsultation)
	router.POST("/api/forms/newsletter", h.SubmitNewsletter)
	router.POST("/api/forms/quote", h.SubmitQuote)
	return router, h
}

func TestFormHandler_JSONForms(t *testing.T) {
	t.Run("Contact is accepted", func(t *testing.T) {
		leads := new(MockLeadSubmitter)
		router, _ := formRouter(leads)

		leads.On("Submit", mock.Anything, mock.MatchedBy(func(req services.LeadRequest) bool {
			form, ok := req.Form.(*domain.ContactForm)
			return ok && form.Email == "ada@example.com" && req.RemoteAddr == "192.0.2.1" && len(req.Files) == 0
		})).Return(&domain.Submission{ID: submissionID}, nil).Once()

		w := postJSON(router, "/api/forms/contact", `{"name":"Ada","email":"ada@example.com","message":"Hello"}`)

		assert.Equal(t, http.StatusAccepted, w.Code)
		body := decode[map[string]string](t, w)
		assert.Equal(t, submissionID, body["submission_id"])
		assert.NotEmpty(t, body["message"])
		leads.AssertExpectations(t)
	})

	t.Run("Missing fields are reported by JSON name", func(t *testing.T) {
		leads := new(MockLeadSubmitter)
		router, _ := formRouter(leads)

		w := postJSON(router, "/api/forms/contact", `{"name":"Ada","email":"not-an-email"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		body := decode[envelopeBody](t, w)
		assert.Equal(t, "VALIDATION_ERROR", body.Code)
		assert.Equal(t, "must be a valid email address", body.Data["email"])
		assert.Equal(t, "is required", body.Data["message"])
		leads.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
	})

	t.Run("Malformed JSON", func(t *testing.T) {
		leads := new(MockLeadSubmitter)
		router, _ := formRouter(leads)

		w := postJSON(router, "/api/forms/newsletter", `{"email":`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "VALIDATION_ERROR", decode[envelopeBody](t, w).Code)
	})

	t.Run("Spam gets an ordinary answer", func(t *testing.T) {
		leads := new(MockLeadSubmitter)
		router, _ := formRouter(leads)
		leads.On("Submit", mock.Anything, mock.Anything).Return(nil, appErrors.NewSpamError("honeypot filled")).Once()

		w := postJSON(router, "/api/forms/newsletter", `{"email":"bot@example.com","website":"http://spam"}`)

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Len(t, decode[map[string]string](t, w)["submission_id"], 36)
	})

	t.Run("Database outage is a 500", func(t *testing.T) {
		leads := new(MockLeadSubmitter)
		router, _ := formRouter(leads)
		leads.On("Submit", mock.Anything, mock.Anything).Return(nil, errors.New("dial tcp: connection refused")).Once()

		w := postJSON(router, "/api/forms/newsletter", `{"email":"a@example.com"}`)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		body := decode[envelopeBody](t, w)
		assert.Equal(t, "internal server error", body.Message)
		assert.NotContains(t, w.Body.String(), "connection refused")
	})

	t.Run("Upstream failure does not echo provider details", func(t *testing.T) {
		leads := new(MockLeadSubmitter)
		router, _ := formRouter(leads)
		leads.On("Submit", mock.Anything, mock.Anything).
			Return(nil, appErrors.NewUpstreamError("document storage", 503, "quota exceeded for folder 1AbCdEf", nil)).Once()

		w := postJSON(router, "/api/forms/contact", `{"name":"Ada","email":"ada@example.com","message":"Hello"}`)

		assert.Equal(t, http.StatusBadGateway, w.Code)
		body := decode[envelopeBody](t, w)
		assert.Equal(t, "UPSTREAM_ERROR", body.Code)
		assert.NotContains(t, w.Body.String(), "quota exceeded")
		assert.NotContains(t, w.Body.String(), "1AbCdEf")
	})

	t.Run("Whitespace-only required fields are rejected", func(t *testing.T) {
		leads := new(MockLeadSubmitter)
		router, _ := formRouter(leads)

		w := postJSON(router, "/api/forms/contact", `{"name":"   ","email":"ada@example.com","message":"\t\n "}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		body := decode[envelopeBody](t, w)
		assert.Equal(t, "VALIDATION_ERROR", body.Code)
		assert.Equal(t, "must not be blank", body.Data["name"])
		assert.Equal(t, "must not be blank", body.Data["message"])
		leads.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
	})
}

func TestFormHandler_ConsultationDates(t *testing.T) {
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	validationNow = func() time.Time { return now }
	t.Cleanup(func() { validationNow = time.Now })

	cases := []struct {
		name   string
		date   string
		time   string
		status int
	}{
		{"Next week", "2026-05-11", "14:30", http.StatusAccepted},
		{"Today", "2026-05-04", "", http.StatusAccepted},
		{"Past", "2026-04-01", "", http.StatusBadRequest},
		{"Too far ahead", "2027-06-01", "", http.StatusBadRequest},
		{"Not a date", "next tuesday", "", http.StatusBadRequest},
		{"Bad time", "2026-05-11", "25:99", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			leads := new(MockLeadSubmitter)
			router, _ := formRouter(leads)
			leads.On("Submit", mock.Anything, mock.Anything).Return(&domain.Submission{ID: submissionID}, nil).Maybe()

			body, _ := json.Marshal(map[string]string{
				"name": "Grace", "email": "grace@example.com", "service": "cad",
				"preferred_date": tc.date, "preferred_time": tc.time,
			})
			w := postJSON(router, "/api/forms/consultation", string(body))

			assert.Equal(t, tc.status, w.Code, w.Body.String())
		})
	}
}

func multipartQuote(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for name, content := range files {
		part, err := mw.CreateFormFile(filesField, name)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

var quoteFields = map[string]string{
	"name":                "Grace Hopper",
	"email":               "grace@example.com",
	"company":             "Cobol Works",
	"service":             "FEA",
	"project_description": "Stress analysis of a bracket",
	"budget":              "5k_20k",
	"started_at":          "1700000000000",
}

func TestFormHandler_SubmitQuote(t *testing.T) {
	t.Run("Fields and files reach the service", func(t *testing.T) {
		leads := new(MockLeadSubmitter)
		router, _ := formRouter(leads)

		var fileContent []byte
		leads.On("Submit", mock.Anything, mock.MatchedBy(func(req services.LeadRequest) bool {
			form, ok := req.Form.(*domain.QuoteForm)
			return ok && form.Company == "Cobol Works" && form.StartedAt == 1700000000000 && len(req.Files) == 1
		})).Run(func(args mock.Arguments) {
			req := args.Get(1).(services.LeadRequest)
			assert.Equal(t, "drawing.pdf", req.Files[0].Name)
			rc, err := req.Files[0].Open()
			require.NoError(t, err)
			defer rc.Close()
			fileContent, _ = io.ReadAll(rc)
		}).Return(&domain.Submission{ID: submissionID}, nil).Once()

		body, contentType := multipartQuote(t, quoteFields, map[string][]byte{"drawing.pdf": []byte("%PDF-1.4")})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/forms/quote", body)
		req.Header.Set("Content-Type", contentType)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
		assert.Equal(t, []byte("%PDF-1.4"), fileContent)
		leads.AssertExpectations(t)
	})

	t.Run("Invalid budget", func(t *testing.T) {
		leads := new(MockLeadSubmitter)
		router, _ := formRouter(leads)

		fields := map[string]string{}
		for k, v := range quoteFields {
			fields[k] = v
		}
		fields["budget"] = "lots"
		body, contentType := multipartQuote(t, fields, nil)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/forms/quote", body)
		req.Header.Set("Content-Type", contentType)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decode[envelopeBody](t, w).Data, "budget")
		leads.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
	})

	t.Run("Blank service is rejected", func(t *testing.T) {
		leads := new(MockLeadSubmitter)
		router, _ := formRouter(leads)

		fields := map[string]string{}
		for k, v := range quoteFields {
			fields[k] = v
		}
		fields["service"] = "   "
		body, contentType := multipartQuote(t, fields, nil)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/forms/quote", body)
		req.Header.Set("Content-Type", contentType)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "must not be blank", decode[envelopeBody](t, w).Data["service"])
		leads.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
	})

	t.Run("Oversized body", func(t *testing.T) {
		leads := new(MockLeadSubmitter)
		router, h := formRouter(leads)
		h.bodyLimit = 1024

		body, contentType := multipartQuote(t, quoteFields, map[string][]byte{"big.pdf": bytes.Repeat([]byte("x"), 64<<10)})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/forms/quote", body)
		req.Header.Set("Content-Type", contentType)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Equal(t, "PAYLOAD_TOO_LARGE", decode[envelopeBody](t, w).Code)
		leads.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
	})

	t.Run("JSON body is rejected", func(t *testing.T) {
		leads := new(MockLeadSubmitter)
		router, _ := formRouter(leads)

		w := postJSON(router, "/api/forms/quote", `{"name":"Grace"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Rejected attachment type", func(t *testing.T) {
		leads := new(MockLeadSubmitter)
		router, _ := formRouter(leads)
		leads.On("Submit", mock.Anything, mock.Anything).
			Return(nil, appErrors.NewValidationError("files", "run.exe: file type not allowed")).Once()

		body, contentType := multipartQuote(t, quoteFields, map[string][]byte{"run.exe": []byte("MZ")})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/forms/quote", body)
		req.Header.Set("Content-Type", contentType)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestNewFormHandlerBodyLimit(t *testing.T) {
	assert.Equal(t, int64(3*1024+multipartOverhead), NewFormHandler(nil, 1024, 3).bodyLimit)
	assert.Equal(t, int64(1024+multipartOverhead), NewFormHandler(nil, 1024, 0).bodyLimit)
}

func adminRouter(submissions SubmissionAdmin, crm CRMPinger) *gin.Engine {
	h := NewAdminHandler(submissions, crm)
	router := gin.New()
	router.GET("/submissions", h.ListSubmissions)
	router.GET("/submissions/:id", h.GetSubmission)
	router.POST("/submissions/:id/retry", h.RetrySubmission)
	router.GET("/crm/ping", h.PingCRM)
	return router
}

func TestAdminHandler(t *testing.T) {
	t.Run("List passes filters", func(t *testing.T) {
		subs := new(MockSubmissionAdmin)
		router := adminRouter(subs, new(MockCRMPinger))
		subs.On("List", mock.Anything, "failed", 20).
			Return([]*domain.Submission{{ID: submissionID, Status: domain.StatusFailed}}, nil).Once()

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/submissions?status=failed&limit=20", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), submissionID)
		subs.AssertExpectations(t)
	})

	t.Run("List rejects bad limit", func(t *testing.T) {
		subs := new(MockSubmissionAdmin)
		router := adminRouter(subs, new(MockCRMPinger))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/submissions?limit=ten", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		subs.AssertNotCalled(t, "List", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Get unknown submission", func(t *testing.T) {
		subs := new(MockSubmissionAdmin)
		router := adminRouter(subs, new(MockCRMPinger))
		subs.On("Get", mock.Anything, "missing").Return(nil, appErrors.NewNotFoundError("submission", "missing")).Once()

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/submissions/missing", nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "NOT_FOUND", decode[envelopeBody](t, w).Code)
	})

	t.Run("Retry delivered submission conflicts", func(t *testing.T) {
		subs := new(MockSubmissionAdmin)
		router := adminRouter(subs, new(MockCRMPinger))
		subs.On("Retry", mock.Anything, submissionID).
			Return(nil, appErrors.NewConflictError("submission", "only failed submissions can be retried")).Once()

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/submissions/"+submissionID+"/retry", nil))

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("Retry requeues", func(t *testing.T) {
		subs := new(MockSubmissionAdmin)
		router := adminRouter(subs, new(MockCRMPinger))
		subs.On("Retry", mock.Anything, submissionID).
			Return(&domain.Submission{ID: submissionID, Status: domain.StatusPending}, nil).Once()

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/submissions/"+submissionID+"/retry", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"pending"`)
	})

	t.Run("Ping reports organization", func(t *testing.T) {
		crm := new(MockCRMPinger)
		router := adminRouter(new(MockSubmissionAdmin), crm)
		crm.On("Ping", mock.Anything).Return("Ideinstein Engineering", nil).Once()

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/crm/ping", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Ideinstein Engineering", decode[map[string]string](t, w)["organization"])
	})

	t.Run("Ping surfaces upstream failure", func(t *testing.T) {
		crm := new(MockCRMPinger)
		router := adminRouter(new(MockSubmissionAdmin), crm)
		crm.On("Ping", mock.Anything).Return("", appErrors.NewPermanentUpstreamError("crm", 401, "invalid_grant")).Once()

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/crm/ping", nil))

		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Contains(t, decode[envelopeBody](t, w).Message, "invalid_grant")
	})
}

func TestAuthHandler_Login(t *testing.T) {
	expires := time.Date(2026, 5, 5, 0, 0, 0, 0, time.UTC)

	t.Run("Success", func(t *testing.T) {
		authMock := new(MockAuthenticator)
		router := gin.New()
		router.POST("/login", NewAuthHandler(authMock).Login)
		authMock.On("Login", "ops@example.com", "Correct-Horse-9!", "192.0.2.1").Return(&services.LoginResult{
			Token:     "jwt",
			Admin:     auth.AdminSession{Email: "ops@example.com"},
			ExpiresAt: expires,
		}, nil).Once()

		w := postJSON(router, "/login", `{"email":"ops@example.com","password":"Correct-Horse-9!"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		body := decode[map[string]any](t, w)
		assert.Equal(t, "jwt", body["token"])
		assert.Equal(t, "2026-05-05T00:00:00Z", body["expires_at"])
		authMock.AssertExpectations(t)
	})

	t.Run("Wrong password", func(t *testing.T) {
		authMock := new(MockAuthenticator)
		router := gin.New()
		router.POST("/login", NewAuthHandler(authMock).Login)
		authMock.On("Login", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, appErrors.NewUnauthorizedError("Invalid email or password")).Once()

		w := postJSON(router, "/login", `{"email":"ops@example.com","password":"nope"}`)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "UNAUTHORIZED", decode[envelopeBody](t, w).Code)
	})

	t.Run("Missing password", func(t *testing.T) {
		authMock := new(MockAuthenticator)
		router := gin.New()
		router.POST("/login", NewAuthHandler(authMock).Login)

		w := postJSON(router, "/login", `{"email":"ops@example.com"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		authMock.AssertNotCalled(t, "Login", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestHealthHandler(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"Database up", nil, http.StatusOK},
		{"Database down", errors.New("connection refused"), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/health", NewHealthHandler(stubPinger{err: tc.err}).Health)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tc.status, w.Code)
		})
	}
}
