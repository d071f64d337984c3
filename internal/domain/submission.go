package domain

import "time"

// SubmissionStatus tracks delivery of a submission to the CRM
type SubmissionStatus string

const (
	StatusPending   SubmissionStatus = "pending"
	StatusDelivered SubmissionStatus = "delivered"
	StatusFailed    SubmissionStatus = "failed"
)

// Valid reports whether s is a known status
func (s SubmissionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusDelivered, StatusFailed:
		return true
	}
	return false
}

// Attachment is a file already handed to document storage
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	ResourceID  string `json:"resource_id"`
	URL         string `json:"url"`
}

// Submission is one accepted form post waiting for, or done with, CRM delivery
type Submission struct {
	ID               string           `json:"id"`
	FormType         FormType         `json:"form_type"`
	Payload          map[string]any   `json:"payload"`
	Attachments      []Attachment     `json:"attachments,omitempty"`
	Status           SubmissionStatus `json:"status"`
	RetryCount       int              `json:"retry_count"`
	CRMRecordID      string           `json:"crm_record_id,omitempty"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	RemoteAddr       string           `json:"remote_addr,omitempty"`
	UserAgent        string           `json:"user_agent,omitempty"`
	CreatedDate      time.Time        `json:"created_date"`
	LastModifiedDate time.Time        `json:"last_modified_date"`
	DeliveredDate    *time.Time       `json:"delivered_date,omitempty"`
}
