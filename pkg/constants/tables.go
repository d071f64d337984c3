package constants

// Table names
const (
	TableLeadSubmission = "lead_submissions"
)

// Column names of lead_submissions
const (
	FieldID               = "id"
	FieldFormType         = "form_type"
	FieldPayload          = "payload"
	FieldAttachments      = "attachments"
	FieldStatus           = "status"
	FieldRetryCount       = "retry_count"
	FieldCRMRecordID      = "crm_record_id"
	FieldErrorMessage     = "error_message"
	FieldRemoteAddr       = "remote_addr"
	FieldUserAgent        = "user_agent"
	FieldCreatedDate      = "created_date"
	FieldLastModifiedDate = "last_modified_date"
	FieldDeliveredDate    = "delivered_date"
)
