package persistence

import (
	"context"
	"fmt"

	"github.com/ideinstein/leadbridge/pkg/constants"
)

// submissionTableDDL creates the delivery queue table.
// The (status, created_date) index serves the worker's oldest-pending scan;
// next_attempt_date holds back rows that are waiting out a retry delay.
var submissionTableDDL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR(36) NOT NULL PRIMARY KEY,
	form_type VARCHAR(32) NOT NULL,
	payload JSON NOT NULL,
	attachments JSON NULL,
	status VARCHAR(16) NOT NULL DEFAULT 'pending',
	retry_count INT NOT NULL DEFAULT 0,
	crm_record_id VARCHAR(64) NULL,
	error_message TEXT NULL,
	remote_addr VARCHAR(64) NOT NULL DEFAULT '',
	user_agent VARCHAR(512) NOT NULL DEFAULT '',
	created_date DATETIME NOT NULL,
	last_modified_date DATETIME NOT NULL,
	delivered_date DATETIME NULL,
	next_attempt_date DATETIME NULL,
	INDEX idx_lead_submissions_status_created (status, created_date)
) DEFAULT CHARSET=utf8mb4`, constants.TableLeadSubmission)

// EnsureSchema creates missing tables. It is safe to run on every start.
func EnsureSchema(ctx context.Context, exec Executor) error {
	if _, err := exec.ExecContext(ctx, submissionTableDDL); err != nil {
		return fmt.Errorf("failed to create %s: %w", constants.TableLeadSubmission, err)
	}
	return nil
}
