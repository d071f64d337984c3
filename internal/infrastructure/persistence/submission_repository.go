package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ideinstein/leadbridge/internal/domain"
	"github.com/ideinstein/leadbridge/pkg/constants"
	appErrors "github.com/ideinstein/leadbridge/pkg/errors"
)

const submissionColumns = "id, form_type, payload, attachments, status, retry_count, crm_record_id, error_message, remote_addr, user_agent, created_date, last_modified_date, delivered_date"

// SubmissionRepository handles database operations for the lead delivery queue
type SubmissionRepository struct {
	db *sql.DB
}

// NewSubmissionRepository creates a new SubmissionRepository
func NewSubmissionRepository(db *sql.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// Enqueue inserts a new pending submission
func (r *SubmissionRepository) Enqueue(ctx context.Context, exec Executor, s *domain.Submission) error {
	payloadJSON, err := json.Marshal(s.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal submission payload: %w", err)
	}
	attachmentsJSON, err := json.Marshal(s.Attachments)
	if err != nil {
		return fmt.Errorf("failed to marshal submission attachments: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, form_type, payload, attachments, status, retry_count, remote_addr, user_agent, created_date, last_modified_date) VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		constants.TableLeadSubmission)

	_, err = exec.ExecContext(ctx, query,
		s.ID, string(s.FormType), payloadJSON, attachmentsJSON, string(domain.StatusPending),
		s.RemoteAddr, s.UserAgent, s.CreatedDate, s.CreatedDate)
	if err != nil {
		return fmt.Errorf("failed to enqueue submission: %w", err)
	}
	return nil
}

// GetPendingIDs returns IDs of pending submissions that are due at now, oldest first
func (r *SubmissionRepository) GetPendingIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := fmt.Sprintf(`SELECT id FROM %s WHERE status = ? AND (next_attempt_date IS NULL OR next_attempt_date <= ?) ORDER BY created_date ASC LIMIT ?`,
		constants.TableLeadSubmission)

	rows, err := r.db.QueryContext(ctx, query, string(domain.StatusPending), now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending submissions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan pending submission: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Claim locks a pending submission inside tx. It returns nil when another
// worker holds the row or it is no longer pending.
func (r *SubmissionRepository) Claim(ctx context.Context, tx Executor, id string) (*domain.Submission, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ? AND status = ? FOR UPDATE SKIP LOCKED`,
		submissionColumns, constants.TableLeadSubmission)

	s, err := scanSubmission(tx.QueryRowContext(ctx, query, id, string(domain.StatusPending)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim submission: %w", err)
	}
	return s, nil
}

// Get loads a submission by ID
func (r *SubmissionRepository) Get(ctx context.Context, id string) (*domain.Submission, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, submissionColumns, constants.TableLeadSubmission)

	s, err := scanSubmission(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, appErrors.NewNotFoundError("submission", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load submission: %w", err)
	}
	return s, nil
}

// List returns the most recent submissions, optionally filtered by status
func (r *SubmissionRepository) List(ctx context.Context, status domain.SubmissionStatus, limit int) ([]*domain.Submission, error) {
	var (
		query string
		args  []interface{}
	)
	if status != "" {
		query = fmt.Sprintf(`SELECT %s FROM %s WHERE status = ? ORDER BY created_date DESC LIMIT ?`,
			submissionColumns, constants.TableLeadSubmission)
		args = []interface{}{string(status), limit}
	} else {
		query = fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_date DESC LIMIT ?`,
			submissionColumns, constants.TableLeadSubmission)
		args = []interface{}{limit}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	submissions := make([]*domain.Submission, 0)
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		submissions = append(submissions, s)
	}
	return submissions, rows.Err()
}

// MarkDelivered records a successful CRM delivery
func (r *SubmissionRepository) MarkDelivered(ctx context.Context, exec Executor, id, crmRecordID string) error {
	query := fmt.Sprintf(`UPDATE %s SET status = ?, crm_record_id = ?, error_message = NULL, delivered_date = NOW(), last_modified_date = NOW() WHERE id = ?`,
		constants.TableLeadSubmission)

	_, err := exec.ExecContext(ctx, query, string(domain.StatusDelivered), crmRecordID, id)
	return err
}

// MarkFailed parks a submission that will not be retried automatically
func (r *SubmissionRepository) MarkFailed(ctx context.Context, exec Executor, id, errMessage string) error {
	query := fmt.Sprintf(`UPDATE %s SET status = ?, error_message = ?, last_modified_date = NOW() WHERE id = ?`,
		constants.TableLeadSubmission)

	_, err := exec.ExecContext(ctx, query, string(domain.StatusFailed), errMessage, id)
	return err
}

// IncrementRetry records a transient failure; the row stays pending until nextAttempt
func (r *SubmissionRepository) IncrementRetry(ctx context.Context, exec Executor, id string, newCount int, errMessage string, nextAttempt time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET retry_count = ?, error_message = ?, next_attempt_date = ?, last_modified_date = NOW() WHERE id = ?`,
		constants.TableLeadSubmission)

	_, err := exec.ExecContext(ctx, query, newCount, errMessage, nextAttempt, id)
	return err
}

// Requeue moves a failed submission back to pending with a fresh retry budget.
// It reports false when the row is missing or not failed.
func (r *SubmissionRepository) Requeue(ctx context.Context, id string) (bool, error) {
	query := fmt.Sprintf(`UPDATE %s SET status = ?, retry_count = 0, error_message = NULL, next_attempt_date = NULL, last_modified_date = NOW() WHERE id = ? AND status = ?`,
		constants.TableLeadSubmission)

	result, err := r.db.ExecContext(ctx, query, string(domain.StatusPending), id, string(domain.StatusFailed))
	if err != nil {
		return false, fmt.Errorf("failed to requeue submission: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CleanupDelivered deletes delivered submissions older than cutoff
func (r *SubmissionRepository) CleanupDelivered(ctx context.Context, cutoff time.Time) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE status = ? AND delivered_date < ?`, constants.TableLeadSubmission)

	result, err := r.db.ExecContext(ctx, query, string(domain.StatusDelivered), cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubmission(row rowScanner) (*domain.Submission, error) {
	var (
		s           domain.Submission
		formType    string
		status      string
		payload     []byte
		attachments []byte
		crmID       sql.NullString
		errMessage  sql.NullString
		delivered   sql.NullTime
	)
	if err := row.Scan(&s.ID, &formType, &payload, &attachments, &status, &s.RetryCount,
		&crmID, &errMessage, &s.RemoteAddr, &s.UserAgent, &s.CreatedDate, &s.LastModifiedDate, &delivered); err != nil {
		return nil, err
	}

	s.FormType = domain.FormType(formType)
	s.Status = domain.SubmissionStatus(status)
	s.CRMRecordID = crmID.String
	s.ErrorMessage = errMessage.String
	if delivered.Valid {
		t := delivered.Time
		s.DeliveredDate = &t
	}

	if err := json.Unmarshal(payload, &s.Payload); err != nil {
		return nil, fmt.Errorf("invalid payload for submission %s: %w", s.ID, err)
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &s.Attachments); err != nil {
			return nil, fmt.Errorf("invalid attachments for submission %s: %w", s.ID, err)
		}
	}
	return &s, nil
}
