package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageRepository provides access to messages and owns the transactional
// coupling between a status transition and its delivery attempt row.
type MessageRepository struct {
	db *sql.DB
}

// NewMessageRepository creates a new message repository.
func NewMessageRepository(client *Client) *MessageRepository {
	return &MessageRepository{db: client.DB()}
}

const messageColumns = `id, webhook_config_id, payload, target_url, signature, headers,
	status, retry_count, next_retry, last_error, created_at, updated_at`

// Create inserts a new message. The id is generated if empty (UUIDv7,
// time-sortable) and timestamps are set server-side.
func (r *MessageRepository) Create(ctx context.Context, msg *Message) error {
	headersJSON, err := json.Marshal(msg.Headers)
	if err != nil {
		return err
	}

	if msg.ID == "" {
		msg.ID = uuid.Must(uuid.NewV7()).String()
	}
	if msg.Status == "" {
		msg.Status = StatusPending
	}
	now := time.Now().UTC()
	msg.CreatedAt = now
	msg.UpdatedAt = now

	query := `
		INSERT INTO messages (id, webhook_config_id, payload, target_url, signature, headers,
			status, retry_count, next_retry, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.db.ExecContext(ctx, query,
		msg.ID,
		msg.WebhookConfigID,
		msg.Payload,
		msg.TargetURL,
		msg.Signature,
		string(headersJSON),
		msg.Status,
		msg.RetryCount,
		nullTime(msg.NextRetry),
		msg.LastError,
		msg.CreatedAt,
		msg.UpdatedAt,
	)
	return err
}

// GetByID retrieves a message by id.
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	msg, err := r.scan(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return msg, nil
}

// ClaimForProcessing atomically transitions a message from pending, or from
// retryable-failed once its next_retry is due, to processing. It returns
// false in any other state: another worker owns the message, its retry is
// not due yet, or it is terminal. Terminal rows (delivered, cancelled, or
// failed with a NULL next_retry) never match, so a redelivered bus task
// cannot re-open a finished message. This CAS is the sole serialization
// point for dispatch.
func (r *MessageRepository) ClaimForProcessing(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE messages
		SET status = 'processing', updated_at = $1
		WHERE id = $2
		  AND (status = 'pending' OR (status = 'failed' AND next_retry IS NOT NULL AND next_retry <= $3))
	`

	result, err := r.db.ExecContext(ctx, query, now.UTC(), id, now.UTC())
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// FinishDelivered records a successful attempt and transitions the message
// from processing to delivered in one transaction. The message's retry_count
// becomes the attempt number.
func (r *MessageRepository) FinishDelivered(ctx context.Context, id string, attempt *DeliveryAttempt, now time.Time) error {
	return r.finish(ctx, id, attempt, StatusDelivered, nil, nil, now)
}

// FinishFailed records a failed attempt (nil for the no-attempt expiry path)
// and transitions the message from processing to failed in one transaction.
// A nil nextRetry makes the failure terminal.
func (r *MessageRepository) FinishFailed(ctx context.Context, id string, attempt *DeliveryAttempt, lastError string, nextRetry *time.Time, now time.Time) error {
	return r.finish(ctx, id, attempt, StatusFailed, &lastError, nextRetry, now)
}

// finish is the single owner of the processing -> terminal/retryable
// transition. The attempt insert and the status update commit atomically;
// a message not in processing aborts with ErrInvalidTransition.
func (r *MessageRepository) finish(ctx context.Context, id string, attempt *DeliveryAttempt, status MessageStatus, lastError *string, nextRetry *time.Time, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	retryCountSQL := "retry_count"
	if attempt != nil {
		if err := insertAttempt(ctx, tx, attempt); err != nil {
			return fmt.Errorf("failed to append attempt: %w", err)
		}
		// retry_count equals the number of finished attempts
		retryCountSQL = fmt.Sprintf("%d", attempt.AttemptNumber)
	}

	query := fmt.Sprintf(`
		UPDATE messages
		SET status = '%s', retry_count = %s, next_retry = $1, last_error = $2, updated_at = $3
		WHERE id = $4 AND status = 'processing'
	`, status, retryCountSQL)

	result, err := tx.ExecContext(ctx, query, nullTime(nextRetry), lastError, now.UTC(), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: message %s is not processing", ErrInvalidTransition, id)
	}

	return tx.Commit()
}

// Cancel transitions a message to cancelled. It applies only while the
// message is pending or failed-with-retries-left; processing and terminal
// messages are left untouched and false is returned.
func (r *MessageRepository) Cancel(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE messages
		SET status = 'cancelled', next_retry = NULL, updated_at = $1
		WHERE id = $2
		  AND (status = 'pending' OR (status = 'failed' AND next_retry IS NOT NULL))
	`

	result, err := r.db.ExecContext(ctx, query, now.UTC(), id)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// Requeue puts a failed message back into pending so the scheduler picks it
// up immediately, optionally overriding the destination. Used by the admin
// retry operations; each requeue grants exactly one further attempt since
// retry_count is never rewound.
func (r *MessageRepository) Requeue(ctx context.Context, id string, targetOverride *string, now time.Time) (bool, error) {
	query := `
		UPDATE messages
		SET status = 'pending', next_retry = NULL, target_url = COALESCE($1, target_url), updated_at = $2
		WHERE id = $3 AND status = 'failed'
	`

	result, err := r.db.ExecContext(ctx, query, targetOverride, now.UTC(), id)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// RequeueFailedSince requeues up to limit terminally failed messages whose
// last update is at or after since. Returns the requeued ids.
func (r *MessageRepository) RequeueFailedSince(ctx context.Context, since time.Time, limit int, targetOverride *string, now time.Time) ([]string, error) {
	query := `
		SELECT id FROM messages
		WHERE status = 'failed' AND next_retry IS NULL AND updated_at >= $1
		ORDER BY updated_at ASC
		LIMIT $2
	`

	ids, err := r.queryIDs(ctx, query, since.UTC(), limit)
	if err != nil {
		return nil, err
	}

	requeued := make([]string, 0, len(ids))
	for _, id := range ids {
		ok, err := r.Requeue(ctx, id, targetOverride, now)
		if err != nil {
			return requeued, err
		}
		if ok {
			requeued = append(requeued, id)
		}
	}

	return requeued, nil
}

// FindReadyForRetry returns ids of failed messages whose next_retry is due,
// oldest due first.
func (r *MessageRepository) FindReadyForRetry(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
		SELECT id FROM messages
		WHERE status = 'failed' AND next_retry IS NOT NULL AND next_retry <= $1
		ORDER BY next_retry ASC
		LIMIT $2
	`
	return r.queryIDs(ctx, query, now.UTC(), limit)
}

// FindPending returns ids of pending messages created at or before olderThan,
// oldest first. The age guard keeps the scheduler from racing messages whose
// bus publish is still in flight.
func (r *MessageRepository) FindPending(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	query := `
		SELECT id FROM messages
		WHERE status = 'pending' AND created_at <= $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	return r.queryIDs(ctx, query, olderThan.UTC(), limit)
}

// RecoverStuck flips processing messages whose updated_at is older than
// threshold back to failed with an immediate next_retry, so the next
// scheduler tick re-dispatches them. This is the only path that reverts
// processing without appending an attempt.
func (r *MessageRepository) RecoverStuck(ctx context.Context, threshold, now time.Time) (int64, error) {
	query := `
		UPDATE messages
		SET status = 'failed', next_retry = $1, last_error = 'processing timeout', updated_at = $2
		WHERE status = 'processing' AND updated_at < $3
	`

	result, err := r.db.ExecContext(ctx, query, now.UTC(), now.UTC(), threshold.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// FindTerminalBefore returns terminal messages created before cutoff, for
// archival ahead of deletion.
func (r *MessageRepository) FindTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Message, error) {
	query := `
		SELECT ` + messageColumns + ` FROM messages
		WHERE (status IN ('delivered', 'cancelled') OR (status = 'failed' AND next_retry IS NULL))
		  AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, cutoff.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var messages []*Message
	for rows.Next() {
		msg, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// DeleteOld removes terminal messages created before cutoff. Attempts go
// with them via FK cascade.
func (r *MessageRepository) DeleteOld(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM messages
		WHERE (status IN ('delivered', 'cancelled') OR (status = 'failed' AND next_retry IS NULL))
		  AND created_at < $1
	`

	result, err := r.db.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteByIDs removes the given messages. The janitor calls it per archived
// batch so a failed archive upload never loses rows.
func (r *MessageRepository) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := `DELETE FROM messages WHERE id IN (` + strings.Join(placeholders, ", ") + `)`

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Stats returns message counts grouped by status.
func (r *MessageRepository) Stats(ctx context.Context) (map[string]int64, error) {
	query := `SELECT status, COUNT(*) FROM messages GROUP BY status`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	stats := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}

	return stats, rows.Err()
}

func (r *MessageRepository) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (r *MessageRepository) scan(row rowScanner) (*Message, error) {
	msg := &Message{}
	var headersJSON string
	var nextRetry sql.NullTime

	if err := row.Scan(
		&msg.ID,
		&msg.WebhookConfigID,
		&msg.Payload,
		&msg.TargetURL,
		&msg.Signature,
		&headersJSON,
		&msg.Status,
		&msg.RetryCount,
		&nextRetry,
		&msg.LastError,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if nextRetry.Valid {
		t := nextRetry.Time.UTC()
		msg.NextRetry = &t
	}
	if err := json.Unmarshal([]byte(headersJSON), &msg.Headers); err != nil {
		return nil, err
	}

	return msg, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
