package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AttemptRepository provides read access to delivery attempts. Writes go
// through the message repository so an attempt always commits together with
// the status transition it caused.
type AttemptRepository struct {
	db *sql.DB
}

// NewAttemptRepository creates a new attempt repository.
func NewAttemptRepository(client *Client) *AttemptRepository {
	return &AttemptRepository{db: client.DB()}
}

const attemptColumns = `id, message_id, attempt_number, attempted_at, status_code,
	response_body, error, request_duration_ms, target_url, response_headers, processing_node`

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertAttempt appends one attempt row. The UNIQUE(message_id,
// attempt_number) constraint rejects duplicate attempt numbers, which would
// indicate two workers dispatching the same message.
func insertAttempt(ctx context.Context, e execer, a *DeliveryAttempt) error {
	headersJSON, err := json.Marshal(a.ResponseHeaders)
	if err != nil {
		return err
	}

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.AttemptedAt.IsZero() {
		a.AttemptedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO delivery_attempts (id, message_id, attempt_number, attempted_at, status_code,
			response_body, error, request_duration_ms, target_url, response_headers, processing_node)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = e.ExecContext(ctx, query,
		a.ID,
		a.MessageID,
		a.AttemptNumber,
		a.AttemptedAt.UTC(),
		a.StatusCode,
		a.ResponseBody,
		a.Error,
		a.RequestDurationMs,
		a.TargetURL,
		string(headersJSON),
		a.ProcessingNode,
	)
	return err
}

// ListByMessage returns all attempts for a message in attempt order.
func (r *AttemptRepository) ListByMessage(ctx context.Context, messageID string) ([]*DeliveryAttempt, error) {
	query := `
		SELECT ` + attemptColumns + ` FROM delivery_attempts
		WHERE message_id = $1
		ORDER BY attempt_number ASC
	`

	rows, err := r.db.QueryContext(ctx, query, messageID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var attempts []*DeliveryAttempt
	for rows.Next() {
		a := &DeliveryAttempt{}
		var statusCode sql.NullInt64
		var headersJSON string

		if err := rows.Scan(
			&a.ID,
			&a.MessageID,
			&a.AttemptNumber,
			&a.AttemptedAt,
			&statusCode,
			&a.ResponseBody,
			&a.Error,
			&a.RequestDurationMs,
			&a.TargetURL,
			&headersJSON,
			&a.ProcessingNode,
		); err != nil {
			return nil, err
		}

		if statusCode.Valid {
			code := int(statusCode.Int64)
			a.StatusCode = &code
		}
		if err := json.Unmarshal([]byte(headersJSON), &a.ResponseHeaders); err != nil {
			return nil, err
		}

		attempts = append(attempts, a)
	}

	return attempts, rows.Err()
}
