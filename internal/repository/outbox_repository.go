package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/concert-ticketing/internal/database"
	"github.com/iliyamo/concert-ticketing/internal/model"
)

// OutboxRepo persists outbox_event rows.
type OutboxRepo struct {
	db *database.DB
}

func NewOutboxRepo(db *database.DB) *OutboxRepo { return &OutboxRepo{db: db} }

const outboxColumns = `event_id, topic, event_key, payload, status, retry_count, max_retry,
	next_retry_at, last_error, published_at, created_at, updated_at`

func (r *OutboxRepo) Insert(ctx context.Context, e *model.OutboxEvent) error {
	_, err := r.db.Conn(ctx).ExecContext(ctx,
		`INSERT INTO outbox_event (`+outboxColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EventID, e.Topic, e.EventKey, []byte(e.Payload), e.Status, e.RetryCount, e.MaxRetry,
		e.NextRetryAt, e.LastError, e.PublishedAt, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// LockDueBatch claims up to limit PENDING rows due at now. It must run
// inside a transaction: rows stay locked until commit and rows locked by
// another publisher are skipped rather than waited on.
func (r *OutboxRepo) LockDueBatch(ctx context.Context, now time.Time, limit int) ([]*model.OutboxEvent, error) {
	if !database.InTransaction(ctx) {
		return nil, errors.New("outbox: LockDueBatch requires a transaction")
	}
	rows, err := r.db.Conn(ctx).QueryContext(ctx,
		`SELECT `+outboxColumns+` FROM outbox_event
		 WHERE status = ? AND next_retry_at <= ?
		 ORDER BY created_at
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		model.OutboxPending, now, limit,
	)
	if err != nil {
		return nil, err
	}
	return scanOutboxRows(rows)
}

// Save writes back the mutable publish state of e.
func (r *OutboxRepo) Save(ctx context.Context, e *model.OutboxEvent) error {
	_, err := r.db.Conn(ctx).ExecContext(ctx,
		`UPDATE outbox_event
		 SET status = ?, retry_count = ?, next_retry_at = ?, last_error = ?, published_at = ?, updated_at = ?
		 WHERE event_id = ?`,
		e.Status, e.RetryCount, e.NextRetryAt, e.LastError, e.PublishedAt, e.UpdatedAt, e.EventID,
	)
	return err
}

// ListFailed returns FAILED events, most recently updated first.
func (r *OutboxRepo) ListFailed(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx,
		`SELECT `+outboxColumns+` FROM outbox_event
		 WHERE status = ?
		 ORDER BY updated_at DESC
		 LIMIT ?`,
		model.OutboxFailed, limit,
	)
	if err != nil {
		return nil, err
	}
	return scanOutboxRows(rows)
}

// Requeue puts a FAILED event back to PENDING with a fresh retry budget.
func (r *OutboxRepo) Requeue(ctx context.Context, eventID string, now time.Time) (bool, error) {
	res, err := r.db.Conn(ctx).ExecContext(ctx,
		`UPDATE outbox_event
		 SET status = ?, retry_count = 0, next_retry_at = ?, updated_at = ?
		 WHERE event_id = ? AND status = ?`,
		model.OutboxPending, now, now, eventID, model.OutboxFailed,
	)
	return affectedOne(res, err)
}

func scanOutboxRows(rows *sql.Rows) ([]*model.OutboxEvent, error) {
	defer rows.Close()
	var out []*model.OutboxEvent
	for rows.Next() {
		var (
			e         model.OutboxEvent
			payload   []byte
			lastErr   sql.NullString
			published sql.NullTime
		)
		if err := rows.Scan(&e.EventID, &e.Topic, &e.EventKey, &payload, &e.Status, &e.RetryCount, &e.MaxRetry,
			&e.NextRetryAt, &lastErr, &published, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.Payload = payload
		if lastErr.Valid {
			s := lastErr.String
			e.LastError = &s
		}
		if published.Valid {
			t := published.Time
			e.PublishedAt = &t
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
