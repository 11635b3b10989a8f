package repository

import (
	"context"
	"time"

	"github.com/iliyamo/concert-ticketing/internal/database"
)

// DedupRepo is the consumer-side idempotency ledger.
type DedupRepo struct {
	db *database.DB
}

func NewDedupRepo(db *database.DB) *DedupRepo { return &DedupRepo{db: db} }

// Claim records eventID as being processed. False means it was seen before.
func (r *DedupRepo) Claim(ctx context.Context, eventID string, now time.Time) (bool, error) {
	res, err := r.db.Conn(ctx).ExecContext(ctx,
		`INSERT IGNORE INTO consumer_dedup (event_id, processed_at) VALUES (?, ?)`,
		eventID, now,
	)
	return affectedOne(res, err)
}

// Release forgets eventID so a redelivery is processed again.
func (r *DedupRepo) Release(ctx context.Context, eventID string) error {
	_, err := r.db.Conn(ctx).ExecContext(ctx, `DELETE FROM consumer_dedup WHERE event_id = ?`, eventID)
	return err
}
