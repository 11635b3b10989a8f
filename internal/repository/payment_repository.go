package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/concert-ticketing/internal/database"
	"github.com/iliyamo/concert-ticketing/internal/model"
)

type PaymentRepo struct {
	db *database.DB
}

func NewPaymentRepo(db *database.DB) *PaymentRepo { return &PaymentRepo{db: db} }

// Create inserts o and fills in its id.
func (r *PaymentRepo) Create(ctx context.Context, o *model.PaymentOrder) error {
	res, err := r.db.Conn(ctx).ExecContext(ctx,
		`INSERT INTO payment_order (order_no, user_id, schedule_id, seat_no, amount_cents, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.OrderNo, o.UserID, o.ScheduleID, o.SeatNo, o.AmountCents, o.Status, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	o.ID = uint64(id)
	return nil
}

func (r *PaymentRepo) FindByOrderNo(ctx context.Context, orderNo string) (*model.PaymentOrder, error) {
	var (
		o      model.PaymentOrder
		reason sql.NullString
	)
	err := r.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT id, order_no, user_id, schedule_id, seat_no, amount_cents, status, fail_reason, created_at, updated_at
		 FROM payment_order WHERE order_no = ?`,
		orderNo,
	).Scan(&o.ID, &o.OrderNo, &o.UserID, &o.ScheduleID, &o.SeatNo, &o.AmountCents, &o.Status, &reason, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if reason.Valid {
		s := reason.String
		o.FailReason = &s
	}
	return &o, nil
}

// UpdateStatus settles an order. reason is stored as NULL when empty.
func (r *PaymentRepo) UpdateStatus(ctx context.Context, orderNo string, status model.PaymentStatus, reason string, now time.Time) error {
	var failReason any
	if reason != "" {
		if len(reason) > 255 {
			reason = reason[:255]
		}
		failReason = reason
	}
	_, err := r.db.Conn(ctx).ExecContext(ctx,
		`UPDATE payment_order SET status = ?, fail_reason = ?, updated_at = ? WHERE order_no = ?`,
		status, failReason, now, orderNo,
	)
	return err
}
