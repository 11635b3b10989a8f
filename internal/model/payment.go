package model

import "time"

type PaymentStatus string

const (
	PaymentReady     PaymentStatus = "READY"
	PaymentPaid      PaymentStatus = "PAID"
	PaymentCancelled PaymentStatus = "CANCELLED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// PaymentOrder tracks a mock payment for one held seat. It is created READY
// against a valid hold and settles into PAID, CANCELLED (confirm rejected)
// or FAILED (infrastructure error while confirming).
type PaymentOrder struct {
	ID          uint64        `json:"id"`
	OrderNo     string        `json:"order_no"`
	UserID      uint64        `json:"user_id"`
	ScheduleID  uint64        `json:"schedule_id"`
	SeatNo      string        `json:"seat_no"`
	AmountCents uint32        `json:"amount_cents"`
	Status      PaymentStatus `json:"status"`
	FailReason  *string       `json:"fail_reason,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}
