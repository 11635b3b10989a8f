// Package apperr holds the stable error codes returned to clients. Business
// and contention failures are values of *Error; anything else reaching the
// API layer is reported as INTERNAL_ERROR.
package apperr

import (
	"errors"
	"net/http"
)

type Code string

const (
	CodeInvalidRequest       Code = "INVALID_REQUEST"
	CodeSeatNotFound         Code = "SEAT_NOT_FOUND"
	CodeSeatAlreadyLocked    Code = "SEAT_ALREADY_LOCKED"
	CodeAlreadyHeld          Code = "ALREADY_HELD"
	CodeAlreadyReserved      Code = "ALREADY_RESERVED"
	CodeNotSeatOwner         Code = "NOT_SEAT_OWNER"
	CodeHoldNotFound         Code = "HOLD_NOT_FOUND"
	CodeHoldExpired          Code = "HOLD_EXPIRED"
	CodeQueueNotAllowed      Code = "QUEUE_NOT_ALLOWED"
	CodePaymentOrderNotFound Code = "PAYMENT_ORDER_NOT_FOUND"
	CodeInternal             Code = "INTERNAL_ERROR"
)

type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

// Is matches on code so a message-customised copy still satisfies
// errors.Is against the sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithMessage returns a copy carrying a more specific message.
func (e *Error) WithMessage(msg string) *Error {
	cp := *e
	cp.Message = msg
	return &cp
}

var (
	ErrInvalidRequest       = &Error{CodeInvalidRequest, "request is invalid", http.StatusBadRequest}
	ErrSeatNotFound         = &Error{CodeSeatNotFound, "seat does not exist", http.StatusNotFound}
	ErrSeatAlreadyLocked    = &Error{CodeSeatAlreadyLocked, "seat is being taken by another user", http.StatusConflict}
	ErrAlreadyHeld          = &Error{CodeAlreadyHeld, "seat is already held", http.StatusConflict}
	ErrAlreadyReserved      = &Error{CodeAlreadyReserved, "seat is already reserved", http.StatusConflict}
	ErrNotSeatOwner         = &Error{CodeNotSeatOwner, "seat is not held by this user", http.StatusForbidden}
	ErrHoldNotFound         = &Error{CodeHoldNotFound, "no hold found", http.StatusNotFound}
	ErrHoldExpired          = &Error{CodeHoldExpired, "hold has expired", http.StatusConflict}
	ErrQueueNotAllowed      = &Error{CodeQueueNotAllowed, "queue pass missing or invalid, re-enter the queue", http.StatusForbidden}
	ErrPaymentOrderNotFound = &Error{CodePaymentOrderNotFound, "payment order not found", http.StatusNotFound}
)

// From extracts the typed error, if any, from err's chain.
func From(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsBusiness reports whether err is a recognised business or contention
// failure; redelivering the same request would not change its outcome.
func IsBusiness(err error) bool {
	_, ok := From(err)
	return ok
}

// Invalid is shorthand for an INVALID_REQUEST with a specific message.
func Invalid(msg string) *Error { return ErrInvalidRequest.WithMessage(msg) }
