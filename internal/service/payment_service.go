package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/concert-ticketing/internal/apperr"
	"github.com/iliyamo/concert-ticketing/internal/model"
	"github.com/iliyamo/concert-ticketing/internal/repository"
)

// PaymentResult is returned by the mock payment endpoints.
type PaymentResult struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	OrderNo string              `json:"order_no"`
	Status  model.PaymentStatus `json:"status"`
}

// PaymentService drives the mock payment flow: an order is opened against
// a valid hold and a successful payment confirms the seat.
type PaymentService struct {
	tx        TxRunner
	orders    PaymentStore
	store     ReservationStore
	catalog   Catalog
	confirmer SeatConfirmer
	log       *zap.SugaredLogger
	now       func() time.Time
}

func NewPaymentService(tx TxRunner, orders PaymentStore, store ReservationStore, catalog Catalog, confirmer SeatConfirmer, log *zap.SugaredLogger) *PaymentService {
	return &PaymentService{
		tx:        tx,
		orders:    orders,
		store:     store,
		catalog:   catalog,
		confirmer: confirmer,
		log:       log,
		now:       time.Now,
	}
}

// Ready opens a READY order priced from the catalog. The caller must hold
// the seat.
func (s *PaymentService) Ready(ctx context.Context, userID, scheduleID uint64, seatNo string) (*model.PaymentOrder, error) {
	seatNo, err := seatArgs(userID, scheduleID, seatNo)
	if err != nil {
		return nil, err
	}
	var order *model.PaymentOrder
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		seat, err := s.catalog.GetSeat(ctx, scheduleID, seatNo)
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.ErrSeatNotFound
		}
		if err != nil {
			return fmt.Errorf("seat lookup: %w", err)
		}
		now := s.now().UTC()
		ok, err := s.store.HasValidHold(ctx, userID, scheduleID, seatNo, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrHoldNotFound
		}
		o := &model.PaymentOrder{
			OrderNo:     "PO-" + uuid.NewString(),
			UserID:      userID,
			ScheduleID:  scheduleID,
			SeatNo:      seatNo,
			AmountCents: seat.PriceCents,
			Status:      model.PaymentReady,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.orders.Create(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// MockSuccess simulates the provider's success callback for one of the
// caller's orders.
func (s *PaymentService) MockSuccess(ctx context.Context, userID uint64, orderNo string) (PaymentResult, error) {
	if orderNo == "" {
		return PaymentResult{}, apperr.Invalid("order number is required")
	}
	order, err := s.orders.FindByOrderNo(ctx, orderNo)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && order.UserID != userID) {
		return PaymentResult{}, apperr.ErrPaymentOrderNotFound
	}
	if err != nil {
		return PaymentResult{}, err
	}
	if order.Status == model.PaymentPaid {
		return PaymentResult{Success: true, Message: "already paid", OrderNo: orderNo, Status: model.PaymentPaid}, nil
	}
	return s.OnPaymentSuccess(ctx, order), nil
}

// OnPaymentSuccess confirms the seat behind order and settles the order:
// PAID on success, CANCELLED when the confirm is rejected and FAILED on an
// infrastructure error.
func (s *PaymentService) OnPaymentSuccess(ctx context.Context, order *model.PaymentOrder) PaymentResult {
	res, err := s.confirmer.ConfirmSeat(ctx, order.ScheduleID, order.SeatNo, order.UserID)

	status, reason, out := model.PaymentPaid, "", PaymentResult{Success: true, Message: res.Message}
	switch {
	case err == nil:
	case apperr.IsBusiness(err):
		e, _ := apperr.From(err)
		status, reason = model.PaymentCancelled, string(e.Code)
		out = PaymentResult{Message: e.Message}
	default:
		status, reason = model.PaymentFailed, err.Error()
		out = PaymentResult{Message: "confirmation failed, try again later"}
		s.log.Errorw("confirm after payment failed", "order_no", order.OrderNo, "error", err)
	}
	out.OrderNo, out.Status = order.OrderNo, status

	if uerr := s.orders.UpdateStatus(context.WithoutCancel(ctx), order.OrderNo, status, reason, s.now().UTC()); uerr != nil {
		s.log.Errorw("payment order status update failed", "order_no", order.OrderNo, "status", status, "error", uerr)
	}
	return out
}
