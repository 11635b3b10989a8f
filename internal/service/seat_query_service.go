package service

import (
	"context"
	"time"

	"github.com/iliyamo/concert-ticketing/internal/apperr"
	"github.com/iliyamo/concert-ticketing/internal/model"
)

// SeatQueryService answers read-only seat map questions.
type SeatQueryService struct {
	catalog Catalog
	store   ReservationStore
	now     func() time.Time
}

func NewSeatQueryService(catalog Catalog, store ReservationStore) *SeatQueryService {
	return &SeatQueryService{catalog: catalog, store: store, now: time.Now}
}

// Status joins the seat layout with live occupancy. Expired holds that the
// sweeper has not reached yet are reported as available.
func (s *SeatQueryService) Status(ctx context.Context, scheduleID uint64) ([]model.SeatStatus, error) {
	seats, err := s.Layout(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	active, err := s.store.ActiveSeats(ctx, scheduleID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	out := make([]model.SeatStatus, 0, len(seats))
	for _, seat := range seats {
		st := model.SeatStatus{Seat: seat, State: model.SeatAvailable}
		switch active[seat.SeatNo] {
		case model.StatusConfirmed:
			st.State = model.SeatReserved
		case model.StatusHeld:
			st.State = model.SeatHeld
		}
		out = append(out, st)
	}
	return out, nil
}

// Layout lists the seats of a schedule.
func (s *SeatQueryService) Layout(ctx context.Context, scheduleID uint64) ([]model.Seat, error) {
	if scheduleID == 0 {
		return nil, apperr.Invalid("schedule id is required")
	}
	return s.catalog.ListBySchedule(ctx, scheduleID)
}
