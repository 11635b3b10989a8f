package service

import (
	"context"
	"time"

	"github.com/iliyamo/concert-ticketing/internal/apperr"
	"github.com/iliyamo/concert-ticketing/internal/model"
)

type QueueConfig struct {
	Enabled  bool
	Capacity int
	PassTTL  time.Duration
}

// QueueService is the client-facing side of the admission gate.
type QueueService struct {
	gate QueueGate
	cfg  QueueConfig
}

func NewQueueService(gate QueueGate, cfg QueueConfig) *QueueService {
	return &QueueService{gate: gate, cfg: cfg}
}

// Enter puts the caller in line and immediately tries to admit them.
func (s *QueueService) Enter(ctx context.Context, scheduleID, userID uint64) (model.QueueStatus, error) {
	if scheduleID == 0 || userID == 0 {
		return model.QueueStatus{}, apperr.Invalid("schedule_id and user are required")
	}
	if !s.cfg.Enabled {
		return model.QueueStatus{ScheduleID: scheduleID, CanEnter: true}, nil
	}
	if _, err := s.gate.Enter(ctx, scheduleID, userID); err != nil {
		return model.QueueStatus{}, err
	}
	return s.Status(ctx, scheduleID, userID)
}

// Status reports the caller's pass if one can be had, else their position.
// A live pass is read directly, which also clears a stale half-pass. Without
// one, polling is what turns a free slot into a pass for the front of the
// line between advancer ticks.
func (s *QueueService) Status(ctx context.Context, scheduleID, userID uint64) (model.QueueStatus, error) {
	if scheduleID == 0 || userID == 0 {
		return model.QueueStatus{}, apperr.Invalid("schedule_id and user are required")
	}
	st := model.QueueStatus{ScheduleID: scheduleID}
	if !s.cfg.Enabled {
		st.CanEnter = true
		return st, nil
	}
	pass, err := s.gate.GetPass(ctx, scheduleID, userID)
	if err != nil {
		return model.QueueStatus{}, err
	}
	if pass == nil {
		pass, _, err = s.gate.TryIssuePass(ctx, scheduleID, userID, s.cfg.Capacity, s.cfg.PassTTL)
		if err != nil {
			return model.QueueStatus{}, err
		}
	}
	if pass != nil {
		exp := pass.ExpiresAt
		st.CanEnter = true
		st.Token = pass.Token
		st.ExpiresAt = &exp
		return st, nil
	}
	pos, err := s.gate.Position(ctx, scheduleID, userID)
	if err != nil {
		return model.QueueStatus{}, err
	}
	st.Position = pos
	return st, nil
}
