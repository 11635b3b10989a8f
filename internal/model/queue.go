package model

import "time"

// QueuePass is a time-bounded admission token for one user on one schedule.
type QueuePass struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// QueueStatus is what a client sees when polling the waiting line.
// Position is 1-based; 0 means the caller holds a pass.
type QueueStatus struct {
	ScheduleID uint64     `json:"schedule_id"`
	Position   int64      `json:"position"`
	CanEnter   bool       `json:"can_enter"`
	Token      string     `json:"token,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}
