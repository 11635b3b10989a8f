package model

import (
	"encoding/json"
	"math"
	"time"
)

type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "PENDING"
	OutboxPublished OutboxStatus = "PUBLISHED"
	OutboxFailed    OutboxStatus = "FAILED"
)

const lastErrorMaxLen = 1000

// OutboxEvent is an intent-to-publish recorded in the same transaction as
// the validation that produced it. Only the outbox publisher mutates it.
//
// Fields:
//
//	EventID     – UUID, also the consumer's dedup key.
//	Topic       – destination queue/topic.
//	EventKey    – partition key ("schedule:seat"), orders events per seat.
//	Payload     – JSON body.
//	Status      – PENDING, PUBLISHED or FAILED.
//	RetryCount  – failed publish attempts so far.
//	MaxRetry    – attempts allowed before FAILED.
//	NextRetryAt – earliest time the publisher may pick the row up again.
//	LastError   – last publish failure, truncated.
//	PublishedAt – set once PUBLISHED.
type OutboxEvent struct {
	EventID     string          `json:"event_id"`
	Topic       string          `json:"topic"`
	EventKey    string          `json:"event_key"`
	Payload     json.RawMessage `json:"payload"`
	Status      OutboxStatus    `json:"status"`
	RetryCount  int             `json:"retry_count"`
	MaxRetry    int             `json:"max_retry"`
	NextRetryAt time.Time       `json:"next_retry_at"`
	LastError   *string         `json:"last_error,omitempty"`
	PublishedAt *time.Time      `json:"published_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewPendingOutboxEvent builds a PENDING event due immediately.
func NewPendingOutboxEvent(eventID, topic, key string, payload []byte, maxRetry int, now time.Time) *OutboxEvent {
	return &OutboxEvent{
		EventID:     eventID,
		Topic:       topic,
		EventKey:    key,
		Payload:     payload,
		Status:      OutboxPending,
		MaxRetry:    maxRetry,
		NextRetryAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (e *OutboxEvent) MarkPublished(now time.Time) {
	e.Status = OutboxPublished
	e.PublishedAt = &now
	e.LastError = nil
	e.UpdatedAt = now
}

// MarkAttemptFailed records a failed publish. Once RetryCount reaches
// MaxRetry the event becomes FAILED and is never picked up again; until
// then it stays PENDING with NextRetryAt = now + min(backoffCap, 2^RetryCount s).
func (e *OutboxEvent) MarkAttemptFailed(now time.Time, errMsg string, backoffCap time.Duration) {
	if len(errMsg) > lastErrorMaxLen {
		errMsg = errMsg[:lastErrorMaxLen]
	}
	e.RetryCount++
	e.LastError = &errMsg
	e.UpdatedAt = now
	if e.RetryCount >= e.MaxRetry {
		e.Status = OutboxFailed
		return
	}
	e.NextRetryAt = now.Add(RetryBackoff(e.RetryCount, backoffCap))
}

// RetryBackoff returns min(cap, 2^attempt seconds).
func RetryBackoff(attempt int, cap time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	secs := math.Pow(2, float64(attempt))
	if d := time.Duration(secs * float64(time.Second)); secs < float64(math.MaxInt32) && d < cap {
		return d
	}
	return cap
}

// ConfirmRequested is the payload of the confirm-requested event.
type ConfirmRequested struct {
	EventID     string    `json:"eventId"`
	ScheduleID  uint64    `json:"scheduleId"`
	SeatNo      string    `json:"seatNo"`
	UserID      uint64    `json:"userId"`
	RequestedAt time.Time `json:"requestedAt"`
}

// Complete reports whether every field the consumer needs is present.
func (p ConfirmRequested) Complete() bool {
	return p.EventID != "" && p.ScheduleID > 0 && p.UserID > 0 && NormalizeSeatNo(p.SeatNo) != ""
}
