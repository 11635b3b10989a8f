package config

import "time"

// TicketingConfig tunes the admission gate, seat holds, the outbox pipeline
// and the background jobs that keep them consistent.
type TicketingConfig struct {
	QueueEnabled         bool
	QueueCapacity        int
	PassTTL              time.Duration
	AdvanceEngine        string // "lua" or "watch"
	AdvanceInterval      time.Duration
	AdvanceLockTTL       time.Duration
	SeatLockTTL          time.Duration
	HoldTTL              time.Duration
	HoldMaxAttempts      int
	ExpireInterval       time.Duration
	ExpireBatchSize      int
	OutboxInterval       time.Duration
	OutboxBatchSize      int
	OutboxPublishTimeout time.Duration
	OutboxMaxRetry       int
	OutboxBackoffCap     time.Duration
	ConfirmMaxEventAge   time.Duration
}

// LoadTicketingConfig reads the ticketing knobs, falling back to defaults
// sized for a single concert on-sale.
func LoadTicketingConfig() TicketingConfig {
	c := TicketingConfig{
		QueueEnabled:         envBool("QUEUE_ENABLED", true),
		QueueCapacity:        envInt("QUEUE_CAPACITY", 100),
		PassTTL:              envDur("QUEUE_PASS_TTL", 5*time.Minute),
		AdvanceEngine:        envStr("QUEUE_ADVANCE_ENGINE", "lua"),
		AdvanceInterval:      envDur("QUEUE_ADVANCE_INTERVAL", time.Second),
		AdvanceLockTTL:       envDur("QUEUE_ADVANCE_LOCK_TTL", 5*time.Second),
		SeatLockTTL:          envDur("SEAT_LOCK_TTL", 5*time.Minute),
		HoldTTL:              envDur("HOLD_TTL", 5*time.Minute),
		HoldMaxAttempts:      envInt("HOLD_MAX_ATTEMPTS", 5),
		ExpireInterval:       envDur("HOLD_EXPIRE_INTERVAL", 5*time.Second),
		ExpireBatchSize:      envInt("HOLD_EXPIRE_BATCH", 500),
		OutboxInterval:       envDur("OUTBOX_PUBLISH_INTERVAL", time.Second),
		OutboxBatchSize:      envInt("OUTBOX_BATCH_SIZE", 100),
		OutboxPublishTimeout: envDur("OUTBOX_PUBLISH_TIMEOUT", 3*time.Second),
		OutboxMaxRetry:       envInt("OUTBOX_MAX_RETRY", 10),
		OutboxBackoffCap:     envDur("OUTBOX_BACKOFF_CAP", time.Minute),
		ConfirmMaxEventAge:   envDur("CONFIRM_MAX_EVENT_AGE", 2*time.Minute),
	}
	if c.QueueCapacity < 1 {
		c.QueueCapacity = 1
	}
	if c.PassTTL < time.Second {
		c.PassTTL = time.Second
	}
	if c.HoldMaxAttempts < 1 {
		c.HoldMaxAttempts = 1
	}
	if c.ExpireBatchSize < 1 {
		c.ExpireBatchSize = 500
	}
	if c.OutboxBatchSize < 1 {
		c.OutboxBatchSize = 100
	}
	if c.OutboxMaxRetry < 1 {
		c.OutboxMaxRetry = 1
	}
	return c
}
