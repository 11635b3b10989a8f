package model

import (
	"strings"
	"testing"
	"time"
)

func TestRetryBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		cap     time.Duration
		want    time.Duration
	}{
		{0, time.Minute, time.Second},
		{1, time.Minute, 2 * time.Second},
		{3, time.Minute, 8 * time.Second},
		{6, time.Minute, time.Minute},
		{100, time.Minute, time.Minute},
		{-1, time.Minute, time.Second},
	}
	for _, tt := range tests {
		if got := RetryBackoff(tt.attempt, tt.cap); got != tt.want {
			t.Errorf("RetryBackoff(%d, %v) = %v, want %v", tt.attempt, tt.cap, got, tt.want)
		}
	}
}

func TestOutboxEventLifecycle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := NewPendingOutboxEvent("e1", "topic", "1:A1", []byte(`{}`), 2, now)
	if e.Status != OutboxPending || !e.NextRetryAt.Equal(now) {
		t.Fatalf("new event = %+v", e)
	}

	e.MarkAttemptFailed(now, strings.Repeat("x", 5000), time.Minute)
	if e.Status != OutboxPending || e.RetryCount != 1 || !e.NextRetryAt.Equal(now.Add(2*time.Second)) {
		t.Fatalf("after first failure = %+v", e)
	}
	if len(*e.LastError) != 1000 {
		t.Fatalf("last error length = %d, want truncated to 1000", len(*e.LastError))
	}

	e.MarkAttemptFailed(now, "again", time.Minute)
	if e.Status != OutboxFailed || e.RetryCount != 2 {
		t.Fatalf("after second failure = %+v, want FAILED", e)
	}

	e.MarkPublished(now)
	if e.Status != OutboxPublished || e.PublishedAt == nil || e.LastError != nil {
		t.Fatalf("published = %+v", e)
	}
}

func TestReservationPredicates(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past, future := now.Add(-time.Second), now.Add(time.Second)

	held := &Reservation{Status: StatusHeld, Active: true, ExpiresAt: &future}
	if !held.HeldValid(now) || held.HeldExpired(now) {
		t.Fatal("unexpired hold misclassified")
	}
	stale := &Reservation{Status: StatusHeld, Active: true, ExpiresAt: &past}
	if stale.HeldValid(now) || !stale.HeldExpired(now) {
		t.Fatal("expired hold misclassified")
	}
	// the deadline instant belongs to exactly one side
	edge := &Reservation{Status: StatusHeld, Active: true, ExpiresAt: &now}
	if edge.HeldValid(now) || !edge.HeldExpired(now) {
		t.Fatal("hold at its deadline must be expired, not valid")
	}
	gone := &Reservation{Status: StatusCancelled, Active: false}
	if gone.HeldValid(now) || gone.HeldExpired(now) {
		t.Fatal("cancelled row counted as a hold")
	}
	if got := NormalizeSeatNo("  a12 "); got != "A12" {
		t.Fatalf("NormalizeSeatNo = %q", got)
	}
}

func TestConfirmRequestedComplete(t *testing.T) {
	ok := ConfirmRequested{EventID: "e", ScheduleID: 1, SeatNo: "A1", UserID: 2}
	if !ok.Complete() {
		t.Fatal("complete payload rejected")
	}
	for _, p := range []ConfirmRequested{
		{ScheduleID: 1, SeatNo: "A1", UserID: 2},
		{EventID: "e", SeatNo: "A1", UserID: 2},
		{EventID: "e", ScheduleID: 1, SeatNo: " ", UserID: 2},
		{EventID: "e", ScheduleID: 1, SeatNo: "A1"},
	} {
		if p.Complete() {
			t.Errorf("incomplete payload accepted: %+v", p)
		}
	}
}
