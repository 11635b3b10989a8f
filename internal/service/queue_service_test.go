package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/concert-ticketing/internal/apperr"
	"github.com/iliyamo/concert-ticketing/internal/gate"
)

func TestQueueServiceDisabledAdmitsEveryone(t *testing.T) {
	svc := NewQueueService(newMemGate(), QueueConfig{Enabled: false})
	st, err := svc.Enter(context.Background(), 1, 1)
	if err != nil || !st.CanEnter || st.Token != "" {
		t.Fatalf("enter = %+v, %v", st, err)
	}
}

func TestQueueServiceStatus(t *testing.T) {
	g := newMemGate()
	svc := NewQueueService(g, QueueConfig{Enabled: true, Capacity: 1, PassTTL: time.Minute})
	ctx := context.Background()

	st, err := svc.Enter(ctx, 1, 9)
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	if st.CanEnter || st.Position != 1 {
		t.Fatalf("waiting status = %+v", st)
	}

	tok := g.grant(1, 9)
	st, err = svc.Status(ctx, 1, 9)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.CanEnter || st.Token != tok || st.ExpiresAt == nil {
		t.Fatalf("admitted status = %+v", st)
	}
	// Enter polled once while waiting; the live pass is read without issuing
	if g.issues != 1 {
		t.Fatalf("issue attempts = %d, want 1", g.issues)
	}

	if _, err := svc.Status(ctx, 0, 9); !errors.Is(err, apperr.ErrInvalidRequest) {
		t.Fatalf("missing schedule: got %v, want INVALID_REQUEST", err)
	}
}

func TestQueueServiceStatusDropsHalfPass(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()
	g := gate.New(rdb)
	svc := NewQueueService(g, QueueConfig{Enabled: true, Capacity: 1, PassTTL: time.Minute})

	if _, _, err := g.TryIssuePass(ctx, 1, 7, 1, time.Minute); err != nil {
		t.Fatal(err)
	}
	// token without its pass-set entry
	if err := rdb.Set(ctx, gate.TokenKey(1, 9), "1:9:0:1", time.Minute).Err(); err != nil {
		t.Fatal(err)
	}

	st, err := svc.Status(ctx, 1, 9)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.CanEnter || st.Token != "" || st.Position != 1 {
		t.Fatalf("status = %+v, want waiting at position 1", st)
	}
	if mr.Exists(gate.TokenKey(1, 9)) {
		t.Fatal("stale token left behind")
	}
	if ok, _ := g.ValidatePass(ctx, 1, 9, "1:9:0:1"); ok {
		t.Fatal("stale token still validates")
	}
}

func TestSeatQueryStatus(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	q := NewSeatQueryService(memCatalog{}, f.store)
	q.now = f.clock.Now

	if _, err := f.res.Hold(ctx, 1, 1, "A1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.res.Hold(ctx, 2, 1, "A2"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.res.Confirm(ctx, 2, 1, "A2"); err != nil {
		t.Fatal(err)
	}

	seats, err := q.Status(ctx, 1)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	got := map[string]string{}
	for _, s := range seats {
		got[s.SeatNo] = string(s.State)
	}
	want := map[string]string{"A1": "HELD", "A2": "RESERVED", "A3": "AVAILABLE"}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("seat %s = %q, want %q (all: %v)", k, got[k], v, got)
		}
	}

	// a lapsed hold reads as available before the sweeper runs
	f.clock.Advance(10 * time.Minute)
	seats, _ = q.Status(ctx, 1)
	for _, s := range seats {
		if s.SeatNo == "A1" && string(s.State) != "AVAILABLE" {
			t.Fatalf("lapsed hold reported as %s", s.State)
		}
	}

	if _, err := q.Layout(ctx, 0); !errors.Is(err, apperr.ErrInvalidRequest) {
		t.Fatalf("layout(0): got %v, want INVALID_REQUEST", err)
	}
}
