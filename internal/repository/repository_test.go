package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/concert-ticketing/internal/database"
	"github.com/iliyamo/concert-ticketing/internal/model"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockDB(t *testing.T) (*database.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return &database.DB{DB: sqlDB}, mock
}

var reservationCols = []string{"id", "user_id", "schedule_id", "seat_no", "status", "active", "expires_at", "created_at", "updated_at"}

func TestInsertHoldInserted(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewReservationRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reservation")).
		WillReturnResult(sqlmock.NewResult(42, 1))

	res, err := repo.InsertHold(context.Background(), 7, 3, "A1", testNow, testNow.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("insert hold: %v", err)
	}
	if !res.Inserted || res.Reservation.ID != 42 || !res.Reservation.Active || res.Current != nil {
		t.Fatalf("result = %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestInsertHoldConflictReturnsOccupant(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewReservationRepo(db)
	exp := testNow.Add(2 * time.Minute)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reservation")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectQuery(`FROM reservation\s+WHERE schedule_id = \? AND seat_no = \? AND active = 1\s+LIMIT 1 FOR SHARE`).
		WithArgs(3, "A1").
		WillReturnRows(sqlmock.NewRows(reservationCols).
			AddRow(9, 8, 3, "A1", "HELD", 1, exp, testNow, testNow))

	res, err := repo.InsertHold(context.Background(), 7, 3, "A1", testNow, testNow.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("insert hold: %v", err)
	}
	if res.Inserted || res.Current == nil {
		t.Fatalf("result = %+v, want a conflict with the occupant", res)
	}
	cur := res.Current
	if cur.ID != 9 || cur.UserID != 8 || cur.Status != model.StatusHeld || !cur.Active || cur.ExpiresAt == nil || !cur.ExpiresAt.Equal(exp) {
		t.Fatalf("occupant = %+v", cur)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestInsertHoldConflictOccupantGone(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewReservationRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reservation")).
		WillReturnError(&mysql.MySQLError{Number: 1062})
	mock.ExpectQuery(regexp.QuoteMeta("FROM reservation")).
		WillReturnRows(sqlmock.NewRows(reservationCols))

	res, err := repo.InsertHold(context.Background(), 7, 3, "A1", testNow, testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("insert hold: %v", err)
	}
	if res.Inserted || res.Current != nil {
		t.Fatalf("result = %+v, want empty conflict", res)
	}
}

func TestInsertHoldOtherErrorsPropagate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewReservationRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reservation")).
		WillReturnError(&mysql.MySQLError{Number: 1213})

	_, err := repo.InsertHold(context.Background(), 7, 3, "A1", testNow, testNow.Add(time.Minute))
	if !IsTransient(err) {
		t.Fatalf("err = %v, want a wrapped deadlock", err)
	}
}

func TestScanReservationInactiveRow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewReservationRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = ?")).
		WillReturnRows(sqlmock.NewRows(reservationCols).
			AddRow(2, 7, 3, "A2", "CONFIRMED", 1, nil, testNow, testNow).
			AddRow(1, 7, 3, "A1", "EXPIRED", nil, testNow, testNow, testNow))

	list, err := repo.ListByUser(context.Background(), 7, 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("rows = %d, want 2", len(list))
	}
	if !list[0].Active || list[0].ExpiresAt != nil {
		t.Fatalf("confirmed row = %+v", list[0])
	}
	if list[1].Active || list[1].Status != model.StatusExpired {
		t.Fatalf("expired row = %+v, want inactive", list[1])
	}
}

func TestSweepExpiredIsBounded(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewReservationRepo(db)

	mock.ExpectExec(`expires_at <= \?\s+ORDER BY expires_at\s+LIMIT \?`).
		WithArgs("EXPIRED", sqlmock.AnyArg(), "HELD", sqlmock.AnyArg(), 500).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.SweepExpired(context.Background(), testNow, 500)
	if err != nil || n != 3 {
		t.Fatalf("sweep = %d, %v; want 3", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestConditionalUpdatesReportMatch(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewReservationRepo(db)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE reservation SET status = ?, expires_at = NULL")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE reservation SET status = ?, active = NULL")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if ok, err := repo.ConfirmHeld(ctx, 7, 3, "A1", testNow); err != nil || !ok {
		t.Fatalf("confirm = %v, %v; want true", ok, err)
	}
	if ok, err := repo.CancelHeld(ctx, 7, 3, "A1", testNow); err != nil || ok {
		t.Fatalf("cancel = %v, %v; want false", ok, err)
	}
}

func TestHasValidHold(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewReservationRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM reservation")).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM reservation")).
		WillReturnRows(sqlmock.NewRows([]string{"1"}))

	if ok, err := repo.HasValidHold(ctx, 7, 3, "A1", testNow); err != nil || !ok {
		t.Fatalf("first = %v, %v; want true", ok, err)
	}
	if ok, err := repo.HasValidHold(ctx, 7, 3, "A1", testNow); err != nil || ok {
		t.Fatalf("second = %v, %v; want false", ok, err)
	}
}

func TestGuardAcquireOnce(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewGuardRepo(db)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO confirmed_seat_guard")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO confirmed_seat_guard")).
		WillReturnError(&mysql.MySQLError{Number: 1062})

	if ok, err := repo.Acquire(ctx, 3, "A1", 9); err != nil || !ok {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}
	if ok, err := repo.Acquire(ctx, 3, "A1", 9); err != nil || ok {
		t.Fatalf("second acquire = %v, %v; want false, nil", ok, err)
	}
}

func TestDedupClaim(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDedupRepo(db)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("INSERT IGNORE INTO consumer_dedup")).
		WithArgs("e1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT IGNORE INTO consumer_dedup")).
		WithArgs("e1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM consumer_dedup")).
		WithArgs("e1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if ok, _ := repo.Claim(ctx, "e1", testNow); !ok {
		t.Fatal("first claim refused")
	}
	if ok, _ := repo.Claim(ctx, "e1", testNow); ok {
		t.Fatal("second claim accepted")
	}
	if err := repo.Release(ctx, "e1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

var outboxCols = []string{"event_id", "topic", "event_key", "payload", "status", "retry_count", "max_retry",
	"next_retry_at", "last_error", "published_at", "created_at", "updated_at"}

func TestLockDueBatchRequiresTransaction(t *testing.T) {
	db, _ := newMockDB(t)
	repo := NewOutboxRepo(db)
	if _, err := repo.LockDueBatch(context.Background(), testNow, 10); err == nil {
		t.Fatal("LockDueBatch ran outside a transaction")
	}
}

func TestLockDueBatchSkipsLockedRows(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs("PENDING", sqlmock.AnyArg(), 10).
		WillReturnRows(sqlmock.NewRows(outboxCols).
			AddRow("e1", "ticket.confirm.requested", "3:A1", []byte(`{"eventId":"e1"}`), "PENDING", 2, 10,
				testNow, "broker down", nil, testNow, testNow))
	mock.ExpectCommit()

	var got []*model.OutboxEvent
	err := db.WithinTransaction(context.Background(), func(ctx context.Context) error {
		var err error
		got, err = repo.LockDueBatch(ctx, testNow, 10)
		return err
	})
	if err != nil {
		t.Fatalf("lock due batch: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}
	e := got[0]
	if e.RetryCount != 2 || e.LastError == nil || *e.LastError != "broker down" || e.PublishedAt != nil || string(e.Payload) != `{"eventId":"e1"}` {
		t.Fatalf("event = %+v", e)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRequeueOnlyFailed(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE outbox_event")).
		WithArgs("PENDING", sqlmock.AnyArg(), sqlmock.AnyArg(), "e1", "FAILED").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if ok, err := repo.Requeue(context.Background(), "e1", testNow); err != nil || ok {
		t.Fatalf("requeue = %v, %v; want false", ok, err)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		duplicate bool
		transient bool
	}{
		{"duplicate", &mysql.MySQLError{Number: 1062}, true, false},
		{"deadlock", &mysql.MySQLError{Number: 1213}, false, true},
		{"lock wait", fmt.Errorf("update: %w", &mysql.MySQLError{Number: 1205}), false, true},
		{"other mysql", &mysql.MySQLError{Number: 1146}, false, false},
		{"plain", errors.New("boom"), false, false},
		{"nil", nil, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDuplicateKey(tt.err); got != tt.duplicate {
				t.Errorf("IsDuplicateKey = %v, want %v", got, tt.duplicate)
			}
			if got := IsTransient(tt.err); got != tt.transient {
				t.Errorf("IsTransient = %v, want %v", got, tt.transient)
			}
		})
	}
}
