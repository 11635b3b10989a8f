package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return &DB{DB: sqlDB}, mock
}

func TestWithinTransactionRunsActionsAfterCommit(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	var ran []string
	err := db.WithinTransaction(context.Background(), func(ctx context.Context) error {
		if !InTransaction(ctx) {
			t.Error("fn ran without a transaction in ctx")
		}
		AfterCommit(ctx, func() { ran = append(ran, "first") })
		AfterCommit(ctx, func() { ran = append(ran, "second") })
		if len(ran) != 0 {
			t.Error("after-commit action ran before commit")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("within transaction: %v", err)
	}
	if len(ran) != 2 || ran[0] != "first" || ran[1] != "second" {
		t.Fatalf("actions = %v, want [first second]", ran)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestWithinTransactionRollbackDiscardsActions(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	ran := false
	err := db.WithinTransaction(context.Background(), func(ctx context.Context) error {
		AfterCommit(ctx, func() { ran = true })
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if ran {
		t.Fatal("after-commit action ran on rollback")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestWithinTransactionCommitFailureDiscardsActions(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("connection lost"))

	ran := false
	err := db.WithinTransaction(context.Background(), func(ctx context.Context) error {
		AfterCommit(ctx, func() { ran = true })
		return nil
	})
	if err == nil {
		t.Fatal("commit failure was swallowed")
	}
	if ran {
		t.Fatal("after-commit action ran although commit failed")
	}
}

func TestWithinTransactionNestedJoinsOuter(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	ran := false
	err := db.WithinTransaction(context.Background(), func(ctx context.Context) error {
		return db.WithinTransaction(ctx, func(inner context.Context) error {
			if extractTx(inner) != extractTx(ctx) {
				t.Error("nested call opened a new transaction")
			}
			AfterCommit(inner, func() { ran = true })
			return nil
		})
	})
	if err != nil {
		t.Fatalf("within transaction: %v", err)
	}
	if !ran {
		t.Fatal("nested after-commit action did not run")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestWithinTransactionPanicRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	ran := false
	func() {
		defer func() {
			if recover() == nil {
				t.Error("panic was swallowed")
			}
		}()
		_ = db.WithinTransaction(context.Background(), func(ctx context.Context) error {
			AfterCommit(ctx, func() { ran = true })
			panic("boom")
		})
	}()
	if ran {
		t.Fatal("after-commit action ran after panic")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAfterCommitWithoutUnitOfWorkRunsNow(t *testing.T) {
	ran := false
	AfterCommit(context.Background(), func() { ran = true })
	if !ran {
		t.Fatal("action did not run immediately")
	}
}

func TestConnUsesBoundTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	if _, ok := db.Conn(context.Background()).(*sql.DB); !ok {
		t.Fatal("Conn outside a transaction did not return the pool")
	}
	mock.ExpectBegin()
	mock.ExpectCommit()
	_ = db.WithinTransaction(context.Background(), func(ctx context.Context) error {
		if db.Conn(ctx) != Executor(extractTx(ctx)) {
			t.Error("Conn did not return the bound transaction")
		}
		return nil
	})
}
