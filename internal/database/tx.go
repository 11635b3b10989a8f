package database

import (
	"context"
	"database/sql"
	"sync"
)

type txKey struct{}
type uowKey struct{}

// UnitOfWork collects side effects that must only happen once the durable
// transaction has committed: releasing advisory locks and passes, pushing
// seat notifications. Actions run in registration order.
type UnitOfWork struct {
	mu      sync.Mutex
	actions []func()
}

// WithUnitOfWork attaches a fresh unit of work to ctx.
func WithUnitOfWork(ctx context.Context) (context.Context, *UnitOfWork) {
	u := &UnitOfWork{}
	return context.WithValue(ctx, uowKey{}, u), u
}

func (u *UnitOfWork) add(fn func()) {
	u.mu.Lock()
	u.actions = append(u.actions, fn)
	u.mu.Unlock()
}

// Drain runs and clears the queued actions. Call it only after commit.
func (u *UnitOfWork) Drain() {
	u.mu.Lock()
	actions := u.actions
	u.actions = nil
	u.mu.Unlock()
	for _, fn := range actions {
		fn()
	}
}

// Discard drops the queued actions; used on rollback.
func (u *UnitOfWork) Discard() {
	u.mu.Lock()
	u.actions = nil
	u.mu.Unlock()
}

// AfterCommit schedules fn to run after the transaction bound to ctx
// commits. Outside a unit of work there is nothing to wait for and fn runs
// immediately.
func AfterCommit(ctx context.Context, fn func()) {
	if u, ok := ctx.Value(uowKey{}).(*UnitOfWork); ok && u != nil {
		u.add(fn)
		return
	}
	fn()
}

func extractTx(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// InTransaction reports whether ctx carries an open transaction.
func InTransaction(ctx context.Context) bool { return extractTx(ctx) != nil }

// WithinTransaction runs fn inside a transaction. A nested call joins the
// outer transaction and its after-commit actions wait for the outer commit.
// Commit/rollback is handled by a single defer on the named return.
func (d *DB) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if InTransaction(ctx) {
		return fn(ctx)
	}
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	ctx, uow := WithUnitOfWork(context.WithValue(ctx, txKey{}, tx))
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			uow.Discard()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			uow.Discard()
			return
		}
		if err = tx.Commit(); err != nil {
			uow.Discard()
			return
		}
		uow.Drain()
	}()

	err = fn(ctx)
	return
}
