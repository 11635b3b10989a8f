// Package repository holds the MySQL data access layer. Repositories are
// bound to *database.DB and resolve their executor per call, so every method
// transparently joins a transaction opened with WithinTransaction.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

const (
	mysqlErrDuplicateKey    = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// IsDuplicateKey reports a unique-constraint violation.
func IsDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlErrDuplicateKey
}

// IsTransient reports deadlocks and lock-wait timeouts: contention noise
// that is worth retrying the whole operation for.
func IsTransient(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	return me.Number == mysqlErrDeadlock || me.Number == mysqlErrLockWaitTimeout
}
