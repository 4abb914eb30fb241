package repository

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrBeginTx   = errors.New("begin transaction")
	ErrRetryable = errors.New("transaction conflict, retry")
)

var retryablePgCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
}

var retryableMySQLNumbers = map[uint16]struct{}{
	1205: {}, // ER_LOCK_WAIT_TIMEOUT
	1213: {}, // ER_LOCK_DEADLOCK
}

// classify помечает конфликты сериализации и дедлоки как ErrRetryable, остальное не трогает.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrRetryable) {
		return err
	}
	if IsRetryable(err) {
		return fmt.Errorf("%w: %w", ErrRetryable, err)
	}
	return err
}

func IsRetryable(err error) bool {
	if errors.Is(err, ErrRetryable) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, ok := retryablePgCodes[pgErr.Code]
		return ok
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		_, ok := retryableMySQLNumbers[myErr.Number]
		return ok
	}
	return false
}
