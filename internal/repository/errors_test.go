package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"pg serialization", &pgconn.PgError{Code: "40001"}, true},
		{"pg deadlock", fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40P01"}), true},
		{"pg lock timeout", &pgconn.PgError{Code: "55P03"}, true},
		{"pg unique", &pgconn.PgError{Code: "23505"}, false},
		{"mysql deadlock", &mysql.MySQLError{Number: 1213}, true},
		{"mysql lock wait", &mysql.MySQLError{Number: 1205}, true},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(tc.err)
			assert.Equal(t, tc.retryable, errors.Is(got, ErrRetryable))
			assert.ErrorIs(t, got, tc.err)
			assert.Equal(t, tc.retryable, IsRetryable(tc.err))
		})
	}

	assert.NoError(t, classify(nil))
	wrapped := classify(&pgconn.PgError{Code: "40001"})
	assert.Same(t, wrapped, classify(wrapped))
}

func TestParseIsolation(t *testing.T) {
	for in, want := range map[string]sql.IsolationLevel{
		"":             sql.LevelSerializable,
		"SERIALIZABLE": sql.LevelSerializable,
	} {
		got, err := ParseIsolation(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"repeatable_read", "READ_COMMITTED", "read_uncommitted", "snapshot"} {
		_, err := ParseIsolation(in)
		assert.ErrorIs(t, err, ErrWeakIsolation, in)
	}

	_, err := ParseIsolation("linearizable")
	assert.Error(t, err)
	_, err = ParseIsolation("chaos")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrWeakIsolation)
}

func TestNewWithOptions_ForcesSerializable(t *testing.T) {
	for _, lvl := range []sql.IsolationLevel{sql.LevelDefault, sql.LevelReadCommitted, sql.LevelRepeatableRead, sql.LevelSnapshot} {
		r := NewWithOptions(nil, Options{Isolation: lvl})
		assert.Equal(t, sql.LevelSerializable, r.opts.Isolation, lvl.String())
	}
}

func TestToInt32(t *testing.T) {
	p := uuid.New()

	v, err := toInt32(p, math.MaxInt32)
	require.NoError(t, err)
	assert.Equal(t, int32(math.MaxInt32), v)

	_, err = toInt32(p, math.MaxInt32+1)
	assert.ErrorIs(t, err, ErrSumOutOfRange)
	_, err = toInt32(p, math.MinInt32-1)
	assert.ErrorIs(t, err, ErrSumOutOfRange)
}

func TestLockerFor(t *testing.T) {
	log := zap.NewNop()
	assert.True(t, LockerFor("postgres", RowLockNative, log).Native())
	assert.True(t, LockerFor("mysql", RowLockNative, log).Native())
	assert.False(t, LockerFor("sqlite", RowLockNative, log).Native())
	assert.False(t, LockerFor("postgres", RowLockIsolation, log).Native())
}
