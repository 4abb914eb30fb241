package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

type Options struct {
	Isolation sql.IsolationLevel
	Locker    RowLocker
}

func DefaultOptions() Options {
	return Options{
		Isolation: sql.LevelSerializable,
		Locker:    ForUpdateLocker{},
	}
}

type Repository struct {
	DB           *gorm.DB
	Products     ProductRepo
	Inventories  InventoryRepo
	Reservations ReservationRepo
	Ledger       LedgerRepo

	opts Options
	tx   *txState
}

type txState struct {
	afterCommit []func(context.Context)
}

func buildRepository(db *gorm.DB, opts Options, tx *txState) *Repository {
	if opts.Locker == nil {
		opts.Locker = ForUpdateLocker{}
	}
	if opts.Isolation != sql.LevelSerializable {
		opts.Isolation = sql.LevelSerializable
	}
	return &Repository{
		DB:           db,
		Products:     NewProductRepo(db),
		Inventories:  NewInventoryRepo(db, opts.Locker),
		Reservations: NewReservationRepo(db),
		Ledger:       NewLedgerRepo(db),
		opts:         opts,
		tx:           tx,
	}
}

// ErrWeakIsolation: уровень ниже SERIALIZABLE не защищает формулу доступного остатка,
// SumActive читает снимок, сделанный до блокировки строки.
var ErrWeakIsolation = errors.New("isolation level weaker than serializable")

// ParseIsolation переводит значение DB_ISOLATION в уровень database/sql.
// Принимается только serializable.
func ParseIsolation(s string) (sql.IsolationLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "serializable":
		return sql.LevelSerializable, nil
	case "repeatable_read", "read_committed", "read_uncommitted", "snapshot":
		return sql.LevelDefault, fmt.Errorf("%w: %q", ErrWeakIsolation, s)
	default:
		return sql.LevelDefault, fmt.Errorf("unknown isolation level %q", s)
	}
}

func New(db *gorm.DB) *Repository { return buildRepository(db, DefaultOptions(), nil) }

func NewWithOptions(db *gorm.DB, opts Options) *Repository { return buildRepository(db, opts, nil) }

func (r *Repository) InTx() bool { return r.tx != nil }

func (r *Repository) Locker() RowLocker { return r.opts.Locker }

// WithTx: единица работы на весь набор репо.
// На корневом Repository открывает транзакцию, на уже привязанном к транзакции присоединяется к ней
// через SAVEPOINT: ошибка fn откатывает только её собственные изменения.
func (r *Repository) WithTx(ctx context.Context, fn func(tx *Repository) error) error {
	if r.tx != nil {
		hooks := len(r.tx.afterCommit)
		err := r.DB.WithContext(ctx).Transaction(func(sub *gorm.DB) error {
			return fn(buildRepository(sub, r.opts, r.tx))
		})
		if err != nil {
			r.tx.afterCommit = r.tx.afterCommit[:hooks]
			return classify(err)
		}
		return nil
	}

	tx := r.DB.WithContext(ctx).Begin(&sql.TxOptions{Isolation: r.opts.Isolation})
	if tx.Error != nil {
		return fmt.Errorf("%w: %w", ErrBeginTx, tx.Error)
	}

	state := &txState{}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if err := fn(buildRepository(tx, r.opts, state)); err != nil {
		return classify(err)
	}
	if err := tx.Commit().Error; err != nil {
		return classify(err)
	}
	committed = true

	for _, hook := range state.afterCommit {
		hook(ctx)
	}
	return nil
}

// AfterCommit откладывает fn до успешного коммита внешней транзакции.
// Вне транзакции fn выполняется сразу; при откате не выполняется вовсе.
func (r *Repository) AfterCommit(ctx context.Context, fn func(context.Context)) {
	if r.tx == nil {
		fn(ctx)
		return
	}
	r.tx.afterCommit = append(r.tx.afterCommit, fn)
}
