package repository

import (
	"context"
	"errors"

	"stock-service/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	RowLockNative    = "native"
	RowLockIsolation = "isolation"
)

// RowLocker читает строку inventories под эксклюзивной блокировкой на время транзакции.
// Снятия блокировки нет: она держится до коммита/отката.
type RowLocker interface {
	LockInventory(ctx context.Context, db *gorm.DB, productID uuid.UUID) (*models.Inventory, error)
	// Native: false, если корректность держится только на уровне изоляции.
	Native() bool
}

// ForUpdateLocker: SELECT ... FOR UPDATE (Postgres, MySQL/InnoDB).
type ForUpdateLocker struct{}

func (ForUpdateLocker) LockInventory(ctx context.Context, db *gorm.DB, productID uuid.UUID) (*models.Inventory, error) {
	var inv models.Inventory
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&inv, "product_id = ?", productID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (ForUpdateLocker) Native() bool { return true }

// IsolationLocker: обычное чтение, защита только за счёт SERIALIZABLE.
// Конкурирующие транзакции получат ошибку сериализации вместо ожидания на блокировке.
type IsolationLocker struct{}

func (IsolationLocker) LockInventory(ctx context.Context, db *gorm.DB, productID uuid.UUID) (*models.Inventory, error) {
	var inv models.Inventory
	err := db.WithContext(ctx).First(&inv, "product_id = ?", productID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (IsolationLocker) Native() bool { return false }

// LockerFor подбирает блокировщик по диалекту gorm и режиму из конфигурации.
func LockerFor(dialect, mode string, log *zap.Logger) RowLocker {
	if mode == RowLockIsolation {
		log.Warn("row locks disabled by configuration, relying on serializable isolation",
			zap.String("dialect", dialect))
		return IsolationLocker{}
	}
	switch dialect {
	case "postgres", "mysql":
		return ForUpdateLocker{}
	default:
		log.Warn("dialect has no row lock support, relying on serializable isolation",
			zap.String("dialect", dialect))
		return IsolationLocker{}
	}
}
