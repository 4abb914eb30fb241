package repository

import (
	"context"
	"stock-service/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LedgerRepo: журнал движения остатков, только добавление.
type LedgerRepo interface {
	Append(ctx context.Context, entries ...*models.StockMovement) error
	ListByProduct(ctx context.Context, productID uuid.UUID, limit int) ([]models.StockMovement, error)
	ListByReference(ctx context.Context, reference string) ([]models.StockMovement, error)
}

type ledgerRepo struct{ db *gorm.DB }

func NewLedgerRepo(db *gorm.DB) LedgerRepo { return &ledgerRepo{db: db} }

func (r *ledgerRepo) Append(ctx context.Context, entries ...*models.StockMovement) error {
	if len(entries) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(entries).Error
}

func (r *ledgerRepo) ListByProduct(ctx context.Context, productID uuid.UUID, limit int) ([]models.StockMovement, error) {
	if limit <= 0 {
		limit = 50
	}
	var list []models.StockMovement
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("created_at DESC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

func (r *ledgerRepo) ListByReference(ctx context.Context, reference string) ([]models.StockMovement, error) {
	var list []models.StockMovement
	err := r.db.WithContext(ctx).
		Where("reference = ?", reference).
		Order("created_at ASC").
		Find(&list).Error
	return list, err
}
