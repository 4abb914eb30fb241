package repository

import (
	"context"
	"errors"
	"stock-service/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type InventoryRepo interface {
	Get(ctx context.Context, productID uuid.UUID) (*models.Inventory, error)
	BatchGet(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]models.Inventory, error)
	// Lock читает строку под блокировкой (см. RowLocker). nil, nil: строки нет.
	Lock(ctx context.Context, productID uuid.UUID) (*models.Inventory, error)

	SetOnHand(ctx context.Context, productID uuid.UUID, onHand int32) error
	SetThreshold(ctx context.Context, productID uuid.UUID, threshold *int32) error

	// AddOnHand: on_hand += delta, только если результат не уходит в минус
	AddOnHand(ctx context.Context, productID uuid.UUID, delta int32) (bool, error)
}

type inventoryRepo struct {
	db     *gorm.DB
	locker RowLocker
}

func NewInventoryRepo(db *gorm.DB, locker RowLocker) InventoryRepo {
	return &inventoryRepo{db: db, locker: locker}
}

func (r *inventoryRepo) Get(ctx context.Context, productID uuid.UUID) (*models.Inventory, error) {
	var inv models.Inventory
	err := r.db.WithContext(ctx).First(&inv, "product_id = ?", productID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &inv, err
}

func (r *inventoryRepo) BatchGet(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]models.Inventory, error) {
	out := make(map[uuid.UUID]models.Inventory, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	var list []models.Inventory
	if err := r.db.WithContext(ctx).Where("product_id IN ?", productIDs).Find(&list).Error; err != nil {
		return nil, err
	}
	for _, inv := range list {
		out[inv.ProductID] = inv
	}
	return out, nil
}

func (r *inventoryRepo) Lock(ctx context.Context, productID uuid.UUID) (*models.Inventory, error) {
	return r.locker.LockInventory(ctx, r.db, productID)
}

func (r *inventoryRepo) SetOnHand(ctx context.Context, productID uuid.UUID, onHand int32) error {
	inv := models.Inventory{ProductID: productID, OnHand: onHand}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "product_id"}},
			DoUpdates: clause.Assignments(map[string]any{"on_hand": onHand, "updated_at": gorm.Expr("CURRENT_TIMESTAMP")}),
		}).
		Select("*").
		Create(&inv).Error
}

func (r *inventoryRepo) SetThreshold(ctx context.Context, productID uuid.UUID, threshold *int32) error {
	return r.db.WithContext(ctx).
		Model(&models.Inventory{}).
		Where("product_id = ?", productID).
		Update("low_stock_threshold", threshold).Error
}

func (r *inventoryRepo) AddOnHand(ctx context.Context, productID uuid.UUID, delta int32) (bool, error) {
	tx := r.db.WithContext(ctx).
		Model(&models.Inventory{}).
		Where("product_id = ? AND on_hand + ? >= 0", productID, delta).
		Updates(map[string]any{
			"on_hand":    gorm.Expr("on_hand + ?", delta),
			"updated_at": gorm.Expr("CURRENT_TIMESTAMP"),
		})
	return tx.RowsAffected > 0, tx.Error
}
