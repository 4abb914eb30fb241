package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"stock-service/internal/models"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ReservationRepo interface {
	CreateBatch(ctx context.Context, list []models.Reservation) error

	// Активные (не отпущенные и не истёкшие на now) резервы по ключу чекаута
	ListActiveByClientOrder(ctx context.Context, clientOrderID string, now time.Time) ([]models.Reservation, error)
	// Вся история по ключу, включая терминальные
	ListByClientOrder(ctx context.Context, clientOrderID string) ([]models.Reservation, error)

	// Сумма активных резервов по товару (вычитаемое в формуле доступного остатка)
	SumActive(ctx context.Context, productID uuid.UUID, now time.Time) (int32, error)
	SumActiveByProducts(ctx context.Context, productIDs []uuid.UUID, now time.Time) (map[uuid.UUID]int32, error)

	// Перевод в терминальное состояние; уже отпущенные строки не трогаются
	MarkReleased(ctx context.Context, ids []uuid.UUID, reason models.ReleaseReason, at time.Time, orderID *uuid.UUID) (int64, error)

	// Гигиена: помечает истёкшие активные строки как expired, не больше limit за вызов
	SweepExpired(ctx context.Context, now time.Time, limit int) (int64, error)
}

type reservationRepo struct{ db *gorm.DB }

func NewReservationRepo(db *gorm.DB) ReservationRepo { return &reservationRepo{db: db} }

func (r *reservationRepo) CreateBatch(ctx context.Context, list []models.Reservation) error {
	if len(list) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&list).Error
}

func (r *reservationRepo) ListActiveByClientOrder(ctx context.Context, clientOrderID string, now time.Time) ([]models.Reservation, error) {
	var list []models.Reservation
	err := r.db.WithContext(ctx).
		Where("client_order_id = ? AND is_released = ? AND expires_at > ?", clientOrderID, false, now).
		Order("product_id ASC").
		Find(&list).Error
	return list, err
}

func (r *reservationRepo) ListByClientOrder(ctx context.Context, clientOrderID string) ([]models.Reservation, error) {
	var list []models.Reservation
	err := r.db.WithContext(ctx).
		Where("client_order_id = ?", clientOrderID).
		Order("created_at ASC").
		Find(&list).Error
	return list, err
}

func (r *reservationRepo) SumActive(ctx context.Context, productID uuid.UUID, now time.Time) (int32, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("product_id = ? AND is_released = ? AND expires_at > ?", productID, false, now).
		Scan(&sum).Error
	if err != nil {
		return 0, err
	}
	return toInt32(productID, sum)
}

func (r *reservationRepo) SumActiveByProducts(ctx context.Context, productIDs []uuid.UUID, now time.Time) (map[uuid.UUID]int32, error) {
	out := make(map[uuid.UUID]int32, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}

	var rows []struct {
		ProductID uuid.UUID
		Total     int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Select("product_id, COALESCE(SUM(quantity), 0) AS total").
		Where("product_id IN ? AND is_released = ? AND expires_at > ?", productIDs, false, now).
		Group("product_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		v, err := toInt32(row.ProductID, row.Total)
		if err != nil {
			return nil, err
		}
		out[row.ProductID] = v
	}
	return out, nil
}

// ErrSumOutOfRange: сумма активных резервов не помещается в int32.
var ErrSumOutOfRange = errors.New("reserved quantity out of int32 range")

func toInt32(productID uuid.UUID, sum int64) (int32, error) {
	if sum > math.MaxInt32 || sum < math.MinInt32 {
		return 0, fmt.Errorf("%w: product %s sum %d", ErrSumOutOfRange, productID, sum)
	}
	return int32(sum), nil
}

func (r *reservationRepo) MarkReleased(ctx context.Context, ids []uuid.UUID, reason models.ReleaseReason, at time.Time, orderID *uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	fields := map[string]any{
		"is_released":    true,
		"released_at":    at,
		"release_reason": reason,
	}
	if orderID != nil {
		fields["order_id"] = *orderID
	}
	tx := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("id IN ? AND is_released = ?", ids, false).
		Updates(fields)
	return tx.RowsAffected, tx.Error
}

func (r *reservationRepo) SweepExpired(ctx context.Context, now time.Time, limit int) (int64, error) {
	var ids []uuid.UUID
	// два шага: MySQL не поддерживает LIMIT в подзапросе IN
	err := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("is_released = ? AND expires_at <= ?", false, now).
		Order("expires_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return 0, err
	}

	tx := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("id IN ? AND is_released = ? AND expires_at <= ?", ids, false, now).
		Updates(map[string]any{
			"is_released":    true,
			"released_at":    now,
			"release_reason": models.ReleaseReasonExpired,
		})
	return tx.RowsAffected, tx.Error
}
