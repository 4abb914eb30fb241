package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Product: карточка каталога. Движок остатков только читает её.
type Product struct {
	ID       uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	SKU      string    `gorm:"type:text;not null"`
	Name     string    `gorm:"type:text;not null"`
	IsActive bool      `gorm:"not null;default:true"`

	CreatedAt time.Time `gorm:"not null;default:now();index"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

func (Product) TableName() string {
	return "products"
}

// Inventory: строка остатка, которую блокируем перед чтением/записью.
type Inventory struct {
	ProductID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	OnHand            int32     `gorm:"not null;default:0"`
	LowStockThreshold *int32

	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

func (Inventory) TableName() string {
	return "inventories"
}

type ReleaseReason string

const (
	ReleaseReasonReleased  ReleaseReason = "released"
	ReleaseReasonCommitted ReleaseReason = "committed"
	ReleaseReasonReplaced  ReleaseReason = "replaced"
	ReleaseReasonExpired   ReleaseReason = "expired"
)

type Reservation struct {
	ID            uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ClientOrderID string    `gorm:"type:varchar(128);not null;index"`
	ProductID     uuid.UUID `gorm:"type:uuid;not null;index"`
	Quantity      int32     `gorm:"not null"`

	CreatedAt time.Time `gorm:"not null;index"`
	ExpiresAt time.Time `gorm:"not null;index"`

	IsReleased    bool          `gorm:"not null;default:false;index"`
	ReleasedAt    *time.Time    `gorm:""`
	ReleaseReason ReleaseReason `gorm:"type:varchar(16)"`
	OrderID       *uuid.UUID    `gorm:"type:uuid;index"`
}

func (Reservation) TableName() string {
	return "reservations"
}

// IsActive: не отпущена и не истекла на момент now.
func (r *Reservation) IsActive(now time.Time) bool {
	return !r.IsReleased && r.ExpiresAt.After(now)
}

type ChangeType string

const (
	ChangeReserve ChangeType = "RESERVE"
	ChangeRelease ChangeType = "RELEASE"
	ChangeCommit  ChangeType = "COMMIT"
	ChangeAdjust  ChangeType = "ADJUST"
)

// StockMovement: неизменяемая запись журнала движения остатков.
// before/after: доступный остаток для RESERVE/RELEASE, физический для COMMIT/ADJUST.
type StockMovement struct {
	ID          uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ProductID   uuid.UUID  `gorm:"type:uuid;not null;index:ix_stock_movements_product_created,priority:1"`
	ChangeType  ChangeType `gorm:"type:varchar(16);not null"`
	Quantity    int32      `gorm:"not null"`
	StockBefore int32      `gorm:"not null"`
	StockAfter  int32      `gorm:"not null"`
	Reference   string     `gorm:"type:varchar(255);index"`
	Reason      string     `gorm:"type:varchar(64)"`
	ActorID     *uuid.UUID `gorm:"type:uuid"`

	CreatedAt time.Time `gorm:"not null;index:ix_stock_movements_product_created,priority:2"`
}

func (StockMovement) TableName() string {
	return "stock_movements"
}

// ID выставляем на стороне приложения: gen_random_uuid() есть только в Postgres.

func (p *Product) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

func (r *Reservation) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

func (m *StockMovement) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
