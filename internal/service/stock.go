package service

import (
	"context"
	"time"

	"stock-service/internal/repository"

	"github.com/google/uuid"
)

type Item struct {
	ProductID uuid.UUID
	Quantity  int32
}

type Outcome string

const (
	OutcomeOK                  Outcome = "ok"
	OutcomeEmpty               Outcome = "empty"
	OutcomeInsufficientStock   Outcome = "insufficient_stock"
	OutcomeInvariantViolated   Outcome = "invariant_violated"
	OutcomeInfrastructureError Outcome = "infrastructure_error"
	OutcomeInvalid             Outcome = "invalid"
)

type Shortage struct {
	ProductID uuid.UUID
	Requested int32
	Available int32
}

// Result: исход операции. Ожидаемые отказы (нехватка, пустая корзина) приходят
// с nil-ошибкой, нарушение инварианта и сбои инфраструктуры приходят с ошибкой.
type Result struct {
	Outcome  Outcome
	Shortage *Shortage
	// Lines: сколько товаров затронуто, Units: сколько единиц
	Lines int
	Units int32
	// StockAfter: физический остаток после ручной корректировки
	StockAfter int32
}

func (r Result) OK() bool { return r.Outcome == OutcomeOK }

type Adjustment struct {
	Reason  string
	Note    string
	ActorID *uuid.UUID
}

type Options struct {
	ReservationTTL    time.Duration
	CriticalThreshold int32
	// MaxAttempts: сколько раз повторять собственную транзакцию при ErrRetryable
	MaxAttempts int
	// AllowUnlocked: работать без транзакции, если backend её не открыл (только development)
	AllowUnlocked bool
}

func DefaultOptions() Options {
	return Options{
		ReservationTTL:    15 * time.Minute,
		CriticalThreshold: 5,
		MaxAttempts:       3,
	}
}

// OrderLookup находит заказ, созданный из чекаута, чтобы привязать его к резервам при коммите.
type OrderLookup interface {
	OrderIDForClientOrder(ctx context.Context, clientOrderID string) (*uuid.UUID, error)
}

type StockService interface {
	// advisory, без блокировок
	ValidateStockForOrder(ctx context.Context, items []Item) (bool, string, error)
	GetAvailability(ctx context.Context, productID uuid.UUID) (int32, error)

	ReserveStock(ctx context.Context, clientOrderID string, items []Item) (Result, error)
	CommitReservation(ctx context.Context, clientOrderID string) (Result, error)
	ReleaseReservation(ctx context.Context, clientOrderID string) (Result, error)

	IncreaseStock(ctx context.Context, productID uuid.UUID, qty int32, adj Adjustment) (Result, error)
	DecreaseStock(ctx context.Context, productID uuid.UUID, qty int32, adj Adjustment) (Result, error)

	// In привязывает сервис к транзакции вызывающего: операции присоединяются к ней.
	In(tx *repository.Repository) StockService
}
