package service

import "errors"

var (
	ErrInventoryNotFound  = errors.New("inventory not found")
	ErrInvalidQuantity    = errors.New("quantity must be > 0")
	ErrEmptyClientOrderID = errors.New("client order id is required")

	// ErrInvariantViolated: на момент коммита физический остаток меньше зарезервированного.
	// Коммит откатывается, повторять его бессмысленно.
	ErrInvariantViolated = errors.New("on-hand stock below reserved quantity")
)

// errAbort откатывает единицу работы при ожидаемом бизнес-отказе, наружу не уходит.
var errAbort = errors.New("abort unit of work")
