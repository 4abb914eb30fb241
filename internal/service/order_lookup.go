package service

import (
	"context"

	"github.com/google/uuid"
)

// ClientOrderIDAsOrderID: для саги, где ключ резерва и есть id заказа.
type ClientOrderIDAsOrderID struct{}

func (ClientOrderIDAsOrderID) OrderIDForClientOrder(_ context.Context, clientOrderID string) (*uuid.UUID, error) {
	id, err := uuid.Parse(clientOrderID)
	if err != nil {
		return nil, nil
	}
	return &id, nil
}

type OrderLookupFunc func(ctx context.Context, clientOrderID string) (*uuid.UUID, error)

func (f OrderLookupFunc) OrderIDForClientOrder(ctx context.Context, clientOrderID string) (*uuid.UUID, error) {
	return f(ctx, clientOrderID)
}
