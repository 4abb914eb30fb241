package events

import (
	"context"

	"github.com/google/uuid"
)

type Type string

const (
	TypeValidate Type = "validate"
	TypeReserve  Type = "reserve"
	TypeCommit   Type = "commit"
	TypeRelease  Type = "release"
	TypeAdjust   Type = "adjust"
)

// Event: структурное событие об исходе операции движка остатков.
type Event struct {
	Type          Type
	Outcome       string
	ClientOrderID string
	ProductID     uuid.UUID
	// Quantity: суммарное количество единиц, затронутых операцией
	Quantity int32
	Lines    int
	Reason   string
	Err      error
}

type Sink interface {
	Emit(ctx context.Context, e Event)
}

type Fanout []Sink

func (f Fanout) Emit(ctx context.Context, e Event) {
	for _, s := range f {
		if s != nil {
			s.Emit(ctx, e)
		}
	}
}

type Nop struct{}

func (Nop) Emit(context.Context, Event) {}
