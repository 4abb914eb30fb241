package grpc

import (
	"context"
	"errors"
	"fmt"
	"math"

	"stock-service/internal/repository"
	"stock-service/internal/service"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type Handler struct {
	svc service.StockService
}

func NewHandler(svc service.StockService) *Handler {
	return &Handler{svc: svc}
}

var _ StockServiceServer = (*Handler)(nil)

// ValidateStock: {items: [{product_id, quantity}]} -> {ok, message}
func (h *Handler) ValidateStock(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	items, err := fromItems(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "items: %v", err)
	}
	ok, msg, err := h.svc.ValidateStockForOrder(ctx, items)
	if err != nil {
		return nil, toStatusErr(err)
	}
	return structpb.NewStruct(map[string]any{"ok": ok, "message": msg})
}

// ReserveStock: {client_order_id, items} -> result
func (h *Handler) ReserveStock(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	key, err := fromClientOrderID(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	items, err := fromItems(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "items: %v", err)
	}
	res, err := h.svc.ReserveStock(ctx, key, items)
	if err != nil {
		return nil, toStatusErr(err)
	}
	return toProtoResult(res)
}

// CommitReservation: {client_order_id} -> result
func (h *Handler) CommitReservation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	key, err := fromClientOrderID(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	res, err := h.svc.CommitReservation(ctx, key)
	if err != nil {
		return nil, toStatusErr(err)
	}
	return toProtoResult(res)
}

// ReleaseReservation: {client_order_id} -> result
func (h *Handler) ReleaseReservation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	key, err := fromClientOrderID(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	res, err := h.svc.ReleaseReservation(ctx, key)
	if err != nil {
		return nil, toStatusErr(err)
	}
	return toProtoResult(res)
}

// IncreaseStock: {product_id, quantity, reason?, note?} -> result
func (h *Handler) IncreaseStock(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	pid, qty, adj, err := fromAdjustment(ctx, req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	res, err := h.svc.IncreaseStock(ctx, pid, qty, adj)
	if err != nil {
		return nil, toStatusErr(err)
	}
	return toProtoResult(res)
}

func (h *Handler) DecreaseStock(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	pid, qty, adj, err := fromAdjustment(ctx, req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	res, err := h.svc.DecreaseStock(ctx, pid, qty, adj)
	if err != nil {
		return nil, toStatusErr(err)
	}
	return toProtoResult(res)
}

// GetAvailability: {product_id} -> {product_id, available}
func (h *Handler) GetAvailability(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	pid, err := fromUUID(req, "product_id")
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid product_id: %v", err)
	}
	avail, err := h.svc.GetAvailability(ctx, pid)
	if err != nil {
		return nil, toStatusErr(err)
	}
	return structpb.NewStruct(map[string]any{
		"product_id": pid.String(),
		"available":  avail,
	})
}

// хелп

func field(req *structpb.Struct, name string) *structpb.Value {
	if req == nil {
		return nil
	}
	return req.GetFields()[name]
}

func fromClientOrderID(req *structpb.Struct) (string, error) {
	v := field(req, "client_order_id")
	if v == nil || v.GetStringValue() == "" {
		return "", errors.New("client_order_id is required")
	}
	if len(v.GetStringValue()) > 128 {
		return "", errors.New("client_order_id is longer than 128 chars")
	}
	return v.GetStringValue(), nil
}

func fromUUID(req *structpb.Struct, name string) (uuid.UUID, error) {
	v := field(req, name)
	if v == nil || v.GetStringValue() == "" {
		return uuid.Nil, errors.New("empty uuid")
	}
	return uuid.Parse(v.GetStringValue())
}

// fromQuantity: числа в Struct приходят как double, принимаем только целые в пределах int32.
func fromQuantity(v *structpb.Value) (int32, error) {
	if v == nil {
		return 0, errors.New("quantity is required")
	}
	if _, ok := v.GetKind().(*structpb.Value_NumberValue); !ok {
		return 0, errors.New("quantity must be a number")
	}
	f := v.GetNumberValue()
	if f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, fmt.Errorf("quantity %v is not an int32", f)
	}
	return int32(f), nil
}

func fromItems(req *structpb.Struct) ([]service.Item, error) {
	list := field(req, "items").GetListValue()
	out := make([]service.Item, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		it := v.GetStructValue()
		if it == nil {
			return nil, fmt.Errorf("item %d is not an object", i)
		}
		pid, err := fromUUID(it, "product_id")
		if err != nil {
			return nil, fmt.Errorf("item %d: product_id: %w", i, err)
		}
		qty, err := fromQuantity(field(it, "quantity"))
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, service.Item{ProductID: pid, Quantity: qty})
	}
	return out, nil
}

func fromAdjustment(ctx context.Context, req *structpb.Struct) (uuid.UUID, int32, service.Adjustment, error) {
	pid, err := fromUUID(req, "product_id")
	if err != nil {
		return uuid.Nil, 0, service.Adjustment{}, fmt.Errorf("invalid product_id: %w", err)
	}
	qty, err := fromQuantity(field(req, "quantity"))
	if err != nil {
		return uuid.Nil, 0, service.Adjustment{}, err
	}
	adj := service.Adjustment{
		Reason: field(req, "reason").GetStringValue(),
		Note:   field(req, "note").GetStringValue(),
	}
	if uid, ok := service.UserIDFromContext(ctx); ok {
		adj.ActorID = &uid
	}
	return pid, qty, adj, nil
}

func toProtoResult(res service.Result) (*structpb.Struct, error) {
	m := map[string]any{
		"outcome":     string(res.Outcome),
		"ok":          res.OK(),
		"lines":       res.Lines,
		"units":       res.Units,
		"stock_after": res.StockAfter,
	}
	if s := res.Shortage; s != nil {
		m["shortage"] = map[string]any{
			"product_id": s.ProductID.String(),
			"requested":  s.Requested,
			"available":  s.Available,
		}
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return out, nil
}

func toStatusErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, service.ErrInventoryNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrEmptyClientOrderID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrInvariantViolated):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, repository.ErrRetryable):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, repository.ErrBeginTx):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
