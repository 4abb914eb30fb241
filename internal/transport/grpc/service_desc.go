package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Контракт stock.v1.StockService. Сообщения передаются как google.protobuf.Struct,
// поля описаны в handler.go рядом с разбором.

const StockServiceName = "stock.v1.StockService"

const (
	StockService_ValidateStock_FullMethodName      = "/stock.v1.StockService/ValidateStock"
	StockService_ReserveStock_FullMethodName       = "/stock.v1.StockService/ReserveStock"
	StockService_CommitReservation_FullMethodName  = "/stock.v1.StockService/CommitReservation"
	StockService_ReleaseReservation_FullMethodName = "/stock.v1.StockService/ReleaseReservation"
	StockService_IncreaseStock_FullMethodName      = "/stock.v1.StockService/IncreaseStock"
	StockService_DecreaseStock_FullMethodName      = "/stock.v1.StockService/DecreaseStock"
	StockService_GetAvailability_FullMethodName    = "/stock.v1.StockService/GetAvailability"
)

type StockServiceServer interface {
	ValidateStock(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReserveStock(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CommitReservation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReleaseReservation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	IncreaseStock(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DecreaseStock(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAvailability(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func RegisterStockServiceServer(s grpc.ServiceRegistrar, srv StockServiceServer) {
	s.RegisterService(&StockService_ServiceDesc, srv)
}

type unaryCall func(srv StockServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(StockServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(StockServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var StockService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: StockServiceName,
	HandlerType: (*StockServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ValidateStock",
			Handler: unaryHandler(StockService_ValidateStock_FullMethodName, func(srv StockServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.ValidateStock(ctx, in)
			}),
		},
		{
			MethodName: "ReserveStock",
			Handler: unaryHandler(StockService_ReserveStock_FullMethodName, func(srv StockServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.ReserveStock(ctx, in)
			}),
		},
		{
			MethodName: "CommitReservation",
			Handler: unaryHandler(StockService_CommitReservation_FullMethodName, func(srv StockServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.CommitReservation(ctx, in)
			}),
		},
		{
			MethodName: "ReleaseReservation",
			Handler: unaryHandler(StockService_ReleaseReservation_FullMethodName, func(srv StockServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.ReleaseReservation(ctx, in)
			}),
		},
		{
			MethodName: "IncreaseStock",
			Handler: unaryHandler(StockService_IncreaseStock_FullMethodName, func(srv StockServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.IncreaseStock(ctx, in)
			}),
		},
		{
			MethodName: "DecreaseStock",
			Handler: unaryHandler(StockService_DecreaseStock_FullMethodName, func(srv StockServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.DecreaseStock(ctx, in)
			}),
		},
		{
			MethodName: "GetAvailability",
			Handler: unaryHandler(StockService_GetAvailability_FullMethodName, func(srv StockServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.GetAvailability(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stock/v1/stock.proto",
}

// StockServiceClient: клиент для саги заказов и тестов.
type StockServiceClient interface {
	ValidateStock(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ReserveStock(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	CommitReservation(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ReleaseReservation(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	IncreaseStock(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	DecreaseStock(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetAvailability(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type stockServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewStockServiceClient(cc grpc.ClientConnInterface) StockServiceClient {
	return &stockServiceClient{cc}
}

func (c *stockServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *stockServiceClient) ValidateStock(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, StockService_ValidateStock_FullMethodName, in, opts)
}

func (c *stockServiceClient) ReserveStock(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, StockService_ReserveStock_FullMethodName, in, opts)
}

func (c *stockServiceClient) CommitReservation(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, StockService_CommitReservation_FullMethodName, in, opts)
}

func (c *stockServiceClient) ReleaseReservation(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, StockService_ReleaseReservation_FullMethodName, in, opts)
}

func (c *stockServiceClient) IncreaseStock(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, StockService_IncreaseStock_FullMethodName, in, opts)
}

func (c *stockServiceClient) DecreaseStock(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, StockService_DecreaseStock_FullMethodName, in, opts)
}

func (c *stockServiceClient) GetAvailability(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, StockService_GetAvailability_FullMethodName, in, opts)
}
