package grpc

import (
	"context"
	"time"

	"stock-service/internal/service"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const ActorHeader = "x-actor-id"

// NewActorUnaryServerInterceptor кладёт в контекст id того, кто вызывает операцию.
// Заголовок необязательный; если он есть, должен быть UUID.
// Аутентификацию выполняет gateway перед сервисом.
func NewActorUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return handler(ctx, req)
		}
		vals := md.Get(ActorHeader)
		if len(vals) == 0 || vals[0] == "" {
			return handler(ctx, req)
		}
		uid, err := uuid.Parse(vals[0])
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid %s header", ActorHeader)
		}
		return handler(service.WithUserID(ctx, uid), req)
	}
}

// NewLoggingUnaryServerInterceptor пишет метод, код и длительность вызова и не даёт панике уронить сервер.
func NewLoggingUnaryServerInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic in gRPC handler", zap.String("method", info.FullMethod), zap.Any("panic", r))
				resp, err = nil, status.Error(codes.Internal, "internal error")
			}
			code := status.Code(err)
			fields := []zap.Field{
				zap.String("method", info.FullMethod),
				zap.String("code", code.String()),
				zap.Duration("duration", time.Since(start)),
			}
			switch code {
			case codes.OK:
				log.Debug("grpc call", fields...)
			case codes.Internal, codes.Unknown, codes.Unavailable:
				log.Error("grpc call failed", append(fields, zap.Error(err))...)
			default:
				log.Info("grpc call rejected", append(fields, zap.Error(err))...)
			}
		}()
		return handler(ctx, req)
	}
}
