// Package server 是 gRPC 边界上的拦截器、错误映射和 JWT 鉴权
//
// 目录服务目前没有 protobuf API，hippo-server 只注册 health 和 reflection；
// 这些拦截器和 ToStatus 会原样套在以后注册的服务上，现在只由本包的测试覆盖
package server

import (
	"context"
	"runtime/debug"
	"time"

	"hippo/pkg/metrics"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// =============================================================================
// 1. Logging Interceptor (结构化日志 + 请求指标)
// =============================================================================

// UnaryLoggingInterceptor 记录每个普通请求的方法、状态码和耗时
func UnaryLoggingInterceptor(log zerolog.Logger, m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logRPC(log, m, "unary", info.FullMethod, time.Since(start), err)
		return resp, err
	}
}

// StreamLoggingInterceptor 流式请求在流结束时记录一次
func StreamLoggingInterceptor(log zerolog.Logger, m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logRPC(log, m, "stream", info.FullMethod, time.Since(start), err)
		return err
	}
}

func logRPC(log zerolog.Logger, m *metrics.Metrics, kind, method string, d time.Duration, err error) {
	code := status.Code(err)
	m.RecordRequest(method, code.String(), d)

	// NotFound 这类业务错误算 Warn，Internal 算 Error
	event := log.Info()
	switch code {
	case codes.OK:
	case codes.Internal, codes.Unknown, codes.DataLoss:
		event = log.Error()
	default:
		event = log.Warn()
	}
	if err != nil {
		event = event.Err(err)
	}
	event.
		Str("kind", kind).
		Str("method", method).
		Str("code", code.String()).
		Dur("dur", d).
		Msg("grpc request")
}

// =============================================================================
// 2. Recovery Interceptor (防弹衣)
// =============================================================================

// UnaryRecoveryInterceptor 把 panic 变成 Internal，连接不断开
func UnaryRecoveryInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = recoverFromPanic(log, info.FullMethod, r)
			}
		}()
		return handler(ctx, req)
	}
}

func StreamRecoveryInterceptor(log zerolog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = recoverFromPanic(log, info.FullMethod, r)
			}
		}()
		return handler(srv, ss)
	}
}

func recoverFromPanic(log zerolog.Logger, method string, p any) error {
	log.Error().
		Str("method", method).
		Interface("panic", p).
		Str("stack", string(debug.Stack())).
		Msg("panic recovered")
	return status.Errorf(codes.Internal, "internal server error: panic recovered")
}

// =============================================================================
// 3. Error Interceptor (领域错误 -> gRPC 状态码)
// =============================================================================

func UnaryErrorInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		return resp, ToStatus(err)
	}
}

// ServerOptions 按顺序组装拦截器：recovery 最内层，保证 panic 也会被记录
func ServerOptions(log zerolog.Logger, m *metrics.Metrics, tokens *TokenService) []grpc.ServerOption {
	unary := []grpc.UnaryServerInterceptor{
		UnaryLoggingInterceptor(log, m),
		UnaryErrorInterceptor(),
	}
	stream := []grpc.StreamServerInterceptor{
		StreamLoggingInterceptor(log, m),
	}
	if tokens != nil {
		unary = append(unary, UnaryAuthInterceptor(tokens))
		stream = append(stream, StreamAuthInterceptor(tokens))
	}
	unary = append(unary, UnaryRecoveryInterceptor(log))
	stream = append(stream, StreamRecoveryInterceptor(log))

	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
	}
}
