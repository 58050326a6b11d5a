package server

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingInterceptor logs the method name, duration, and error (if any) for every
// unary RPC call.
func LoggingInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	logRPC(info.FullMethod, time.Since(start), err)
	return resp, err
}

// RecoveryInterceptor catches panics in downstream handlers, logs the stack
// trace, and returns a codes.Internal error instead of crashing the server.
func RecoveryInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered(info.FullMethod, r)
		}
	}()
	return handler(ctx, req)
}

// StreamLoggingInterceptor is LoggingInterceptor for streaming RPCs. The
// duration covers the whole stream.
func StreamLoggingInterceptor(
	srv any,
	ss grpc.ServerStream,
	info *grpc.StreamServerInfo,
	handler grpc.StreamHandler,
) error {
	start := time.Now()
	err := handler(srv, ss)
	logRPC(info.FullMethod, time.Since(start), err)
	return err
}

// StreamRecoveryInterceptor is RecoveryInterceptor for streaming RPCs.
func StreamRecoveryInterceptor(
	srv any,
	ss grpc.ServerStream,
	info *grpc.StreamServerInfo,
	handler grpc.StreamHandler,
) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered(info.FullMethod, r)
		}
	}()
	return handler(srv, ss)
}

func logRPC(method string, duration time.Duration, err error) {
	if err != nil && status.Code(err) != codes.Canceled {
		slog.Error("rpc completed",
			"method", method,
			"duration", duration,
			"error", err,
		)
		return
	}
	slog.Info("rpc completed",
		"method", method,
		"duration", duration,
	)
}

func recovered(method string, r any) error {
	slog.Error("panic recovered in gRPC handler",
		"method", method,
		"panic", fmt.Sprintf("%v", r),
		"stack", string(debug.Stack()),
	)
	return status.Errorf(codes.Internal, "internal server error")
}
