package interceptors

import (
	"context"

	"google.golang.org/grpc"

	"access-core/internal/audit"
)

// AuditUnary returns a unary server interceptor that records an audit log entry before each RPC
// runs, so denied and failing calls are recorded too. skipMethods is the set of full method names
// to not audit (e.g. the health check). Recording is best-effort and never fails the RPC.
func AuditUnary(logger audit.AuditLogger, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if audit.ClientIPFromContext(ctx) == "" {
			ctx = audit.WithClientIP(ctx, ClientIP(ctx))
		}
		if logger != nil && !skipMethods[info.FullMethod] {
			subject, _ := GetSubjectID(ctx)
			ar := audit.ParseFullMethod(info.FullMethod)
			logger.LogEvent(ctx, subject, ar.Action, ar.Resource, "")
		}
		return handler(ctx, req)
	}
}
