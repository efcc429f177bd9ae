package interceptors

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"

	"access-core/internal/audit"
	"access-core/internal/clientip"
	rbacservice "access-core/internal/rbac/service"
)

// RequestScopeUnary returns a unary server interceptor that prepares per-request state: the
// client IP, resolved through proxies, and a role graph cache shared by every permission check
// of the call. It must run first so later interceptors and the handler see both.
func RequestScopeUnary(proxies *clientip.Proxies) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx = audit.WithClientIP(ctx, resolveClientIP(ctx, proxies))
		return handler(rbacservice.WithCache(ctx), req)
	}
}

func resolveClientIP(ctx context.Context, proxies *clientip.Proxies) string {
	var addr, xff, realIP string
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		addr = p.Addr.String()
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("x-forwarded-for"); len(vals) > 0 {
			xff = vals[0]
		}
		if vals := md.Get("x-real-ip"); len(vals) > 0 {
			realIP = vals[0]
		}
	}
	return proxies.Resolve(addr, xff, realIP)
}

// ClientIP returns the client IP resolved by RequestScopeUnary. Without it, the peer address
// is used and forwarding metadata is ignored.
func ClientIP(ctx context.Context) string {
	if ip := audit.ClientIPFromContext(ctx); ip != "" {
		return ip
	}
	return resolveClientIP(ctx, nil)
}
