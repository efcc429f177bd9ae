package interceptors

import (
	"context"

	"google.golang.org/grpc"

	rbacdomain "access-core/internal/rbac/domain"
)

// Authorizer checks that subject holds (resource, action).
type Authorizer interface {
	Authorize(ctx context.Context, subject, resource string, action rbacdomain.Action) error
}

// Rule names the permission an RPC requires.
type Rule struct {
	Resource string
	Action   rbacdomain.Action
}

// PermissionUnary returns a unary server interceptor that enforces rules keyed by full method
// name. Methods without a rule pass through. Must run after AuthUnary.
func PermissionUnary(authz Authorizer, rules map[string]Rule) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		rule, ok := rules[info.FullMethod]
		if !ok {
			return handler(ctx, req)
		}
		subject, ok := GetSubjectID(ctx)
		if !ok {
			return nil, errUnauthenticated
		}
		if err := authz.Authorize(ctx, subject, rule.Resource, rule.Action); err != nil {
			return nil, ToStatus(err)
		}
		return handler(ctx, req)
	}
}
