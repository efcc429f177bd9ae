package interceptors

import (
	"context"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"access-core/internal/apperr"
	"access-core/internal/ratelimit"
)

// Admitter runs one admission check for key using the default quota.
type Admitter interface {
	Admit(ctx context.Context, key string) (ratelimit.Decision, error)
}

// RateLimitKey returns the admission key for a request: the subject when authenticated,
// otherwise the client IP.
func RateLimitKey(ctx context.Context) string {
	if subject, ok := GetSubjectID(ctx); ok {
		return "user:" + subject
	}
	return "ip:" + ClientIP(ctx)
}

// RateLimitUnary returns a unary server interceptor that admits each RPC through admitter and
// sends x-ratelimit-limit, x-ratelimit-remaining and x-ratelimit-reset response headers.
// Denials return ResourceExhausted with retry-after in the headers.
// Must run after AuthUnary so authenticated callers are keyed by subject.
func RateLimitUnary(admitter Admitter, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if skipMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		d, err := admitter.Admit(ctx, RateLimitKey(ctx))
		if d.Limit > 0 {
			_ = grpc.SetHeader(ctx, rateLimitMD(d))
		}
		if err != nil {
			return nil, ToStatus(err)
		}
		return handler(ctx, req)
	}
}

func rateLimitMD(d ratelimit.Decision) metadata.MD {
	md := metadata.Pairs(
		"x-ratelimit-limit", strconv.Itoa(d.Limit),
		"x-ratelimit-remaining", strconv.Itoa(d.Remaining),
		"x-ratelimit-reset", strconv.FormatInt(d.ResetAt.Unix(), 10),
	)
	if !d.Allowed {
		md.Set("retry-after", strconv.FormatInt(apperr.RetryAfterSeconds(d.RetryAfter), 10))
	}
	return md
}
