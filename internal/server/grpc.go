// Package server builds the gRPC server: interceptor chain, health service and tracing.
package server

import (
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"access-core/internal/access"
	"access-core/internal/audit"
	"access-core/internal/clientip"
	"access-core/internal/logging"
	rbacdomain "access-core/internal/rbac/domain"
	"access-core/internal/server/interceptors"
)

// Health checks are public. Listing every service status requires health:read. Both are exempt
// from rate limiting, audit and request logs by default.
var (
	healthCheck = "/" + healthpb.Health_ServiceDesc.ServiceName + "/Check"
	healthList  = "/" + healthpb.Health_ServiceDesc.ServiceName + "/List"
)

// DefaultPublicMethods returns the methods callable without a bearer token.
func DefaultPublicMethods() map[string]bool {
	return map[string]bool{healthCheck: true}
}

// DefaultRules returns the permissions required by the services registered here.
func DefaultRules() map[string]interceptors.Rule {
	return map[string]interceptors.Rule{
		healthList: {Resource: "health", Action: rbacdomain.ActionRead},
	}
}

func defaultSkipMethods() map[string]bool {
	return map[string]bool{healthCheck: true, healthList: true}
}

// Deps holds the dependencies of the gRPC server.
type Deps struct {
	// Facade authenticates, admits and authorizes every RPC.
	Facade *access.Facade
	// Audit records one entry per RPC before the handler runs. If nil, RPCs are not audited.
	Audit audit.AuditLogger
	// Log receives request logs. If nil, logs are discarded.
	Log logrus.FieldLogger
	// Rules maps full method names to the permission they require. Defaults to DefaultRules.
	Rules map[string]interceptors.Rule
	// PublicMethods overrides DefaultPublicMethods when non-nil.
	PublicMethods map[string]bool
	// SkipMethods are exempt from rate limiting, audit and request logs. Defaults to the health methods.
	SkipMethods map[string]bool
	// Health is the health service to register. If nil, a new one is created.
	Health *health.Server
	// TrustedProxies are the peers whose x-forwarded-for and x-real-ip metadata is believed.
	// If nil, the peer address is always the client IP.
	TrustedProxies *clientip.Proxies
}

// NewGRPCServer returns a gRPC server with the interceptor chain
// request scope -> logging -> auth -> rate limit -> audit -> permission, otelgrpc tracing and the
// health service.
func NewGRPCServer(deps Deps, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	log := deps.Log
	if log == nil {
		log = logging.Discard()
	}
	public := deps.PublicMethods
	if public == nil {
		public = DefaultPublicMethods()
	}
	skip := deps.SkipMethods
	if skip == nil {
		skip = defaultSkipMethods()
	}
	rules := deps.Rules
	if rules == nil {
		rules = DefaultRules()
	}

	opts = append(opts,
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.RequestScopeUnary(deps.TrustedProxies),
			interceptors.LoggingUnary(log, skip),
			interceptors.AuthUnary(deps.Facade, public),
			interceptors.RateLimitUnary(deps.Facade, skip),
			interceptors.AuditUnary(deps.Audit, skip),
			interceptors.PermissionUnary(deps.Facade, rules),
		),
	)
	s := grpc.NewServer(opts...)
	hs := deps.Health
	if hs == nil {
		hs = health.NewServer()
	}
	RegisterServices(s, hs)
	return s, hs
}

// RegisterServices registers the services exposed by the access core.
func RegisterServices(s grpc.ServiceRegistrar, hs healthpb.HealthServer) {
	healthpb.RegisterHealthServer(s, hs)
}
