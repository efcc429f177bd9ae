// server runs the access-core gRPC server, the HTTP edge and the metrics listener.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"access-core/internal/access"
	"access-core/internal/audit"
	auditrepo "access-core/internal/audit/repository"
	"access-core/internal/config"
	"access-core/internal/db"
	"access-core/internal/health"
	"access-core/internal/logging"
	"access-core/internal/obs"
	"access-core/internal/ratelimit"
	rbacrepo "access-core/internal/rbac/repository"
	rbacservice "access-core/internal/rbac/service"
	refreshrepo "access-core/internal/refreshtoken/repository"
	"access-core/internal/security"
	"access-core/internal/server"
	"access-core/internal/server/httpapi"
	telotel "access-core/internal/telemetry/otel"
	tokenservice "access-core/internal/token/service"
	userrepo "access-core/internal/user/repository"
)

const (
	shutdownTimeout = 15 * time.Second
	healthInterval  = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

type stores struct {
	users   userrepo.Repository
	refresh refreshrepo.Repository
	rbac    rbacrepo.Repository
	audit   auditrepo.Repository
}

func openStores(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*sql.DB, *stores, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL is not set; using in-memory stores (development only)")
		return nil, &stores{
			users:   userrepo.NewMemoryRepository(),
			refresh: refreshrepo.NewMemoryRepository(),
			rbac:    rbacrepo.NewMemoryRepository(),
			audit:   auditrepo.NewMemoryRepository(),
		}, nil
	}
	sqlDB, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return sqlDB, &stores{
		users:   userrepo.NewPostgresRepository(sqlDB),
		refresh: refreshrepo.NewPostgresRepository(sqlDB),
		rbac:    rbacrepo.NewPostgresRepository(sqlDB),
		audit:   auditrepo.NewPostgresRepository(sqlDB),
	}, nil
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cfg.RequireSigningKey(); err != nil {
		return err
	}
	provider, err := security.NewTokenProviderFromConfig(cfg.JWTSecret, cfg.JWTPrivateKey, cfg.JWTPublicKey, cfg.JWTIssuer)
	if err != nil {
		return err
	}
	log.WithField("alg", provider.Algorithm()).Info("token signing configured")

	otelProviders, err := telotel.NewProviders(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.OTLPInsecure, log)
	if err != nil {
		return err
	}
	otelProviders.SetGlobal()
	if cfg.OTLPEndpoint != "" {
		log.AddHook(telotel.NewLogHook(otelProviders.LoggerProvider, logrus.InfoLevel))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := obs.NewMetrics(reg)

	sqlDB, st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	var primary ratelimit.Limiter
	if cfg.RedisURL != "" {
		rdb, err = db.OpenRedis(ctx, cfg.RedisURL, cfg.RedisDB)
		if err != nil {
			log.WithError(err).WithField("policy", cfg.DegradedPolicy()).Warn("redis unavailable; rate limiter starts degraded")
		} else {
			primary = ratelimit.NewRedisLimiter(rdb, cfg.RateLimitKeyPrefix)
		}
	} else {
		log.WithField("policy", cfg.DegradedPolicy()).Warn("REDIS_URL is not set; rate limiter runs degraded")
	}
	limiter := ratelimit.NewGuard(primary, cfg.DegradedPolicy(),
		ratelimit.WithLogger(log),
		ratelimit.WithMetrics(metrics),
	)

	tokens := tokenservice.NewService(provider, st.refresh, tokenservice.Config{
		AccessTTL:        cfg.AccessTTL(),
		RefreshTTL:       cfg.RefreshTTL(),
		RevokeAllOnReuse: cfg.RefreshReuseRevokeAll,
	}, tokenservice.WithLogger(log), tokenservice.WithMetrics(metrics))
	resolver := rbacservice.NewResolver(st.rbac, rbacservice.WithLogger(log), rbacservice.WithMetrics(metrics))
	auditor := audit.NewAsync(audit.NewLogger(st.audit, audit.WithLogger(log)))

	facade := access.New(tokens, resolver, limiter, st.users, security.NewHasher(cfg.BcryptCost),
		access.Config{RateLimit: cfg.RateLimitRequests, RateWindow: cfg.RateLimitWindow()},
		access.WithLogger(log),
		access.WithAuditor(auditor),
	)

	checker := health.NewChecker(log)
	if sqlDB != nil {
		checker.Add("postgres", sqlDB)
	}

	proxies := cfg.TrustedProxies()
	grpcServer, hs := server.NewGRPCServer(server.Deps{
		Facade:         facade,
		Audit:          auditor,
		Log:            log,
		Rules:          server.DefaultRules(),
		TrustedProxies: proxies,
	})
	go checker.Watch(ctx, hs, healthInterval)

	api := httpapi.New(facade,
		httpapi.WithAuditor(auditor),
		httpapi.WithLogger(log),
		httpapi.WithMetrics(metrics),
		httpapi.WithReadiness(checker.Ready),
		httpapi.WithTrustedProxies(proxies),
	)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", obs.Handler(reg))
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 3)
	go func() {
		log.WithField("addr", cfg.GRPCAddr).Info("gRPC server listening")
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if metricsServer != nil {
		go func() {
			log.WithField("addr", cfg.MetricsAddr).Info("metrics server listening")
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case serveErr = <-errCh:
		log.WithError(serveErr).Error("listener failed; shutting down")
	}

	checker.Drain()
	hs.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("metrics shutdown")
		}
	}
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}

	if err := auditor.Drain(shutdownCtx); err != nil {
		log.WithError(err).Warn("audit writes still pending at shutdown")
	}
	if err := otelProviders.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("telemetry shutdown")
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.WithError(err).Warn("redis close")
		}
	}
	if sqlDB != nil {
		if err := sqlDB.Close(); err != nil {
			log.WithError(err).Warn("database close")
		}
	}
	log.Info("server stopped")
	return serveErr
}
