package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"opsledger/backend/internal/cache"
	"opsledger/backend/internal/config"
	"opsledger/backend/internal/costing"
	"opsledger/backend/internal/httpapi"
	"opsledger/backend/internal/ledger"
	"opsledger/backend/internal/logger"
	"opsledger/backend/internal/metrics"
	"opsledger/backend/internal/period"
	"opsledger/backend/internal/service"
	"opsledger/backend/internal/store"
	"opsledger/backend/internal/store/breaker"
	"opsledger/backend/internal/store/memory"
	"opsledger/backend/internal/store/mongodb"
	pgstore "opsledger/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}

	appLog, err := logger.New(logger.Config{Level: cfg.LogLevel, Development: cfg.LogDevelopment})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = appLog.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m := metrics.New("opsledger")

	raw, closers, err := openStore(ctx, cfg, appLog)
	if err != nil {
		appLog.Fatalw("store unavailable; refusing to start", "driver", cfg.StoreDriver, "error", err)
	}
	repo := raw
	if cfg.BreakerEnabled {
		repo = breaker.New(repo, breaker.DefaultConfig("store-"+cfg.StoreDriver), appLog, m)
	}
	repo = metrics.InstrumentStore(repo, m)

	type namedCheck struct {
		name  string
		check func(context.Context) error
	}
	var checks []namedCheck
	if pinger, ok := raw.(store.Pinger); ok {
		checks = append(checks, namedCheck{"store", pinger.Ping})
	}

	snapshotCache := cache.SnapshotCache(cache.NoopSnapshotCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSnapshotCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			appLog.Warnw("redis unavailable, using noop cache", "addr", cfg.RedisAddr, "error", err)
			_ = redisCache.Close()
		} else {
			snapshotCache = redisCache
			closers = append(closers, redisCache.Close)
			checks = append(checks, namedCheck{"cache", redisCache.Ping})
			appLog.Infow("cache: redis", "addr", cfg.RedisAddr)
		}
	} else {
		appLog.Info("cache: noop")
	}

	periods := period.New(repo, appLog, m,
		period.WithCache(snapshotCache, cfg.SnapshotCacheTTL()),
		period.WithLocation(cfg.Location),
	)
	svc := service.New(repo,
		ledger.New(repo, appLog, m),
		costing.New(repo, appLog, m),
		periods,
		appLog,
		service.WithLocation(cfg.Location),
	)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), svc, appLog)
	if err := auth.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		appLog.Fatalw("bootstrap admin failed", "error", err)
	}
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, appLog, m)
	for _, c := range checks {
		api.AddHealthCheck(c.name, c.check)
	}

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		appLog.Infow("opsledger backend listening", "addr", cfg.Address(), "driver", cfg.StoreDriver, "timezone", cfg.Location.String())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatalw("server error", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		appLog.Errorw("shutdown error", "error", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			appLog.Errorw("close error", "error", err)
		}
	}

	appLog.Info("server stopped")
}

// openStore connects the configured backend. The returned closers release it.
func openStore(ctx context.Context, cfg config.Config, log *logger.Logger) (store.Store, []func() error, error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		mcfg := mongodb.DefaultConfig()
		mcfg.URI = cfg.MongoURI
		mcfg.Database = cfg.MongoDatabase
		mongoStore, err := mongodb.Connect(ctx, mcfg)
		if err != nil {
			return nil, nil, err
		}
		log.Infow("store: mongodb", "database", cfg.MongoDatabase)
		closeMongo := func() error {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return mongoStore.Close(closeCtx)
		}
		return mongoStore, []func() error{closeMongo}, nil
	case config.DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		log.Info("store: postgres")
		return pg, []func() error{pg.Close}, nil
	default:
		if cfg.SeedDemoData {
			log.Info("store: in-memory (seeded)")
			return memory.NewSeeded(), nil, nil
		}
		log.Info("store: in-memory")
		return memory.New(), nil, nil
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AdminUsername == "" {
		return fmt.Errorf("ADMIN_USERNAME must be set")
	}
	if len(cfg.AdminPassword) < 12 {
		return fmt.Errorf("ADMIN_PASSWORD must be set and at least 12 characters")
	}
	if err := validatePasswordStrength(cfg.AdminUsername, cfg.AdminPassword); err != nil {
		return fmt.Errorf("ADMIN_PASSWORD is too weak: %w", err)
	}
	return nil
}

// validatePasswordStrength rejects passwords that repeat one character,
// contain the username, or appear on a known-weak list.
func validatePasswordStrength(username, password string) error {
	known := map[string]bool{
		"password1234": true, "admin1234567": true, "123456789012": true,
		"changeme1234": true, "qwertyuiop12": true, "letmein12345": true,
	}
	lower := strings.ToLower(password)
	if known[lower] {
		return fmt.Errorf("common password not allowed")
	}

	allSame := true
	for i := 1; i < len(password); i++ {
		if password[i] != password[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("single-character password not allowed")
	}

	if username != "" && strings.Contains(lower, strings.ToLower(username)) {
		return fmt.Errorf("password must not contain the username")
	}
	return nil
}
