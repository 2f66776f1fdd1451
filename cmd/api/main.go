package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/ovaphlow/docnet/internal/config"
	"github.com/ovaphlow/docnet/internal/metrics"
	"github.com/ovaphlow/docnet/internal/oidc"
	oidcrepo "github.com/ovaphlow/docnet/internal/oidc/repo"
	"github.com/ovaphlow/docnet/internal/router"
	"github.com/ovaphlow/docnet/internal/token"
	"github.com/ovaphlow/docnet/internal/user"
	userrepo "github.com/ovaphlow/docnet/internal/user/repo"
	"github.com/ovaphlow/docnet/pkg/database"
	"github.com/ovaphlow/docnet/pkg/utilities"
)

func main() {
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()
	sugar := lg.Sugar()

	cfg, err := config.Load()
	if err != nil {
		sugar.Fatalf("config: %v", err)
	}
	sugar.Infow("starting docnet", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver)

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, ready, closeStore, err := openStore(ctx, cfg, sugar)
	if err != nil {
		sugar.Fatalf("store: %v", err)
	}
	defer closeStore()

	codec := token.NewCodec([]byte(cfg.JWTSecret), nil)
	ids := utilities.NewIDGenerator(cfg.SnowflakeNode)
	userSvc := user.NewUserService(store, codec, cfg.TokenTTL, user.Options{
		Hasher:  user.BcryptHasher{Cost: cfg.BcryptCost},
		IDs:     ids,
		Metrics: m,
		Logger:  sugar,
	})

	oauthHandler, closeStates, err := buildOAuth(ctx, cfg, store, codec, ids, m, sugar)
	if err != nil {
		sugar.Fatalf("oauth: %v", err)
	}
	defer closeStates()

	handler := router.RegisterRoutes(router.Deps{
		Users: user.NewHandler(userSvc, sugar),
		OAuth: oauthHandler,
		Auth: router.NewAuthMiddleware(codec, store, router.AuthOptions{
			RejectInvalid: cfg.RejectInvalidTokens,
			Metrics:       m,
			Logger:        sugar,
		}),
		Metrics: m,
		Ready:   ready,
		Logger:  sugar,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metrics.Handler(reg),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				sugar.Fatalf("metrics server failed: %v", err)
			}
		}()
		sugar.Infow("metrics listener started", "addr", cfg.MetricsAddr)
	}
	sugar.Info("service is running; press Ctrl+C to stop")

	<-ctx.Done()
	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(doneCtx); err != nil {
			sugar.Warnf("metrics server shutdown failed: %v", err)
		}
	}
	sugar.Info("goodbye")
}

// openStore returns the configured credential store, its readiness check and
// a close function.
func openStore(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (user.Store, func(context.Context) error, func(), error) {
	if cfg.StoreDriver == "memory" {
		sugar.Warn("using in-memory credential store; accounts are lost on restart")
		return userrepo.NewMemoryRepo(), nil, func() {}, nil
	}

	sqlDB, err := database.Connect(database.Config{
		DSN:            cfg.DatabaseURL,
		MaxConns:       cfg.DatabaseMaxConns,
		TimeZone:       cfg.DatabaseTimeZone,
		ClientEncoding: cfg.DatabaseClientEncoding,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	n, err := database.Migrate(ctx, sqlDB)
	if err != nil {
		sqlDB.Close()
		return nil, nil, nil, err
	}
	sugar.Infow("migrations applied", "count", n)

	db := sqlx.NewDb(sqlDB, "postgres")
	return userrepo.NewUserRepo(db), db.PingContext, func() { _ = db.Close() }, nil
}

// buildOAuth mounts federated login when at least one provider is
// configured. It returns a nil handler otherwise.
func buildOAuth(ctx context.Context, cfg *config.Config, store user.Store, codec *token.Codec, ids *utilities.IDGenerator, m *metrics.Metrics, sugar *zap.SugaredLogger) (*oidc.Handler, func(), error) {
	var providers []oidc.Provider
	if cfg.Google.Enabled() {
		p, err := oidc.NewProvider(ctx, "google", cfg.Google)
		if err != nil {
			sugar.Warnw("google provider disabled", "err", err)
		} else {
			providers = append(providers, p)
		}
	}
	if len(providers) == 0 {
		sugar.Info("no identity provider configured; federated login disabled")
		return nil, func() {}, nil
	}

	var states oidc.StateStore
	closeStates := func() {}
	if cfg.RedisURL != "" {
		client, err := oidcrepo.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		states = oidcrepo.NewRedisStateRepo(client)
		closeStates = func() { _ = client.Close() }
	} else {
		states = oidcrepo.NewMemoryStateRepo(nil)
	}

	prov := oidc.NewProvisioner(store, ids, cfg.DefaultRole(), m, sugar)
	svc := oidc.NewService(states, cfg.OAuthStateTTL, prov, codec, cfg.TokenTTL, m, sugar, providers...)
	return oidc.NewHandler(svc, sugar), closeStates, nil
}
