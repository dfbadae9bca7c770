package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"agora.org/internal/audit"
	"agora.org/internal/auth"
	"agora.org/internal/config"
	"agora.org/internal/governance"
	"agora.org/internal/httpapi"
	"agora.org/internal/notify"
	"agora.org/internal/obs"
	"agora.org/internal/store/pg"
	"agora.org/internal/sweep"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, gRPC health endpoint and expiry sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, log)
	},
}

func openStore(cfg config.Config, log *zap.Logger) (governance.Store, httpapi.ReadinessChecker, func(), error) {
	if cfg.Database.DSN == "" {
		log.Warn("no database configured, governance state is kept in memory")
		return governance.NewInMemory(), httpapi.ReadyProbe{}, func() {}, nil
	}
	st, err := pg.Open(cfg.Database.DSN, pg.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLife,
	}, pg.WithRetries(cfg.Database.TxRetries), pg.WithLogger(log))
	if err != nil {
		return nil, nil, nil, err
	}
	return st, httpapi.ReadyProbe{DB: st.DB()}, func() { _ = st.Close() }, nil
}

func buildNotifier(cfg config.Config, log *zap.Logger) (governance.Notifier, *notify.Queue, error) {
	notifiers := notify.Multi{notify.NewLog(log)}
	if cfg.Notify.WebhookURL == "" {
		return notifiers, nil, nil
	}
	wh, err := notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Notify.WebhookTimeout)
	if err != nil {
		return nil, nil, err
	}
	q := notify.NewQueue(wh, notify.QueueOptions{
		Workers: cfg.Notify.Workers,
		Size:    cfg.Notify.QueueSize,
		Retries: cfg.Notify.Retries,
		Logger:  log,
	})
	return append(notifiers, q), q, nil
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	obs.Init()
	obs.InitBuildInfo(obs.Version, obs.Commit)
	metrics, err := obs.NewGovernanceMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	store, ready, closeStore, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	notifier, queue, err := buildNotifier(cfg, log)
	if err != nil {
		return err
	}

	svc, err := governance.NewService(store,
		governance.WithNotifier(notifier),
		governance.WithAuditSink(audit.NewSink(log)),
		governance.WithMetrics(metrics),
		governance.WithLogger(log),
		governance.WithRejoinCooldown(cfg.Governance.RejoinCooldown),
	)
	if err != nil {
		return err
	}

	issuer, err := auth.NewIssuer(cfg.Auth.Secret,
		auth.WithIssuerName(cfg.Auth.Issuer),
		auth.WithTTL(cfg.Auth.TokenTTL))
	if err != nil {
		return err
	}
	opts := httpapi.Options{
		Service:      svc,
		Tokens:       issuer,
		Ready:        ready,
		Version:      obs.Version,
		Logger:       log,
		RateLimit:    cfg.HTTP.RateLimit,
		RateBurst:    cfg.HTTP.RateBurst,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		CORSOrigins:  cfg.HTTP.CORSOrigins,
	}
	if cfg.Auth.DevTokens {
		log.Warn("development token endpoint enabled")
		opts.Issuer = issuer
	}
	api := httpapi.New(opts)

	var sweeper *sweep.Scheduler
	if cfg.Sweep.Enabled {
		sweeper, err = sweep.New(svc, cfg.Sweep.Schedule, log)
		if err != nil {
			return err
		}
		sweeper.Start()
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return err
	}
	health := httpapi.NewGRPCHealth(ready, log)
	grpcSrv := httpapi.NewGRPCServer(health)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", obs.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("grpc listening", zap.String("addr", lis.Addr().String()))
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		health.Run(gctx, 10*time.Second)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(sctx)
		grpcSrv.GracefulStop()
		if sweeper != nil {
			err = errors.Join(err, sweeper.Stop(sctx))
		}
		if queue != nil {
			err = errors.Join(err, queue.Close(sctx))
		}
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("stopped")
	return nil
}
