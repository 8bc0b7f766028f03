package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"concierge/callbridge/internal/api"
	"concierge/callbridge/internal/bridge"
	"concierge/callbridge/internal/callcap"
	"concierge/callbridge/internal/config"
	"concierge/callbridge/internal/health"
	"concierge/callbridge/internal/logger"
	"concierge/callbridge/internal/prompt"
	"concierge/callbridge/internal/realtime"
	"concierge/callbridge/internal/reservations"
	"concierge/callbridge/internal/store"
)

func main() {
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New(cfg.Server.Env, cfg.Server.LogLevel)
	slog.SetDefault(log)
	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.OpenAI.APIKey == "" {
		log.Warn("OPENAI_API_KEY not set; calls will be answered without a model")
	}

	var probes health.Probes

	var lookup reservations.Lookup = reservations.NewMemoryStore()
	var db *sql.DB
	if cfg.DB.URL != "" {
		var err error
		db, err = reservations.OpenPostgres(ctx, cfg.DB.URL, reservations.PoolConfig{})
		if err != nil {
			log.Error("postgres open failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := reservations.Migrate(ctx, db); err != nil {
			log.Error("reservation migrations failed", "err", err)
			os.Exit(1)
		}
		pg := reservations.NewPostgresStore(db)
		lookup = pg
		probes.Postgres = pg.Ping
	}

	var limiter callcap.Limiter = callcap.NewLocal(cfg.Bridge.MaxCalls)
	if cfg.Redis.Addr != "" && cfg.Bridge.MaxCalls > 0 {
		rdb, err := callcap.OpenRedis(ctx, callcap.RedisConfig{Addr: cfg.Redis.Addr})
		if err != nil {
			log.Error("redis open failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		rl, err := callcap.NewRedis(rdb, "callbridge:active_calls", cfg.Bridge.MaxCalls, 0)
		if err != nil {
			log.Error("redis call cap invalid", "err", err)
			os.Exit(1)
		}
		limiter = rl
		probes.Redis = redisPing(rdb)
	}

	provider, err := prompt.NewProvider(cfg)
	if err != nil {
		log.Error("prompt provider failed", "err", err)
		os.Exit(1)
	}

	st := store.New()
	dialer := &realtime.WSDialer{
		URL:         cfg.OpenAI.RealtimeURL,
		Model:       cfg.OpenAI.Model,
		APIKey:      cfg.OpenAI.APIKey,
		DialTimeout: 10 * time.Second,
	}
	reg := bridge.NewRegistry(bridge.Deps{
		Dialer:       dialer,
		Config:       provider,
		Reservations: lookup,
		Observer:     st,
		Log:          log,
	}, bridge.Options{
		Greeting:          cfg.Bridge.Greeting,
		Farewell:          cfg.Bridge.Farewell,
		ReservationPrompt: cfg.Bridge.ReservationPrompt,
		HangupGrace:       cfg.Bridge.HangupGrace,
		LookupTimeout:     cfg.Bridge.LookupTimeout,
		QueueSize:         cfg.Bridge.QueueSize,
		ModelCredential:   cfg.OpenAI.APIKey != "",
	}, limiter)

	minter := realtime.NewSessionMinter(cfg.OpenAI.SessionsURL, cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.SessionVoice)
	h := api.NewHandlers(cfg, st, reg, minter, provider.Instructions(), probes)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(h, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// gRPC health with keepalive for fast death detection
	kap := keepalive.ServerParameters{
		MaxConnectionIdle:     2 * time.Minute,
		MaxConnectionAge:      15 * time.Minute,
		MaxConnectionAgeGrace: 30 * time.Second,
		Time:                  30 * time.Second,
		Timeout:               10 * time.Second,
	}
	kasp := keepalive.EnforcementPolicy{
		MinTime:             10 * time.Second,
		PermitWithoutStream: true,
	}
	gs := grpc.NewServer(grpc.KeepaliveParams(kap), grpc.KeepaliveEnforcementPolicy(kasp))
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		log.Error("grpc listen failed", "addr", cfg.GRPC.Addr, "err", err)
		os.Exit(1)
	}
	go func() {
		log.Info("grpc health listening", "addr", cfg.GRPC.Addr)
		if err := gs.Serve(lis); err != nil {
			log.Error("grpc server error", "err", err)
		}
	}()

	errc := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received; stopping server")
	case err := <-errc:
		log.Error("server error", "err", err)
	}

	hs.Shutdown()
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Calls first: media streams are hijacked and not drained by srv.Shutdown.
	if err := reg.Shutdown(sctx); err != nil {
		log.Warn("calls did not finish before deadline", "err", err)
	}
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn("http shutdown", "err", err)
	}
	gs.GracefulStop()
	log.Info("server stopped")
}

func redisPing(rdb *redis.Client) health.Pinger {
	return func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
}
