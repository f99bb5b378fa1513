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

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/example/tomato-check/internal/auth"
	"github.com/example/tomato-check/internal/backend"
	"github.com/example/tomato-check/internal/config"
	"github.com/example/tomato-check/internal/handlers"
	"github.com/example/tomato-check/internal/healthcheck"
	"github.com/example/tomato-check/internal/hub"
	"github.com/example/tomato-check/internal/logging"
	"github.com/example/tomato-check/internal/repository"
	"github.com/example/tomato-check/internal/session"
	"github.com/example/tomato-check/internal/usecase"
)

const sessionSweepInterval = time.Minute

func main() {
	bootLogger, err := logging.NewLogger("info")
	if err != nil {
		panic(err)
	}
	cfg, err := config.Load(bootLogger)
	if err != nil {
		bootLogger.Fatal("invalid configuration", zap.Error(err))
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	initCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db, err := repository.Open(initCtx, cfg.DatabaseDriver, cfg.DatabaseDSN, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	repo := repository.NewAnalysisRepository(db, logger)
	if err := repo.AutoMigrate(initCtx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	var cache usecase.Cache = usecase.NopCache{}
	if cfg.RedisAddr != "" {
		redisCtx, redisCancel := context.WithTimeout(initCtx, 5*time.Second)
		defer redisCancel()
		cache = usecase.NewRedisCache(initRedis(redisCtx, cfg.RedisAddr, logger))
	} else {
		logger.Info("REDIS_ADDR not set, result cache disabled")
	}

	health := healthcheck.New(logger)
	client := backend.NewBreaker(
		backend.NewClient(cfg.BackendURL, cfg.BackendTimeout, logger),
		backend.BreakerSettings{
			MaxFailures: uint32(cfg.BreakerMaxFailures),
			OpenTimeout: cfg.BreakerOpenTimeout,
			OnStateChange: func(name string, to gobreaker.State) {
				if name == backend.AnalyzeBreaker {
					health.SetServing(healthcheck.ServiceBackend, to != gobreaker.StateOpen)
				}
			},
		},
		logger,
	)

	events := hub.New(logger)
	defer events.Stop()

	clock := clockwork.NewRealClock()
	store := session.NewStore(client, clock, cfg.SessionIdleTTL, logger)
	store.OnCreate(func(s *session.Session) {
		s.AddListener(events.Listener(s.ID()))
	})
	store.OnEvict(func(s *session.Session) {
		events.CloseSession(s.ID())
	})

	uc := usecase.NewAnalysisUseCase(repo, cache, store, client, clock, logger)
	uc.OnCameraStatus(func(available bool) {
		health.SetServing(healthcheck.ServiceCamera, available)
	})

	runCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	go uc.WatchCamera(runCtx, cfg.CameraProbeInterval)
	if cfg.SessionIdleTTL > 0 {
		go uc.SweepSessions(runCtx, sessionSweepInterval)
	}

	grpcListener, err := net.Listen("tcp", cfg.GRPCHealthAddr)
	if err != nil {
		logger.Fatal("failed to listen for grpc health", zap.Error(err), zap.String("addr", cfg.GRPCHealthAddr))
	}
	go func() {
		if err := health.Serve(grpcListener); err != nil {
			logger.Error("grpc health server stopped", zap.Error(err))
		}
	}()
	defer health.Stop()

	if cfg.Anonymous() {
		logger.Warn("JWT_SECRET not set, serving every request as the anonymous user")
	}
	router := newRouter(uc, events, auth.Middleware(cfg.JWTSecret, cfg.JWTAudience), handlers.Options{
		MaxUploadBytes:       cfg.MaxUploadBytes,
		AnalyzeRatePerMinute: cfg.AnalyzeRatePerMinute,
		Logger:               logger,
	})

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	logger.Info("tomato gateway listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("grpc_health_addr", cfg.GRPCHealthAddr),
		zap.String("backend", cfg.BackendURL),
	)
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newRouter(uc *usecase.AnalysisUseCase, events *hub.Hub, authMiddleware gin.HandlerFunc, opts handlers.Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = opts.MaxUploadBytes
	handlers.RegisterRoutes(r, uc, events, authMiddleware, opts)
	return r
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
