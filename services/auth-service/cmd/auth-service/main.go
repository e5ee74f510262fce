package main

import (
	"context"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/apptdesk/libs/config"
	"github.com/md-rashed-zaman/apptdesk/libs/db"
	"github.com/md-rashed-zaman/apptdesk/libs/httpx"
	"github.com/md-rashed-zaman/apptdesk/libs/kafkax"
	otelx "github.com/md-rashed-zaman/apptdesk/libs/otel"
	"github.com/md-rashed-zaman/apptdesk/libs/outbox"
	"github.com/md-rashed-zaman/apptdesk/libs/runtime"
	"github.com/md-rashed-zaman/apptdesk/services/auth-service/internal/handlers"
	"github.com/md-rashed-zaman/apptdesk/services/auth-service/internal/otp"
	"github.com/md-rashed-zaman/apptdesk/services/auth-service/internal/sessions"
	"github.com/md-rashed-zaman/apptdesk/services/auth-service/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "auth-service")
	port, err := config.Port("PORT", "8081")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service, config.String("LOG_LEVEL", "info"))

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	userRepo := storage.NewUserRepository(pool)
	if config.Bool("DB_AUTO_MIGRATE", true) {
		if err := userRepo.Migrate(ctx); err != nil {
			logger.Error("schema migration failed", "err", err)
			panic(err)
		}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.String("REDIS_ADDR", "localhost:6379"),
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       config.Int("REDIS_DB", 0),
	})
	defer func() { _ = rdb.Close() }()

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	}

	outboxRepo := outbox.NewRepository()
	var writer outbox.MessageWriter
	if brokers := config.String("KAFKA_BROKERS", ""); brokers != "" {
		kw := kafkax.NewWriter(brokers)
		defer func() { _ = kw.Close() }()
		writer = kw
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	publisher := outbox.NewPublisher(pool, outboxRepo, writer, logger, outbox.PublisherConfig{
		PollEvery:  config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize:  config.Int("OUTBOX_BATCH_SIZE", 50),
		Registerer: prometheus.DefaultRegisterer,
		Namespace:  "auth",
	})
	go publisher.Run(ctx)

	signer, err := buildSigner()
	if err != nil {
		logger.Error("failed to init jwt signer", "err", err)
		panic(err)
	}

	challenges := otp.NewStore(rdb, otp.Config{
		TTL:         time.Duration(config.Int("OTP_TTL_SECONDS", 300)) * time.Second,
		MaxAttempts: config.Int("OTP_MAX_ATTEMPTS", 5),
		CodeLength:  config.Int("OTP_CODE_LENGTH", 6),
	})
	emailLimiter := httpx.NewRedisRateLimiter(rdb, config.Int("OTP_REQUESTS_PER_HOUR", 5), time.Hour, "otp:email")
	refreshRepo := sessions.NewRefreshRepository(pool, time.Duration(config.Int("REFRESH_TTL_HOURS", 720))*time.Hour)

	authHandler := handlers.NewAuthHandler(
		signer,
		challenges,
		otp.LogSender{Logger: logger},
		emailLimiter,
		userRepo,
		refreshRepo,
		outboxRepo,
		logger,
		handlers.NewMetrics(prometheus.DefaultRegisterer),
		handlers.Options{
			AccessTTL:   time.Duration(config.Int("ACCESS_TTL_MINUTES", 15)) * time.Minute,
			OwnerEmails: config.List("OWNER_EMAILS", ""),
		},
	)

	mux := runtime.NewBaseMuxWithReady(checks...)
	authHandler.Register(mux)

	httpMetrics := httpx.NewHTTPMetrics(prometheus.DefaultRegisterer, "auth")
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpMetrics.Middleware(httpx.PrefixRoute(
			"/api/v1/auth/otp/request",
			"/api/v1/auth/otp/verify",
			"/api/v1/auth/refresh",
			"/api/v1/auth/logout",
			"/api/v1/auth/me",
			"/.well-known/jwks.json",
		)),
		httpx.WithBodyLimit(int64(config.Int("REQUEST_BODY_LIMIT_BYTES", 64<<10))),
	)
	handler = otelhttp.NewHandler(handler, "auth")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func buildSigner() (handlers.TokenSigner, error) {
	if privatePEM := config.String("JWT_PRIVATE_KEY_PEM", ""); privatePEM != "" {
		return handlers.NewRS256Signer([]byte(privatePEM), config.String("JWT_KID", ""))
	}
	return handlers.NewHS256Signer(config.String("JWT_SECRET", ""))
}
