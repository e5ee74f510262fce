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
	"github.com/md-rashed-zaman/apptdesk/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/apptdesk/services/scheduling-service/internal/handlers"
	"github.com/md-rashed-zaman/apptdesk/services/scheduling-service/internal/metrics"
	"github.com/md-rashed-zaman/apptdesk/services/scheduling-service/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8082")
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

	loc, err := config.Location("SCHEDULING_TIMEZONE", "UTC")
	if err != nil {
		panic(err)
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.OpenWithOptions(ctx, dbURL, db.Options{
		MaxConns: int32(config.Int("DB_MAX_CONNS", 10)),
	})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	repo := storage.NewRepository(pool)
	if config.Bool("DB_AUTO_MIGRATE", true) {
		if err := repo.Migrate(ctx); err != nil {
			logger.Error("schema migration failed", "err", err)
			panic(err)
		}
	}

	schedMetrics := metrics.NewSchedulingMetrics(prometheus.DefaultRegisterer)
	outboxRepo := outbox.NewRepository()
	bookingSvc := booking.NewService(repo, outboxRepo, loc, schedMetrics)

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
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
		Namespace:  "scheduling",
	})
	go publisher.Run(ctx)

	h := handlers.New(repo, bookingSvc, logger, schedMetrics, handlers.Options{
		Location:     loc,
		MaxRangeDays: config.Int("MAX_RANGE_DAYS", 93),
		FrozenDates:  config.Bool("PUBLIC_FROZEN_DATES", true),
		HidePast:     config.Bool("PUBLIC_HIDE_PAST", true),
	})

	mux := runtime.NewBaseMuxWithReady(checks...)
	h.Register(mux)

	httpMetrics := httpx.NewHTTPMetrics(prometheus.DefaultRegisterer, "scheduling")
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpMetrics.Middleware(httpx.PrefixRoute(
			"/api/v1/admin/availability",
			"/api/v1/admin/rules",
			"/api/v1/admin/slots",
			"/api/v1/public/slots",
			"/api/v1/public/book",
		)),
		httpx.WithBodyLimit(int64(config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20))),
	)
	handler = otelhttp.NewHandler(handler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "timezone", loc.String())
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
