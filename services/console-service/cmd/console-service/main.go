package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/studio-ops/console/libs/config"
	"github.com/studio-ops/console/libs/db"
	"github.com/studio-ops/console/libs/httpx"
	"github.com/studio-ops/console/libs/kafkax"
	otelx "github.com/studio-ops/console/libs/otel"
	"github.com/studio-ops/console/libs/runtime"
	"github.com/studio-ops/console/services/console-service/internal/annotate"
	"github.com/studio-ops/console/services/console-service/internal/deactivate"
	"github.com/studio-ops/console/services/console-service/internal/feed"
	"github.com/studio-ops/console/services/console-service/internal/handlers"
	"github.com/studio-ops/console/services/console-service/internal/outbox"
	"github.com/studio-ops/console/services/console-service/internal/remote"
	"github.com/studio-ops/console/services/console-service/internal/store"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "console-service")
	port, err := config.Port("PORT", "8090")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

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

	loc := time.Local
	if name := strings.TrimSpace(config.String("STUDIO_TIMEZONE", "")); name != "" {
		if l, err := time.LoadLocation(name); err == nil {
			loc = l
		} else {
			logger.Error("invalid STUDIO_TIMEZONE, using local", "err", err)
		}
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

	brokers := config.String("KAFKA_BROKERS", "")
	feedTopic := config.String("KAFKA_FEED_TOPIC", "studio.entity.changed.v1")

	outboxRepo := outbox.NewRepository(pool)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		Topic:     feedTopic,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	remoteRepo := remote.NewRepository(pool, outboxRepo)

	st := store.New()
	annotator := annotate.New(st, loc)
	st.OnChange(annotator.Refresh)
	stopAnnotator := annotator.Start()
	defer stopAnnotator()

	reconciler := feed.NewReconciler(st, remoteRepo, logger)
	consumer := feed.NewConsumer(logger, reconciler, feed.Config{
		Brokers: brokers,
		GroupID: config.String("KAFKA_GROUP_ID", "console-service"),
		Topic:   feedTopic,
	})
	go consumer.Run(ctx)

	scheduler := deactivate.NewScheduler(remoteRepo, remoteRepo, logger)
	defer scheduler.Stop()
	periodMinutes := config.Int("DEACTIVATION_PERIOD_MINUTES", 5)
	if periodMinutes <= 0 {
		periodMinutes = 5
	}
	if isTruthy(config.String("DEACTIVATION_AUTOSTART", "true")) {
		if err := scheduler.Start(ctx, time.Duration(periodMinutes)*time.Minute); err != nil {
			logger.Error("scheduler start failed", "err", err)
		}
	}

	console := handlers.NewConsoleHandler(st, annotator, scheduler, logger, loc)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("/api/v1/appointments", console.Appointments)
	mux.HandleFunc("/api/v1/appointments/grouped", console.Grouped)
	mux.HandleFunc("/api/v1/appointments/upcoming", console.Upcoming)
	mux.HandleFunc("/api/v1/members", console.Members)
	mux.HandleFunc("/api/v1/trainers", console.Trainers)
	mux.HandleFunc("/api/v1/services", console.Services)
	mux.HandleFunc("/api/v1/deactivations/latest", console.LatestDeactivations)
	mux.HandleFunc("/api/v1/scheduler/start", console.StartScheduler)
	mux.HandleFunc("/api/v1/scheduler/stop", console.StopScheduler)

	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if limitPerMinute <= 0 {
		limitPerMinute = 120
	}
	var rateLimitMW httpx.Middleware
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()

		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "console"))
		rateLimitMW = rl.Middleware(logger, isTruthy(config.String("RATE_LIMIT_FAIL_OPEN", "true")))
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
	} else {
		rl := httpx.NewRateLimiter(limitPerMinute, time.Minute)
		rateLimitMW = rl.Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}

	handler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods: parseList(config.String("CORS_ALLOWED_METHODS", "GET,POST,OPTIONS")),
			AllowedHeaders: parseList(config.String("CORS_ALLOWED_HEADERS", "Content-Type,X-Request-Id")),
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(10*time.Second),
		rateLimitMW,
	)
	handler = otelhttp.NewHandler(handler, "console")
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

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func parseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
