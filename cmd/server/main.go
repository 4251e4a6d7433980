// Command server starts the ReelWorks video API service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"reelworks/internal/api"
	"reelworks/internal/assets"
	"reelworks/internal/engine"
	"reelworks/internal/events"
	"reelworks/internal/observability/logging"
	"reelworks/internal/observability/metrics"
	"reelworks/internal/pipeline"
	"reelworks/internal/server"
	"reelworks/internal/storage"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	mediaRoot := flag.String("media-root", "", "directory holding originals, renditions, and thumbnails")
	ffmpegPath := flag.String("ffmpeg", "", "path to the ffmpeg binary")
	ffprobePath := flag.String("ffprobe", "", "path to the ffprobe binary")
	ffmpegProcs := flag.Int("ffmpeg-max-processes", 0, "maximum concurrent ffmpeg/ffprobe processes")
	segmentSeconds := flag.Int("segment-seconds", 0, "target HLS segment duration in seconds")
	encodePreset := flag.String("encode-preset", "", "x264 preset used for renditions")
	tierNames := flag.String("tiers", "", "comma separated encode ladder (e.g. 360p,480p,720p,1080p)")
	workers := flag.Int("workers", 0, "number of transcoding workers")
	queueSize := flag.Int("queue-size", 0, "pending transcode queue capacity")
	jobTimeout := flag.Duration("job-timeout", 0, "per-video processing timeout")
	maxUploadBytes := flag.Int64("max-upload-bytes", 0, "maximum accepted original upload size in bytes")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	uploadLimit := flag.Int("rate-upload-limit", 0, "maximum uploads per window for a single client")
	uploadWindow := flag.Duration("rate-upload-window", 0, "window for counting uploads")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed upload throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed upload throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis rate limit operations")
	eventsDriver := flag.String("events-driver", "", "lifecycle event queue driver (memory or redis)")
	eventsRedisAddr := flag.String("events-redis-addr", "", "Redis address for lifecycle events")
	eventsRedisAddrs := flag.String("events-redis-addrs", "", "comma separated Redis addresses for lifecycle events")
	eventsRedisUsername := flag.String("events-redis-username", "", "Redis username for lifecycle events")
	eventsRedisPassword := flag.String("events-redis-password", "", "Redis password for lifecycle events")
	eventsRedisStream := flag.String("events-redis-stream", "", "Redis stream key for lifecycle events")
	eventsRedisGroup := flag.String("events-redis-group", "", "Redis consumer group for lifecycle events")
	eventsRedisMasterName := flag.String("events-redis-sentinel-master", "", "Redis sentinel master name for lifecycle events")
	eventsRedisPoolSize := flag.Int("events-redis-pool-size", 0, "maximum Redis connections for lifecycle events")
	eventsRedisTLSCA := flag.String("events-redis-tls-ca", "", "path to Redis TLS CA certificate for lifecycle events")
	eventsRedisTLSCert := flag.String("events-redis-tls-cert", "", "path to Redis TLS client certificate for lifecycle events")
	eventsRedisTLSKey := flag.String("events-redis-tls-key", "", "path to Redis TLS client key for lifecycle events")
	eventsRedisTLSServerName := flag.String("events-redis-tls-server-name", "", "override Redis TLS server name for lifecycle events")
	eventsRedisTLSSkipVerify := flag.Bool("events-redis-tls-skip-verify", false, "skip Redis TLS verification for lifecycle events")
	playerOrigins := flag.String("player-origins", "", "comma separated origins allowed to fetch media cross-origin")
	flag.Parse()

	logger := logging.Init(logging.Config{Level: firstNonEmpty(*logLevel, os.Getenv("REELWORKS_LOG_LEVEL"))})
	recorder := metrics.Default()

	listenAddr := firstNonEmpty(*addr, os.Getenv("REELWORKS_ADDR"), ":8080")

	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("REELWORKS_STORAGE_DRIVER"), resolvePostgresDSN(*postgresDSN))
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(1)
	}

	var registry storage.Registry
	switch driver {
	case "json":
		dataFile := firstNonEmpty(*dataPath, os.Getenv("REELWORKS_DATA"), "data/videos.json")
		registry, err = storage.NewStorage(dataFile)
	case "postgres":
		dsn := resolvePostgresDSN(*postgresDSN)
		if dsn == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		var pgOptions []storage.PostgresOption
		maxConns := resolveInt(*postgresMaxConns, "REELWORKS_POSTGRES_MAX_CONNS")
		minConns := resolveInt(*postgresMinConns, "REELWORKS_POSTGRES_MIN_CONNS")
		if maxConns > 0 || minConns > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolLimits(int32(maxConns), int32(minConns)))
		}
		maxLifetime := resolveDuration(*postgresMaxConnLifetime, "REELWORKS_POSTGRES_MAX_CONN_LIFETIME", 0)
		maxIdle := resolveDuration(*postgresMaxConnIdle, "REELWORKS_POSTGRES_MAX_CONN_IDLE", 0)
		healthInterval := resolveDuration(*postgresHealthInterval, "REELWORKS_POSTGRES_HEALTH_INTERVAL", 0)
		if maxLifetime > 0 || maxIdle > 0 || healthInterval > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolDurations(maxLifetime, maxIdle, healthInterval))
		}
		if acquireTimeout := resolveDuration(*postgresAcquireTimeout, "REELWORKS_POSTGRES_ACQUIRE_TIMEOUT", 0); acquireTimeout > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresAcquireTimeout(acquireTimeout))
		}
		if appName := firstNonEmpty(*postgresAppName, os.Getenv("REELWORKS_POSTGRES_APP_NAME")); appName != "" {
			pgOptions = append(pgOptions, storage.WithPostgresApplicationName(appName))
		}
		registry, err = storage.NewPostgresRegistry(dsn, pgOptions...)
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	mediaDir := firstNonEmpty(*mediaRoot, os.Getenv("REELWORKS_MEDIA_ROOT"), "data/media")
	assetStore, err := assets.NewFSStore(mediaDir)
	if err != nil {
		logger.Error("failed to prepare media root", "error", err, "path", mediaDir)
		os.Exit(1)
	}

	ffmpegEngine := engine.NewFFmpeg(engine.FFmpegConfig{
		FFmpegPath:     firstNonEmpty(*ffmpegPath, os.Getenv("REELWORKS_FFMPEG")),
		FFprobePath:    firstNonEmpty(*ffprobePath, os.Getenv("REELWORKS_FFPROBE")),
		MaxProcesses:   int64(resolveInt(*ffmpegProcs, "REELWORKS_FFMPEG_MAX_PROCESSES")),
		SegmentSeconds: resolveInt(*segmentSeconds, "REELWORKS_SEGMENT_SECONDS"),
		Preset:         firstNonEmpty(*encodePreset, os.Getenv("REELWORKS_ENCODE_PRESET")),
	}, nil)

	eventsCfg := events.RedisQueueConfig{
		Addr:       firstNonEmpty(*eventsRedisAddr, os.Getenv("REELWORKS_EVENTS_REDIS_ADDR")),
		Addrs:      splitAndTrim(firstNonEmpty(*eventsRedisAddrs, os.Getenv("REELWORKS_EVENTS_REDIS_ADDRS"))),
		Username:   firstNonEmpty(*eventsRedisUsername, os.Getenv("REELWORKS_EVENTS_REDIS_USERNAME")),
		Password:   firstNonEmpty(*eventsRedisPassword, os.Getenv("REELWORKS_EVENTS_REDIS_PASSWORD")),
		Stream:     firstNonEmpty(*eventsRedisStream, os.Getenv("REELWORKS_EVENTS_REDIS_STREAM")),
		Group:      firstNonEmpty(*eventsRedisGroup, os.Getenv("REELWORKS_EVENTS_REDIS_GROUP")),
		MasterName: firstNonEmpty(*eventsRedisMasterName, os.Getenv("REELWORKS_EVENTS_REDIS_SENTINEL_MASTER")),
		PoolSize:   resolveInt(*eventsRedisPoolSize, "REELWORKS_EVENTS_REDIS_POOL_SIZE"),
		Logger:     logging.WithComponent(logger, "events"),
		TLS: events.RedisTLSConfig{
			CAFile:             firstNonEmpty(*eventsRedisTLSCA, os.Getenv("REELWORKS_EVENTS_REDIS_TLS_CA")),
			CertFile:           firstNonEmpty(*eventsRedisTLSCert, os.Getenv("REELWORKS_EVENTS_REDIS_TLS_CERT")),
			KeyFile:            firstNonEmpty(*eventsRedisTLSKey, os.Getenv("REELWORKS_EVENTS_REDIS_TLS_KEY")),
			ServerName:         firstNonEmpty(*eventsRedisTLSServerName, os.Getenv("REELWORKS_EVENTS_REDIS_TLS_SERVER_NAME")),
			InsecureSkipVerify: resolveBool(*eventsRedisTLSSkipVerify, "REELWORKS_EVENTS_REDIS_TLS_SKIP_VERIFY"),
		},
	}
	queue, err := configureEventQueue(firstNonEmpty(*eventsDriver, os.Getenv("REELWORKS_EVENTS_DRIVER")), eventsCfg)
	if err != nil {
		logger.Error("failed to configure event queue", "error", err)
		os.Exit(1)
	}

	processor := pipeline.NewProcessor(pipeline.Config{
		Registry:  registry,
		Assets:    assetStore,
		Engine:    ffmpegEngine,
		Events:    queue,
		Observer:  recorder,
		Tiers:     engine.ResolveTiers(splitAndTrim(firstNonEmpty(*tierNames, os.Getenv("REELWORKS_TIERS")))),
		Workers:   resolveInt(*workers, "REELWORKS_WORKERS"),
		QueueSize: resolveInt(*queueSize, "REELWORKS_QUEUE_SIZE"),
		Timeout:   resolveDuration(*jobTimeout, "REELWORKS_JOB_TIMEOUT", 0),
		Logger:    logging.WithComponent(logger, "pipeline"),
	})
	processor.Start()

	handler := api.NewHandler(registry, assetStore)
	handler.Processor = processor
	handler.Events = queue
	handler.Metrics = recorder
	handler.Logger = logging.WithComponent(logger, "api")
	handler.MaxUploadBytes = resolveInt64(*maxUploadBytes, "REELWORKS_MAX_UPLOAD_BYTES")

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("REELWORKS_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("REELWORKS_TLS_KEY")),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     resolveFloat(*globalRPS, "REELWORKS_RATE_GLOBAL_RPS"),
			GlobalBurst:   resolveInt(*globalBurst, "REELWORKS_RATE_GLOBAL_BURST"),
			UploadLimit:   resolveInt(*uploadLimit, "REELWORKS_RATE_UPLOAD_LIMIT"),
			UploadWindow:  resolveDuration(*uploadWindow, "REELWORKS_RATE_UPLOAD_WINDOW", time.Minute),
			RedisAddr:     firstNonEmpty(*rateRedisAddr, os.Getenv("REELWORKS_RATE_REDIS_ADDR")),
			RedisPassword: firstNonEmpty(*rateRedisPassword, os.Getenv("REELWORKS_RATE_REDIS_PASSWORD")),
			RedisTimeout:  resolveDuration(*rateRedisTimeout, "REELWORKS_RATE_REDIS_TIMEOUT", 2*time.Second),
		},
		CORS: server.CORSConfig{
			PlayerOrigins: splitAndTrim(firstNonEmpty(*playerOrigins, os.Getenv("REELWORKS_PLAYER_ORIGINS"))),
		},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("ReelWorks API listening", "addr", listenAddr, "media_root", mediaDir)
		logger.Info("metrics endpoint available", "path", "/metrics")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errs:
		logger.Error("server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}

	if err := processor.Shutdown(ctx); err != nil {
		logger.Warn("failed to stop transcoding pipeline", "error", err)
	}

	if closer, ok := registry.(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(ctx); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	} else if closer, ok := registry.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	}

	logger.Info("server stopped")
}

func configureEventQueue(driver string, cfg events.RedisQueueConfig) (events.Queue, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "redis":
		if len(cfg.Addrs) == 0 && strings.TrimSpace(cfg.Addr) == "" {
			return nil, fmt.Errorf("redis addr is required for the event queue")
		}
		return events.NewRedisQueue(cfg)
	case "", "memory":
		return events.NewMemoryQueue(128), nil
	default:
		return nil, fmt.Errorf("unsupported event queue driver %q", driver)
	}
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) (string, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", nil
	}
	return "json", nil
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("REELWORKS_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt64(flagValue int64, envKey string) int64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseInt(strings.TrimSpace(env), 10, 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
