// Command server starts the Lumeroo API HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"lumeroo/internal/api"
	"lumeroo/internal/auth"
	"lumeroo/internal/media"
	"lumeroo/internal/observability/logging"
	"lumeroo/internal/observability/metrics"
	"lumeroo/internal/server"
	"lumeroo/internal/storage"
)

func main() {
	addrFlag := flag.String("addr", "", "listen address, e.g. :8080 (overrides LUMEROO_ADDR)")
	modeFlag := flag.String("mode", "", "run mode: development or production (overrides LUMEROO_MODE)")
	dataFlag := flag.String("data", "", "path to the JSON data file (overrides LUMEROO_DATA_PATH)")
	storageDriverFlag := flag.String("storage-driver", "", "storage driver: json or postgres (overrides LUMEROO_STORAGE_DRIVER)")
	postgresDSNFlag := flag.String("postgres-dsn", "", "Postgres connection string (overrides LUMEROO_POSTGRES_DSN)")
	postgresMaxConnsFlag := flag.Int("postgres-max-conns", 0, "max pooled Postgres connections (overrides LUMEROO_POSTGRES_MAX_CONNS)")
	postgresMinConnsFlag := flag.Int("postgres-min-conns", 0, "min pooled Postgres connections (overrides LUMEROO_POSTGRES_MIN_CONNS)")
	postgresConnLifetimeFlag := flag.Duration("postgres-conn-lifetime", 0, "max lifetime of a pooled connection (overrides LUMEROO_POSTGRES_CONN_LIFETIME)")
	postgresConnIdleFlag := flag.Duration("postgres-conn-idle", 0, "max idle time of a pooled connection (overrides LUMEROO_POSTGRES_CONN_IDLE)")
	postgresQueryTimeoutFlag := flag.Duration("postgres-query-timeout", 0, "per-query timeout (overrides LUMEROO_POSTGRES_QUERY_TIMEOUT)")

	streamDirFlag := flag.String("stream-dir", "", "directory that receives packaged uploads (overrides LUMEROO_STREAM_DIR)")
	publicBaseFlag := flag.String("public-base", "", "public URL prefix for packaged content (overrides LUMEROO_PUBLIC_BASE)")
	ffmpegFlag := flag.String("ffmpeg", "", "path to the ffmpeg binary (overrides LUMEROO_FFMPEG)")
	ffprobeFlag := flag.String("ffprobe", "", "path to the ffprobe binary (overrides LUMEROO_FFPROBE)")
	ytdlpFlag := flag.String("ytdlp", "", "path to the yt-dlp binary (overrides LUMEROO_YTDLP)")
	toolDirFlag := flag.String("tool-dir", "", "directory of bundled media binaries (overrides LUMEROO_TOOL_DIR)")
	maxTranscodesFlag := flag.Int("max-concurrent-transcodes", 0, "concurrent upload transcodes (overrides LUMEROO_MAX_CONCURRENT_TRANSCODES)")
	transcodeTimeoutFlag := flag.Duration("transcode-timeout", 0, "per-invocation tool timeout (overrides LUMEROO_TRANSCODE_TIMEOUT)")

	sessionStoreFlag := flag.String("session-store", "", "session store backend: memory or redis (overrides LUMEROO_SESSION_STORE)")
	sessionTTLFlag := flag.Duration("session-ttl", 0, "absolute session lifetime (overrides LUMEROO_SESSION_TTL)")
	sessionIdleFlag := flag.Duration("session-idle-timeout", 0, "idle session timeout (overrides LUMEROO_SESSION_IDLE_TIMEOUT)")
	sessionPurgeFlag := flag.Duration("session-purge-interval", 0, "interval between expired-session sweeps (overrides LUMEROO_SESSION_PURGE_INTERVAL)")
	redisAddrFlag := flag.String("redis-addr", "", "comma-separated Redis addresses for sessions (overrides LUMEROO_REDIS_ADDR)")
	redisUsernameFlag := flag.String("redis-username", "", "Redis username (overrides LUMEROO_REDIS_USERNAME)")
	redisPasswordFlag := flag.String("redis-password", "", "Redis password (overrides LUMEROO_REDIS_PASSWORD)")
	redisDBFlag := flag.Int("redis-db", 0, "Redis database index (overrides LUMEROO_REDIS_DB)")
	redisKeyPrefixFlag := flag.String("redis-key-prefix", "", "Redis session key prefix (overrides LUMEROO_REDIS_KEY_PREFIX)")
	redisTLSFlag := flag.Bool("redis-tls", false, "enable TLS for the Redis session store (overrides LUMEROO_REDIS_TLS)")
	redisTimeoutFlag := flag.Duration("redis-timeout", 0, "Redis dial and command timeout (overrides LUMEROO_REDIS_TIMEOUT)")

	tlsCertFlag := flag.String("tls-cert", "", "TLS certificate file (overrides LUMEROO_TLS_CERT)")
	tlsKeyFlag := flag.String("tls-key", "", "TLS key file (overrides LUMEROO_TLS_KEY)")
	allowedOriginsFlag := flag.String("allowed-origins", "", "comma-separated CORS origins (overrides LUMEROO_ALLOWED_ORIGINS)")
	globalRPSFlag := flag.Float64("global-rps", 0, "global request rate limit per second (overrides LUMEROO_GLOBAL_RPS)")
	globalBurstFlag := flag.Int("global-burst", 0, "global request burst (overrides LUMEROO_GLOBAL_BURST)")
	loginLimitFlag := flag.Int("login-limit", 0, "login attempts allowed per window (overrides LUMEROO_LOGIN_LIMIT)")
	loginWindowFlag := flag.Duration("login-window", 0, "login rate-limit window (overrides LUMEROO_LOGIN_WINDOW)")
	loginRedisAddrFlag := flag.String("login-redis-addr", "", "Redis address backing the login limiter (overrides LUMEROO_LOGIN_REDIS_ADDR)")
	loginRedisPasswordFlag := flag.String("login-redis-password", "", "Redis password for the login limiter (overrides LUMEROO_LOGIN_REDIS_PASSWORD)")

	logLevelFlag := flag.String("log-level", "", "log level: debug, info, warn, error (overrides LUMEROO_LOG_LEVEL)")
	logFormatFlag := flag.String("log-format", "", "log format: json or text (overrides LUMEROO_LOG_FORMAT)")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevelFlag, os.Getenv("LUMEROO_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormatFlag, os.Getenv("LUMEROO_LOG_FORMAT")),
	})

	mode := modeValue(firstNonEmpty(*modeFlag, os.Getenv("LUMEROO_MODE")))
	addr := resolveListenAddr(*addrFlag, os.Getenv("LUMEROO_ADDR"), mode)

	streamDir := firstNonEmpty(*streamDirFlag, os.Getenv("LUMEROO_STREAM_DIR"), "data/stream")
	if err := os.MkdirAll(streamDir, 0o755); err != nil {
		fatal(logger, "failed to create stream directory", "path", streamDir, "error", err)
	}

	postgresDSN := firstNonEmpty(*postgresDSNFlag, os.Getenv("LUMEROO_POSTGRES_DSN"))
	driver, err := resolveStorageDriver(*storageDriverFlag, os.Getenv("LUMEROO_STORAGE_DRIVER"), postgresDSN)
	if err != nil {
		fatal(logger, "failed to resolve storage driver", "error", err)
	}

	var store storage.Repository
	switch driver {
	case "postgres":
		if postgresDSN == "" {
			fatal(logger, "postgres storage requires -postgres-dsn or LUMEROO_POSTGRES_DSN")
		}
		opts := []storage.Option{storage.WithApplicationName("lumeroo")}
		if max := resolveInt(*postgresMaxConnsFlag, "LUMEROO_POSTGRES_MAX_CONNS", 0); max > 0 {
			opts = append(opts, storage.WithMaxConnections(int32(max)))
		}
		if min := resolveInt(*postgresMinConnsFlag, "LUMEROO_POSTGRES_MIN_CONNS", 0); min > 0 {
			opts = append(opts, storage.WithMinConnections(int32(min)))
		}
		lifetime := resolveDuration(*postgresConnLifetimeFlag, "LUMEROO_POSTGRES_CONN_LIFETIME", 0)
		idle := resolveDuration(*postgresConnIdleFlag, "LUMEROO_POSTGRES_CONN_IDLE", 0)
		if lifetime > 0 || idle > 0 {
			opts = append(opts, storage.WithConnLifetime(lifetime, idle))
		}
		if timeout := resolveDuration(*postgresQueryTimeoutFlag, "LUMEROO_POSTGRES_QUERY_TIMEOUT", 0); timeout > 0 {
			opts = append(opts, storage.WithQueryTimeout(timeout))
		}
		store, err = storage.NewPostgresRepository(postgresDSN, opts...)
		if err != nil {
			fatal(logger, "failed to connect to postgres", "error", err)
		}
	default:
		dataPath := firstNonEmpty(*dataFlag, os.Getenv("LUMEROO_DATA_PATH"), "data/lumeroo.json")
		store, err = storage.NewStorage(dataPath)
		if err != nil {
			fatal(logger, "failed to open data file", "path", dataPath, "error", err)
		}
	}

	sessionTTL := resolveDuration(*sessionTTLFlag, "LUMEROO_SESSION_TTL", 7*24*time.Hour)
	sessionIdle := resolveDuration(*sessionIdleFlag, "LUMEROO_SESSION_IDLE_TIMEOUT", 24*time.Hour)
	sessionOpts := []auth.SessionOption{auth.WithIdleTimeout(sessionIdle)}

	var sessionCloser interface{ Close() error }
	switch backend := strings.ToLower(firstNonEmpty(*sessionStoreFlag, os.Getenv("LUMEROO_SESSION_STORE"), "memory")); backend {
	case "memory":
	case "redis":
		addrs := splitList(firstNonEmpty(*redisAddrFlag, os.Getenv("LUMEROO_REDIS_ADDR")))
		if len(addrs) == 0 {
			fatal(logger, "redis session store requires -redis-addr or LUMEROO_REDIS_ADDR")
		}
		redisStore, err := auth.NewRedisSessionStore(context.Background(), auth.RedisSessionStoreConfig{
			Addrs:      addrs,
			Username:   firstNonEmpty(*redisUsernameFlag, os.Getenv("LUMEROO_REDIS_USERNAME")),
			Password:   firstNonEmpty(*redisPasswordFlag, os.Getenv("LUMEROO_REDIS_PASSWORD")),
			DB:         resolveInt(*redisDBFlag, "LUMEROO_REDIS_DB", 0),
			KeyPrefix:  firstNonEmpty(*redisKeyPrefixFlag, os.Getenv("LUMEROO_REDIS_KEY_PREFIX")),
			Timeout:    resolveDuration(*redisTimeoutFlag, "LUMEROO_REDIS_TIMEOUT", 5*time.Second),
			TLSEnabled: resolveBool(*redisTLSFlag, "LUMEROO_REDIS_TLS"),
		})
		if err != nil {
			fatal(logger, "failed to connect to redis session store", "error", err)
		}
		sessionOpts = append(sessionOpts, auth.WithStore(redisStore))
		sessionCloser = redisStore
	default:
		fatal(logger, "unsupported session store backend", "backend", backend)
	}
	sessions := auth.NewSessionManager(sessionTTL, sessionOpts...)

	recorder := metrics.Default()
	tools := media.ResolveToolchain(media.ToolchainConfig{
		FFmpegPath:  firstNonEmpty(*ffmpegFlag, os.Getenv("LUMEROO_FFMPEG")),
		FFprobePath: firstNonEmpty(*ffprobeFlag, os.Getenv("LUMEROO_FFPROBE")),
		YTDLPPath:   firstNonEmpty(*ytdlpFlag, os.Getenv("LUMEROO_YTDLP")),
		BundleDir:   firstNonEmpty(*toolDirFlag, os.Getenv("LUMEROO_TOOL_DIR")),
	})
	runner := media.NewInvoker(media.InvokerConfig{
		Timeout: resolveDuration(*transcodeTimeoutFlag, "LUMEROO_TRANSCODE_TIMEOUT", 30*time.Minute),
		Logger:  logging.WithComponent(logger, "invoker"),
		Metrics: recorder,
	})

	publicBase := firstNonEmpty(*publicBaseFlag, os.Getenv("LUMEROO_PUBLIC_BASE"), "/stream")
	pipeline, err := media.NewPipeline(media.PipelineConfig{
		Store:         store,
		Runner:        runner,
		Tools:         tools,
		StreamRoot:    streamDir,
		PublicBase:    publicBase,
		MaxConcurrent: int64(resolveInt(*maxTranscodesFlag, "LUMEROO_MAX_CONCURRENT_TRANSCODES", 2)),
		Logger:        logging.WithComponent(logger, "pipeline"),
		Metrics:       recorder,
	})
	if err != nil {
		fatal(logger, "failed to build upload pipeline", "error", err)
	}
	images, err := media.NewImagePipeline(media.ImagePipelineConfig{
		Store:      store,
		Runner:     runner,
		Tools:      tools,
		StreamRoot: streamDir,
		PublicBase: publicBase,
		Logger:     logging.WithComponent(logger, "images"),
	})
	if err != nil {
		fatal(logger, "failed to build image pipeline", "error", err)
	}
	youtube := media.NewYouTubeClient(runner, tools, os.TempDir(), logging.WithComponent(logger, "youtube"))

	handler := api.NewHandler(store, sessions)
	handler.Pipeline = pipeline
	handler.Images = images
	handler.YouTube = youtube
	handler.StreamRoot = streamDir
	handler.Logger = logging.WithComponent(logger, "api")

	srv, err := server.New(handler, server.Config{
		Addr:       addr,
		StreamRoot: streamDir,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCertFlag, os.Getenv("LUMEROO_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKeyFlag, os.Getenv("LUMEROO_TLS_KEY")),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     resolveFloat(*globalRPSFlag, "LUMEROO_GLOBAL_RPS", 0),
			GlobalBurst:   resolveInt(*globalBurstFlag, "LUMEROO_GLOBAL_BURST", 0),
			LoginLimit:    resolveInt(*loginLimitFlag, "LUMEROO_LOGIN_LIMIT", 10),
			LoginWindow:   resolveDuration(*loginWindowFlag, "LUMEROO_LOGIN_WINDOW", time.Minute),
			RedisAddr:     firstNonEmpty(*loginRedisAddrFlag, os.Getenv("LUMEROO_LOGIN_REDIS_ADDR")),
			RedisPassword: firstNonEmpty(*loginRedisPasswordFlag, os.Getenv("LUMEROO_LOGIN_REDIS_PASSWORD")),
			RedisTimeout:  resolveDuration(0, "LUMEROO_LOGIN_REDIS_TIMEOUT", 2*time.Second),
		},
		CORS: server.CORSConfig{
			AllowedOrigins: splitList(firstNonEmpty(*allowedOriginsFlag, os.Getenv("LUMEROO_ALLOWED_ORIGINS"))),
		},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		fatal(logger, "failed to configure http server", "error", err)
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	stopPurger := startSessionPurgeWorker(workerCtx, logging.WithComponent(logger, "sessions"), sessions,
		resolveDuration(*sessionPurgeFlag, "LUMEROO_SESSION_PURGE_INTERVAL", 10*time.Minute))

	errs := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr, "mode", string(mode))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
			return
		}
		errs <- nil
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errs:
		if err != nil {
			fatal(logger, "server terminated unexpectedly", "error", err)
		}
	case sig := <-quit:
		logger.Info("shutdown signal received", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
		cancel()
	}

	stopPurger()
	cancelWorkers()

	if closer, ok := store.(interface{ Close(context.Context) error }); ok {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := closer.Close(closeCtx); err != nil {
			logger.Error("failed to close storage", "error", err)
		}
		cancel()
	} else if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("failed to close storage", "error", err)
		}
	}
	if sessionCloser != nil {
		if err := sessionCloser.Close(); err != nil {
			logger.Error("failed to close session store", "error", err)
		}
	}
	logger.Info("server stopped")
}

func fatal(logger *slog.Logger, msg string, args ...any) {
	logger.Error(msg, args...)
	os.Exit(1)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func resolveInt(flagValue int, envKey string, fallback int) int {
	if flagValue > 0 {
		return flagValue
	}
	if raw := strings.TrimSpace(os.Getenv(envKey)); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			return parsed
		}
	}
	return fallback
}

func resolveFloat(flagValue float64, envKey string, fallback float64) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if raw := strings.TrimSpace(os.Getenv(envKey)); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if raw := strings.TrimSpace(os.Getenv(envKey)); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			return parsed
		}
	}
	return fallback
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if raw := strings.TrimSpace(os.Getenv(envKey)); raw != "" {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			return parsed
		}
	}
	return false
}

type runMode string

const (
	modeDevelopment runMode = "development"
	modeProduction  runMode = "production"
)

func modeValue(raw string) runMode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(modeProduction):
		return modeProduction
	default:
		return modeDevelopment
	}
}

func resolveListenAddr(flagValue, envValue string, mode runMode) string {
	if addr := firstNonEmpty(flagValue, envValue); addr != "" {
		return addr
	}
	if mode == modeProduction {
		return ":80"
	}
	return ":8080"
}

func resolveStorageDriver(flagValue, envValue, dsn string) (string, error) {
	driver := strings.ToLower(firstNonEmpty(flagValue, envValue))
	switch driver {
	case "json", "postgres":
		return driver, nil
	case "":
		if strings.TrimSpace(dsn) != "" {
			return "postgres", nil
		}
		return "json", nil
	default:
		return "", fmt.Errorf("unsupported storage driver %q", driver)
	}
}
