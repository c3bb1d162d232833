// Command server starts the VidVault HTTP service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"vidvault/internal/api"
	"vidvault/internal/cache"
	"vidvault/internal/cipher"
	"vidvault/internal/distribute"
	"vidvault/internal/observability/logging"
	"vidvault/internal/observability/metrics"
	"vidvault/internal/server"
	"vidvault/internal/storage"
	"vidvault/internal/transcode"
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
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	mediaDir := flag.String("media-dir", "", "directory for served media such as thumbnails")
	stagingDir := flag.String("staging-dir", "", "directory for staged uploads")
	uploadToken := flag.String("upload-token", "", "bearer token required on upload and admin endpoints")
	maxUploadBytes := flag.Int64("max-upload-bytes", 0, "maximum accepted upload size in bytes")
	signedURLTTL := flag.Duration("signed-url-ttl", 0, "cache lifetime for channel signed URLs")
	ffmpegPath := flag.String("ffmpeg-path", "", "path to the ffmpeg binary")
	ffprobePath := flag.String("ffprobe-path", "", "path to the ffprobe binary")
	encryptionSecret := flag.String("encryption-secret", "", "secret for encrypting private channel copies")
	encryptionSalt := flag.String("encryption-salt", "", "salt for deriving the encryption key")
	streamtapeLogin := flag.String("streamtape-login", "", "Streamtape API login")
	streamtapeKey := flag.String("streamtape-key", "", "Streamtape API key")
	doodstreamKey := flag.String("doodstream-key", "", "DoodStream API key")
	channelBaseURL := flag.String("channel-base-url", "", "base URL of the channel relay")
	channelToken := flag.String("channel-token", "", "bearer token for the channel relay")
	channelID := flag.String("channel-id", "", "channel identifier on the relay")
	channelQueueSize := flag.Int("channel-queue-size", 0, "buffered jobs in the channel upload queue")
	channelCoolDown := flag.Duration("channel-cool-down", 0, "pause between channel uploads")
	channelErrorCoolDown := flag.Duration("channel-error-cool-down", 0, "pause after a failed channel upload")
	cacheDriver := flag.String("cache-driver", "", "cache driver (memory or redis)")
	cacheRedisAddr := flag.String("cache-redis-addr", "", "Redis address for the cache")
	cacheRedisAddrs := flag.String("cache-redis-addrs", "", "comma separated Redis addresses for the cache")
	cacheRedisUsername := flag.String("cache-redis-username", "", "Redis username for the cache")
	cacheRedisPassword := flag.String("cache-redis-password", "", "Redis password for the cache")
	cacheRedisDB := flag.Int("cache-redis-db", 0, "Redis database index for the cache")
	cacheRedisPrefix := flag.String("cache-redis-prefix", "", "key prefix for cache entries")
	cacheRedisMasterName := flag.String("cache-redis-sentinel-master", "", "Redis sentinel master name for the cache")
	cacheRedisPoolSize := flag.Int("cache-redis-pool-size", 0, "maximum Redis connections for the cache")
	cacheRedisTLSCA := flag.String("cache-redis-tls-ca", "", "path to Redis TLS CA certificate for the cache")
	cacheRedisTLSCert := flag.String("cache-redis-tls-cert", "", "path to Redis TLS client certificate for the cache")
	cacheRedisTLSKey := flag.String("cache-redis-tls-key", "", "path to Redis TLS client key for the cache")
	cacheRedisTLSServerName := flag.String("cache-redis-tls-server-name", "", "override Redis TLS server name for the cache")
	cacheRedisTLSSkipVerify := flag.Bool("cache-redis-tls-skip-verify", false, "skip Redis TLS verification for the cache")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	uploadLimit := flag.Int("rate-upload-limit", 0, "maximum uploads per window for a single IP")
	uploadWindow := flag.Duration("rate-upload-window", 0, "window for counting uploads")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed upload throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed upload throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for rate limiter Redis operations")
	adminOrigins := flag.String("cors-admin-origins", "", "comma separated origins allowed to call admin endpoints")
	playerOrigins := flag.String("cors-player-origins", "", "comma separated origins allowed to call stream endpoints")
	frameAncestors := flag.String("frame-ancestors", "", "CSP frame-ancestors value for embedded playback")
	flag.Parse()

	logger := logging.New(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("VIDVAULT_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("VIDVAULT_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	serverMode := modeValue(*mode, os.Getenv("VIDVAULT_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("VIDVAULT_ADDR"))

	postgresDefaultDSN := resolvePostgresDSN(*postgresDSN)
	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("VIDVAULT_STORAGE_DRIVER"), postgresDefaultDSN)
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(1)
	}
	if serverMode == "production" && driver != "postgres" {
		logger.Error("production mode requires the postgres datastore driver", "driver", driver)
		os.Exit(1)
	}

	var store storage.Repository
	switch driver {
	case "json":
		dataFile := resolveDataPath(*dataPath, os.Getenv("VIDVAULT_DATA"))
		store, err = storage.NewJSONRepository(dataFile)
	case "postgres":
		if postgresDefaultDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		var pgOptions []storage.Option
		maxConns := resolveInt(*postgresMaxConns, "VIDVAULT_POSTGRES_MAX_CONNS")
		minConns := resolveInt(*postgresMinConns, "VIDVAULT_POSTGRES_MIN_CONNS")
		if maxConns > 0 || minConns > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolLimits(int32(maxConns), int32(minConns)))
		}
		maxLifetime := resolveDuration(*postgresMaxConnLifetime, "VIDVAULT_POSTGRES_MAX_CONN_LIFETIME", 0)
		maxIdle := resolveDuration(*postgresMaxConnIdle, "VIDVAULT_POSTGRES_MAX_CONN_IDLE", 0)
		healthInterval := resolveDuration(*postgresHealthInterval, "VIDVAULT_POSTGRES_HEALTH_INTERVAL", 0)
		if maxLifetime > 0 || maxIdle > 0 || healthInterval > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolDurations(maxLifetime, maxIdle, healthInterval))
		}
		if acquireTimeout := resolveDuration(*postgresAcquireTimeout, "VIDVAULT_POSTGRES_ACQUIRE_TIMEOUT", 0); acquireTimeout > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresAcquireTimeout(acquireTimeout))
		}
		if appName := firstNonEmpty(*postgresAppName, os.Getenv("VIDVAULT_POSTGRES_APP_NAME")); appName != "" {
			pgOptions = append(pgOptions, storage.WithPostgresApplicationName(appName))
		}
		store, err = storage.NewPostgresRepository(postgresDefaultDSN, pgOptions...)
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	cacheStore, err := configureCache(configureCacheArgs{
		driver:     firstNonEmpty(*cacheDriver, os.Getenv("VIDVAULT_CACHE_DRIVER")),
		addr:       firstNonEmpty(*cacheRedisAddr, os.Getenv("VIDVAULT_CACHE_REDIS_ADDR")),
		addrs:      splitAndTrim(firstNonEmpty(*cacheRedisAddrs, os.Getenv("VIDVAULT_CACHE_REDIS_ADDRS"))),
		username:   firstNonEmpty(*cacheRedisUsername, os.Getenv("VIDVAULT_CACHE_REDIS_USERNAME")),
		password:   firstNonEmpty(*cacheRedisPassword, os.Getenv("VIDVAULT_CACHE_REDIS_PASSWORD")),
		db:         resolveInt(*cacheRedisDB, "VIDVAULT_CACHE_REDIS_DB"),
		prefix:     firstNonEmpty(*cacheRedisPrefix, os.Getenv("VIDVAULT_CACHE_REDIS_PREFIX")),
		masterName: firstNonEmpty(*cacheRedisMasterName, os.Getenv("VIDVAULT_CACHE_REDIS_SENTINEL_MASTER")),
		poolSize:   resolveInt(*cacheRedisPoolSize, "VIDVAULT_CACHE_REDIS_POOL_SIZE"),
		tls: cache.RedisTLSConfig{
			CAFile:             firstNonEmpty(*cacheRedisTLSCA, os.Getenv("VIDVAULT_CACHE_REDIS_TLS_CA")),
			CertFile:           firstNonEmpty(*cacheRedisTLSCert, os.Getenv("VIDVAULT_CACHE_REDIS_TLS_CERT")),
			KeyFile:            firstNonEmpty(*cacheRedisTLSKey, os.Getenv("VIDVAULT_CACHE_REDIS_TLS_KEY")),
			ServerName:         firstNonEmpty(*cacheRedisTLSServerName, os.Getenv("VIDVAULT_CACHE_REDIS_TLS_SERVER_NAME")),
			InsecureSkipVerify: resolveBool(*cacheRedisTLSSkipVerify, "VIDVAULT_CACHE_REDIS_TLS_SKIP_VERIFY"),
		},
	})
	if err != nil {
		logger.Error("failed to configure cache", "error", err)
		os.Exit(1)
	}

	var codec *cipher.Codec
	if secret := firstNonEmpty(*encryptionSecret, os.Getenv("VIDVAULT_ENCRYPTION_SECRET")); secret != "" {
		var opts []cipher.Option
		if salt := firstNonEmpty(*encryptionSalt, os.Getenv("VIDVAULT_ENCRYPTION_SALT")); salt != "" {
			opts = append(opts, cipher.WithDerivedKey([]byte(salt)))
		}
		codec, err = cipher.New(secret, opts...)
		if err != nil {
			logger.Error("failed to configure encryption", "error", err)
			os.Exit(1)
		}
	}

	engine := transcode.NewEngine(transcode.Config{
		FFmpegPath:  firstNonEmpty(*ffmpegPath, os.Getenv("VIDVAULT_FFMPEG_PATH")),
		FFprobePath: firstNonEmpty(*ffprobePath, os.Getenv("VIDVAULT_FFPROBE_PATH")),
		Logger:      logging.WithComponent(logger, "transcode"),
	})

	var fastProviders []distribute.FastProvider
	stLogin := firstNonEmpty(*streamtapeLogin, os.Getenv("VIDVAULT_STREAMTAPE_LOGIN"))
	stKey := firstNonEmpty(*streamtapeKey, os.Getenv("VIDVAULT_STREAMTAPE_KEY"))
	if stLogin != "" && stKey != "" {
		fastProviders = append(fastProviders, distribute.NewStreamtape(distribute.StreamtapeConfig{
			Login:  stLogin,
			Key:    stKey,
			Logger: logging.WithComponent(logger, "streamtape"),
		}))
	}
	if ddKey := firstNonEmpty(*doodstreamKey, os.Getenv("VIDVAULT_DOODSTREAM_KEY")); ddKey != "" {
		fastProviders = append(fastProviders, distribute.NewDoodstream(distribute.DoodstreamConfig{
			Key:    ddKey,
			Logger: logging.WithComponent(logger, "doodstream"),
		}))
	}

	var (
		channelClient *distribute.ChannelClient
		channelQueue  *distribute.ChannelQueue
	)
	if baseURL := firstNonEmpty(*channelBaseURL, os.Getenv("VIDVAULT_CHANNEL_BASE_URL")); baseURL != "" {
		channelClient, err = distribute.NewChannelClient(distribute.ChannelConfig{
			BaseURL:   baseURL,
			Token:     firstNonEmpty(*channelToken, os.Getenv("VIDVAULT_CHANNEL_TOKEN")),
			ChannelID: firstNonEmpty(*channelID, os.Getenv("VIDVAULT_CHANNEL_ID")),
			Logger:    logging.WithComponent(logger, "channel"),
		})
		if err != nil {
			logger.Error("failed to configure channel relay", "error", err)
			os.Exit(1)
		}
		channelQueue = distribute.NewChannelQueue(distribute.ChannelQueueConfig{
			Store:         store,
			Uploader:      channelClient,
			Codec:         codec,
			Metrics:       recorder,
			Logger:        logging.WithComponent(logger, "channel-queue"),
			QueueSize:     resolveInt(*channelQueueSize, "VIDVAULT_CHANNEL_QUEUE_SIZE"),
			CoolDown:      resolveDuration(*channelCoolDown, "VIDVAULT_CHANNEL_COOL_DOWN", 0),
			ErrorCoolDown: resolveDuration(*channelErrorCoolDown, "VIDVAULT_CHANNEL_ERROR_COOL_DOWN", 0),
		})
		channelQueue.Start()
	}

	orchestrator := distribute.NewOrchestrator(distribute.OrchestratorConfig{
		Store:         store,
		Engine:        engine,
		FastProviders: fastProviders,
		Channel:       channelQueue,
		Codec:         codec,
		Metrics:       recorder,
		Logger:        logging.WithComponent(logger, "distribute"),
	})

	handlerCfg := api.HandlerConfig{
		Store:          store,
		Cache:          cacheStore,
		Engine:         engine,
		Distributor:    orchestrator,
		Metrics:        recorder,
		Logger:         logging.WithComponent(logger, "api"),
		MediaDir:       resolveDirectory(*mediaDir, "VIDVAULT_MEDIA_DIR", "data/media"),
		StagingDir:     resolveDirectory(*stagingDir, "VIDVAULT_STAGING_DIR", "data/staging"),
		UploadToken:    firstNonEmpty(*uploadToken, os.Getenv("VIDVAULT_UPLOAD_TOKEN")),
		MaxUploadBytes: resolveInt64(*maxUploadBytes, "VIDVAULT_MAX_UPLOAD_BYTES"),
		SignedURLTTL:   resolveDuration(*signedURLTTL, "VIDVAULT_SIGNED_URL_TTL", 0),
	}
	if channelClient != nil {
		handlerCfg.Relay = channelClient
	}
	if channelQueue != nil {
		handlerCfg.Queue = channelQueue
	}
	handler := api.NewHandler(handlerCfg)

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("VIDVAULT_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("VIDVAULT_TLS_KEY")),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     resolveFloat(*globalRPS, "VIDVAULT_RATE_GLOBAL_RPS"),
			GlobalBurst:   resolveInt(*globalBurst, "VIDVAULT_RATE_GLOBAL_BURST"),
			UploadLimit:   resolveInt(*uploadLimit, "VIDVAULT_RATE_UPLOAD_LIMIT"),
			UploadWindow:  resolveDuration(*uploadWindow, "VIDVAULT_RATE_UPLOAD_WINDOW", time.Minute),
			RedisAddr:     firstNonEmpty(*rateRedisAddr, os.Getenv("VIDVAULT_RATE_REDIS_ADDR")),
			RedisPassword: firstNonEmpty(*rateRedisPassword, os.Getenv("VIDVAULT_RATE_REDIS_PASSWORD")),
			RedisTimeout:  resolveDuration(*rateRedisTimeout, "VIDVAULT_RATE_REDIS_TIMEOUT", 2*time.Second),
		},
		Security: server.SecurityConfig{
			FrameAncestors: firstNonEmpty(*frameAncestors, os.Getenv("VIDVAULT_FRAME_ANCESTORS")),
		},
		CORS: server.CORSConfig{
			AdminOrigins:  splitAndTrim(firstNonEmpty(*adminOrigins, os.Getenv("VIDVAULT_CORS_ADMIN_ORIGINS"))),
			PlayerOrigins: splitAndTrim(firstNonEmpty(*playerOrigins, os.Getenv("VIDVAULT_CORS_PLAYER_ORIGINS"))),
		},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("VidVault API listening", "addr", listenAddr, "mode", serverMode)
	logger.Info("metrics endpoint available", "path", "/metrics")
	if err := srv.Run(runCtx); err != nil {
		logger.Error("server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if channelQueue != nil {
		if err := channelQueue.Shutdown(ctx); err != nil {
			logger.Warn("failed to drain channel queue", "error", err)
		}
	}

	if err := cacheStore.Close(); err != nil {
		logger.Warn("failed to close cache", "error", err)
	}

	if closer, ok := store.(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(ctx); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	} else if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	}

	logger.Info("server stopped")
}

type configureCacheArgs struct {
	driver     string
	addr       string
	addrs      []string
	username   string
	password   string
	db         int
	prefix     string
	masterName string
	poolSize   int
	tls        cache.RedisTLSConfig
}

func configureCache(args configureCacheArgs) (cache.Cache, error) {
	switch strings.ToLower(strings.TrimSpace(args.driver)) {
	case "redis":
		if len(args.addrs) == 0 && args.addr == "" {
			return nil, fmt.Errorf("redis addr is required for the redis cache")
		}
		return cache.NewRedisCache(cache.RedisConfig{
			Addr:       args.addr,
			Addrs:      args.addrs,
			Username:   args.username,
			Password:   args.password,
			DB:         args.db,
			KeyPrefix:  args.prefix,
			MasterName: args.masterName,
			PoolSize:   args.poolSize,
			TLS:        args.tls,
		})
	case "", "memory":
		return cache.NewMemoryCache(), nil
	default:
		return nil, fmt.Errorf("unsupported cache driver %q", args.driver)
	}
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
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

func resolveDataPath(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(envValue); env != "" {
		return env
	}
	return "data/store.json"
}

func resolveDirectory(flagValue, envKey, fallback string) string {
	if dir := strings.TrimSpace(flagValue); dir != "" {
		return dir
	}
	if env := strings.TrimSpace(os.Getenv(envKey)); env != "" {
		return env
	}
	return fallback
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("VIDVAULT_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
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
