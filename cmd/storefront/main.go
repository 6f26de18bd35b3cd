package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/deshtopup/storefront/internal/browse"
	"github.com/deshtopup/storefront/internal/handlers"
	"github.com/deshtopup/storefront/internal/platform/auth"
	"github.com/deshtopup/storefront/internal/platform/cache"
	"github.com/deshtopup/storefront/internal/platform/config"
	pfirestore "github.com/deshtopup/storefront/internal/platform/firestore"
	"github.com/deshtopup/storefront/internal/platform/idempotency"
	"github.com/deshtopup/storefront/internal/platform/jobs"
	"github.com/deshtopup/storefront/internal/platform/observability"
	"github.com/deshtopup/storefront/internal/platform/secrets"
	platformstorage "github.com/deshtopup/storefront/internal/platform/storage"
	"github.com/deshtopup/storefront/internal/repositories"
	firestoreRepo "github.com/deshtopup/storefront/internal/repositories/firestore"
	"github.com/deshtopup/storefront/internal/repositories/localstore"
	"github.com/deshtopup/storefront/internal/services"
	"github.com/deshtopup/storefront/internal/sitemap"
)

const (
	idempotencyCleanupInterval = 15 * time.Minute
	idempotencyCleanupBatch    = 200
	firebaseVerifyTimeout      = 5 * time.Second
	jwksFetchTimeout           = 5 * time.Second
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger("storefront")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("storefront")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		if err := firestoreProvider.Close(); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	catalogCache, closeCache, err := newCatalogCache(ctx, logger, cfg)
	if err != nil {
		logger.Fatal("failed to initialise catalog cache", zap.Error(err))
	}
	defer closeCache()

	metrics := observability.NewMetrics()

	catalogRepo, err := firestoreRepo.NewCatalogRepository(firestoreProvider, cfg.Catalog.Collection)
	if err != nil {
		logger.Fatal("failed to initialise catalog repository", zap.Error(err))
	}
	catalogService, err := services.NewCatalogService(services.CatalogServiceDeps{
		Catalog:      catalogRepo,
		Cache:        catalogCache,
		CacheTTL:     cfg.Cache.TTL,
		SimilarLimit: cfg.Catalog.SimilarLimit,
		Metrics:      metrics,
		Logger:       observability.EventLogger(logger, "catalog"),
	})
	if err != nil {
		logger.Fatal("failed to initialise catalog service", zap.Error(err))
	}

	browseCatalog, err := loadBrowseCatalog(cfg.Catalog.BrowseFile)
	if err != nil {
		logger.Fatal("failed to load browse catalog", zap.Error(err))
	}
	browseService, err := services.NewBrowseService(browseCatalog)
	if err != nil {
		logger.Fatal("failed to initialise browse service", zap.Error(err))
	}

	cartRepo, err := newCartRepository(firestoreProvider, cfg.Cart)
	if err != nil {
		logger.Fatal("failed to initialise cart repository", zap.Error(err))
	}

	var cartEvents services.CartEventPublisher
	if topicName := strings.TrimSpace(cfg.Cart.EventsTopic); topicName != "" {
		pubsubClient, err := pubsub.NewClient(ctx, traceProjectID(cfg), googleClientOptions(cfg)...)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic := pubsubClient.Topic(topicName)
		topic.EnableMessageOrdering = true
		publisher, err := jobs.NewPubSubCartEventPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise cart event publisher", zap.Error(err))
		}
		defer publisher.Stop()
		cartEvents = publisher
	}

	cartService, err := services.NewCartService(services.CartServiceDeps{
		Repository: cartRepo,
		Events:     cartEvents,
		Metrics:    metrics,
		Logger:     observability.EventLogger(logger, "cart"),
	})
	if err != nil {
		logger.Fatal("failed to initialise cart service", zap.Error(err))
	}

	sitemapWriters, closeWriters, err := newSitemapWriters(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise sitemap writers", zap.Error(err))
	}
	defer closeWriters()
	var sitemapService services.SitemapService
	if strings.TrimSpace(cfg.Site.BaseURL) != "" {
		generator, err := sitemap.NewGenerator(cfg.Site.BaseURL, nil)
		if err != nil {
			logger.Fatal("failed to initialise sitemap generator", zap.Error(err))
		}
		sitemapService, err = services.NewSitemapService(services.SitemapServiceDeps{
			Catalog:     catalogService,
			Browse:      browseService,
			Generator:   generator,
			Writers:     sitemapWriters,
			StaticPaths: cfg.Site.StaticPaths,
			Logger:      observability.EventLogger(logger, "sitemap"),
		})
		if err != nil {
			logger.Fatal("failed to initialise sitemap service", zap.Error(err))
		}
	} else {
		logger.Warn("site base url not configured; sitemap regeneration disabled")
	}

	systemService, err := newSystemService(firestoreProvider, catalogCache, cfg)
	if err != nil {
		logger.Fatal("failed to initialise system service", zap.Error(err))
	}

	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, firebaseVerifyTimeout)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authn := auth.NewAuthenticator(verifier)

	guestTokens := auth.NewGuestTokens(cfg.Cart.GuestTokenSecret, cfg.Cart.GuestTokenTTL, nil)
	if guestTokens == nil {
		logger.Warn("guest token secret not configured; guest carts disabled")
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreProvider)
	runCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()
	go runIdempotencyCleanup(runCtx, logger.Named("idempotency"), idempotencyStore)

	cartHandlers := handlers.NewCartHandlers(authn, guestTokens, cartService,
		handlers.WithCartIdempotency(idempotency.Middleware(idempotencyStore,
			idempotency.WithHeader(cfg.Idempotency.Header),
			idempotency.WithTTL(cfg.Idempotency.TTL),
			idempotency.WithOptionalKey(),
		)),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(traceProjectID(cfg)),
			observability.RecoveryMiddleware(logger),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithHealthBuildInfo(buildInfoFromEnv(envValues, cfg, startedAt)),
			handlers.WithHealthSystemService(systemService),
		)),
		handlers.WithPublicRoutes(handlers.NewPublicHandlers(catalogService, browseService).Routes),
		handlers.WithMeRoutes(handlers.NewMeHandlers(authn).Routes),
		handlers.WithCartRoutes(cartHandlers.Routes),
	}
	if sitemapService != nil {
		opts = append(opts, handlers.WithInternalRoutes(handlers.NewInternalHandlers(sitemapService).Routes))
	}
	if oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg); oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	} else if sitemapService != nil {
		logger.Warn("auth: OIDC JWKS url not configured; internal routes are unauthenticated")
	}

	router := handlers.NewRouter(opts...)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("cart_backend", cfg.Cart.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := <-shutdownCh
	logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	stopBackground()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	} else {
		logger.Info("server stopped gracefully")
	}
}

func newCatalogCache(ctx context.Context, logger *zap.Logger, cfg config.Config) (cache.Cache, func(), error) {
	if strings.TrimSpace(cfg.Cache.RedisAddr) == "" {
		return cache.NewMemory(), func() {}, nil
	}
	redisCache, err := cache.NewRedis(ctx, cache.RedisConfig{
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.RedisPassword,
		DB:       cfg.Cache.RedisDB,
	}, cache.WithKeyPrefix("storefront:catalog:"), cache.WithLogger(logger.Named("cache")))
	if err != nil {
		return nil, nil, err
	}
	return redisCache, func() {
		if err := redisCache.Close(); err != nil {
			logger.Warn("redis close error", zap.Error(err))
		}
	}, nil
}

func loadBrowseCatalog(path string) (*browse.Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return browse.Default()
	}
	return browse.LoadFile(path)
}

func newCartRepository(provider *pfirestore.Provider, cfg config.CartConfig) (repositories.CartRepository, error) {
	switch cfg.Backend {
	case config.CartBackendLocal:
		return localstore.NewCartRepository(cfg.LocalDir)
	default:
		return firestoreRepo.NewCartRepository(provider, cfg.Collection)
	}
}

func newSitemapWriters(ctx context.Context, cfg config.Config) ([]sitemap.Writer, func(), error) {
	closeFn := func() {}
	var writers []sitemap.Writer
	if dir := strings.TrimSpace(cfg.Site.SitemapOutputDir); dir != "" {
		dirWriter, err := sitemap.NewDirWriter(dir)
		if err != nil {
			return nil, closeFn, err
		}
		writers = append(writers, dirWriter)
	}
	if bucket := strings.TrimSpace(cfg.Site.SitemapBucket); bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx, googleClientOptions(cfg)...)
		if err != nil {
			return nil, closeFn, fmt.Errorf("storage client: %w", err)
		}
		closeFn = func() { _ = storageClient.Close() }
		uploader, err := platformstorage.NewUploader(storageClient, bucket)
		if err != nil {
			closeFn()
			return nil, func() {}, err
		}
		bucketWriter, err := sitemap.NewBucketWriter(uploader)
		if err != nil {
			closeFn()
			return nil, func() {}, err
		}
		writers = append(writers, bucketWriter)
	}
	return writers, closeFn, nil
}

func newSystemService(provider *pfirestore.Provider, catalogCache cache.Cache, cfg config.Config) (services.SystemService, error) {
	checks := []repositories.DependencyCheck{
		{
			Name:    "firestore",
			Timeout: 2 * time.Second,
			Check: func(ctx context.Context) error {
				return provider.Ping(ctx, cfg.Catalog.Collection)
			},
		},
	}
	if strings.TrimSpace(cfg.Cache.RedisAddr) != "" {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, _, err := catalogCache.Get(ctx, "healthz")
				return err
			},
		})
	}
	if cfg.Cart.Backend == config.CartBackendLocal {
		checks = append(checks, repositories.DependencyCheck{
			Name: "cart_store",
			Check: func(context.Context) error {
				info, err := os.Stat(cfg.Cart.LocalDir)
				if err != nil {
					return err
				}
				if !info.IsDir() {
					return fmt.Errorf("%s is not a directory", cfg.Cart.LocalDir)
				}
				return nil
			},
		})
	}
	healthRepo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{HealthRepository: healthRepo})
}

func runIdempotencyCleanup(ctx context.Context, logger *zap.Logger, store *idempotency.FirestoreStore) {
	ticker := time.NewTicker(idempotencyCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.CleanupExpired(ctx, time.Now().UTC(), idempotencyCleanupBatch)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("idempotency cleanup failed", zap.Error(err))
				}
				continue
			}
			if removed > 0 {
				logger.Debug("idempotency cleanup", zap.Int("removed", removed))
			}
		}
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["STOREFRONT_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["STOREFRONT_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	keys := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, &http.Client{Timeout: jwksFetchTimeout}, nil)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}

	return auth.NewOIDCValidator(keys, audience, issuers, logger).RequireOIDC()
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func googleClientOptions(cfg config.Config) []option.ClientOption {
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		return []option.ClientOption{option.WithCredentialsFile(file)}
	}
	return nil
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("STOREFRONT_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("STOREFRONT_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("STOREFRONT_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("STOREFRONT_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames forces a guest token secret outside local development so guest carts are
// never silently disabled in production.
func requiredSecretNames(env map[string]string) []string {
	environment := strings.ToLower(strings.TrimSpace(env["STOREFRONT_SECURITY_ENVIRONMENT"]))
	switch environment {
	case "", "local", "dev", "test":
		return nil
	}
	required := []string{"Cart.GuestTokenSecret"}
	if strings.TrimSpace(env["STOREFRONT_REDIS_ADDR"]) != "" && strings.TrimSpace(env["STOREFRONT_REDIS_PASSWORD"]) != "" {
		required = append(required, "Cache.RedisPassword")
	}
	return required
}
