// Command sitemapgen regenerates sitemap.xml and robots.txt once and exits. It runs during the
// static site build, before the files are copied into the hosting bundle.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/deshtopup/storefront/internal/browse"
	"github.com/deshtopup/storefront/internal/platform/cache"
	"github.com/deshtopup/storefront/internal/platform/config"
	pfirestore "github.com/deshtopup/storefront/internal/platform/firestore"
	"github.com/deshtopup/storefront/internal/platform/observability"
	"github.com/deshtopup/storefront/internal/platform/secrets"
	platformstorage "github.com/deshtopup/storefront/internal/platform/storage"
	firestoreRepo "github.com/deshtopup/storefront/internal/repositories/firestore"
	"github.com/deshtopup/storefront/internal/services"
	"github.com/deshtopup/storefront/internal/sitemap"
)

func main() {
	var (
		envFile string
		baseURL string
		outDir  string
		upload  bool
		timeout time.Duration
	)
	flag.StringVar(&envFile, "env-file", ".env", "dotenv file with STOREFRONT_ settings")
	flag.StringVar(&baseURL, "base-url", "", "public site origin (overrides STOREFRONT_SITE_BASE_URL)")
	flag.StringVar(&outDir, "out", "", "output directory (overrides STOREFRONT_SITEMAP_OUTPUT_DIR)")
	flag.BoolVar(&upload, "upload", false, "also upload to STOREFRONT_SITEMAP_BUCKET")
	flag.DurationVar(&timeout, "timeout", 2*time.Minute, "overall deadline")
	flag.Parse()

	baseLogger, err := observability.NewLogger("sitemapgen")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("sitemapgen")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ctx = observability.WithLogger(ctx, logger)

	overrides := map[string]string{}
	if baseURL != "" {
		overrides["STOREFRONT_SITE_BASE_URL"] = baseURL
	}
	if outDir != "" {
		overrides["STOREFRONT_SITEMAP_OUTPUT_DIR"] = outDir
	}
	fetcher, err := secrets.NewFetcher(ctx, secrets.WithLogger(logger.Named("secrets")))
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer fetcher.Close()

	cfg, err := config.Load(ctx,
		config.WithEnvFile(envFile),
		config.WithEnvMap(overrides),
		config.WithSecretResolver(fetcher),
	)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	result, err := run(ctx, logger, cfg, upload)
	if err != nil {
		logger.Fatal("sitemap regeneration failed", zap.Error(err))
	}
	logger.Info("sitemap regenerated",
		zap.Int("url_count", result.URLCount),
		zap.Strings("locations", result.Locations),
		zap.Time("generated_at", result.GeneratedAt),
	)
}

func run(ctx context.Context, logger *zap.Logger, cfg config.Config, upload bool) (services.SitemapResult, error) {
	provider := pfirestore.NewProvider(cfg.Firestore)
	defer func() {
		if err := provider.Close(); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	catalogRepo, err := firestoreRepo.NewCatalogRepository(provider, cfg.Catalog.Collection)
	if err != nil {
		return services.SitemapResult{}, err
	}
	catalogService, err := services.NewCatalogService(services.CatalogServiceDeps{
		Catalog:      catalogRepo,
		Cache:        cache.NewMemory(),
		SimilarLimit: cfg.Catalog.SimilarLimit,
		Logger:       observability.EventLogger(logger, "catalog"),
	})
	if err != nil {
		return services.SitemapResult{}, err
	}

	var browseCatalog *browse.Catalog
	if path := strings.TrimSpace(cfg.Catalog.BrowseFile); path != "" {
		browseCatalog, err = browse.LoadFile(path)
	} else {
		browseCatalog, err = browse.Default()
	}
	if err != nil {
		return services.SitemapResult{}, err
	}
	browseService, err := services.NewBrowseService(browseCatalog)
	if err != nil {
		return services.SitemapResult{}, err
	}

	dirWriter, err := sitemap.NewDirWriter(cfg.Site.SitemapOutputDir)
	if err != nil {
		return services.SitemapResult{}, err
	}
	writers := []sitemap.Writer{dirWriter}

	if upload {
		bucket := strings.TrimSpace(cfg.Site.SitemapBucket)
		if bucket == "" {
			return services.SitemapResult{}, fmt.Errorf("upload requested but STOREFRONT_SITEMAP_BUCKET is empty")
		}
		var opts []option.ClientOption
		if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
			opts = append(opts, option.WithCredentialsFile(file))
		}
		storageClient, err := cloudstorage.NewClient(ctx, opts...)
		if err != nil {
			return services.SitemapResult{}, fmt.Errorf("storage client: %w", err)
		}
		defer storageClient.Close()
		uploader, err := platformstorage.NewUploader(storageClient, bucket)
		if err != nil {
			return services.SitemapResult{}, err
		}
		bucketWriter, err := sitemap.NewBucketWriter(uploader)
		if err != nil {
			return services.SitemapResult{}, err
		}
		writers = append(writers, bucketWriter)
	}

	generator, err := sitemap.NewGenerator(cfg.Site.BaseURL, nil)
	if err != nil {
		return services.SitemapResult{}, err
	}
	svc, err := services.NewSitemapService(services.SitemapServiceDeps{
		Catalog:     catalogService,
		Browse:      browseService,
		Generator:   generator,
		Writers:     writers,
		StaticPaths: cfg.Site.StaticPaths,
		Logger:      observability.EventLogger(logger, "sitemap"),
	})
	if err != nil {
		return services.SitemapResult{}, err
	}
	return svc.Regenerate(ctx)
}
