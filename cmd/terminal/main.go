package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"altarath/pos/internal/cache"
	"altarath/pos/internal/cart"
	"altarath/pos/internal/catalog"
	"altarath/pos/internal/checkout"
	"altarath/pos/internal/config"
	"altarath/pos/internal/httpapi"
	"altarath/pos/internal/receipt"
	"altarath/pos/internal/refund"
	"altarath/pos/internal/store"
	"altarath/pos/internal/store/memory"
	pgstore "altarath/pos/internal/store/postgres"
	"altarath/pos/internal/tradein"
	"altarath/pos/internal/txservice"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.NewEntry(logger)

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if err := cfg.ValidateSecurity(); err != nil {
		log.WithError(err).Fatal("invalid security configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Info("repository: in-memory")
	}

	availabilityCache := cache.AvailabilityCache(cache.NoopAvailabilityCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisAvailabilityCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.WithError(err).Warn("redis unavailable, using noop cache")
		} else {
			availabilityCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Info("cache: redis")
		}
	} else {
		log.Info("cache: noop")
	}

	var lookup catalog.Lookup
	var namer refund.ProductNamer
	if cfg.CatalogURL != "" {
		catalogClient := catalog.NewClient(cfg.CatalogURL, cfg.CatalogTimeout)
		lookup = catalog.NewCachedLookup(catalogClient, availabilityCache, cfg.StockSnapshotTTL, log)
		namer = catalogClient
		log.WithField("url", cfg.CatalogURL).Info("catalog: remote")
	} else {
		lookup = catalog.Permissive{}
		log.Warn("catalog: none configured, stock checks always pass")
	}

	var client txservice.Client
	if cfg.TxServiceURL != "" {
		client = txservice.NewHTTPClient(cfg.TxServiceURL, cfg.TxServiceTimeout)
		log.WithField("url", cfg.TxServiceURL).Info("transaction service: remote")
	} else {
		client = txservice.NewFake()
		log.Warn("transaction service: none configured, using in-memory fake")
	}

	renderer, err := receipt.NewRenderer(receipt.ShopIdentity{
		Name:     cfg.ShopName,
		Address:  cfg.ShopAddress,
		Phone:    cfg.ShopPhone,
		CRNumber: cfg.ShopCRNumber,
		VATRate:  cfg.VATRate,
	})
	if err != nil {
		log.WithError(err).Fatal("receipt templates")
	}

	orchestrator := checkout.NewOrchestrator(client, repo, lookup, renderer,
		checkout.RetryPolicy{Attempts: cfg.CheckoutRetries, BaseDelay: cfg.CheckoutRetryDelay},
		cfg.LocationID, cfg.ShopID, log)
	syncer := checkout.NewSyncer(repo, client, cfg.SyncInterval, log)

	syncCtx, stopSync := context.WithCancel(context.Background())
	defer stopSync()
	go syncer.Run(syncCtx)

	refundCfg := refund.Config{
		Client:               client,
		Repo:                 repo,
		Renderer:             renderer,
		Namer:                namer,
		AuthorizationTimeout: cfg.AuthorizationTimeout,
		LocationID:           cfg.LocationID,
		ShopID:               cfg.ShopID,
		Log:                  log,
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, repo)
	api := httpapi.New(auth, repo, cart.NewSession(), tradein.NewLedger(),
		orchestrator, syncer, lookup, refundCfg, cfg.AllowedOrigin, log)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Address()).Info("terminal listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	stopSync()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.WithError(err).Warn("close error")
		}
	}

	log.Info("terminal stopped")
}
