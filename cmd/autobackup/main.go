package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lgulliver/autobackup/cmd/autobackup/routes"
	"github.com/lgulliver/autobackup/internal/backup"
	"github.com/lgulliver/autobackup/internal/catalog"
	"github.com/lgulliver/autobackup/internal/clients"
	"github.com/lgulliver/autobackup/internal/common"
	"github.com/lgulliver/autobackup/internal/middleware"
	"github.com/lgulliver/autobackup/internal/ssdp"
	"github.com/lgulliver/autobackup/internal/storage"
	"github.com/lgulliver/autobackup/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logging
	setupLogging(cfg.Logging)

	log.Info().
		Str("uuid", cfg.Device.UUID).
		Str("friendly_name", cfg.Device.FriendlyName).
		Str("backup_dir", cfg.Backup.Dir).
		Msg("Starting PC AutoBackup server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	storageFactory := storage.NewStorageFactory(&cfg.Storage, cfg.Backup.Dir)
	blobStorage, err := storageFactory.CreateStorage(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}

	registry := backup.NewRegistry(blobStorage, backup.Options{
		CreateDateSubdir: cfg.Backup.CreateDateSubdir,
		PendingTTL:       cfg.Backup.PendingTTL,
		RetireTTL:        cfg.Backup.RetireTTL,
		ReapInterval:     cfg.Backup.ReapInterval,
	})

	// Initialize client tracker
	tracker, err := clients.NewTracker(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize client tracker")
	}

	services := &routes.Services{
		Config:   cfg,
		Registry: registry,
		Tracker:  tracker,
	}

	// Initialize catalog
	if cfg.Database.Driver != "" {
		db, err := common.NewDatabase(&cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()

		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
		services.Catalog = catalog.NewService(db)
	}

	// Start SSDP responder
	conn, err := ssdp.Listen(cfg.Device.Interface)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to join SSDP multicast group")
	}
	responder := ssdp.NewResponder(ssdp.Config{
		UUID:      cfg.Device.UUID,
		Interface: cfg.Device.Interface,
		Port:      cfg.Server.Port,
	})
	go func() {
		if err := responder.Serve(ctx, conn); err != nil {
			log.Error().Err(err).Msg("SSDP responder failed")
		}
	}()

	go registry.Run(ctx)

	// Setup HTTP server
	server := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      setupRouter(services),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	} else {
		log.Info().Msg("Server shutdown complete")
	}
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func setupRouter(services *routes.Services) *gin.Engine {
	// Set Gin mode based on log level
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())

	// The camera talks to us directly; never trust forwarding headers
	if err := router.SetTrustedProxies(nil); err != nil {
		log.Warn().Err(err).Msg("Failed to disable trusted proxies")
	}

	routes.DescriptionRoutes(router, services)
	routes.ContentDirectoryRoutes(router, services)
	routes.UploadRoutes(router, services)
	routes.AdminRoutes(router, services)

	return router
}
