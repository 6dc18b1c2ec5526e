// main is the entry point of the NodeAtlas application.
// It initializes the configuration, logger, database, GeoIP provider, child map
// cache and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/woozymasta/nodeatlas/internal/atlas"
	"github.com/woozymasta/nodeatlas/internal/config"
	"github.com/woozymasta/nodeatlas/internal/federation"
	"github.com/woozymasta/nodeatlas/internal/geoip"
	"github.com/woozymasta/nodeatlas/internal/logger"
	"github.com/woozymasta/nodeatlas/internal/maintenance"
	"github.com/woozymasta/nodeatlas/internal/metrics"
	"github.com/woozymasta/nodeatlas/internal/realtime"
	"github.com/woozymasta/nodeatlas/internal/server"
	"github.com/woozymasta/nodeatlas/internal/storage"
	"github.com/woozymasta/nodeatlas/internal/vars"
)

func main() {
	cfg := config.Parse()

	logger.Setup(cfg.Logger)
	log.Info().
		Str("version", vars.Version).
		Str("commit", vars.CommitShort()).
		Str("map", cfg.Site.Name).
		Msg("Starting nodeatlas service...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	store, err := storage.New(storage.Options{
		Driver:   cfg.Storage.Driver,
		DSN:      cfg.Storage.DSN,
		ReadOnly: cfg.Storage.ReadOnly,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database")
		}
	}()

	m := metrics.New()

	// import, pruning, probing or data generation
	if maintenance.Run(ctx, cfg, store, m) {
		return
	}

	// GeoIP Update
	log.Info().Msg("Checking GeoIP database...")
	if err := geoip.EnsureDB(ctx, cfg.GeoIP.Path, cfg.GeoIP.URL, cfg.GeoIP.Interval); err != nil {
		log.Error().Err(err).Msg("Failed to download GeoIP database")
	}

	geoProvider, err := geoip.Open(cfg.GeoIP.Path, cfg.GeoIP.CityPath)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open GeoIP database, country detection disabled")
		geoProvider = nil
	} else {
		defer func() {
			if err := geoProvider.Close(); err != nil {
				log.Error().Err(err).Msg("Error closing GeoIP provider")
			}
		}()
	}

	// Init server
	broker := realtime.NewBroker()
	srvHandler := server.New(server.Deps{
		Store:   store,
		GeoIP:   geoProvider,
		Cache:   atlas.NewCache(),
		Broker:  broker,
		Metrics: m,
	}, cfg)

	if _, err := srvHandler.Refresh(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to load nodes")
	}

	// Background soft-limit cleanup
	srvHandler.StartWorkers()

	// Child map cache
	if len(cfg.Federation.ChildMaps) > 0 {
		if store.ReadOnly() {
			log.Warn().Msg("Database is read-only, child map caching disabled")
		} else {
			refresher := federation.New(store, cfg.Federation, federation.Options{
				Broker:  broker,
				Metrics: m,
				OnRefresh: func(ctx context.Context) error {
					_, err := srvHandler.Refresh(ctx)
					return err
				},
			})
			go refresher.Run(ctx)
		}
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           srvHandler.Run(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Graceful Shutdown
	<-ctx.Done()
	stop()

	log.Info().Msg("Shutting down server...")

	// Shut down HTTP
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	srvHandler.StopWorkers()

	log.Info().Msg("Server exited")
}
