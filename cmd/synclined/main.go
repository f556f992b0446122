package main

import (
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/syncline-dev/syncline/internal/access"
	"github.com/syncline-dev/syncline/internal/api"
	"github.com/syncline-dev/syncline/internal/changelog"
	"github.com/syncline-dev/syncline/internal/config"
	"github.com/syncline-dev/syncline/internal/vault"
	"github.com/syncline-dev/syncline/pkg/engine"
	"github.com/syncline-dev/syncline/pkg/replicate"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfgPath := os.Getenv("SYNCLINE_CONFIG")
	if cfgPath == "" {
		cfgPath = "syncline.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfgPath).Msg("failed to load configuration")
	}

	// Durable replication state: change log, checkpoints, sync state.
	clog, err := changelog.Open(filepath.Join(cfg.DataDir, "changelog.db"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open changelog database")
	}
	defer clog.Close()

	tracker := replicate.NewTracker(clog, clog.SequencerFactory())
	differ := replicate.NewDiffer(clog)

	// Record snapshots.
	persister, err := engine.NewPersistence(cfg.DataDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize persistence")
	}
	initial, err := persister.LoadAll()
	if err != nil {
		logger.Warn().Err(err).Msg("could not load existing snapshots")
	}
	store := engine.NewMemStore(initial, tracker, persister)
	logger.Info().Int("models", len(initial)).Msg("engine started")

	// Access gate.
	registry := access.NewRegistry()
	if err := cfg.ApplyRules(registry); err != nil {
		logger.Fatal().Err(err).Msg("invalid access rules")
	}

	h := &api.Handler{
		Store:   store,
		Differ:  differ,
		Tracker: tracker,
		Access:  registry,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	apiGroup := r.Group("/api")
	apiGroup.Use(api.Auth(cfg.Principals()))
	h.Register(apiGroup)

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: r,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info().Msg("shutdown signal received, finalizing disk writes")
		srv.Close()
		store.Wait()
		clog.Close()
		logger.Info().Msg("persistence complete, exiting")
		os.Exit(0)
	}()

	if cfg.TLS {
		cert, err := vault.GenerateSelfSignedCert()
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to generate TLS certificate")
		}
		srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
		logger.Info().Str("addr", cfg.Listen).Msg("listening with self-signed TLS")
		err = srv.ListenAndServeTLS("", "")
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
		return
	}

	logger.Info().Str("addr", cfg.Listen).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("server failed")
	}
}
