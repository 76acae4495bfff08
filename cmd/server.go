package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/services/provenance/api"
	"example.com/backstage/services/provenance/handlers"
	"example.com/backstage/services/provenance/internal/analyzer"
	"example.com/backstage/services/provenance/internal/auth"
	"example.com/backstage/services/provenance/internal/objectstore"
	"example.com/backstage/services/provenance/internal/tracing"
	"example.com/backstage/services/provenance/verifier"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server",
	Long:  `Start the HTTP API serving the batch registry, the event ledger and verification`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	log.Info().Str("environment", cfg.Environment).Msg("Starting server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(cfg, true)
	if err != nil {
		return err
	}
	defer closeStore()

	verificationCache := openCache(cfg.Redis)
	defer verificationCache.Close()

	tracer, err := tracing.NewTracer(cfg.NewRelic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		tracer = &tracing.Tracer{}
	}
	defer tracer.Close()

	objects, err := objectstore.New(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := objects.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close object store")
		}
	}()

	batchHandler := handlers.NewBatchHandler(store, cfg.Ledger.BatchIDPrefix, verificationCache)
	eventHandler := handlers.NewEventHandler(store, verificationCache)

	services := api.Services{
		Batches:   batchHandler,
		Events:    eventHandler,
		Scans:     handlers.NewScanHandler(store, eventHandler),
		Integrity: handlers.NewIntegrityHandler(store, analyzer.NewClient(cfg.Analyzer)),
		Verifier:  verifier.New(store, verificationCache),
		Uploader:  objectstore.NewUploader(objects, cfg.Server.MaxUpload),
		Auth:      auth.NewAuthenticator(cfg.Auth),
		NewRelic:  tracer.Application(),
	}
	if elasticClient := openSearch(cfg.Elastic); elasticClient != nil {
		services.Searcher = elasticClient
	}
	if !cfg.Auth.Enabled {
		log.Warn().Msg("Token authentication disabled, trusting identity headers")
	}

	server := api.NewServer(cfg, services)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server error")
		return err
	}

	log.Info().Msg("Server exited properly")
	return nil
}
