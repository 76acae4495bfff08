package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/services/provenance/handlers"
	"example.com/backstage/services/provenance/internal/tracing"
	"example.com/backstage/services/provenance/messaging"
	"example.com/backstage/services/provenance/projections"
	"example.com/backstage/services/provenance/verifier"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long: `Start the background worker that projects ledger changes to the read models,
consumes ledger commands from Azure Service Bus and audits event hashes`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	log.Info().Msg("Starting worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

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

	publisher, err := messaging.NewPublisher(cfg.Azure)
	if err != nil {
		return err
	}
	defer publisher.Close()

	projectors := []projections.Projector{
		projections.NewNotificationProjector(publisher),
		projections.NewCacheProjector(verificationCache),
	}
	if elasticClient := openSearch(cfg.Elastic); elasticClient != nil {
		if err := elasticClient.EnsureIndices(ctx); err != nil {
			return err
		}
		projectors = append([]projections.Projector{projections.NewSearchProjector(elasticClient)}, projectors...)
	}
	processor := projections.NewEventProcessor(store, cfg.Ledger.OutboxBatchSize, projectors...)
	auditor := verifier.New(store, nil)

	// Ledger commands from Service Bus
	if cfg.Azure.QueueConnStr != "" {
		azureClient, err := messaging.NewAzureClient(cfg.Azure)
		if err != nil {
			return err
		}
		defer azureClient.Close()

		batchHandler := handlers.NewBatchHandler(store, cfg.Ledger.BatchIDPrefix, verificationCache)
		eventHandler := handlers.NewEventHandler(store, verificationCache)
		msgProcessor := messaging.NewProcessor(batchHandler, eventHandler, handlers.NewScanHandler(store, eventHandler))

		g.Go(func() error {
			log.Info().Str("queue", cfg.Azure.CommandsQueueName).Msg("Starting Azure Service Bus consumer")
			return azureClient.StartConsumers(ctx, cfg.Azure.CommandsQueueName, msgProcessor)
		})
	} else {
		log.Warn().Msg("Azure Service Bus not configured, command consumer disabled")
	}

	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(interval(cfg.Ledger.ProjectionInterval, 5*time.Second)),
			gocron.NewTask(func() { runProjection(ctx, tracer, processor) }),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(interval(cfg.Ledger.AuditInterval, time.Hour)),
			gocron.NewTask(func() { runAudit(ctx, tracer, auditor) }),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return err
		}

		scheduler.Start()
		<-ctx.Done()
		return scheduler.Shutdown()
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker exited properly")
	return nil
}

func runProjection(ctx context.Context, tracer *tracing.Tracer, processor *projections.EventProcessor) {
	txnCtx, txn := tracer.StartTransaction(ctx, "worker/project")
	processed, err := processor.ProcessBatch(txnCtx)
	tracer.EndTransaction(txn, err)

	if err != nil {
		log.Error().Err(err).Msg("Failed to project ledger changes")
		return
	}
	if processed > 0 {
		log.Debug().Int("processed", processed).Msg("Projected ledger changes")
	}
}

func runAudit(ctx context.Context, tracer *tracing.Tracer, auditor *verifier.Verifier) {
	txnCtx, txn := tracer.StartTransaction(ctx, "worker/audit")
	summary, err := auditor.AuditAll(txnCtx)
	tracer.EndTransaction(txn, err)

	if err != nil {
		log.Error().Err(err).Msg("Integrity audit failed")
		return
	}
	log.Info().
		Int("batches", summary.Batches).
		Int("events", summary.Events).
		Strs("tampered", summary.Tampered).
		Msg("Integrity audit finished")
}

func interval(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
