package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long: `Start the background worker. It reconciles the search index on the configured
cron schedule. Mutations from other replicas are consumed by each API server on its
own subscription, never here.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	app, err := newApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("schedule", cfg.Search.ReconcileSchedule).Msg("Starting search index reconcile job")

		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return errors.Wrap(err, "failed to create scheduler")
		}

		_, err = scheduler.NewJob(
			gocron.CronJob(cfg.Search.ReconcileSchedule, false),
			gocron.NewTask(func() {
				report, err := app.calendar.ReconcileIndex(ctx)
				if err != nil {
					log.Error().Err(err).Msg("Failed to reconcile search index")
					return
				}
				log.Info().
					Int64("store_count", report.StoreCount).
					Int64("index_count", report.IndexCount).
					Bool("rebuilt", report.Rebuilt).
					Msg("Search index reconciled")
			}),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			return errors.Wrapf(err, "invalid reconcile schedule %q", cfg.Search.ReconcileSchedule)
		}

		scheduler.Start()
		<-ctx.Done()
		return scheduler.Shutdown()
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
