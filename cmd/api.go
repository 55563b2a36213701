package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"example.com/backstage/services/calendar/internal/api"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long: `Start the HTTP API server for calendar queries and event writes. When an Azure
Service Bus subscription is configured the server also drops its caches on writes made
by other replicas. Each server consumes from its own subscription, named after the
configured one and created on start.`,
	RunE: runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
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

	server := api.NewServer(cfg, app.calendar, app.metrics, app.tracer)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-ctx.Done()
		return server.Shutdown(context.Background())
	})
	if app.bus != nil && cfg.Azure.Subscription != "" {
		g.Go(func() error {
			// a broken subscription only costs cache freshness, the server keeps running
			if err := app.bus.JoinAsReplica(ctx, app.calendar.Origin()); err != nil {
				log.Error().Err(err).Msg("Failed to provision replica subscription, caches now rely on TTL")
				return nil
			}
			if err := app.bus.Consume(ctx, app.calendar.ApplyRemoteMutation); err != nil {
				log.Error().Err(err).Msg("Mutation consumer stopped, caches now rely on TTL")
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("API server error")
		return err
	}

	log.Info().Msg("API server stopped")
	return nil
}
