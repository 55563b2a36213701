package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile the search index once",
	Long:  `Compare the search index with the store and rebuild the index when they drifted apart.`,
	RunE:  runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := app.calendar.ReconcileIndex(ctx)
	if err != nil {
		return err
	}

	log.Info().
		Int64("store_count", report.StoreCount).
		Int64("index_count", report.IndexCount).
		Bool("rebuilt", report.Rebuilt).
		Msg("Search index reconciled")
	return nil
}
