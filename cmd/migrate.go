package cmd

import (
	"example.com/backstage/services/calendar/internal/database"
	"example.com/backstage/services/calendar/internal/metrics"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate up|down",
	Short:     "Apply or roll back schema migrations",
	Long:      `Apply all pending migrations (up) or roll back the latest one (down). SQLite databases are migrated from the models instead.`,
	ValidArgs: []string{string(database.Up), string(database.Down)},
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE:      runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dir := database.Direction(args[0])

	if cfg.DB.Driver == database.DriverSQLite {
		if dir == database.Down {
			log.Warn().Msg("SQLite schemas are derived from the models, nothing to roll back")
			return nil
		}
		db, err := database.Connect(cfg.DB, metrics.NewMetrics())
		if err != nil {
			return err
		}
		defer closeDB(db)
		return database.AutoMigrate(db)
	}

	return database.RunMigrations(cfg.DB.DSN, dir)
}
