package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"nfcom/internal/logger"
	"nfcom/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Long: `Bring the schema up to date. With MIGRATIONS=true on PostgreSQL the
embedded SQL migrations run through golang-migrate; otherwise the models are
auto-migrated.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("migrate")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return handlePipelineError(err, log)
	}
	defer st.Close()

	if err := st.Migrate(store.Config{DSN: cfg.DatabaseDSN, Migrations: cfg.Migrations}); err != nil {
		return handlePipelineError(err, log)
	}
	log.Info().Str("dsn", store.MaskDSN(cfg.DatabaseDSN)).Msg("Schema up to date")
	fmt.Println("Schema up to date")
	return nil
}
