package main

import (
	"fmt"
	"os"

	"github.com/docshare/drive/internal/config"
	"github.com/docshare/drive/internal/database"
	"github.com/docshare/drive/pkg/logger"
	"github.com/docshare/drive/pkg/utils"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	flagJSON bool

	cfg *config.Config
	db  *gorm.DB
)

var rootCmd = &cobra.Command{
	Use:   "drivectl",
	Short: "drivectl administers drive accounts and quotas",
	Long: `drivectl talks to the drive database directly. It reads the same
environment (and .env file) as the server.

  drivectl migrate                                Create or update the schema
  drivectl user create --email a@b.c --quota 5GiB Provision an account
  drivectl usage <user-id>                        Show quota usage
  drivectl reconcile <user-id>                    Recompute used storage`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Log lines go to stderr so stdout stays parseable.
		logger.SetOutput(os.Stderr)

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)

		db, err = database.Open(cfg.DB)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if db == nil {
			return nil
		}
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Output as JSON")
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
