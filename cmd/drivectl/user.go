package main

import (
	"fmt"

	"github.com/docshare/drive/internal/services"
	"github.com/spf13/cobra"
)

var (
	flagEmail    string
	flagName     string
	flagQuota    string
	flagSetQuota string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user",
	Long: `Create a user with an optional storage quota.

  drivectl user create --email ada@example.com --name Ada
  drivectl user create --email ada@example.com --quota 20GiB`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var quota *int64
		if flagQuota != "" {
			parsed, err := parseBytes(flagQuota)
			if err != nil {
				return err
			}
			quota = &parsed
		}

		users := services.NewUserService(db, cfg.Storage.DefaultQuota)
		user, err := users.Create(cmd.Context(), services.CreateUserInput{
			Email:       flagEmail,
			DisplayName: flagName,
			Quota:       quota,
		})
		if err != nil {
			return fmt.Errorf("creating user: %w", err)
		}

		if flagJSON {
			return printJSON(cmd.OutOrStdout(), user)
		}
		printUser(cmd.OutOrStdout(), user)
		return nil
	},
}

var userQuotaCmd = &cobra.Command{
	Use:   "quota <user-id>",
	Short: "Show or change a user's storage quota",
	Long: `Show a user's quota, or change it with --set.

  drivectl user quota <user-id>
  drivectl user quota <user-id> --set 10GiB`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserID(args[0])
		if err != nil {
			return err
		}

		ledger := services.NewQuotaLedger(db)
		var state services.QuotaState
		if flagSetQuota != "" {
			quota, err := parseBytes(flagSetQuota)
			if err != nil {
				return err
			}
			state, err = ledger.SetQuota(cmd.Context(), userID, quota)
			if err != nil {
				return fmt.Errorf("setting quota: %w", err)
			}
		} else {
			state, err = ledger.QuotaState(cmd.Context(), userID)
			if err != nil {
				return fmt.Errorf("loading quota: %w", err)
			}
		}

		if flagJSON {
			return printJSON(cmd.OutOrStdout(), state)
		}
		printQuota(cmd.OutOrStdout(), state)
		return nil
	},
}

func init() {
	userCreateCmd.Flags().StringVar(&flagEmail, "email", "", "Email address (required)")
	userCreateCmd.Flags().StringVar(&flagName, "name", "", "Display name")
	userCreateCmd.Flags().StringVar(&flagQuota, "quota", "", "Storage quota, e.g. 5GiB or 500MB (default from DEFAULT_QUOTA_BYTES)")
	_ = userCreateCmd.MarkFlagRequired("email")

	userQuotaCmd.Flags().StringVar(&flagSetQuota, "set", "", "New storage quota, e.g. 10GiB")

	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userQuotaCmd)
	rootCmd.AddCommand(userCmd)
}
