package main

import (
	"fmt"

	"github.com/docshare/drive/internal/services"
	"github.com/spf13/cobra"
)

var usageCmd = &cobra.Command{
	Use:   "usage <user-id>",
	Short: "Show storage usage for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserID(args[0])
		if err != nil {
			return err
		}

		state, err := services.NewQuotaLedger(db).QuotaState(cmd.Context(), userID)
		if err != nil {
			return fmt.Errorf("loading usage: %w", err)
		}

		if flagJSON {
			return printJSON(cmd.OutOrStdout(), state)
		}
		printQuota(cmd.OutOrStdout(), state)
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <user-id>",
	Short: "Recompute a user's used storage from their files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserID(args[0])
		if err != nil {
			return err
		}

		result, err := services.NewQuotaLedger(db).Reconcile(cmd.Context(), userID)
		if err != nil {
			return fmt.Errorf("reconciling usage: %w", err)
		}

		if flagJSON {
			return printJSON(cmd.OutOrStdout(), result)
		}
		printReconcile(cmd.OutOrStdout(), result)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(reconcileCmd)
}
